package main

import (
	"fmt"
	"log"

	"github.com/chargeup/payment-engine/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for the payment engine")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, hmacSecret, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Println()
	fmt.Println("Local webhook testing only. In production PAYMOB_HMAC_SECRET must be")
	fmt.Println("the value shown in the gateway dashboard:")
	fmt.Printf("PAYMOB_HMAC_SECRET=%s\n", hmacSecret)
	fmt.Println()
	fmt.Println("IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
