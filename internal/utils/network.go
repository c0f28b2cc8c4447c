package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

var privateRanges = mustParseCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7")

// GetRealIP extracts the client IP address of a request.
//
// Priority order:
// 1. X-Real-IP header when it holds a public address
// 2. First public address in X-Forwarded-For
// 3. First valid address in X-Forwarded-For
// 4. Gin's ClientIP()
func GetRealIP(c *gin.Context) string {
	realIP := strings.TrimSpace(c.Request.Header.Get("X-Real-IP"))
	if ip := net.ParseIP(realIP); ip != nil && !isPrivateIP(ip) && !ip.IsLoopback() {
		return realIP
	}

	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		var firstValid string
		for _, part := range strings.Split(forwarded, ",") {
			candidate := strings.TrimSpace(part)
			ip := net.ParseIP(candidate)
			if ip == nil {
				continue
			}
			if !isPrivateIP(ip) && !ip.IsLoopback() {
				return candidate
			}
			if firstValid == "" {
				firstValid = candidate
			}
		}
		if firstValid != "" {
			return firstValid
		}
	}

	return c.ClientIP()
}

// GetUserAgent extracts the User-Agent header from the request
func GetUserAgent(c *gin.Context) string {
	ua := c.Request.UserAgent()
	if ua == "" {
		return "Unknown"
	}
	return ua
}

func isPrivateIP(ip net.IP) bool {
	for _, subnet := range privateRanges {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		out = append(out, subnet)
	}
	return out
}
