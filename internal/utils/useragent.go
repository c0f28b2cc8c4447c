package utils

import (
	"fmt"
	"strings"

	ua "github.com/mssola/user_agent"
)

// DeviceInfo holds parsed information from a User-Agent string
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, desktop, unknown
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	IsBot      bool   `json:"is_bot"`
}

// ParseUserAgent parses a User-Agent string and extracts device information
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return DeviceInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	name, version := parser.Browser()

	info := DeviceInfo{
		DeviceType: "desktop",
		OS:         strings.TrimSpace(parser.OS()),
		Browser:    strings.TrimSpace(name + " " + version),
		IsBot:      parser.Bot(),
	}
	if parser.Mobile() {
		info.DeviceType = "mobile"
	}
	if info.OS == "" {
		info.OS = "Unknown"
	}
	if info.Browser == "" {
		info.Browser = "Unknown"
	}
	return info
}

// String renders a compact summary for audit rows
func (d DeviceInfo) String() string {
	s := fmt.Sprintf("%s; %s; %s", d.DeviceType, d.OS, d.Browser)
	if d.IsBot {
		s += "; bot"
	}
	return s
}
