package ble

import "strings"

// LoggableAddress masks all but the last two octets of a MAC address, or all
// but the last four characters of any other identifier.
func LoggableAddress(address string) string {
	if address == "" {
		return "?"
	}
	parts := strings.Split(address, ":")
	if len(parts) == 6 {
		for i := 0; i < 4; i++ {
			parts[i] = "XX"
		}
		return strings.Join(parts, ":")
	}
	if len(address) <= 4 {
		return address
	}
	return "..." + address[len(address)-4:]
}
