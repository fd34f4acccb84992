package utils

import "strings"

const hexd = "0123456789ABCDEF"

// Hex4 formats a uint16 as a 4-character hexadecimal string (e.g., "0499")
func Hex4(v uint16) string {
	return string([]byte{
		hexd[(v>>12)&0xF],
		hexd[(v>>8)&0xF],
		hexd[(v>>4)&0xF],
		hexd[v&0xF],
	})
}

// BytesToHex converts a byte slice to a hexadecimal string
func BytesToHex(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, x := range b {
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	return string(out)
}

// NormalizeMAC drops separators and lower-cases a device address so that
// "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" and "aabbccddeeff" compare equal.
func NormalizeMAC(addr string) string {
	var b strings.Builder
	b.Grow(len(addr))
	for _, r := range addr {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}
