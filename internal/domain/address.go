package domain

import "strings"

const whatsappPrefix = "whatsapp:"

// NormalizeChannelAddress strips the transport prefix from a sender address,
// e.g. "whatsapp:+14155552671" -> "+14155552671".
func NormalizeChannelAddress(raw string) string {
	addr := strings.TrimSpace(raw)
	if len(addr) >= len(whatsappPrefix) && strings.EqualFold(addr[:len(whatsappPrefix)], whatsappPrefix) {
		addr = addr[len(whatsappPrefix):]
	}
	return strings.TrimSpace(addr)
}

// TruncateText keeps the first max runes of s.
func TruncateText(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
