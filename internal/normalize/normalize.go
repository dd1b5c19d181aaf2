// Package normalize turns raw contact phone numbers into transport addresses
// and fills message templates.
package normalize

import (
	"strings"
)

const (
	DefaultCountryCode = "1"
	UserServer         = "s.whatsapp.net"
	NamePlaceholder    = "[Name]"
	FallbackName       = "there"
)

// Phone strips every non-digit. A bare 10-digit national number gets the
// default country code prepended; anything else is returned as digits only.
// Non-US national numbers of length 10 are misclassified.
func Phone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		return DefaultCountryCode + digits
	}
	return digits
}

// ChatID returns the session transport channel id for a phone number.
func ChatID(raw string) string {
	return Phone(raw) + "@" + UserServer
}

// Personalize replaces every [Name] placeholder with name as given, or
// "there" when name is blank.
func Personalize(message, name string) string {
	if strings.TrimSpace(name) == "" {
		name = FallbackName
	}
	return strings.ReplaceAll(message, NamePlaceholder, name)
}
