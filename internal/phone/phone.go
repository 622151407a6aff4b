// Package phone normalizes caller and business phone numbers into a
// consistent +E.164-style form so numbers from Twilio parameters, agent
// profiles, and call records compare equal.
package phone

import "strings"

// Normalize strips everything but digits and prefixes a country code:
// 11 digits starting with 1 become +<digits>, 10 digits become +1<digits>,
// anything else keeps its digits behind a plain +. Inputs with no digits
// normalize to the empty string.
func Normalize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	default:
		return "+" + digits
	}
}
