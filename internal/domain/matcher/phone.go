package matcher

import "strings"

// DigitsOnly strips everything but ASCII digits from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneVariants returns the spellings a phone number may take in a bank
// narration: as given, local "0" prefix swapped for the country code, the
// country code swapped for "0", and the last nine digits. Duplicates are
// dropped, order is preserved.
func PhoneVariants(phone, countryCode string) []string {
	digits := DigitsOnly(phone)
	if digits == "" {
		return nil
	}

	variants := []string{digits}
	if strings.HasPrefix(digits, "0") {
		variants = append(variants, countryCode+digits[1:])
	}
	if countryCode != "" && strings.HasPrefix(digits, countryCode) {
		variants = append(variants, "0"+digits[len(countryCode):])
	}
	if len(digits) > 9 {
		variants = append(variants, digits[len(digits)-9:])
	}

	seen := make(map[string]bool, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// NormalizePhone returns the international form (country code, no "+")
// used when searching the student directory.
func NormalizePhone(phone, countryCode string) string {
	digits := DigitsOnly(phone)
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, countryCode):
		return digits
	case strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:]
	default:
		return countryCode + digits
	}
}
