package identity

import "strings"

// looksLikeEmail reports whether the identifier is syntactically an email:
// exactly one "@" with a dotted domain. Full RFC validation is not the
// point; this only gates whether the email resolution step runs at all.
func looksLikeEmail(identifier string) bool {
	at := strings.Index(identifier, "@")
	if at <= 0 || at != strings.LastIndex(identifier, "@") {
		return false
	}
	domain := identifier[at+1:]
	dot := strings.Index(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

// looksLikePhone reports whether the identifier, once separators are
// stripped, is a plausible subscriber number: digits with an optional
// leading "+" and 7 to 15 digits (E.164 upper bound).
func looksLikePhone(identifier string) bool {
	digits := stripPhoneSeparators(identifier)
	digits = strings.TrimPrefix(digits, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PhoneVariants expands a phone identifier into the normalized forms it may
// be stored under: verbatim, separator-stripped, with and without a leading
// "+", and with the default country prefix applied or removed. Messaging
// channels report numbers without the "+" and often without the country
// code, while profile forms store either.
func PhoneVariants(identifier, defaultCountryCode string) []string {
	digits := stripPhoneSeparators(identifier)
	bare := strings.TrimPrefix(digits, "+")

	variants := []string{identifier, digits, bare, "+" + bare}
	if defaultCountryCode != "" {
		if strings.HasPrefix(bare, defaultCountryCode) {
			national := bare[len(defaultCountryCode):]
			variants = append(variants, national)
		} else {
			variants = append(variants, defaultCountryCode+bare, "+"+defaultCountryCode+bare)
		}
	}

	return dedupe(variants)
}

func stripPhoneSeparators(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '-', '(', ')', '.':
		default:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
