// Package validation provides the admin-mask matching used by the IRC
// session manager's command gate (§4.7 "Admin gate") and bot-address
// detection (§4.7 "Bot-addressed & private messages"). Adapted from the
// teacher's JID-pattern Validator: same shape (a small stateless type
// holding pattern recognisers), new domain — IRC hostmasks instead of
// WhatsApp JIDs.
package validation

import (
	"strings"
)

// Validator provides validation methods.
type Validator struct{}

// New creates a new validator instance.
func New() *Validator {
	return &Validator{}
}

// MatchesMask reports whether userMask (e.g. "alice!alice@example.com", as
// seen on an IRC message prefix) matches one of the glob-style admin masks
// configured in the global config's admins[] (§4.7).
func (v *Validator) MatchesMask(userMask string, masks []string) bool {
	for _, mask := range masks {
		if globMatch(mask, userMask) {
			return true
		}
	}
	return false
}

// globMatch implements '*' (any run of characters) and '?' (any single
// character) glob matching, case-insensitively, as IRC hostmasks require.
func globMatch(pattern, s string) bool {
	return matchHere(strings.ToLower(pattern), strings.ToLower(s))
}

func matchHere(pattern, s string) bool {
	for {
		if pattern == "" {
			return s == ""
		}
		switch pattern[0] {
		case '*':
			for i := 0; i <= len(s); i++ {
				if matchHere(pattern[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		default:
			if s == "" || pattern[0] != s[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
}

// IsBotAddressed reports whether message's first word addresses nick
// (case-insensitive) followed by ':' or ',', and if so returns the
// remainder of the message with leading whitespace trimmed.
func (v *Validator) IsBotAddressed(message, nick string) (rest string, addressed bool) {
	trimmed := strings.TrimLeft(message, " \t")
	for _, sep := range []string{":", ","} {
		prefix := nick + sep
		if len(trimmed) > len(prefix) && strings.EqualFold(trimmed[:len(prefix)], prefix) {
			return strings.TrimLeft(trimmed[len(prefix):], " \t"), true
		}
	}
	return "", false
}
