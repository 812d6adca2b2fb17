package validation_test

import (
	"testing"

	"github.com/kgbnotify/kgb/internal/validation"
)

// TestMatchesMaskGlobPatterns verifies '*' and '?' glob matching against an
// IRC hostmask, case-insensitively (§4.7 "Admin gate").
func TestMatchesMaskGlobPatterns(t *testing.T) {
	v := validation.New()
	masks := []string{"alice!*@example.com", "b?b!*@*"}

	cases := []struct {
		userMask string
		want     bool
	}{
		{"alice!alice@example.com", true},
		{"ALICE!alice@EXAMPLE.COM", true},
		{"mallory!mallory@example.com", false},
		{"bob!bob@anywhere.net", true},
		{"bib!bib@anywhere.net", true},
		{"bb!bb@anywhere.net", false},
	}
	for _, c := range cases {
		if got := v.MatchesMask(c.userMask, masks); got != c.want {
			t.Errorf("MatchesMask(%q) = %v, want %v", c.userMask, got, c.want)
		}
	}
}

// TestMatchesMaskEmptyMaskListNeverMatches verifies no admin masks means no one is an admin.
func TestMatchesMaskEmptyMaskListNeverMatches(t *testing.T) {
	v := validation.New()
	if v.MatchesMask("alice!alice@example.com", nil) {
		t.Error("expected no match against an empty mask list")
	}
}

// TestIsBotAddressedColonAndComma verifies both "nick:" and "nick," forms
// are recognised, and the remainder is trimmed.
func TestIsBotAddressedColonAndComma(t *testing.T) {
	v := validation.New()

	rest, addressed := v.IsBotAddressed("KGB: status", "KGB")
	if !addressed || rest != "status" {
		t.Errorf("got rest=%q addressed=%v", rest, addressed)
	}

	rest, addressed = v.IsBotAddressed("kgb, status", "KGB")
	if !addressed || rest != "status" {
		t.Errorf("expected case-insensitive comma form to match, got rest=%q addressed=%v", rest, addressed)
	}
}

// TestIsBotAddressedUnaddressedMessage verifies a message not addressing the
// bot is reported as not addressed.
func TestIsBotAddressedUnaddressedMessage(t *testing.T) {
	v := validation.New()
	if _, addressed := v.IsBotAddressed("hello everyone", "KGB"); addressed {
		t.Error("expected an unaddressed message to not match")
	}
}
