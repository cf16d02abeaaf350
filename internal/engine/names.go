package engine

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/pairsync/pairsync/internal/abook"
)

// normalizeName folds a name for comparison: NFC so composed and
// decomposed accents compare equal, case folded, inner whitespace
// collapsed. The two services disagree on all three.
func normalizeName(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// normEq compares two name parts under normalization. Two empty parts
// are equal; matching relies on the unnamed-contact filter upstream.
func normEq(a, b string) bool {
	return normalizeName(a) == normalizeName(b)
}

// displayName returns the contact's display name, composing one from the
// name parts when the service left it empty.
func displayName(c *abook.Contact) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	parts := []string{c.Prefix, c.GivenName, c.MiddleName, c.FamilyName, c.Suffix}
	joined := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			joined = append(joined, p)
		}
	}
	if len(joined) == 0 {
		return c.Nickname
	}
	return strings.Join(joined, " ")
}

// crmNames derives the CRM first and last name from an address book
// contact, folding honorific prefix and suffix in. The CRM requires a
// first name, so a contact without one gets its display name as first
// name and no last name.
func crmNames(c *abook.Contact) (first, last string) {
	first = strings.TrimSpace(strings.TrimSpace(c.Prefix + " " + c.GivenName))
	last = strings.TrimSpace(strings.TrimSpace(c.FamilyName + " " + c.Suffix))
	if first == "" {
		return displayName(c), ""
	}
	return first, last
}

// crmMiddleName recovers the CRM's hidden middle name. The CRM accepts a
// middle name on upload but never returns it, so it has to be cut out of
// the complete name: everything between the first name and the last name,
// minus the parenthesized nickname the CRM appends.
func crmMiddleName(first, last, nickname, complete string) string {
	full := []rune(complete)
	nickLen := 0
	if nickname != "" {
		// Nicknames render as ` (nick)`.
		nickLen = len([]rune(nickname)) + 3
	}
	lo := len([]rune(first))
	hi := len(full) - (len([]rune(last)) + nickLen)
	if lo > len(full) {
		lo = len(full)
	}
	if hi > len(full) {
		hi = len(full)
	}
	if hi < lo {
		return ""
	}
	return strings.TrimSpace(string(full[lo:hi]))
}
