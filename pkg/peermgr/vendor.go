package peermgr

import "strings"

// NormalizeVendor reduces a raw vendor-message string to the family prefix
// used for anti-monopoly and reserved-slot accounting: everything up to
// (but not including) the first '/', space, or digit, case-folded.
func NormalizeVendor(raw string) string {
	cut := len(raw)
	for i, r := range raw {
		if r == '/' || r == ' ' || (r >= '0' && r <= '9') {
			cut = i
			break
		}
	}
	return strings.ToLower(strings.TrimSpace(raw[:cut]))
}
