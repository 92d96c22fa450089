// Package identity canonicalizes chat participant identifiers. Raw
// identities arrive in several shapes depending on which message field
// they were read from (sender, remote conversation, device-qualified
// session id); all of them encode the same routing number as a leading
// digit run. Canonical form is that digit run alone.
package identity

// Normalize returns the canonical form of a raw identity: its leading
// digit run, with the domain suffix and any device/session qualifier
// discarded. An identity with no leading digits normalizes to the
// empty string.
func Normalize(raw string) string {
	end := 0
	for end < len(raw) {
		c := raw[end]
		if c < '0' || c > '9' {
			break
		}
		end++
	}
	return raw[:end]
}

// Equal reports whether two raw identities refer to the same
// participant. Equality is defined over canonical forms; an identity
// that normalizes to the empty string never equals a non-empty one.
func Equal(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}
