// Package namespace maps between an expert's local variable names and the
// aggregate model's global names. Global state keys take the form
// "<expert id><separator><local name>". Collisions after concatenation are
// a caller invariant; the separator must not appear inside expert IDs.
package namespace

import "strings"

// Separator joins an expert ID to a local key in a global key.
const Separator = "."

// #region join-local

// Join composes the global key for an expert's local key.
func Join(id, local string) string {
	return id + Separator + local
}

// Local strips the expert prefix from a global key. The second return is
// false when the key does not belong to the given expert.
func Local(id, global string) (string, bool) {
	return strings.CutPrefix(global, id+Separator)
}

// ValidID reports whether id can be used as an expert identifier.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, Separator)
}

// #endregion join-local
