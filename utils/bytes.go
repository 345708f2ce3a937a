// Package utils holds small helpers shared by the wire codec and tooling.
package utils

// AppendFixedString appends s to dst as exactly n bytes: truncated if
// longer, zero-padded if shorter. Fixed-width fields such as identity
// tokens are written this way.
//
// Parameters:
//   - dst: The slice to append to
//   - s: The field value
//   - n: The field width
//
// Returns:
//   - dst extended by n bytes
func AppendFixedString(dst []byte, s string, n int) []byte {
	if len(s) > n {
		s = s[:n]
	}

	dst = append(dst, s...)
	for i := len(s); i < n; i++ {
		dst = append(dst, 0)
	}

	return dst
}

// FixedString returns s as a new n-byte field. See AppendFixedString.
func FixedString(s string, n int) []byte {
	return AppendFixedString(make([]byte, 0, n), s, n)
}
