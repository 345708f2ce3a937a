package utils

import "math/rand/v2"

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateRandomString returns length random alphanumeric characters. The
// result never contains the '@' delimiter, so it is safe as a display name.
// It is not suitable for secrets.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumeric[rand.IntN(len(alphanumeric))]
	}

	return string(b)
}
