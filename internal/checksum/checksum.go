// Package checksum computes and compares SHA-512 digests of artifact payloads.
//
// Artifact repositories publish a sibling "<artifact>.sha512" file next to every
// artifact. The file holds the lowercase hex digest, optionally followed by
// whitespace and the artifact file name. ParseReference accepts both forms.
package checksum

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// Extension is the suffix of the published reference digest file.
const Extension = ".sha512"

// HexLen is the length of a hex-encoded SHA-512 digest.
const HexLen = sha512.Size * 2

// ErrMalformed is returned when a reference digest is not valid SHA-512 hex.
var ErrMalformed = errors.New("malformed sha512 reference digest")

// Sum returns the lowercase hex SHA-512 digest of data.
func Sum(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// SumReader returns the lowercase hex SHA-512 digest of everything read from r.
func SumReader(r io.Reader) (string, error) {
	h := sha512.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseReference extracts the digest from the text of a published .sha512 file.
// The first whitespace-separated field is used and normalized to lowercase.
func ParseReference(text string) (string, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ErrMalformed
	}
	ref := strings.ToLower(fields[0])
	if len(ref) != HexLen {
		return "", ErrMalformed
	}
	if _, err := hex.DecodeString(ref); err != nil {
		return "", ErrMalformed
	}
	return ref, nil
}

// Verify reports whether data matches the reference digest text.
// A malformed reference never matches.
func Verify(data []byte, reference string) bool {
	return Equal(Sum(data), reference)
}

// Equal reports whether the computed hex digest matches the reference digest text.
func Equal(actual, reference string) bool {
	ref, err := ParseReference(reference)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(actual)), []byte(ref)) == 1
}
