// Package cid canonicalises VATSIM controller identifiers.
//
// Design Notes:
//   - A CID is a decimal digit string, 3-10 characters, with no leading
//     zeros in canonical form.
//   - Canonicalisation strips any non-digit characters before validating
//     length, so callers can pass "1234567", 1234567, or " 1234567 " and
//     get the same result.
//   - Leading zeros are stripped by round-tripping through strconv, which
//     also rejects pure-zero or overflowing inputs cheaply.
package cid

import (
	"fmt"
	"strconv"
	"strings"
)

// MinLength and MaxLength bound a canonical CID's digit count.
const (
	MinLength = 3
	MaxLength = 10
)

// ErrInvalid is returned when the input cannot be canonicalised into a CID.
var ErrInvalid = fmt.Errorf("invalid CID format")

// Canonicalize strips non-digit characters from raw and returns the
// canonical decimal form (no leading zeros). It returns ErrInvalid if the
// result is not 3-10 digits.
func Canonicalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < MinLength || len(digits) > MaxLength {
		return "", ErrInvalid
	}

	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return "", ErrInvalid
	}
	canon := strconv.FormatUint(n, 10)
	if len(canon) < MinLength {
		// All-zero or too-short after leading-zero strip, e.g. "007".
		return "", ErrInvalid
	}
	return canon, nil
}

// IsCanonical reports whether s is already in canonical form, i.e.
// Canonicalize(s) would return s unchanged and no error.
func IsCanonical(s string) bool {
	canon, err := Canonicalize(s)
	return err == nil && canon == s
}
