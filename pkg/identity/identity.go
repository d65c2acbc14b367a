// Package identity validates national identity numbers of the form
// YYMMDD-XXXX and decodes the birth date they embed.
package identity

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

// Validation failure kinds. All are recoverable input errors.
var (
	ErrFormat   = errors.New("identity number must match YYMMDD-XXXX")
	ErrChecksum = errors.New("identity number checksum is invalid")
	ErrDate     = errors.New("identity number encodes an invalid date")
)

var pattern = regexp.MustCompile(`^\d{6}-\d{4}$`)

// Validate checks format, Luhn checksum and embedded date of raw,
// returning the decoded birth date. The century of the two-digit year is
// resolved against the current clock; use ValidateAt for a fixed clock.
func Validate(raw string) (time.Time, error) {
	return ValidateAt(raw, time.Now())
}

// ValidateAt is Validate with an explicit reference time. The two-digit
// year expands to the 1900s when it is >= now's year mod 100, otherwise
// to the 2000s.
func ValidateAt(raw string, now time.Time) (time.Time, error) {
	if !pattern.MatchString(raw) {
		return time.Time{}, ErrFormat
	}

	digits := make([]int, 0, 10)
	for _, r := range raw {
		if r == '-' {
			continue
		}
		digits = append(digits, int(r-'0'))
	}

	if !luhnValid(digits) {
		return time.Time{}, ErrChecksum
	}

	yy, _ := strconv.Atoi(raw[0:2])
	mm, _ := strconv.Atoi(raw[2:4])
	dd, _ := strconv.Atoi(raw[4:6])

	if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return time.Time{}, ErrDate
	}

	century := 2000
	if yy >= now.Year()%100 {
		century = 1900
	}

	return time.Date(century+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC), nil
}

// luhnValid applies the Luhn algorithm over all ten digits: digits at
// even zero-based positions are doubled (minus nine when the double
// exceeds nine) and the total, check digit included, must divide by ten.
func luhnValid(digits []int) bool {
	sum := 0
	for i, d := range digits {
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// AgeAt returns the whole years elapsed between birth and at.
func AgeAt(birth, at time.Time) int {
	years := at.Year() - birth.Year()
	anniversary := birth.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	return years
}

// IsMinorAt reports whether the holder is under 18 at the given time.
// Deliberately not part of Validate; callers opt in where an age policy
// applies.
func IsMinorAt(birth, at time.Time) bool {
	return AgeAt(birth, at) < 18
}
