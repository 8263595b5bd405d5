// Package identity validates 13-digit national identity numbers.
//
// Layout: YYMMDD SSSS C A Z, where YYMMDD is the date of birth, C (index 10) is
// the citizenship marker and Z is a Luhn check digit over the whole number.
//
// The century is resolved by pivoting on the current two-digit year: an embedded
// year greater than the current one is read as 19YY, otherwise as 20YY. Two people
// born exactly a century apart therefore map to the same date; callers that need
// to tell them apart must carry the full birth year separately.
package identity

import (
	"errors"
	"time"
)

const idLength = 13

var (
	ErrFormat      = errors.New("identity number must be 13 digits")
	ErrBirthDate   = errors.New("identity number has an invalid or future birth date")
	ErrCitizenship = errors.New("identity number has an invalid citizenship digit")
	ErrChecksum    = errors.New("identity number checksum failed")
)

// Valid reports whether id passes every rule against the current date.
func Valid(id string) bool {
	return Check(id, time.Now()) == nil
}

// ValidAt is Valid with an explicit reference date.
func ValidAt(id string, now time.Time) bool {
	return Check(id, now) == nil
}

// Check applies the rules in order and returns the first one that fails.
func Check(id string, now time.Time) error {
	if !allDigits(id) {
		return ErrFormat
	}
	if _, ok := BirthDate(id, now); !ok {
		return ErrBirthDate
	}
	if c := id[10]; c != '0' && c != '1' {
		return ErrCitizenship
	}
	if !luhn(id) {
		return ErrChecksum
	}
	return nil
}

// BirthDate decodes the embedded date of birth. ok is false when the date does
// not exist on the calendar or lies after now.
func BirthDate(id string, now time.Time) (time.Time, bool) {
	if !allDigits(id) {
		return time.Time{}, false
	}
	yy := twoDigits(id[0:2])
	mm := twoDigits(id[2:4])
	dd := twoDigits(id[4:6])

	year := 2000 + yy
	if yy > now.Year()%100 {
		year = 1900 + yy
	}
	if mm < 1 || mm > 12 || dd < 1 {
		return time.Time{}, false
	}
	date := time.Date(year, time.Month(mm), dd, 0, 0, 0, 0, now.Location())
	// time.Date normalises overflow (Feb 30 -> Mar 2); a changed day means the date does not exist.
	if date.Day() != dd || date.Month() != time.Month(mm) {
		return time.Time{}, false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if date.After(today) {
		return time.Time{}, false
	}
	return date, true
}

func allDigits(id string) bool {
	if len(id) != idLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

func twoDigits(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}

func luhn(id string) bool {
	sum := 0
	double := false
	for i := len(id) - 1; i >= 0; i-- {
		n := int(id[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}
