// Package pointid assigns stable 10-digit identifiers to flattened points.
//
// A PointId is three book digits, three chapter digits and four sequence
// digits: BBBCCCSSSS. Each chapter's run of ids starts at the chapter's
// entry in a precomputed Chapter Ledger.
package pointid

import (
	"errors"
	"fmt"
	"strconv"
)

// Length is the number of digits in a PointId.
const Length = 10

const (
	maxChapter = 999
	maxSeq     = 9999
)

// ErrInvalidPointID reports a PointId that is not exactly 10 ASCII digits.
var ErrInvalidPointID = errors.New("invalid point id")

// ID is a decoded PointId.
type ID struct {
	Book    int `json:"book"`
	Chapter int `json:"chapter"`
	Seq     int `json:"seq"`
}

// String formats the id as BBBCCCSSSS.
func (id ID) String() string {
	return Format(id.Book, id.Chapter, id.Seq)
}

// Format renders book, chapter and seq as a PointId.
func Format(book, chapter, seq int) string {
	return fmt.Sprintf("%03d%03d%04d", book, chapter, seq)
}

// FormatCounter renders a running counter as a zero-padded PointId.
func FormatCounter(n int64) string {
	return fmt.Sprintf("%0*d", Length, n)
}

// Validate checks that s is exactly 10 ASCII digits.
func Validate(s string) error {
	if len(s) != Length {
		return fmt.Errorf("%w: %q must be %d digits", ErrInvalidPointID, s, Length)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return fmt.Errorf("%w: %q contains a non-digit", ErrInvalidPointID, s)
		}
	}
	return nil
}

// Parse splits a PointId into its book, chapter and sequence fields.
func Parse(s string) (ID, error) {
	if err := Validate(s); err != nil {
		return ID{}, err
	}
	book, _ := strconv.Atoi(s[0:3])
	chapter, _ := strconv.Atoi(s[3:6])
	seq, _ := strconv.Atoi(s[6:10])
	return ID{Book: book, Chapter: chapter, Seq: seq}, nil
}

// Counter returns the id as an integer suitable for incrementing.
func Counter(s string) (int64, error) {
	if err := Validate(s); err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}
