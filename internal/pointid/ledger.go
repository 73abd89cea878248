package pointid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ErrNoChapters is returned when a ledger is requested for zero chapters.
var ErrNoChapters = errors.New("no chapters to build a ledger for")

// LedgerEntry is the starting PointId of one chapter.
type LedgerEntry struct {
	ChapterName  string `json:"chapter_name" yaml:"chapter_name"`
	ChapterIndex int    `json:"chapter_index" yaml:"chapter_index"`
	StartPointID string `json:"start_pointid" yaml:"start_pointid"`
}

// Ledger holds one entry per chapter, in document order. It is read-only
// once built.
type Ledger []LedgerEntry

// LedgerOptions selects where starting ids come from. Mapping wins over
// Seed, and Seed wins over the Book/Chapter/Seq fallback.
type LedgerOptions struct {
	// Mapping holds one validated starting id per chapter.
	Mapping []string
	// Seed is a single starting id auto-incremented per chapter.
	Seed string

	Book    int
	Chapter int
	Seq     int
}

// ParseMapping reads a chapter-mapping file: one 10-digit starting id per
// line, with blank lines and #-comments ignored.
func ParseMapping(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := Validate(line); err != nil {
			return nil, fmt.Errorf("mapping line %d: %w", lineNo, err)
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	return ids, nil
}

// ReadMappingFile opens and parses a chapter-mapping file.
func ReadMappingFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()
	return ParseMapping(f)
}

// BuildLedger computes the starting PointId of every chapter.
//
// With several mapping lines, lines apply to chapters one-to-one and any
// chapters past the last line continue from it. A single mapping line or a
// seed is auto-incremented: the chapter digits grow by the chapter's
// ordinal offset while book and sequence digits are held.
func BuildLedger(chapters []string, opts LedgerOptions, logger *slog.Logger) (Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(chapters) == 0 {
		return nil, ErrNoChapters
	}

	var (
		explicit []string
		seed     string
	)
	switch {
	case len(opts.Mapping) > 1:
		explicit = opts.Mapping
		if len(explicit) > len(chapters) {
			logger.Warn("mapping has more lines than chapters, ignoring extras",
				"lines", len(explicit),
				"chapters", len(chapters),
			)
			explicit = explicit[:len(chapters)]
		}
		seed = explicit[len(explicit)-1]
	case len(opts.Mapping) == 1:
		seed = opts.Mapping[0]
	case opts.Seed != "":
		seed = opts.Seed
	default:
		seed = Format(orOne(opts.Book), orOne(opts.Chapter), orOne(opts.Seq))
	}

	base, err := Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid starting id: %w", err)
	}
	if len(explicit) > 0 && len(explicit) < len(chapters) {
		logger.Warn("mapping has fewer lines than chapters, continuing from last line",
			"lines", len(explicit),
			"chapters", len(chapters),
		)
	}

	ledger := make(Ledger, 0, len(chapters))
	for i, name := range chapters {
		var start string
		if i < len(explicit) {
			start = explicit[i]
			if err := Validate(start); err != nil {
				return nil, fmt.Errorf("mapping entry %d: %w", i+1, err)
			}
		} else {
			offset := i
			if len(explicit) > 0 {
				offset = i - (len(explicit) - 1)
			}
			next := base
			next.Chapter += offset
			if next.Chapter > maxChapter {
				return nil, fmt.Errorf("%w: chapter digits overflow at chapter %d (%q)", ErrInvalidPointID, i+1, name)
			}
			start = next.String()
		}
		ledger = append(ledger, LedgerEntry{
			ChapterName:  name,
			ChapterIndex: i,
			StartPointID: start,
		})
	}
	return ledger, nil
}

// Lookup resolves a chapter name to its ledger entry: exact match first,
// then normalized match, then the first entry. The bool reports whether a
// real match was found.
func (l Ledger) Lookup(chapter string) (LedgerEntry, bool) {
	if len(l) == 0 {
		return LedgerEntry{}, false
	}
	for _, e := range l {
		if e.ChapterName == chapter {
			return e, true
		}
	}
	norm := NormalizeChapter(chapter)
	for _, e := range l {
		if NormalizeChapter(e.ChapterName) == norm {
			return e, true
		}
	}
	return l[0], false
}

func orOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
