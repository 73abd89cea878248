package pointid

import (
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jackzampolin/pointgen/internal/flatten"
)

// ErrEmptyLedger is returned by Assign when there is no ledger to seed from.
var ErrEmptyLedger = errors.New("chapter ledger is empty")

// CountEntry records how many flattened points one subchapter produced.
// Entries are listed in the same order the points were flattened.
type CountEntry struct {
	Subchapter string `json:"subchapter"`
	Chapter    string `json:"chapter"`
	TopicCount int    `json:"topic_count"`
	PointCount int    `json:"point_count"`
}

// Result is the outcome of an assignment pass.
type Result struct {
	Points []flatten.Point
	// Unmatched counts points assigned after the count entries ran out.
	Unmatched int
	// Missing counts points the entries expected but the list lacked.
	Missing int
}

// Assigner walks a flat point list in count-sized windows and stamps
// PointIds and chapter labels onto each point.
type Assigner struct {
	ledger Ledger
	logger *slog.Logger
}

// NewAssigner creates an Assigner. A nil logger uses slog.Default().
func NewAssigner(ledger Ledger, logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{ledger: ledger, logger: logger}
}

// Assign is a convenience wrapper around NewAssigner(ledger, nil).Assign.
func Assign(points []flatten.Point, counts []CountEntry, ledger Ledger) (Result, error) {
	return NewAssigner(ledger, nil).Assign(points, counts)
}

type chapterState struct {
	entry   LedgerEntry
	counter int64
}

// Assign returns copies of points with PointId, chapter and subchapter set.
// The input slice is not modified.
//
// The running counter resets to a chapter's starting id whenever the
// normalized chapter changes between consecutive entries. Re-entering a
// chapter seen earlier resumes its counter so ids stay unique. Chapter
// labels come from the ledger, never from the points. When the counts and
// the point list disagree, leftover points keep the last chapter and
// counter.
func (a *Assigner) Assign(points []flatten.Point, counts []CountEntry) (Result, error) {
	if len(a.ledger) == 0 {
		return Result{}, ErrEmptyLedger
	}

	out := make([]flatten.Point, len(points))
	resume := make(map[int]int64)
	warned := make(map[string]bool)

	var (
		cur      chapterState
		prevNorm string
		started  bool
		cursor   int
		missing  int
	)
	enter := func(e LedgerEntry) {
		if started {
			resume[cur.entry.ChapterIndex] = cur.counter
		}
		if next, ok := resume[e.ChapterIndex]; ok {
			a.logger.Warn("chapter re-entered, continuing its id sequence",
				"chapter", e.ChapterName,
				"next_pointid", FormatCounter(next),
			)
			cur = chapterState{entry: e, counter: next}
			return
		}
		start, err := Counter(e.StartPointID)
		if err != nil {
			// Ledger entries are validated at build time.
			a.logger.Error("invalid ledger start id", "chapter", e.ChapterName, "error", err)
		}
		cur = chapterState{entry: e, counter: start}
	}

	stamp := func(p flatten.Point, subchapter string) flatten.Point {
		q := p.Clone()
		q[flatten.KeyPointID] = FormatCounter(cur.counter)
		q[flatten.KeyChapter] = cur.entry.ChapterName
		if subchapter != "" && !q.Has(flatten.KeySubchapter) {
			q[flatten.KeySubchapter] = subchapter
		}
		if overflowed(cur.entry.StartPointID, cur.counter) && !warned[cur.entry.ChapterName] {
			warned[cur.entry.ChapterName] = true
			a.logger.Warn("sequence digits overflowed into chapter digits",
				"chapter", cur.entry.ChapterName,
				"pointid", q[flatten.KeyPointID],
			)
		}
		cur.counter++
		return q
	}

	for _, c := range counts {
		entry, matched := a.ledger.Lookup(c.Chapter)
		if !matched && !warned["lookup:"+c.Chapter] {
			warned["lookup:"+c.Chapter] = true
			a.logger.Warn("chapter not in ledger, using first entry",
				"chapter", c.Chapter,
				"fallback", entry.ChapterName,
			)
		}

		normalized := NormalizeChapter(c.Chapter)
		if !started || normalized != prevNorm {
			enter(entry)
			started = true
			prevNorm = normalized
		}

		for i := 0; i < c.PointCount; i++ {
			if cursor >= len(points) {
				missing += c.PointCount - i
				break
			}
			out[cursor] = stamp(points[cursor], c.Subchapter)
			cursor++
		}
	}

	unmatched := len(points) - cursor
	if unmatched > 0 || missing > 0 {
		a.logger.Warn("point count mismatch between ledger and flattened points",
			"points", len(points),
			"consumed", cursor,
			"unassigned", unmatched,
			"missing", missing,
		)
	}
	if unmatched > 0 {
		if !started {
			enter(a.ledger[0])
		}
		for ; cursor < len(points); cursor++ {
			out[cursor] = stamp(points[cursor], "")
		}
	}

	return Result{Points: out, Unmatched: unmatched, Missing: missing}, nil
}

// Windows slices points into one window per count entry. Points beyond
// the counted total are returned as rest; a short list yields short
// trailing windows.
func Windows(points []flatten.Point, counts []CountEntry) (windows [][]flatten.Point, rest []flatten.Point) {
	cursor := 0
	windows = make([][]flatten.Point, len(counts))
	for i, c := range counts {
		end := min(cursor+max(c.PointCount, 0), len(points))
		windows[i] = points[cursor:end]
		cursor = end
	}
	return windows, points[cursor:]
}

// NormalizeChapter folds case, applies NFKC and collapses whitespace so
// that chapter names from different sources compare equal.
func NormalizeChapter(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// overflowed reports whether counter has left the chapter digits of start.
func overflowed(start string, counter int64) bool {
	base, err := Counter(start)
	if err != nil {
		return false
	}
	return counter/(maxSeq+1) != base/(maxSeq+1)
}
