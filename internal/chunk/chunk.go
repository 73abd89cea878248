// Package chunk partitions input records into the ordered units sent to the
// model one request at a time.
package chunk

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Mode selects how records are grouped into chunks.
type Mode string

const (
	// ModePart groups records by their integer Part key, ascending.
	ModePart Mode = "part"
	// ModeSubchapter emits one chunk per topic, grouped by subchapter.
	ModeSubchapter Mode = "subchapter"
	// ModeSubchapterBatch emits one chunk per subchapter holding all its topics.
	ModeSubchapterBatch Mode = "subchapter-batch"
)

// Record field names the partitioner reads.
const (
	KeyPart       = "Part"
	KeyChapter    = "chapter"
	KeySubchapter = "subchapter"
	KeyTopic      = "topic"
)

// DefaultGroup labels records that lack a chapter or subchapter.
const DefaultGroup = "default"

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePart, ModeSubchapter, ModeSubchapterBatch:
		return m, nil
	case "":
		return ModeSubchapter, nil
	default:
		return "", fmt.Errorf("unknown chunk mode %q (want part, subchapter or subchapter-batch)", s)
	}
}

// Chunk is one unit of input sent to the model in a single call.
type Chunk struct {
	Key        string `json:"key"`
	Index      int    `json:"index"`
	Part       int    `json:"part,omitempty"`
	Chapter    string `json:"chapter,omitempty"`
	Subchapter string `json:"subchapter,omitempty"`
	// Topic is the focal topic in subchapter mode.
	Topic string `json:"topic,omitempty"`
	// TopicCount is the number of topics in the chunk's group.
	TopicCount int              `json:"topic_count"`
	Records    []map[string]any `json:"records"`
}

// Serialize renders the chunk's records as the text sent to the model.
func (c Chunk) Serialize() (string, error) {
	data, err := json.MarshalIndent(c.Records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize chunk %s: %w", c.Key, err)
	}
	return string(data), nil
}

// Options tunes partitioning.
type Options struct {
	// SiblingContext attaches the whole subchapter topic list to each
	// per-topic chunk instead of only the focal topic.
	SiblingContext bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{SiblingContext: true}
}

// Partitioner splits record sets into chunks.
type Partitioner struct {
	logger *slog.Logger
}

// New creates a Partitioner. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Partitioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Partitioner{logger: logger}
}

// Partition dispatches on mode.
func (p *Partitioner) Partition(mode Mode, records []map[string]any, opts Options) ([]Chunk, error) {
	switch mode {
	case ModePart:
		return p.ByPart(records), nil
	case ModeSubchapter:
		return p.BySubchapter(records, opts), nil
	case ModeSubchapterBatch:
		return p.BySubchapterBatch(records), nil
	default:
		return nil, fmt.Errorf("unknown chunk mode %q", mode)
	}
}

// ByPart groups records by Part, emitting groups in ascending key order.
// Missing or non-integer keys fall into part 0. Records without a Part key
// get their group's key back-filled on a copy.
func (p *Partitioner) ByPart(records []map[string]any) []Chunk {
	groups := make(map[int][]map[string]any)
	invalid := 0
	for _, rec := range records {
		raw, present := rec[KeyPart]
		part, ok := parsePart(raw)
		if present && !ok {
			invalid++
		}
		if !present {
			rec = withField(rec, KeyPart, part)
		}
		groups[part] = append(groups[part], rec)
	}
	if invalid > 0 {
		p.logger.Warn("records with invalid Part key grouped into part 0", "count", invalid)
	}

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	chunks := make([]Chunk, 0, len(keys))
	for i, k := range keys {
		recs := groups[k]
		chunks = append(chunks, Chunk{
			Key:        fmt.Sprintf("part-%d", k),
			Index:      i,
			Part:       k,
			Chapter:    stringField(recs[0], KeyChapter),
			Subchapter: stringField(recs[0], KeySubchapter),
			TopicCount: len(recs),
			Records:    recs,
		})
	}
	return chunks
}

type group struct {
	chapter    string
	subchapter string
	records    []map[string]any
}

// groupBySubchapter buckets records by (chapter, subchapter) in first-seen
// order. Missing labels become DefaultGroup.
func (p *Partitioner) groupBySubchapter(records []map[string]any) []*group {
	var (
		order     []*group
		index     = make(map[[2]string]*group)
		unlabeled int
	)
	for _, rec := range records {
		chapter := stringField(rec, KeyChapter)
		subchapter := stringField(rec, KeySubchapter)
		if chapter == "" || subchapter == "" {
			unlabeled++
			if chapter == "" {
				chapter = DefaultGroup
			}
			if subchapter == "" {
				subchapter = DefaultGroup
			}
		}
		key := [2]string{chapter, subchapter}
		g, ok := index[key]
		if !ok {
			g = &group{chapter: chapter, subchapter: subchapter}
			index[key] = g
			order = append(order, g)
		}
		g.records = append(g.records, rec)
	}
	if unlabeled > 0 {
		p.logger.Warn("records missing chapter or subchapter placed in default group", "count", unlabeled)
	}
	return order
}

// BySubchapter emits one chunk per topic. With SiblingContext each chunk
// carries the entire subchapter topic list.
func (p *Partitioner) BySubchapter(records []map[string]any, opts Options) []Chunk {
	var chunks []Chunk
	for _, g := range p.groupBySubchapter(records) {
		for i, rec := range g.records {
			recs := g.records
			if !opts.SiblingContext {
				recs = g.records[i : i+1]
			}
			chunks = append(chunks, Chunk{
				Key:        g.subchapter,
				Index:      len(chunks),
				Chapter:    g.chapter,
				Subchapter: g.subchapter,
				Topic:      stringField(rec, KeyTopic),
				TopicCount: len(g.records),
				Records:    recs,
			})
		}
	}
	return chunks
}

// BySubchapterBatch emits one chunk per subchapter.
func (p *Partitioner) BySubchapterBatch(records []map[string]any) []Chunk {
	groups := p.groupBySubchapter(records)
	chunks := make([]Chunk, 0, len(groups))
	for i, g := range groups {
		chunks = append(chunks, Chunk{
			Key:        g.subchapter,
			Index:      i,
			Chapter:    g.chapter,
			Subchapter: g.subchapter,
			TopicCount: len(g.records),
			Records:    g.records,
		})
	}
	return chunks
}

// parsePart reads an integer Part key. Whole floats and numeric strings are
// accepted; anything else reports false and maps to 0.
func parsePart(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return int(f), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func stringField(rec map[string]any, key string) string {
	switch v := rec[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

func withField(rec map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	out[key] = value
	return out
}
