// Package source loads the upstream hierarchical document that a run turns
// into points.
package source

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrEmptyDocument is returned when the input holds no topics or rows.
var ErrEmptyDocument = errors.New("input document is empty")

//go:embed document.schema.json
var documentSchemaJSON string

var documentSchema = jsonschema.MustCompileString("document.schema.json", documentSchemaJSON)

// figureTypes are extraction types dropped before chunking.
var figureTypes = map[string]bool{
	"figure":   true,
	"e-figure": true,
}

// rowKeys are the keys a flat row file may keep its records under.
var rowKeys = []string{"data", "points", "rows"}

// Document is the upstream input: either a chapter hierarchy or a flat row
// set, never both.
type Document struct {
	Chapters []Chapter
	Rows     []map[string]any

	// FiguresRemoved counts records dropped by figure filtering.
	FiguresRemoved int
}

// Chapter is one chapter of the hierarchy.
type Chapter struct {
	Name        string
	Subchapters []Subchapter
}

// Subchapter groups topics.
type Subchapter struct {
	Name   string
	Topics []Topic
}

// Topic carries the extraction records the model works from. Fields holds
// any other keys the upstream stage attached to the topic.
type Topic struct {
	Name        string
	Extractions []map[string]any
	Fields      map[string]any
}

// Load reads and parses the document at path.
func Load(path string, logger *slog.Logger) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input %s: %w", path, err)
	}
	doc, err := Parse(data, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse validates and decodes a document, then drops figure records.
func Parse(data []byte, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid input json: %w", err)
	}
	if err := documentSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("input does not match document schema: %w", err)
	}

	// Re-decode with json.Number so numeric ids survive the round trip.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid input json: %w", err)
	}

	doc := &Document{}
	switch v := raw.(type) {
	case []any:
		doc.Rows = normalizeRows(v)
	case map[string]any:
		if rows, ok := rowList(v); ok {
			doc.Rows = normalizeRows(rows)
		} else if chapters, ok := v["chapters"].([]any); ok {
			for _, c := range chapters {
				if m, ok := c.(map[string]any); ok {
					doc.Chapters = append(doc.Chapters, doc.parseChapter(m))
				}
			}
		} else {
			doc.Chapters = []Chapter{doc.parseChapter(v)}
		}
	}

	doc.filterRows()
	if doc.FiguresRemoved > 0 {
		logger.Info("filtered figure records", "removed", doc.FiguresRemoved)
	}
	if doc.TopicCount() == 0 && len(doc.Rows) == 0 {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

func rowList(m map[string]any) ([]any, bool) {
	for _, key := range rowKeys {
		if rows, ok := m[key].([]any); ok {
			return rows, true
		}
	}
	return nil, false
}

// normalizeRows wraps non-object rows as {"value": row}.
func normalizeRows(rows []any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
			continue
		}
		out = append(out, map[string]any{"value": r})
	}
	return out
}

func (d *Document) parseChapter(m map[string]any) Chapter {
	ch := Chapter{Name: label(m, "chapter")}
	subs, _ := m["subchapters"].([]any)
	for _, s := range subs {
		sm, ok := s.(map[string]any)
		if !ok {
			continue
		}
		sub := Subchapter{Name: label(sm, "subchapter")}
		topics, _ := sm["topics"].([]any)
		for _, t := range topics {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			sub.Topics = append(sub.Topics, d.parseTopic(tm))
		}
		ch.Subchapters = append(ch.Subchapters, sub)
	}
	return ch
}

func (d *Document) parseTopic(m map[string]any) Topic {
	topic := Topic{Name: label(m, "topic"), Fields: map[string]any{}}
	for k, v := range m {
		switch k {
		case "topic", "name", "extractions":
		default:
			topic.Fields[k] = v
		}
	}
	items, _ := m["extractions"].([]any)
	for _, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			rec = map[string]any{"value": item}
		}
		if isFigure(rec) {
			d.FiguresRemoved++
			continue
		}
		topic.Extractions = append(topic.Extractions, rec)
	}
	return topic
}

func (d *Document) filterRows() {
	kept := d.Rows[:0]
	for _, r := range d.Rows {
		if isFigure(r) {
			d.FiguresRemoved++
			continue
		}
		kept = append(kept, r)
	}
	d.Rows = kept
}

func isFigure(rec map[string]any) bool {
	t, _ := rec["type"].(string)
	return figureTypes[strings.ToLower(strings.TrimSpace(t))]
}

// label returns m[key], falling back to m["name"].
func label(m map[string]any, key string) string {
	for _, k := range []string{key, "name"} {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// TopicCount returns the number of topics across all chapters.
func (d *Document) TopicCount() int {
	n := 0
	for _, ch := range d.Chapters {
		for _, sub := range ch.Subchapters {
			n += len(sub.Topics)
		}
	}
	return n
}

// ChapterNames returns distinct chapter names in document order. Row sets
// contribute the distinct values of their "chapter" field.
func (d *Document) ChapterNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, ch := range d.Chapters {
		add(ch.Name)
	}
	for _, r := range d.Rows {
		if s, ok := r["chapter"].(string); ok {
			add(strings.TrimSpace(s))
		}
	}
	return names
}

// TopicRecords flattens the hierarchy into one record per topic, labeled
// with its chapter and subchapter. These records feed the partitioner.
func (d *Document) TopicRecords() []map[string]any {
	var out []map[string]any
	for _, ch := range d.Chapters {
		for _, sub := range ch.Subchapters {
			for _, t := range sub.Topics {
				rec := make(map[string]any, len(t.Fields)+4)
				for k, v := range t.Fields {
					rec[k] = v
				}
				extractions := make([]any, len(t.Extractions))
				for i, e := range t.Extractions {
					extractions[i] = e
				}
				rec["chapter"] = ch.Name
				rec["subchapter"] = sub.Name
				rec["topic"] = t.Name
				rec["extractions"] = extractions
				out = append(out, rec)
			}
		}
	}
	return out
}
