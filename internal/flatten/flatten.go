// Package flatten walks chapter → subchapter → topic → extraction trees and
// emits one point per leaf extraction, in document order.
package flatten

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// Well-known point fields.
const (
	KeyPointID     = "PointId"
	KeyChapter     = "chapter"
	KeySubchapter  = "subchapter"
	KeyTopic       = "topic"
	KeySubtopic    = "subtopic"
	KeySubsubtopic = "subsubtopic"
	KeyText        = "text"
	KeyPoints      = "points"
)

// Point is one flat output record: the model's payload fields plus
// provenance labels and, once assigned, a PointId.
type Point map[string]any

// String returns the field as a string, or "" when absent or not a string.
func (p Point) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

// Has reports whether key holds a non-empty value.
func (p Point) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Clone returns a shallow copy.
func (p Point) Clone() Point {
	out := make(Point, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Hierarchy levels, outermost first.
const (
	levelChapter = iota
	levelSubchapter
	levelTopic
	levelSubtopic
	levelSubsubtopic
	levelCount
)

var levelFields = [levelCount]string{KeyChapter, KeySubchapter, KeyTopic, KeySubtopic, KeySubsubtopic}

// labelKeys lists every accepted label key with its level, in precedence
// order. Persian keys and level_N keys come from upstream stages that emit
// them directly.
var labelKeys = []struct {
	key   string
	level int
}{
	{"chapter", levelChapter},
	{"level_1", levelChapter},
	{"فصل", levelChapter},
	{"subchapter", levelSubchapter},
	{"level_2", levelSubchapter},
	{"زیرفصل", levelSubchapter},
	{"topic", levelTopic},
	{"level_3", levelTopic},
	{"مبحث", levelTopic},
	{"subtopic", levelSubtopic},
	{"level_4", levelSubtopic},
	{"عنوان", levelSubtopic},
	{"subsubtopic", levelSubsubtopic},
	{"level_5", levelSubsubtopic},
	{"زیرعنوان", levelSubsubtopic},
}

// Containers are walked in this order. Leaf lists hold extractions.
var (
	containerKeys = []string{"chapters", "subchapters", "topics", "content", "children"}
	leafListKeys  = []string{"extractions", KeyPoints}
)

var labelPrefix = regexp.MustCompile(`^(?:زیرفصل|فصل|مبحث|زیرعنوان|عنوان)\s*[0-9۰-۹]*\s*[:：]\s*`)

type labels [levelCount]string

// Flattener converts hierarchical documents into points.
type Flattener struct {
	logger *slog.Logger
}

// New creates a Flattener. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Flattener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flattener{logger: logger}
}

// Flatten is a convenience wrapper around New(nil).Flatten.
func Flatten(doc any) []Point {
	return New(nil).Flatten(doc)
}

// Count returns the number of points Flatten would produce for doc.
func Count(doc any) int {
	return len(New(nil).Flatten(doc))
}

// Flatten returns one point per leaf extraction in doc.
//
// A map whose container or leaf-list keys hold nested lists or objects is a
// branch; any other map is itself a leaf. Labels collected on the way down
// are back-filled into points that lack them.
func (f *Flattener) Flatten(doc any) []Point {
	var out []Point
	f.walk(doc, labels{}, &out)
	return out
}

func (f *Flattener) walk(node any, lb labels, out *[]Point) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			f.walk(item, lb, out)
		}
	case map[string]any:
		f.walkMap(v, lb, out)
	case nil:
	default:
		f.logger.Debug("skipping scalar outside an extraction list", "value", v)
	}
}

func (f *Flattener) walkMap(m map[string]any, lb labels, out *[]Point) {
	if !isBranch(m) {
		f.leaf(m, lb.merge(m), "", out)
		return
	}
	lb = lb.merge(m)

	for _, key := range containerKeys {
		switch child := m[key].(type) {
		case []any, map[string]any:
			f.walk(child, lb, out)
		}
	}
	for _, key := range leafListKeys {
		if items, ok := m[key].([]any); ok {
			for _, item := range items {
				f.leaf(item, lb, key, out)
			}
		}
	}
}

// isBranch reports whether m nests further records. Container keys count
// only with a list or object value and leaf-list keys only with a list, so
// a point record with a scalar "content" or "points" field stays a leaf.
func isBranch(m map[string]any) bool {
	for _, key := range containerKeys {
		switch m[key].(type) {
		case []any, map[string]any:
			return true
		}
	}
	for _, key := range leafListKeys {
		if _, ok := m[key].([]any); ok {
			return true
		}
	}
	return false
}

func (f *Flattener) leaf(item any, lb labels, listKey string, out *[]Point) {
	var p Point
	switch v := item.(type) {
	case nil:
		return
	case map[string]any:
		p = Point(v).Clone()
	case []any:
		for _, nested := range v {
			f.leaf(nested, lb, listKey, out)
		}
		return
	case string:
		text := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(v), "•"))
		if text == "" {
			return
		}
		key := KeyText
		if listKey == KeyPoints {
			key = KeyPoints
		}
		p = Point{key: text}
	default:
		p = Point{KeyText: v}
	}

	for level, field := range levelFields {
		if lb[level] != "" && !p.Has(field) {
			p[field] = lb[level]
		}
	}
	*out = append(*out, p)
}

// merge applies the labels found in m. Setting a level clears every deeper
// level that m does not set itself.
func (lb labels) merge(m map[string]any) labels {
	var found labels
	top := levelCount
	for _, lk := range labelKeys {
		if found[lk.level] != "" {
			continue
		}
		if s := labelString(m[lk.key]); s != "" {
			found[lk.level] = s
			top = min(top, lk.level)
		}
	}
	for level := top; level < levelCount; level++ {
		lb[level] = found[level]
	}
	return lb
}

func labelString(v any) string {
	switch s := v.(type) {
	case string:
		return cleanLabel(s)
	case json.Number:
		return s.String()
	}
	return ""
}

// cleanLabel trims bullets and a leading Persian level prefix such as
// "مبحث ۲:".
func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "•·▪-* \t")
	s = labelPrefix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
