// Package combine merges the JSON fragments recovered from a run's model
// responses into one canonical document.
package combine

import (
	"fmt"
	"log/slog"
)

// Envelope keys shared by fragments that belong to one chapter payload.
const (
	KeyChapter = "chapter"
	KeyContent = "content"
)

// Fragment is one parsed JSON value, classified by shape.
type Fragment interface {
	fragment()
}

// EnvelopeFragment is an object carrying both "chapter" and "content", with
// content null, a list or an object.
type EnvelopeFragment struct {
	Chapter any
	Content any
}

// OpaqueFragment is any other object or array.
type OpaqueFragment struct {
	Value any
}

func (EnvelopeFragment) fragment() {}
func (OpaqueFragment) fragment()   {}

// Classify tags a decoded JSON value.
func Classify(v any) Fragment {
	if m, ok := v.(map[string]any); ok {
		chapter, hasChapter := m[KeyChapter]
		content, hasContent := m[KeyContent]
		if hasChapter && hasContent {
			switch content.(type) {
			case nil, []any, map[string]any:
				return EnvelopeFragment{Chapter: chapter, Content: content}
			}
		}
	}
	return OpaqueFragment{Value: v}
}

// Document is the merged result of a list of fragments. Content keeps
// fragment order; nothing is reordered or deduplicated.
type Document struct {
	Chapter    any
	HasChapter bool
	Content    []any
}

// Value renders the canonical JSON value: {chapter, content} when any
// envelope was seen, otherwise the content list, or its only item when
// there is exactly one.
func (d *Document) Value() any {
	if d == nil {
		return nil
	}
	if d.HasChapter {
		content := d.Content
		if content == nil {
			content = []any{}
		}
		return map[string]any{
			KeyChapter: d.Chapter,
			KeyContent: content,
		}
	}
	if len(d.Content) == 1 {
		return d.Content[0]
	}
	return d.Content
}

// Combiner merges fragments and logs reconciliation anomalies.
type Combiner struct {
	logger *slog.Logger
}

// New creates a Combiner. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Combiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Combiner{logger: logger}
}

// Combine is a convenience wrapper around New(nil).Combine.
func Combine(fragments []any) *Document {
	return New(nil).Combine(fragments)
}

// Combine merges fragments in order. It returns nil only for an empty list.
//
// Envelope content arrays are concatenated and the first chapter seen is
// kept; a later, different chapter is logged and ignored. Other fragments
// are appended to the same running list as single items.
func (c *Combiner) Combine(fragments []any) *Document {
	if len(fragments) == 0 {
		return nil
	}

	doc := &Document{Content: make([]any, 0, len(fragments))}
	for i, raw := range fragments {
		switch f := Classify(raw).(type) {
		case EnvelopeFragment:
			if !doc.HasChapter {
				doc.Chapter = f.Chapter
				doc.HasChapter = true
			} else if label(f.Chapter) != label(doc.Chapter) {
				c.logger.Warn("fragment chapter differs from first seen, keeping first",
					"fragment", i,
					"kept", label(doc.Chapter),
					"ignored", label(f.Chapter),
				)
			}
			doc.Content = appendContent(doc.Content, f.Content)
		case OpaqueFragment:
			doc.Content = append(doc.Content, f.Value)
		}
	}
	return doc
}

func appendContent(dst []any, content any) []any {
	switch v := content.(type) {
	case nil:
		return dst
	case []any:
		return append(dst, v...)
	default:
		return append(dst, v)
	}
}

func label(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
