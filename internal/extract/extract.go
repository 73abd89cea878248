// Package extract recovers JSON values embedded in free-form model responses.
//
// Model output is untyped text: it may wrap JSON in markdown fences, surround
// it with commentary, split it across several blocks, or truncate it. All of
// that tolerance lives here so that downstream stages only ever see parsed
// objects and arrays.
package extract

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

// previewLen bounds how much of a failed candidate is echoed into logs.
const previewLen = 120

var (
	errNotContainer = errors.New("json value is not an object or array")
	errTrailingData = errors.New("trailing data after json value")

	paragraphSplit = regexp.MustCompile(`\n[ \t\r]*\n`)
)

// Extractor scans model responses for JSON fragments.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract is a convenience wrapper around New(nil).Extract.
func Extract(text string) []any {
	return New(nil).Extract(text)
}

// Extract returns every JSON object or array recovered from text, in the
// order found. It never fails: text without usable JSON yields an empty
// result.
//
// Strategies run in order and the first one that produces candidates wins:
// fenced code blocks (```json or bare ```), then the whole text, then
// blank-line separated paragraphs.
func (e *Extractor) Extract(text string) []any {
	text = strings.TrimSpace(decodeStringResponse(strings.TrimSpace(text)))
	if text == "" {
		return nil
	}

	if blocks := fencedBlocks(text); len(blocks) > 0 {
		return e.parseAll(blocks)
	}

	if v, ok := parseWhole(text); ok {
		return []any{v}
	}

	var paragraphs []string
	for _, p := range paragraphSplit.Split(text, -1) {
		if openingIndex(p) >= 0 {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		e.logger.Debug("no json-like content in response", "length", len(text))
		return nil
	}

	// A single paragraph is the whole text; skip straight to recovery.
	values := e.parseAll(paragraphs)
	if len(values) == 0 && len(paragraphs) > 1 {
		if v, ok := recoverCandidate(text); ok {
			return []any{v}
		}
	}
	return values
}

func (e *Extractor) parseAll(candidates []string) []any {
	var values []any
	for i, c := range candidates {
		v, ok := recoverCandidate(c)
		if !ok {
			e.logger.Warn("dropping unparseable json candidate",
				"candidate", i,
				"length", len(c),
				"preview", preview(c),
			)
			continue
		}
		values = append(values, v)
	}
	return values
}

// parseWhole decodes the text from its first opening bracket to its last
// closing bracket of any kind. Several values separated by prose fail here
// and fall through to the paragraph strategy.
func parseWhole(text string) (any, bool) {
	start := openingIndex(text)
	end := strings.LastIndexAny(text, "}]")
	if start < 0 || end <= start || !pairs(text[start], text[end]) {
		return nil, false
	}
	v, err := parseValue(text[start : end+1])
	if err != nil {
		return nil, false
	}
	return v, true
}

// decodeStringResponse unwraps a response that is itself a JSON-encoded
// string, e.g. "\"```json\\n{...}\\n```\"".
func decodeStringResponse(text string) string {
	if len(text) < 2 || text[0] != '"' || text[len(text)-1] != '"' {
		return text
	}
	var s string
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return text
	}
	return s
}

// fencedBlocks returns the interiors of all ```json and bare ``` blocks.
// A block without a closing fence runs to the end of the text. Blocks
// tagged with another language are skipped.
func fencedBlocks(text string) []string {
	const fence = "```"
	var blocks []string
	rest := text
	for {
		i := strings.Index(rest, fence)
		if i < 0 {
			break
		}
		after := rest[i+len(fence):]

		tag, body := "", after
		if nl := strings.IndexByte(after, '\n'); nl >= 0 {
			header := strings.TrimSpace(after[:nl])
			if header != "" && openingIndex(header) != 0 {
				tag = header
				body = after[nl+1:]
			}
		}

		end := closingFence(body)
		if end < 0 {
			rest = ""
		} else {
			rest = body[end+len(fence):]
			body = body[:end]
		}

		if tag == "" || strings.EqualFold(tag, "json") {
			if strings.TrimSpace(body) != "" {
				blocks = append(blocks, body)
			}
		}
		if rest == "" {
			break
		}
	}
	return blocks
}

// closingFence returns the index of the first ``` in body that is not inside
// a JSON string literal. If quotes never balance it falls back to the first
// ``` anywhere.
func closingFence(body string) int {
	const fence = "```"
	inString, escaped := false, false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && strings.HasPrefix(body[i:], fence):
			return i
		}
	}
	if inString {
		return strings.Index(body, fence)
	}
	return -1
}

// parseValue strictly decodes s as a single JSON object or array.
// Numbers are kept as json.Number so identifiers survive rewrites.
func parseValue(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, errNotContainer
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > previewLen {
		n := previewLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		return s[:n] + "..."
	}
	return s
}
