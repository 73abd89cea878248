// Package prompts loads prompt templates and fills their placeholders from
// chunk context.
//
// Two placeholder syntaxes are recognized:
//   - {NAME} in upper snake case, e.g. {CHAPTER_NAME}
//   - Go template references, e.g. {{.ChapterName}}
//
// Unknown placeholders pass through untouched so a prompt can carry literal
// braces.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jackzampolin/pointgen/internal/chunk"
)

// Variables filled by ChunkVars.
const (
	VarChapterName    = "CHAPTER_NAME"
	VarSubchapterName = "SUBCHAPTER_NAME"
	VarTopicName      = "TOPIC_NAME"
	VarPart           = "PART"
	VarChunkIndex     = "CHUNK_INDEX"
	VarChunkCount     = "CHUNK_COUNT"
)

// ErrEmptyPrompt is returned when a prompt file holds only whitespace.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Prompt is a loaded template plus its fingerprint.
type Prompt struct {
	Path      string   `json:"path,omitempty"`
	Text      string   `json:"text"`
	Hash      string   `json:"hash"`
	Variables []string `json:"variables,omitempty"`
}

// New wraps template text.
func New(text string) (*Prompt, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPrompt
	}
	vars := append(Placeholders(text), ExtractVariables(text)...)
	return &Prompt{Text: text, Hash: HashText(text), Variables: vars}, nil
}

// LoadFile reads a prompt template from disk.
func LoadFile(path string) (*Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt %s: %w", path, err)
	}
	p, err := New(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Path = path
	return p, nil
}

// Render fills the prompt for a chunk.
func (p *Prompt) Render(vars map[string]string) string {
	return Render(p.Text, vars)
}

// ChunkVars builds the placeholder values for one chunk. chapterName
// overrides the chunk's own chapter label when set.
func ChunkVars(c chunk.Chunk, count int, chapterName string) map[string]string {
	if chapterName == "" {
		chapterName = c.Chapter
	}
	return map[string]string{
		VarChapterName:    chapterName,
		VarSubchapterName: c.Subchapter,
		VarTopicName:      c.Topic,
		VarPart:           strconv.Itoa(c.Part),
		VarChunkIndex:     strconv.Itoa(c.Index + 1),
		VarChunkCount:     strconv.Itoa(count),
	}
}
