// Package store persists a run's output file incrementally.
//
// A run moves through INITIALIZED, one APPEND per chunk, then FINALIZED.
// Every step reads the whole file back, mutates it and rewrites it, so a
// crash after chunk k leaves exactly k raw responses on disk. Rewrites go
// through a temp file and a rename and never leave a torn file behind.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/pointgen/internal/flatten"
	"github.com/jackzampolin/pointgen/internal/pointid"
)

// Status of a run file.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var (
	// ErrCompleted is returned when appending to a finalized file.
	ErrCompleted = errors.New("run file is already completed")
	// ErrNotInProgress is returned when a file has neither known status.
	ErrNotInProgress = errors.New("run file is not in progress")
)

// Metadata describes the run.
//
// TopicsProcessed counts chunks with a stored response and reaches
// TotalChunks on completion. TotalTopics is the number of input records
// (topics, or rows in part mode) before chunking, so it differs from
// TopicsProcessed whenever a chunk carries more than one record.
type Metadata struct {
	Chapter         string     `json:"chapter"`
	BookID          string     `json:"book_id"`
	ChapterID       string     `json:"chapter_id"`
	StartPointID    string     `json:"start_pointid"`
	TotalPoints     int        `json:"total_points"`
	TopicsProcessed int        `json:"topics_processed"`
	TotalTopics     int        `json:"total_topics"`
	TotalChunks     int        `json:"total_chunks"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`

	Model      string `json:"model"`
	Provider   string `json:"provider"`
	SourceFile string `json:"source_file"`
	RunID      string `json:"run_id"`
	Mode       string `json:"mode"`
	PromptHash string `json:"prompt_hash,omitempty"`

	ChapterLedger pointid.Ledger `json:"chapter_ledger,omitempty"`
	// Groups lists each chunk group's topic count in first-seen order.
	// Point counts are filled at finalize.
	Groups []Group `json:"groups,omitempty"`
}

// Group is one chunk group (a subchapter, or a part) and its counts.
type Group struct {
	Key string `json:"key"`
	pointid.CountEntry
}

// RawResponse is one model reply exactly as received.
type RawResponse struct {
	ID         string    `json:"id"`
	ChunkKey   string    `json:"chunk_key"`
	ChunkIndex int       `json:"chunk_index"`
	Group      string    `json:"group"`
	Chapter    string    `json:"chapter,omitempty"`
	Subchapter string    `json:"subchapter,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Text       string    `json:"text"`
	Size       int       `json:"size"`
	ReceivedAt time.Time `json:"received_at"`
	Error      string    `json:"error,omitempty"`
}

// File is the on-disk run document. RawResponses is present only while the
// run is in progress.
type File struct {
	Metadata     Metadata        `json:"metadata"`
	Points       []flatten.Point `json:"points"`
	RawResponses *[]RawResponse  `json:"raw_responses,omitempty"`
}

// Responses returns the raw responses, or nil once finalized.
func (f *File) Responses() []RawResponse {
	if f.RawResponses == nil {
		return nil
	}
	return *f.RawResponses
}

// AssembleFunc builds the final points from an in-progress file.
type AssembleFunc func(*File) ([]flatten.Point, error)

// Store reads and rewrites one run file.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store for path. A nil logger uses slog.Default().
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger, now: time.Now}
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the run file is on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Init writes a fresh in-progress file with empty points and responses.
func (s *Store) Init(meta Metadata) (*File, error) {
	now := s.now().UTC()
	if meta.RunID == "" {
		meta.RunID = uuid.New().String()
	}
	meta.Status = StatusInProgress
	meta.TopicsProcessed = 0
	meta.TotalPoints = 0
	meta.StartedAt = now
	meta.UpdatedAt = now
	meta.CompletedAt = nil

	responses := []RawResponse{}
	f := &File{Metadata: meta, Points: []flatten.Point{}, RawResponses: &responses}
	if err := s.write(f); err != nil {
		return nil, err
	}
	s.logger.Info("initialized run file", "path", s.path, "run_id", meta.RunID)
	return f, nil
}

// Load reads the file.
func (s *Store) Load() (*File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file %s: %w", s.path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse run file %s: %w", s.path, err)
	}
	if f.Points == nil {
		f.Points = []flatten.Point{}
	}
	return &f, nil
}

// Append records one response and bumps the processed count.
func (s *Store) Append(resp RawResponse) (*File, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	switch f.Metadata.Status {
	case StatusCompleted:
		return nil, ErrCompleted
	case StatusInProgress:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrNotInProgress, f.Metadata.Status)
	}

	now := s.now().UTC()
	if resp.ID == "" {
		resp.ID = uuid.New().String()
	}
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = now
	}
	resp.Size = len(resp.Text)

	responses := append(f.Responses(), resp)
	f.RawResponses = &responses
	f.Metadata.TopicsProcessed++
	f.Metadata.UpdatedAt = now

	if err := s.write(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Finalize runs assemble over the accumulated responses, stores the points,
// drops the raw responses and marks the file completed. A completed file is
// returned unchanged. If assemble or the rewrite fails the in-progress file
// is left as it was.
func (s *Store) Finalize(assemble AssembleFunc) (*File, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	switch f.Metadata.Status {
	case StatusCompleted:
		s.logger.Info("run file already completed", "path", s.path)
		return f, nil
	case StatusInProgress:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrNotInProgress, f.Metadata.Status)
	}

	points, err := assemble(f)
	if err != nil {
		return nil, fmt.Errorf("assembly failed, run file kept in progress: %w", err)
	}
	if points == nil {
		points = []flatten.Point{}
	}

	now := s.now().UTC()
	f.Points = points
	f.RawResponses = nil
	f.Metadata.TotalPoints = len(points)
	f.Metadata.Status = StatusCompleted
	f.Metadata.UpdatedAt = now
	f.Metadata.CompletedAt = &now

	if err := s.write(f); err != nil {
		return nil, fmt.Errorf("failed to write finalized run file: %w", err)
	}
	s.logger.Info("finalized run file", "path", s.path, "points", len(points))
	return f, nil
}

// write replaces the file atomically.
func (s *Store) write(f *File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run file: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to set run file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write run file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close run file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace run file: %w", err)
	}
	return nil
}
