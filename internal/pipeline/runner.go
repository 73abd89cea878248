// Package pipeline runs a document through the model one chunk at a time and
// assembles the persisted responses into numbered points.
//
// Execution is strictly sequential: chunk i+1 is not started until chunk i's
// model call has returned and its response is on disk. Cancellation is
// checked only between chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/jackzampolin/pointgen/internal/chunk"
	"github.com/jackzampolin/pointgen/internal/combine"
	"github.com/jackzampolin/pointgen/internal/extract"
	"github.com/jackzampolin/pointgen/internal/flatten"
	"github.com/jackzampolin/pointgen/internal/pointid"
	"github.com/jackzampolin/pointgen/internal/prompts"
	"github.com/jackzampolin/pointgen/internal/providers"
	"github.com/jackzampolin/pointgen/internal/source"
	"github.com/jackzampolin/pointgen/internal/store"
)

// ErrResumeMismatch is returned when a resumed run file does not match the
// chunks produced from the input.
var ErrResumeMismatch = errors.New("run file does not match input chunks")

// OutputSuffix is appended to the input stem for the default output path.
const OutputSuffix = ".points.json"

// Job describes one run.
type Job struct {
	InputPath  string
	OutputPath string
	Prompt     *prompts.Prompt
	Model      string

	Mode  chunk.Mode
	Chunk chunk.Options

	// ChapterName overrides the chapter label for metadata and prompts.
	ChapterName string
	Ledger      pointid.LedgerOptions

	// Resume reopens an in-progress OutputPath and skips recorded chunks.
	Resume bool
}

// RunnerConfig wires a Runner's collaborators.
type RunnerConfig struct {
	Invoker   providers.Invoker
	Logger    *slog.Logger
	Validator *extract.Validator
}

// Runner executes jobs and assembles run files.
type Runner struct {
	invoker   providers.Invoker
	logger    *slog.Logger
	validator *extract.Validator

	partitioner *chunk.Partitioner
	extractor   *extract.Extractor
	combiner    *combine.Combiner
	flattener   *flatten.Flattener

	processed atomic.Int64
	total     atomic.Int64
}

// NewRunner creates a Runner. Invoker may be nil when only Finalize is used.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		invoker:     cfg.Invoker,
		logger:      logger,
		validator:   cfg.Validator,
		partitioner: chunk.New(logger),
		extractor:   extract.New(logger),
		combiner:    combine.New(logger),
		flattener:   flatten.New(logger),
	}
}

// DefaultOutputPath places the run file for input under dir.
func DefaultOutputPath(dir, input string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, stem+OutputSuffix)
}

// Status reports progress of the current run as key-value pairs.
func (r *Runner) Status(ctx context.Context) (map[string]string, error) {
	return map[string]string{
		"processed": strconv.FormatInt(r.processed.Load(), 10),
		"total":     strconv.FormatInt(r.total.Load(), 10),
	}, nil
}

// plan is everything derived from the input before any model call.
type plan struct {
	records []map[string]any
	chunks  []chunk.Chunk
	ledger  pointid.Ledger
	groups  []store.Group
	chapter string
}

// prepare loads the input and computes chunks, ledger and groups without
// calling the model.
func (r *Runner) prepare(job Job) (*plan, error) {
	doc, err := source.Load(job.InputPath, r.logger)
	if err != nil {
		return nil, err
	}

	records := doc.Rows
	if len(records) == 0 {
		records = doc.TopicRecords()
	}

	chunks, err := r.partitioner.Partition(job.Mode, records, job.Chunk)
	if err != nil {
		return nil, err
	}

	fallback := job.ChapterName
	if fallback == "" {
		fallback = strings.TrimSuffix(filepath.Base(job.InputPath), filepath.Ext(job.InputPath))
	}
	chapters := doc.ChapterNames()
	if len(chapters) == 0 {
		chapters = []string{fallback}
	}
	ledger, err := pointid.BuildLedger(chapters, job.Ledger, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build chapter ledger: %w", err)
	}

	chapter := job.ChapterName
	if chapter == "" {
		chapter = ledger[0].ChapterName
	}

	p := &plan{records: records, chunks: chunks, ledger: ledger, chapter: chapter}
	seen := make(map[string]bool)
	for _, c := range chunks {
		key := groupKey(job.Mode, c)
		if seen[key] {
			continue
		}
		seen[key] = true
		groupChapter := c.Chapter
		if groupChapter == "" || groupChapter == chunk.DefaultGroup {
			groupChapter = chapters[0]
		}
		p.groups = append(p.groups, store.Group{
			Key: key,
			CountEntry: pointid.CountEntry{
				Chapter:    groupChapter,
				Subchapter: c.Subchapter,
				TopicCount: c.TopicCount,
			},
		})
	}
	return p, nil
}

func groupKey(mode chunk.Mode, c chunk.Chunk) string {
	if mode == chunk.ModePart {
		return c.Key
	}
	return c.Chapter + "/" + c.Subchapter
}

// Run processes every chunk of job and finalizes the run file.
//
// Missing input and persistence failures abort the run. Model failures and
// empty responses are recorded and the run moves on. When ctx is cancelled
// the run stops before the next chunk and the in-progress file is kept.
func (r *Runner) Run(ctx context.Context, job Job) (*store.File, error) {
	if r.invoker == nil {
		return nil, errors.New("runner has no invoker")
	}
	if job.Prompt == nil {
		return nil, prompts.ErrEmptyPrompt
	}
	if job.Mode == "" {
		job.Mode = chunk.ModeSubchapter
	}

	p, err := r.prepare(job)
	if err != nil {
		return nil, err
	}
	r.total.Store(int64(len(p.chunks)))
	r.processed.Store(0)

	st := store.New(job.OutputPath, r.logger)
	done, err := r.open(st, job, p)
	if err != nil {
		return nil, err
	}
	if done == nil {
		// Already completed on an earlier run.
		return st.Load()
	}

	r.logger.Info("starting run",
		"input", job.InputPath,
		"output", job.OutputPath,
		"mode", job.Mode,
		"chunks", len(p.chunks),
		"resumed", len(done),
		"provider", r.invoker.Name(),
		"model", job.Model)

	for _, c := range p.chunks {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled, leaving file in progress",
				"path", job.OutputPath,
				"processed", r.processed.Load())
			return nil, err
		}
		if key, ok := done[c.Index]; ok {
			if key != c.Key {
				return nil, fmt.Errorf("%w: chunk %d recorded as %q, input has %q", ErrResumeMismatch, c.Index, key, c.Key)
			}
			r.processed.Add(1)
			continue
		}

		resp, err := r.processChunk(ctx, job, p, c)
		if err != nil {
			return nil, err
		}
		if _, err := st.Append(resp); err != nil {
			return nil, fmt.Errorf("failed to persist chunk %d: %w", c.Index, err)
		}
		r.processed.Add(1)
	}

	return st.Finalize(r.Assemble)
}

// open initializes the run file, or reopens it on resume. It returns the
// chunk indexes already recorded; a nil map means the file is completed.
func (r *Runner) open(st *store.Store, job Job, p *plan) (map[int]string, error) {
	if job.Resume && st.Exists() {
		f, err := st.Load()
		if err != nil {
			return nil, err
		}
		if f.Metadata.Status == store.StatusCompleted {
			r.logger.Info("run already completed", "path", st.Path())
			return nil, nil
		}
		done := make(map[int]string, len(f.Responses()))
		for _, resp := range f.Responses() {
			done[resp.ChunkIndex] = resp.ChunkKey
		}
		return done, nil
	}

	start := p.ledger[0].StartPointID
	id, _ := pointid.Parse(start)
	meta := store.Metadata{
		Chapter:       p.chapter,
		BookID:        fmt.Sprintf("%03d", id.Book),
		ChapterID:     fmt.Sprintf("%03d", id.Chapter),
		StartPointID:  start,
		TotalTopics:   len(p.records),
		TotalChunks:   len(p.chunks),
		Model:         job.Model,
		Provider:      r.invoker.Name(),
		SourceFile:    filepath.Base(job.InputPath),
		Mode:          string(job.Mode),
		PromptHash:    job.Prompt.Hash,
		ChapterLedger: p.ledger,
		Groups:        p.groups,
	}
	if _, err := st.Init(meta); err != nil {
		return nil, err
	}
	return map[int]string{}, nil
}

// processChunk performs the one model call for c. Only cancellation of ctx
// during the call is returned as an error.
func (r *Runner) processChunk(ctx context.Context, job Job, p *plan, c chunk.Chunk) (store.RawResponse, error) {
	resp := store.RawResponse{
		ChunkKey:   c.Key,
		ChunkIndex: c.Index,
		Group:      groupKey(job.Mode, c),
		Chapter:    c.Chapter,
		Subchapter: c.Subchapter,
		Topic:      c.Topic,
	}

	text, err := c.Serialize()
	if err != nil {
		r.logger.Warn("skipping chunk that failed to serialize", "chunk", c.Key, "index", c.Index, "error", err)
		resp.Error = err.Error()
		return resp, nil
	}
	prompt := job.Prompt.Render(prompts.ChunkVars(c, len(p.chunks), job.ChapterName))

	callCtx := providers.WithCallContext(ctx, providers.CallContext{
		ChunkKey:   c.Key,
		ChunkIndex: c.Index,
		PromptHash: job.Prompt.Hash,
	})
	out, err := r.invoker.Invoke(callCtx, text, prompt, job.Model)
	if err != nil && ctx.Err() != nil {
		return resp, ctx.Err()
	}

	switch {
	case err != nil:
		r.logger.Warn("model call failed", "chunk", c.Key, "index", c.Index, "error", err)
		resp.Error = err.Error()
	case strings.TrimSpace(out) == "":
		r.logger.Warn("model returned no text", "chunk", c.Key, "index", c.Index)
		resp.Error = providers.ErrEmptyResponse.Error()
	default:
		resp.Text = out
		r.logger.Info("chunk processed",
			"chunk", c.Key,
			"index", c.Index+1,
			"of", len(p.chunks),
			"bytes", len(out))
	}
	return resp, nil
}

// Finalize assembles an in-progress run file at path. A completed file is
// returned unchanged.
func (r *Runner) Finalize(ctx context.Context, path string) (*store.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return store.New(path, r.logger).Finalize(r.Assemble)
}
