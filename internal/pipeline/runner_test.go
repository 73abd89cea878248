package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/pointgen/internal/chunk"
	"github.com/jackzampolin/pointgen/internal/pointid"
	"github.com/jackzampolin/pointgen/internal/prompts"
	"github.com/jackzampolin/pointgen/internal/providers"
	"github.com/jackzampolin/pointgen/internal/source"
	"github.com/jackzampolin/pointgen/internal/store"
)

const twoTopicDoc = `{"chapters": [{"chapter": "A", "subchapters": [{"subchapter": "S", "topics": [
  {"topic": "t1", "extractions": [{"text": "x"}, {"type": "figure"}]},
  {"topic": "t2", "extractions": [{"text": "y"}]}
]}]}]}`

const fencedOnePoint = "Here you go:\n```json\n{\"chapter\": \"A\", \"content\": [{\"text\": \"p1\"}]}\n```"

func writeInput(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "chapter.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func newJob(t *testing.T, body string) Job {
	t.Helper()
	dir := t.TempDir()
	prompt, err := prompts.New("Extract points for {CHAPTER_NAME}")
	if err != nil {
		t.Fatalf("prompts.New: %v", err)
	}
	input := writeInput(t, dir, body)
	return Job{
		InputPath:  input,
		OutputPath: DefaultOutputPath(filepath.Join(dir, "runs"), input),
		Prompt:     prompt,
		Model:      "test-model",
		Mode:       chunk.ModeSubchapter,
		Chunk:      chunk.DefaultOptions(),
	}
}

func TestRun_EndToEnd(t *testing.T) {
	job := newJob(t, twoTopicDoc)
	mock := providers.NewMockInvoker(fencedOnePoint, "sorry, nothing parseable here")
	runner := NewRunner(RunnerConfig{Invoker: mock})

	f, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(f.Points) != 1 {
		t.Fatalf("expected exactly 1 point, got %d: %v", len(f.Points), f.Points)
	}
	if f.Metadata.TopicsProcessed != 2 {
		t.Errorf("topics_processed = %d, want 2", f.Metadata.TopicsProcessed)
	}
	if f.Metadata.Status != store.StatusCompleted || f.RawResponses != nil {
		t.Errorf("expected completed file without raw responses, got %s", f.Metadata.Status)
	}

	p := f.Points[0]
	if p.String("PointId") != "0010010001" || p.String("chapter") != "A" || p.String("subchapter") != "S" || p.String("text") != "p1" {
		t.Errorf("unexpected point: %v", p)
	}

	if len(f.Metadata.Groups) != 1 || f.Metadata.Groups[0].TopicCount != 2 || f.Metadata.Groups[0].PointCount != 1 {
		t.Errorf("unexpected groups: %+v", f.Metadata.Groups)
	}
	if f.Metadata.StartPointID != "0010010001" || f.Metadata.BookID != "001" || f.Metadata.ChapterID != "001" {
		t.Errorf("unexpected id metadata: %+v", f.Metadata)
	}
	if f.Metadata.SourceFile != "chapter.json" || f.Metadata.Provider != providers.MockName || f.Metadata.Model != "test-model" {
		t.Errorf("unexpected run metadata: %+v", f.Metadata)
	}

	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(calls))
	}
	if calls[0].Prompt != "Extract points for A" {
		t.Errorf("unexpected rendered prompt: %q", calls[0].Prompt)
	}
	if !strings.Contains(calls[0].Chunk, "t1") || !strings.Contains(calls[0].Chunk, "t2") {
		t.Errorf("expected sibling topics in chunk: %s", calls[0].Chunk)
	}
	if strings.Contains(calls[0].Chunk, "figure") {
		t.Errorf("expected figures filtered from chunk: %s", calls[0].Chunk)
	}

	if status, _ := runner.Status(context.Background()); status["processed"] != "2" || status["total"] != "2" {
		t.Errorf("unexpected status: %v", status)
	}
}

func TestRun_FinalizeIdempotent(t *testing.T) {
	job := newJob(t, twoTopicDoc)
	runner := NewRunner(RunnerConfig{Invoker: providers.NewMockInvoker(fencedOnePoint, "")})

	if _, err := runner.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	before, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	f, err := runner.Finalize(context.Background(), job.OutputPath)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	after, _ := os.ReadFile(job.OutputPath)
	if string(before) != string(after) {
		t.Error("expected finalize on completed file to be a no-op")
	}
	if len(f.Points) != 1 || f.RawResponses != nil {
		t.Errorf("unexpected file after finalize: points=%d raw=%v", len(f.Points), f.RawResponses)
	}
}

func TestRun_ModelFailuresAreSurvivable(t *testing.T) {
	job := newJob(t, twoTopicDoc)
	mock := &providers.MockInvoker{
		Errors:    []error{errors.New("upstream exploded")},
		Responses: []string{"", fencedOnePoint},
	}

	f, err := NewRunner(RunnerConfig{Invoker: mock}).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.Points) != 1 || f.Metadata.TopicsProcessed != 2 {
		t.Errorf("expected 1 point from the second chunk, got %d points, %d processed", len(f.Points), f.Metadata.TopicsProcessed)
	}
}

type cancelAfterCall struct {
	*providers.MockInvoker
	cancel context.CancelFunc
}

func (c cancelAfterCall) Invoke(ctx context.Context, chunk, prompt, model string) (string, error) {
	out, err := c.MockInvoker.Invoke(ctx, chunk, prompt, model)
	c.cancel()
	return out, err
}

func TestRun_CancelThenResume(t *testing.T) {
	job := newJob(t, twoTopicDoc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := cancelAfterCall{MockInvoker: providers.NewMockInvoker(fencedOnePoint), cancel: cancel}

	_, err := NewRunner(RunnerConfig{Invoker: first}).Run(ctx, job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	st := store.New(job.OutputPath, nil)
	partial, err := st.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if partial.Metadata.Status != store.StatusInProgress || len(partial.Responses()) != 1 {
		t.Fatalf("expected in-progress file with 1 response, got %s with %d", partial.Metadata.Status, len(partial.Responses()))
	}

	second := providers.NewMockInvoker("no json")
	job.Resume = true
	f, err := NewRunner(RunnerConfig{Invoker: second}).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if second.RequestCount() != 1 {
		t.Errorf("expected only the remaining chunk invoked, got %d calls", second.RequestCount())
	}
	if f.Metadata.TopicsProcessed != 2 || len(f.Points) != 1 {
		t.Errorf("unexpected resumed result: processed=%d points=%d", f.Metadata.TopicsProcessed, len(f.Points))
	}

	t.Run("resume completed file", func(t *testing.T) {
		third := providers.NewMockInvoker()
		f, err := NewRunner(RunnerConfig{Invoker: third}).Run(context.Background(), job)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if third.RequestCount() != 0 || len(f.Points) != 1 {
			t.Errorf("expected no calls on completed file, got %d", third.RequestCount())
		}
	})
}

func TestRun_FinalizePartialFile(t *testing.T) {
	job := newJob(t, twoTopicDoc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inv := cancelAfterCall{MockInvoker: providers.NewMockInvoker(fencedOnePoint), cancel: cancel}

	if _, err := NewRunner(RunnerConfig{Invoker: inv}).Run(ctx, job); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	f, err := NewRunner(RunnerConfig{}).Finalize(context.Background(), job.OutputPath)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(f.Points) != 1 || f.Metadata.TopicsProcessed != 1 {
		t.Errorf("unexpected finalized partial file: points=%d processed=%d", len(f.Points), f.Metadata.TopicsProcessed)
	}
}

func TestRun_PartMode(t *testing.T) {
	job := newJob(t, `{"rows": [
		{"Part": 2, "chapter": "A", "text": "b"},
		{"Part": 1, "chapter": "A", "text": "a"}
	]}`)
	job.Mode = chunk.ModePart
	mock := providers.NewMockInvoker(
		`[{"text": "pa"}]`,
		"```json\n[{\"text\": \"pb1\"}, {\"text\": \"pb2\"}]\n```",
	)

	f, err := NewRunner(RunnerConfig{Invoker: mock}).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(f.Points))
	}
	want := []string{"0010010001", "0010010002", "0010010003"}
	for i, p := range f.Points {
		if p.String("PointId") != want[i] || p.String("chapter") != "A" {
			t.Errorf("point %d = %v", i, p)
		}
	}
	if got := f.Points[0].String("text"); got != "pa" {
		t.Errorf("expected part 1 first, got %q", got)
	}
	if !strings.Contains(mock.Calls()[0].Chunk, `"a"`) {
		t.Errorf("expected part 1 chunk first: %s", mock.Calls()[0].Chunk)
	}
}

func TestRun_MissingInputIsFatal(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		job := newJob(t, twoTopicDoc)
		job.InputPath = filepath.Join(t.TempDir(), "nope.json")
		mock := providers.NewMockInvoker()

		_, err := NewRunner(RunnerConfig{Invoker: mock}).Run(context.Background(), job)
		if !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("expected fs.ErrNotExist, got %v", err)
		}
		if mock.RequestCount() != 0 {
			t.Error("expected no model calls")
		}
		if _, err := os.Stat(job.OutputPath); !errors.Is(err, fs.ErrNotExist) {
			t.Error("expected no output file")
		}
	})

	t.Run("empty hierarchy", func(t *testing.T) {
		job := newJob(t, `{"chapters": []}`)
		mock := providers.NewMockInvoker()

		_, err := NewRunner(RunnerConfig{Invoker: mock}).Run(context.Background(), job)
		if !errors.Is(err, source.ErrEmptyDocument) {
			t.Fatalf("expected ErrEmptyDocument, got %v", err)
		}
		if mock.RequestCount() != 0 {
			t.Error("expected no model calls")
		}
	})
}

func TestRun_PersistenceFailureAborts(t *testing.T) {
	job := newJob(t, twoTopicDoc)
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	job.OutputPath = filepath.Join(blocker, "out.json")
	mock := providers.NewMockInvoker(fencedOnePoint)

	if _, err := NewRunner(RunnerConfig{Invoker: mock}).Run(context.Background(), job); err == nil {
		t.Fatal("expected persistence error")
	}
	if mock.RequestCount() != 0 {
		t.Errorf("expected no model calls before the file exists, got %d", mock.RequestCount())
	}
}

func TestRun_ResumeMismatch(t *testing.T) {
	job := newJob(t, twoTopicDoc)
	st := store.New(job.OutputPath, nil)
	if _, err := st.Init(store.Metadata{}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := st.Append(store.RawResponse{ChunkKey: "other", ChunkIndex: 0}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	job.Resume = true
	_, err := NewRunner(RunnerConfig{Invoker: providers.NewMockInvoker()}).Run(context.Background(), job)
	if !errors.Is(err, ErrResumeMismatch) {
		t.Fatalf("expected ErrResumeMismatch, got %v", err)
	}
}

func TestDefaultOutputPath(t *testing.T) {
	got := DefaultOutputPath("/runs", "/data/Chapter 3.json")
	if got != filepath.Join("/runs", "Chapter 3.points.json") {
		t.Errorf("DefaultOutputPath() = %q", got)
	}
}

func TestRun_PointRecordsWithScalarFields(t *testing.T) {
	job := newJob(t, twoTopicDoc)
	mock := providers.NewMockInvoker(
		"```json\n[{\"title\": \"a\", \"content\": \"body one\"}, {\"title\": \"b\", \"content\": \"body two\"}]\n```",
		`{"subchapter": "S", "topics": "t1, t2", "text": "p"}`,
	)

	f, err := NewRunner(RunnerConfig{Invoker: mock}).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.Points) != 3 || f.Metadata.TotalPoints != 3 {
		t.Fatalf("expected 3 points, got %d (total_points %d)", len(f.Points), f.Metadata.TotalPoints)
	}
	if f.Points[0].String("content") != "body one" || f.Points[2].String("topics") != "t1, t2" {
		t.Errorf("record fields lost: %v", f.Points)
	}
	if f.Points[2].String("PointId") != "0010010003" {
		t.Errorf("unexpected last id: %v", f.Points[2])
	}
}

const multiChapterDoc = `{"chapters": [
  {"chapter": "A", "subchapters": [
    {"subchapter": "S1", "topics": [{"topic": "t1", "extractions": [{"text": "x"}]}]},
    {"subchapter": "S2", "topics": [{"topic": "t2", "extractions": [{"text": "y"}]}]}
  ]},
  {"chapter": "B", "subchapters": [
    {"subchapter": "S3", "topics": [{"topic": "t3", "extractions": [{"text": "z"}]}]}
  ]}
]}`

func TestRun_MultiChapterLedger(t *testing.T) {
	job := newJob(t, multiChapterDoc)
	job.Ledger = pointid.LedgerOptions{Seed: "1010010001"}
	mock := providers.NewMockInvoker(
		`[{"text": "a1"}, {"text": "a2"}]`,
		`[{"text": "a3"}]`,
		`[{"text": "b1", "chapter": "Model says B"}]`,
	)

	f, err := NewRunner(RunnerConfig{Invoker: mock}).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []struct{ id, chapter, subchapter, text string }{
		{"1010010001", "A", "S1", "a1"},
		{"1010010002", "A", "S1", "a2"},
		{"1010010003", "A", "S2", "a3"},
		{"1010020001", "B", "S3", "b1"},
	}
	if len(f.Points) != len(want) {
		t.Fatalf("expected %d points, got %d: %v", len(want), len(f.Points), f.Points)
	}
	for i, w := range want {
		p := f.Points[i]
		if p.String("PointId") != w.id || p.String("chapter") != w.chapter || p.String("subchapter") != w.subchapter || p.String("text") != w.text {
			t.Errorf("point %d = %v, want %+v", i, p, w)
		}
	}

	if len(f.Metadata.ChapterLedger) != 2 || f.Metadata.ChapterLedger[1].StartPointID != "1010020001" {
		t.Errorf("unexpected ledger: %+v", f.Metadata.ChapterLedger)
	}
	groups := f.Metadata.Groups
	wantGroups := []struct {
		key    string
		points int
	}{{"A/S1", 2}, {"A/S2", 1}, {"B/S3", 1}}
	if len(groups) != len(wantGroups) {
		t.Fatalf("expected %d groups, got %+v", len(wantGroups), groups)
	}
	for i, w := range wantGroups {
		if groups[i].Key != w.key || groups[i].PointCount != w.points || groups[i].TopicCount != 1 {
			t.Errorf("group %d = %+v, want key %s with %d points", i, groups[i], w.key, w.points)
		}
	}
}

func TestRun_BatchModeTopicCounts(t *testing.T) {
	job := newJob(t, twoTopicDoc)
	job.Mode = chunk.ModeSubchapterBatch
	mock := providers.NewMockInvoker(fencedOnePoint)

	f, err := NewRunner(RunnerConfig{Invoker: mock}).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if mock.RequestCount() != 1 {
		t.Fatalf("expected one call for the whole subchapter, got %d", mock.RequestCount())
	}
	m := f.Metadata
	if m.TotalTopics != 2 || m.TotalChunks != 1 || m.TopicsProcessed != m.TotalChunks {
		t.Errorf("total_topics=%d total_chunks=%d topics_processed=%d", m.TotalTopics, m.TotalChunks, m.TopicsProcessed)
	}
}
