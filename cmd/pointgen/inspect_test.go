package main

import (
	"testing"
)

func TestSummarize(t *testing.T) {
	t.Run("in progress", func(t *testing.T) {
		data := []byte(`{
  "metadata": {"status": "in_progress", "chapter": "Cells", "topics_processed": 2, "total_chunks": 3},
  "points": [],
  "raw_responses": [
    {"chunk_key": "S", "chunk_index": 0, "text": "{}", "size": 2},
    {"chunk_key": "S", "chunk_index": 1, "text": "", "size": 0, "error": "boom"}
  ]
}`)
		got := summarize(data)
		if got["status"] != "in_progress" || got["chapter"] != "Cells" {
			t.Errorf("unexpected summary: %v", got)
		}
		if got["topics_processed"] != int64(2) || got["raw_responses"] != int64(2) {
			t.Errorf("unexpected counts: %v", got)
		}
		if got["failed_responses"] != int64(1) {
			t.Errorf("expected 1 failed response, got %v", got["failed_responses"])
		}
		last, ok := got["last_response"].(map[string]any)
		if !ok || last["chunk_index"] != int64(1) || last["error"] != "boom" {
			t.Errorf("unexpected last response: %v", got["last_response"])
		}
	})

	t.Run("completed", func(t *testing.T) {
		data := []byte(`{"metadata": {"status": "completed", "total_points": 2}, "points": [{"PointId": "0010010001"}, {"PointId": "0010010002"}]}`)
		got := summarize(data)
		if got["points"] != int64(2) || got["total_points"] != int64(2) {
			t.Errorf("unexpected counts: %v", got)
		}
		if _, ok := got["raw_responses"]; ok {
			t.Error("expected no raw response summary on a completed file")
		}
	})
}
