package chunk

import (
	"encoding/json"
	"strings"
	"testing"
)

func rec(kv ...any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"part", ModePart, false},
		{" Subchapter ", ModeSubchapter, false},
		{"subchapter-batch", ModeSubchapterBatch, false},
		{"", ModeSubchapter, false},
		{"pages", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestByPart_Ordering(t *testing.T) {
	records := []map[string]any{
		rec("Part", 3, "text", "c"),
		rec("Part", json.Number("1"), "text", "a"),
		rec("Part", "2", "text", "b"),
		rec("Part", 1.0, "text", "a2"),
		rec("text", "none"),
		rec("Part", "abc", "text", "bad"),
	}

	chunks := New(nil).ByPart(records)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	wantParts := []int{0, 1, 2, 3}
	wantSizes := []int{2, 2, 1, 1}
	for i, c := range chunks {
		if c.Part != wantParts[i] {
			t.Errorf("chunk %d part = %d, want %d", i, c.Part, wantParts[i])
		}
		if len(c.Records) != wantSizes[i] {
			t.Errorf("chunk %d size = %d, want %d", i, len(c.Records), wantSizes[i])
		}
		if c.Index != i {
			t.Errorf("chunk %d index = %d", i, c.Index)
		}
	}

	total := 0
	for _, c := range chunks {
		total += len(c.Records)
	}
	if total != len(records) {
		t.Errorf("expected %d records across chunks, got %d", len(records), total)
	}
}

func TestByPart_BackfillsMissingPart(t *testing.T) {
	in := rec("text", "none")
	chunks := New(nil).ByPart([]map[string]any{in})
	if got := chunks[0].Records[0]["Part"]; got != 0 {
		t.Errorf("expected Part back-filled to 0, got %v", got)
	}
	if _, ok := in["Part"]; ok {
		t.Error("input record was mutated")
	}
}

func TestBySubchapter_SiblingContext(t *testing.T) {
	records := []map[string]any{
		rec("chapter", "A", "subchapter", "S1", "topic", "t1"),
		rec("chapter", "A", "subchapter", "S1", "topic", "t2"),
		rec("chapter", "A", "subchapter", "S2", "topic", "t3"),
	}
	p := New(nil)

	t.Run("with context", func(t *testing.T) {
		chunks := p.BySubchapter(records, DefaultOptions())
		if len(chunks) != 3 {
			t.Fatalf("expected one chunk per topic, got %d", len(chunks))
		}
		for _, c := range chunks[:2] {
			if len(c.Records) != 2 {
				t.Errorf("chunk %s/%s should carry the whole subchapter, got %d", c.Key, c.Topic, len(c.Records))
			}
			if c.TopicCount != 2 {
				t.Errorf("topic count = %d, want 2", c.TopicCount)
			}
		}
		if chunks[0].Topic != "t1" || chunks[1].Topic != "t2" || chunks[2].Topic != "t3" {
			t.Errorf("unexpected focal topics: %q %q %q", chunks[0].Topic, chunks[1].Topic, chunks[2].Topic)
		}
		if chunks[2].Key != "S2" || chunks[2].Index != 2 {
			t.Errorf("unexpected last chunk key/index: %s/%d", chunks[2].Key, chunks[2].Index)
		}
	})

	t.Run("without context", func(t *testing.T) {
		chunks := p.BySubchapter(records, Options{})
		total := 0
		for _, c := range chunks {
			if len(c.Records) != 1 {
				t.Errorf("expected focal topic only, got %d records", len(c.Records))
			}
			total += len(c.Records)
		}
		if total != len(records) {
			t.Errorf("expected %d records, got %d", len(records), total)
		}
	})
}

func TestBySubchapter_DefaultGroup(t *testing.T) {
	records := []map[string]any{
		rec("topic", "orphan"),
		rec("chapter", "A", "topic", "half"),
	}
	chunks := New(nil).BySubchapterBatch(records)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(chunks))
	}
	if chunks[0].Chapter != DefaultGroup || chunks[0].Subchapter != DefaultGroup {
		t.Errorf("expected default group, got %s/%s", chunks[0].Chapter, chunks[0].Subchapter)
	}
	if chunks[1].Chapter != "A" || chunks[1].Subchapter != DefaultGroup {
		t.Errorf("expected A/default, got %s/%s", chunks[1].Chapter, chunks[1].Subchapter)
	}
}

func TestBySubchapterBatch(t *testing.T) {
	records := []map[string]any{
		rec("chapter", "A", "subchapter", "S1", "topic", "t1"),
		rec("chapter", "B", "subchapter", "S2", "topic", "t2"),
		rec("chapter", "A", "subchapter", "S1", "topic", "t3"),
	}
	chunks := New(nil).BySubchapterBatch(records)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Subchapter != "S1" || len(chunks[0].Records) != 2 {
		t.Errorf("first group should be S1 with 2 topics, got %s with %d", chunks[0].Subchapter, len(chunks[0].Records))
	}
	if chunks[1].Chapter != "B" {
		t.Errorf("second group chapter = %s, want B", chunks[1].Chapter)
	}
}

func TestPartition_UnknownMode(t *testing.T) {
	if _, err := New(nil).Partition(Mode("pages"), nil, DefaultOptions()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestChunk_Serialize(t *testing.T) {
	c := Chunk{Key: "S1", Records: []map[string]any{rec("topic", "t1")}}
	text, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if !strings.Contains(text, `"topic": "t1"`) {
		t.Errorf("unexpected serialization: %s", text)
	}
}
