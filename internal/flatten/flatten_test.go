package flatten

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

const hierarchy = `{
  "chapters": [{
    "chapter": "A",
    "subchapters": [
      {"subchapter": "S1", "topics": [
        {"topic": "T1", "extractions": [{"fact": "e1"}, {"fact": "e2"}]},
        {"topic": "T2", "extractions": [{"fact": "e3"}]}
      ]},
      {"subchapter": "S2", "topics": [
        {"topic": "T3", "extractions": [{"fact": "e4"}]},
        {"topic": "T4", "extractions": []}
      ]}
    ]
  }]
}`

func TestFlatten_Hierarchy(t *testing.T) {
	points := Flatten(decode(t, hierarchy))
	if len(points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(points))
	}

	want := []struct{ fact, sub, topic string }{
		{"e1", "S1", "T1"},
		{"e2", "S1", "T1"},
		{"e3", "S1", "T2"},
		{"e4", "S2", "T3"},
	}
	for i, w := range want {
		p := points[i]
		if p.String("fact") != w.fact {
			t.Errorf("point %d: fact = %q, want %q", i, p.String("fact"), w.fact)
		}
		if p.String(KeySubchapter) != w.sub {
			t.Errorf("point %d: subchapter = %q, want %q", i, p.String(KeySubchapter), w.sub)
		}
		if p.String(KeyTopic) != w.topic {
			t.Errorf("point %d: topic = %q, want %q", i, p.String(KeyTopic), w.topic)
		}
		if p.String(KeyChapter) != "A" {
			t.Errorf("point %d: chapter = %q, want A", i, p.String(KeyChapter))
		}
	}
}

func TestFlatten_CountMatchesExtractions(t *testing.T) {
	doc := decode(t, hierarchy).(map[string]any)

	extractions := 0
	for _, ch := range doc["chapters"].([]any) {
		for _, sub := range ch.(map[string]any)["subchapters"].([]any) {
			for _, topic := range sub.(map[string]any)["topics"].([]any) {
				extractions += len(topic.(map[string]any)["extractions"].([]any))
			}
		}
	}
	if got := Count(doc); got != extractions {
		t.Fatalf("Count() = %d, want %d", got, extractions)
	}
}

func TestFlatten_Envelope(t *testing.T) {
	doc := decode(t, `{
		"chapter": "X",
		"content": [
			{"subchapter": "S", "topics": [{"topic": "T", "extractions": [{"a": 1}]}]},
			{"text": "loose point"}
		]
	}`)

	points := Flatten(doc)
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].String(KeySubchapter) != "S" {
		t.Errorf("expected subchapter S, got %q", points[0].String(KeySubchapter))
	}
	if points[1].Has(KeySubchapter) {
		t.Errorf("loose point should not inherit a sibling's subchapter: %#v", points[1])
	}
	if points[1].String(KeyChapter) != "X" {
		t.Errorf("expected chapter X on loose point, got %q", points[1].String(KeyChapter))
	}
}

func TestFlatten_LeafKeepsOwnLabels(t *testing.T) {
	doc := decode(t, `{"subchapter": "Outer", "extractions": [{"subchapter": "Inner", "x": 1}]}`)
	points := Flatten(doc)
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	if points[0].String(KeySubchapter) != "Inner" {
		t.Fatalf("expected leaf subchapter kept, got %q", points[0].String(KeySubchapter))
	}
}

func TestFlatten_LevelTree(t *testing.T) {
	doc := decode(t, `[{
		"level_1": "فصل ۱: سلول",
		"children": [{"level_2": "S", "points": ["• first", "second", "  "]}]
	}]`)

	points := Flatten(doc)
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d: %#v", len(points), points)
	}
	if points[0].String(KeyPoints) != "first" {
		t.Errorf("expected bullet stripped, got %q", points[0].String(KeyPoints))
	}
	if points[0].String(KeyChapter) != "سلول" {
		t.Errorf("expected label prefix cleaned, got %q", points[0].String(KeyChapter))
	}
	if points[1].String(KeySubchapter) != "S" {
		t.Errorf("expected subchapter S, got %q", points[1].String(KeySubchapter))
	}
}

func TestFlatten_PersianKeys(t *testing.T) {
	doc := decode(t, `{"فصل": "A", "زیرفصل": "B", "مبحث": "C", "extractions": [{"x": 1}]}`)
	points := Flatten(doc)
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	p := points[0]
	if p.String(KeyChapter) != "A" || p.String(KeySubchapter) != "B" || p.String(KeyTopic) != "C" {
		t.Fatalf("unexpected labels: %#v", p)
	}
}

func TestFlatten_ScalarExtractions(t *testing.T) {
	points := Flatten(decode(t, `{"topic": "T", "extractions": ["fact one", 7]}`))
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].String(KeyText) != "fact one" || points[0].String(KeyTopic) != "T" {
		t.Errorf("unexpected point: %#v", points[0])
	}
	if points[1][KeyText] != float64(7) {
		t.Errorf("expected numeric text 7, got %#v", points[1][KeyText])
	}
}

func TestFlatten_DeeperLabelsReset(t *testing.T) {
	doc := decode(t, `[
		{"subchapter": "S1", "topic": "T1", "extractions": [{}]},
		{"subchapter": "S2", "extractions": [{}]}
	]`)
	points := Flatten(doc)
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[1].Has(KeyTopic) {
		t.Fatalf("topic from a previous subchapter leaked: %#v", points[1])
	}
}

func TestFlatten_Empty(t *testing.T) {
	if n := Count(nil); n != 0 {
		t.Fatalf("expected 0 points for nil, got %d", n)
	}
	if n := Count([]any{}); n != 0 {
		t.Fatalf("expected 0 points for empty list, got %d", n)
	}
}

func TestFlatten_DoesNotMutateInput(t *testing.T) {
	leaf := map[string]any{"x": 1}
	doc := map[string]any{"subchapter": "S", "extractions": []any{leaf}}
	points := Flatten(doc)
	points[0][KeyPointID] = "0000000001"
	if _, ok := leaf[KeyPointID]; ok {
		t.Fatal("flatten must copy leaf records")
	}
	if _, ok := leaf[KeySubchapter]; ok {
		t.Fatal("flatten must not back-fill into the input")
	}
}

func TestFlatten_ScalarContainerFieldsStayLeaves(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want int
	}{
		{"scalar content", `[{"title": "a", "content": "body one"}, {"title": "b", "content": "body two"}]`, 2},
		{"scalar topics", `{"subchapter": "S", "topics": "t1, t2", "text": "p"}`, 1},
		{"scalar children", `[{"text": "p", "children": 0}]`, 1},
		{"scalar points", `{"topic": "T", "points": "one line", "source": "p12"}`, 1},
		{"object extractions", `{"topic": "T", "extractions": {"text": "kept whole"}}`, 1},
		{"list content still walked", `{"chapter": "A", "content": [{"text": "x"}, {"text": "y"}]}`, 2},
		{"object content still walked", `{"chapter": "A", "content": {"topic": "T", "extractions": [{}, {}]}}`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := decode(t, tt.doc)
			points := Flatten(doc)
			if len(points) != tt.want {
				t.Fatalf("expected %d points, got %d: %#v", tt.want, len(points), points)
			}
			if n := Count(doc); n != tt.want {
				t.Errorf("Count() = %d, want %d", n, tt.want)
			}
		})
	}

	t.Run("fields survive", func(t *testing.T) {
		points := Flatten(decode(t, `{"topic": "T", "points": "one line", "source": "p12"}`))
		p := points[0]
		if p.String(KeyPoints) != "one line" || p.String("source") != "p12" || p.String(KeyTopic) != "T" {
			t.Errorf("record fields lost: %#v", p)
		}
	})

	t.Run("scalar content keeps its text", func(t *testing.T) {
		points := Flatten(decode(t, `[{"title": "a", "content": "body one"}]`))
		if points[0].String("content") != "body one" || points[0].String("title") != "a" {
			t.Errorf("unexpected point: %#v", points[0])
		}
	})
}
