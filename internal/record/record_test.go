package record

import "testing"

func TestRecordAccessors(t *testing.T) {
	r := Record{
		"id":        "c1",
		"read":      true,
		"age":       float64(4),
		"parentIds": []any{"p1", "", "p2"},
		"blank":     "  ",
	}
	if r.ID() != "c1" {
		t.Fatalf("expected id c1, got %q", r.ID())
	}
	if !r.Bool("read") {
		t.Fatalf("expected read=true")
	}
	if r.String("age") != "4" {
		t.Fatalf("expected integral float to render as 4, got %q", r.String("age"))
	}
	ids := r.Strings("parentIds")
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Fatalf("unexpected parent ids %v", ids)
	}
	if r.Has("blank") || r.Has("missing") {
		t.Fatalf("expected blank and missing fields to be absent")
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := Record{"id": "p1", "childIds": []any{"c1"}}
	clone := original.Clone()
	clone["childIds"] = append(clone["childIds"].([]any), "c2")
	if len(original.Strings("childIds")) != 1 {
		t.Fatalf("expected original to be untouched, got %v", original["childIds"])
	}
}
