package naming

import (
	"reflect"
	"testing"

	"github.com/agentworkforce/recordsync/internal/record"
)

func TestCamelToSnake(t *testing.T) {
	cases := map[string]string{
		"firstName":      "first_name",
		"id":             "id",
		"organizationId": "organization_id",
		"checkOutTime":   "check_out_time",
		"Name":           "_name",
		"ID":             "_i_d",
		"item2Name":      "item2_name",
	}
	for in, want := range cases {
		if got := CamelToSnake(in); got != want {
			t.Fatalf("CamelToSnake(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestSnakeToCamel(t *testing.T) {
	cases := map[string]string{
		"first_name":      "firstName",
		"id":              "id",
		"organization_id": "organizationId",
		"trailing_":       "trailing_",
		"_leading":        "Leading",
		"_i_d":            "ID",
		"snake__case":     "snake_Case",
	}
	for in, want := range cases {
		if got := SnakeToCamel(in); got != want {
			t.Fatalf("SnakeToCamel(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestRecordRoundTrip(t *testing.T) {
	original := record.Record{
		"id":             "c1",
		"firstName":      "Ada",
		"dateOfBirth":    "2020-01-02",
		"parentIds":      []any{"p1"},
		"medicalNoteURL": "https://example.invalid",
		"extra":          map[string]any{"innerKey": 1},
	}
	remote := ToRemote(original)
	if _, ok := remote["date_of_birth"]; !ok {
		t.Fatalf("expected date_of_birth in remote form, got %v", remote)
	}
	inner := remote["extra"].(map[string]any)
	if _, ok := inner["innerKey"]; !ok {
		t.Fatalf("expected nested keys to pass through untouched, got %v", inner)
	}
	if back := ToLocal(remote); !reflect.DeepEqual(back, original) {
		t.Fatalf("round trip mismatch:\n got  %v\n want %v", back, original)
	}
}

func TestKeyRoundTripIsLossless(t *testing.T) {
	for _, key := range []string{"name", "Name", "ID", "id", "URLPath", "urlPath", "a1B2c3", "X"} {
		remote := CamelToSnake(key)
		if back := SnakeToCamel(remote); back != key {
			t.Fatalf("round trip of %q via %q gave %q", key, remote, back)
		}
	}

	remote := ToRemote(record.Record{"Name": "a", "name": "b"})
	if len(remote) != 2 || remote["_name"] != "a" || remote["name"] != "b" {
		t.Fatalf("expected distinct keys to stay distinct remotely, got %v", remote)
	}
	for _, key := range []string{"Name", "ID", "URLPath"} {
		back := ToLocal(ToRemote(record.Record{key: "v"}))
		if len(back) != 1 || back[key] != "v" {
			t.Fatalf("expected %q to survive a round trip, got %v", key, back)
		}
	}
}

func TestDefaultNamespace(t *testing.T) {
	ns := DefaultNamespace()
	if table, ok := ns.RemoteTable(CollectionParentChildLinks); !ok || table != "parent_children" {
		t.Fatalf("expected join table parent_children, got %q (ok=%v)", table, ok)
	}
	if _, ok := ns.RemoteTable(CollectionSettings); ok {
		t.Fatalf("expected settings to be local-only")
	}
	if _, ok := ns.RemoteTable(CollectionAttendance); ok {
		t.Fatalf("expected attendance to be excluded from bulk mirroring")
	}
	if local, ok := ns.LocalKey("children"); !ok || local != CollectionChildren {
		t.Fatalf("expected reverse lookup of children, got %q", local)
	}
	for _, entry := range ns.Mirrored() {
		if entry.Remote == "" {
			t.Fatalf("mirrored entry without remote table: %+v", entry)
		}
	}
}

func TestNewNamespaceRejectsDuplicates(t *testing.T) {
	if _, err := NewNamespace(Entry{Local: "a", Remote: "x"}, Entry{Local: "a"}); err == nil {
		t.Fatalf("expected duplicate local key to fail")
	}
	if _, err := NewNamespace(Entry{Local: "a", Remote: "x"}, Entry{Local: "b", Remote: "x"}); err == nil {
		t.Fatalf("expected duplicate remote table to fail")
	}
}
