package model

import (
	"encoding/json"
	"testing"
)

func TestProjectRoundTripPreservesExtras(t *testing.T) {
	raw := `{"name":"Proj","id":"p1","color":"teal","view_style":"board"}`

	var p Project
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Name != "Proj" {
		t.Errorf("name = %q, want Proj", p.Name)
	}
	if len(p.Extra) != 3 {
		t.Errorf("extra fields = %d, want 3: %v", len(p.Extra), p.Extra)
	}

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	for _, key := range []string{"name", "id", "color", "view_style"} {
		if _, ok := got[key]; !ok {
			t.Errorf("field %q lost in round trip", key)
		}
	}
	if got["color"] != "teal" {
		t.Errorf("color = %v, want teal", got["color"])
	}
}

func TestProjectNameOnly(t *testing.T) {
	var p Project
	if err := json.Unmarshal([]byte(`{"name":"Bare"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Extra != nil {
		t.Errorf("extra = %v, want nil when only the name is present", p.Extra)
	}
}

func TestProjectInvalidName(t *testing.T) {
	var p Project
	if err := json.Unmarshal([]byte(`{"name":42}`), &p); err == nil {
		t.Error("non-string name accepted")
	}
}

func TestProjectClone(t *testing.T) {
	p := Project{Name: "Proj", Extra: map[string]json.RawMessage{"color": json.RawMessage(`"teal"`)}}
	c := p.Clone()

	c.Name = "Changed"
	c.Extra["color"] = json.RawMessage(`"red"`)

	if p.Name != "Proj" {
		t.Errorf("clone mutation leaked into the original name")
	}
	if string(p.Extra["color"]) != `"teal"` {
		t.Errorf("clone mutation leaked into the original extras")
	}
}

func TestCompareTasks(t *testing.T) {
	tests := []struct {
		name string
		a, b Task
		want int
	}{
		{"lower order first", Task{ID: "z", ChildOrder: 1}, Task{ID: "a", ChildOrder: 2}, -1},
		{"higher order last", Task{ID: "a", ChildOrder: 3}, Task{ID: "z", ChildOrder: 2}, 1},
		{"order tie breaks by id", Task{ID: "a", ChildOrder: 1}, Task{ID: "b", ChildOrder: 1}, -1},
		{"order tie reversed", Task{ID: "b", ChildOrder: 1}, Task{ID: "a", ChildOrder: 1}, 1},
		{"identical", Task{ID: "a", ChildOrder: 1}, Task{ID: "a", ChildOrder: 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareTasks(tt.a, tt.b); got != tt.want {
				t.Errorf("CompareTasks = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTaskRoot(t *testing.T) {
	empty := ""
	parent := "p1"

	if got := (&Task{ID: "a"}).Root(); !got {
		t.Error("nil parent should be root")
	}
	if got := (&Task{ID: "a", ParentID: &empty}).Root(); !got {
		t.Error("empty parent id should be root")
	}
	if got := (&Task{ID: "a", ParentID: &parent}).Root(); got {
		t.Error("task with parent should not be root")
	}
}

func TestValidate(t *testing.T) {
	if err := (&Task{}).Validate(); err == nil {
		t.Error("task without id accepted")
	}
	if err := (&Task{ID: "a"}).Validate(); err != nil {
		t.Errorf("valid task rejected: %v", err)
	}
	if err := (&Section{}).Validate(); err == nil {
		t.Error("section without id accepted")
	}
	if err := (&Section{ID: "s"}).Validate(); err != nil {
		t.Errorf("valid section rejected: %v", err)
	}
}
