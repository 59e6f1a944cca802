package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Erikvl87/todosync/internal/model"
)

// ts returns a deterministic timestamp offset by sec seconds.
func ts(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func strptr(s string) *string {
	return &s
}

// task builds a test task. Empty parent/section mean nil references.
func task(id, parent, section string, order int) model.Task {
	t := model.Task{
		ID:         id,
		ChildOrder: order,
		Content:    "task " + id,
		UpdatedAt:  ts(0),
	}
	if parent != "" {
		t.ParentID = strptr(parent)
	}
	if section != "" {
		t.SectionID = strptr(section)
	}
	return t
}

func section(id string, order int) model.Section {
	return model.Section{ID: id, Name: "section " + id, SectionOrder: order, UpdatedAt: ts(0)}
}

// loaded builds a store pre-populated via Organize.
func loaded(t *testing.T, sections []model.Section, tasks []model.Task) *Store {
	t.Helper()
	s := New(nil)
	s.Organize(model.BulkPayload{
		Project:  model.Project{Name: "P"},
		Sections: sections,
		Tasks:    tasks,
	})
	return s
}

// rootIDs flattens a node list to ids in order.
func rootIDs(nodes []*model.TaskNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func equalIDs(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrganizeScenario(t *testing.T) {
	s := loaded(t,
		[]model.Section{{ID: "s1", Name: "S1", SectionOrder: 0, UpdatedAt: ts(0)}},
		[]model.Task{{ID: "t1", SectionID: strptr("s1"), ChildOrder: 0, Content: "Buy milk", UpdatedAt: ts(0)}},
	)

	snap := s.Snapshot()
	if snap.Project == nil || snap.Project.Name != "P" {
		t.Fatalf("expected project P, got %+v", snap.Project)
	}
	if len(snap.Sections) != 1 || snap.Sections[0].Section.ID != "s1" {
		t.Fatalf("expected one section s1, got %+v", snap.Sections)
	}
	tasks := snap.Sections[0].Tasks
	if len(tasks) != 1 || tasks[0].ID != "t1" || tasks[0].Depth != 0 || len(tasks[0].Children) != 0 {
		t.Fatalf("expected single root t1 at depth 0, got %+v", tasks)
	}
	if len(snap.Unsectioned) != 0 {
		t.Fatalf("expected no unsectioned tasks, got %+v", snap.Unsectioned)
	}
}

func TestAddTask(t *testing.T) {
	s := loaded(t, nil, []model.Task{task("a", "", "", 0)})

	if err := s.AddTask(task("b", "", "", 1)); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if err := s.AddTask(task("a", "", "", 2)); err == nil {
		t.Fatal("expected ErrAlreadyExists for duplicate id")
	} else if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAddSectionUpsert(t *testing.T) {
	s := loaded(t, []model.Section{section("s1", 0)}, nil)

	// Re-adding a section always overwrites, even with an older timestamp.
	older := model.Section{ID: "s1", Name: "renamed", SectionOrder: 5, UpdatedAt: ts(-100)}
	if err := s.AddSection(older); err != nil {
		t.Fatalf("AddSection failed: %v", err)
	}
	got, ok := s.Section("s1")
	if !ok || got.Name != "renamed" || got.SectionOrder != 5 {
		t.Fatalf("expected unconditional overwrite, got %+v", got)
	}
}

func TestUpdateTaskStaleness(t *testing.T) {
	base := task("a", "", "", 0)
	base.Content = "original"
	base.UpdatedAt = ts(10)

	tests := []struct {
		name        string
		updatedAt   time.Time
		wantContent string
	}{
		{"older update ignored", ts(5), "original"},
		{"equal timestamp applies", ts(10), "updated"},
		{"newer update applies", ts(20), "updated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loaded(t, nil, []model.Task{base})

			upd := base
			upd.Content = "updated"
			upd.UpdatedAt = tt.updatedAt
			if err := s.UpdateTask(upd); err != nil {
				t.Fatalf("UpdateTask failed: %v", err)
			}

			got, _ := s.Task("a")
			if got.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", got.Content, tt.wantContent)
			}
		})
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	s := loaded(t, nil, nil)
	if err := s.UpdateTask(task("ghost", "", "", 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSectionStaleness(t *testing.T) {
	sec := section("s1", 0)
	sec.UpdatedAt = ts(10)
	s := loaded(t, []model.Section{sec}, nil)

	stale := sec
	stale.Name = "stale"
	stale.UpdatedAt = ts(1)
	if err := s.UpdateSection(stale); err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}
	if got, _ := s.Section("s1"); got.Name != "section s1" {
		t.Errorf("stale update applied: %+v", got)
	}

	fresh := sec
	fresh.Name = "fresh"
	fresh.UpdatedAt = ts(20)
	if err := s.UpdateSection(fresh); err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}
	if got, _ := s.Section("s1"); got.Name != "fresh" {
		t.Errorf("fresh update not applied: %+v", got)
	}
}

func TestUpdateProjectName(t *testing.T) {
	s := New(nil)
	if err := s.UpdateProjectName("renamed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before bulk load, got %v", err)
	}

	s.Organize(model.BulkPayload{Project: model.Project{
		Name:  "P",
		Extra: map[string]json.RawMessage{"color": json.RawMessage(`"teal"`)},
	}})
	if err := s.UpdateProjectName("renamed"); err != nil {
		t.Fatalf("UpdateProjectName failed: %v", err)
	}

	p := s.Project()
	if p.Name != "renamed" {
		t.Errorf("name = %q, want renamed", p.Name)
	}
	if string(p.Extra["color"]) != `"teal"` {
		t.Errorf("extra fields not preserved: %+v", p.Extra)
	}
}

func TestRemoveTaskCascade(t *testing.T) {
	s := loaded(t, nil, []model.Task{
		task("P", "", "", 0),
		task("C", "P", "", 0),
		task("G", "C", "", 0),
		task("other", "", "", 1),
	})

	s.RemoveTask("P")

	for _, id := range []string{"P", "C", "G"} {
		if _, ok := s.Task(id); ok {
			t.Errorf("task %s should have been cascaded", id)
		}
	}
	if _, ok := s.Task("other"); !ok {
		t.Error("unrelated task removed")
	}

	snap := s.Snapshot()
	if !equalIDs(rootIDs(snap.Unsectioned), []string{"other"}) {
		t.Errorf("snapshot roots = %v, want [other]", rootIDs(snap.Unsectioned))
	}
}

func TestRemoveTaskAbsent(t *testing.T) {
	s := loaded(t, nil, []model.Task{task("a", "", "", 0)})
	s.RemoveTask("ghost")
	if s.TaskCount() != 1 {
		t.Errorf("removing absent id mutated the store")
	}
}

func TestRemoveSection(t *testing.T) {
	s := loaded(t,
		[]model.Section{section("s1", 0), section("s2", 1)},
		[]model.Task{
			task("r1", "", "s1", 0),  // root in s1: cascaded
			task("c1", "r1", "", 0),  // child of r1: cascaded through parent
			task("r2", "", "s2", 0),  // root in s2: survives
			task("x", "r2", "s1", 0), // non-root carrying s1: survives
		},
	)

	s.RemoveSection("s1")

	if _, ok := s.Section("s1"); ok {
		t.Error("section s1 should be gone")
	}
	for _, id := range []string{"r1", "c1"} {
		if _, ok := s.Task(id); ok {
			t.Errorf("task %s should have been cascaded", id)
		}
	}
	// A non-root task whose section id diverges from its ancestor's is not
	// reconciled by section removal.
	for _, id := range []string{"r2", "x"} {
		if _, ok := s.Task(id); !ok {
			t.Errorf("task %s should have survived", id)
		}
	}
}

func TestRemoveSectionAbsent(t *testing.T) {
	s := loaded(t, []model.Section{section("s1", 0)}, []model.Task{task("a", "", "s1", 0)})
	s.RemoveSection("ghost")
	if s.SectionCount() != 1 || s.TaskCount() != 1 {
		t.Error("removing absent section mutated the store")
	}
}

func TestSnapshotSiblingOrdering(t *testing.T) {
	// child_order [3,1,2] for ids [a,b,c] renders as [b,c,a].
	s := loaded(t, nil, []model.Task{
		task("a", "", "", 3),
		task("b", "", "", 1),
		task("c", "", "", 2),
	})

	snap := s.Snapshot()
	if got := rootIDs(snap.Unsectioned); !equalIDs(got, []string{"b", "c", "a"}) {
		t.Errorf("order = %v, want [b c a]", got)
	}
}

func TestSnapshotOrderTieBreaksByID(t *testing.T) {
	s := loaded(t, nil, []model.Task{
		task("z", "", "", 1),
		task("a", "", "", 1),
		task("m", "", "", 1),
	})

	snap := s.Snapshot()
	if got := rootIDs(snap.Unsectioned); !equalIDs(got, []string{"a", "m", "z"}) {
		t.Errorf("order = %v, want [a m z]", got)
	}
}

func TestSnapshotDepths(t *testing.T) {
	s := loaded(t, nil, []model.Task{
		task("root", "", "", 0),
		task("child", "root", "", 0),
		task("grand", "child", "", 0),
	})

	snap := s.Snapshot()
	if len(snap.Unsectioned) != 1 {
		t.Fatalf("expected one root, got %v", rootIDs(snap.Unsectioned))
	}
	root := snap.Unsectioned[0]
	if root.Depth != 0 {
		t.Errorf("root depth = %d, want 0", root.Depth)
	}
	child := root.Children[0]
	if child.Depth != 1 {
		t.Errorf("child depth = %d, want 1", child.Depth)
	}
	if grand := child.Children[0]; grand.Depth != 2 {
		t.Errorf("grandchild depth = %d, want 2", grand.Depth)
	}
}

func TestSnapshotMissingParentBecomesRoot(t *testing.T) {
	s := loaded(t, nil, []model.Task{task("orphan", "ghost", "", 0)})

	snap := s.Snapshot()
	if got := rootIDs(snap.Unsectioned); !equalIDs(got, []string{"orphan"}) {
		t.Errorf("roots = %v, want [orphan]", got)
	}
	if snap.Unsectioned[0].Depth != 0 {
		t.Errorf("orphan depth = %d, want 0", snap.Unsectioned[0].Depth)
	}
}

func TestSnapshotUnknownSectionRendersUnsectioned(t *testing.T) {
	s := loaded(t,
		[]model.Section{section("s1", 0)},
		[]model.Task{task("a", "", "nope", 0)},
	)

	snap := s.Snapshot()
	if len(snap.Sections) != 1 || len(snap.Sections[0].Tasks) != 0 {
		t.Errorf("section should render with empty task list: %+v", snap.Sections)
	}
	if got := rootIDs(snap.Unsectioned); !equalIDs(got, []string{"a"}) {
		t.Errorf("unsectioned = %v, want [a]", got)
	}
	// The task still exists for lookup and removal.
	if _, ok := s.Task("a"); !ok {
		t.Error("task with unknown section should remain stored")
	}
}

func TestSnapshotSectionOrdering(t *testing.T) {
	s := loaded(t, []model.Section{
		section("s3", 2),
		section("s1", 0),
		section("s2", 1),
	}, nil)

	snap := s.Snapshot()
	got := make([]string, len(snap.Sections))
	for i, sec := range snap.Sections {
		got[i] = sec.Section.ID
	}
	if !equalIDs(got, []string{"s1", "s2", "s3"}) {
		t.Errorf("section order = %v, want [s1 s2 s3]", got)
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	s := loaded(t,
		[]model.Section{section("s1", 0)},
		[]model.Task{
			task("a", "", "s1", 1),
			task("b", "a", "", 0),
			task("c", "", "", 2),
		},
	)

	first, _ := json.Marshal(s.Snapshot())
	second, _ := json.Marshal(s.Snapshot())
	if string(first) != string(second) {
		t.Errorf("snapshots differ without intervening mutation:\n%s\n%s", first, second)
	}
}

func TestSnapshotIndependence(t *testing.T) {
	s := loaded(t, nil, []model.Task{task("a", "", "", 0)})

	snap := s.Snapshot()
	s.RemoveTask("a")

	if got := rootIDs(snap.Unsectioned); !equalIDs(got, []string{"a"}) {
		t.Errorf("earlier snapshot aliased store state: %v", got)
	}
	if got := s.Snapshot().Unsectioned; len(got) != 0 {
		t.Errorf("fresh snapshot should reflect removal, got %v", rootIDs(got))
	}
}

func TestSnapshotNeverContainsRemovedSubtree(t *testing.T) {
	s := loaded(t, nil, []model.Task{
		task("P", "", "", 0),
		task("C", "P", "", 0),
		task("G", "C", "", 0),
	})

	s.RemoveTask("C")

	snap := s.Snapshot()
	ids := map[string]bool{}
	var walk func([]*model.TaskNode)
	walk = func(nodes []*model.TaskNode) {
		for _, n := range nodes {
			ids[n.ID] = true
			walk(n.Children)
		}
	}
	walk(snap.Unsectioned)

	if ids["C"] || ids["G"] {
		t.Errorf("removed subtree visible in snapshot: %v", ids)
	}
	if !ids["P"] {
		t.Error("surviving ancestor missing from snapshot")
	}
}
