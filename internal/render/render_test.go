package render

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Erikvl87/todosync/internal/controller"
	"github.com/Erikvl87/todosync/internal/model"
	"github.com/Erikvl87/todosync/internal/store"
)

func strptr(s string) *string { return &s }

func buildSnapshot(t *testing.T) *model.Snapshot {
	t.Helper()
	st := store.New(log.New(io.Discard))
	st.Organize(model.BulkPayload{
		Project:  model.Project{Name: "Proj"},
		Sections: []model.Section{{ID: "s1", Name: "Inbox", SectionOrder: 1}},
		Tasks: []model.Task{
			{ID: "a", SectionID: strptr("s1"), ChildOrder: 1, Content: "first", UpdatedAt: time.Now()},
			{ID: "b", ParentID: strptr("a"), ChildOrder: 1, Content: "child", UpdatedAt: time.Now()},
			{ID: "c", ChildOrder: 1, Content: "loose", UpdatedAt: time.Now()},
		},
	})
	return st.Snapshot()
}

func TestTree(t *testing.T) {
	out := Tree(buildSnapshot(t))

	for _, want := range []string{"Proj", "Inbox", "first", "child", "loose", "(no section)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// Depth drives indentation: root tasks at two spaces, children at four.
	if !strings.Contains(out, "  - first") {
		t.Errorf("root task not indented once:\n%s", out)
	}
	if !strings.Contains(out, "    - child") {
		t.Errorf("child task not indented twice:\n%s", out)
	}

	// Sections precede unsectioned tasks.
	if strings.Index(out, "loose") < strings.Index(out, "first") {
		t.Errorf("unsectioned task rendered before sectioned tasks:\n%s", out)
	}
}

func TestTreeWithoutSectionsOmitsHeader(t *testing.T) {
	st := store.New(log.New(io.Discard))
	st.Organize(model.BulkPayload{
		Tasks: []model.Task{{ID: "a", ChildOrder: 1, Content: "only", UpdatedAt: time.Now()}},
	})

	out := Tree(st.Snapshot())
	if strings.Contains(out, "(no section)") {
		t.Errorf("header printed with no sections to separate from:\n%s", out)
	}
	if !strings.Contains(out, "only") {
		t.Errorf("task missing:\n%s", out)
	}
}

func TestTerminalFindElement(t *testing.T) {
	var buf strings.Builder
	term := NewTerminal(&buf)

	if h := term.FindElement("a"); h != nil {
		t.Errorf("handle before any render = %v, want nil", h)
	}

	term.Render(buildSnapshot(t))

	for _, id := range []string{"a", "b", "c", "s1"} {
		if h := term.FindElement(id); h == nil {
			t.Errorf("rendered entity %q not found", id)
		}
	}
	if h := term.FindElement("zzz"); h != nil {
		t.Errorf("unknown entity found: %v", h)
	}
	if buf.Len() == 0 {
		t.Error("nothing written to the terminal")
	}
}

func TestTerminalExitCompletesImmediately(t *testing.T) {
	term := NewTerminal(&strings.Builder{})
	called := false
	term.OnRemove("a", func() { called = true })
	if !called {
		t.Error("terminal exit animation did not complete synchronously")
	}
}

// stubRenderer scripts FindElement and records lifecycle calls for Multi tests.
type stubRenderer struct {
	handle  controller.Handle
	renders int
	adds    []string
	removes int
	trees   int
}

func (s *stubRenderer) Render(*model.Snapshot)  { s.renders++ }
func (s *stubRenderer) FindElement(string) controller.Handle { return s.handle }
func (s *stubRenderer) OnAdd(h controller.Handle, id string) { s.adds = append(s.adds, id) }
func (s *stubRenderer) OnRemove(h controller.Handle, done func()) {
	s.removes++
	done()
}
func (s *stubRenderer) OnTreeChange() { s.trees++ }

func TestMultiFansOut(t *testing.T) {
	first := &stubRenderer{}
	second := &stubRenderer{handle: "h2"}
	m := NewMulti(first, second)

	m.Render(&model.Snapshot{})
	m.OnTreeChange()

	if first.renders != 1 || second.renders != 1 {
		t.Errorf("renders = %d/%d, want 1/1", first.renders, second.renders)
	}
	if first.trees != 1 || second.trees != 1 {
		t.Errorf("tree changes = %d/%d, want 1/1", first.trees, second.trees)
	}
}

func TestMultiRoutesLifecycleToHandleOwner(t *testing.T) {
	first := &stubRenderer{}
	second := &stubRenderer{handle: "h2"}
	m := NewMulti(first, second)

	h := m.FindElement("x")
	if h == nil {
		t.Fatal("no handle from fan-out lookup")
	}

	m.OnAdd(h, "x")
	if len(second.adds) != 1 || len(first.adds) != 0 {
		t.Errorf("OnAdd routed to %d/%d, want only the owner", len(first.adds), len(second.adds))
	}

	done := false
	m.OnRemove(h, func() { done = true })
	if second.removes != 1 || first.removes != 0 {
		t.Errorf("OnRemove routed to %d/%d, want only the owner", first.removes, second.removes)
	}
	if !done {
		t.Error("completion callback not invoked")
	}
}

func TestMultiFindElementNilWhenNowhereVisible(t *testing.T) {
	m := NewMulti(&stubRenderer{}, &stubRenderer{})
	if h := m.FindElement("x"); h != nil {
		t.Errorf("handle = %v, want nil", h)
	}
}
