// Package render provides renderer implementations for the sync controller.
//
// The terminal renderer draws snapshots as an indented tree for one-shot CLI
// output and for watching a project from a terminal. The dashboard package
// provides the WebSocket-broadcast renderer.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Erikvl87/todosync/internal/controller"
	"github.com/Erikvl87/todosync/internal/model"
	"github.com/Erikvl87/todosync/internal/ui"
)

// Tree formats a snapshot as an indented, styled tree.
func Tree(snap *model.Snapshot) string {
	var b strings.Builder

	if snap.Project != nil {
		b.WriteString(ui.RenderAccent(snap.Project.Name))
		b.WriteString("\n")
	}

	for _, sec := range snap.Sections {
		fmt.Fprintf(&b, "%s\n", ui.RenderSection(sec.Name))
		writeTasks(&b, sec.Tasks)
	}

	if len(snap.Unsectioned) > 0 {
		if len(snap.Sections) > 0 {
			fmt.Fprintf(&b, "%s\n", ui.RenderDim("(no section)"))
		}
		writeTasks(&b, snap.Unsectioned)
	}

	return b.String()
}

// writeTasks walks a task list depth-first in sibling order, indenting by
// node depth.
func writeTasks(b *strings.Builder, nodes []*model.TaskNode) {
	stack := make([]*model.TaskNode, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, nodes[i])
	}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		indent := strings.Repeat("  ", node.Depth+1)
		fmt.Fprintf(b, "%s- %s %s\n", indent, node.Content, ui.RenderDim("("+node.ID+")"))
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
}

// Terminal renders snapshots as text to a writer. Exit animations complete
// immediately: a terminal redraw has no transition to play.
type Terminal struct {
	mu  sync.Mutex
	w   io.Writer
	ids map[string]bool
}

// NewTerminal creates a terminal renderer writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w, ids: make(map[string]bool)}
}

// Render implements controller.Renderer.
func (t *Terminal) Render(snap *model.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ids = make(map[string]bool)
	for _, sec := range snap.Sections {
		t.ids[sec.Section.ID] = true
		collectIDs(t.ids, sec.Tasks)
	}
	collectIDs(t.ids, snap.Unsectioned)

	fmt.Fprint(t.w, Tree(snap))
}

// FindElement implements controller.Renderer. A rendered entity's handle is
// its own id.
func (t *Terminal) FindElement(entityID string) controller.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ids[entityID] {
		return entityID
	}
	return nil
}

// OnAdd implements controller.Renderer.
func (t *Terminal) OnAdd(h controller.Handle, entityID string) {}

// OnRemove implements controller.Renderer.
func (t *Terminal) OnRemove(h controller.Handle, done func()) {
	done()
}

// OnTreeChange implements controller.Renderer.
func (t *Terminal) OnTreeChange() {}

// collectIDs records every task id in a rendered subtree.
func collectIDs(ids map[string]bool, nodes []*model.TaskNode) {
	stack := append([]*model.TaskNode(nil), nodes...)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ids[node.ID] = true
		stack = append(stack, node.Children...)
	}
}

// Multi fans render calls out to several renderers. FindElement returns the
// first non-nil handle together with its owner so lifecycle hooks reach the
// renderer that produced the handle.
type Multi struct {
	renderers []controller.Renderer
}

// multiHandle pairs a handle with the renderer that produced it.
type multiHandle struct {
	owner controller.Renderer
	h     controller.Handle
}

// NewMulti creates a fan-out renderer.
func NewMulti(renderers ...controller.Renderer) *Multi {
	return &Multi{renderers: renderers}
}

// Render implements controller.Renderer.
func (m *Multi) Render(snap *model.Snapshot) {
	for _, r := range m.renderers {
		r.Render(snap)
	}
}

// FindElement implements controller.Renderer.
func (m *Multi) FindElement(entityID string) controller.Handle {
	for _, r := range m.renderers {
		if h := r.FindElement(entityID); h != nil {
			return multiHandle{owner: r, h: h}
		}
	}
	return nil
}

// OnAdd implements controller.Renderer.
func (m *Multi) OnAdd(h controller.Handle, entityID string) {
	if mh, ok := h.(multiHandle); ok {
		mh.owner.OnAdd(mh.h, entityID)
	}
}

// OnRemove implements controller.Renderer.
func (m *Multi) OnRemove(h controller.Handle, done func()) {
	if mh, ok := h.(multiHandle); ok {
		mh.owner.OnRemove(mh.h, done)
		return
	}
	done()
}

// OnTreeChange implements controller.Renderer.
func (m *Multi) OnTreeChange() {
	for _, r := range m.renderers {
		r.OnTreeChange()
	}
}
