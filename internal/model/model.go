// Package model provides the data structures shared by the todosync engine.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Project is the header record for the currently loaded project.
//
// Only the name is interpreted by the engine. Any additional fields delivered
// by the backend are preserved verbatim in Extra so they survive a re-marshal
// (e.g. when broadcasting snapshots to dashboard clients).
type Project struct {
	Name string

	// Extra holds fields of the wire payload that the engine does not
	// interpret, keyed by their JSON name.
	Extra map[string]json.RawMessage
}

// UnmarshalJSON decodes a project header, splitting the name from the
// uninterpreted remainder of the payload.
func (p *Project) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &p.Name); err != nil {
			return fmt.Errorf("invalid project name: %w", err)
		}
		delete(fields, "name")
	}
	if len(fields) > 0 {
		p.Extra = fields
	} else {
		p.Extra = nil
	}
	return nil
}

// MarshalJSON re-assembles the project header, merging the name back into the
// preserved extra fields.
func (p Project) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(p.Extra)+1)
	for k, v := range p.Extra {
		fields[k] = v
	}
	name, err := json.Marshal(p.Name)
	if err != nil {
		return nil, err
	}
	fields["name"] = name
	return json.Marshal(fields)
}

// Clone returns an independent copy of the project header.
func (p Project) Clone() Project {
	out := Project{Name: p.Name}
	if p.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Section groups root-level tasks. Sections are ordered by SectionOrder
// ascending within a snapshot.
type Section struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SectionOrder int       `json:"section_order"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks that the section carries the fields required for routing.
func (s *Section) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("section id is required")
	}
	return nil
}

// Task is a single task record.
//
// ParentID references another task in the same store (nil for root tasks).
// SectionID assigns a root task to a section (nil or unknown ids render as
// unsectioned). UpdatedAt drives last-timestamp-wins conflict resolution.
type Task struct {
	ID         string    `json:"id"`
	ParentID   *string   `json:"parent_id"`
	SectionID  *string   `json:"section_id"`
	ChildOrder int       `json:"child_order"`
	Content    string    `json:"content"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks that the task carries the fields required for routing.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	return nil
}

// Root reports whether the task has no parent.
func (t *Task) Root() bool {
	return t.ParentID == nil || *t.ParentID == ""
}

// CompareTasks orders sibling tasks: ChildOrder ascending, ties broken by id
// ascending. Arrival order never participates.
func CompareTasks(a, b Task) int {
	if a.ChildOrder != b.ChildOrder {
		if a.ChildOrder < b.ChildOrder {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// TaskNode is a task annotated with its resolved children and depth. Nodes
// exist only inside a snapshot and are rebuilt on every snapshot request.
type TaskNode struct {
	Task     `json:"task"`
	Children []*TaskNode `json:"children"`
	Depth    int         `json:"depth"`
}

// SectionNode is a section together with its ordered root tasks.
type SectionNode struct {
	Section `json:"section"`
	Tasks   []*TaskNode `json:"tasks"`
}

// Snapshot is an immutable, fully ordered tree view of store state.
type Snapshot struct {
	Project     *Project       `json:"project"`
	Sections    []*SectionNode `json:"sections"`
	Unsectioned []*TaskNode    `json:"unsectioned"`
}

// BulkPayload is the one-shot load delivered by the transport layer.
// Sections and Tasks default to empty when omitted.
type BulkPayload struct {
	Project  Project   `json:"project"`
	Sections []Section `json:"sections"`
	Tasks    []Task    `json:"tasks"`
}
