// Package store provides the normalized entity store for the todosync engine.
//
// The store holds the single project header plus id-indexed Task and Section
// records, and builds ordered tree snapshots on demand. It performs staleness
// detection for updates (last-timestamp-wins) and cascading removal for task
// subtrees.
//
// The store is not safe for concurrent use. It is exclusively owned by the
// sync controller, which serializes all access.
package store

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/Erikvl87/todosync/internal/model"
)

var (
	// ErrNotFound indicates an update targeted an id that is not present.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists indicates an add targeted a task id that is already
	// present.
	ErrAlreadyExists = errors.New("entity already exists")
)

// Store is the normalized entity store.
type Store struct {
	project  *model.Project
	sections map[string]model.Section
	tasks    map[string]model.Task

	logger *log.Logger
}

// New creates an empty store. If logger is nil, the default logger is used.
func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		sections: make(map[string]model.Section),
		tasks:    make(map[string]model.Task),
		logger:   logger,
	}
}

// Organize replaces the project, sections, and tasks wholesale from a bulk
// payload. Bulk load is authoritative: no staleness checks apply.
func (s *Store) Organize(payload model.BulkPayload) {
	project := payload.Project.Clone()
	s.project = &project

	s.sections = make(map[string]model.Section, len(payload.Sections))
	for _, sec := range payload.Sections {
		s.sections[sec.ID] = sec
	}

	s.tasks = make(map[string]model.Task, len(payload.Tasks))
	for _, t := range payload.Tasks {
		s.tasks[t.ID] = t
	}

	s.logger.Debug("organized store", "sections", len(s.sections), "tasks", len(s.tasks))
}

// AddTask inserts a new task. Returns ErrAlreadyExists if the id is present.
func (s *Store) AddTask(t model.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("add task %s: %w", t.ID, ErrAlreadyExists)
	}
	s.tasks[t.ID] = t
	return nil
}

// AddSection inserts or unconditionally overwrites a section. Unlike tasks,
// section adds are upserts: re-adding (e.g. on section:unarchived) replaces
// the stored record without a staleness check.
func (s *Store) AddSection(sec model.Section) error {
	if err := sec.Validate(); err != nil {
		return err
	}
	s.sections[sec.ID] = sec
	return nil
}

// UpdateTask replaces an existing task, subject to the staleness rule: an
// incoming UpdatedAt strictly before the stored value is ignored with a
// diagnostic notice. Equal timestamps apply.
//
// Returns ErrNotFound if the id is absent.
func (s *Store) UpdateTask(t model.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	stored, ok := s.tasks[t.ID]
	if !ok {
		return fmt.Errorf("update task %s: %w", t.ID, ErrNotFound)
	}
	if t.UpdatedAt.Before(stored.UpdatedAt) {
		s.logger.Debug("ignoring stale task update", "id", t.ID,
			"incoming", t.UpdatedAt, "stored", stored.UpdatedAt)
		return nil
	}
	s.tasks[t.ID] = t
	return nil
}

// UpdateSection replaces an existing section, subject to the same staleness
// rule as UpdateTask. Returns ErrNotFound if the id is absent.
func (s *Store) UpdateSection(sec model.Section) error {
	if err := sec.Validate(); err != nil {
		return err
	}
	stored, ok := s.sections[sec.ID]
	if !ok {
		return fmt.Errorf("update section %s: %w", sec.ID, ErrNotFound)
	}
	if sec.UpdatedAt.Before(stored.UpdatedAt) {
		s.logger.Debug("ignoring stale section update", "id", sec.ID,
			"incoming", sec.UpdatedAt, "stored", stored.UpdatedAt)
		return nil
	}
	s.sections[sec.ID] = sec
	return nil
}

// UpdateProjectName replaces the name field of the project header, leaving
// every other field untouched. Returns ErrNotFound when no project has been
// loaded yet.
func (s *Store) UpdateProjectName(name string) error {
	if s.project == nil {
		return fmt.Errorf("update project: %w", ErrNotFound)
	}
	s.project.Name = name
	return nil
}

// RemoveTask removes a task together with every task transitively parented
// under it. Removing an absent id is a no-op.
//
// The cascade runs breadth-first over the live id-indexed table with a
// visited set, so a malformed parent chain cannot cause unbounded traversal.
func (s *Store) RemoveTask(id string) {
	if _, ok := s.tasks[id]; !ok {
		return
	}

	doomed := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for childID, t := range s.tasks {
			if doomed[childID] {
				continue
			}
			if t.ParentID != nil && *t.ParentID == parent {
				doomed[childID] = true
				queue = append(queue, childID)
			}
		}
	}

	for victim := range doomed {
		delete(s.tasks, victim)
	}
	s.logger.Debug("removed task subtree", "id", id, "count", len(doomed))
}

// RemoveSection removes a section and cascades removal through every stored
// root task carrying its section id. Removing an absent id is a no-op.
//
// Only tasks that are simultaneously root-level and tagged with the section id
// are cascaded; a child task whose section id diverges from its ancestor's is
// left to its parent's cascade.
func (s *Store) RemoveSection(id string) {
	if _, ok := s.sections[id]; !ok {
		return
	}

	var roots []string
	for taskID, t := range s.tasks {
		if !t.Root() {
			continue
		}
		if t.SectionID != nil && *t.SectionID == id {
			roots = append(roots, taskID)
		}
	}
	for _, taskID := range roots {
		s.RemoveTask(taskID)
	}

	delete(s.sections, id)
	s.logger.Debug("removed section", "id", id, "roots", len(roots))
}

// Project returns the current project header, or nil before the first bulk
// load. The returned value is a copy.
func (s *Store) Project() *model.Project {
	if s.project == nil {
		return nil
	}
	p := s.project.Clone()
	return &p
}

// Task returns the stored task for id.
func (s *Store) Task(id string) (model.Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// Section returns the stored section for id.
func (s *Store) Section(id string) (model.Section, bool) {
	sec, ok := s.sections[id]
	return sec, ok
}

// TaskCount returns the number of stored tasks.
func (s *Store) TaskCount() int {
	return len(s.tasks)
}

// SectionCount returns the number of stored sections.
func (s *Store) SectionCount() int {
	return len(s.sections)
}
