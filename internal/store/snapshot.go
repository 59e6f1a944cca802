package store

import (
	"sort"

	"github.com/Erikvl87/todosync/internal/model"
)

// Snapshot builds a fresh ordered tree view of the current store state.
//
// Every call returns a new, independent snapshot: task records are copied into
// TaskNode wrappers, so later store mutations never alias into a snapshot a
// renderer is still holding.
//
// Construction:
//  1. Wrap every stored task in a TaskNode.
//  2. Link each node to its parent when the parent is present; tasks whose
//     declared parent is missing become roots.
//  3. Sort every sibling list by (child_order asc, id asc).
//  4. Assign depths top-down with an explicit worklist.
//  5. Group roots into their owning section by section_id, collect the rest
//     (no section, or unknown section id) into Unsectioned, and sort sections
//     by section_order ascending.
func (s *Store) Snapshot() *model.Snapshot {
	nodes := make(map[string]*model.TaskNode, len(s.tasks))
	for id, t := range s.tasks {
		nodes[id] = &model.TaskNode{Task: t}
	}

	var roots []*model.TaskNode
	for _, node := range nodes {
		if !node.Root() {
			if parent, ok := nodes[*node.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortSiblings(roots)
	for _, node := range nodes {
		sortSiblings(node.Children)
	}

	// Depth assignment over a worklist; the visited set bounds traversal even
	// if a malformed parent cycle sneaks into the payload.
	visited := make(map[string]bool, len(nodes))
	work := make([]*model.TaskNode, 0, len(nodes))
	for _, root := range roots {
		root.Depth = 0
		work = append(work, root)
	}
	for len(work) > 0 {
		node := work[len(work)-1]
		work = work[:len(work)-1]
		if visited[node.ID] {
			continue
		}
		visited[node.ID] = true
		for _, child := range node.Children {
			child.Depth = node.Depth + 1
			work = append(work, child)
		}
	}

	snap := &model.Snapshot{
		Project:     s.Project(),
		Sections:    make([]*model.SectionNode, 0, len(s.sections)),
		Unsectioned: []*model.TaskNode{},
	}

	bySection := make(map[string][]*model.TaskNode)
	for _, root := range roots {
		if root.SectionID != nil {
			if _, ok := s.sections[*root.SectionID]; ok {
				bySection[*root.SectionID] = append(bySection[*root.SectionID], root)
				continue
			}
		}
		snap.Unsectioned = append(snap.Unsectioned, root)
	}

	for id, sec := range s.sections {
		tasks := bySection[id]
		if tasks == nil {
			tasks = []*model.TaskNode{}
		}
		snap.Sections = append(snap.Sections, &model.SectionNode{Section: sec, Tasks: tasks})
	}
	sort.Slice(snap.Sections, func(i, j int) bool {
		a, b := snap.Sections[i], snap.Sections[j]
		if a.SectionOrder != b.SectionOrder {
			return a.SectionOrder < b.SectionOrder
		}
		return a.Section.ID < b.Section.ID
	})

	return snap
}

// sortSiblings orders a sibling list by the store-wide ordering invariant.
func sortSiblings(nodes []*model.TaskNode) {
	sort.Slice(nodes, func(i, j int) bool {
		return model.CompareTasks(nodes[i].Task, nodes[j].Task) < 0
	})
}
