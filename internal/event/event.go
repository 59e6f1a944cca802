// Package event decodes realtime event envelopes into a closed set of typed
// mutations.
//
// Payload narrowing happens here, at the boundary: the store never sees raw
// JSON. Unrecognized event names decode to KindUnknown, which downstream
// handlers ignore without error.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Erikvl87/todosync/internal/model"
)

// Kind identifies the effect an event has on the store.
type Kind int

const (
	// KindUnknown is any unrecognized event name. Ignored, not an error.
	KindUnknown Kind = iota
	// KindTaskAdd inserts a task (item:added, item:uncompleted).
	KindTaskAdd
	// KindTaskUpdate replaces a task (item:updated).
	KindTaskUpdate
	// KindTaskRemove removes a task subtree (item:completed, item:deleted).
	KindTaskRemove
	// KindSectionAdd upserts a section (section:added, section:unarchived).
	KindSectionAdd
	// KindSectionUpdate replaces a section (section:updated).
	KindSectionUpdate
	// KindSectionRemove removes a section (section:archived, section:deleted).
	KindSectionRemove
	// KindProjectUpdate replaces the project header name (project:updated).
	KindProjectUpdate
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTaskAdd:
		return "task_add"
	case KindTaskUpdate:
		return "task_update"
	case KindTaskRemove:
		return "task_remove"
	case KindSectionAdd:
		return "section_add"
	case KindSectionUpdate:
		return "section_update"
	case KindSectionRemove:
		return "section_remove"
	case KindProjectUpdate:
		return "project_update"
	default:
		return "unknown"
	}
}

// Envelope is the wire format of a realtime event.
type Envelope struct {
	EventName string          `json:"event_name"`
	EventData json.RawMessage `json:"event_data"`
}

// Event is a decoded realtime event. Exactly one of Task, Section, ID, or
// ProjectName is populated, depending on Kind.
type Event struct {
	// Name is the original event_name from the envelope.
	Name string

	// Kind routes the event to a store mutation.
	Kind Kind

	// Task is set for KindTaskAdd and KindTaskUpdate.
	Task *model.Task

	// Section is set for KindSectionAdd and KindSectionUpdate.
	Section *model.Section

	// ID is set for KindTaskRemove and KindSectionRemove.
	ID string

	// ProjectName is set for KindProjectUpdate.
	ProjectName string
}

// removalData is the minimal payload shape for removal events.
type removalData struct {
	ID string `json:"id"`
}

// projectData is the minimal payload shape for project:updated.
type projectData struct {
	Name string `json:"name"`
}

// Decode parses a raw envelope into a typed event.
//
// A malformed envelope or a payload that cannot be narrowed to the shape its
// event name requires yields an error; an unrecognized event name does not.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("malformed event envelope: %w", err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope narrows an already-parsed envelope into a typed event.
func DecodeEnvelope(env Envelope) (Event, error) {
	ev := Event{Name: env.EventName}

	switch env.EventName {
	case "item:added", "item:uncompleted":
		ev.Kind = KindTaskAdd
	case "item:updated":
		ev.Kind = KindTaskUpdate
	case "item:completed", "item:deleted":
		ev.Kind = KindTaskRemove
	case "section:added", "section:unarchived":
		ev.Kind = KindSectionAdd
	case "section:updated":
		ev.Kind = KindSectionUpdate
	case "section:archived", "section:deleted":
		ev.Kind = KindSectionRemove
	case "project:updated":
		ev.Kind = KindProjectUpdate
	default:
		ev.Kind = KindUnknown
		return ev, nil
	}

	switch ev.Kind {
	case KindTaskAdd, KindTaskUpdate:
		var t model.Task
		if err := json.Unmarshal(env.EventData, &t); err != nil {
			return Event{}, fmt.Errorf("event %s: invalid task payload: %w", env.EventName, err)
		}
		ev.Task = &t
	case KindSectionAdd, KindSectionUpdate:
		var s model.Section
		if err := json.Unmarshal(env.EventData, &s); err != nil {
			return Event{}, fmt.Errorf("event %s: invalid section payload: %w", env.EventName, err)
		}
		ev.Section = &s
	case KindTaskRemove, KindSectionRemove:
		var d removalData
		if err := json.Unmarshal(env.EventData, &d); err != nil {
			return Event{}, fmt.Errorf("event %s: invalid removal payload: %w", env.EventName, err)
		}
		ev.ID = d.ID
	case KindProjectUpdate:
		var d projectData
		if err := json.Unmarshal(env.EventData, &d); err != nil {
			return Event{}, fmt.Errorf("event %s: invalid project payload: %w", env.EventName, err)
		}
		ev.ProjectName = d.Name
	}

	return ev, nil
}

// EntityID returns the id of the entity the event refers to, or "" when the
// event carries no identifiable entity (project updates, unknown events).
func (e Event) EntityID() string {
	switch {
	case e.Task != nil:
		return e.Task.ID
	case e.Section != nil:
		return e.Section.ID
	default:
		return e.ID
	}
}

// Timestamp returns the payload's own update time when it carries one.
func (e Event) Timestamp() (time.Time, bool) {
	switch {
	case e.Task != nil && !e.Task.UpdatedAt.IsZero():
		return e.Task.UpdatedAt, true
	case e.Section != nil && !e.Section.UpdatedAt.IsZero():
		return e.Section.UpdatedAt, true
	default:
		return time.Time{}, false
	}
}

// Handler applies a decoded event to the engine. It must be synchronous: a
// returned error means the event did not take effect and may be buffered for
// replay.
type Handler func(Event) error
