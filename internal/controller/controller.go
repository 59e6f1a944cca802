// Package controller provides the sync controller that serializes store
// mutations with render scheduling and animation timing.
//
// The controller owns the entity store and is the only component that mutates
// it. Render requests are debounced so a burst of mutations collapses into a
// single render of the latest snapshot, and removal renders are sequenced
// behind exit animations so the visible tree never shows a structurally
// inconsistent intermediate state.
package controller

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Erikvl87/todosync/internal/event"
	"github.com/Erikvl87/todosync/internal/metrics"
	"github.com/Erikvl87/todosync/internal/model"
	"github.com/Erikvl87/todosync/internal/store"
)

const (
	// DefaultDebounceWindow coalesces bursts of mutations into one render.
	DefaultDebounceWindow = 150 * time.Millisecond

	// DefaultAnimationPoll is the delay before flushing the pending snapshot
	// once the last exit animation completes.
	DefaultAnimationPoll = 50 * time.Millisecond
)

// Handle is an opaque reference to a visible element, produced and consumed
// by the renderer.
type Handle = any

// Renderer turns snapshots into visible state. Implementations must not
// mutate the store; they read snapshots and call lifecycle hooks back into
// the controller.
type Renderer interface {
	// Render replaces the visible tree with the given snapshot.
	Render(snap *model.Snapshot)

	// FindElement returns a handle for the visible element of an entity, or
	// nil when the entity is not currently visible.
	FindElement(entityID string) Handle

	// OnAdd plays the enter transition for a newly rendered element. Called
	// at most once per added entity, after the render that introduced it.
	OnAdd(h Handle, entityID string)

	// OnRemove plays the exit transition for an element whose entity has
	// already been removed from the store. Implementations must eventually
	// invoke done, which releases the render pass held behind the animation.
	OnRemove(h Handle, done func())

	// OnTreeChange signals that a render pass completed, for layout-dependent
	// external work.
	OnTreeChange()
}

// renderState tracks where the controller is in its render cycle:
// Idle -> Debouncing -> Flushing -> (WaitingOnAnimations <-> Flushing) -> Idle.
type renderState int

const (
	stateIdle renderState = iota
	stateDebouncing
	stateFlushing
	stateWaitingOnAnimations
)

// String returns a human-readable representation of the render state.
func (s renderState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDebouncing:
		return "debouncing"
	case stateFlushing:
		return "flushing"
	case stateWaitingOnAnimations:
		return "waiting_on_animations"
	default:
		return "unknown"
	}
}

// Config holds configuration for the controller.
type Config struct {
	// DebounceWindow is the render coalescing delay
	// (default: DefaultDebounceWindow).
	DebounceWindow time.Duration

	// AnimationPoll is the post-animation flush delay
	// (default: DefaultAnimationPoll).
	AnimationPoll time.Duration

	// Logger for controller activity.
	Logger *log.Logger

	// Metrics enables instrumentation when non-nil.
	Metrics *metrics.Set
}

// Controller owns the entity store and drives the renderer.
type Controller struct {
	renderer Renderer
	cfg      Config
	logger   *log.Logger

	mu           sync.Mutex
	store        *store.Store
	state        renderState
	debounce     *time.Timer
	pendingSnap  *model.Snapshot
	pendingEnter map[string]bool
	animating    int
	closed       bool
}

// New creates a controller rendering through renderer.
func New(renderer Renderer, cfg Config) *Controller {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	if cfg.AnimationPoll <= 0 {
		cfg.AnimationPoll = DefaultAnimationPoll
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Controller{
		renderer:     renderer,
		cfg:          cfg,
		logger:       cfg.Logger,
		store:        store.New(cfg.Logger),
		pendingEnter: make(map[string]bool),
	}
}

// BulkLoad replaces the entire store from a bulk payload and schedules a
// render. When immediate is true the debounce window is bypassed, which is
// used for the first paint after the initial fetch.
func (c *Controller) BulkLoad(payload model.BulkPayload, immediate bool) {
	c.mu.Lock()
	c.store.Organize(payload)
	c.requestRenderLocked()
	if immediate && c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.mu.Unlock()

	if immediate {
		c.flush()
	}
}

// AddTask inserts a task and marks it pending-enter so the renderer can draw
// it in a pre-transition state. Returns store.ErrAlreadyExists for a
// duplicate id.
func (c *Controller) AddTask(t model.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.AddTask(t); err != nil {
		return err
	}
	c.pendingEnter[t.ID] = true
	c.requestRenderLocked()
	return nil
}

// UpdateTask replaces a task, subject to the store's staleness rule.
func (c *Controller) UpdateTask(t model.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.UpdateTask(t); err != nil {
		return err
	}
	c.requestRenderLocked()
	return nil
}

// AddSection upserts a section and marks it pending-enter.
func (c *Controller) AddSection(sec model.Section) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.AddSection(sec); err != nil {
		return err
	}
	c.pendingEnter[sec.ID] = true
	c.requestRenderLocked()
	return nil
}

// UpdateSection replaces a section, subject to the store's staleness rule.
func (c *Controller) UpdateSection(sec model.Section) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.UpdateSection(sec); err != nil {
		return err
	}
	c.requestRenderLocked()
	return nil
}

// UpdateProjectName replaces only the name field of the project header.
func (c *Controller) UpdateProjectName(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.UpdateProjectName(name); err != nil {
		return err
	}
	c.requestRenderLocked()
	return nil
}

// RemoveTask removes a task subtree. The store mutation is applied before
// any animation starts, so a subsequent event can never reference an entity
// that is visually present but logically gone. If the renderer still shows
// the element, its exit animation holds the next render until completion.
func (c *Controller) RemoveTask(id string) {
	c.mu.Lock()
	if _, ok := c.store.Task(id); !ok {
		c.mu.Unlock()
		return
	}
	c.store.RemoveTask(id)
	c.finishRemoveLocked(id)
}

// RemoveSection removes a section, cascading through its root tasks, with
// the same animation sequencing as RemoveTask.
func (c *Controller) RemoveSection(id string) {
	c.mu.Lock()
	if _, ok := c.store.Section(id); !ok {
		c.mu.Unlock()
		return
	}
	c.store.RemoveSection(id)
	c.finishRemoveLocked(id)
}

// finishRemoveLocked schedules the post-removal render and, when the element
// is still visible, holds it behind the exit animation. Called with c.mu
// held; releases it.
func (c *Controller) finishRemoveLocked(id string) {
	delete(c.pendingEnter, id)
	c.requestRenderLocked()
	c.mu.Unlock()

	h := c.renderer.FindElement(id)
	if h == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.animating++
	c.mu.Unlock()

	var once sync.Once
	c.renderer.OnRemove(h, func() {
		once.Do(func() { c.animationDone() })
	})
}

// Apply routes a decoded realtime event to the matching mutation. It is the
// handler the reorder queue wraps. Unknown events are ignored without error.
func (c *Controller) Apply(ev event.Event) error {
	switch ev.Kind {
	case event.KindTaskAdd:
		return c.AddTask(*ev.Task)
	case event.KindTaskUpdate:
		return c.UpdateTask(*ev.Task)
	case event.KindTaskRemove:
		c.RemoveTask(ev.ID)
		return nil
	case event.KindSectionAdd:
		return c.AddSection(*ev.Section)
	case event.KindSectionUpdate:
		return c.UpdateSection(*ev.Section)
	case event.KindSectionRemove:
		c.RemoveSection(ev.ID)
		return nil
	case event.KindProjectUpdate:
		return c.UpdateProjectName(ev.ProjectName)
	default:
		c.logger.Debug("ignoring unknown event", "event", ev.Name)
		return nil
	}
}

// Snapshot returns a fresh snapshot of the current store state.
func (c *Controller) Snapshot() *model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snapshot()
}

// EnterPending reports whether an entity was added but not yet rendered, so
// renderers can draw it in a pre-transition state.
func (c *Controller) EnterPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingEnter[id]
}

// Stats returns current store counts for status reporting.
func (c *Controller) Stats() (tasks, sections int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.TaskCount(), c.store.SectionCount()
}

// State returns the controller's render-cycle state as a string.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// Close stops the debounce timer and suppresses any late timer callbacks.
// The owner must Clear the reorder queue before calling Close.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
}

// requestRenderLocked captures the latest snapshot and arms the debounce
// timer when the controller is idle. Requests made while debouncing,
// flushing, or waiting on animations only refresh the pending snapshot; the
// cycle already in motion will consume it. Callers hold c.mu.
func (c *Controller) requestRenderLocked() {
	if c.closed {
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RenderRequests.Inc()
	}
	c.pendingSnap = c.store.Snapshot()
	if c.state == stateIdle {
		c.state = stateDebouncing
		c.debounce = time.AfterFunc(c.cfg.DebounceWindow, c.flush)
	}
}

// flush renders the most recently coalesced snapshot. It runs from the
// debounce timer, the post-animation poll, or an immediate bulk load. A
// flush that arrives while a render is already executing returns; the
// executing pass re-checks for pending work when it completes.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.closed || c.state == stateFlushing {
		c.mu.Unlock()
		return
	}
	c.debounce = nil

	if c.animating > 0 {
		// Held: the last exit animation's completion re-arms the flush.
		c.state = stateWaitingOnAnimations
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.AnimationWaits.Inc()
		}
		c.mu.Unlock()
		return
	}

	snap := c.pendingSnap
	if snap == nil {
		c.state = stateIdle
		c.mu.Unlock()
		return
	}
	c.pendingSnap = nil

	enters := make([]string, 0, len(c.pendingEnter))
	for id := range c.pendingEnter {
		enters = append(enters, id)
	}
	c.pendingEnter = make(map[string]bool)

	c.state = stateFlushing
	c.mu.Unlock()

	c.renderer.Render(snap)
	for _, id := range enters {
		if h := c.renderer.FindElement(id); h != nil {
			c.renderer.OnAdd(h, id)
		}
	}
	c.renderer.OnTreeChange()
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RendersTotal.Inc()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.pendingSnap != nil {
		// A mutation landed mid-flush: re-enter the debounce cycle so the
		// newer snapshot gets its own render pass.
		c.state = stateDebouncing
		c.debounce = time.AfterFunc(c.cfg.DebounceWindow, c.flush)
	} else {
		c.state = stateIdle
	}
	c.mu.Unlock()
}

// animationDone is invoked by the renderer's exit-animation completion
// callback. When the last in-flight animation finishes, a short poll flushes
// the most recent pending snapshot.
func (c *Controller) animationDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.animating > 0 {
		c.animating--
	}
	if c.closed || c.animating > 0 {
		return
	}
	if c.state == stateWaitingOnAnimations || c.pendingSnap != nil {
		time.AfterFunc(c.cfg.AnimationPoll, c.flush)
	}
}
