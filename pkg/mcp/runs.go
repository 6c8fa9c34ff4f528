package mcp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/conductor/internal/run"
	"github.com/rendis/conductor/internal/streaming"
	"github.com/rendis/conductor/pkg/schema"
)

// RunHandle is the live view of one in-flight or just-finished run: its
// mailboxes, the last notification that asked the caller for input, and the
// terminal result once the run goroutine returns.
type RunHandle struct {
	ID string

	boxes  *run.Mailboxes
	cancel context.CancelFunc

	mu      sync.RWMutex
	last    *run.Notification
	pending *run.Notification
	result  *schema.RunResult
	err     error
	done    bool
}

func (h *RunHandle) observe(n run.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &n
	switch n.Kind {
	case schema.EventPlannerMessage, schema.EventNeedStepDecision:
		h.pending = &n
	case schema.EventPlanAccepted, schema.EventExec, schema.EventRunDone, schema.EventRunError:
		h.pending = nil
	}
}

func (h *RunHandle) complete(result *schema.RunResult, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result = result
	h.err = err
	h.done = true
}

// Snapshot is the status view a caller gets for a run.
type Snapshot struct {
	RunID   string              `json:"run_id"`
	Phase   string              `json:"phase"`
	Waiting *run.Notification   `json:"waiting_on,omitempty"`
	Last    *run.Notification   `json:"last_event,omitempty"`
	Result  *schema.RunResult   `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (h *RunHandle) snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Snapshot{RunID: h.ID, Phase: "running", Last: h.last, Waiting: h.pending}
	if h.done {
		s.Phase = "done"
		s.Result = h.result
		s.Waiting = nil
		if h.err != nil {
			s.Phase = "error"
			s.Error = h.err.Error()
		}
	}
	return s
}

// RunManager starts runs on their own goroutines and tracks them by run ID
// until they finish. Notifications fan out to the event hub and, when a
// notifier is attached, to the session that owns the run.
type RunManager struct {
	orc      *run.Orchestrator
	hub      streaming.EventHub
	notifier AgentNotifier
	logger   *slog.Logger

	mu   sync.RWMutex
	runs map[string]*RunHandle
}

func NewRunManager(orc *run.Orchestrator, hub streaming.EventHub, logger *slog.Logger) *RunManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunManager{
		orc:    orc,
		hub:    hub,
		logger: logger,
		runs:   make(map[string]*RunHandle),
	}
}

// SetNotifier attaches the push channel. Called once the MCP server exists;
// the manager works without one (hub-only fan-out).
func (m *RunManager) SetNotifier(n AgentNotifier) { m.notifier = n }

// Start launches a run and blocks only until its run ID is known, which the
// controller announces with its first notification. The run itself keeps
// going on a detached context until it finishes or Cancel is called.
func (m *RunManager) Start(ctx context.Context, req run.StartRequest) (string, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	handle := &RunHandle{boxes: run.NewMailboxes(), cancel: cancel}
	var once sync.Once
	ready := make(chan string, 1)

	emit := func(ctx context.Context, n run.Notification) {
		once.Do(func() { ready <- n.RunID })
		handle.observe(n)
		m.fanOut(ctx, n)
	}

	finished := make(chan error, 1)
	go func() {
		result, err := m.orc.StartRun(runCtx, req, handle.boxes, emit)
		handle.complete(result, err)
		finished <- err
	}()

	select {
	case runID := <-ready:
		handle.ID = runID
		m.mu.Lock()
		m.runs[runID] = handle
		m.mu.Unlock()
		return runID, nil
	case err := <-finished:
		// The run ended before announcing itself: cancelled before the
		// first event, or a collaborator failed without an emit path.
		cancel()
		if err == nil {
			err = schema.NewRunError(schema.ErrCodeRunTaskFailed,
				"run finished without announcing itself", schema.SourceOrchestrator)
		}
		return "", err
	case <-ctx.Done():
		cancel()
		return "", ctx.Err()
	}
}

func (m *RunManager) fanOut(ctx context.Context, n run.Notification) {
	if m.hub != nil {
		ev := streaming.StreamEvent{
			RunID:     n.RunID,
			StepID:    n.StepID,
			EventType: n.Kind,
			Payload:   n,
		}
		if err := m.hub.Publish(ctx, ev); err != nil {
			m.logger.WarnContext(ctx, "hub publish failed", "run_id", n.RunID, "error", err)
		}
	}
	if m.notifier != nil {
		payload := map[string]any{
			"type":   string(n.Kind),
			"run_id": n.RunID,
			"event":  n,
		}
		if err := m.notifier.Notify(ctx, n.RunID, payload); err != nil {
			m.logger.WarnContext(ctx, "session notify failed", "run_id", n.RunID, "error", err)
		}
	}
}

// Get returns the live handle for a run, if the manager still tracks it.
func (m *RunManager) Get(runID string) (*RunHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.runs[runID]
	return h, ok
}

// Message delivers a user reply to a run's planning conversation.
func (m *RunManager) Message(runID string, msg schema.Message) bool {
	h, ok := m.Get(runID)
	if !ok {
		return false
	}
	h.boxes.UserMessages.Put(msg)
	return true
}

// Decide delivers an operator decision for a failed step.
func (m *RunManager) Decide(d run.DecisionMessage) bool {
	h, ok := m.Get(d.RunID)
	if !ok {
		return false
	}
	h.boxes.Decisions.Put(d)
	return true
}

// Cancel stops a run's goroutine. The handle stays queryable.
func (m *RunManager) Cancel(runID string) bool {
	h, ok := m.Get(runID)
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// CancelAll stops every tracked run. Used on shutdown.
func (m *RunManager) CancelAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.runs {
		h.cancel()
	}
}
