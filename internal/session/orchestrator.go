package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/murmur/internal/dispatch"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/hotkey"
	"github.com/rbright/murmur/internal/listener"
	"github.com/rbright/murmur/internal/worker"
)

const (
	defaultCaptureTimeout = 5 * time.Second
	defaultRehookDelay    = 5 * time.Second
)

// Deps wires an Orchestrator. Loop is required. A nil Source leaves the
// orchestrator in UI-only mode.
type Deps struct {
	Loop        *dispatch.Loop
	Source      listener.Source
	Recorder    Recorder
	Processor   Processor
	Subscribers []Subscriber
	// Grace bounds how long a cancelled task may take to exit.
	Grace time.Duration
	// DefaultSet is used by triggers that carry no hotkey.
	DefaultSet     string
	CaptureTimeout time.Duration
	// RehookDelay spaces attempts to reinstall a failed listener hook.
	RehookDelay time.Duration
	Logger      *slog.Logger
}

// Orchestrator is the session state machine.
//
// Everything except HandleHotkey and Handle must be called on the loop. The
// registry, the gate and the session are only ever touched there, and the
// gate and registry only while the listener is stopped.
type Orchestrator struct {
	loop      *dispatch.Loop
	logger    *slog.Logger
	recorder  Recorder
	processor Processor
	workers   *worker.Dispatcher[Result]
	subs      Subscribers

	registry *hotkey.Registry
	gate     *hotkey.FilterGate
	listener *listener.Listener

	defaultSet     string
	captureTimeout time.Duration
	rehookDelay    time.Duration

	state        fsm.State
	session      *activeSession
	tasks        map[string]*taskRecord
	listening    bool
	hookErr      error
	rehookCancel func() bool
	pending      *pendingBind
}

type pendingBind struct {
	bindings []hotkey.Binding
	applied  func()
}

type activeSession struct {
	id        string
	set       string
	hotkey    *hotkey.Hotkey
	startedAt time.Time
	task      *worker.Handle
}

// taskRecord keeps what is needed to report a task's terminal outcome after
// its session has already been reset.
type taskRecord struct {
	session  Snapshot
	artifact Artifact
}

// New constructs an idle orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Loop == nil {
		return nil, errors.New("session orchestrator requires a dispatch loop")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = placeholderRecorder{}
	}
	processor := deps.Processor
	if processor == nil {
		processor = placeholderProcessor{}
	}
	captureTimeout := deps.CaptureTimeout
	if captureTimeout <= 0 {
		captureTimeout = defaultCaptureTimeout
	}
	rehookDelay := deps.RehookDelay
	if rehookDelay <= 0 {
		rehookDelay = defaultRehookDelay
	}

	o := &Orchestrator{
		loop:           deps.Loop,
		logger:         logger,
		recorder:       recorder,
		processor:      processor,
		workers:        worker.NewDispatcher[Result](deps.Loop, deps.Grace, logger),
		subs:           Subscribers{logger: logger},
		registry:       hotkey.NewRegistry(),
		gate:           hotkey.NewFilterGate(),
		defaultSet:     deps.DefaultSet,
		captureTimeout: captureTimeout,
		rehookDelay:    rehookDelay,
		state:          fsm.StateIdle,
		tasks:          make(map[string]*taskRecord),
	}
	for _, sub := range deps.Subscribers {
		o.subs.Add(sub)
	}

	if deps.Source != nil {
		o.listener = listener.New(deps.Source, o.gate, logger)
		o.listener.OnFailure(func(gen uint64, err error) {
			o.loop.Post(func() { o.onListenerFailure(gen, err) })
		})
	}
	return o, nil
}

// Subscribe adds a subscriber.
func (o *Orchestrator) Subscribe(sub Subscriber) {
	o.subs.Add(sub)
}

// SetDefaultSet changes the instruction set used by triggers without a hotkey.
func (o *Orchestrator) SetDefaultSet(set string) {
	o.defaultSet = set
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() fsm.State {
	return o.state
}

// Snapshot describes the current session.
func (o *Orchestrator) Snapshot() Snapshot {
	snap := Snapshot{
		State:         o.state,
		Gate:          o.gate.Mode(),
		HotkeysActive: o.listener != nil && o.listener.Running() && o.hookErr == nil,
	}
	if s := o.session; s != nil {
		snap.ID = s.id
		snap.Set = s.set
		snap.StartedAt = s.startedAt
		if s.hotkey != nil {
			snap.Hotkey = s.hotkey.String()
		}
	}
	return snap
}

// Bindings returns the registered bindings in registration order.
func (o *Orchestrator) Bindings() []hotkey.Binding {
	return o.registry.All()
}

// Workers exposes the task dispatcher counters.
func (o *Orchestrator) Workers() *worker.Dispatcher[Result] {
	return o.workers
}

// Bind replaces every hotkey binding. Handlers in bindings are ignored; the
// orchestrator installs its own. The new set is validated first and nothing
// changes on error. While a session is active the swap is deferred until it
// returns to idle.
func (o *Orchestrator) Bind(bindings []hotkey.Binding) error {
	return o.BindThen(bindings, nil)
}

// BindThen is Bind with a callback that runs on the loop once the bindings
// are actually swapped in, so state keyed by binding owners can change in
// step with them. A later deferred bind replaces an earlier one along with
// its callback.
func (o *Orchestrator) BindThen(bindings []hotkey.Binding, applied func()) error {
	candidate := hotkey.NewRegistry()
	for _, b := range bindings {
		if err := candidate.Register(b.Hotkey, b.Owner, o.HandleHotkey); err != nil {
			return fmt.Errorf("bind %s for %q: %w", b.Hotkey, b.Owner, err)
		}
	}

	if o.state != fsm.StateIdle {
		o.pending = &pendingBind{bindings: candidate.All(), applied: applied}
		o.logger.Info("hotkey rebind deferred until idle", "bindings", candidate.Len(), "state", string(o.state))
		return nil
	}

	o.pending = nil
	o.withListenerStopped(func() {
		o.registry.Reset()
		for _, b := range candidate.All() {
			// already validated against an empty registry
			_ = o.registry.Register(b.Hotkey, b.Owner, b.Handler)
		}
	})
	if applied != nil {
		applied()
	}
	o.logger.Info("hotkeys bound", "bindings", o.registry.Len())
	return nil
}

// Listen starts the global listener for the current bindings. A failure
// leaves the orchestrator usable through UI triggers; the next transition
// retries the hook.
func (o *Orchestrator) Listen() error {
	if o.listener == nil {
		return listener.ErrUnsupported
	}
	o.listening = true
	o.withListenerStopped(func() {})
	o.subs.OnStateChanged(o.Snapshot())
	return o.hookErr
}

// Shutdown stops the listener and abandons any active session.
func (o *Orchestrator) Shutdown() {
	o.listening = false
	o.cancelRehook()
	if o.listener != nil {
		o.listener.Stop()
	}

	switch o.state {
	case fsm.StateRecording:
		ctx, cancel := o.captureContext()
		if err := o.recorder.CancelCapture(ctx); err != nil {
			o.logger.Warn("cancel capture on shutdown failed", "error", err.Error())
		}
		cancel()
	case fsm.StateProcessing:
		if o.session != nil && o.session.task != nil {
			go o.session.task.Cancel()
		}
	}
	o.state = fsm.StateIdle
	o.session = nil
	o.gate.SetUnrestricted()
}

// HandleHotkey is the binding handler. It runs on the listener goroutine and
// only posts onto the loop.
func (o *Orchestrator) HandleHotkey(h hotkey.Hotkey) {
	if !o.loop.Post(func() { o.onHotkey(h) }) {
		o.logger.Debug("hotkey dropped; loop closed", "hotkey", h.String())
	}
}

func (o *Orchestrator) onHotkey(h hotkey.Hotkey) {
	owner, ok := o.registry.FindOwner(h)
	if !ok {
		o.logger.Warn("hotkey has no owner; ignored", "hotkey", h.String())
		return
	}
	o.logger.Debug("hotkey pressed", "hotkey", h.String(), "owner", owner, "state", string(o.state))

	switch o.state {
	case fsm.StateProcessing:
		o.Cancel()
	case fsm.StateRecording:
		o.Stop()
	default:
		o.start(&h, owner)
	}
}

// Start begins recording. A non-nil h resolves the instruction set through
// the hotkey owner and restricts the gate to h; a nil h uses the default set
// and blocks every hotkey until the session ends. It reports false when the
// request was rejected.
func (o *Orchestrator) Start(h *hotkey.Hotkey) bool {
	if h == nil {
		return o.start(nil, o.defaultSet)
	}
	owner, ok := o.registry.FindOwner(*h)
	if !ok {
		o.logger.Warn("start hotkey has no owner; ignored", "hotkey", h.String())
		return false
	}
	return o.start(h, owner)
}

// StartSet begins recording with an explicit instruction set, as a UI
// trigger does.
func (o *Orchestrator) StartSet(set string) bool {
	if set == "" {
		set = o.defaultSet
	}
	return o.start(nil, set)
}

func (o *Orchestrator) start(h *hotkey.Hotkey, set string) bool {
	next, err := fsm.Transition(o.state, fsm.EventStart)
	if err != nil {
		o.logger.Debug("start rejected", "state", string(o.state), "reason", err.Error())
		return false
	}
	if n := o.workers.Outstanding(); n > 0 {
		o.logger.Warn("previous task goroutines still running",
			"outstanding", n,
			"leaked", o.workers.Leaked(),
		)
	}

	var target *hotkey.Hotkey
	if h != nil {
		copied := *h
		target = &copied
	}
	o.session = &activeSession{
		id:        uuid.NewString(),
		set:       set,
		hotkey:    target,
		startedAt: time.Now(),
	}
	o.withListenerStopped(func() { o.gate.SetRestricted(target) })

	ctx, cancel := o.captureContext()
	defer cancel()
	if err := o.recorder.StartCapture(ctx, set); err != nil {
		o.logger.Error("start capture failed", "session_id", o.session.id, "set", set, "error", err.Error())
		failed := o.resultFor(o.Snapshot())
		failed.Err = fmt.Errorf("start capture: %w", err)
		o.reset()
		o.subs.OnComplete(failed)
		return false
	}

	o.state = next
	o.logger.Info("session recording",
		"session_id", o.session.id,
		"set", set,
		"gate", o.gate.Mode(),
	)
	o.subs.OnStateChanged(o.Snapshot())
	return true
}

// Stop ends recording and hands the artifact to a background task. Without
// an artifact the session returns straight to idle.
func (o *Orchestrator) Stop() bool {
	next, err := fsm.Transition(o.state, fsm.EventStop)
	if err != nil {
		o.logger.Debug("stop rejected", "state", string(o.state), "reason", err.Error())
		return false
	}
	sess := o.session

	ctx, cancel := o.captureContext()
	artifact, ok, err := o.recorder.StopCapture(ctx)
	cancel()
	if err != nil {
		o.logger.Error("stop capture failed", "session_id", sess.id, "error", err.Error())
		failed := o.resultFor(o.Snapshot())
		failed.Err = fmt.Errorf("stop capture: %w", err)
		o.finish(fsm.EventDiscard)
		o.subs.OnComplete(failed)
		return true
	}
	if !ok {
		o.logger.Info("no audio captured; session discarded", "session_id", sess.id)
		o.finish(fsm.EventDiscard)
		return true
	}

	o.state = next
	if o.gate.Restricted() {
		o.withListenerStopped(o.gate.SetUnrestricted)
	}

	snap := o.Snapshot()
	handle := o.workers.Run(
		o.processor.Task(sess.set, artifact),
		func(chunk string) { o.onProgress(sess.id, chunk) },
		o.onOutcome,
	)
	sess.task = handle
	o.tasks[handle.ID()] = &taskRecord{session: snap, artifact: artifact}

	o.logger.Info("session processing",
		"session_id", sess.id,
		"task_id", handle.ID(),
		"artifact_bytes", artifact.Bytes,
		"audio_device", artifact.Device,
	)
	o.subs.OnStateChanged(snap)
	return true
}

// Cancel abandons the active session. From processing it returns to idle at
// once; the task's single terminal outcome is forwarded when it arrives.
func (o *Orchestrator) Cancel() bool {
	if _, err := fsm.Transition(o.state, fsm.EventCancel); err != nil {
		o.logger.Debug("cancel rejected", "state", string(o.state), "reason", err.Error())
		return false
	}
	sess := o.session

	switch o.state {
	case fsm.StateRecording:
		ctx, cancel := o.captureContext()
		if err := o.recorder.CancelCapture(ctx); err != nil {
			o.logger.Warn("cancel capture failed", "session_id", sess.id, "error", err.Error())
		}
		cancel()
		snap := o.Snapshot()
		o.finish(fsm.EventCancel)
		o.logger.Info("session cancelled while recording", "session_id", sess.id)
		o.subs.OnCancelled(snap)
	case fsm.StateProcessing:
		handle := sess.task
		o.finish(fsm.EventCancel)
		o.logger.Info("session cancel requested", "session_id", sess.id, "task_id", handle.ID())
		go handle.Cancel()
	}
	return true
}

// Toggle cancels while processing, stops while recording and otherwise starts.
func (o *Orchestrator) Toggle() bool {
	switch o.state {
	case fsm.StateProcessing:
		return o.Cancel()
	case fsm.StateRecording:
		return o.Stop()
	default:
		return o.Start(nil)
	}
}

func (o *Orchestrator) onProgress(sessionID string, chunk string) {
	if o.session == nil || o.session.id != sessionID {
		return
	}
	o.subs.OnProgress(sessionID, chunk)
}

func (o *Orchestrator) onOutcome(out worker.Outcome[Result]) {
	rec, ok := o.tasks[out.TaskID]
	if !ok {
		o.logger.Warn("duplicate task outcome ignored", "task_id", out.TaskID, "status", string(out.Status))
		return
	}
	delete(o.tasks, out.TaskID)

	current := o.session != nil && o.session.task != nil && o.session.task.ID() == out.TaskID
	if current {
		o.finish(fsm.EventComplete)
	}

	o.logger.Info("task settled",
		"session_id", rec.session.ID,
		"task_id", out.TaskID,
		"status", string(out.Status),
		"forced", out.Forced,
		"duration_ms", out.Duration.Milliseconds(),
		"late", !current,
	)

	if out.Status == worker.StatusCancelled {
		o.subs.OnCancelled(rec.session)
		return
	}

	result := out.Value
	base := o.resultFor(rec.session)
	result.SessionID = base.SessionID
	result.Set = base.Set
	result.Hotkey = base.Hotkey
	result.TaskID = out.TaskID
	result.Artifact = rec.artifact
	result.Duration = out.Duration
	if out.Err != nil {
		result.Err = out.Err
	} else if result.Text() == "" {
		result.Err = ErrEmptyTranscript
	}
	o.subs.OnComplete(result)
}

func (o *Orchestrator) onListenerFailure(gen uint64, err error) {
	// a restart since the failure already replaced the broken hook
	if gen != o.listener.Generation() {
		o.logger.Debug("stale hotkey listener failure ignored", "generation", gen, "error", err.Error())
		return
	}
	o.hookErr = err
	o.listener.Stop()
	o.logger.Error("global hotkeys disabled; falling back to UI triggers", "error", err.Error())
	o.subs.OnStateChanged(o.Snapshot())
	o.scheduleRehook()
}

// scheduleRehook arms one delayed attempt to reinstall the hook.
func (o *Orchestrator) scheduleRehook() {
	if o.rehookCancel != nil || !o.listening {
		return
	}
	o.rehookCancel = o.loop.PostDelayed(o.rehook, o.rehookDelay)
}

func (o *Orchestrator) cancelRehook() {
	if o.rehookCancel != nil {
		o.rehookCancel()
		o.rehookCancel = nil
	}
}

func (o *Orchestrator) rehook() {
	o.rehookCancel = nil
	if !o.listening || o.hookErr == nil {
		return
	}
	o.withListenerStopped(func() {})
	if o.hookErr == nil {
		o.logger.Info("global hotkeys restored")
		o.subs.OnStateChanged(o.Snapshot())
	}
}

// finish applies a terminal event and resets to idle.
func (o *Orchestrator) finish(event fsm.Event) {
	if _, err := fsm.Transition(o.state, event); err != nil {
		o.logger.Error("unexpected transition", "state", string(o.state), "event", string(event), "error", err.Error())
	}
	o.reset()
}

func (o *Orchestrator) reset() {
	o.state = fsm.StateIdle
	o.session = nil
	if o.gate.Restricted() {
		o.withListenerStopped(o.gate.SetUnrestricted)
	}
	o.subs.OnStateChanged(o.Snapshot())

	if o.pending != nil {
		pending := o.pending
		o.pending = nil
		if err := o.BindThen(pending.bindings, pending.applied); err != nil {
			o.logger.Error("deferred rebind failed", "error", err.Error())
		}
	}
}

// withListenerStopped runs mutate between a listener stop and restart so the
// listener goroutine never observes a registry or gate change.
func (o *Orchestrator) withListenerStopped(mutate func()) {
	if o.listener != nil {
		o.listener.Stop()
	}
	mutate()

	if o.listener == nil || !o.listening || o.registry.Len() == 0 {
		return
	}
	if err := o.listener.Start(o.registry.All()); err != nil {
		o.hookErr = err
		o.logger.Error("hotkey listener restart failed", "error", err.Error())
		o.scheduleRehook()
		return
	}
	o.hookErr = nil
	o.cancelRehook()
}

func (o *Orchestrator) resultFor(snap Snapshot) Result {
	return Result{SessionID: snap.ID, Set: snap.Set, Hotkey: snap.Hotkey}
}

func (o *Orchestrator) captureContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.captureTimeout)
}
