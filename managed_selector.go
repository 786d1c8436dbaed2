package mselector

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a ManagedSelector at construction time.
type Option func(*selectorConfig)

type selectorConfig struct {
	forceSelectNow bool
	connectTimeout time.Duration
	stopTimeout    time.Duration
	logger         zerolog.Logger
}

func defaultConfig() selectorConfig {
	return selectorConfig{
		forceSelectNow: forceSelectNowDefault,
		connectTimeout: 30 * time.Second,
		stopTimeout:    5 * time.Second,
		logger:         zerolog.Nop(),
	}
}

// WithForceSelectNow overrides the platform default for the zero-event-wait
// fallback (spec.md §6; defaults true on Windows-family, false elsewhere).
func WithForceSelectNow(v bool) Option {
	return func(c *selectorConfig) { c.forceSelectNow = v }
}

// WithConnectTimeout sets the duration armed on every Connect's timeout
// task (spec.md §4.4/§6).
func WithConnectTimeout(d time.Duration) Option {
	return func(c *selectorConfig) { c.connectTimeout = d }
}

// WithStopTimeout sets the bounded-patience wait for the shutdown latches
// (spec.md §4.6/§5, default 5s).
func WithStopTimeout(d time.Duration) Option {
	return func(c *selectorConfig) { c.stopTimeout = d }
}

// WithLogger attaches a structured sink for the error taxonomy in spec.md
// §7. The zero value is a no-op logger, so a ManagedSelector never requires
// one.
func WithLogger(l zerolog.Logger) Option {
	return func(c *selectorConfig) { c.logger = l }
}

// ManagedSelector is one shard's event-loop core (spec.md §2/§3): it wraps a
// platform poller, a queue of deferred mutations, and the execution
// strategy that decides which goroutine runs the work a ready key produces.
type ManagedSelector struct {
	id int

	poll    poller
	updates *updateQueue

	started atomic.Bool
	stopped atomic.Bool

	keysMu sync.RWMutex
	keys   map[int]*Key

	manager  ManagerHooks
	exec     Executor
	scheduler Scheduler

	strategy executionStrategy
	producer *selectorProducer

	forceSelectNow bool
	connectTimeout time.Duration
	stopTimeout    time.Duration
	log            zerolog.Logger
}

// NewManagedSelector constructs a shard bound to id, dispatching work
// through exec and timing Connect deadlines through sched. It does not open
// the OS handle or spawn the loop goroutine until Start is called.
func NewManagedSelector(id int, manager ManagerHooks, exec Executor, sched Scheduler, opts ...Option) *ManagedSelector {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if manager == nil {
		manager = NopManagerHooks{}
	}
	sel := &ManagedSelector{
		id:             id,
		updates:        &updateQueue{},
		keys:           make(map[int]*Key),
		manager:        manager,
		exec:           exec,
		scheduler:      sched,
		forceSelectNow: cfg.forceSelectNow,
		connectTimeout: cfg.connectTimeout,
		stopTimeout:    cfg.stopTimeout,
		log:            cfg.logger.With().Int("shard", id).Logger(),
	}
	sel.producer = &selectorProducer{sel: sel}
	sel.strategy = newEatWhatYouKill(sel.producer, exec)
	return sel
}

// ID reports this shard's immutable identifier.
func (sel *ManagedSelector) ID() int { return sel.id }

// Start opens the OS readiness handle and spawns the loop goroutine. It may
// be called exactly once; subsequent calls return ErrAlreadyStarted.
func (sel *ManagedSelector) Start() error {
	if !sel.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	p, err := newPoller()
	if err != nil {
		sel.started.Store(false)
		return fmt.Errorf("mselector: open poller: %w", err)
	}
	sel.poll = p

	go sel.strategy.run()
	return nil
}

// running reports whether the loop should keep producing: started and not
// yet stopped.
func (sel *ManagedSelector) running() bool {
	return sel.started.Load() && !sel.stopped.Load()
}

// interruptedStopping preserves spec.md §9's flagged-but-unfixed branch: a
// zero-event wait combined with a stopping selector is treated as a signal
// to exit the loop, which may mask a legitimate spurious wakeup on some
// platforms. Not "fixed" — see DESIGN.md.
func (sel *ManagedSelector) interruptedStopping() bool {
	return sel.stopped.Load()
}

// Submit enqueues u for application on the loop goroutine and issues a
// wakeup iff the loop was blocked in (or about to enter) the OS wait
// (spec.md §4.1). Non-blocking, thread-safe, callable from any goroutine.
func (sel *ManagedSelector) Submit(u update) error {
	if !sel.started.Load() {
		return ErrNotStarted
	}
	if sel.stopped.Load() {
		return ErrSelectorClosed
	}
	if sel.updates.submit(u) {
		if err := sel.poll.Wake(); err != nil {
			sel.log.Warn().Err(err).Msg("wakeup failed")
		}
	}
	return nil
}

// SubmitFunc wraps fn as an update and submits it, so code outside the loop
// goroutine (e.g. an endpoint reacting to an application-level Write call)
// can safely touch loop-goroutine-only state such as a Key's interest set
// (spec.md §3's "selector handle is never touched by any thread other than
// the loop thread" invariant extends to key interest mutation).
func (sel *ManagedSelector) SubmitFunc(fn func()) error {
	return sel.Submit(updateFunc(func(*ManagedSelector) { fn() }))
}

// Size reports the current registered key count (spec.md §6 diagnostic).
func (sel *ManagedSelector) Size() int {
	sel.keysMu.RLock()
	defer sel.keysMu.RUnlock()
	return len(sel.keys)
}

// Dump injects a DumpKeys update and waits up to stopTimeout for the loop to
// process it, returning a snapshot of every registered key (spec.md §6).
func (sel *ManagedSelector) Dump() ([]keySnapshot, error) {
	out := make(chan []keySnapshot, 1)
	if err := sel.Submit(&dumpKeysUpdate{out: out}); err != nil {
		return nil, err
	}
	select {
	case snap := <-out:
		return snap, nil
	case <-time.After(sel.stopTimeout):
		return nil, ErrDumpTimeout
	}
}

// Stop runs the shutdown sequence: CloseConnections then StopSelector, each as a submitted
// update so it executes on the loop goroutine (spec.md §4.6). Idempotent:
// calling Stop twice has the same effect as once, and the second call does
// not block (invariant 5, §8).
func (sel *ManagedSelector) Stop(dedup dedupSet) error {
	if !sel.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if !sel.started.Load() {
		// Never started: nothing to wait on, nothing to close.
		return nil
	}

	closeDone := make(chan struct{})
	if err := sel.submitIgnoringClosed(&closeConnectionsUpdate{done: closeDone, dedup: dedup}); err != nil {
		return err
	}
	waitBounded(closeDone, sel.stopTimeout)

	stopDone := make(chan struct{})
	if err := sel.submitIgnoringClosed(&stopSelectorUpdate{done: stopDone}); err != nil {
		return err
	}
	waitBounded(stopDone, sel.stopTimeout)
	return nil
}

// submitIgnoringClosed bypasses the ErrSelectorClosed guard in Submit: Stop
// itself sets stopped=true before submitting its own shutdown updates, so
// the normal guard would reject them.
func (sel *ManagedSelector) submitIgnoringClosed(u update) error {
	if !sel.started.Load() {
		return ErrNotStarted
	}
	if sel.updates.submit(u) {
		if err := sel.poll.Wake(); err != nil {
			sel.log.Warn().Err(err).Msg("wakeup failed")
		}
	}
	return nil
}

func waitBounded(done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// trackKey registers key in the shard's diagnostic index (Size/Dump). The
// poller itself is the source of truth for dispatch; this map exists only
// so Size/Dump don't need to ask the poller for a key listing.
func (sel *ManagedSelector) trackKey(key *Key) {
	sel.keysMu.Lock()
	sel.keys[key.fd] = key
	sel.keysMu.Unlock()
}

func (sel *ManagedSelector) untrackKey(fd int) {
	sel.keysMu.Lock()
	delete(sel.keys, fd)
	sel.keysMu.Unlock()
}

func (sel *ManagedSelector) snapshotKeys() []*Key {
	sel.keysMu.RLock()
	defer sel.keysMu.RUnlock()
	out := make([]*Key, 0, len(sel.keys))
	for _, k := range sel.keys {
		out = append(out, k)
	}
	return out
}

func (sel *ManagedSelector) closePollerLocked() {
	if sel.poll == nil {
		return
	}
	if err := sel.poll.Close(); err != nil {
		sel.log.Warn().Err(err).Msg("close poller")
	}
	sel.poll = nil
}

// dispatchOrClose runs task through the executor; if rejected and
// attachment implements Closeable, it is closed in lieu of running, so a
// saturated executor never leaks a channel (spec.md §4.5/§7, invariant 6).
func (sel *ManagedSelector) dispatchOrClose(task Runnable, attachment any) {
	if err := sel.exec.Execute(task); err != nil {
		sel.log.Warn().Err(err).Msg("executor rejected dispatch")
		if closer, ok := attachment.(Closeable); ok {
			_ = closer.Close()
		}
	}
}

// dispatchOrCloseFD is dispatchOrClose's counterpart for the Accept and
// Connect paths, where the core itself — not attachment — owns fd until an
// endpoint exists to take over. attachment is still closed if it happens to
// implement Closeable, but rejection also always releases the raw
// descriptor and its poller registration directly: the reference wiring
// passes a nil attachment here, so relying on Closeable alone would leak fd
// on every rejection (spec.md §8 invariant 6).
func (sel *ManagedSelector) dispatchOrCloseFD(task Runnable, fd int, attachment any) {
	if err := sel.exec.Execute(task); err != nil {
		sel.log.Warn().Err(err).Msg("executor rejected dispatch")
		if closer, ok := attachment.(Closeable); ok {
			_ = closer.Close()
		}
		_ = sel.poll.Del(fd)
		sel.untrackKey(fd)
		if cerr := closeRawFD(fd); cerr != nil {
			sel.log.Warn().Err(cerr).Int("fd", fd).Msg("close rejected descriptor")
		}
	}
}

// onSelectFailed handles a fatal error escaping the OS wait (spec.md §4.2's
// last paragraph / §7's fatal-selector-errors branch): close the handle,
// null it, and stop the loop.
func (sel *ManagedSelector) onSelectFailed(cause error) {
	sel.log.Error().Err(cause).Msg("selector wait failed")
	sel.stopped.Store(true)
	sel.closePollerLocked()
}

func (sel *ManagedSelector) logRejectedUpdate(what string, err error) {
	sel.log.Warn().Err(err).Str("update", what).Msg("update rejected")
}

func (sel *ManagedSelector) logUpdatePanic(r any) {
	sel.log.Warn().Interface("panic", r).Msg("update panicked")
}

func (sel *ManagedSelector) logBadAttachment(key *Key) {
	sel.log.Error().Int("fd", key.fd).Msg("selected key has unrecognized attachment; closing")
}
