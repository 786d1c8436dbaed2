// Package manager implements spec.md §2's "a runtime typically operates
// several ManagedSelectors, sharded by hash" line: SelectorManager owns a
// fixed set of mselector.ManagedSelector shards plus the Executor/Scheduler
// they share, routes Accept/Connect traffic to a shard by hashing the
// descriptor, and is the reference mselector.ManagerHooks implementation
// every endpoint callback in this module ultimately calls back into.
package manager

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"time"

	"github.com/corenet/mselector"
	"github.com/corenet/mselector/executor"
	"github.com/corenet/mselector/scheduler"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
)

// NewEndpointFunc builds the Selectable a manager hands to a shard's
// Activate once a descriptor — accepted or connected — is ready to become a
// live endpoint. One factory serves both paths; sel is the owning shard, so
// a constructed endpoint can support mselector-key operations (e.g. a
// cross-goroutine Write) that need a back-reference to it.
type NewEndpointFunc func(sel *mselector.ManagedSelector, fd int, attachment any) (mselector.Selectable, error)

// Option configures a SelectorManager at construction time.
type Option func(*config)

type config struct {
	shards          int
	workers         int
	localQueueDepth int
	connectTimeout  time.Duration
	stopTimeout     time.Duration
	dedupSize       int
	logger          zerolog.Logger
}

func defaultConfig() config {
	return config{
		connectTimeout: 30 * time.Second,
		stopTimeout:    5 * time.Second,
		dedupSize:      4096,
		logger:         zerolog.Nop(),
	}
}

// WithShards fixes the shard count. The zero value (default) sizes it off
// the container-aware GOMAXPROCS via go.uber.org/automaxprocs.
func WithShards(n int) Option { return func(c *config) { c.shards = n } }

// WithWorkers sizes the shared executor.Pool; see executor.NewPool.
func WithWorkers(n int) Option { return func(c *config) { c.workers = n } }

// WithLocalQueueDepth sizes each worker's local queue in the shared
// executor.Pool; see executor.NewPool.
func WithLocalQueueDepth(n int) Option { return func(c *config) { c.localQueueDepth = n } }

// WithConnectTimeout sets the duration forwarded to every shard's
// mselector.WithConnectTimeout.
func WithConnectTimeout(d time.Duration) Option { return func(c *config) { c.connectTimeout = d } }

// WithStopTimeout sets the duration forwarded to every shard's
// mselector.WithStopTimeout.
func WithStopTimeout(d time.Duration) Option { return func(c *config) { c.stopTimeout = d } }

// WithDedupSize sets the cross-shard CloseConnections dedup cache's
// capacity (spec.md §9 item 2).
func WithDedupSize(n int) Option { return func(c *config) { c.dedupSize = n } }

// WithLogger attaches a structured sink; forwarded to every shard with a
// shard-id field and used directly for manager-level events.
func WithLogger(l zerolog.Logger) Option { return func(c *config) { c.logger = l } }

// SelectorManager owns N mselector.ManagedSelector shards sharing one
// executor.Pool and one scheduler.Wheel, and is the ManagerHooks every
// shard calls back into.
type SelectorManager struct {
	shards []*mselector.ManagedSelector

	pool  *executor.Pool
	wheel *scheduler.Wheel
	dedup *dedupCache

	newEndpoint NewEndpointFunc
	log         zerolog.Logger
}

// New constructs a SelectorManager with its shards unstarted; call Start to
// open every shard's poller and spawn its loop goroutine.
func New(newEndpoint NewEndpointFunc, opts ...Option) *SelectorManager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		cfg.logger.Debug().Msgf(format, args...)
	})); err != nil {
		cfg.logger.Warn().Err(err).Msg("manager: automaxprocs could not adjust GOMAXPROCS")
	}
	if cfg.shards <= 0 {
		cfg.shards = runtime.GOMAXPROCS(0)
	}
	if cfg.shards < 1 {
		cfg.shards = 1
	}

	pool := executor.NewPool(cfg.workers, cfg.localQueueDepth)
	wheel := scheduler.NewWheel()

	m := &SelectorManager{
		pool:        pool,
		wheel:       wheel,
		dedup:       newDedupCache(cfg.dedupSize),
		newEndpoint: newEndpoint,
		log:         cfg.logger,
	}

	exec := executorAdapter{pool: pool}
	sched := schedulerAdapter{wheel: wheel}
	m.shards = make([]*mselector.ManagedSelector, cfg.shards)
	for i := range m.shards {
		m.shards[i] = mselector.NewManagedSelector(i, m, exec, sched,
			mselector.WithConnectTimeout(cfg.connectTimeout),
			mselector.WithStopTimeout(cfg.stopTimeout),
			mselector.WithLogger(cfg.logger),
		)
	}
	return m
}

// Shards exposes the underlying shards, e.g. so a listener loop can pick one
// to register an Acceptor on directly.
func (m *SelectorManager) Shards() []*mselector.ManagedSelector { return m.shards }

// Start opens every shard's poller and spawns its loop goroutine.
func (m *SelectorManager) Start() error {
	for _, s := range m.shards {
		if err := s.Start(); err != nil {
			return fmt.Errorf("manager: start shard %d: %w", s.ID(), err)
		}
	}
	return nil
}

// Size sums every shard's registered key count (spec.md §6 diagnostic).
func (m *SelectorManager) Size() int {
	total := 0
	for _, s := range m.shards {
		total += s.Size()
	}
	return total
}

// Stop runs every shard's Stop concurrently via errgroup (spec.md §4.6,
// generalized across shards), then releases the shared executor and
// scheduler. Bounded by ctx; a cancelled/expired ctx still closes the
// shared collaborators before returning.
func (m *SelectorManager) Stop(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, s := range m.shards {
		s := s
		g.Go(func() error {
			return s.Stop(m.dedup)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var stopErr error
	select {
	case stopErr = <-done:
	case <-ctx.Done():
		stopErr = ctx.Err()
	}

	_ = m.pool.Close()
	_ = m.wheel.Close()
	return stopErr
}

// RegisterAcceptor arms fd with accept interest on the shard fd hashes to.
func (m *SelectorManager) RegisterAcceptor(fd int, accept func() (childFD int, err error)) error {
	return m.shardFor(fd).RegisterAcceptor(fd, accept)
}

// Connect initiates tracking of an already in-progress non-blocking connect
// on the shard fd hashes to, using the manager's endpoint factory on
// success (spec.md §4.4).
func (m *SelectorManager) Connect(fd int, attachment any, finishConnect func(fd int) (bool, error)) error {
	shard := m.shardFor(fd)
	return shard.Connect(fd, attachment, finishConnect, func(fd int, attachment any) (mselector.Selectable, error) {
		return m.newEndpoint(shard, fd, attachment)
	})
}

// shardFor hashes key (FNV-1a) to pick a shard, per spec.md §2's "sharded
// by hash" line (which never names the hash function or key; any descriptor
// or connection identity is a reasonable key, so fd is used directly here).
func (m *SelectorManager) shardFor(key any) *mselector.ManagedSelector {
	return m.shards[m.shardIndex(key)]
}

func (m *SelectorManager) shardIndex(key any) int {
	h := fnv.New32a()
	switch v := key.(type) {
	case int:
		_, _ = fmt.Fprintf(h, "%d", v)
	case string:
		_, _ = h.Write([]byte(v))
	default:
		_, _ = fmt.Fprintf(h, "%v", v)
	}
	return int(h.Sum32() % uint32(len(m.shards)))
}
