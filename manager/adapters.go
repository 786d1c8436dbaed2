package manager

import (
	"time"

	"github.com/corenet/mselector"
	"github.com/corenet/mselector/executor"
	"github.com/corenet/mselector/scheduler"
)

// executorAdapter bridges executor.Pool's Task-typed Execute to the
// mselector.Executor contract. executor is a named external collaborator
// (spec.md §6), not a subpackage of the core, so the core never imports it
// and the two packages' Task/Runnable types are distinct despite sharing an
// underlying func() shape.
type executorAdapter struct {
	pool *executor.Pool
}

func (a executorAdapter) Execute(task mselector.Runnable) error {
	return a.pool.Execute(executor.Task(task))
}

// schedulerAdapter bridges scheduler.Wheel's Task-typed Schedule to the
// mselector.Scheduler contract, for the same reason as executorAdapter.
type schedulerAdapter struct {
	wheel *scheduler.Wheel
}

func (a schedulerAdapter) Schedule(delay time.Duration, task mselector.Runnable) mselector.Cancellable {
	return a.wheel.Schedule(delay, scheduler.Task(task))
}
