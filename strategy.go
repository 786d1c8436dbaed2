package mselector

// executionStrategy owns the decision of which goroutine runs a produced
// task (spec.md §4.3, "eat what you kill"). At most one goroutine is the
// producer at any time; when produce() yields a Runnable, the strategy hands
// off production to another goroutine via the Executor and runs the
// Runnable itself on the current goroutine, keeping the data it just read
// hot in cache.
type executionStrategy interface {
	// run drives the strategy until produce() reports no more work (the
	// selector has stopped). Blocks the calling goroutine.
	run()
}

// eatWhatYouKill is the default executionStrategy, grounded on the pack's
// worker-pool Execute/local-queue/rejection pattern reshaped around a
// single in-flight producer handoff instead of a general task queue.
type eatWhatYouKill struct {
	producer *selectorProducer
	exec     Executor
}

func newEatWhatYouKill(producer *selectorProducer, exec Executor) *eatWhatYouKill {
	return &eatWhatYouKill{producer: producer, exec: exec}
}

func (s *eatWhatYouKill) run() {
	s.produceAndRun()
}

// produceAndRun calls produce() once, and if it yields a Runnable, attempts
// to hand production off to another goroutine before running the Runnable
// inline on this one. If the executor rejects the handoff (saturated), this
// goroutine runs the task itself and then resumes production directly
// (spec.md §4.3's rejection-safety requirement).
func (s *eatWhatYouKill) produceAndRun() {
	for {
		r, ok := s.producer.produce()
		if !ok {
			return
		}

		if err := s.exec.Execute(s.produceAndRun); err != nil {
			// Rejected (saturated) or any other executor failure: this
			// goroutine must both run r and keep producing, since no other
			// goroutine picked up production (spec.md §4.3).
			runTask(r)
			continue
		}

		// Handoff accepted: another goroutine is now producing. This
		// goroutine's sole remaining job is to run r.
		runTask(r)
		return
	}
}

// runTask executes r, recovering a panic so one bad endpoint callback never
// takes down the goroutine that happens to be running it (spec.md §7's
// "endpoint callback errors: close the attachment, log, continue" taxonomy
// extends to the execution-strategy boundary, since r itself may be an
// arbitrary endpoint-supplied closure).
func runTask(r Runnable) {
	defer func() { _ = recover() }()
	r()
}
