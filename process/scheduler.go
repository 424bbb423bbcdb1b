package process

import "github.com/coldharbor/ntwine/core"

// Scheduler runs a cooperative round-robin over a Context's threads, with
// real yield points (wait, sleep, quantum expiry, explicit yield) and
// deadlock/timeout fast-forwarding via the Context's Clocks.
type Scheduler struct {
	ctx     *Context
	queue   []*Thread
	current int

	quantum uint64 // stored only; see NewScheduler
}

// NewScheduler builds a scheduler bound to ctx. The quantum is stored but
// never read by the Scheduler: a scheduling step happens only when the
// caller invokes Next, which the emulator's instruction hook does every
// 1000 instructions and whenever the current thread blocks.
func NewScheduler(ctx *Context, quantum uint64) *Scheduler {
	return &Scheduler{ctx: ctx, quantum: quantum}
}

// AddThread enqueues a newly created thread for scheduling.
func (s *Scheduler) AddThread(t *Thread) {
	s.queue = append(s.queue, t)
}

// RemoveThread drops a terminated thread from the run queue.
func (s *Scheduler) RemoveThread(id uint32) {
	for i, t := range s.queue {
		if t.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			if s.current > i {
				s.current--
			}
			return
		}
	}
}

// Current returns the currently selected thread, or nil if none is
// runnable.
func (s *Scheduler) Current() *Thread {
	if len(s.queue) == 0 {
		return nil
	}
	return s.queue[s.current%len(s.queue)]
}

// Next advances to the next runnable thread, skipping suspended and
// waiting threads whose wait condition has not yet been satisfied. It
// returns nil if no thread in the queue is currently runnable and none has
// a deadline to fast-forward to, which the caller should interpret as a
// deadlock.
func (s *Scheduler) Next() *Thread {
	n := len(s.queue)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		s.current = (s.current + 1) % n
		t := s.queue[s.current]
		if t.State == StateWaiting {
			s.pollWait(t)
		}
		if t.Runnable() {
			return t
		}
	}
	return s.fastForward()
}

// pollWait re-checks a waiting thread's WaitBlock against current object
// signal state and transitions it back to StateReady if satisfied; failing
// that, it resolves an already-due deadline with a timeout rather than
// leaving it to fastForward, which Next only reaches once no queued thread
// is runnable at all. Without this, a timed wait sharing the queue with a
// busy Runnable thread would never time out on its own.
func (s *Scheduler) pollWait(t *Thread) {
	wb := t.Wait
	if wb == nil {
		t.State = StateReady
		return
	}
	if len(wb.Objects) == 0 {
		// A pure timed wait (Sleep/NtDelayExecution): nothing to poll but
		// the deadline itself.
		s.timeoutIfDue(t)
		return
	}
	satisfied := 0
	for i, obj := range wb.Objects {
		if obj.Wait(wb.Mode) {
			wb.Satisfied[i] = true
		}
		if wb.Satisfied[i] {
			satisfied++
		}
	}
	done := false
	switch wb.Mode {
	case WaitAny:
		done = satisfied > 0
	case WaitAll:
		done = satisfied == len(wb.Objects)
	}
	if done {
		for i, obj := range wb.Objects {
			if wb.Satisfied[i] {
				if m, ok := obj.(*Mutant); ok {
					m.Acquire(t.ID)
				}
			}
		}
		t.LastStatus = 0 // STATUS_SUCCESS / STATUS_WAIT_0
		t.State = StateReady
		t.Wait = nil
		t.WokeFromWait = true
		return
	}
	s.timeoutIfDue(t)
}

// fastForward looks for the soonest wait deadline among blocked threads
// and advances the context clock to it, then re-polls, so a run with
// nothing but timed waits pending doesn't stall waiting on real time.
func (s *Scheduler) fastForward() *Thread {
	var soonest int64 = -1
	for _, t := range s.queue {
		if t.State != StateWaiting || t.SuspendCount > 0 || t.Wait == nil {
			continue
		}
		if t.Wait.Infinite {
			continue
		}
		if soonest == -1 || t.Wait.Deadline < soonest {
			soonest = t.Wait.Deadline
		}
	}
	if soonest == -1 {
		return nil // genuine deadlock: no runnable thread and no timed wait to fast-forward to
	}

	delta := soonest - s.ctx.Clocks.SystemTime100ns()
	if delta > 0 {
		s.ctx.Clocks.Advance(delta)
	}
	for _, t := range s.queue {
		if t.State == StateWaiting {
			s.timeoutIfDue(t)
		}
	}
	return s.Next()
}

func (s *Scheduler) timeoutIfDue(t *Thread) {
	if t.Wait == nil || t.Wait.Infinite {
		return
	}
	if s.ctx.Clocks.SystemTime100ns() >= t.Wait.Deadline {
		t.LastStatus = statusTimeout
		t.State = StateReady
		t.Wait = nil
		t.WokeFromWait = true
	}
}

const statusTimeout = 0x00000102 // STATUS_TIMEOUT

// SwitchTo saves the outgoing thread's register context and restores the
// incoming thread's, mirroring the register-only half of a real context
// switch; the caller is responsible for stopping/resuming the underlying
// core.Engine run loop around this call.
func SwitchTo(engine core.Engine, from, to *Thread) error {
	if from != nil && from.State == StateRunning {
		if err := from.SaveContext(engine); err != nil {
			return err
		}
		from.State = StateReady
	}
	if to != nil {
		if err := to.RestoreContext(engine); err != nil {
			return err
		}
		to.State = StateRunning
	}
	return nil
}
