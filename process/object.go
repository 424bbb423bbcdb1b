package process

// WaitMode distinguishes waiting for any one of a set of objects to
// signal from waiting for all of them.
type WaitMode int

const (
	WaitAny WaitMode = iota
	WaitAll
)

// ClosePolicy describes what happens to threads still waiting on an
// object when its last handle closes: mutants abandon their waiters,
// close-signaled events complete them successfully, and everything else
// leaves waiters blocked (they'll simply never see this object signal
// again).
type ClosePolicy int

const (
	CloseNoSignal ClosePolicy = iota
	CloseAbandon
	CloseSignal
)

// Object is the thin capability every kernel object variant implements:
// signal state, wait, and a close policy, behind a tagged dispatch keyed
// on TypeTag instead of inheritance. Implemented by Event, Mutant,
// Semaphore, Timer, Section, FileObject, KeyObject, and ThreadObject
// below.
type Object interface {
	SignalState() bool
	Wait(mode WaitMode) bool
	ClosePolicy() ClosePolicy
}

// Event is a manual- or auto-reset synchronization object.
type Event struct {
	ManualReset bool
	signaled    bool
}

func NewEvent(manualReset, initialState bool) *Event {
	return &Event{ManualReset: manualReset, signaled: initialState}
}

func (e *Event) SignalState() bool { return e.signaled }

func (e *Event) Wait(WaitMode) bool {
	if !e.signaled {
		return false
	}
	if !e.ManualReset {
		e.signaled = false
	}
	return true
}

func (e *Event) ClosePolicy() ClosePolicy { return CloseSignal }

func (e *Event) Set()   { e.signaled = true }
func (e *Event) Reset() { e.signaled = false }
func (e *Event) Pulse() { e.signaled = false }

// Mutant models an NT mutex: single owner, recursive acquire. Its close
// policy is CloseAbandon while it is held; the owning thread's exit does
// not release or abandon it.
type Mutant struct {
	owner     uint32
	recursion int
}

func NewMutant(initialOwner bool, ownerTID uint32) *Mutant {
	m := &Mutant{}
	if initialOwner {
		m.owner, m.recursion = ownerTID, 1
	}
	return m
}

func (m *Mutant) SignalState() bool { return m.owner == 0 }

func (m *Mutant) Wait(WaitMode) bool { return m.owner == 0 }

func (m *Mutant) Acquire(tid uint32) {
	if m.owner == tid {
		m.recursion++
		return
	}
	m.owner, m.recursion = tid, 1
}

func (m *Mutant) Release(tid uint32) bool {
	if m.owner != tid {
		return false
	}
	m.recursion--
	if m.recursion == 0 {
		m.owner = 0
	}
	return true
}

func (m *Mutant) ClosePolicy() ClosePolicy {
	if m.owner != 0 {
		return CloseAbandon
	}
	return CloseNoSignal
}

// Semaphore tracks a bounded counting semaphore.
type Semaphore struct {
	count, max int32
}

func NewSemaphore(initial, max int32) *Semaphore { return &Semaphore{count: initial, max: max} }

func (s *Semaphore) SignalState() bool { return s.count > 0 }

func (s *Semaphore) Wait(WaitMode) bool {
	if s.count <= 0 {
		return false
	}
	s.count--
	return true
}

func (s *Semaphore) Release(n int32) (previous int32, ok bool) {
	if s.count+n > s.max {
		return s.count, false
	}
	previous = s.count
	s.count += n
	return previous, true
}

func (s *Semaphore) ClosePolicy() ClosePolicy { return CloseNoSignal }

// Timer models a waitable timer, either one-shot or periodic.
type Timer struct {
	DueTime100ns int64
	Period       int64
	signaled     bool
}

func (t *Timer) SignalState() bool { return t.signaled }
func (t *Timer) Wait(WaitMode) bool {
	if !t.signaled {
		return false
	}
	if t.Period == 0 {
		t.signaled = false
	}
	return true
}
func (t *Timer) ClosePolicy() ClosePolicy { return CloseNoSignal }
func (t *Timer) Fire()                    { t.signaled = true }

// Section is a section (mapped-file/pagefile-backed) object; the actual
// pages live in the owning memory.Manager, this just carries the create
// parameters a later MapViewOfSection needs.
type Section struct {
	MaximumSize uint64
	Protect     uint32
	FilePath    string
}

func (*Section) SignalState() bool        { return false }
func (*Section) Wait(WaitMode) bool       { return false }
func (*Section) ClosePolicy() ClosePolicy { return CloseNoSignal }

// FileObject wraps a host file as its own tagged kernel object.
type FileObject struct {
	Path   string
	Access uint32

	reader interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
		Close() error
	}
}

func NewFileObject(path string, access uint32, f interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}) *FileObject {
	return &FileObject{Path: path, Access: access, reader: f}
}

func (f *FileObject) SignalState() bool        { return true }
func (f *FileObject) Wait(WaitMode) bool       { return true }
func (f *FileObject) ClosePolicy() ClosePolicy { return CloseNoSignal }

func (f *FileObject) Read(buf []byte) (int, error)  { return f.reader.Read(buf) }
func (f *FileObject) Write(buf []byte) (int, error) { return f.reader.Write(buf) }
func (f *FileObject) Close() error                  { return f.reader.Close() }

// KeyObject is an open registry key handle.
type KeyObject struct {
	Path string
}

func (*KeyObject) SignalState() bool        { return false }
func (*KeyObject) Wait(WaitMode) bool       { return false }
func (*KeyObject) ClosePolicy() ClosePolicy { return CloseNoSignal }

// ThreadObject is a waitable handle to a Thread: it signals once the
// referenced thread exits.
type ThreadObject struct {
	Thread *Thread
}

func (t *ThreadObject) SignalState() bool       { return t.Thread.State == StateTerminated }
func (t *ThreadObject) Wait(WaitMode) bool      { return t.Thread.State == StateTerminated }
func (*ThreadObject) ClosePolicy() ClosePolicy  { return CloseNoSignal }
