// Package snapshot implements the framed on-disk representation of one
// paused process: a version header, a fixed sequence of sections (modules,
// memory regions, handle table, thread state, process scalars), and a
// trailing checksum. It knows nothing about memory.Manager, module.Manager,
// or process.Context directly — those packages build a Snapshot value from
// their own state and hand it here to be framed, keeping this package a
// pure codec.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Magic identifies a ntwine snapshot file; Version is bumped whenever the
// section layout changes incompatibly.
const (
	Magic   uint32 = 0x4e545753 // "NTWS"
	Version uint32 = 1
)

var (
	ErrBadMagic   = errors.New("snapshot: bad magic")
	ErrBadVersion = errors.New("snapshot: unsupported version")
	ErrTruncated  = errors.New("snapshot: truncated data")
	ErrChecksum   = errors.New("snapshot: checksum mismatch")
)

// ModuleRecord is the identity of one mapped module, enough to report what
// was loaded; the module's code and data live in the region byte dump
// below, not here.
type ModuleRecord struct {
	Name       string
	RealName   string
	Base       uint64
	Size       uint64
	EntryPoint uint64
}

// RegionRecord is one memory region's metadata plus, for committed
// regions, its full byte contents.
type RegionRecord struct {
	Base   uint64
	Length uint64
	Prot   uint32
	State  int32
	Tag    int32
	Data   []byte // nil for non-committed regions
}

// HandleRecord captures a handle table slot's identity and, for the
// object kinds with simple boolean/counter state (events, mutants,
// semaphores, timers, threads), its signal state. Object kinds with richer internal state
// (files, keys, sections) are recorded by tag and identity only: a full
// snapshot of an open file's cursor position or a section's backing path
// is a smaller feature than this format aims to cover in its first
// version, deliberately deferred rather than half-modeled.
type HandleRecord struct {
	Value      uint32
	Tag        int32
	Access     uint32
	Signaled   bool
	HasSignal  bool // false for object kinds where Signaled is meaningless
}

// ThreadRecord is one thread's schedulable state plus its register
// snapshot, encoded as a flat list of uint64 lanes in a fixed order for
// the thread's mode: 10 lanes for 32-bit, 20 for 64-bit (see
// process.flattenRegs).
type ThreadRecord struct {
	ID           uint32
	State        int32
	Priority     int32
	Affinity     uint64
	TEBAddress   uint64
	StackBase    uint64
	StackLimit   uint64
	SuspendCount int32
	LastStatus   uint32
	ExitCode     uint32
	RegsMode     int32 // core.Mode32 or core.Mode64
	Regs         []uint64
}

// Scalars is the handful of process-wide values that aren't naturally part
// of any other section.
type Scalars struct {
	CommandLine  string
	RNGState     uint64
	ClockTicks   int64 // Clocks.ElapsedTicks() at capture time
	NextTID      uint32
}

// Snapshot is the full in-memory representation of one paused process,
// ready to be marshaled or freshly unmarshaled.
type Snapshot struct {
	Modules []ModuleRecord
	Regions []RegionRecord
	Handles []HandleRecord
	Threads []ThreadRecord
	Scalars Scalars
}

// Marshal frames s into the versioned byte format: header, then each
// section length-prefixed in a fixed order, then a CRC32 (IEEE) of
// everything preceding it.
func Marshal(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := &writer{buf: &buf}

	w.u32(Magic)
	w.u32(Version)

	w.u32(uint32(len(s.Modules)))
	for _, m := range s.Modules {
		w.str(m.Name)
		w.str(m.RealName)
		w.u64(m.Base)
		w.u64(m.Size)
		w.u64(m.EntryPoint)
	}

	w.u32(uint32(len(s.Regions)))
	for _, r := range s.Regions {
		w.u64(r.Base)
		w.u64(r.Length)
		w.u32(r.Prot)
		w.i32(r.State)
		w.i32(r.Tag)
		w.bytesField(r.Data)
	}

	w.u32(uint32(len(s.Handles)))
	for _, h := range s.Handles {
		w.u32(h.Value)
		w.i32(h.Tag)
		w.u32(h.Access)
		w.boolean(h.Signaled)
		w.boolean(h.HasSignal)
	}

	w.u32(uint32(len(s.Threads)))
	for _, t := range s.Threads {
		w.u32(t.ID)
		w.i32(t.State)
		w.i32(t.Priority)
		w.u64(t.Affinity)
		w.u64(t.TEBAddress)
		w.u64(t.StackBase)
		w.u64(t.StackLimit)
		w.i32(t.SuspendCount)
		w.u32(t.LastStatus)
		w.u32(t.ExitCode)
		w.i32(t.RegsMode)
		w.u32(uint32(len(t.Regs)))
		for _, lane := range t.Regs {
			w.u64(lane)
		}
	}

	w.str(s.Scalars.CommandLine)
	w.u64(s.Scalars.RNGState)
	w.i64(s.Scalars.ClockTicks)
	w.u32(s.Scalars.NextTID)

	if w.err != nil {
		return nil, w.err
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, sum); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses and checksum-verifies data produced by Marshal.
func Unmarshal(data []byte) (*Snapshot, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	want := binary.LittleEndian.Uint32(trailer)
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, ErrChecksum
	}

	r := &reader{buf: body}
	if magic := r.u32(); magic != Magic {
		return nil, ErrBadMagic
	}
	if version := r.u32(); version != Version {
		return nil, ErrBadVersion
	}

	s := &Snapshot{}

	s.Modules = make([]ModuleRecord, r.u32())
	for i := range s.Modules {
		s.Modules[i] = ModuleRecord{
			Name:       r.str(),
			RealName:   r.str(),
			Base:       r.u64(),
			Size:       r.u64(),
			EntryPoint: r.u64(),
		}
	}

	s.Regions = make([]RegionRecord, r.u32())
	for i := range s.Regions {
		s.Regions[i] = RegionRecord{
			Base:   r.u64(),
			Length: r.u64(),
			Prot:   r.u32(),
			State:  r.i32(),
			Tag:    r.i32(),
			Data:   r.bytesField(),
		}
	}

	s.Handles = make([]HandleRecord, r.u32())
	for i := range s.Handles {
		s.Handles[i] = HandleRecord{
			Value:     r.u32(),
			Tag:       r.i32(),
			Access:    r.u32(),
			Signaled:  r.boolean(),
			HasSignal: r.boolean(),
		}
	}

	s.Threads = make([]ThreadRecord, r.u32())
	for i := range s.Threads {
		t := ThreadRecord{
			ID:           r.u32(),
			State:        r.i32(),
			Priority:     r.i32(),
			Affinity:     r.u64(),
			TEBAddress:   r.u64(),
			StackBase:    r.u64(),
			StackLimit:   r.u64(),
			SuspendCount: r.i32(),
			LastStatus:   r.u32(),
			ExitCode:     r.u32(),
			RegsMode:     r.i32(),
		}
		t.Regs = make([]uint64, r.u32())
		for j := range t.Regs {
			t.Regs[j] = r.u64()
		}
		s.Threads[i] = t
	}

	s.Scalars = Scalars{
		CommandLine: r.str(),
		RNGState:    r.u64(),
		ClockTicks:  r.i64(),
		NextTID:     r.u32(),
	}

	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// writer accumulates fixed-width fields into buf, latching the first error
// so every call site can ignore individual failures and check once at the
// end, the same shape pefile's header parsing uses on the read side.
type writer struct {
	buf *bytes.Buffer
	err error
}

func (w *writer) u32(v uint32) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.buf, binary.LittleEndian, v)
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) u64(v uint64) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.buf, binary.LittleEndian, v)
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) boolean(v bool) {
	if v {
		w.u32(1)
	} else {
		w.u32(0)
	}
}

func (w *writer) str(s string) { w.bytesField([]byte(s)) }

func (w *writer) bytesField(b []byte) {
	w.u32(uint32(len(b)))
	if w.err != nil || len(b) == 0 {
		return
	}
	_, w.err = w.buf.Write(b)
}

// reader walks a byte slice left to right, latching the first error (short
// read) so callers can chain field reads without checking after each one.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) need(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.pos, len(r.buf))
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u32() uint32 {
	b := r.need(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) u64() uint64 {
	b := r.need(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) boolean() bool { return r.u32() != 0 }

func (r *reader) str() string {
	b := r.bytesField()
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *reader) bytesField() []byte {
	n := r.u32()
	if n == 0 || r.err != nil {
		return nil
	}
	b := r.need(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
