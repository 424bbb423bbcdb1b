package process

import (
	"fmt"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/snapshot"
)

// Snapshot captures the address space, thread, and scalar state of c into
// a portable snapshot.Snapshot. The currently running thread's registers
// are read live from engine since its saved copy in Thread.regs is stale
// while it's the one executing.
//
// The handle table is captured for identity and signal-state diagnostics
// only (see snapshot.HandleRecord); RestoreSnapshot does not attempt to
// reconstruct live kernel objects from it, since a HandleRecord doesn't
// carry enough type-specific construction data (a Mutant's owner, a
// FileObject's backing store, a KeyObject's path) to rebuild one. This
// matches the primary use case of a single-slot rewind within one running
// process, where handles stay live and only memory and thread state need
// to roll back.
func (c *Context) Snapshot(engine core.Engine) (*snapshot.Snapshot, error) {
	s := &snapshot.Snapshot{}

	for _, m := range c.Modules.Modules() {
		s.Modules = append(s.Modules, snapshot.ModuleRecord{
			Name: m.Name, RealName: m.RealName, Base: m.Base, Size: m.Size, EntryPoint: m.EntryPoint,
		})
	}

	for _, r := range c.Mem.Regions() {
		rec := snapshot.RegionRecord{Base: r.Base, Length: r.Length, Prot: uint32(r.Prot), State: int32(r.State), Tag: int32(r.Tag)}
		if r.State == memory.StateCommitted {
			data, err := c.Mem.Read(r.Base, r.Length, memory.Privileged)
			if err != nil {
				return nil, fmt.Errorf("process: reading region 0x%x for snapshot: %w", r.Base, err)
			}
			rec.Data = data
		}
		s.Regions = append(s.Regions, rec)
	}

	for _, e := range c.Handles.Entries() {
		hr := snapshot.HandleRecord{Value: e.Value, Tag: int32(e.Tag), Access: e.Access}
		switch e.Tag {
		case TagEvent, TagMutant, TagSemaphore, TagTimer, TagThread:
			hr.Signaled = e.Object.SignalState()
			hr.HasSignal = true
		}
		s.Handles = append(s.Handles, hr)
	}

	current := c.Scheduler.Current()
	for _, t := range c.Threads {
		tr := snapshot.ThreadRecord{
			ID: t.ID, State: int32(t.State), Priority: t.Priority, Affinity: t.Affinity,
			TEBAddress: t.TEBAddress, StackBase: t.StackBase, StackLimit: t.StackLimit,
			SuspendCount: t.SuspendCount, LastStatus: t.LastStatus, ExitCode: t.ExitCode,
		}

		snap := t.Regs()
		if t == current {
			snap = engine.ReadRegisters()
		}
		tr.RegsMode, tr.Regs = flattenRegs(snap)
		s.Threads = append(s.Threads, tr)
	}

	s.Scalars = snapshot.Scalars{
		CommandLine: c.CommandLine,
		RNGState:    c.rngState,
		ClockTicks:  c.Clocks.ElapsedTicks(),
		NextTID:     c.nextTID,
	}
	return s, nil
}

// RestoreSnapshot rolls c's address space and thread state back to s. For
// a region c.Mem already has reserved/committed exactly as captured (the
// common case: rewinding within the same still-running context) it only
// replays the region's bytes; otherwise it replays a full
// Reserve/Commit/Write sequence, which is what a freshly constructed
// manager over the same address range needs. Threads named in s
// must already exist in c.Threads (typically because the caller re-ran
// the same CreateThread calls before restoring); a thread ID with no
// match is skipped rather than fabricated, since a fabricated thread
// would have no stack or TEB memory of its own.
func (c *Context) RestoreSnapshot(s *snapshot.Snapshot) error {
	for _, rec := range s.Regions {
		if rec.State == int32(memory.StateFree) {
			continue
		}

		// Rewinding within the same still-running context: the region
		// already exists exactly as captured, so only its bytes need
		// replaying, not a fresh Reserve/Commit (which would conflict
		// with the region already occupying that range).
		if info, err := c.Mem.Query(rec.Base); err == nil && info.State == memory.State(rec.State) && info.RegionSize >= rec.Length {
			if rec.State == int32(memory.StateCommitted) && len(rec.Data) > 0 {
				if err := c.Mem.Write(rec.Base, rec.Data, memory.Privileged); err != nil {
					return fmt.Errorf("process: restoring contents at 0x%x: %w", rec.Base, err)
				}
			}
			continue
		}

		base, err := c.Mem.Reserve(rec.Base, rec.Length, core.Protection(rec.Prot), memory.Tag(rec.Tag))
		if err != nil {
			return fmt.Errorf("process: restoring reservation at 0x%x: %w", rec.Base, err)
		}
		if rec.State != int32(memory.StateCommitted) {
			continue
		}
		if err := c.Mem.Commit(base, rec.Length, core.Protection(rec.Prot)); err != nil {
			return fmt.Errorf("process: restoring commit at 0x%x: %w", rec.Base, err)
		}
		if len(rec.Data) > 0 {
			if err := c.Mem.Write(base, rec.Data, memory.Privileged); err != nil {
				return fmt.Errorf("process: restoring contents at 0x%x: %w", rec.Base, err)
			}
		}
	}

	for _, tr := range s.Threads {
		t, ok := c.Threads[tr.ID]
		if !ok {
			continue
		}
		t.State = State(tr.State)
		t.Priority = tr.Priority
		t.Affinity = tr.Affinity
		t.SuspendCount = tr.SuspendCount
		t.LastStatus = tr.LastStatus
		t.ExitCode = tr.ExitCode
		t.SetContext(unflattenRegs(int(tr.RegsMode), tr.Regs))
	}

	c.CommandLine = s.Scalars.CommandLine
	c.rngState = s.Scalars.RNGState
	c.Clocks.SetElapsedTicks(s.Scalars.ClockTicks)
	c.nextTID = s.Scalars.NextTID
	return nil
}

// flattenRegs reduces a *core.Registers32 or *core.Registers64 snapshot to
// a mode tag plus an ordered lane list snapshot.ThreadRecord can carry,
// matching the field order unflattenRegs expects back.
func flattenRegs(snap interface{}) (mode int32, lanes []uint64) {
	switch r := snap.(type) {
	case *core.Registers32:
		return int32(core.Mode32), []uint64{r.Eip, r.Esp, r.Eax, r.Ebx, r.Ecx, r.Edx, r.Esi, r.Edi, r.Ebp, r.Eflags}
	case *core.Registers64:
		return int32(core.Mode64), []uint64{
			r.Rip, r.Rsp, r.Rax, r.Rbx, r.Rcx, r.Rdx, r.Rsi, r.Rdi, r.Rbp,
			r.R8, r.R9, r.R10, r.R11, r.R12, r.R13, r.R14, r.R15,
			r.Rflags, r.FsBase, r.GsBase,
		}
	default:
		return 0, nil
	}
}

func unflattenRegs(mode int, lanes []uint64) interface{} {
	if mode == core.Mode32 && len(lanes) >= 10 {
		return &core.Registers32{
			Eip: lanes[0], Esp: lanes[1], Eax: lanes[2], Ebx: lanes[3], Ecx: lanes[4],
			Edx: lanes[5], Esi: lanes[6], Edi: lanes[7], Ebp: lanes[8], Eflags: lanes[9],
		}
	}
	if mode == core.Mode64 && len(lanes) >= 20 {
		return &core.Registers64{
			Rip: lanes[0], Rsp: lanes[1], Rax: lanes[2], Rbx: lanes[3], Rcx: lanes[4],
			Rdx: lanes[5], Rsi: lanes[6], Rdi: lanes[7], Rbp: lanes[8],
			R8: lanes[9], R9: lanes[10], R10: lanes[11], R11: lanes[12],
			R12: lanes[13], R13: lanes[14], R14: lanes[15], R15: lanes[16],
			Rflags: lanes[17], FsBase: lanes[18], GsBase: lanes[19],
		}
	}
	return nil
}
