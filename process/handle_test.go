package process_test

import (
	"testing"

	"github.com/coldharbor/ntwine/process"
)

func TestHandleTableAllocatesAndLooksUp(t *testing.T) {
	tbl := process.NewTable()
	ev := process.NewEvent(true, false)

	h := tbl.New(process.TagEvent, ev, 0x1f0003, false)

	obj, tag, err := tbl.Lookup(h.Value())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if tag != process.TagEvent {
		t.Errorf("tag = %v, want TagEvent", tag)
	}
	if obj != ev {
		t.Errorf("Lookup returned a different object than was stored")
	}
}

func TestHandleTableCloseInvalidatesStaleValue(t *testing.T) {
	tbl := process.NewTable()
	h := tbl.New(process.TagEvent, process.NewEvent(false, false), 0, false)

	value := h.Value()
	if _, err := tbl.Close(value); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, _, err := tbl.Lookup(value); err != process.ErrInvalidHandle {
		t.Errorf("Lookup(closed handle) err = %v, want ErrInvalidHandle", err)
	}
}

func TestHandleTableReusesFreedSlotWithBumpedGeneration(t *testing.T) {
	tbl := process.NewTable()
	first := tbl.New(process.TagEvent, process.NewEvent(false, false), 0, false)
	staleValue := first.Value()

	if _, err := tbl.Close(staleValue); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := tbl.New(process.TagMutant, process.NewMutant(false, 0), 0, false)
	if second.Index != first.Index {
		t.Fatalf("expected freed slot to be reused, got a new index")
	}
	if second.Generation == first.Generation {
		t.Fatalf("generation was not bumped on reuse")
	}

	if _, _, err := tbl.Lookup(staleValue); err != process.ErrInvalidHandle {
		t.Errorf("stale pre-reuse handle value should still be rejected, got err=%v", err)
	}
	if _, tag, err := tbl.Lookup(second.Value()); err != nil || tag != process.TagMutant {
		t.Errorf("Lookup(second) = (tag=%v, err=%v), want (TagMutant, nil)", tag, err)
	}
}

func TestMutantAbandonedClosePolicyWhenHeldOnClose(t *testing.T) {
	m := process.NewMutant(true, 42)
	if m.ClosePolicy() != process.CloseAbandon {
		t.Errorf("ClosePolicy() = %v, want CloseAbandon while still owned", m.ClosePolicy())
	}
	m.Release(42)
	if m.ClosePolicy() != process.CloseNoSignal {
		t.Errorf("ClosePolicy() = %v, want CloseNoSignal once released", m.ClosePolicy())
	}
}
