package snapshot_test

import (
	"testing"

	"github.com/coldharbor/ntwine/snapshot"
)

func sample() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Modules: []snapshot.ModuleRecord{
			{Name: "test.exe", RealName: "test.exe", Base: 0x400000, Size: 0x1000, EntryPoint: 0x401000},
			{Name: "kernel32.dll", RealName: "KERNEL32.DLL", Base: 0x7ff00000, Size: 0x20000, EntryPoint: 0x7ff01000},
		},
		Regions: []snapshot.RegionRecord{
			{Base: 0x400000, Length: 0x1000, Prot: 5, State: 2, Tag: 1, Data: []byte("\x4d\x5a\x00\x00")},
			{Base: 0x500000, Length: 0x1000, Prot: 0, State: 1, Tag: 0}, // reserved, no bytes
		},
		Handles: []snapshot.HandleRecord{
			{Value: 0x104, Tag: 1, Access: 0x1f0003, Signaled: true, HasSignal: true},
			{Value: 0x204, Tag: 7, Access: 0x1, HasSignal: false},
		},
		Threads: []snapshot.ThreadRecord{
			{
				ID: 4, State: 0, Priority: 0, Affinity: 1, TEBAddress: 0x600000,
				StackBase: 0x300000, StackLimit: 0x400000, SuspendCount: 0,
				LastStatus: 0, ExitCode: 0x103, RegsMode: 8,
				Regs: []uint64{0x401000, 0x3ffff0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x202, 0, 0},
			},
		},
		Scalars: snapshot.Scalars{
			CommandLine: `C:\test.exe --flag`,
			RNGState:    0xdeadbeefcafef00d,
			ClockTicks:  132000000000,
			NextTID:     8,
		},
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	want := sample()
	data, err := snapshot.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := snapshot.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(got.Modules) != len(want.Modules) || got.Modules[0].Name != want.Modules[0].Name {
		t.Fatalf("modules mismatch: %+v", got.Modules)
	}
	if len(got.Regions) != len(want.Regions) {
		t.Fatalf("region count = %d, want %d", len(got.Regions), len(want.Regions))
	}
	if string(got.Regions[0].Data) != string(want.Regions[0].Data) {
		t.Fatalf("region 0 data = %x, want %x", got.Regions[0].Data, want.Regions[0].Data)
	}
	if got.Regions[1].Data != nil {
		t.Fatalf("region 1 (reserved) should carry no bytes, got %x", got.Regions[1].Data)
	}
	if len(got.Threads) != 1 || got.Threads[0].ExitCode != 0x103 {
		t.Fatalf("thread record mismatch: %+v", got.Threads)
	}
	if len(got.Threads[0].Regs) != len(want.Threads[0].Regs) {
		t.Fatalf("register lane count = %d, want %d", len(got.Threads[0].Regs), len(want.Threads[0].Regs))
	}
	if got.Scalars.CommandLine != want.Scalars.CommandLine || got.Scalars.RNGState != want.Scalars.RNGState {
		t.Fatalf("scalars mismatch: %+v", got.Scalars)
	}
	if !got.Handles[0].HasSignal || !got.Handles[0].Signaled {
		t.Fatalf("handle 0 signal state lost: %+v", got.Handles[0])
	}
	if got.Handles[1].HasSignal {
		t.Fatalf("handle 1 should have no signal state, got %+v", got.Handles[1])
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	data, err := snapshot.Marshal(sample())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	corrupt := append([]byte(nil), data...)
	corrupt[0] ^= 0xff

	if _, err := snapshot.Unmarshal(corrupt); err == nil {
		t.Fatalf("Unmarshal accepted corrupted magic")
	}
}

func TestUnmarshalRejectsChecksumMismatch(t *testing.T) {
	data, err := snapshot.Marshal(sample())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-1] ^= 0xff

	if _, err := snapshot.Unmarshal(corrupt); err != snapshot.ErrChecksum {
		t.Fatalf("Unmarshal error = %v, want ErrChecksum", err)
	}
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	data, err := snapshot.Marshal(sample())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := snapshot.Unmarshal(data[:8]); err == nil {
		t.Fatalf("Unmarshal accepted truncated data")
	}
}

func TestMarshalEmptySnapshot(t *testing.T) {
	data, err := snapshot.Marshal(&snapshot.Snapshot{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := snapshot.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Modules) != 0 || len(got.Regions) != 0 || len(got.Handles) != 0 || len(got.Threads) != 0 {
		t.Fatalf("expected all-empty sections, got %+v", got)
	}
}
