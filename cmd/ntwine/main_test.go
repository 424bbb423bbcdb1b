package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coldharbor/ntwine/config"
	"github.com/coldharbor/ntwine/internal/logging"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/registry"
)

func TestDecodeRegValueDword(t *testing.T) {
	data, typ, err := decodeRegValue("dword:00000001")
	if err != nil {
		t.Fatalf("decodeRegValue: %v", err)
	}
	if typ != registry.TypeDWord {
		t.Errorf("type = %v, want TypeDWord", typ)
	}
	if len(data) != 4 || data[0] != 1 {
		t.Errorf("data = %v, want [1 0 0 0]", data)
	}
}

func TestDecodeRegValueHexBinary(t *testing.T) {
	data, typ, err := decodeRegValue("hex:01,02,03")
	if err != nil {
		t.Fatalf("decodeRegValue: %v", err)
	}
	if typ != registry.TypeBinary {
		t.Errorf("type = %v, want TypeBinary", typ)
	}
	if string(data) != "\x01\x02\x03" {
		t.Errorf("data = %v, want [1 2 3]", data)
	}
}

func TestDecodeRegValueHex2ExpandSZ(t *testing.T) {
	_, typ, err := decodeRegValue("hex(2):25,00,00,00")
	if err != nil {
		t.Fatalf("decodeRegValue: %v", err)
	}
	if typ != registry.TypeExpandSZ {
		t.Errorf("type = %v, want TypeExpandSZ", typ)
	}
}

func TestDecodeRegValuePlainString(t *testing.T) {
	data, typ, err := decodeRegValue("Windows 10 Pro")
	if err != nil {
		t.Fatalf("decodeRegValue: %v", err)
	}
	if typ != registry.TypeSZ {
		t.Errorf("type = %v, want TypeSZ", typ)
	}
	if string(data) != "Windows 10 Pro\x00" {
		t.Errorf("data = %q, want NUL-terminated string", data)
	}
}

func TestSeedRegistryWritesEveryEntry(t *testing.T) {
	tree := registry.NewTree()
	seed := map[string]string{
		`HKEY_LOCAL_MACHINE\SOFTWARE\Vendor\ProductName`: "Widget",
		`HKEY_CURRENT_USER\Control Panel\Mouse\Speed`:     "dword:0000000a",
	}
	if err := seedRegistry(tree, seed); err != nil {
		t.Fatalf("seedRegistry: %v", err)
	}

	v, ok := tree.QueryValue(`HKEY_LOCAL_MACHINE\SOFTWARE\Vendor`, "ProductName")
	if !ok {
		t.Fatalf("ProductName not found after seeding")
	}
	if string(v.Data) != "Widget\x00" {
		t.Errorf("ProductName = %q, want %q", v.Data, "Widget\x00")
	}
}

func TestSeedRegistryRejectsKeyWithNoValueName(t *testing.T) {
	tree := registry.NewTree()
	err := seedRegistry(tree, map[string]string{"HKEY_LOCAL_MACHINE": "x"})
	if err == nil {
		t.Fatalf("expected an error for a path with no value name")
	}
}

func TestEnvironmentMapCopiesEveryPair(t *testing.T) {
	opts := config.Default()
	env := environmentMap(opts)
	if env["SystemRoot"] != `C:\Windows` {
		t.Errorf("SystemRoot = %q, want C:\\Windows", env["SystemRoot"])
	}
	if len(env) != len(opts.Environment) {
		t.Errorf("len(env) = %d, want %d", len(env), len(opts.Environment))
	}
}

func TestClocksFromMatchesConfiguredSystemTime(t *testing.T) {
	opts := config.Default()
	opts.SystemTime = config.SystemTime{Year: 2020, Month: 1, Day: 2, Hour: 3, Minute: 4, Second: 5}
	clocks := clocksFrom(opts)
	if clocks.SystemTime100ns() <= 0 {
		t.Errorf("SystemTime100ns() = %d, want a positive FILETIME value", clocks.SystemTime100ns())
	}
}

func TestMountPathsAppliesEveryMapping(t *testing.T) {
	dir := t.TempDir()
	opts := config.Default()
	opts.PathMappings = []config.PathMapping{{GuestPath: `C:\data\`, HostPath: dir}}

	fs := process.NewVFS()
	mountPaths(fs, opts)

	f, err := fs.Open(`C:\data\out.txt`, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err != nil {
		t.Errorf("mounted path was not routed to the host directory: %v", err)
	}
}

func TestFindModuleSearchesEachDirInOrder(t *testing.T) {
	empty := t.TempDir()
	populated := t.TempDir()
	if err := os.WriteFile(filepath.Join(populated, "ntdll.dll"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := findModule([]string{empty, populated}, "ntdll.dll")
	if err != nil {
		t.Fatalf("findModule: %v", err)
	}
	if got != filepath.Join(populated, "ntdll.dll") {
		t.Errorf("findModule = %q, want the file under the second directory", got)
	}
}

func TestFindModuleReportsNotFound(t *testing.T) {
	if _, err := findModule([]string{t.TempDir()}, "missing.dll"); err == nil {
		t.Fatalf("expected an error for a module not present in any search directory")
	}
}

func TestLoadOptionsFallsBackToDefault(t *testing.T) {
	opts, err := loadOptions("")
	if err != nil {
		t.Fatalf("loadOptions: %v", err)
	}
	if opts.EmulationRoot == "" {
		t.Errorf("loadOptions(\"\") did not return a self-consistent default")
	}
}

func TestBuildLoggerHonorsDisableLogging(t *testing.T) {
	opts := config.Default()
	opts.DisableLogging = true
	logger := buildLogger(opts)
	if logger.Enabled(logging.LevelInfo) {
		t.Errorf("buildLogger with DisableLogging enabled Info-level logging")
	}
}

func TestBuildLoggerRaisesLevelWhenVerbose(t *testing.T) {
	opts := config.Default()
	opts.VerboseCalls = true
	logger := buildLogger(opts)
	if !logger.Enabled(logging.LevelDebug) {
		t.Errorf("buildLogger with VerboseCalls did not enable Debug-level logging")
	}
}
