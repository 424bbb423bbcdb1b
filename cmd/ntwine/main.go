// Command ntwine loads a Windows PE binary and runs it under user-mode
// emulation: mapping its sections, binding its imports against either a
// fully emulated dependency or a synthetic syscall stub, seeding a
// registry and virtual filesystem from a YAML config, and driving the CPU
// engine until the primary thread exits or the run hits a stop condition.
package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/coldharbor/ntwine/config"
	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/emulator"
	"github.com/coldharbor/ntwine/internal/logging"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/module"
	"github.com/coldharbor/ntwine/pefile"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/registry"
	"github.com/coldharbor/ntwine/syscallapi"
)

func main() {
	configPath := flag.String("c", "", "path to a YAML run configuration; defaults to a self-consistent built-in config")
	rootOverride := flag.String("r", "", "override the config's emulation_root")
	verbose := flag.Bool("v", false, "log every dispatched syscall, not just unhandled ones")
	timeout := flag.Duration("t", 0, "wall-clock time limit for the run, 0 for unbounded")
	maxInstructions := flag.Uint64("n", 0, "instruction budget for the run, 0 for unbounded")

	flag.Parse()
	if flag.NArg() == 0 {
		flag.PrintDefaults()
		os.Exit(2)
	}

	opts, err := loadOptions(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *rootOverride != "" {
		opts.EmulationRoot = *rootOverride
	}
	if *verbose {
		opts.VerboseCalls = true
	}

	logger := buildLogger(opts)

	exitCode, err := run(opts, flag.Arg(0), logger, *timeout, *maxInstructions)
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
	os.Exit(int(exitCode))
}

func loadOptions(path string) (config.Options, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildLogger(opts config.Options) *logging.Logger {
	if opts.DisableLogging {
		return logging.Discard()
	}
	level := logging.LevelInfo
	if opts.VerboseCalls {
		level = logging.LevelDebug
	}
	return logging.NewText(os.Stderr, slog.Level(level))
}

// run constructs one emulated process around path and drives it to
// completion. It is split out from main so the wiring itself stays
// testable without going through os.Exit.
func run(opts config.Options, path string, logger *logging.Logger, timeout time.Duration, maxInstructions uint64) (uint32, error) {
	primary, err := pefile.LoadPeFile(path)
	if err != nil {
		return 0, fmt.Errorf("ntwine: loading %s: %w", path, err)
	}

	mode := core.Mode64
	ceil := uint64(0x7fffffff0000)
	if primary.PeType == pefile.Pe32 {
		mode = core.Mode32
		ceil = 0x7fff0000
	}

	engine, err := core.NewUnicorn(mode)
	if err != nil {
		return 0, fmt.Errorf("ntwine: initializing CPU engine: %w", err)
	}

	mem := memory.NewManager(engine, 0x10000, ceil)

	table := syscallapi.BuildServiceTable()
	// dispatcher.Proc is filled in once proc exists below; module loading
	// only needs ResolveStub, which reaches Proc.Mem, not Proc itself.
	dispatcher := syscallapi.NewDispatcher(nil, table)
	mods := module.NewManager(mem, dispatcher, primary.ImageBase())

	clocks := clocksFrom(opts)
	proc := process.NewContext(mem, mods, clocks, path, environmentMap(opts), uint64(clocks.SystemTime100ns()))
	dispatcher.Proc = proc

	mainModule, err := mods.MapModule(primary, memory.TagImage, true)
	if err != nil {
		return 0, fmt.Errorf("ntwine: mapping %s: %w", path, err)
	}

	if err := loadFullyEmulatedModules(mods, opts); err != nil {
		return 0, fmt.Errorf("ntwine: loading fully emulated modules: %w", err)
	}

	if err := seedRegistry(proc.Registry, opts.SeedRegistry); err != nil {
		return 0, fmt.Errorf("ntwine: seeding registry: %w", err)
	}
	mountPaths(proc.Files, opts)

	ldrAddr, err := mem.AllocMeta(0x1000)
	if err != nil {
		return 0, fmt.Errorf("ntwine: allocating loader data: %w", err)
	}
	paramsAddr, err := mem.AllocMeta(0x1000)
	if err != nil {
		return 0, fmt.Errorf("ntwine: allocating process parameters: %w", err)
	}
	if err := proc.InitPEB(ldrAddr, paramsAddr); err != nil {
		return 0, fmt.Errorf("ntwine: initializing PEB: %w", err)
	}

	if _, err := proc.CreateThread(engine, mainModule.EntryPoint, 0, 0); err != nil {
		return 0, fmt.Errorf("ntwine: creating primary thread: %w", err)
	}

	emu, err := emulator.New(opts, engine, proc, dispatcher, mainModule.EntryPoint, logger, nil, func(b []byte) {
		os.Stdout.Write(b)
	})
	if err != nil {
		return 0, fmt.Errorf("ntwine: constructing emulator: %w", err)
	}
	defer emu.Close()

	exitCode, err := emu.Start(context.Background(), timeout, maxInstructions)
	if err != nil {
		if emuErr, ok := err.(*emulator.Error); ok && emuErr.Kind == "access_violation" {
			logger.Error("unhandled guest exception", "rip", fmt.Sprintf("0x%x", emuErr.RIP), "module", emuErr.Module)
		}
		return exitCode, err
	}
	return exitCode, nil
}

// loadFullyEmulatedModules maps a real PE for every DLL name listed in
// Modules, searching the emulation root's system32 and then syswow64
// directories the way a real loader would search the system search path;
// any import not covered
// by one of these gets the module manager's default synthetic stub
// instead.
func loadFullyEmulatedModules(mods *module.Manager, opts config.Options) error {
	searchDirs := []string{
		filepath.Join(opts.EmulationRoot, "windows", "system32"),
		filepath.Join(opts.EmulationRoot, "windows", "syswow64"),
	}
	for _, name := range opts.Modules {
		dllPath, err := findModule(searchDirs, name)
		if err != nil {
			return err
		}
		pe, err := pefile.LoadPeFile(dllPath)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", dllPath, err)
		}
		if _, err := mods.MapModule(pe, memory.TagImage, false); err != nil {
			return fmt.Errorf("mapping %s: %w", dllPath, err)
		}
	}
	return nil
}

func findModule(dirs []string, name string) (string, error) {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("module %s not found under %v", name, dirs)
}

func clocksFrom(opts config.Options) *process.Clocks {
	st := opts.SystemTime
	t := time.Date(st.Year, time.Month(st.Month), st.Day, st.Hour, st.Minute, st.Second, st.Millisecond*1e6, time.UTC)
	return process.NewClocks(t.Unix(), int64(t.Nanosecond()), 10_000_000)
}

func environmentMap(opts config.Options) map[string]string {
	env := make(map[string]string, len(opts.Environment))
	for _, kv := range opts.Environment {
		env[kv.Key] = kv.Value
	}
	return env
}

func mountPaths(fs *process.VFS, opts config.Options) {
	for _, pm := range opts.PathMappings {
		fs.Mount(pm.GuestPath, pm.HostPath)
	}
}

var (
	hexArrayPattern = regexp.MustCompile(`^hex(?:\(\w+\))?:`)
	dwordPattern    = regexp.MustCompile(`^dword:`)
	qwordPattern    = regexp.MustCompile(`^qword:`)
)

// seedRegistry primes reg with a run's baked-in values before the guest
// ever touches it. Values follow the same dword:/qword:/hex:/hex(2): text
// encoding a real .reg export uses, so a config file can borrow entries
// straight out of one.
func seedRegistry(reg registry.Backend, seed map[string]string) error {
	for fullPath, encoded := range seed {
		i := strings.LastIndex(fullPath, `\`)
		if i < 0 {
			return fmt.Errorf("registry seed key %q has no value name", fullPath)
		}
		keyPath, name := fullPath[:i], fullPath[i+1:]

		data, typ, err := decodeRegValue(encoded)
		if err != nil {
			return fmt.Errorf("registry seed value %q: %w", fullPath, err)
		}
		if err := reg.SetValue(keyPath, name, typ, data); err != nil {
			return err
		}
	}
	return nil
}

func decodeRegValue(encoded string) ([]byte, registry.ValueType, error) {
	switch {
	case hexArrayPattern.MatchString(encoded):
		parts := strings.SplitN(encoded, ":", 2)
		data, err := hex.DecodeString(strings.ReplaceAll(parts[1], ",", ""))
		if err != nil {
			return nil, 0, err
		}
		if strings.HasPrefix(encoded, "hex(2)") {
			return data, registry.TypeExpandSZ, nil
		}
		return data, registry.TypeBinary, nil

	case dwordPattern.MatchString(encoded):
		v, err := strconv.ParseUint(strings.TrimPrefix(encoded, "dword:"), 16, 32)
		if err != nil {
			return nil, 0, err
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v))
		return buf, registry.TypeDWord, nil

	case qwordPattern.MatchString(encoded):
		v, err := strconv.ParseUint(strings.TrimPrefix(encoded, "qword:"), 16, 64)
		if err != nil {
			return nil, 0, err
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		return buf, registry.TypeQWord, nil

	default:
		return append([]byte(encoded), 0x00), registry.TypeSZ, nil
	}
}
