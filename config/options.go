// Package config loads the YAML option set that shapes a run: where the
// guest root filesystem and registry hive live, which modules get full
// emulation versus a stub, and the environment/locale/system-time
// scaffolding that lets the process context synthesize a believable
// PEB/TEB/registry without a real Windows install behind it.
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// EnvVar is one guest environment variable. Options keeps them as a list in
// file order; cmd/ntwine copies them into the process context's map, which
// does not keep that order, and no PEB environment block is built from them.
type EnvVar struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// PortMapping pairs an emulator-facing socket port with a host port. It is
// loaded into Options only: no socket emulation reads it, so no port is
// rewritten in either direction.
type PortMapping struct {
	GuestPort int `yaml:"guest_port"`
	HostPort  int `yaml:"host_port"`
}

// PathMapping mounts a host directory at a guest NT path, letting the
// virtual filesystem resolve reads and writes against real files.
type PathMapping struct {
	GuestPath string `yaml:"guest_path"`
	HostPath  string `yaml:"host_path"`
}

// SystemTime is the wall-clock the guest observes through
// NtQuerySystemTime and friends, independent of the host's own clock.
type SystemTime struct {
	Year        int `yaml:"year"`
	Month       int `yaml:"month"`
	DayOfWeek   int `yaml:"day_of_week"`
	Day         int `yaml:"day"`
	Hour        int `yaml:"hour"`
	Minute      int `yaml:"minute"`
	Second      int `yaml:"second"`
	Millisecond int `yaml:"millisecond"`
}

// Options is the full set of knobs a run reads before world construction.
// Every field has a workable zero-config default (see Default); a YAML
// file loaded over it only needs to override what a scenario cares about.
type Options struct {
	// Core run behavior.
	EmulationRoot    string        `yaml:"emulation_root"`
	RegistryDirectory string       `yaml:"registry_directory"`
	VerboseCalls     bool          `yaml:"verbose_calls"`
	DisableLogging   bool          `yaml:"disable_logging"`
	SilentUntilMain  bool          `yaml:"silent_until_main"`
	UseRelativeTime  bool          `yaml:"use_relative_time"`
	PortMappings     []PortMapping `yaml:"port_mappings"`
	PathMappings     []PathMapping `yaml:"path_mappings"`
	Modules          []string      `yaml:"modules"`

	// Environment/locale/system-time scaffolding: enough detail for
	// guest code that queries its own environment to get plausible,
	// self-consistent answers instead of zero values.
	CodePageIdentifier int        `yaml:"code_page_identifier"`
	ComputerName       string     `yaml:"computer_name"`
	CurrentLocale      int        `yaml:"current_locale"`
	LocaleSortOrder    int        `yaml:"locale_sort_order"`
	DllLoadReason      int        `yaml:"dll_load_reason"`
	Environment        []EnvVar   `yaml:"environment"`
	KeyboardType       int        `yaml:"keyboard_type"`
	KeyboardSubType    int        `yaml:"keyboard_subtype"`
	KeyboardFuncKeys   int        `yaml:"keyboard_funckeys"`
	OsMajorVersion     int        `yaml:"os_major_version"`
	OsMinorVersion     int        `yaml:"os_minor_version"`
	ProcessorsCount    int        `yaml:"processors_count"`
	ProcessorType      int        `yaml:"processor_type"`
	ProcessorLevel     int        `yaml:"processor_level"`
	ProcessorRevision  int        `yaml:"processor_revision"`
	SystemTime         SystemTime `yaml:"system_time"`
	User               string     `yaml:"user"`

	// SeedRegistry primes the registry backend before the guest ever
	// touches it; values follow the same "dword:"/"hex:"/"hex(2):"
	// encodings a real .reg export uses. The map is read once at startup
	// and left as it is; later registry writes do not update it.
	SeedRegistry map[string]string `yaml:"seed_registry"`
}

// Default returns an Options with a self-consistent set of values, so an
// emulation can start without a config file at all.
func Default() Options {
	now := time.Now()
	user := "emuser"
	computer := "WORKSTATION"
	opts := Options{
		EmulationRoot:      "os/win10_64/",
		RegistryDirectory:  "registry/",
		VerboseCalls:       false,
		DisableLogging:     false,
		SilentUntilMain:    false,
		UseRelativeTime:    true,
		Modules:            nil,
		CodePageIdentifier: 0x4e4,
		ComputerName:       computer,
		CurrentLocale:      0x409,
		LocaleSortOrder:    0,
		DllLoadReason:      0x1,
		KeyboardType:       0x7,
		KeyboardSubType:    0x0,
		KeyboardFuncKeys:   0xc,
		OsMajorVersion:     0xa,
		OsMinorVersion:     0x0,
		ProcessorsCount:    1,
		ProcessorType:      0x8664,
		ProcessorLevel:     0x6,
		ProcessorRevision:  0x4601,
		User:               user,
		SystemTime: SystemTime{
			Year: now.Year(), Month: int(now.Month()), Day: now.Day(),
			DayOfWeek: int(now.Weekday()), Hour: now.Hour(), Minute: now.Minute(),
			Second: now.Second(), Millisecond: 0,
		},
	}

	opts.Environment = []EnvVar{
		{"ALLUSERSPROFILE", `C:\ProgramData`},
		{"APPDATA", `C:\Users\` + user + `\AppData\Roaming`},
		{"COMPUTERNAME", computer},
		{"ComSpec", `C:\Windows\system32\cmd.exe`},
		{"HOMEDRIVE", `C:`},
		{"HOMEPATH", `\Users\` + user},
		{"LOCALAPPDATA", `C:\Users\` + user + `\AppData\Local`},
		{"NUMBER_OF_PROCESSORS", "1"},
		{"OS", "Windows_NT"},
		{"Path", `C:\Windows\system32;C:\Windows;C:\Windows\System32\Wbem`},
		{"PATHEXT", ".COM;.EXE;.BAT;.CMD"},
		{"PROCESSOR_ARCHITECTURE", "AMD64"},
		{"ProgramData", `C:\ProgramData`},
		{"ProgramFiles", `C:\Program Files`},
		{"SystemDrive", `C:`},
		{"SystemRoot", `C:\Windows`},
		{"TEMP", `C:\Users\` + user + `\AppData\Local\Temp`},
		{"TMP", `C:\Users\` + user + `\AppData\Local\Temp`},
		{"USERDOMAIN", computer},
		{"USERNAME", user},
		{"USERPROFILE", `C:\Users\` + user},
		{"windir", `C:\Windows`},
	}

	opts.SeedRegistry = map[string]string{
		`HKEY_LOCAL_MACHINE\SOFTWARE\Microsoft\Windows NT\CurrentVersion\ProductName`: "Windows 10 Pro",
		`HKEY_LOCAL_MACHINE\SYSTEM\ControlSet001\Control\Windows\ComponentizedBuild`:  "dword:00000001",
		`HKEY_LOCAL_MACHINE\SYSTEM\ControlSet001\Control\Windows\CSDBuildNumber`:      "dword:00000000",
		`HKEY_CURRENT_USER\Control Panel\Mouse\SwapMouseButtons`:                      "0",
		`HKEY_CURRENT_USER\Software\Microsoft\Windows\CurrentVersion\Explorer`:        "0",
	}

	return opts
}

// Load reads path as YAML and overlays it onto Default(), so a config
// file only needs to name the fields a scenario actually cares about
// changing.
func Load(path string) (Options, error) {
	opts := Default()
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &opts); err != nil {
		return Options{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return opts, nil
}
