package config_test

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/coldharbor/ntwine/config"
)

func TestDefaultIsSelfConsistent(t *testing.T) {
	opts := config.Default()
	if opts.EmulationRoot == "" {
		t.Errorf("EmulationRoot is empty")
	}
	if opts.ComputerName == "" || opts.User == "" {
		t.Errorf("ComputerName/User empty: %+v", opts)
	}
	if len(opts.Environment) == 0 {
		t.Errorf("Environment is empty")
	}
	if opts.SystemTime.Year < 2020 {
		t.Errorf("SystemTime.Year = %d, want a plausible current year", opts.SystemTime.Year)
	}
}

func TestLoadOverlaysOntoDefault(t *testing.T) {
	f, err := ioutil.TempFile("", "ntwine-config-*.yaml")
	if err != nil {
		t.Fatalf("TempFile: %v", err)
	}
	defer os.Remove(f.Name())

	const doc = `
verbose_calls: true
computer_name: TESTBOX
modules:
  - kernel32.dll
  - ntdll.dll
port_mappings:
  - guest_port: 80
    host_port: 8080
`
	if _, err := f.WriteString(doc); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	opts, err := config.Load(f.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !opts.VerboseCalls {
		t.Errorf("VerboseCalls not overlaid from file")
	}
	if opts.ComputerName != "TESTBOX" {
		t.Errorf("ComputerName = %q, want TESTBOX", opts.ComputerName)
	}
	if opts.User != config.Default().User {
		t.Errorf("User = %q, want default preserved when file omits it", opts.User)
	}
	if len(opts.Modules) != 2 || opts.Modules[0] != "kernel32.dll" {
		t.Errorf("Modules = %+v", opts.Modules)
	}
	if len(opts.PortMappings) != 1 || opts.PortMappings[0].HostPort != 8080 {
		t.Errorf("PortMappings = %+v", opts.PortMappings)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatalf("Load succeeded on a missing file")
	}
}
