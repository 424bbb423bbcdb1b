package process_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coldharbor/ntwine/process"
)

func TestVFSInMemoryRoundTrip(t *testing.T) {
	fs := process.NewVFS()

	f, err := fs.Open(`C:\scratch.txt`, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := fs.Bytes(`C:\scratch.txt`)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Bytes = %q, want %q", data, "hello")
	}
}

func TestVFSMountRoutesToHostFile(t *testing.T) {
	dir := t.TempDir()
	fs := process.NewVFS()
	fs.Mount(`C:\data\`, dir)

	f, err := fs.Open(`C:\data\out.txt`, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Write([]byte("mounted")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	hostPath := filepath.Join(dir, "out.txt")
	got, err := os.ReadFile(hostPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "mounted" {
		t.Errorf("host file contents = %q, want %q", got, "mounted")
	}

	size, err := fs.Size(`C:\data\out.txt`)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len("mounted")) {
		t.Errorf("Size = %d, want %d", size, len("mounted"))
	}

	if err := fs.Delete(`C:\data\out.txt`); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(hostPath); !os.IsNotExist(err) {
		t.Errorf("mounted file still exists after Delete")
	}
}
