package process

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// mountPoint routes a guest NT path prefix (e.g. `C:\data\`) to a real
// host directory, letting guest file I/O reach actual files without
// giving it the run of the host filesystem outside that prefix.
type mountPoint struct {
	guestPrefix string
	hostDir     string
}

// VFS is a virtual filesystem: paths under a mounted prefix (see Mount,
// fed from config.PathMapping) resolve to real host files; everything
// else is an in-memory stand-in that reads and writes named byte buffers
// held here instead of touching the real disk.
type VFS struct {
	files  map[string]*memFile
	mounts []mountPoint
	stdout *console
}

// NewVFS builds an empty virtual filesystem with no host mounts.
func NewVFS() *VFS { return &VFS{files: make(map[string]*memFile), stdout: &console{}} }

// consoleName is the reserved path NtCreateFile resolves to a handle on
// this process's console output, matching the real "CONOUT$" device name
// Windows programs open (or inherit via the standard handles) to reach the
// console rather than a disk file.
const consoleName = "CONOUT$"

// console is the write side of a guest's console output: a Read always
// reports EOF (there is no keyboard input to hand back), and a Write is
// handed to Sink, if one has been set, before reporting success.
type console struct {
	Sink func([]byte)
}

func (c *console) Read([]byte) (int, error) { return 0, io.EOF }

func (c *console) Write(p []byte) (int, error) {
	if c.Sink != nil {
		c.Sink(p)
	}
	return len(p), nil
}

func (c *console) Close() error { return nil }

// SetStdoutSink registers the function called with every byte range
// written to the console output handle. A nil sink silently discards
// console output, which is also the default before this is ever called.
func (fs *VFS) SetStdoutSink(sink func([]byte)) {
	fs.stdout.Sink = sink
}

// Mount routes any guest path beginning with guestPrefix to hostDir,
// preserving the remainder of the path underneath it. Mounts are checked
// in the order they were added; the first matching prefix wins.
func (fs *VFS) Mount(guestPrefix, hostDir string) {
	fs.mounts = append(fs.mounts, mountPoint{guestPrefix: guestPrefix, hostDir: hostDir})
}

func (fs *VFS) resolveHost(path string) (string, bool) {
	for _, m := range fs.mounts {
		if len(path) < len(m.guestPrefix) || !strings.EqualFold(path[:len(m.guestPrefix)], m.guestPrefix) {
			continue
		}
		rel := filepath.FromSlash(strings.ReplaceAll(path[len(m.guestPrefix):], `\`, "/"))
		return filepath.Join(m.hostDir, rel), true
	}
	return "", false
}

type memFile struct {
	data []byte
}

// memFileHandle is the per-open cursor a FileObject wraps; several handles
// can share the same underlying memFile, matching how two handles to the
// same disk file both see writes made through the other.
type memFileHandle struct {
	f   *memFile
	pos int
}

func (h *memFileHandle) Read(p []byte) (int, error) {
	if h.pos >= len(h.f.data) {
		return 0, io.EOF
	}
	n := copy(p, h.f.data[h.pos:])
	h.pos += n
	return n, nil
}

func (h *memFileHandle) Write(p []byte) (int, error) {
	end := h.pos + len(p)
	if end > len(h.f.data) {
		grown := make([]byte, end)
		copy(grown, h.f.data)
		h.f.data = grown
	}
	copy(h.f.data[h.pos:end], p)
	h.pos = end
	return len(p), nil
}

func (h *memFileHandle) Close() error { return nil }

// Open returns a FileObject over path, creating an empty file when create
// is true and the path doesn't already exist. A path under a mounted
// prefix opens the real host file directly instead of an in-memory one.
func (fs *VFS) Open(path string, create bool) (*FileObject, error) {
	if strings.EqualFold(path, consoleName) {
		return NewFileObject(path, 0, fs.stdout), nil
	}
	if hostPath, ok := fs.resolveHost(path); ok {
		flags := os.O_RDWR
		if create {
			flags |= os.O_CREATE
			if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
				return nil, fmt.Errorf("process: preparing host directory for %s: %w", path, err)
			}
		}
		f, err := os.OpenFile(hostPath, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("process: opening mounted file %s (%s): %w", path, hostPath, err)
		}
		return NewFileObject(path, 0, f), nil
	}

	f, ok := fs.files[path]
	if !ok {
		if !create {
			return nil, fmt.Errorf("process: file not found: %s", path)
		}
		f = &memFile{}
		fs.files[path] = f
	}
	return NewFileObject(path, 0, &memFileHandle{f: f}), nil
}

// Delete removes path, either the in-memory entry or the real host file
// backing a mounted path.
func (fs *VFS) Delete(path string) error {
	if hostPath, ok := fs.resolveHost(path); ok {
		if err := os.Remove(hostPath); err != nil {
			return fmt.Errorf("process: deleting mounted file %s (%s): %w", path, hostPath, err)
		}
		return nil
	}
	if _, ok := fs.files[path]; !ok {
		return fmt.Errorf("process: file not found: %s", path)
	}
	delete(fs.files, path)
	return nil
}

// Size reports the current length of path's contents.
func (fs *VFS) Size(path string) (int64, error) {
	if hostPath, ok := fs.resolveHost(path); ok {
		info, err := os.Stat(hostPath)
		if err != nil {
			return 0, fmt.Errorf("process: statting mounted file %s (%s): %w", path, hostPath, err)
		}
		return info.Size(), nil
	}
	f, ok := fs.files[path]
	if !ok {
		return 0, fmt.Errorf("process: file not found: %s", path)
	}
	return int64(len(f.data)), nil
}

// Bytes returns a copy of path's full contents, for tests and snapshotting.
// A mounted path's contents are read from the host file each call rather
// than cached, since the whole point of a mount is that the host file is
// the source of truth.
func (fs *VFS) Bytes(path string) ([]byte, error) {
	if hostPath, ok := fs.resolveHost(path); ok {
		data, err := os.ReadFile(hostPath)
		if err != nil {
			return nil, fmt.Errorf("process: reading mounted file %s (%s): %w", path, hostPath, err)
		}
		return data, nil
	}
	f, ok := fs.files[path]
	if !ok {
		return nil, fmt.Errorf("process: file not found: %s", path)
	}
	return bytes.Clone(f.data), nil
}
