// Package registry models a minimal Windows registry: a hive-rooted tree
// of keys, each carrying zero or more named, typed values.
package registry

import (
	"fmt"
	"strings"
)

// ValueType mirrors the REG_* type tags a registry value carries.
type ValueType uint32

const (
	TypeSZ ValueType = iota + 1
	TypeExpandSZ
	TypeBinary
	TypeDWord
	TypeMultiSZ
	TypeQWord ValueType = 11
)

// Value is one named, typed registry value.
type Value struct {
	Type ValueType
	Data []byte
}

// Backend is the capability a syscall handler needs against the registry:
// open-or-create a key by path, and get/set/delete/enumerate its values,
// all addressed by hive-rooted path strings ("HKEY_LOCAL_MACHINE\\Software\\...")
// rather than a handle, leaving handle lifetime to process.Table the way
// every other kernel object does.
type Backend interface {
	CreateKey(path string) error
	OpenKey(path string) (bool, error)
	DeleteKey(path string) error
	SetValue(path, name string, typ ValueType, data []byte) error
	QueryValue(path, name string) (Value, bool)
	DeleteValue(path, name string) error
	EnumKeys(path string) ([]string, error)
	EnumValues(path string) ([]string, error)
}

type node struct {
	name     string
	children map[string]*node
	values   map[string]Value
}

func newNode(name string) *node {
	return &node{name: name, children: make(map[string]*node), values: make(map[string]Value)}
}

// Tree is the default in-memory Backend, seeded with the well-known hive
// roots on construction.
type Tree struct {
	root *node
}

// NewTree builds an empty registry pre-populated with the standard hive
// roots (HKEY_LOCAL_MACHINE, HKEY_CURRENT_USER, HKEY_CLASSES_ROOT,
// HKEY_USERS, HKEY_CURRENT_CONFIG).
func NewTree() *Tree {
	t := &Tree{root: newNode("")}
	for _, hive := range []string{
		"HKEY_LOCAL_MACHINE",
		"HKEY_CURRENT_USER",
		"HKEY_CLASSES_ROOT",
		"HKEY_USERS",
		"HKEY_CURRENT_CONFIG",
	} {
		t.root.children[hive] = newNode(hive)
	}
	return t
}

func splitPath(path string) []string {
	path = strings.Trim(path, `\`)
	if path == "" {
		return nil
	}
	return strings.Split(path, `\`)
}

func (t *Tree) walk(parts []string, create bool) (*node, bool) {
	cur := t.root
	for _, p := range parts {
		next, ok := cur.children[p]
		if !ok {
			if !create {
				return nil, false
			}
			next = newNode(p)
			cur.children[p] = next
		}
		cur = next
	}
	return cur, true
}

// CreateKey opens path, creating every missing segment along the way.
func (t *Tree) CreateKey(path string) error {
	_, _ = t.walk(splitPath(path), true)
	return nil
}

// OpenKey reports whether path exists without creating it.
func (t *Tree) OpenKey(path string) (bool, error) {
	_, ok := t.walk(splitPath(path), false)
	return ok, nil
}

// DeleteKey removes path and everything beneath it.
func (t *Tree) DeleteKey(path string) error {
	parts := splitPath(path)
	if len(parts) < 2 {
		return fmt.Errorf("registry: cannot delete a hive root")
	}
	parent, ok := t.walk(parts[:len(parts)-1], false)
	if !ok {
		return fmt.Errorf("registry: key not found: %s", path)
	}
	delete(parent.children, parts[len(parts)-1])
	return nil
}

// SetValue creates path if needed and sets name to (typ, data) under it.
func (t *Tree) SetValue(path, name string, typ ValueType, data []byte) error {
	n, _ := t.walk(splitPath(path), true)
	n.values[name] = Value{Type: typ, Data: data}
	return nil
}

// QueryValue looks up a value by key path and name.
func (t *Tree) QueryValue(path, name string) (Value, bool) {
	n, ok := t.walk(splitPath(path), false)
	if !ok {
		return Value{}, false
	}
	v, ok := n.values[name]
	return v, ok
}

// DeleteValue removes a single named value, leaving the key itself intact.
func (t *Tree) DeleteValue(path, name string) error {
	n, ok := t.walk(splitPath(path), false)
	if !ok {
		return fmt.Errorf("registry: key not found: %s", path)
	}
	delete(n.values, name)
	return nil
}

// EnumKeys lists the immediate child key names under path.
func (t *Tree) EnumKeys(path string) ([]string, error) {
	n, ok := t.walk(splitPath(path), false)
	if !ok {
		return nil, fmt.Errorf("registry: key not found: %s", path)
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	return names, nil
}

// EnumValues lists the value names set directly under path.
func (t *Tree) EnumValues(path string) ([]string, error) {
	n, ok := t.walk(splitPath(path), false)
	if !ok {
		return nil, fmt.Errorf("registry: key not found: %s", path)
	}
	names := make([]string, 0, len(n.values))
	for name := range n.values {
		names = append(names, name)
	}
	return names, nil
}

// HiveName maps the well-known predefined HKEY_* handle constants to their
// hive root name, for translating an NtOpenKey ObjectAttributes root handle
// into a path prefix.
func HiveName(predefined uint64) (string, bool) {
	names := map[uint64]string{
		0x80000002: "HKEY_LOCAL_MACHINE",
		0x80000001: "HKEY_CURRENT_USER",
		0x80000000: "HKEY_CLASSES_ROOT",
		0x80000003: "HKEY_USERS",
		0x80000005: "HKEY_CURRENT_CONFIG",
	}
	name, ok := names[predefined]
	return name, ok
}
