package registry_test

import (
	"testing"

	"github.com/coldharbor/ntwine/registry"
)

func TestCreateAndOpenKey(t *testing.T) {
	tr := registry.NewTree()
	if err := tr.CreateKey(`HKEY_LOCAL_MACHINE\Software\Example`); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	ok, err := tr.OpenKey(`HKEY_LOCAL_MACHINE\Software\Example`)
	if err != nil || !ok {
		t.Fatalf("OpenKey: ok=%v err=%v", ok, err)
	}
	if ok, _ := tr.OpenKey(`HKEY_LOCAL_MACHINE\Software\Missing`); ok {
		t.Fatalf("OpenKey: expected missing key to not exist")
	}
}

func TestSetAndQueryValue(t *testing.T) {
	tr := registry.NewTree()
	if err := tr.SetValue(`HKEY_CURRENT_USER\Environment`, "TEMP", registry.TypeSZ, []byte("C:\\Temp\x00")); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	v, ok := tr.QueryValue(`HKEY_CURRENT_USER\Environment`, "TEMP")
	if !ok {
		t.Fatalf("QueryValue: value not found")
	}
	if v.Type != registry.TypeSZ {
		t.Fatalf("QueryValue: type = %v, want TypeSZ", v.Type)
	}
	if string(v.Data) != "C:\\Temp\x00" {
		t.Fatalf("QueryValue: data = %q", v.Data)
	}
}

func TestDeleteValueAndKey(t *testing.T) {
	tr := registry.NewTree()
	_ = tr.SetValue(`HKEY_LOCAL_MACHINE\Software\Foo`, "Bar", registry.TypeDWord, []byte{1, 0, 0, 0})

	if err := tr.DeleteValue(`HKEY_LOCAL_MACHINE\Software\Foo`, "Bar"); err != nil {
		t.Fatalf("DeleteValue: %v", err)
	}
	if _, ok := tr.QueryValue(`HKEY_LOCAL_MACHINE\Software\Foo`, "Bar"); ok {
		t.Fatalf("QueryValue: value should have been deleted")
	}

	if err := tr.DeleteKey(`HKEY_LOCAL_MACHINE\Software\Foo`); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if ok, _ := tr.OpenKey(`HKEY_LOCAL_MACHINE\Software\Foo`); ok {
		t.Fatalf("OpenKey: key should have been deleted")
	}
}

func TestEnumKeysAndValues(t *testing.T) {
	tr := registry.NewTree()
	_ = tr.CreateKey(`HKEY_LOCAL_MACHINE\Software\A`)
	_ = tr.CreateKey(`HKEY_LOCAL_MACHINE\Software\B`)
	_ = tr.SetValue(`HKEY_LOCAL_MACHINE\Software`, "Version", registry.TypeDWord, []byte{1, 0, 0, 0})

	keys, err := tr.EnumKeys(`HKEY_LOCAL_MACHINE\Software`)
	if err != nil {
		t.Fatalf("EnumKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("EnumKeys: got %d keys, want 2", len(keys))
	}

	values, err := tr.EnumValues(`HKEY_LOCAL_MACHINE\Software`)
	if err != nil {
		t.Fatalf("EnumValues: %v", err)
	}
	if len(values) != 1 || values[0] != "Version" {
		t.Fatalf("EnumValues: got %v", values)
	}
}

func TestHiveName(t *testing.T) {
	name, ok := registry.HiveName(0x80000002)
	if !ok || name != "HKEY_LOCAL_MACHINE" {
		t.Fatalf("HiveName: got (%q, %v)", name, ok)
	}
	if _, ok := registry.HiveName(0xdeadbeef); ok {
		t.Fatalf("HiveName: expected unknown predefined handle to miss")
	}
}
