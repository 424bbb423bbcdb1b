package syscallapi

import (
	"fmt"
	"strings"

	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/util"
)

// Instruction is one decoded, and optionally resolved, syscall entry —
// enough to render a call-trace line via StringHook. The parameter sigil
// convention (matched against the first two characters of each entry in
// Parameters) selects how that argument's Values slot is filled in and
// printed:
//
//	w:name   UTF-16LE string pointer
//	a:name   ASCII string pointer
//	s:name   pre-rendered string, supplied by the handler via Call.Values
//	v:name   arbitrary value, supplied by the handler via Call.Values
//	d:name   decimal integer
//	_:name   argument exists but is omitted from the trace
//
// Anything else (or a Parameters entry under two characters) is printed as
// the raw hex value.
type Instruction struct {
	ThreadID   uint32
	Address    uint64
	ServiceID  uint32
	Name       string
	Parameters []string
	Args       []uint64
	Values     []interface{}
	Return     uint64
}

// ParseValues fills in Values for every sigil that reads guest memory
// (w:/a:); v:/s:/_: entries are left as whatever the handler already put
// in Values (or nil, if the handler didn't bother — the call still
// completed, only its trace line loses detail).
func (i *Instruction) ParseValues(mem *memory.Manager) {
	if i.Values == nil {
		i.Values = make([]interface{}, len(i.Args))
	}
	for idx, arg := range i.Args {
		if idx >= len(i.Parameters) || len(i.Parameters[idx]) < 2 {
			i.Values[idx] = arg
			continue
		}
		switch i.Parameters[idx][:2] {
		case "w:":
			i.Values[idx] = strings.TrimRight(util.ReadWideChar(mem, arg, 0, memory.Guest), "\x00")
		case "a:":
			i.Values[idx] = strings.TrimRight(util.ReadASCII(mem, arg, 0, memory.Guest), "\x00")
		case "v:", "s:", "_:":
			// left for the handler to have populated via Call.Values
		default:
			i.Values[idx] = arg
		}
	}
}

// StringHook renders the call-trace line for one completed syscall.
func (i *Instruction) StringHook() string {
	parts := make([]string, 0, len(i.Args))
	for idx := range i.Args {
		label := fmt.Sprintf("p%d", idx)
		sigil := ""
		if idx < len(i.Parameters) && len(i.Parameters[idx]) >= 2 {
			sigil = i.Parameters[idx][:2]
			label = i.Parameters[idx][2:]
		}
		switch sigil {
		case "_:":
			continue
		case "w:", "a:", "s:":
			parts = append(parts, fmt.Sprintf("%s = %q", label, i.Values[idx]))
		case "v:":
			parts = append(parts, fmt.Sprintf("%s = %+v", label, i.Values[idx]))
		case "d:":
			parts = append(parts, fmt.Sprintf("%s = %d", label, i.Args[idx]))
		default:
			parts = append(parts, fmt.Sprintf("%s = 0x%x", label, i.Args[idx]))
		}
	}
	return fmt.Sprintf("[%d] 0x%016x: %s(%s) = 0x%x", i.ThreadID, i.Address, i.Name, strings.Join(parts, ", "), i.Return)
}
