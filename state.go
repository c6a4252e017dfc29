package sym86

import (
	"bytes"
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// Register file dimensions.
const (
	NGPRs    = 8  // number of general-purpose registers
	NSegregs = 6  // number of segment registers
	NFlags   = 16 // number of status flags
)

// MemoryCell represents one location in memory: an address, the 32-bit data
// stored there, and the access size in bytes. Reads and writes of narrower
// widths are zero-extended into and truncated out of the data.
//
// When a state is created, every memory location implicitly holds a unique
// variable. It is not practical to store a cell for every possible address,
// so cells are materialized lazily: the first read of an address creates the
// cell (and retroactively records it in the original state), and subsequent
// reads of the same address return the same value until an aliasing write
// invalidates it.
type MemoryCell struct {
	Address   Expr
	Data      Expr
	NBytes    uint
	Clobbered bool // set to invalidate possible aliases during writes
	Written   bool // set when the cell originates from an explicit write
}

// NewMemoryCell returns a cell of nbytes at address holding data, which is
// zero-extended to 32 bits.
func NewMemoryCell(address Expr, data Expr, nbytes uint) MemoryCell {
	assert(ExprWidth(address) == Width32, "cell address must be 32 bits wide")
	assert(nbytes == 1 || nbytes == 2 || nbytes == 4, "invalid cell size: %d", nbytes)
	return MemoryCell{
		Address: address,
		Data:    NewUnsignedExtendExpr(Width32, data),
		NBytes:  nbytes,
	}
}

// MustAlias returns true if the two cells are provably the same location:
// structurally equal addresses and equal sizes.
func (c MemoryCell) MustAlias(other MemoryCell) bool {
	return c.NBytes == other.NBytes && ExprEqual(c.Address, other.Address)
}

// MayAlias returns true unless the two cells are provably disjoint. Cells at
// known constant addresses are disjoint when their byte ranges do not
// intersect; any other pair may alias.
func (c MemoryCell) MayAlias(other MemoryCell) bool {
	if c.MustAlias(other) {
		return true
	}
	if IsKnown(c.Address) && IsKnown(other.Address) {
		a, b := ExprValue(c.Address), ExprValue(other.Address)
		return a < b+uint64(other.NBytes) && b < a+uint64(c.NBytes)
	}
	return true
}

// String returns a single-line representation of the cell.
func (c MemoryCell) String() string {
	var buf bytes.Buffer
	c.write(&buf, nil)
	return buf.String()
}

func (c MemoryCell) write(buf *bytes.Buffer, rmap RenameMap) {
	buf.WriteString("addr=")
	writeExpr(buf, c.Address, rmap)
	fmt.Fprintf(buf, " nbytes=%d data=", c.NBytes)
	writeExpr(buf, c.Data, rmap)
	if c.Clobbered {
		buf.WriteString(" clobbered")
	}
	if c.Written {
		buf.WriteString(" written")
	}
}

// Memory is an ordered sequence of cells. The order is insertion order; it
// carries no meaning beyond making traversals deterministic.
type Memory []MemoryCell

// State represents the entire state of the machine: instruction pointer,
// register file, flags, and memory.
type State struct {
	IP     Expr           // instruction pointer, 32 bits
	GPR    [NGPRs]Expr    // general-purpose registers, 32 bits each
	Segreg [NSegregs]Expr // segment registers, 16 bits each
	Flag   [NFlags]Expr   // status flags, one bit each
	Mem    Memory
}

// NewState returns a state with every register and flag slot initialized to a
// distinct fresh variable and an empty memory.
func NewState() *State {
	s := &State{}
	s.Reset()
	return s
}

// Reset clears all cells and reinitializes every register and flag to a fresh
// variable.
func (s *State) Reset() {
	s.IP = NewVariableExpr(Width32)
	for i := range s.GPR {
		s.GPR[i] = NewVariableExpr(Width32)
	}
	for i := range s.Segreg {
		s.Segreg[i] = NewVariableExpr(Width16)
	}
	for i := range s.Flag {
		s.Flag[i] = NewVariableExpr(WidthBool)
	}
	s.Mem = nil
}

// Clone returns a copy of the state. Register slots share their expression
// nodes; memory cells are copied so that later cell mutations in one state
// are invisible to the other.
func (s *State) Clone() *State {
	other := *s
	other.Mem = make(Memory, len(s.Mem))
	copy(other.Mem, s.Mem)
	return &other
}

// EqualRegisters returns true if every register, flag, and the instruction
// pointer of the two states are structurally equal.
func (s *State) EqualRegisters(other *State) bool {
	if !ExprEqual(s.IP, other.IP) {
		return false
	}
	for i := range s.GPR {
		if !ExprEqual(s.GPR[i], other.GPR[i]) {
			return false
		}
	}
	for i := range s.Segreg {
		if !ExprEqual(s.Segreg[i], other.Segreg[i]) {
			return false
		}
	}
	for i := range s.Flag {
		if !ExprEqual(s.Flag[i], other.Flag[i]) {
			return false
		}
	}
	return true
}

// discardPoppedMemory is the eviction hook that FinishInstruction calls when
// the policy's discardPoppedMemory property is set. It leaves memory
// untouched: no cell is removed, including cells below the stack pointer.
func (s *State) discardPoppedMemory() {}

// write renders the state into buf, renaming variables through rmap when it
// is non-nil.
func (s *State) write(buf *bytes.Buffer, rmap RenameMap) {
	buf.WriteString("ip: ")
	writeExpr(buf, s.IP, rmap)
	buf.WriteRune('\n')
	for i, v := range s.GPR {
		fmt.Fprintf(buf, "gpr%d: ", i)
		writeExpr(buf, v, rmap)
		buf.WriteRune('\n')
	}
	for i, v := range s.Segreg {
		fmt.Fprintf(buf, "segreg%d: ", i)
		writeExpr(buf, v, rmap)
		buf.WriteRune('\n')
	}
	for i, v := range s.Flag {
		fmt.Fprintf(buf, "flag%d: ", i)
		writeExpr(buf, v, rmap)
		buf.WriteRune('\n')
	}
	for _, cell := range s.Mem {
		buf.WriteString("mem: ")
		cell.write(buf, rmap)
		buf.WriteRune('\n')
	}
}

// String returns the state in a human-friendly way.
func (s *State) String() string {
	var buf bytes.Buffer
	s.write(&buf, nil)
	return buf.String()
}

// Dump returns the contents of the state as a string, including the raw
// memory cells.
func (s *State) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "MACHINE STATE")
	fmt.Fprintln(&buf, "=============")
	s.write(&buf, nil)
	fmt.Fprintln(&buf, "")
	fmt.Fprintln(&buf, "== MEMORY CELLS")
	buf.WriteString(spew.Sdump(s.Mem))
	return buf.String()
}
