package sym86

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// Instruction is the opaque product of the decoding front end. The policy
// needs nothing beyond the instruction's address.
type Instruction interface {
	Address() uint64
}

// Policy emulates the execution of a single basic block of x86 instructions
// over symbolic values. A dispatcher drives it by calling StartInstruction,
// a sequence of primitive operations, then FinishInstruction; afterwards the
// caller inspects the resulting state or its diff against the original.
//
// The original state is logically a read-only snapshot, but memRead caches
// implicitly-read initial values into it so that subsequent reads from the
// same address return the same value. Policy instances must not be shared
// between goroutines.
type Policy struct {
	curInsn Instruction // set by StartInstruction, cleared by FinishInstruction
	orig    *State      // original machine state; extended on demand by memRead
	cur     *State      // current machine state

	// When set, memory written through the stack pointer is assumed not to
	// alias memory written through the frame pointer or any other pointer.
	discardPoppedMemory bool

	ninsns int // total number of instructions processed
}

// NewPolicy returns a policy whose current state holds fresh variables in
// every slot. The original state is a snapshot of the current state, so both
// see the same variable identifiers; it is re-snapshotted by the first
// StartInstruction, which lets callers pre-seed registers through the normal
// write interface before processing instructions.
func NewPolicy() *Policy {
	cur := NewState()
	return &Policy{cur: cur, orig: cur.Clone()}
}

// State returns the current machine state.
func (p *Policy) State() *State { return p.cur }

// OrigState returns the original machine state.
func (p *Policy) OrigState() *State { return p.orig }

// IP returns the current instruction pointer.
func (p *Policy) IP() Expr { return p.cur.IP }

// OrigIP returns the original instruction pointer.
func (p *Policy) OrigIP() Expr { return p.orig.IP }

// NInsns returns the number of instructions processed so far.
func (p *Policy) NInsns() int { return p.ninsns }

// SetDiscardPoppedMemory changes how the policy treats the stack. When set,
// writes assume stack-pointer memory, frame-pointer memory, and other memory
// are pairwise non-aliasing, and FinishInstruction runs the state's eviction
// hook. Because memoryReferenceType classifies every address as MemRefOther
// and the eviction hook removes nothing, the setting does not change results.
func (p *Policy) SetDiscardPoppedMemory(b bool) {
	p.discardPoppedMemory = b
}

// DiscardPoppedMemory returns the current setting of the stack property.
func (p *Policy) DiscardPoppedMemory() bool {
	return p.discardPoppedMemory
}

// StartInstruction begins processing insn: the instruction pointer becomes
// the known instruction address. The first call re-snapshots the original
// state so that registers seeded after construction count as original values.
func (p *Policy) StartInstruction(insn Instruction) {
	p.cur.IP = NewConstantExpr(insn.Address(), Width32)
	if p.ninsns == 0 {
		p.orig = p.cur.Clone()
	}
	p.ninsns++
	p.curInsn = insn
}

// FinishInstruction ends processing of insn.
func (p *Policy) FinishInstruction(insn Instruction) {
	if p.discardPoppedMemory {
		p.cur.discardPoppedMemory()
	}
	p.curInsn = nil
}

// True returns the known true value.
func (p *Policy) True() Expr {
	return NewConstantExpr(1, WidthBool)
}

// False returns the known false value.
func (p *Policy) False() Expr {
	return NewConstantExpr(0, WidthBool)
}

// Undefined returns a fresh unknown Boolean.
func (p *Policy) Undefined() Expr {
	return NewVariableExpr(WidthBool)
}

// Number returns the known constant n of the given width.
func (p *Policy) Number(width uint, n uint64) Expr {
	return NewConstantExpr(n, width)
}

// ReadGPR returns the value of the specified 32-bit general purpose register.
func (p *Policy) ReadGPR(r int) Expr {
	assert(r >= 0 && r < NGPRs, "gpr index out of range: %d", r)
	return p.cur.GPR[r]
}

// WriteGPR places a value in the specified 32-bit general purpose register.
func (p *Policy) WriteGPR(r int, value Expr) {
	assert(r >= 0 && r < NGPRs, "gpr index out of range: %d", r)
	assert(ExprWidth(value) == Width32, "gpr value must be 32 bits wide")
	p.cur.GPR[r] = value
}

// ReadSegreg returns the value of the specified 16-bit segment register.
func (p *Policy) ReadSegreg(sr int) Expr {
	assert(sr >= 0 && sr < NSegregs, "segreg index out of range: %d", sr)
	return p.cur.Segreg[sr]
}

// WriteSegreg places a value in the specified 16-bit segment register.
func (p *Policy) WriteSegreg(sr int, value Expr) {
	assert(sr >= 0 && sr < NSegregs, "segreg index out of range: %d", sr)
	assert(ExprWidth(value) == Width16, "segreg value must be 16 bits wide")
	p.cur.Segreg[sr] = value
}

// ReadFlag returns the value of a specific control/status flag.
func (p *Policy) ReadFlag(f int) Expr {
	assert(f >= 0 && f < NFlags, "flag index out of range: %d", f)
	return p.cur.Flag[f]
}

// WriteFlag changes the value of the specified control/status flag.
func (p *Policy) WriteFlag(f int, value Expr) {
	assert(f >= 0 && f < NFlags, "flag index out of range: %d", f)
	assert(ExprWidth(value) == WidthBool, "flag value must be one bit")
	p.cur.Flag[f] = value
}

// ReadIP returns the value of the instruction pointer as it would be during
// execution of the current instruction.
func (p *Policy) ReadIP() Expr {
	return p.cur.IP
}

// WriteIP changes the value of the instruction pointer.
func (p *Policy) WriteIP(value Expr) {
	assert(ExprWidth(value) == Width32, "ip value must be 32 bits wide")
	p.cur.IP = value
}

// ReadMemory reads a value of the given width from memory. The segment
// register is reserved for future segmented memory modeling; cond is a
// conditional execution guard that is accepted and ignored.
func (p *Policy) ReadMemory(segreg int, width uint, addr, cond Expr) Expr {
	assert(segreg >= 0 && segreg < NSegregs, "segreg index out of range: %d", segreg)
	assert(ExprWidth(cond) == WidthBool, "cond must be one bit")
	return p.memRead(p.cur, width, addr)
}

// WriteMemory writes a value of the given width to memory. The segment
// register and cond arguments behave as in ReadMemory.
func (p *Policy) WriteMemory(segreg int, width uint, addr, data, cond Expr) {
	assert(segreg >= 0 && segreg < NSegregs, "segreg index out of range: %d", segreg)
	assert(ExprWidth(cond) == WidthBool, "cond must be one bit")
	p.memWrite(p.cur, width, addr, data)
}

// memRead reads width bits from addr in a way that always returns the same
// value provided there are no intervening writes that would clobber the value
// either directly or by aliasing. If appropriate, the value is also recorded
// in the original memory state, turning the implicit initial value at that
// address into an explicit one.
//
// It is safe to pass the policy's original state as the state argument.
func (p *Policy) memRead(state *State, width uint, addr Expr) Expr {
	assert(width == Width8 || width == Width16 || width == Width32, "invalid read width: %d", width)
	newCell := NewMemoryCell(addr, NewVariableExpr(Width32), width/8)

	aliased := false // is newCell aliased by any existing writes?
	for i := range state.Mem {
		m := &state.Mem[i]
		if newCell.MustAlias(*m) {
			if m.Clobbered {
				m.Clobbered = false
				m.Data = newCell.Data
				return NewUnsignedExtendExpr(width, newCell.Data)
			}
			return NewUnsignedExtendExpr(width, m.Data)
		} else if newCell.MayAlias(*m) && m.Written {
			aliased = true
		}
	}

	if !aliased && state != p.orig {
		// The cell is not in the specified state and is not aliased to any
		// writes there, so the initial value applies: take it from the
		// original state, creating it there if necessary.
		for i := range p.orig.Mem {
			m := &p.orig.Mem[i]
			if newCell.MustAlias(*m) {
				assert(!m.Clobbered, "original cell clobbered")
				assert(!m.Written, "original cell written")
				state.Mem = append(state.Mem, *m)
				return NewUnsignedExtendExpr(width, m.Data)
			}
		}
		p.orig.Mem = append(p.orig.Mem, newCell)
	}

	state.Mem = append(state.Mem, newCell)
	return NewUnsignedExtendExpr(width, newCell.Data)
}

// MemRefType classifies a memory reference relative to the current stack and
// frame pointers. See memoryReferenceType.
type MemRefType int

const (
	MemRefStackPtr = MemRefType(iota)
	MemRefFramePtr
	MemRefOther
)

// memoryReferenceType classifies addr relative to the current stack or frame
// pointer. Used by memWrite when operating under the assumption that
// stack-pointer memory, frame-pointer memory, and other memory are pairwise
// distinct. addr is not compared against the stack or frame registers; every
// reference classifies as MemRefOther.
func (p *Policy) memoryReferenceType(state *State, addr Expr) MemRefType {
	return MemRefOther
}

// memWrite writes width bits of data to addr. If the written address is an
// alias for other addresses then those cells are clobbered and their next
// read returns a new value.
func (p *Policy) memWrite(state *State, width uint, addr, data Expr) {
	assert(state != p.orig, "write to original state")
	assert(width == Width8 || width == Width16 || width == Width32, "invalid write width: %d", width)
	assert(ExprWidth(data) == width, "write data width mismatch: %d != %d", ExprWidth(data), width)

	newCell := NewMemoryCell(addr, data, width/8)
	newCell.Written = true

	newMRT := p.memoryReferenceType(state, addr)

	saved := false // has newCell replaced an existing cell?
	for i := range state.Mem {
		m := &state.Mem[i]
		switch {
		case newCell.MustAlias(*m):
			*m = newCell
			saved = true
		case p.discardPoppedMemory && newMRT != p.memoryReferenceType(state, m.Address):
			// Memory referenced through the stack pointer does not alias
			// memory referenced through the frame pointer, and neither
			// aliases memory referenced other ways.
		case newCell.MayAlias(*m):
			m.Clobbered = true
		}
	}
	if !saved {
		state.Mem = append(state.Mem, newCell)
	}
}

// FilterCallTarget is called for CALL instructions before the new value is
// assigned to the instruction pointer.
func (p *Policy) FilterCallTarget(a Expr) Expr { return a }

// FilterReturnTarget is called for RET instructions before the instruction
// pointer is adjusted.
func (p *Policy) FilterReturnTarget(a Expr) Expr { return a }

// FilterIndirectJumpTarget is called for JMP instructions before the
// instruction pointer is adjusted.
func (p *Policy) FilterIndirectJumpTarget(a Expr) Expr { return a }

// Hlt is called only for the HLT instruction.
func (p *Policy) Hlt() {}

// Rdtsc is called only for the RDTSC instruction.
func (p *Policy) Rdtsc() Expr {
	return NewConstantExpr(0, Width64)
}

// Interrupt is called only for the INT instruction. Any behavior is possible
// afterwards, so the entire machine state resets to fresh variables.
func (p *Policy) Interrupt(num uint8) {
	p.cur = NewState()
}

// Add adds two values of equal width.
func (p *Policy) Add(a, b Expr) Expr {
	return NewAddExpr(a, b)
}

// AddWithCarries adds two values of equal width and a carry bit. The second
// return value holds, per bit position, the carry out of that position: the
// tick marks written above the first addend when doing long addition.
func (p *Policy) AddWithCarries(a, b, c Expr) (sum, carryOut Expr) {
	w := ExprWidth(a)
	assert(ExprWidth(b) == w, "add: width mismatch: %d != %d", ExprWidth(b), w)
	assert(ExprWidth(c) == WidthBool, "carry must be one bit")

	aa := NewUnsignedExtendExpr(w+1, a)
	bb := NewUnsignedExtendExpr(w+1, b)
	cc := NewUnsignedExtendExpr(w+1, c)
	sumco := NewAddExpr(aa, NewAddExpr(bb, cc))
	carryOut = NewExtractExpr(1, w+1, p.Xor(aa, p.Xor(bb, sumco)))
	sum = NewAddExpr(a, NewAddExpr(b, NewUnsignedExtendExpr(w, c)))
	return sum, carryOut
}

// And computes the bitwise AND of two values.
func (p *Policy) And(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(a), BV_AND, a, b)
}

// Or computes the bitwise OR of two values.
func (p *Policy) Or(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(a), BV_OR, a, b)
}

// Xor computes the bitwise XOR of two values.
func (p *Policy) Xor(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(a), BV_XOR, a, b)
}

// Invert returns the one's complement of a value.
func (p *Policy) Invert(a Expr) Expr {
	return NewInvertExpr(a)
}

// Negate returns the two's complement of a value.
func (p *Policy) Negate(a Expr) Expr {
	return NewInternalExpr(ExprWidth(a), NEGATE, a)
}

// EqualToZero returns a single bit set iff the value is zero.
func (p *Policy) EqualToZero(a Expr) Expr {
	return NewInternalExpr(WidthBool, ZEROP, a)
}

// Concat concatenates two values so that a occupies the high-order bits of
// the result and b the low-order bits.
func (p *Policy) Concat(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(a)+ExprWidth(b), CONCAT, a, b)
}

// Ite returns the second or third argument depending on the one-bit selector.
func (p *Policy) Ite(sel, ifTrue, ifFalse Expr) Expr {
	return NewInternalExpr(ExprWidth(ifTrue), ITE, sel, ifTrue, ifFalse)
}

// LeastSignificantSetBit returns the position of the least significant set
// bit, or zero when no bits are set.
func (p *Policy) LeastSignificantSetBit(a Expr) Expr {
	return NewInternalExpr(ExprWidth(a), LSSB, a)
}

// MostSignificantSetBit returns the position of the most significant set bit,
// or zero when no bits are set.
func (p *Policy) MostSignificantSetBit(a Expr) Expr {
	return NewInternalExpr(ExprWidth(a), MSSB, a)
}

// RotateLeft rotates the bits of a left by sa bits.
func (p *Policy) RotateLeft(a, sa Expr) Expr {
	return NewInternalExpr(ExprWidth(a), ROL, sa, a)
}

// RotateRight rotates the bits of a right by sa bits.
func (p *Policy) RotateRight(a, sa Expr) Expr {
	return NewInternalExpr(ExprWidth(a), ROR, sa, a)
}

// ShiftLeft shifts a left by sa bits, introducing zeros at the lsb.
func (p *Policy) ShiftLeft(a, sa Expr) Expr {
	return NewInternalExpr(ExprWidth(a), SHL0, sa, a)
}

// ShiftRight shifts a right logically by sa bits, introducing zeros at the msb.
func (p *Policy) ShiftRight(a, sa Expr) Expr {
	return NewInternalExpr(ExprWidth(a), SHR0, sa, a)
}

// ShiftRightArithmetic shifts a right by sa bits, replicating the sign bit.
func (p *Policy) ShiftRightArithmetic(a, sa Expr) Expr {
	return NewInternalExpr(ExprWidth(a), ASR, sa, a)
}

// UnsignedExtend extends (or shrinks) a to the given width by adding or
// removing high-order bits. Added bits are always zeros.
func (p *Policy) UnsignedExtend(width uint, a Expr) Expr {
	return NewUnsignedExtendExpr(width, a)
}

// SignExtend extends a to the given width by replicating its sign bit.
func (p *Policy) SignExtend(width uint, a Expr) Expr {
	return NewSignedExtendExpr(width, a)
}

// Extract returns bits [lo,hi) of a, shifted to the low-order positions of
// the result.
func (p *Policy) Extract(lo, hi uint, a Expr) Expr {
	return NewExtractExpr(lo, hi, a)
}

// SignedDivide divides two signed values. Behavior at a zero divisor is
// unconstrained; the caller is responsible for guarding.
func (p *Policy) SignedDivide(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(a), SDIV, a, b)
}

// SignedModulo calculates the modulus of two signed values.
func (p *Policy) SignedModulo(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(b), SMOD, a, b)
}

// SignedMultiply multiplies two signed values. The result width is the sum of
// the operand widths.
func (p *Policy) SignedMultiply(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(a)+ExprWidth(b), SMUL, a, b)
}

// UnsignedDivide divides two unsigned values. Behavior at a zero divisor is
// unconstrained; the caller is responsible for guarding.
func (p *Policy) UnsignedDivide(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(a), UDIV, a, b)
}

// UnsignedModulo calculates the modulus of two unsigned values.
func (p *Policy) UnsignedModulo(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(b), UMOD, a, b)
}

// UnsignedMultiply multiplies two unsigned values. The result width is the
// sum of the operand widths.
func (p *Policy) UnsignedMultiply(a, b Expr) Expr {
	return NewInternalExpr(ExprWidth(a)+ExprWidth(b), UMUL, a, b)
}

// MemoryForEquality returns a copy of state's memory pruned to the cells
// pertinent to an EqualStates comparison: cells that were explicitly written,
// are not clobbered, and hold a value different from the original state's
// value at the same location.
func (p *Policy) MemoryForEquality(state *State) Memory {
	var mem Memory
	for _, cell := range state.Mem {
		if !cell.Written || cell.Clobbered {
			continue
		}
		if orig, ok := findMustAlias(p.orig.Mem, cell); ok && ExprEqual(orig.Data, cell.Data) {
			continue
		}
		mem = append(mem, cell)
	}
	return mem
}

// findMustAlias returns the first cell of mem that must-aliases cell.
func findMustAlias(mem Memory, cell MemoryCell) (MemoryCell, bool) {
	for _, m := range mem {
		if cell.MustAlias(m) {
			return m, true
		}
	}
	return MemoryCell{}, false
}

// EqualStates compares two states for equality: all register values must
// match structurally, and the memory locations that differ from their
// original values (excluding differences due to clobbering and memory that
// has only been read) must match pointwise under must-alias correspondence,
// regardless of cell order.
func (p *Policy) EqualStates(a, b *State) bool {
	if !a.EqualRegisters(b) {
		return false
	}
	ma, mb := p.MemoryForEquality(a), p.MemoryForEquality(b)
	if len(ma) != len(mb) {
		return false
	}
	for _, ca := range ma {
		cb, ok := findMustAlias(mb, ca)
		if !ok || !ExprEqual(ca.Data, cb.Data) {
			return false
		}
	}
	return true
}

// DiffString renders the difference between the current state and the
// original state: registers and flags whose values changed, and the written
// memory cells that differ from their initial values. Variables are renamed
// in first-encounter order so the rendering is stable across runs.
func (p *Policy) DiffString() string {
	var buf bytes.Buffer
	rmap := make(RenameMap)

	if !ExprEqual(p.orig.IP, p.cur.IP) {
		buf.WriteString("ip: ")
		writeExpr(&buf, p.cur.IP, rmap)
		buf.WriteRune('\n')
	}
	for i := range p.cur.GPR {
		if !ExprEqual(p.orig.GPR[i], p.cur.GPR[i]) {
			fmt.Fprintf(&buf, "gpr%d: ", i)
			writeExpr(&buf, p.cur.GPR[i], rmap)
			buf.WriteRune('\n')
		}
	}
	for i := range p.cur.Segreg {
		if !ExprEqual(p.orig.Segreg[i], p.cur.Segreg[i]) {
			fmt.Fprintf(&buf, "segreg%d: ", i)
			writeExpr(&buf, p.cur.Segreg[i], rmap)
			buf.WriteRune('\n')
		}
	}
	for i := range p.cur.Flag {
		if !ExprEqual(p.orig.Flag[i], p.cur.Flag[i]) {
			fmt.Fprintf(&buf, "flag%d: ", i)
			writeExpr(&buf, p.cur.Flag[i], rmap)
			buf.WriteRune('\n')
		}
	}
	for _, cell := range p.MemoryForEquality(p.cur) {
		buf.WriteString("mem: ")
		cell.write(&buf, rmap)
		buf.WriteRune('\n')
	}
	return buf.String()
}

// SHA1 returns the SHA-1 fingerprint of the difference between the current
// state and the original state as a lowercase hex string.
func (p *Policy) SHA1() string {
	sum := sha1.Sum([]byte(p.DiffString()))
	return hex.EncodeToString(sum[:])
}
