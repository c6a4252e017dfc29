package sym86

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Expr represents a node of a symbolic expression tree. Every node carries a
// positive bit width that is immutable after construction. A node is either a
// leaf (ConstantExpr, VariableExpr) or an InternalExpr applying an operator to
// an ordered list of children.
type Expr interface {
	String() string
	expr()
}

func (*ConstantExpr) expr() {}
func (*VariableExpr) expr() {}
func (*InternalExpr) expr() {}

// Op represents an operator of an internal expression node. Operators such as
// shifting, extending, and truncating have the size operand appearing before
// the bit vector on which they operate.
type Op int

const (
	ADD     = Op(iota) // Addition. One or more operands, all the same width.
	AND                // Boolean AND. Operands are all 1-bit values.
	ASR                // Arithmetic shift right. Operand B shifted by A bits.
	BV_AND             // Bitwise AND. One or more operands, all the same width.
	BV_OR              // Bitwise OR. One or more operands, all the same width.
	BV_XOR             // Bitwise XOR. One or more operands, all the same width.
	CONCAT             // Concatenation. Operand A becomes high-order bits.
	EQ                 // Equality. Two operands, both the same width.
	EXTRACT            // Extract bits [A..B) of C. 0 <= A < B <= width(C).
	INVERT             // One's complement. One operand.
	ITE                // If-then-else. A must be one bit; returns B if A is set, C otherwise.
	LSSB               // Least significant set bit or zero. One operand.
	MSSB               // Most significant set bit or zero. One operand.
	NE                 // Inequality. Two operands, both the same width.
	NEGATE             // Arithmetic negation. One operand.
	NOOP               // No operation. Sentinel; never evaluated.
	OR                 // Boolean OR. Operands are all 1-bit values.
	ROL                // Rotate left. Rotate bits of B left by A bits.
	ROR                // Rotate right. Rotate bits of B right by A bits.
	SDIV               // Signed division. Two operands, A/B. Result width is width(A).
	SEXTEND            // Signed extension at msb. Extend B to A bits.
	SHL0               // Shift left, introducing zeros at lsb.
	SHL1               // Shift left, introducing ones at lsb.
	SHR0               // Shift right, introducing zeros at msb.
	SHR1               // Shift right, introducing ones at msb.
	SMOD               // Signed modulus. Two operands, A%B. Result width is width(B).
	SMUL               // Signed multiplication. Result width is width(A)+width(B).
	UDIV               // Unsigned division. Two operands, A/B. Result width is width(A).
	UEXTEND            // Unsigned extension at msb. Extend B to A bits.
	UMOD               // Unsigned modulus. Two operands, A%B. Result width is width(B).
	UMUL               // Unsigned multiplication. Result width is width(A)+width(B).
	ZEROP              // Equal to zero. One operand. Result is a single bit.
)

var opNames = [...]string{
	ADD:     "add",
	AND:     "and",
	ASR:     "asr",
	BV_AND:  "bv-and",
	BV_OR:   "bv-or",
	BV_XOR:  "bv-xor",
	CONCAT:  "concat",
	EQ:      "eq",
	EXTRACT: "extract",
	INVERT:  "invert",
	ITE:     "ite",
	LSSB:    "lssb",
	MSSB:    "mssb",
	NE:      "ne",
	NEGATE:  "negate",
	NOOP:    "noop",
	OR:      "or",
	ROL:     "rol",
	ROR:     "ror",
	SDIV:    "sdiv",
	SEXTEND: "sextend",
	SHL0:    "shl0",
	SHL1:    "shl1",
	SHR0:    "shr0",
	SHR1:    "shr1",
	SMOD:    "smod",
	SMUL:    "smul",
	UDIV:    "udiv",
	UEXTEND: "uextend",
	UMOD:    "umod",
	UMUL:    "umul",
	ZEROP:   "zerop",
}

// String returns the string representation of the operator.
func (op Op) String() string {
	if op >= 0 && op < Op(len(opNames)) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("Op<%d>", op)
}

// nameCounter allocates process-unique identifiers for variable leaves.
var nameCounter uint64

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *VariableExpr:
		return expr.Width
	case *InternalExpr:
		return expr.Width
	default:
		panic("unreachable")
	}
}

// IsKnown returns true if expr is a known constant.
func IsKnown(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// ExprValue returns the concrete value of a known constant.
// Requesting the value of any other node is a programming error.
func ExprValue(expr Expr) uint64 {
	c, ok := expr.(*ConstantExpr)
	assert(ok, "not a constant value: %s", expr)
	return c.Value
}

// ConstantExpr is a leaf holding a known unsigned integer value.
// Bits above Width are always zero.
type ConstantExpr struct {
	Value uint64
	Width uint

	hash uint64
}

// NewConstantExpr returns a new instance of ConstantExpr with value truncated
// to width bits.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	assert(width > 0 && width <= Width64, "constant width out of range: %d", width)
	return &ConstantExpr{Value: value & bitmask(width), Width: width}
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %d %d)", e.Value, e.Width)
}

// IsAllOnes returns true if all bits in the value are one.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value == bitmask(e.Width)
}

// VariableExpr is a leaf representing an unknown value, constrained only by
// its width. Every variable carries a distinct identifier drawn from a
// monotonically increasing counter.
type VariableExpr struct {
	ID    uint64
	Width uint

	hash uint64
}

// NewVariableExpr returns a fresh variable of the given width with a
// process-unique identifier.
func NewVariableExpr(width uint) *VariableExpr {
	assert(width > 0, "variable width must be positive")
	nameCounter++
	return &VariableExpr{ID: nameCounter, Width: width}
}

// String returns the string representation of the expression.
func (e *VariableExpr) String() string {
	return fmt.Sprintf("(var v%d %d)", e.ID, e.Width)
}

// InternalExpr applies an operator to an ordered list of child expressions.
// A node whose value is a known constant must never be an InternalExpr;
// constant folding happens in the constructors that support it.
type InternalExpr struct {
	Op       Op
	Width    uint
	Children []Expr

	hash uint64
}

// NewInternalExpr returns a new internal node after validating the operator's
// arity and width contract. Violations indicate a defect in the caller and
// are fatal.
func NewInternalExpr(width uint, op Op, children ...Expr) *InternalExpr {
	assert(width > 0, "expr width must be positive: op=%s", op)
	for _, child := range children {
		assert(child != nil, "nil child: op=%s", op)
	}

	switch op {
	case ADD, BV_AND, BV_OR, BV_XOR:
		assert(len(children) >= 1, "%s: at least one operand required", op)
		for _, child := range children {
			assert(ExprWidth(child) == width, "%s: operand width mismatch: %d != %d", op, ExprWidth(child), width)
		}
	case AND, OR:
		assert(len(children) >= 1, "%s: at least one operand required", op)
		assert(width == WidthBool, "%s: result must be one bit", op)
		for _, child := range children {
			assert(ExprWidth(child) == WidthBool, "%s: operand must be one bit", op)
		}
	case INVERT, NEGATE, LSSB, MSSB:
		assert(len(children) == 1, "%s: exactly one operand required", op)
		assert(ExprWidth(children[0]) == width, "%s: operand width mismatch: %d != %d", op, ExprWidth(children[0]), width)
	case CONCAT:
		assert(len(children) >= 2, "concat: at least two operands required")
		var sum uint
		for _, child := range children {
			sum += ExprWidth(child)
		}
		assert(sum == width, "concat: width mismatch: %d != %d", sum, width)
	case EXTRACT:
		assert(len(children) == 3, "extract: exactly three operands required")
		lo, hi := ExprValue(children[0]), ExprValue(children[1])
		w := ExprWidth(children[2])
		assert(lo < hi && hi <= uint64(w), "extract out of bounds: [%d,%d) of %d", lo, hi, w)
		assert(uint64(width) == hi-lo, "extract: width mismatch: %d != %d", width, hi-lo)
	case UEXTEND, SEXTEND:
		assert(len(children) == 2, "%s: exactly two operands required", op)
		assert(ExprValue(children[0]) == uint64(width), "%s: width operand mismatch", op)
		assert(width >= ExprWidth(children[1]), "%s: cannot extend %d to %d", op, ExprWidth(children[1]), width)
	case SHL0, SHL1, SHR0, SHR1, ASR, ROL, ROR:
		assert(len(children) == 2, "%s: exactly two operands required", op)
		assert(ExprWidth(children[1]) == width, "%s: operand width mismatch: %d != %d", op, ExprWidth(children[1]), width)
	case EQ, NE:
		assert(len(children) == 2, "%s: exactly two operands required", op)
		assert(ExprWidth(children[0]) == ExprWidth(children[1]), "%s: operand width mismatch: %d != %d", op, ExprWidth(children[0]), ExprWidth(children[1]))
		assert(width == WidthBool, "%s: result must be one bit", op)
	case ZEROP:
		assert(len(children) == 1, "zerop: exactly one operand required")
		assert(width == WidthBool, "zerop: result must be one bit")
	case ITE:
		assert(len(children) == 3, "ite: exactly three operands required")
		assert(ExprWidth(children[0]) == WidthBool, "ite: selector must be one bit")
		assert(ExprWidth(children[1]) == ExprWidth(children[2]), "ite: branch width mismatch: %d != %d", ExprWidth(children[1]), ExprWidth(children[2]))
		assert(ExprWidth(children[1]) == width, "ite: width mismatch: %d != %d", ExprWidth(children[1]), width)
	case SMUL, UMUL:
		assert(len(children) == 2, "%s: exactly two operands required", op)
		assert(ExprWidth(children[0])+ExprWidth(children[1]) == width, "%s: width mismatch: %d != %d", op, ExprWidth(children[0])+ExprWidth(children[1]), width)
	case SDIV, UDIV:
		assert(len(children) == 2, "%s: exactly two operands required", op)
		assert(ExprWidth(children[0]) == width, "%s: width mismatch: %d != %d", op, ExprWidth(children[0]), width)
	case SMOD, UMOD:
		assert(len(children) == 2, "%s: exactly two operands required", op)
		assert(ExprWidth(children[1]) == width, "%s: width mismatch: %d != %d", op, ExprWidth(children[1]), width)
	case NOOP:
		assert(len(children) == 0, "noop: no operands allowed")
	default:
		panic(fmt.Sprintf("invalid op: %d", op))
	}

	return &InternalExpr{Op: op, Width: width, Children: children}
}

// String returns the string representation of the expression.
func (e *InternalExpr) String() string {
	var buf bytes.Buffer
	writeExpr(&buf, e, nil)
	return buf.String()
}

// NewAddExpr returns the expression representing the sum of a & b.
// Folds constants and elides zero addends.
func NewAddExpr(a, b Expr) Expr {
	assert(ExprWidth(a) == ExprWidth(b), "add: width mismatch: %d != %d", ExprWidth(a), ExprWidth(b))

	if a, ok := a.(*ConstantExpr); ok {
		if cb, ok := b.(*ConstantExpr); ok {
			return NewConstantExpr(a.Value+cb.Value, a.Width)
		} else if a.Value == 0 {
			return b
		}
	}
	if b, ok := b.(*ConstantExpr); ok && b.Value == 0 {
		return a
	}
	return NewInternalExpr(ExprWidth(a), ADD, a, b)
}

// NewInvertExpr returns the one's complement of a. Folds constants.
func NewInvertExpr(a Expr) Expr {
	if a, ok := a.(*ConstantExpr); ok {
		return NewConstantExpr(^a.Value, a.Width)
	}
	return NewInternalExpr(ExprWidth(a), INVERT, a)
}

// NewUnsignedExtendExpr extends (or shrinks) a to width bits by adding or
// removing high-order bits. Added bits are always zeros.
func NewUnsignedExtendExpr(width uint, a Expr) Expr {
	if a, ok := a.(*ConstantExpr); ok {
		return NewConstantExpr(a.Value&bitmask(width), width)
	}
	if sw := ExprWidth(a); width == sw {
		return a
	} else if width < sw {
		return NewExtractExpr(0, width, a)
	}
	return NewInternalExpr(width, UEXTEND, NewConstantExpr(uint64(width), Width32), a)
}

// NewSignedExtendExpr extends a to width bits by replicating its most
// significant bit. Widths at or below the operand's behave exactly like the
// unsigned form.
func NewSignedExtendExpr(width uint, a Expr) Expr {
	sw := ExprWidth(a)
	if a, ok := a.(*ConstantExpr); ok {
		v := a.Value
		if width > sw && v&(uint64(1)<<(sw-1)) != 0 {
			v |= bitmask(width) &^ bitmask(sw)
		}
		return NewConstantExpr(v, width)
	}
	if width == sw {
		return a
	} else if width < sw {
		return NewExtractExpr(0, width, a)
	}
	return NewInternalExpr(width, SEXTEND, NewConstantExpr(uint64(width), Width32), a)
}

// NewExtractExpr returns bits [lo,hi) of a, shifted to the low-order
// positions of the result. The lsb is numbered zero.
func NewExtractExpr(lo, hi uint, a Expr) Expr {
	w := ExprWidth(a)
	assert(lo < hi && hi <= w, "extract out of bounds: [%d,%d) of %d", lo, hi, w)

	if lo == 0 && hi == w {
		return a
	}
	if a, ok := a.(*ConstantExpr); ok {
		return NewConstantExpr(a.Value>>lo, hi-lo)
	}
	return NewInternalExpr(hi-lo, EXTRACT,
		NewConstantExpr(uint64(lo), Width32),
		NewConstantExpr(uint64(hi), Width32),
		a)
}

// CompareExpr returns an integer comparing two expressions structurally.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstantExpr:
		return compareConstantExpr(a, b.(*ConstantExpr))
	case *VariableExpr:
		return compareVariableExpr(a, b.(*VariableExpr))
	case *InternalExpr:
		return compareInternalExpr(a, b.(*InternalExpr))
	default:
		panic("unreachable")
	}
}

func compareConstantExpr(a, b *ConstantExpr) int {
	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	if a.Value < b.Value {
		return -1
	} else if a.Value > b.Value {
		return 1
	}
	return 0
}

func compareVariableExpr(a, b *VariableExpr) int {
	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	if a.ID < b.ID {
		return -1
	} else if a.ID > b.ID {
		return 1
	}
	return 0
}

func compareInternalExpr(a, b *InternalExpr) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}
	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	if len(a.Children) < len(b.Children) {
		return -1
	} else if len(a.Children) > len(b.Children) {
		return 1
	}
	for i := range a.Children {
		if cmp := CompareExpr(a.Children[i], b.Children[i]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

// ExprEqual returns true if a and b are structurally equal. Hashes are
// compared first so that distinct trees usually part ways without a walk.
func ExprEqual(a, b Expr) bool {
	if a == b {
		return true
	} else if a == nil || b == nil {
		return false
	}
	if HashExpr(a) != HashExpr(b) {
		return false
	}
	return CompareExpr(a, b) == 0
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *VariableExpr:
		return 2
	case *InternalExpr:
		return 3
	default:
		panic("unreachable")
	}
}

// HashExpr returns a 64-bit structural hash of the expression. The hash is
// computed once per node and memoized.
func HashExpr(expr Expr) uint64 {
	switch expr := expr.(type) {
	case *ConstantExpr:
		if expr.hash == 0 {
			expr.hash = hashWords(1, uint64(expr.Width), expr.Value)
		}
		return expr.hash
	case *VariableExpr:
		if expr.hash == 0 {
			expr.hash = hashWords(2, uint64(expr.Width), expr.ID)
		}
		return expr.hash
	case *InternalExpr:
		if expr.hash == 0 {
			words := make([]uint64, 0, 3+len(expr.Children))
			words = append(words, 3, uint64(expr.Width), uint64(expr.Op))
			for _, child := range expr.Children {
				words = append(words, HashExpr(child))
			}
			expr.hash = hashWords(words...)
		}
		return expr.hash
	default:
		panic("unreachable")
	}
}

func hashWords(words ...uint64) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, w := range words {
		binary.LittleEndian.PutUint64(buf[:], w)
		h.Write(buf[:])
	}
	sum := h.Sum64()
	if sum == 0 {
		sum = 1 // zero marks an uncomputed hash
	}
	return sum
}

// RenameMap maps variable identifiers to shorter sequential names for
// printing. Variables are numbered in first-encounter order.
type RenameMap map[uint64]uint64

func (rmap RenameMap) rename(id uint64) uint64 {
	if n, ok := rmap[id]; ok {
		return n
	}
	n := uint64(len(rmap) + 1)
	rmap[id] = n
	return n
}

// writeExpr renders expr into buf. If rmap is non-nil, variable identifiers
// are renumbered in first-encounter order so that the rendering is stable
// across runs.
func writeExpr(buf *bytes.Buffer, expr Expr, rmap RenameMap) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		fmt.Fprintf(buf, "(const %d %d)", expr.Value, expr.Width)
	case *VariableExpr:
		id := expr.ID
		if rmap != nil {
			id = rmap.rename(id)
		}
		fmt.Fprintf(buf, "(var v%d %d)", id, expr.Width)
	case *InternalExpr:
		buf.WriteRune('(')
		buf.WriteString(expr.Op.String())
		for _, child := range expr.Children {
			buf.WriteRune(' ')
			writeExpr(buf, child, rmap)
		}
		buf.WriteRune(')')
	default:
		panic("unreachable")
	}
}

func bitmask(width uint) uint64 {
	if width >= Width64 {
		return ^uint64(0)
	}
	return (1 << width) - 1
}
