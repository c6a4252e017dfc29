package sym86_test

import (
	"strings"
	"testing"

	"github.com/sym86/sym86"
)

// testInsn is a stub instruction carrying only an address.
type testInsn uint64

func (i testInsn) Address() uint64 { return uint64(i) }

func TestPolicy_ConstantFoldAdd(t *testing.T) {
	p := sym86.NewPolicy()
	p.WriteGPR(0, p.Number(32, 5))
	p.WriteGPR(1, p.Number(32, 7))
	p.WriteGPR(0, p.Add(p.ReadGPR(0), p.ReadGPR(1)))

	if !sym86.IsKnown(p.ReadGPR(0)) {
		t.Fatal("expected known constant")
	} else if v := sym86.ExprValue(p.ReadGPR(0)); v != 12 {
		t.Fatalf("unexpected value: %d", v)
	}
}

func TestPolicy_ReadAfterWrite(t *testing.T) {
	p := sym86.NewPolicy()
	p.StartInstruction(testInsn(0x1000))
	p.WriteMemory(0, 32, p.Number(32, 0x1000), p.Number(32, 0xdead), p.True())

	got := p.ReadMemory(0, 32, p.Number(32, 0x1000), p.True())
	if !sym86.ExprEqual(got, p.Number(32, 0xdead)) {
		t.Fatalf("unexpected value: %s", got)
	}
}

func TestPolicy_ClobberOnAliasedWrite(t *testing.T) {
	p := sym86.NewPolicy()
	p.StartInstruction(testInsn(0x1000))
	p.WriteMemory(0, 32, p.Number(32, 0x1000), p.Number(32, 0xdead), p.True())

	// Write through an unknown address: may alias 0x1000.
	p.WriteMemory(0, 32, p.ReadGPR(2), p.Number(32, 0xbeef), p.True())

	got := p.ReadMemory(0, 32, p.Number(32, 0x1000), p.True())
	if sym86.ExprEqual(got, p.Number(32, 0xdead)) {
		t.Fatal("expected clobbered value")
	}
}

func TestPolicy_RepeatedReadsStable(t *testing.T) {
	p := sym86.NewPolicy()
	p.StartInstruction(testInsn(0x1000))
	addr := p.ReadGPR(3)

	v1 := p.ReadMemory(0, 32, addr, p.True())
	v2 := p.ReadMemory(0, 32, addr, p.True())
	if !sym86.ExprEqual(v1, v2) {
		t.Fatalf("expected stable reads: %s != %s", v1, v2)
	}

	// A write to an unknown address invalidates the cell; the next read
	// returns a fresh value.
	p.WriteMemory(0, 32, p.ReadGPR(4), p.Number(32, 1), p.True())
	v3 := p.ReadMemory(0, 32, addr, p.True())
	if sym86.ExprEqual(v1, v3) {
		t.Fatal("expected fresh value after clobber")
	}

	// The fresh value is then stable again.
	v4 := p.ReadMemory(0, 32, addr, p.True())
	if !sym86.ExprEqual(v3, v4) {
		t.Fatalf("expected stable reads: %s != %s", v3, v4)
	}
}

func TestPolicy_ReadMaterializesOriginal(t *testing.T) {
	p := sym86.NewPolicy()
	p.StartInstruction(testInsn(0x1000))

	v := p.ReadMemory(0, 32, p.Number(32, 0x2000), p.True())

	orig := p.OrigState()
	if len(orig.Mem) != 1 {
		t.Fatalf("unexpected original memory size: %d", len(orig.Mem))
	} else if !sym86.ExprEqual(orig.Mem[0].Data, v) {
		t.Fatalf("unexpected original value: %s", orig.Mem[0].Data)
	} else if orig.Mem[0].Written {
		t.Fatal("expected unwritten original cell")
	}
}

func TestPolicy_NarrowReadWidths(t *testing.T) {
	p := sym86.NewPolicy()
	p.StartInstruction(testInsn(0x1000))
	p.WriteMemory(0, 8, p.Number(32, 0x1000), p.Number(8, 0xab), p.True())

	got := p.ReadMemory(0, 8, p.Number(32, 0x1000), p.True())
	if w := sym86.ExprWidth(got); w != 8 {
		t.Fatalf("unexpected width: %d", w)
	} else if !sym86.IsKnown(got) {
		t.Fatalf("expected known value: %s", got)
	} else if v := sym86.ExprValue(got); v != 0xab {
		t.Fatalf("unexpected value: %#x", v)
	}

	// A 16-bit access at the same address is a different cell.
	got16 := p.ReadMemory(0, 16, p.Number(32, 0x1000), p.True())
	if sym86.IsKnown(got16) {
		t.Fatalf("expected unknown value for different access size: %s", got16)
	}
}

func TestPolicy_StartInstruction(t *testing.T) {
	t.Run("SetsIP", func(t *testing.T) {
		p := sym86.NewPolicy()
		p.StartInstruction(testInsn(0x401000))
		if !sym86.ExprEqual(p.ReadIP(), p.Number(32, 0x401000)) {
			t.Fatalf("unexpected ip: %s", p.ReadIP())
		}
	})

	t.Run("FirstInstructionSnapshotsSeededState", func(t *testing.T) {
		p := sym86.NewPolicy()
		p.WriteGPR(4, p.Number(32, 0xbffff000)) // pre-seed before first instruction
		p.StartInstruction(testInsn(0x401000))
		if !sym86.ExprEqual(p.OrigState().GPR[4], p.Number(32, 0xbffff000)) {
			t.Fatalf("unexpected original register: %s", p.OrigState().GPR[4])
		}
	})

	t.Run("LaterInstructionsKeepOriginal", func(t *testing.T) {
		p := sym86.NewPolicy()
		p.StartInstruction(testInsn(0x401000))
		p.FinishInstruction(testInsn(0x401000))
		p.WriteGPR(0, p.Number(32, 1))
		p.StartInstruction(testInsn(0x401002))
		if sym86.IsKnown(p.OrigState().GPR[0]) {
			t.Fatal("expected original register to stay unknown")
		}
		if p.NInsns() != 2 {
			t.Fatalf("unexpected instruction count: %d", p.NInsns())
		}
	})
}

func TestPolicy_EqualStates(t *testing.T) {
	t.Run("InitiallyEqual", func(t *testing.T) {
		p := sym86.NewPolicy()
		if !p.EqualStates(p.State(), p.OrigState()) {
			t.Fatal("expected equal states")
		}
	})

	t.Run("RegisterWriteDiffers", func(t *testing.T) {
		p := sym86.NewPolicy()
		p.WriteGPR(0, p.Number(32, 1))
		if p.EqualStates(p.State(), p.OrigState()) {
			t.Fatal("expected unequal states")
		}
	})

	t.Run("ReadOnlyMemoryIgnored", func(t *testing.T) {
		p := sym86.NewPolicy()
		p.StartInstruction(testInsn(0x1000))
		p.ReadMemory(0, 32, p.Number(32, 0x2000), p.True())
		if !p.EqualStates(p.State(), p.OrigState()) {
			t.Fatal("expected equal states after pure read")
		}
	})

	t.Run("WrittenMemoryDiffers", func(t *testing.T) {
		p := sym86.NewPolicy()
		p.StartInstruction(testInsn(0x1000))
		p.WriteMemory(0, 32, p.Number(32, 0x2000), p.Number(32, 7), p.True())
		if p.EqualStates(p.State(), p.OrigState()) {
			t.Fatal("expected unequal states after write")
		}
	})
}

func TestPolicy_AddWithCarries(t *testing.T) {
	p := sym86.NewPolicy()
	sum, carries := p.AddWithCarries(p.Number(8, 0x36), p.Number(8, 0xe4), p.False())

	if !sym86.IsKnown(sum) {
		t.Fatalf("expected known sum: %s", sum)
	} else if v := sym86.ExprValue(sum); v != 0x1a {
		t.Fatalf("unexpected sum: %#x", v)
	}
	if w := sym86.ExprWidth(carries); w != 8 {
		t.Fatalf("unexpected carry width: %d", w)
	}
}

func TestPolicy_Primitives(t *testing.T) {
	p := sym86.NewPolicy()
	a, b := p.ReadGPR(0), p.ReadGPR(1)

	t.Run("Widths", func(t *testing.T) {
		for _, tt := range []struct {
			name  string
			expr  sym86.Expr
			width uint
		}{
			{"And", p.And(a, b), 32},
			{"Or", p.Or(a, b), 32},
			{"Xor", p.Xor(a, b), 32},
			{"Invert", p.Invert(a), 32},
			{"Negate", p.Negate(a), 32},
			{"EqualToZero", p.EqualToZero(a), 1},
			{"Concat", p.Concat(a, b), 64},
			{"Ite", p.Ite(p.ReadFlag(0), a, b), 32},
			{"Lssb", p.LeastSignificantSetBit(a), 32},
			{"Mssb", p.MostSignificantSetBit(a), 32},
			{"RotateLeft", p.RotateLeft(a, p.Number(8, 3)), 32},
			{"RotateRight", p.RotateRight(a, p.Number(8, 3)), 32},
			{"ShiftLeft", p.ShiftLeft(a, p.Number(8, 3)), 32},
			{"ShiftRight", p.ShiftRight(a, p.Number(8, 3)), 32},
			{"ShiftRightArithmetic", p.ShiftRightArithmetic(a, p.Number(8, 3)), 32},
			{"SignedDivide", p.SignedDivide(a, b), 32},
			{"SignedModulo", p.SignedModulo(a, b), 32},
			{"SignedMultiply", p.SignedMultiply(a, b), 64},
			{"UnsignedDivide", p.UnsignedDivide(a, b), 32},
			{"UnsignedModulo", p.UnsignedModulo(a, b), 32},
			{"UnsignedMultiply", p.UnsignedMultiply(a, b), 64},
			{"UnsignedExtend", p.UnsignedExtend(64, a), 64},
			{"SignExtend", p.SignExtend(64, a), 64},
			{"Extract", p.Extract(8, 16, a), 8},
		} {
			if w := sym86.ExprWidth(tt.expr); w != tt.width {
				t.Fatalf("%s: unexpected width: %d", tt.name, w)
			}
		}
	})

	t.Run("BoolConstructors", func(t *testing.T) {
		if v := sym86.ExprValue(p.True()); v != 1 {
			t.Fatalf("unexpected true value: %d", v)
		}
		if v := sym86.ExprValue(p.False()); v != 0 {
			t.Fatalf("unexpected false value: %d", v)
		}
		if sym86.IsKnown(p.Undefined()) {
			t.Fatal("expected unknown")
		} else if w := sym86.ExprWidth(p.Undefined()); w != 1 {
			t.Fatalf("unexpected width: %d", w)
		}
	})

	t.Run("IteDoesNotFold", func(t *testing.T) {
		expr := p.Ite(p.True(), a, b)
		if _, ok := expr.(*sym86.InternalExpr); !ok {
			t.Fatalf("expected ite node: %s", expr)
		}
	})
}

func TestPolicy_ControlHooks(t *testing.T) {
	p := sym86.NewPolicy()

	t.Run("FiltersAreIdentity", func(t *testing.T) {
		a := p.ReadGPR(0)
		if p.FilterCallTarget(a) != a || p.FilterReturnTarget(a) != a || p.FilterIndirectJumpTarget(a) != a {
			t.Fatal("expected identity filters")
		}
	})

	t.Run("Rdtsc", func(t *testing.T) {
		v := p.Rdtsc()
		if w := sym86.ExprWidth(v); w != 64 {
			t.Fatalf("unexpected width: %d", w)
		} else if n := sym86.ExprValue(v); n != 0 {
			t.Fatalf("unexpected value: %d", n)
		}
	})

	t.Run("Hlt", func(t *testing.T) {
		p.Hlt() // no-op
	})

	t.Run("InterruptResetsState", func(t *testing.T) {
		p := sym86.NewPolicy()
		p.StartInstruction(testInsn(0x1000))
		p.WriteGPR(0, p.Number(32, 5))
		p.WriteMemory(0, 32, p.Number(32, 0x1000), p.Number(32, 1), p.True())

		p.Interrupt(0x80)
		if sym86.IsKnown(p.ReadGPR(0)) {
			t.Fatal("expected fresh register")
		} else if len(p.State().Mem) != 0 {
			t.Fatalf("unexpected memory size: %d", len(p.State().Mem))
		}
	})
}

func TestPolicy_DiscardPoppedMemory(t *testing.T) {
	p := sym86.NewPolicy()
	p.SetDiscardPoppedMemory(true)
	if !p.DiscardPoppedMemory() {
		t.Fatal("expected property set")
	}

	// With the conforming-minimum reference classification every address is
	// in the same category, so aliasing behavior is unchanged.
	p.StartInstruction(testInsn(0x1000))
	p.WriteMemory(0, 32, p.Number(32, 0x1000), p.Number(32, 0xdead), p.True())
	p.WriteMemory(0, 32, p.ReadGPR(2), p.Number(32, 0xbeef), p.True())
	p.FinishInstruction(testInsn(0x1000))

	got := p.ReadMemory(0, 32, p.Number(32, 0x1000), p.True())
	if sym86.ExprEqual(got, p.Number(32, 0xdead)) {
		t.Fatal("expected clobbered value")
	}
}

func TestPolicy_DiffString(t *testing.T) {
	t.Run("EmptyDiff", func(t *testing.T) {
		p := sym86.NewPolicy()
		if s := p.DiffString(); s != "" {
			t.Fatalf("unexpected diff:\n%s", s)
		}
	})

	t.Run("RegisterChange", func(t *testing.T) {
		p := sym86.NewPolicy()
		p.WriteGPR(0, p.Number(32, 5))
		if s := p.DiffString(); !strings.Contains(s, "gpr0: (const 5 32)") {
			t.Fatalf("unexpected diff:\n%s", s)
		}
	})

	t.Run("StableAcrossVariableNumbering", func(t *testing.T) {
		run := func() string {
			p := sym86.NewPolicy()
			p.StartInstruction(testInsn(0x1000))
			p.WriteGPR(0, p.Add(p.ReadGPR(1), p.Number(32, 9)))
			p.WriteMemory(0, 32, p.ReadGPR(2), p.Number(32, 7), p.True())
			return p.DiffString()
		}
		if a, b := run(), run(); a != b {
			t.Fatalf("unstable diff:\n%s\n---\n%s", a, b)
		}
	})
}

func TestPolicy_SHA1(t *testing.T) {
	p := sym86.NewPolicy()
	empty := p.SHA1()
	if len(empty) != 40 || strings.ToLower(empty) != empty {
		t.Fatalf("unexpected fingerprint: %s", empty)
	}

	p.WriteGPR(0, p.Number(32, 5))
	if p.SHA1() == empty {
		t.Fatal("expected fingerprint to change")
	}

	// Two policies performing the same operations fingerprint identically
	// even though their raw variable identifiers differ.
	q := sym86.NewPolicy()
	q.WriteGPR(0, q.Number(32, 5))
	if p.SHA1() != q.SHA1() {
		t.Fatal("expected identical fingerprints")
	}
}
