package sym86_test

import (
	"testing"

	"github.com/sym86/sym86"
)

func TestInterval(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		iv := sym86.EmptyInterval()
		if !iv.IsEmpty() {
			t.Fatal("expected empty interval")
		} else if iv.Size() != 0 {
			t.Fatalf("unexpected size: %d", iv.Size())
		}
	})

	t.Run("ZeroValue", func(t *testing.T) {
		var iv sym86.Interval
		if !iv.IsEmpty() {
			t.Fatal("expected zero value to be empty")
		}
	})

	t.Run("Singleton", func(t *testing.T) {
		iv := sym86.SingletonInterval(7)
		if iv.Least() != 7 || iv.Greatest() != 7 {
			t.Fatalf("unexpected bounds: [%d,%d]", iv.Least(), iv.Greatest())
		} else if !iv.IsSingleton() {
			t.Fatal("expected singleton")
		} else if iv.Size() != 1 {
			t.Fatalf("unexpected size: %d", iv.Size())
		}
	})

	t.Run("Size", func(t *testing.T) {
		if sz := sym86.NewInterval(10, 19).Size(); sz != 10 {
			t.Fatalf("unexpected size: %d", sz)
		}
	})

	t.Run("WholeDomainSize", func(t *testing.T) {
		if sz := sym86.WholeInterval().Size(); sz != 0 {
			t.Fatalf("unexpected size: %d", sz)
		}
	})

	t.Run("Contains", func(t *testing.T) {
		iv := sym86.NewInterval(5, 10)
		for _, scalar := range []uint64{5, 7, 10} {
			if !iv.Contains(scalar) {
				t.Fatalf("expected %d in %s", scalar, iv)
			}
		}
		for _, scalar := range []uint64{0, 4, 11} {
			if iv.Contains(scalar) {
				t.Fatalf("expected %d not in %s", scalar, iv)
			}
		}
	})

	t.Run("IsOverlapping", func(t *testing.T) {
		a := sym86.NewInterval(5, 10)
		if !a.IsOverlapping(sym86.NewInterval(10, 20)) {
			t.Fatal("expected overlap at shared endpoint")
		} else if a.IsOverlapping(sym86.NewInterval(11, 20)) {
			t.Fatal("expected no overlap with adjacent interval")
		} else if a.IsOverlapping(sym86.EmptyInterval()) {
			t.Fatal("expected no overlap with empty interval")
		}
	})

	t.Run("IsContaining", func(t *testing.T) {
		a := sym86.NewInterval(5, 10)
		if !a.IsContaining(sym86.NewInterval(6, 9)) {
			t.Fatal("expected containment")
		} else if a.IsContaining(sym86.NewInterval(6, 11)) {
			t.Fatal("expected no containment")
		} else if !a.IsContaining(sym86.EmptyInterval()) {
			t.Fatal("expected empty interval to be contained")
		}
	})

	t.Run("IsLeftOf", func(t *testing.T) {
		a := sym86.NewInterval(5, 10)
		if !a.IsLeftOf(sym86.NewInterval(11, 20)) {
			t.Fatal("expected left-of")
		} else if a.IsLeftOf(sym86.NewInterval(10, 20)) {
			t.Fatal("expected not left-of when touching")
		} else if !sym86.NewInterval(11, 20).IsRightOf(a) {
			t.Fatal("expected right-of")
		}
	})

	t.Run("Hull", func(t *testing.T) {
		if iv := sym86.Hull(10, 5); iv != sym86.NewInterval(5, 10) {
			t.Fatalf("unexpected hull: %s", iv)
		}
		if iv := sym86.Hull(5, 5); !iv.IsSingleton() {
			t.Fatalf("unexpected hull: %s", iv)
		}
	})

	t.Run("String", func(t *testing.T) {
		if s := sym86.NewInterval(1, 5).String(); s != "[1,5]" {
			t.Fatalf("unexpected string: %s", s)
		}
		if s := sym86.SingletonInterval(3).String(); s != "[3]" {
			t.Fatalf("unexpected string: %s", s)
		}
		if s := sym86.EmptyInterval().String(); s != "[]" {
			t.Fatalf("unexpected string: %s", s)
		}
	})
}
