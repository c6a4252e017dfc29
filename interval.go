package sym86

import "fmt"

// Interval is a closed range [least, greatest] over uint64 scalars, or the
// distinguished empty interval. The zero value is empty.
type Interval struct {
	least    uint64
	greatest uint64
	nonEmpty bool
}

// NewInterval returns the closed interval [least, greatest].
// An inverted range is a programming error.
func NewInterval(least, greatest uint64) Interval {
	assert(least <= greatest, "inverted interval: [%d,%d]", least, greatest)
	return Interval{least: least, greatest: greatest, nonEmpty: true}
}

// SingletonInterval returns the interval containing exactly one scalar.
func SingletonInterval(scalar uint64) Interval {
	return Interval{least: scalar, greatest: scalar, nonEmpty: true}
}

// WholeInterval returns the interval spanning the entire domain.
func WholeInterval() Interval {
	return Interval{least: 0, greatest: ^uint64(0), nonEmpty: true}
}

// EmptyInterval returns the distinguished empty interval.
func EmptyInterval() Interval {
	return Interval{}
}

// IsEmpty returns true if the interval contains no scalars.
func (iv Interval) IsEmpty() bool {
	return !iv.nonEmpty
}

// Least returns the minimum scalar of a non-empty interval.
func (iv Interval) Least() uint64 {
	assert(!iv.IsEmpty(), "least of empty interval")
	return iv.least
}

// Greatest returns the maximum scalar of a non-empty interval.
func (iv Interval) Greatest() uint64 {
	assert(!iv.IsEmpty(), "greatest of empty interval")
	return iv.greatest
}

// Size returns the number of scalars in the interval. A return of zero for a
// non-empty interval denotes an interval spanning the entire domain.
func (iv Interval) Size() uint64 {
	if iv.IsEmpty() {
		return 0
	}
	return iv.greatest - iv.least + 1
}

// IsSingleton returns true if the interval contains exactly one scalar.
func (iv Interval) IsSingleton() bool {
	return iv.nonEmpty && iv.least == iv.greatest
}

// Contains returns true if scalar is a member of the interval.
func (iv Interval) Contains(scalar uint64) bool {
	return iv.nonEmpty && iv.least <= scalar && scalar <= iv.greatest
}

// IsOverlapping returns true if the two intervals share at least one scalar.
func (iv Interval) IsOverlapping(other Interval) bool {
	if iv.IsEmpty() || other.IsEmpty() {
		return false
	}
	return iv.least <= other.greatest && other.least <= iv.greatest
}

// IsContaining returns true if every scalar of other is a member of iv.
// The empty interval is contained in everything.
func (iv Interval) IsContaining(other Interval) bool {
	if other.IsEmpty() {
		return true
	}
	return iv.nonEmpty && iv.least <= other.least && other.greatest <= iv.greatest
}

// IsLeftOf returns true if iv ends strictly before other begins.
// Empty intervals are not left of anything.
func (iv Interval) IsLeftOf(other Interval) bool {
	if iv.IsEmpty() || other.IsEmpty() {
		return false
	}
	return iv.greatest < other.least
}

// IsRightOf returns true if iv begins strictly after other ends.
func (iv Interval) IsRightOf(other Interval) bool {
	return other.IsLeftOf(iv)
}

// Hull returns the smallest interval containing both a and b.
func Hull(a, b uint64) Interval {
	if a <= b {
		return NewInterval(a, b)
	}
	return NewInterval(b, a)
}

// String returns the string representation of the interval.
func (iv Interval) String() string {
	if iv.IsEmpty() {
		return "[]"
	} else if iv.IsSingleton() {
		return fmt.Sprintf("[%d]", iv.least)
	}
	return fmt.Sprintf("[%d,%d]", iv.least, iv.greatest)
}

// splitInterval divides a non-empty interval into [least, at-1] and
// [at, greatest]. The split point must lie strictly inside the interval's
// bounds on the left and within them on the right.
func splitInterval(iv Interval, at uint64) (left, right Interval) {
	assert(!iv.IsEmpty(), "split of empty interval")
	assert(at > iv.least && at <= iv.greatest, "split point %d outside (%d,%d]", at, iv.least, iv.greatest)
	return NewInterval(iv.least, at-1), NewInterval(at, iv.greatest)
}
