package sym86

import "github.com/benbjohnson/immutable"

// MergePolicy indicates how interval-map values are merged and split.
//
// Adjacent nodes of an IntervalMap are joined together when their values can
// also be joined together; joining keeps the underlying map minimal under
// arbitrary insertion and erasure patterns.
type MergePolicy[V any] interface {
	// Merge combines rightValue into leftValue if possible, or returns false
	// without changing either value. After a successful merge the right node
	// is discarded by the container.
	Merge(leftInterval Interval, leftValue *V, rightInterval Interval, rightValue *V) bool

	// Split divides value in two when interval is split into two smaller,
	// adjacent intervals at splitPoint (the least scalar of the right half).
	// The value is mutated in place to become the left half; the right half
	// is returned. Only invoked when both halves are non-empty.
	Split(interval Interval, value *V, splitPoint uint64) V

	// Truncate is the same as Split except the right half is discarded.
	Truncate(interval Interval, value *V, splitPoint uint64)
}

// EqualMergePolicy is the default merge policy: values merge iff they are
// equal, and split/truncate leave the value unchanged.
type EqualMergePolicy[V comparable] struct{}

// Merge reports whether the two values are equal.
func (EqualMergePolicy[V]) Merge(_ Interval, leftValue *V, _ Interval, rightValue *V) bool {
	return *leftValue == *rightValue
}

// Split returns the value unchanged.
func (EqualMergePolicy[V]) Split(_ Interval, value *V, _ uint64) V {
	return *value
}

// Truncate leaves the value unchanged.
func (EqualMergePolicy[V]) Truncate(Interval, *V, uint64) {}

// IntervalNode is one key/value pair of an IntervalMap.
type IntervalNode[V any] struct {
	Key   Interval
	Value V
}

// IntervalMap is an associative container whose keys are non-overlapping
// closed intervals. Nodes are sorted by interval; adjacent nodes whose values
// can be merged per the policy are always stored as a single node, and
// erasing part of a node splits it through the policy.
//
// The node store is a sorted map keyed by each interval's greatest scalar,
// which makes lowerBound-style searches logarithmic.
type IntervalMap[V any] struct {
	m      *immutable.SortedMap
	policy MergePolicy[V]
}

// NewIntervalMap returns an empty map governed by the given merge policy.
func NewIntervalMap[V any](policy MergePolicy[V]) *IntervalMap[V] {
	assert(policy != nil, "nil merge policy")
	return &IntervalMap[V]{
		m:      immutable.NewSortedMap(&uint64Comparer{}),
		policy: policy,
	}
}

// IntervalMapIterator traverses the nodes of an IntervalMap in key order.
// The iterator is positioned at a node until Next is called past the end.
type IntervalMapIterator[V any] struct {
	itr  *immutable.SortedMapIterator
	node IntervalNode[V]
	done bool
}

func newIntervalMapIterator[V any](itr *immutable.SortedMapIterator) *IntervalMapIterator[V] {
	it := &IntervalMapIterator[V]{itr: itr}
	it.advance()
	return it
}

func (it *IntervalMapIterator[V]) advance() {
	if it.itr.Done() {
		it.done = true
		it.node = IntervalNode[V]{}
		return
	}
	_, v := it.itr.Next()
	it.node = v.(IntervalNode[V])
}

// Done returns true once the iterator has moved past the last node.
func (it *IntervalMapIterator[V]) Done() bool { return it.done }

// Node returns the current node.
func (it *IntervalMapIterator[V]) Node() IntervalNode[V] {
	assert(!it.done, "iterator past end")
	return it.node
}

// Key returns the current node's interval.
func (it *IntervalMapIterator[V]) Key() Interval { return it.Node().Key }

// Value returns the current node's value.
func (it *IntervalMapIterator[V]) Value() V { return it.Node().Value }

// Next moves the iterator to the following node.
func (it *IntervalMapIterator[V]) Next() {
	assert(!it.done, "iterator past end")
	it.advance()
}

// Iterator returns an iterator positioned at the first node.
func (m *IntervalMap[V]) Iterator() *IntervalMapIterator[V] {
	return newIntervalMapIterator[V](m.m.Iterator())
}

// LowerBound returns an iterator positioned at the first node whose interval
// ends at or above scalar.
func (m *IntervalMap[V]) LowerBound(scalar uint64) *IntervalMapIterator[V] {
	itr := m.m.Iterator()
	itr.Seek(scalar)
	return newIntervalMapIterator[V](itr)
}

// Find returns the node containing scalar.
func (m *IntervalMap[V]) Find(scalar uint64) (IntervalNode[V], bool) {
	it := m.LowerBound(scalar)
	if it.Done() || scalar < it.Key().Least() {
		return IntervalNode[V]{}, false
	}
	return it.Node(), true
}

// FindPrior returns the last node whose interval starts at or below scalar.
func (m *IntervalMap[V]) FindPrior(scalar uint64) (IntervalNode[V], bool) {
	if m.IsEmpty() {
		return IntervalNode[V]{}, false
	}
	itr := m.m.Iterator()
	itr.Seek(scalar)
	if itr.Done() {
		// All nodes end below scalar; the last node is the prior.
		itr.Last()
		_, v := itr.Prev()
		return v.(IntervalNode[V]), true
	}
	_, v := itr.Prev()
	node := v.(IntervalNode[V])
	if node.Key.Least() <= scalar {
		return node, true
	}
	if itr.Done() {
		return IntervalNode[V]{}, false
	}
	_, v = itr.Prev()
	return v.(IntervalNode[V]), true
}

// FindFirstOverlap returns the first node whose interval overlaps interval.
func (m *IntervalMap[V]) FindFirstOverlap(interval Interval) (IntervalNode[V], bool) {
	if interval.IsEmpty() {
		return IntervalNode[V]{}, false
	}
	it := m.LowerBound(interval.Least())
	if it.Done() || !interval.IsOverlapping(it.Key()) {
		return IntervalNode[V]{}, false
	}
	return it.Node(), true
}

// FindFirstOverlaps finds the first pair of overlapping nodes of two maps,
// beginning at the given iterators. On each step the walk advances whichever
// side ends earlier, so the scan is linear in the two node counts. Returns
// false if no nodes at or after the starting positions overlap.
func FindFirstOverlaps[V1, V2 any](a *IntervalMapIterator[V1], b *IntervalMapIterator[V2]) (IntervalNode[V1], IntervalNode[V2], bool) {
	for !a.Done() && !b.Done() {
		if a.Key().IsOverlapping(b.Key()) {
			return a.Node(), b.Node(), true
		}
		if a.Key().Greatest() < b.Key().Greatest() {
			a.Next()
		} else {
			b.Next()
		}
	}
	return IntervalNode[V1]{}, IntervalNode[V2]{}, false
}

// fits reports whether interval holds at least size scalars, treating the
// whole-domain size of zero as unbounded.
func fits(interval Interval, size uint64) bool {
	return !interval.IsEmpty() && (interval.Size() == 0 || interval.Size() >= size)
}

// FirstFit returns the first node at or after start whose interval holds at
// least size scalars. The iterator is consumed by the search.
func (m *IntervalMap[V]) FirstFit(size uint64, start *IntervalMapIterator[V]) (IntervalNode[V], bool) {
	for ; !start.Done(); start.Next() {
		if fits(start.Key(), size) {
			return start.Node(), true
		}
	}
	return IntervalNode[V]{}, false
}

// BestFit returns the smallest node at or after start whose interval holds at
// least size scalars, breaking ties by first occurrence. An exact size match
// wins immediately. The iterator is consumed by the search.
func (m *IntervalMap[V]) BestFit(size uint64, start *IntervalMapIterator[V]) (IntervalNode[V], bool) {
	var best IntervalNode[V]
	var found bool
	for ; !start.Done(); start.Next() {
		key := start.Key()
		if key.Size() == size && size != 0 {
			return start.Node(), true
		}
		if !fits(key, size) {
			continue
		}
		if !found || lessSize(key.Size(), best.Key.Size()) {
			best, found = start.Node(), true
		}
	}
	return best, found
}

// lessSize orders interval sizes with zero (whole domain) as the largest.
func lessSize(a, b uint64) bool {
	if a == 0 {
		return false
	} else if b == 0 {
		return true
	}
	return a < b
}

// Get returns the value at the node containing scalar. The second return is
// false if scalar is not in the map's domain.
func (m *IntervalMap[V]) Get(scalar uint64) (V, bool) {
	node, ok := m.Find(scalar)
	return node.Value, ok
}

// GetOrDefault returns the value at the node containing scalar, or the zero
// value if scalar is unmapped.
func (m *IntervalMap[V]) GetOrDefault(scalar uint64) V {
	node, _ := m.Find(scalar)
	return node.Value
}

// IsEmpty returns true if the map has no nodes.
func (m *IntervalMap[V]) IsEmpty() bool {
	return m.m.Len() == 0
}

// NIntervals returns the number of nodes in the map.
func (m *IntervalMap[V]) NIntervals() int {
	return m.m.Len()
}

// Size returns the number of scalars represented by the map: the sum of the
// widths of all node intervals.
func (m *IntervalMap[V]) Size() uint64 {
	var sum uint64
	for it := m.Iterator(); !it.Done(); it.Next() {
		sum += it.Key().Size()
	}
	return sum
}

// Least returns the minimum mapped scalar. The second return is false if the
// map is empty.
func (m *IntervalMap[V]) Least() (uint64, bool) {
	it := m.Iterator()
	if it.Done() {
		return 0, false
	}
	return it.Key().Least(), true
}

// Greatest returns the maximum mapped scalar. The second return is false if
// the map is empty.
func (m *IntervalMap[V]) Greatest() (uint64, bool) {
	itr := m.m.Iterator()
	itr.Last()
	if itr.Done() {
		return 0, false
	}
	_, v := itr.Prev()
	return v.(IntervalNode[V]).Key.Greatest(), true
}

// LeastNotBelow returns the minimum mapped scalar that is at or above
// lowerLimit, or false if there is none.
func (m *IntervalMap[V]) LeastNotBelow(lowerLimit uint64) (uint64, bool) {
	it := m.LowerBound(lowerLimit)
	if it.Done() {
		return 0, false
	}
	if least := it.Key().Least(); least > lowerLimit {
		return least, true
	}
	return lowerLimit, true
}

// GreatestNotAbove returns the maximum mapped scalar that is at or below
// upperLimit, or false if there is none.
func (m *IntervalMap[V]) GreatestNotAbove(upperLimit uint64) (uint64, bool) {
	node, ok := m.FindPrior(upperLimit)
	if !ok {
		return 0, false
	}
	if greatest := node.Key.Greatest(); greatest < upperLimit {
		return greatest, true
	}
	return upperLimit, true
}

// LeastUnmapped returns the lowest unmapped scalar at or above lowerLimit.
// The second return is false if the walk runs off the end of the domain.
func (m *IntervalMap[V]) LeastUnmapped(lowerLimit uint64) (uint64, bool) {
	for it := m.LowerBound(lowerLimit); !it.Done(); it.Next() {
		key := it.Key()
		if lowerLimit < key.Least() {
			return lowerLimit, true
		}
		lowerLimit = key.Greatest() + 1
		if lowerLimit < key.Greatest() {
			return 0, false // overflow
		}
	}
	return lowerLimit, true
}

// GreatestUnmapped returns the highest unmapped scalar at or below
// upperLimit. The second return is false if the walk runs off the start of
// the domain.
func (m *IntervalMap[V]) GreatestUnmapped(upperLimit uint64) (uint64, bool) {
	itr := m.m.Iterator()
	itr.Seek(upperLimit)

	// Position so that successive Prev calls yield the findPrior node and
	// its predecessors.
	var node IntervalNode[V]
	var ok bool
	if itr.Done() {
		itr.Last()
		if itr.Done() {
			return upperLimit, true // empty map
		}
		_, v := itr.Prev()
		node, ok = v.(IntervalNode[V]), true
	} else {
		_, v := itr.Prev()
		lb := v.(IntervalNode[V])
		if lb.Key.Least() <= upperLimit {
			node, ok = lb, true
		} else if itr.Done() {
			return upperLimit, true // no node begins at or below upperLimit
		} else {
			_, v := itr.Prev()
			node, ok = v.(IntervalNode[V]), true
		}
	}

	for ok {
		key := node.Key
		if upperLimit > key.Greatest() {
			return upperLimit, true
		}
		upperLimit = key.Least() - 1
		if upperLimit > key.Least() {
			return 0, false // underflow
		}
		if itr.Done() {
			break
		}
		_, v := itr.Prev()
		node = v.(IntervalNode[V])
	}
	return upperLimit, true
}

// Hull returns the smallest interval covering every mapped scalar, or the
// empty interval for an empty map.
func (m *IntervalMap[V]) Hull() Interval {
	least, ok := m.Least()
	if !ok {
		return EmptyInterval()
	}
	greatest, _ := m.Greatest()
	return Hull(least, greatest)
}

// Nodes returns all nodes in key order.
func (m *IntervalMap[V]) Nodes() []IntervalNode[V] {
	a := make([]IntervalNode[V], 0, m.NIntervals())
	for it := m.Iterator(); !it.Done(); it.Next() {
		a = append(a, it.Node())
	}
	return a
}

// Keys returns all intervals in order.
func (m *IntervalMap[V]) Keys() []Interval {
	a := make([]Interval, 0, m.NIntervals())
	for it := m.Iterator(); !it.Done(); it.Next() {
		a = append(a, it.Key())
	}
	return a
}

// Values returns all values in key order.
func (m *IntervalMap[V]) Values() []V {
	a := make([]V, 0, m.NIntervals())
	for it := m.Iterator(); !it.Done(); it.Next() {
		a = append(a, it.Value())
	}
	return a
}

// Clear empties the container.
func (m *IntervalMap[V]) Clear() {
	m.m = immutable.NewSortedMap(&uint64Comparer{})
}

// Erase removes the erasure interval from the map's domain. Nodes fully
// contained in the erasure are removed; nodes partially covered are shrunk or
// split, with remnant values derived through the merge policy. Removals are
// batched and applied after the traversal.
func (m *IntervalMap[V]) Erase(erasure Interval) {
	if erasure.IsEmpty() {
		return
	}

	var removals []uint64
	var insertions []IntervalNode[V]
	for it := m.LowerBound(erasure.Least()); !it.Done() && !erasure.IsLeftOf(it.Key()); it.Next() {
		found := it.Key()
		value := it.Value()
		switch {
		case erasure.IsContaining(found):
			// erase the entire node
			removals = append(removals, found.Greatest())

		case erasure.Least() > found.Least() && erasure.Greatest() < found.Greatest():
			// erase the middle of the node, leaving a left and a right portion
			removals = append(removals, found.Greatest())
			keep, right := splitInterval(found, erasure.Greatest()+1)
			rightValue := m.policy.Split(found, &value, right.Least())
			insertions = append(insertions, IntervalNode[V]{Key: right, Value: rightValue})
			left, _ := splitInterval(keep, erasure.Least())
			m.policy.Truncate(keep, &value, erasure.Least())
			insertions = append(insertions, IntervalNode[V]{Key: left, Value: value})

		case erasure.Least() > found.Least():
			// erase the right part of the node
			removals = append(removals, found.Greatest())
			left, _ := splitInterval(found, erasure.Least())
			m.policy.Truncate(found, &value, erasure.Least())
			insertions = append(insertions, IntervalNode[V]{Key: left, Value: value})

		case erasure.Greatest() < found.Greatest():
			// erase the left part of the node
			removals = append(removals, found.Greatest())
			_, right := splitInterval(found, erasure.Greatest()+1)
			rightValue := m.policy.Split(found, &value, right.Least())
			insertions = append(insertions, IntervalNode[V]{Key: right, Value: rightValue})
		}
	}

	for _, k := range removals {
		m.m = m.m.Delete(k)
	}
	for _, n := range insertions {
		m.m = m.m.Set(n.Key.Greatest(), n)
	}
}

// EraseMultiple erases every interval of other from this map.
func (m *IntervalMap[V]) EraseMultiple(other *IntervalMap[V]) {
	assert(other != m, "cannot erase a container from itself; use Clear")
	for it := other.Iterator(); !it.Done(); it.Next() {
		m.Erase(it.Key())
	}
}

// Insert adds a key/value pair, erasing whatever the key previously covered.
// The inserted node is fused with adjacent nodes when the merge policy
// accepts their values.
func (m *IntervalMap[V]) Insert(key Interval, value V) {
	m.insert(key, value, true)
}

// InsertDistinct is like Insert except the insertion is a no-op if any part
// of key is already mapped.
func (m *IntervalMap[V]) InsertDistinct(key Interval, value V) {
	m.insert(key, value, false)
}

func (m *IntervalMap[V]) insert(key Interval, value V, makeHole bool) {
	assert(!key.IsEmpty(), "insert of empty interval")
	if makeHole {
		m.Erase(key)
	} else {
		if it := m.LowerBound(key.Least()); !it.Done() && key.IsOverlapping(it.Key()) {
			return
		}
	}

	// Attempt to merge with a left-adjoining node.
	if key.Least() > 0 {
		if left, ok := m.Find(key.Least() - 1); ok && left.Key.Greatest()+1 == key.Least() {
			leftValue := left.Value
			if m.policy.Merge(left.Key, &leftValue, key, &value) {
				key = Hull(left.Key.Least(), key.Greatest())
				value = leftValue
				m.m = m.m.Delete(left.Key.Greatest())
			}
		}
	}

	// Attempt to merge with a right-adjoining node.
	if key.Greatest() < ^uint64(0) {
		if right, ok := m.Find(key.Greatest() + 1); ok && key.Greatest()+1 == right.Key.Least() {
			rightValue := right.Value
			if m.policy.Merge(key, &value, right.Key, &rightValue) {
				key = Hull(key.Least(), right.Key.Greatest())
				m.m = m.m.Delete(right.Key.Greatest())
			}
		}
	}

	m.m = m.m.Set(key.Greatest(), IntervalNode[V]{Key: key, Value: value})
}

// InsertMultiple inserts every node of other into this map, erasing whatever
// each key previously covered.
func (m *IntervalMap[V]) InsertMultiple(other *IntervalMap[V]) {
	assert(other != m, "cannot insert a container into itself")
	for it := other.Iterator(); !it.Done(); it.Next() {
		m.insert(it.Key(), it.Value(), true)
	}
}

// InsertMultipleDistinct inserts every node of other whose key is entirely
// unmapped in this map.
func (m *IntervalMap[V]) InsertMultipleDistinct(other *IntervalMap[V]) {
	assert(other != m, "cannot insert a container into itself")
	for it := other.Iterator(); !it.Done(); it.Next() {
		m.insert(it.Key(), it.Value(), false)
	}
}

// IsOverlapping returns true if any node overlaps interval.
func (m *IntervalMap[V]) IsOverlapping(interval Interval) bool {
	_, ok := m.FindFirstOverlap(interval)
	return ok
}

// IsDistinct returns true if no node overlaps interval.
func (m *IntervalMap[V]) IsDistinct(interval Interval) bool {
	return !m.IsOverlapping(interval)
}

// Contains returns true if every scalar of key lies within some node.
func (m *IntervalMap[V]) Contains(key Interval) bool {
	if key.IsEmpty() {
		return true
	}
	it := m.LowerBound(key.Least())
	for {
		if it.Done() || key.Least() < it.Key().Least() {
			return false
		}
		if key.Greatest() <= it.Key().Greatest() {
			return true
		}
		_, key = splitInterval(key, it.Key().Greatest()+1)
		it.Next()
	}
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b,
// and returns 0 if a is equal to b. Panic if a or b is not a uint64.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
