package memtable

import (
	"math/rand"
	"sync"
	"time"
)

const (
	MaxLevel    = 16
	Probability = 0.5
)

// SkipListNode represents a node in the skip list
type SkipListNode[V any] struct {
	Key     string
	Value   V
	Forward []*SkipListNode[V]
}

// SkipList keeps string keys in byte order. It is not safe for concurrent
// use; callers hold their own lock.
type SkipList[V any] struct {
	Head  *SkipListNode[V]
	Level int
	Size  int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSkipList creates a new skip list
func NewSkipList[V any]() *SkipList[V] {
	head := &SkipListNode[V]{
		Forward: make([]*SkipListNode[V], MaxLevel),
	}
	return &SkipList[V]{
		Head:  head,
		Level: 0,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// randomLevel generates a random level for a new node
func (sl *SkipList[V]) randomLevel() int {
	sl.rngMu.Lock()
	defer sl.rngMu.Unlock()

	level := 0
	for sl.rng.Float64() < Probability && level < MaxLevel-1 {
		level++
	}
	return level
}

// findGreaterOrEqual returns the first node with Key >= key, filling update
// with the rightmost node before it on every level when update is non-nil.
func (sl *SkipList[V]) findGreaterOrEqual(key string, update []*SkipListNode[V]) *SkipListNode[V] {
	current := sl.Head
	for i := sl.Level; i >= 0; i-- {
		for current.Forward[i] != nil && current.Forward[i].Key < key {
			current = current.Forward[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current.Forward[0]
}

// Insert adds or replaces the value stored under key
func (sl *SkipList[V]) Insert(key string, value V) {
	update := make([]*SkipListNode[V], MaxLevel)
	current := sl.findGreaterOrEqual(key, update)

	if current != nil && current.Key == key {
		current.Value = value
		return
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.Level {
		for i := sl.Level + 1; i <= newLevel; i++ {
			update[i] = sl.Head
		}
		sl.Level = newLevel
	}

	newNode := &SkipListNode[V]{
		Key:     key,
		Value:   value,
		Forward: make([]*SkipListNode[V], newLevel+1),
	}

	for i := 0; i <= newLevel; i++ {
		newNode.Forward[i] = update[i].Forward[i]
		update[i].Forward[i] = newNode
	}

	sl.Size++
}

// Search finds a value by key
func (sl *SkipList[V]) Search(key string) (V, bool) {
	current := sl.findGreaterOrEqual(key, nil)
	if current != nil && current.Key == key {
		return current.Value, true
	}

	var zero V
	return zero, false
}

// Len returns the number of elements in the skip list
func (sl *SkipList[V]) Len() int {
	return sl.Size
}

// Iterator returns an iterator positioned before the first key.
func (sl *SkipList[V]) Iterator() *SkipListIterator[V] {
	return &SkipListIterator[V]{
		current: sl.Head,
	}
}

// Seek returns an iterator whose first Next lands on the smallest key >= key.
func (sl *SkipList[V]) Seek(key string) *SkipListIterator[V] {
	return &SkipListIterator[V]{
		current: sl.Head,
		pending: sl.findGreaterOrEqual(key, nil),
		seeked:  true,
	}
}

// SkipListIterator iterates over skip list entries in key order
type SkipListIterator[V any] struct {
	current *SkipListNode[V]
	pending *SkipListNode[V]
	seeked  bool
}

// Next moves to the next element
func (it *SkipListIterator[V]) Next() bool {
	if it.seeked {
		it.seeked = false
		it.current = it.pending
		return it.current != nil
	}
	if it.current == nil {
		return false
	}
	it.current = it.current.Forward[0]
	return it.current != nil
}

// Key returns the current key
func (it *SkipListIterator[V]) Key() string {
	if it.current == nil {
		return ""
	}
	return it.current.Key
}

// Value returns the current value
func (it *SkipListIterator[V]) Value() V {
	if it.current == nil {
		var zero V
		return zero
	}
	return it.current.Value
}
