package sync

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
)

// ErrEmptyStack is returned by Top when there is nothing on the stack.
var ErrEmptyStack = errors.New("stack is empty")

var _stackID atomic.Uint64

// Stack is a LIFO container safe for concurrent use.
//
// Read-only inspection (Empty, Size, Peek, All) shares the lock, every other
// operation takes it exclusively. Consumers that must sleep until an element
// appears use WaitAndPop or WaitAndPopContext; each Push wakes at most one of them.
//
// A Stack must be created with NewStack and must not be copied.
type Stack[T any] struct {
	id   uint64
	mu   sync.RWMutex
	cond *sync.Cond
	arr  []T
}

// NewStack returns an empty stack. It is the only way to obtain a usable Stack.
func NewStack[T any]() *Stack[T] {
	s := &Stack[T]{
		id:  _stackID.Add(1),
		arr: make([]T, 0),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Push puts t on top of the stack and wakes one blocked waiter, if any.
func (s *Stack[T]) Push(t T) {
	s.mu.Lock()
	s.arr = append(s.arr, t)
	s.mu.Unlock()
	s.cond.Signal()
}

// Emplace appends a zero-valued slot and calls init on it, so the new top
// is built in place. init runs under the stack lock and must not use s.
// If init panics the slot is discarded and the panic is propagated.
func (s *Stack[T]) Emplace(init func(*T)) {
	s.emplace(init)
	s.cond.Signal()
}

func (s *Stack[T]) emplace(init func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	s.arr = append(s.arr, zero)
	n := len(s.arr) - 1

	done := false
	defer func() {
		if !done {
			s.arr = s.arr[:n]
		}
	}()
	init(&s.arr[n])
	done = true
}

// TryPop removes and returns the top element. It never blocks: ok is false
// when the stack is empty.
func (s *Stack[T]) TryPop() (t T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.arr) == 0 {
		return t, false
	}
	return s.pop(), true
}

// WaitAndPop removes and returns the top element, sleeping until one is
// pushed if the stack is empty. There is no way to interrupt it; use
// WaitAndPopContext when the caller needs to give up.
func (s *Stack[T]) WaitAndPop() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.arr) == 0 {
		s.cond.Wait()
	}
	return s.pop()
}

// WaitAndPopContext is WaitAndPop that also returns once ctx is done.
// Available data wins over cancellation: an element is returned with a nil
// error whenever one is present, and context.Cause(ctx) is returned only
// when the stack is empty.
func (s *Stack[T]) WaitAndPopContext(ctx context.Context) (t T, err error) {
	// the broadcast takes the lock, so it can't fire between the ctx check
	// below and cond.Wait.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.arr) == 0 {
		if ctx.Err() != nil {
			return t, context.Cause(ctx)
		}
		s.cond.Wait()
	}
	return s.pop(), nil
}

// pop must be called with the write lock held on a non-empty stack.
func (s *Stack[T]) pop() T {
	n := len(s.arr) - 1
	res := s.arr[n]
	var zero T
	s.arr[n] = zero
	s.arr = s.arr[:n]
	return res
}

// Empty reports whether the stack has no elements at the time of the call.
func (s *Stack[T]) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arr) == 0
}

// Size returns the number of elements. The result is stale as soon as
// another goroutine mutates the stack.
func (s *Stack[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arr)
}

// Top returns a pointer to the top element, or ErrEmptyStack.
//
// The pointer refers to the stack's own slot. It is only meaningful until the
// next mutation from any goroutine, after which it may point at a cleared or
// reused slot. Meant for diagnostics; prefer Peek.
func (s *Stack[T]) Top() (*T, error) {
	// exclusive, not shared: the slot handed out must not be
	// cleared by a pop racing with this call.
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.arr) == 0 {
		return nil, ErrEmptyStack
	}
	return &s.arr[len(s.arr)-1], nil
}

// Peek returns a copy of the top element without removing it.
func (s *Stack[T]) Peek() (t T, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.arr) == 0 {
		return t, false
	}
	return s.arr[len(s.arr)-1], true
}

// All iterates a snapshot of the stack from top to bottom. The lock is
// released before the first value is yielded.
func (s *Stack[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		s.mu.RLock()
		snapshot := make([]T, len(s.arr))
		copy(snapshot, s.arr)
		s.mu.RUnlock()

		for i := len(snapshot) - 1; i >= 0; i-- {
			if !yield(snapshot[i]) {
				return
			}
		}
	}
}

// Swap exchanges the contents of s and other atomically with respect to
// every other operation on either stack. Both locks are taken in instance
// order, so concurrent a.Swap(b) and b.Swap(a) can't deadlock. Swapping a
// stack with itself does nothing.
func (s *Stack[T]) Swap(other *Stack[T]) {
	if s == other {
		return
	}

	first, second := s, other
	if second.id < first.id {
		first, second = second, first
	}

	first.mu.Lock()
	second.mu.Lock()
	s.arr, other.arr = other.arr, s.arr
	second.mu.Unlock()
	first.mu.Unlock()

	// either side may have turned non-empty with any number of elements.
	s.cond.Broadcast()
	other.cond.Broadcast()
}
