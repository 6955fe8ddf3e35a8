package datastruct

import (
	"sync"
)

// RingBuffer is a fixed-size circular buffer that keeps the latest elements pushed into it.
// It is safe for concurrent use.
type RingBuffer[T any] struct {
	size    int
	counter int
	buf     []T
	mutex   sync.RWMutex
}

// NewRingBuffer returns an initialised ring buffer.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < 1 {
		panic("NewRingBuffer: size must be greater than 0")
	}
	return &RingBuffer[T]{
		size: size,
		buf:  make([]T, size),
	}
}

// Push places a new element into ring buffer, the oldest element is overwritten when the buffer is full.
func (r *RingBuffer[T]) Push(elem T) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.buf[r.counter%r.size] = elem
	r.counter++
}

// Len returns the number of elements currently buffered.
func (r *RingBuffer[T]) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.counter < r.size {
		return r.counter
	}
	return r.size
}

/*
IterateReverse traverses the ring buffer from the latest element to the oldest element.
If the iterator function returns false, iteration is stopped immediately.
*/
func (r *RingBuffer[T]) IterateReverse(fun func(T) bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	r.iterateReverse(fun)
}

func (r *RingBuffer[T]) iterateReverse(fun func(T) bool) {
	n := r.counter
	if n > r.size {
		n = r.size
	}
	for i := 1; i <= n; i++ {
		if !fun(r.buf[(r.counter-i)%r.size]) {
			return
		}
	}
}

// GetAll returns all elements from the oldest to the latest.
func (r *RingBuffer[T]) GetAll() []T {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	reversed := make([]T, 0, r.size)
	r.iterateReverse(func(elem T) bool {
		reversed = append(reversed, elem)
		return true
	})
	ret := make([]T, len(reversed))
	for i, elem := range reversed {
		ret[len(ret)-1-i] = elem
	}
	return ret
}
