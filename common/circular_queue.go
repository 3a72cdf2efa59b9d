package common

import "fmt"

// CircularQueue is a fixed capacity FIFO ring. It is not safe for concurrent use.
type CircularQueue[T any] struct {
	items []T
	count int
	size  int
	pos   int
}

func NewCircularQueue[T any](size int) CircularQueue[T] {
	if size <= 0 {
		panic(fmt.Sprintf("circular queue size must be positive: %d", size)) //nolint:gocritic
	}

	return CircularQueue[T]{
		items: make([]T, size),
		size:  size,
	}
}

func (cq *CircularQueue[T]) Push(item T) error {
	if cq.count == cq.size {
		return fmt.Errorf("queue is already populated with %d items", cq.count)
	}

	cq.items[cq.index(cq.count)] = item
	cq.count++

	return nil
}

func (cq *CircularQueue[T]) Pop() (result T, ok bool) {
	if cq.count == 0 {
		return result, false
	}

	var def T

	result = cq.items[cq.pos]
	cq.items[cq.pos] = def
	cq.pos = (cq.pos + 1) % cq.size
	cq.count--

	return result, true
}

func (cq CircularQueue[T]) Len() int {
	return cq.count
}

func (cq CircularQueue[T]) IsFull() bool {
	return cq.count == cq.size
}

// Truncate keeps the oldest cnt items and zeroes the rest so they can be garbage collected.
func (cq *CircularQueue[T]) Truncate(cnt int) {
	var def T

	cnt = max(0, min(cnt, cq.count))

	for i := cnt; i < cq.count; i++ {
		cq.items[cq.index(i)] = def
	}

	cq.count = cnt
}

func (cq *CircularQueue[T]) Find(handler func(t T) bool) int {
	for i := 0; i < cq.count; i++ {
		if handler(cq.items[cq.index(i)]) {
			return i
		}
	}

	return -1
}

func (cq *CircularQueue[T]) ToList() []T {
	lst := make([]T, cq.count)

	for i := 0; i < cq.count; i++ {
		lst[i] = cq.items[cq.index(i)]
	}

	return lst
}

func (cq *CircularQueue[T]) index(i int) int {
	return (cq.pos + i) % cq.size
}
