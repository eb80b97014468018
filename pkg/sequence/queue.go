package sequence

// PriorityQueue is a binary min-heap ordered by less. It is not safe for
// concurrent use.
type PriorityQueue[T any] struct {
	items []T
	less  func(a, b T) bool
}

func NewPriorityQueue[T any](less func(a, b T) bool) *PriorityQueue[T] {
	return &PriorityQueue[T]{less: less}
}

func (pq *PriorityQueue[T]) Enqueue(value T) {
	pq.items = append(pq.items, value)
	pq.up(len(pq.items) - 1)
}

func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	var zero T
	n := len(pq.items)
	if n == 0 {
		return zero, false
	}
	head := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items[n-1] = zero
	pq.items = pq.items[:n-1]
	if len(pq.items) > 0 {
		pq.down(0)
	}
	return head, true
}

func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if len(pq.items) == 0 {
		var zero T
		return zero, false
	}
	return pq.items[0], true
}

// PopWhile dequeues elements for as long as keep accepts the current head.
func (pq *PriorityQueue[T]) PopWhile(keep func(T) bool) []T {
	var out []T
	for {
		head, ok := pq.Peek()
		if !ok || !keep(head) {
			return out
		}
		pq.Dequeue()
		out = append(out, head)
	}
}

func (pq *PriorityQueue[T]) Len() int { return len(pq.items) }

func (pq *PriorityQueue[T]) IsEmpty() bool { return len(pq.items) == 0 }

// Drain removes every element in priority order.
func (pq *PriorityQueue[T]) Drain() []T {
	return pq.PopWhile(func(T) bool { return true })
}

func (pq *PriorityQueue[T]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.less(pq.items[i], pq.items[parent]) {
			return
		}
		pq.items[i], pq.items[parent] = pq.items[parent], pq.items[i]
		i = parent
	}
}

func (pq *PriorityQueue[T]) down(i int) {
	n := len(pq.items)
	for {
		smallest := i
		for _, child := range [2]int{2*i + 1, 2*i + 2} {
			if child < n && pq.less(pq.items[child], pq.items[smallest]) {
				smallest = child
			}
		}
		if smallest == i {
			return
		}
		pq.items[i], pq.items[smallest] = pq.items[smallest], pq.items[i]
		i = smallest
	}
}
