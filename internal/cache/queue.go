package cache

import "container/heap"

// requestQueue orders requests by priority, FIFO within a priority.
type requestQueue []*Request

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].order < q[j].order
}

func (q requestQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *requestQueue) Push(x any) { *q = append(*q, x.(*Request)) }

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return r
}

func (q *requestQueue) push(r *Request) { heap.Push(q, r) }

func (q *requestQueue) pop() *Request {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*Request)
}
