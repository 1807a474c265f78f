package workflow

import "container/heap"

// readyQueue 就绪任务的优先队列：优先级高者先出，同级按提交顺序
type readyQueue []*task

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	ri, rj := q[i].priority.Rank(), q[j].priority.Rank()
	if ri != rj {
		return ri > rj
	}
	return q[i].seq < q[j].seq
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(*task)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

func (q *readyQueue) push(t *task) { heap.Push(q, t) }

func (q *readyQueue) pop() *task { return heap.Pop(q).(*task) }
