package scheduler

import (
	"container/heap"

	"github.com/notexe/assistant-bot/internal/reminder"
)

// trigger is one pending occurrence in the queue.
type trigger struct {
	reminder reminder.Reminder
	index    int
}

// triggerQueue is a min-heap of triggers ordered by due time, then ID.
type triggerQueue []*trigger

func (q triggerQueue) Len() int { return len(q) }

func (q triggerQueue) Less(i, j int) bool {
	a, b := q[i].reminder, q[j].reminder
	if a.DueAt.Equal(b.DueAt) {
		return a.ID < b.ID
	}
	return a.DueAt.Before(b.DueAt)
}

func (q triggerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *triggerQueue) Push(x any) {
	t := x.(*trigger)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *triggerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

func (q triggerQueue) peek() *trigger {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

func (q *triggerQueue) remove(t *trigger) {
	if t.index >= 0 && t.index < len(*q) {
		heap.Remove(q, t.index)
	}
}
