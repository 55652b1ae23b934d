package jobs

import (
	"context"
	"sync"
)

// entry はキューの要素です。stop が true の要素は停止用の番兵です。
type entry struct {
	job  Job
	stop bool
}

// queue は上限のない FIFO キューです。
type queue struct {
	mu    sync.Mutex
	items []entry
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

// push は要素を末尾に追加し、追加後に待機しているジョブ数を返します。
func (q *queue) push(e entry) int {
	q.mu.Lock()
	q.items = append(q.items, e)
	n := q.jobsLocked()
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return n
}

// pop は先頭の要素を取り出します。空の場合は追加されるか ctx が終了するまで待ちます。
func (q *queue) pop(ctx context.Context) (entry, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = entry{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return entry{}, ctx.Err()
		}
	}
}

// snapshot は待機中のジョブを先頭から順に返します。
func (q *queue) snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.items))
	for _, e := range q.items {
		if e.job != nil {
			out = append(out, e.job)
		}
	}
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobsLocked()
}

func (q *queue) jobsLocked() int {
	n := 0
	for _, e := range q.items {
		if e.job != nil {
			n++
		}
	}
	return n
}
