// Package progresstest はテスト用の Emitter を提供します。
package progresstest

import (
	"sync"

	"github.com/yourusername/sd-worker/internal/progress"
)

// Record は送出された1件のイベントです。
type Record struct {
	SessionID string
	Event     progress.Event
}

// Recorder は送出されたイベントを順序どおりに記録します。
type Recorder struct {
	mu      sync.Mutex
	records []Record
	notify  chan struct{}
}

// NewRecorder は Recorder を作成します。
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Emit は progress.Emitter を実装します。
func (r *Recorder) Emit(sessionID string, ev progress.Event) {
	r.mu.Lock()
	r.records = append(r.records, Record{SessionID: sessionID, Event: ev})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Records は記録済みイベントのコピーを返します。
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Events は記録済みイベントのみを返します。
func (r *Recorder) Events() []progress.Event {
	records := r.Records()
	out := make([]progress.Event, len(records))
	for i, rec := range records {
		out[i] = rec.Event
	}
	return out
}

// ForSession は指定セッション宛のイベントのみを返します。
func (r *Recorder) ForSession(sessionID string) []progress.Event {
	var out []progress.Event
	for _, rec := range r.Records() {
		if rec.SessionID == sessionID {
			out = append(out, rec.Event)
		}
	}
	return out
}

// Completions は終了イベントのみを返します。
func (r *Recorder) Completions() []progress.CompleteEvent {
	var out []progress.CompleteEvent
	for _, rec := range r.Records() {
		if ev, ok := rec.Event.(progress.CompleteEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Notify はイベントが記録されるたびに通知されるチャネルを返します。
func (r *Recorder) Notify() <-chan struct{} {
	return r.notify
}
