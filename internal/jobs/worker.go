package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/sd-worker/internal/progress"
)

const storeTimeout = 2 * time.Second

// ErrWorkerStopped は停止後に投入されたジョブに対して返されます。
var ErrWorkerStopped = errors.New("worker is stopped")

// SessionChecker はセッションが接続中かどうかを判定します。
type SessionChecker interface {
	IsLive(sessionID string) bool
}

// SubjectResolver はセッションを開いた利用者（トークンの主体）を返します。
type SubjectResolver interface {
	SubjectOf(sessionID string) string
}

// Builder はジョブ定義から Job を作成します。
type Builder interface {
	Build(sessionID string, raw []byte) (Job, error)
}

// WorkerConfig は Worker の依存関係です。Store と Subjects は省略できます。
type WorkerConfig struct {
	Sessions SessionChecker
	Emitter  progress.Emitter
	Builder  Builder
	Store    RecordStore
	Subjects SubjectResolver
	Logger   *zap.Logger
}

// Worker はキューからジョブを1件ずつ取り出して実行する唯一のコンシューマーです。
type Worker struct {
	sessions SessionChecker
	emitter  progress.Emitter
	builder  Builder
	store    RecordStore
	subjects SubjectResolver
	logger   *zap.Logger
	queue    *queue

	mu       sync.Mutex
	started  bool
	stopping bool
	done     chan struct{}
}

// NewWorker は Worker を作成します。
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session registry is nil")
	}
	if cfg.Emitter == nil {
		return nil, fmt.Errorf("emitter is nil")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("builder is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		sessions: cfg.Sessions,
		emitter:  cfg.Emitter,
		builder:  cfg.Builder,
		store:    cfg.Store,
		subjects: cfg.Subjects,
		logger:   logger.Named("worker"),
		queue:    newQueue(),
		done:     make(chan struct{}),
	}, nil
}

// Start はバックグラウンドでジョブの処理を開始します。二度目以降の呼び出しは何もしません。
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopping {
		return
	}
	w.started = true
	go w.loop(ctx)
}

// Enqueue はジョブ定義を検証してキューへ追加し、ジョブIDと1始まりの待ち順を返します。
// 定義が不正な場合はキューに追加せず *ValidationError を返します。
func (w *Worker) Enqueue(sessionID string, raw []byte) (string, int, error) {
	if w.isStopping() {
		return "", 0, ErrWorkerStopped
	}
	job, err := w.builder.Build(sessionID, raw)
	if err != nil {
		return "", 0, err
	}
	pos, err := w.Submit(job)
	if err != nil {
		return "", 0, err
	}
	return job.ID(), pos, nil
}

// Submit は作成済みの Job をキューへ追加します。
func (w *Worker) Submit(job Job) (int, error) {
	if job == nil {
		return 0, fmt.Errorf("job is nil")
	}
	if w.isStopping() {
		return 0, ErrWorkerStopped
	}
	w.record(func(ctx context.Context, s RecordStore) error {
		return s.Upsert(ctx, &Record{
			JobID:     job.ID(),
			Kind:      job.Kind(),
			SessionID: job.SessionID(),
			Subject:   w.subjectOf(job.SessionID()),
			Status:    StatusQueued,
		})
	})

	// 停止判定と追加を同じロックで行い、番兵より後ろにジョブが積まれないようにする。
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return 0, ErrWorkerStopped
	}
	pos := w.queue.push(entry{job: job})
	w.mu.Unlock()
	w.logger.Debug("job enqueued",
		zap.String("job_id", job.ID()),
		zap.String("kind", string(job.Kind())),
		zap.Int("queue_pos", pos),
	)
	return pos, nil
}

// QueueLength は待機中のジョブ数を返します。
func (w *Worker) QueueLength() int {
	return w.queue.len()
}

// Stop は新規投入を止め、実行中のジョブの終了とループの終了を待ちます。
// ctx が先に終了した場合はそのエラーを返します。
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopping {
		w.stopping = true
		w.queue.push(entry{stop: true})
	}
	started := w.started
	w.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) subjectOf(sessionID string) string {
	if w.subjects == nil {
		return ""
	}
	return w.subjects.SubjectOf(sessionID)
}

func (w *Worker) isStopping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopping
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	for {
		e, err := w.queue.pop(ctx)
		if err != nil {
			return
		}
		if e.stop || w.isStopping() {
			return
		}

		job := e.job
		if !w.sessions.IsLive(job.SessionID()) {
			w.logger.Info("skipping job of disconnected session",
				zap.String("job_id", job.ID()),
				zap.String("session_id", job.SessionID()),
			)
			w.record(func(ctx context.Context, s RecordStore) error {
				return s.MarkSkipped(ctx, job.ID())
			})
			continue
		}

		w.broadcastPositions()
		w.run(ctx, job)
	}
}

// broadcastPositions は待機中のジョブのうち、接続中のセッションのものへ待ち順を送ります。
func (w *Worker) broadcastPositions() {
	for i, job := range w.queue.snapshot() {
		if !w.sessions.IsLive(job.SessionID()) {
			continue
		}
		w.emitter.Emit(job.SessionID(), progress.QueueEvent{
			JobID:    job.ID(),
			QueuePos: i + 1,
		})
	}
}

func (w *Worker) run(ctx context.Context, job Job) {
	logger := w.logger.With(zap.String("job_id", job.ID()), zap.String("kind", string(job.Kind())))
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			w.record(func(ctx context.Context, s RecordStore) error {
				return s.MarkFailed(ctx, job.ID(), &ErrorInfo{Code: "PANIC", Message: fmt.Sprint(r)})
			})
		}
	}()

	w.record(func(ctx context.Context, s RecordStore) error {
		return s.MarkRunning(ctx, job.ID())
	})
	logger.Info("job started")
	job.Run(context.WithoutCancel(ctx))
	logger.Info("job finished", zap.Duration("elapsed", time.Since(started)))
}

func (w *Worker) record(fn func(context.Context, RecordStore) error) {
	if w.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := fn(ctx, w.store); err != nil {
		w.logger.Warn("failed to update job record", zap.Error(err))
	}
}
