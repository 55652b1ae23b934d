package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/yourusername/sd-worker/internal/progress"
)

// Tracker は Emitter をラップし、完了イベントの結果をジョブ記録へ反映します。
type Tracker struct {
	next   progress.Emitter
	store  RecordStore
	logger *zap.Logger
}

// NewTracker は Tracker を作成します。store が nil の場合は転送のみ行います。
func NewTracker(next progress.Emitter, store RecordStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{next: next, store: store, logger: logger.Named("tracker")}
}

// Emit はイベントを転送し、job_complete であれば記録を更新します。
func (t *Tracker) Emit(sessionID string, ev progress.Event) {
	t.next.Emit(sessionID, ev)

	complete, ok := ev.(progress.CompleteEvent)
	if !ok || t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var err error
	if complete.Status == progress.StatusSuccess {
		err = t.store.MarkDone(ctx, complete.JobID)
	} else {
		message, _ := complete.Payload["error"].(string)
		err = t.store.MarkFailed(ctx, complete.JobID, &ErrorInfo{Code: "JOB_FAILED", Message: message})
	}
	if err != nil {
		t.logger.Warn("failed to update job record", zap.String("job_id", complete.JobID), zap.Error(err))
	}
}
