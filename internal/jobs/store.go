package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"
	maxTxRetries = 5
)

// ErrRecordNotFound は対象のジョブ記録が存在しない場合のエラーです。
var ErrRecordNotFound = errors.New("job record not found")

// RecordStore はジョブ状態の記録先です。Worker は設定されている場合のみ利用します。
type RecordStore interface {
	Get(ctx context.Context, jobID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	MarkRunning(ctx context.Context, jobID string) error
	MarkDone(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error
	MarkSkipped(ctx context.Context, jobID string) error
}

// Store はジョブ状態を Redis に保存します。
// キューそのものは保存せず、状態照会用の写しを TTL 付きで保持します。
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はジョブ情報を取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert はジョブ情報を保存します（存在しない場合は作成）。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

// MarkRunning は実行開始を記録します。
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusRunning
	})
}

// MarkDone はジョブ成功を記録します。
func (s *Store) MarkDone(ctx context.Context, jobID string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusSucceeded
		record.Error = nil
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusFailed
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// MarkSkipped は所有セッション切断により実行されなかったことを記録します。
func (s *Store) MarkSkipped(ctx context.Context, jobID string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusSkipped
	})
}

func (s *Store) updatePartial(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrRecordNotFound, jobID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update job %s: too much contention", jobID)
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
