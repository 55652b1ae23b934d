package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/sd-worker/internal/artifact"
	"github.com/yourusername/sd-worker/internal/compute"
	"github.com/yourusername/sd-worker/internal/progress"
)

var errNoRunBody = errors.New("job has no run implementation")

// Job はキューに積まれる1つの処理単位です。
// 実装は txt2img / upscale / chain の3種類に限られます。
type Job interface {
	ID() string
	SessionID() string
	Kind() Kind
	// Run は同期的に実行し、レポーターの Complete を必ず一度だけ呼び出します。
	Run(ctx context.Context)

	sealed()
}

// ArtifactLoader はモデルを読み込み、その過程をレポーターへ報告します。
type ArtifactLoader interface {
	Load(ctx context.Context, name string, r progress.Reporter) (artifact.Handle, error)
}

// Deps はジョブ実行に必要な外部コンポーネントです。
type Deps struct {
	Artifacts ArtifactLoader
	Generator compute.Generator
	Upscaler  compute.Upscaler
}

func (d Deps) validate() error {
	if d.Artifacts == nil {
		return fmt.Errorf("artifact loader is nil")
	}
	if d.Generator == nil {
		return fmt.Errorf("generator is nil")
	}
	if d.Upscaler == nil {
		return fmt.Errorf("upscaler is nil")
	}
	return nil
}

type starter interface {
	Start()
}

type runBody func(ctx context.Context) (progress.Payload, error)

// base は単体ジョブ（チェーンのサブジョブを含む）の共通部分です。
type base struct {
	id        string
	sessionID string
	kind      Kind
	reporter  progress.Reporter
}

func (b *base) ID() string        { return b.id }
func (b *base) SessionID() string { return b.sessionID }
func (b *base) Kind() Kind        { return b.kind }
func (b *base) sealed()           {}

// execute は body を実行し、結果を成功またはエラーとして一度だけ報告します。
func (b *base) execute(ctx context.Context, body runBody) {
	if s, ok := b.reporter.(starter); ok {
		s.Start()
	}
	payload, err := safeRun(ctx, body)
	if err != nil {
		b.reporter.Complete(progress.StatusError, progress.ErrorPayload(err.Error()))
		return
	}
	b.reporter.Complete(progress.StatusSuccess, payload)
}

func safeRun(ctx context.Context, body runBody) (payload progress.Payload, err error) {
	if body == nil {
		return nil, errNoRunBody
	}
	defer func() {
		if r := recover(); r != nil {
			payload, err = nil, fmt.Errorf("job panicked: %v", r)
		}
	}()
	return body(ctx)
}
