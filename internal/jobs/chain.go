package jobs

import (
	"context"
	"fmt"

	"github.com/yourusername/sd-worker/internal/progress"
)

// chainJob はサブジョブを順番に実行し、各結果を Chain レポーターに集約します。
type chainJob struct {
	id        string
	sessionID string
	specs     []Spec
	reporter  *progress.Chain
	deps      Deps
}

func newChainJob(id, sessionID string, specs []Spec, reporter *progress.Chain, deps Deps) *chainJob {
	return &chainJob{
		id:        id,
		sessionID: sessionID,
		specs:     specs,
		reporter:  reporter,
		deps:      deps,
	}
}

func (j *chainJob) ID() string        { return j.id }
func (j *chainJob) SessionID() string { return j.sessionID }
func (j *chainJob) Kind() Kind        { return KindChain }
func (j *chainJob) sealed()           {}

func (j *chainJob) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.reporter.Abort(fmt.Sprintf("job panicked: %v", r))
		}
	}()

	j.reporter.Start()
	var previous []byte
	for i, spec := range j.specs {
		if j.reporter.Finalized() {
			return
		}
		sub := j.reporter.NewSubReporter(spec.DisplayTitle(), 0)

		// 入力画像のない upscale には直前のサブジョブの画像を渡す。
		if spec.Kind == KindUpscale && len(spec.Upscale.ImageData) == 0 {
			params := *spec.Upscale
			params.ImageData = previous
			spec.Upscale = &params
		}

		child, err := buildSingle(fmt.Sprintf("%s#%d", j.id, i), j.sessionID, spec, sub, j.deps)
		if err != nil {
			sub.Complete(progress.StatusError, progress.ErrorPayload(err.Error()))
			continue
		}
		child.Run(ctx)

		if result, ok := sub.Result(); ok {
			if data, ok := result["data"].([]byte); ok {
				previous = data
			}
		}
	}
	j.reporter.Finalize()
}
