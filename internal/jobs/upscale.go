package jobs

import (
	"context"
	"fmt"

	"github.com/yourusername/sd-worker/internal/compute"
	"github.com/yourusername/sd-worker/internal/progress"
)

type upscaleJob struct {
	base
	params UpscaleParams
	deps   Deps
}

func newUpscaleJob(id, sessionID string, params UpscaleParams, reporter progress.Reporter, deps Deps) *upscaleJob {
	return &upscaleJob{
		base:   base{id: id, sessionID: sessionID, kind: KindUpscale, reporter: reporter},
		params: params,
		deps:   deps,
	}
}

func (j *upscaleJob) Run(ctx context.Context) {
	j.execute(ctx, j.run)
}

func (j *upscaleJob) run(ctx context.Context) (progress.Payload, error) {
	if len(j.params.ImageData) == 0 {
		return nil, fmt.Errorf("no input image")
	}
	model, err := j.deps.Artifacts.Load(ctx, j.params.Model, j.reporter)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", j.params.Model, err)
	}

	j.reporter.NextStep("Upscaling Image", progress.Started())
	img, err := j.deps.Upscaler.Upscale(ctx, model, compute.UpscaleRequest{
		Image: j.params.ImageData,
		Scale: j.params.Scale,
	}, progress.StepCallback(j.reporter))
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("upscaler returned no image")
	}

	return progress.Payload{
		"data":   img.Data,
		"type":   img.MimeType,
		"width":  img.Width,
		"height": img.Height,
		"scale":  j.params.Scale,
	}, nil
}
