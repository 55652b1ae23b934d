package jobs

import (
	"context"
	"fmt"

	"github.com/yourusername/sd-worker/internal/compute"
	"github.com/yourusername/sd-worker/internal/progress"
)

type txt2imgJob struct {
	base
	params Txt2ImgParams
	deps   Deps
}

func newTxt2ImgJob(id, sessionID string, params Txt2ImgParams, reporter progress.Reporter, deps Deps) *txt2imgJob {
	return &txt2imgJob{
		base:   base{id: id, sessionID: sessionID, kind: KindTxt2Img, reporter: reporter},
		params: params,
		deps:   deps,
	}
}

func (j *txt2imgJob) Run(ctx context.Context) {
	j.execute(ctx, j.run)
}

func (j *txt2imgJob) run(ctx context.Context) (progress.Payload, error) {
	model, err := j.deps.Artifacts.Load(ctx, j.params.Model, j.reporter)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", j.params.Model, err)
	}

	j.reporter.NextStep("Generating Image", progress.Started())
	img, err := j.deps.Generator.Generate(ctx, model, compute.GenerateRequest{
		Prompt:    j.params.Prompt,
		Width:     j.params.Width,
		Height:    j.params.Height,
		Steps:     j.params.Steps,
		AllowNSFW: j.params.NSFW,
	}, progress.StepCallback(j.reporter))
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("generator returned no image")
	}

	return progress.Payload{
		"data":   img.Data,
		"type":   img.MimeType,
		"width":  img.Width,
		"height": img.Height,
		"nsfw":   img.NSFW,
	}, nil
}
