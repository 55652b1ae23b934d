package jobs

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/yourusername/sd-worker/internal/progress"
)

// Factory はジョブ定義を検証し、レポーターを紐づけた Job を作成します。
type Factory struct {
	deps    Deps
	emitter progress.Emitter
	newID   func() string
}

// NewFactory は Factory を作成します。
func NewFactory(deps Deps, emitter progress.Emitter) (*Factory, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		return nil, fmt.Errorf("emitter is nil")
	}
	return &Factory{deps: deps, emitter: emitter, newID: uuid.NewString}, nil
}

// Build は生のジョブ定義から Job を作成します。定義が不正な場合は *ValidationError を返します。
func (f *Factory) Build(sessionID string, raw []byte) (Job, error) {
	spec, err := ParseDefinition(raw)
	if err != nil {
		return nil, err
	}
	id := f.newID()
	if spec.Kind == KindChain {
		chain := progress.NewChain(id, sessionID, f.emitter, len(spec.Chain))
		return newChainJob(id, sessionID, spec.Chain, chain, f.deps), nil
	}
	return buildSingle(id, sessionID, spec, progress.NewSingle(id, sessionID, f.emitter, 0), f.deps)
}

func buildSingle(id, sessionID string, spec Spec, reporter progress.Reporter, deps Deps) (Job, error) {
	switch spec.Kind {
	case KindTxt2Img:
		return newTxt2ImgJob(id, sessionID, *spec.Txt2Img, reporter, deps), nil
	case KindUpscale:
		return newUpscaleJob(id, sessionID, *spec.Upscale, reporter, deps), nil
	default:
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("invalid job type: %q", spec.Kind)}
	}
}
