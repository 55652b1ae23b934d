// Package compute はジョブ内部で実行される画像処理（生成/アップスケール）の境界を定義します。
package compute

import (
	"context"

	"github.com/yourusername/sd-worker/internal/artifact"
	"github.com/yourusername/sd-worker/internal/progress"
)

// Image は計算結果の画像です。
type Image struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
	NSFW     bool
}

// GenerateRequest はテキストからの画像生成パラメーターです。
type GenerateRequest struct {
	Prompt     string
	Width      int
	Height     int
	Steps      int
	AllowNSFW  bool
	RandomSeed int64
}

// UpscaleRequest は超解像のパラメーターです。
type UpscaleRequest struct {
	Image []byte
	Scale int
}

// Generator はテキストから画像を生成します。
// onStep は推論ステップごとに (current, total) で呼び出されます。
type Generator interface {
	Generate(ctx context.Context, model artifact.Handle, req GenerateRequest, onStep progress.StepFunc) (*Image, error)
}

// Upscaler は画像を拡大します。
type Upscaler interface {
	Upscale(ctx context.Context, model artifact.Handle, req UpscaleRequest, onStep progress.StepFunc) (*Image, error)
}
