package compute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/yourusername/sd-worker/internal/artifact"
	"github.com/yourusername/sd-worker/internal/progress"
)

// MaxOutputSide はアップスケール後の1辺の最大ピクセル数です。
const MaxOutputSide = 4096

const upscaleBands = 8

// Simulated は GPU を使わずに動作する開発用の計算エンジンです。
// 生成はプロンプトから決まるグラデーション画像を返し、アップスケールは補間拡大を行います。
type Simulated struct {
	// StepDelay は生成1ステップあたりの待ち時間です。
	StepDelay time.Duration
}

// NewSimulated は Simulated を作成します。
func NewSimulated(stepDelay time.Duration) *Simulated {
	return &Simulated{StepDelay: stepDelay}
}

// Generate は Generator を実装します。
func (s *Simulated) Generate(ctx context.Context, model artifact.Handle, req GenerateRequest, onStep progress.StepFunc) (*Image, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", req.Width, req.Height)
	}
	steps := req.Steps
	if steps <= 0 {
		steps = 1
	}
	for i := 1; i <= steps; i++ {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		if onStep != nil {
			onStep(i, steps)
		}
	}

	h := fnv.New64a()
	h.Write([]byte(model.Name))
	h.Write([]byte(req.Prompt))
	seed := h.Sum64() ^ uint64(req.RandomSeed)

	img := image.NewRGBA(image.Rect(0, 0, req.Width, req.Height))
	base := color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255}
	for y := 0; y < req.Height; y++ {
		for x := 0; x < req.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: base.R + uint8(x*255/req.Width),
				G: base.G + uint8(y*255/req.Height),
				B: base.B,
				A: 255,
			})
		}
	}
	return encodePNG(img)
}

// Upscale は Upscaler を実装します。
func (s *Simulated) Upscale(ctx context.Context, model artifact.Handle, req UpscaleRequest, onStep progress.StepFunc) (*Image, error) {
	if req.Scale < 2 {
		return nil, fmt.Errorf("invalid scale: %d", req.Scale)
	}
	if len(req.Image) == 0 {
		return nil, errors.New("no input image")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(req.Image))
	if err != nil {
		return nil, fmt.Errorf("failed to decode input image: %w", err)
	}
	// 展開前にヘッダーの寸法で上限を確認する。
	width, height := cfg.Width*req.Scale, cfg.Height*req.Scale
	if width > MaxOutputSide || height > MaxOutputSide {
		return nil, fmt.Errorf("upscaled image too large: %dx%d", width, height)
	}
	src, _, err := image.Decode(bytes.NewReader(req.Image))
	if err != nil {
		return nil, fmt.Errorf("failed to decode input image: %w", err)
	}

	sb := src.Bounds()
	width, height = sb.Dx()*req.Scale, sb.Dy()*req.Scale
	dst := image.NewRGBA(image.Rect(0, 0, width, height))

	bands := upscaleBands
	if sb.Dy() < bands {
		bands = sb.Dy()
	}
	for i := 0; i < bands; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		y0 := sb.Min.Y + sb.Dy()*i/bands
		y1 := sb.Min.Y + sb.Dy()*(i+1)/bands
		srcRect := image.Rect(sb.Min.X, y0, sb.Max.X, y1)
		dstRect := image.Rect(0, (y0-sb.Min.Y)*req.Scale, width, (y1-sb.Min.Y)*req.Scale)
		draw.BiLinear.Scale(dst, dstRect, src, srcRect, draw.Src, nil)
		if onStep != nil {
			onStep(i+1, bands)
		}
	}
	return encodePNG(dst)
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.StepDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.StepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func encodePNG(img image.Image) (*Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	b := img.Bounds()
	return &Image{
		Data:     buf.Bytes(),
		MimeType: "image/png",
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}
