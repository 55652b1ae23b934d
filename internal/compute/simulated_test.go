package compute

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/sd-worker/internal/artifact"
)

func TestSimulatedGenerateReportsEveryStep(t *testing.T) {
	engine := NewSimulated(0)

	var seen []int
	img, err := engine.Generate(context.Background(), artifact.Handle{Name: "m"}, GenerateRequest{
		Prompt: "a lighthouse",
		Width:  64,
		Height: 32,
		Steps:  4,
	}, func(current, total int) {
		require.Equal(t, 4, total)
		seen = append(seen, current)
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4}, seen)
	require.Equal(t, "image/png", img.MimeType)

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	require.NoError(t, err)
	require.Equal(t, 64, decoded.Bounds().Dx())
	require.Equal(t, 32, decoded.Bounds().Dy())
}

func TestSimulatedUpscale(t *testing.T) {
	engine := NewSimulated(0)
	src, err := engine.Generate(context.Background(), artifact.Handle{Name: "m"}, GenerateRequest{
		Prompt: "p", Width: 16, Height: 16, Steps: 1,
	}, nil)
	require.NoError(t, err)

	calls := 0
	out, err := engine.Upscale(context.Background(), artifact.Handle{Name: "u"}, UpscaleRequest{
		Image: src.Data,
		Scale: 3,
	}, func(current, total int) { calls++ })
	require.NoError(t, err)
	require.Equal(t, 48, out.Width)
	require.Equal(t, 48, out.Height)
	require.Equal(t, upscaleBands, calls)
}

func TestSimulatedUpscaleRejectsGarbage(t *testing.T) {
	engine := NewSimulated(0)
	_, err := engine.Upscale(context.Background(), artifact.Handle{}, UpscaleRequest{
		Image: []byte("not an image"),
		Scale: 2,
	}, nil)
	require.Error(t, err)
}

func TestSimulatedGenerateHonoursContext(t *testing.T) {
	engine := NewSimulated(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Generate(ctx, artifact.Handle{}, GenerateRequest{Width: 8, Height: 8, Steps: 2}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

// pngHeader は IHDR までしか持たない PNG を返します。寸法だけが宣言され、画素データはありません。
func pngHeader(width, height uint32) []byte {
	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	crc := crc32.NewIEEE()
	crc.Write([]byte("IHDR"))
	crc.Write(ihdr[:])
	buf.WriteString("IHDR")
	buf.Write(ihdr[:])
	_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

func TestSimulatedUpscaleChecksDimensionsBeforeDecoding(t *testing.T) {
	engine := NewSimulated(0)
	_, err := engine.Upscale(context.Background(), artifact.Handle{}, UpscaleRequest{
		Image: pngHeader(6000, 6000),
		Scale: 2,
	}, nil)
	require.ErrorContains(t, err, "upscaled image too large: 12000x12000")
}
