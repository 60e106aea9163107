package video

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideo_InsertAndIterate(t *testing.T) {
	v := New()
	assert.Equal(t, 0, v.Len())
	assert.False(t, v.Iterator().Next())

	for i := 0; i < 5; i++ {
		v.Insert(Frame{Width: 1, Height: 1, Channels: 1, Pix: []byte{byte(i)}})
	}
	assert.Equal(t, 5, v.Len())

	it := v.Iterator()
	var seen []byte
	for it.Next() {
		seen = append(seen, it.Frame().Pix[0])
		assert.Equal(t, len(seen)-1, it.Index())
	}
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, seen)
	assert.False(t, it.Next(), "iterator is one-shot")
	assert.Equal(t, Frame{}, it.Frame())

	// A fresh iterator restarts from the first frame.
	again := v.Iterator()
	require.True(t, again.Next())
	assert.Equal(t, byte(0), again.Frame().Pix[0])
}

func TestFrameFromImage(t *testing.T) {
	img := imaging.New(2, 3, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	rgb := FrameFromImage(img, false)
	assert.Equal(t, 2, rgb.Width)
	assert.Equal(t, 3, rgb.Height)
	assert.Equal(t, 3, rgb.Channels)
	require.Len(t, rgb.Pix, 2*3*3)
	assert.Equal(t, []byte{10, 20, 30}, rgb.Pix[:3])

	grey := FrameFromImage(img, true)
	assert.Equal(t, 1, grey.Channels)
	assert.Len(t, grey.Pix, 2*3)
}

func writeFrames(t *testing.T, n int, w, h int) string {
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := imaging.New(w, h, color.NRGBA{R: uint8(i * 10), G: 0, B: 0, A: 255})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i))))
	}
	return dir
}

func TestLoad_ImageSequence(t *testing.T) {
	dir := writeFrames(t, 4, 32, 24)

	v, err := Load(context.Background(), ImageSequenceDecoder{}, dir, LoadOptions{Width: 8, Height: 8, Greyscale: true})
	require.NoError(t, err)
	assert.Equal(t, 4, v.Len())

	it := v.Iterator()
	require.True(t, it.Next())
	f := it.Frame()
	assert.Equal(t, 8, f.Width)
	assert.Equal(t, 8, f.Height)
	assert.Equal(t, 1, f.Channels)
	assert.Len(t, f.Pix, 64)
}

func TestLoad_KeepsSizeWithoutDownsample(t *testing.T) {
	dir := writeFrames(t, 2, 5, 4)

	v, err := Load(context.Background(), ImageSequenceDecoder{}, dir, LoadOptions{})
	require.NoError(t, err)

	it := v.Iterator()
	require.True(t, it.Next())
	assert.Equal(t, 5, it.Frame().Width)
	assert.Equal(t, 4, it.Frame().Height)
	assert.Equal(t, 3, it.Frame().Channels)
	require.True(t, it.Next())
	assert.Equal(t, byte(10), it.Frame().Pix[0])
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Load(ctx, ImageSequenceDecoder{}, t.TempDir(), DefaultLoadOptions())
	assert.Error(t, err, "empty directory has no frames")

	_, err = Load(ctx, ImageSequenceDecoder{}, writeFrames(t, 1, 2, 2), LoadOptions{Width: 4})
	assert.Error(t, err, "half-specified size")
}

type stubSource struct {
	frames []image.Image
}

func (s *stubSource) Next(ctx context.Context) (image.Image, error) {
	if len(s.frames) == 0 {
		return nil, fmt.Errorf("decoder broke")
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *stubSource) Close() error { return nil }

type stubDecoder struct{ src *stubSource }

func (d stubDecoder) Open(ctx context.Context, path string) (FrameSource, error) {
	return d.src, nil
}

func TestLoad_PropagatesDecodeError(t *testing.T) {
	dec := stubDecoder{src: &stubSource{frames: []image.Image{imaging.New(1, 1, color.Black)}}}
	_, err := Load(context.Background(), dec, "clip.mp4", LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame 1")
}
