package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
)

// FrameSource yields decoded frames in order and io.EOF once exhausted.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Decoder opens a video at path for sequential decoding.
type Decoder interface {
	Open(ctx context.Context, path string) (FrameSource, error)
}

// LoadOptions controls per-frame preprocessing before insertion.
type LoadOptions struct {
	// Width and Height resize every frame when both are positive.
	Width     int
	Height    int
	Greyscale bool
}

// DefaultLoadOptions downsamples to 96x96 colour frames.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{Width: 96, Height: 96}
}

// Load decodes path and appends every frame to a new Video.
func Load(ctx context.Context, dec Decoder, path string, opts LoadOptions) (*Video, error) {
	v := New()
	if err := v.LoadFromFile(ctx, dec, path, opts); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadFromFile decodes path and appends its frames to v.
func (v *Video) LoadFromFile(ctx context.Context, dec Decoder, path string, opts LoadOptions) error {
	if (opts.Width > 0) != (opts.Height > 0) {
		return fmt.Errorf("downsample size needs both width and height, saw %dx%d", opts.Width, opts.Height)
	}

	src, err := dec.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open video %s: %w", path, err)
	}
	defer src.Close()

	for {
		img, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode frame %d of %s: %w", v.Len(), path, err)
		}
		if opts.Width > 0 {
			img = imaging.Resize(img, opts.Width, opts.Height, imaging.Box)
		}
		v.Insert(FrameFromImage(img, opts.Greyscale))
	}
}

var frameExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
}

// ImageSequenceDecoder decodes a directory of still frames, one image per
// frame, ordered by file name.
type ImageSequenceDecoder struct{}

// Open lists the frame files under dir.
func (ImageSequenceDecoder) Open(ctx context.Context, dir string) (FrameSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(paths)

	return &imageSequence{paths: paths}, nil
}

type imageSequence struct {
	paths []string
	next  int
}

func (s *imageSequence) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.next]
	s.next++
	return imaging.Open(path)
}

func (s *imageSequence) Close() error {
	return nil
}
