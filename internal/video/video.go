// Package video holds decoded video frames in insertion order.
package video

import (
	"image"

	"github.com/disintegration/imaging"
)

// Frame is one decoded frame as interleaved uint8 pixels.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// FrameFromImage flattens img into RGB pixels, or a single luminance channel
// when greyscale is set.
func FrameFromImage(img image.Image, greyscale bool) Frame {
	if greyscale {
		img = imaging.Grayscale(img)
	}
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	channels := 3
	if greyscale {
		channels = 1
	}

	pix := make([]byte, 0, w*h*channels)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			if greyscale {
				pix = append(pix, p[0])
			} else {
				pix = append(pix, p[0], p[1], p[2])
			}
		}
	}

	return Frame{Width: w, Height: h, Channels: channels, Pix: pix}
}

// Video is an append-only sequence of frames.
type Video struct {
	frames []Frame
}

// New creates an empty video.
func New() *Video {
	return &Video{}
}

// Insert appends a frame.
func (v *Video) Insert(f Frame) {
	v.frames = append(v.frames, f)
}

// Len returns the number of frames.
func (v *Video) Len() int {
	return len(v.frames)
}

// Iterator returns a one-shot forward iterator starting at the first frame.
// Mutating the video while iterating is undefined.
func (v *Video) Iterator() *Iterator {
	return &Iterator{video: v, pos: -1}
}

// Iterator walks the frames of a Video.
type Iterator struct {
	video *Video
	pos   int
}

// Next advances to the next frame.
func (it *Iterator) Next() bool {
	if it.pos >= len(it.video.frames) {
		return false
	}
	it.pos++
	return it.pos < len(it.video.frames)
}

// Index returns the position of the current frame.
func (it *Iterator) Index() int {
	return it.pos
}

// Frame returns the current frame.
func (it *Iterator) Frame() Frame {
	if it.pos < 0 || it.pos >= len(it.video.frames) {
		return Frame{}
	}
	return it.video.frames[it.pos]
}
