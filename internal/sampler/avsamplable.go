// Package sampler draws temporally aligned frame and audio index windows from a
// video of known frame and audio sample counts.
package sampler

import (
	"math"
	"math/rand"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/model"
)

// AVSamplable samples aligned windows from a video with videoLength frames and
// audioLength audio samples.
type AVSamplable struct {
	videoLength        int
	audioLength        int
	audioStepsPerFrame float64
	rng                *rand.Rand
}

// NewAVSamplable creates a sampler. rng must not be shared across goroutines.
func NewAVSamplable(videoLength, audioLength int, rng *rand.Rand) (*AVSamplable, error) {
	if videoLength <= 0 {
		return nil, errors.InvalidArgumentf("video length must be positive, saw %d", videoLength)
	}
	if audioLength <= 0 {
		return nil, errors.InvalidArgumentf("audio length must be positive, saw %d", audioLength)
	}
	if rng == nil {
		return nil, errors.InvalidArgumentf("random source is required")
	}
	return &AVSamplable{
		videoLength:        videoLength,
		audioLength:        audioLength,
		audioStepsPerFrame: float64(audioLength) / float64(videoLength),
		rng:                rng,
	}, nil
}

// AudioStepsPerFrame is the (not necessarily integral) number of audio samples
// per video frame.
func (s *AVSamplable) AudioStepsPerFrame() float64 {
	return s.audioStepsPerFrame
}

// SampleFrameIndices returns sampleLength contiguous frame indices starting at
// a uniformly random offset in [0, videoLength-sampleLength].
func (s *AVSamplable) SampleFrameIndices(sampleLength int) ([]int, error) {
	if sampleLength <= 0 {
		return nil, errors.InvalidArgumentf("sample length must be positive, saw %d", sampleLength)
	}
	maxStart := s.videoLength - sampleLength
	if maxStart < 0 {
		return nil, errors.InvalidArgumentf("sample length %d greater than video length %d",
			sampleLength, s.videoLength)
	}

	start := 0
	if maxStart > 0 {
		start = s.rng.Intn(maxStart + 1)
	}

	indices := make([]int, sampleLength)
	for i := range indices {
		indices[i] = start + i
	}
	return indices, nil
}

// AudioGivenFrameSample returns the audio indices spanning the same time as
// the contiguous frame window frameSample.
func (s *AVSamplable) AudioGivenFrameSample(frameSample []int) []int {
	if len(frameSample) == 0 {
		return nil
	}
	offset, numFrames := frameSample[0], len(frameSample)

	length := int(s.audioStepsPerFrame * float64(numFrames))
	start := int(s.audioStepsPerFrame * float64(offset))

	indices := make([]int, length)
	for i := range indices {
		indices[i] = start + i
	}
	return indices
}

// SampleAVPair draws numFrames frame indices and the aligned audio indices.
//
// An oversized window of numFrames + 2*maxFrameShift + maxFrameSkip frames is
// drawn first. The audio window is cut from its centre. The frame window is
// shifted by a random amount in [0, 2*maxFrameShift] relative to that centre and
// then frameSkipSize random frames in [0, maxFrameSkip] are dropped, so exactly
// numFrames indices remain.
func (s *AVSamplable) SampleAVPair(numFrames, maxFrameShift, maxFrameSkip int) ([]int, []int, model.SampleMeta, error) {
	if numFrames <= 0 {
		return nil, nil, model.SampleMeta{}, errors.InvalidArgumentf("must sample num_frames > 0, saw %d", numFrames)
	}
	if maxFrameShift < 0 || maxFrameSkip < 0 {
		return nil, nil, model.SampleMeta{}, errors.InvalidArgumentf(
			"max frame shift and skip must be non-negative, saw %d and %d", maxFrameShift, maxFrameSkip)
	}

	frameShift := s.rng.Intn(2*maxFrameShift + 1)
	frameSkipSize := s.rng.Intn(maxFrameSkip + 1)

	meta := model.SampleMeta{
		FrameSkipSize: frameSkipSize,
		FrameShift:    frameShift - maxFrameShift,
	}

	sampleLength := numFrames + 2*maxFrameShift + maxFrameSkip
	frameSample, err := s.SampleFrameIndices(sampleLength)
	if err != nil {
		return nil, nil, model.SampleMeta{}, err
	}
	audioSample := s.AudioGivenFrameSample(frameSample)

	// Centre the audio window on the unshifted frames.
	centre := int(math.Ceil(float64(maxFrameShift) / 2.0))
	trimAudio := int(float64(maxFrameShift) * s.audioStepsPerFrame)
	audioSampleLength := int(s.audioStepsPerFrame * float64(numFrames))
	audioSample = window(audioSample, trimAudio+centre, audioSampleLength)
	if len(audioSample) == 0 {
		return nil, nil, model.SampleMeta{}, errors.InvalidArgumentf(
			"audio window is empty for %d frames at %.3f audio steps per frame",
			numFrames, s.audioStepsPerFrame)
	}

	frameSample = window(frameSample, frameShift, numFrames+frameSkipSize)
	frameSample = s.dropRandom(frameSample, frameSkipSize)
	if len(frameSample) != numFrames {
		return nil, nil, model.SampleMeta{}, errors.InternalError("frame window length mismatch", nil).
			WithDetail("want", numFrames).
			WithDetail("got", len(frameSample))
	}

	meta.FrameSampleBounds = [2]int{frameSample[0], frameSample[len(frameSample)-1]}
	meta.AudioSampleBounds = [2]int{audioSample[0], audioSample[len(audioSample)-1]}

	return frameSample, audioSample, meta, nil
}

// dropRandom removes n distinct positions chosen uniformly, keeping order.
func (s *AVSamplable) dropRandom(indices []int, n int) []int {
	if n <= 0 {
		return indices
	}
	skip := make(map[int]bool, n)
	for _, p := range s.rng.Perm(len(indices))[:n] {
		skip[p] = true
	}
	kept := make([]int, 0, len(indices)-n)
	for i, v := range indices {
		if !skip[i] {
			kept = append(kept, v)
		}
	}
	return kept
}

// window returns up to length elements of xs starting at from.
func window(xs []int, from, length int) []int {
	if from > len(xs) {
		from = len(xs)
	}
	xs = xs[from:]
	if length < len(xs) {
		xs = xs[:length]
	}
	return xs
}
