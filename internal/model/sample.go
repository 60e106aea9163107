package model

import (
	"encoding/json"
	"strconv"

	"github.com/devrev/avcorr/internal/errors"
)

// SampleMeta records how one frame/audio window pair was drawn.
type SampleMeta struct {
	FrameSkipSize     int    `json:"frame_skip_size"`
	FrameShift        int    `json:"frame_shift"`
	FrameSampleBounds [2]int `json:"frame_sample_bounds"`
	AudioSampleBounds [2]int `json:"audio_sample_bounds"`
}

// AudioBlockMeta locates an audio index window inside a run of audio blocks.
// QueryStart and QueryEnd are offsets into the concatenation of blocks
// [MinQueryBlock, MaxQueryBlock].
type AudioBlockMeta struct {
	MinQueryBlock  int `json:"min_query_block"`
	MaxQueryBlock  int `json:"max_query_block"`
	NumQueryBlocks int `json:"num_query_blocks"`
	QueryStart     int `json:"query_start"`
	QueryEnd       int `json:"query_end"`
}

// Labels are the binary targets of a correspondence example.
type Labels struct {
	SameVideo int `json:"same_video"`
	Overlap   int `json:"overlap"`
}

// Validate checks that both labels are 0 or 1.
func (l Labels) Validate() error {
	if l.SameVideo != 0 && l.SameVideo != 1 {
		return errors.InvalidArgumentf("label same_video must be 0 or 1, saw %d", l.SameVideo)
	}
	if l.Overlap != 0 && l.Overlap != 1 {
		return errors.InvalidArgumentf("label overlap must be 0 or 1, saw %d", l.Overlap)
	}
	return nil
}

// CorrespondenceMeta holds the provenance of a correspondence example. All
// seven fields are required.
type CorrespondenceMeta struct {
	VideoSource     VideoMeta
	AudioSource     VideoMeta
	VideoSampleMeta *SampleMeta
	AudioSampleMeta *SampleMeta
	AudioKeys       []string
	FrameKeys       []string
	AudioBlockMeta  *AudioBlockMeta
}

// Validate reports the first missing field.
func (m CorrespondenceMeta) Validate() error {
	switch {
	case m.VideoSource.IsZero():
		return errors.InvalidArgumentf("meta should contain key video_source")
	case m.AudioSource.IsZero():
		return errors.InvalidArgumentf("meta should contain key audio_source")
	case m.VideoSampleMeta == nil:
		return errors.InvalidArgumentf("meta should contain key video_sample_meta")
	case m.AudioSampleMeta == nil:
		return errors.InvalidArgumentf("meta should contain key audio_sample_meta")
	case len(m.AudioKeys) == 0:
		return errors.InvalidArgumentf("meta should contain key audio_keys")
	case len(m.FrameKeys) == 0:
		return errors.InvalidArgumentf("meta should contain key frame_keys")
	case m.AudioBlockMeta == nil:
		return errors.InvalidArgumentf("meta should contain key audio_block_meta")
	}
	return nil
}

// AVCorrespondenceSample is one labelled (video window, audio window) pair.
// Key-only samples carry no video or audio payload.
type AVCorrespondenceSample struct {
	video  [][]byte
	audio  []byte
	labels Labels
	meta   CorrespondenceMeta
}

// NewAVCorrespondenceSample validates labels and meta and builds a sample.
func NewAVCorrespondenceSample(video [][]byte, audio []byte, labels Labels, meta CorrespondenceMeta) (*AVCorrespondenceSample, error) {
	if err := labels.Validate(); err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &AVCorrespondenceSample{
		video:  video,
		audio:  audio,
		labels: labels,
		meta:   meta,
	}, nil
}

// WithData returns a copy of s carrying the fetched frame and audio payloads.
func (s *AVCorrespondenceSample) WithData(video [][]byte, audio []byte) *AVCorrespondenceSample {
	return &AVCorrespondenceSample{
		video:  video,
		audio:  audio,
		labels: s.labels,
		meta:   s.meta,
	}
}

func (s *AVCorrespondenceSample) Video() [][]byte          { return s.video }
func (s *AVCorrespondenceSample) Audio() []byte            { return s.audio }
func (s *AVCorrespondenceSample) Labels() Labels           { return s.labels }
func (s *AVCorrespondenceSample) Meta() CorrespondenceMeta { return s.meta }

// KeysOnly reports whether the payloads were never fetched.
func (s *AVCorrespondenceSample) KeysOnly() bool {
	return s.video == nil && s.audio == nil
}

// keyDump is the cross-process representation of a sample.
type keyDump struct {
	AudioKeys         []string `json:"audioKeys"`
	FrameKeys         []string `json:"frameKeys"`
	AudioSampleBounds [2]int   `json:"audioSampleBounds"`
	Labels            Labels   `json:"labels"`
}

// Serialize emits {audioKeys, frameKeys, audioSampleBounds, labels} as JSON.
// audioSampleBounds are the query offsets into the concatenated audio blocks.
func (s *AVCorrespondenceSample) Serialize() (string, error) {
	abm := s.meta.AudioBlockMeta
	data, err := json.Marshal(keyDump{
		AudioKeys:         s.meta.AudioKeys,
		FrameKeys:         s.meta.FrameKeys,
		AudioSampleBounds: [2]int{abm.QueryStart, abm.QueryEnd},
		Labels:            s.labels,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeserializeKeys parses the output of Serialize.
func DeserializeKeys(data []byte) (audioKeys, frameKeys []string, audioSampleBounds [2]int, labels Labels, err error) {
	var d keyDump
	if err = json.Unmarshal(data, &d); err != nil {
		return nil, nil, [2]int{}, Labels{}, errors.CorruptedData("malformed serialized sample", err)
	}
	if err = d.Labels.Validate(); err != nil {
		return nil, nil, [2]int{}, Labels{}, err
	}
	return d.AudioKeys, d.FrameKeys, d.AudioSampleBounds, d.Labels, nil
}

// uint8List marshals bytes as a JSON array of integers instead of base64.
type uint8List []byte

func (b uint8List) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	out := make([]byte, 0, 4*len(b)+2)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

type sampleRecord struct {
	Video  []uint8List `json:"video"`
	Audio  uint8List   `json:"audio"`
	Labels Labels      `json:"labels"`
	Meta   metaRecord  `json:"meta"`
}

type metaRecord struct {
	VideoSource     VideoMeta       `json:"video_source"`
	AudioSource     VideoMeta       `json:"audio_source"`
	VideoSampleMeta *SampleMeta     `json:"video_sample_meta"`
	AudioSampleMeta *SampleMeta     `json:"audio_sample_meta"`
	AudioKeys       []string        `json:"audio_keys"`
	FrameKeys       []string        `json:"frame_keys"`
	AudioBlockMeta  *AudioBlockMeta `json:"audio_block_meta"`
}

// MarshalJSON emits the full sample with pixel and audio values as integers.
func (s *AVCorrespondenceSample) MarshalJSON() ([]byte, error) {
	video := make([]uint8List, len(s.video))
	for i, f := range s.video {
		video[i] = f
	}
	return json.Marshal(sampleRecord{
		Video:  video,
		Audio:  s.audio,
		Labels: s.labels,
		Meta: metaRecord{
			VideoSource:     s.meta.VideoSource,
			AudioSource:     s.meta.AudioSource,
			VideoSampleMeta: s.meta.VideoSampleMeta,
			AudioSampleMeta: s.meta.AudioSampleMeta,
			AudioKeys:       s.meta.AudioKeys,
			FrameKeys:       s.meta.FrameKeys,
			AudioBlockMeta:  s.meta.AudioBlockMeta,
		},
	})
}

// ExampleSet is one draw of the correspondence sampler.
// NegativeDifferent is nil unless its emission was requested.
type ExampleSet struct {
	PositiveSame      *AVCorrespondenceSample
	NegativeSame      *AVCorrespondenceSample
	NegativeDifferent *AVCorrespondenceSample
}

// Examples returns the emitted examples keyed by class name.
func (e ExampleSet) Examples() map[string]*AVCorrespondenceSample {
	out := map[string]*AVCorrespondenceSample{
		"positive_same": e.PositiveSame,
		"negative_same": e.NegativeSame,
	}
	if e.NegativeDifferent != nil {
		out["negative_different"] = e.NegativeDifferent
	}
	return out
}

// MarshalJSON keys the emitted samples by class. Key-only samples are
// embedded in their serialized form.
func (e ExampleSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, 3)
	for class, sample := range e.Examples() {
		if sample == nil {
			continue
		}
		if sample.KeysOnly() {
			s, err := sample.Serialize()
			if err != nil {
				return nil, err
			}
			out[class] = json.RawMessage(s)
			continue
		}
		data, err := sample.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out[class] = data
	}
	return json.Marshal(out)
}
