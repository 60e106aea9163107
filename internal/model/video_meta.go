package model

import (
	"encoding/json"

	"github.com/devrev/avcorr/internal/errors"
)

// DefaultAudioBlockSize is the number of audio samples stored per audio row.
const DefaultAudioBlockSize = 1000

// VideoMeta describes one stored video. It is written once, when the video
// finishes writing, and never mutated.
//
// Invariants: VideoLength > 0, AudioLength > 0, AudioBlockSize > 0.
type VideoMeta struct {
	videoLength    int
	audioLength    int
	videoID        int
	shardID        int
	audioBlockSize int
}

// NewVideoMeta validates and builds a VideoMeta.
func NewVideoMeta(videoLength, audioLength, videoID, shardID, audioBlockSize int) (VideoMeta, error) {
	if videoLength <= 0 {
		return VideoMeta{}, errors.InvalidArgumentf("video_length must be positive, saw %d", videoLength)
	}
	if audioLength <= 0 {
		return VideoMeta{}, errors.InvalidArgumentf("audio_length must be positive, saw %d", audioLength)
	}
	if audioBlockSize <= 0 {
		return VideoMeta{}, errors.InvalidArgumentf("audio_block_size must be positive, saw %d", audioBlockSize)
	}
	return VideoMeta{
		videoLength:    videoLength,
		audioLength:    audioLength,
		videoID:        videoID,
		shardID:        shardID,
		audioBlockSize: audioBlockSize,
	}, nil
}

func (m VideoMeta) VideoLength() int    { return m.videoLength }
func (m VideoMeta) AudioLength() int    { return m.audioLength }
func (m VideoMeta) VideoID() int        { return m.videoID }
func (m VideoMeta) ShardID() int        { return m.shardID }
func (m VideoMeta) AudioBlockSize() int { return m.audioBlockSize }

// IsZero reports whether m was never built through NewVideoMeta.
func (m VideoMeta) IsZero() bool {
	return m.videoLength == 0
}

type videoMetaRecord struct {
	VideoLength    int `json:"video_length"`
	AudioLength    int `json:"audio_length"`
	VideoID        int `json:"video_id"`
	ShardID        int `json:"shard_id"`
	AudioBlockSize int `json:"audio_block_size"`
}

// AsDict returns the stored field mapping.
func (m VideoMeta) AsDict() map[string]int {
	return map[string]int{
		"video_length":     m.videoLength,
		"audio_length":     m.audioLength,
		"video_id":         m.videoID,
		"shard_id":         m.shardID,
		"audio_block_size": m.audioBlockSize,
	}
}

// MarshalJSON implements json.Marshaler.
func (m VideoMeta) MarshalJSON() ([]byte, error) {
	return json.Marshal(videoMetaRecord{
		VideoLength:    m.videoLength,
		AudioLength:    m.audioLength,
		VideoID:        m.videoID,
		ShardID:        m.shardID,
		AudioBlockSize: m.audioBlockSize,
	})
}

// UnmarshalJSON implements json.Unmarshaler and re-validates the record.
func (m *VideoMeta) UnmarshalJSON(data []byte) error {
	var rec videoMetaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	parsed, err := NewVideoMeta(rec.VideoLength, rec.AudioLength, rec.VideoID, rec.ShardID, rec.AudioBlockSize)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseVideoMeta decodes a stored video metadata cell.
func ParseVideoMeta(data []byte) (VideoMeta, error) {
	var m VideoMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return VideoMeta{}, errors.CorruptedData("malformed video metadata", err)
	}
	return m, nil
}
