package model

import (
	"encoding/json"

	"github.com/devrev/avcorr/internal/errors"
)

// ShardStatus is the write state of a shard
type ShardStatus string

const (
	ShardStatusStarted  ShardStatus = "started"
	ShardStatusFinished ShardStatus = "finished"
)

// Valid reports whether s is a known status.
func (s ShardStatus) Valid() bool {
	return s == ShardStatusStarted || s == ShardStatusFinished
}

// VideoShardMeta records the progress of one shard write. Only finished shards
// are eligible for sampling.
type VideoShardMeta struct {
	numVideos int
	status    ShardStatus
	shardID   int
	numShards int
}

// NewVideoShardMeta validates and builds a VideoShardMeta.
func NewVideoShardMeta(numVideos int, status ShardStatus, shardID, numShards int) (VideoShardMeta, error) {
	if numVideos < 0 {
		return VideoShardMeta{}, errors.InvalidArgumentf("num_videos must be non-negative, saw %d", numVideos)
	}
	if !status.Valid() {
		return VideoShardMeta{}, errors.InvalidArgumentf("status must be %q or %q, saw %q",
			ShardStatusStarted, ShardStatusFinished, status)
	}
	if shardID < 0 {
		return VideoShardMeta{}, errors.InvalidArgumentf("shard_id must be non-negative, saw %d", shardID)
	}
	if numShards <= 0 {
		return VideoShardMeta{}, errors.InvalidArgumentf("num_shards must be positive, saw %d", numShards)
	}
	return VideoShardMeta{
		numVideos: numVideos,
		status:    status,
		shardID:   shardID,
		numShards: numShards,
	}, nil
}

func (m VideoShardMeta) NumVideos() int      { return m.numVideos }
func (m VideoShardMeta) Status() ShardStatus { return m.status }
func (m VideoShardMeta) ShardID() int        { return m.shardID }
func (m VideoShardMeta) NumShards() int      { return m.numShards }

// Finished reports whether the shard completed writing.
func (m VideoShardMeta) Finished() bool {
	return m.status == ShardStatusFinished
}

// Finish returns a copy of m marked finished with the final video count.
func (m VideoShardMeta) Finish(numVideos int) (VideoShardMeta, error) {
	return NewVideoShardMeta(numVideos, ShardStatusFinished, m.shardID, m.numShards)
}

type shardMetaRecord struct {
	NumVideos int         `json:"num_videos"`
	ShardID   int         `json:"shard_id"`
	Status    ShardStatus `json:"status"`
	NumShards int         `json:"num_shards"`
}

// AsDict returns the stored field mapping.
func (m VideoShardMeta) AsDict() map[string]interface{} {
	return map[string]interface{}{
		"num_videos": m.numVideos,
		"shard_id":   m.shardID,
		"status":     string(m.status),
		"num_shards": m.numShards,
	}
}

// MarshalJSON implements json.Marshaler.
func (m VideoShardMeta) MarshalJSON() ([]byte, error) {
	return json.Marshal(shardMetaRecord{
		NumVideos: m.numVideos,
		ShardID:   m.shardID,
		Status:    m.status,
		NumShards: m.numShards,
	})
}

// UnmarshalJSON implements json.Unmarshaler and re-validates the record.
func (m *VideoShardMeta) UnmarshalJSON(data []byte) error {
	var rec shardMetaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	parsed, err := NewVideoShardMeta(rec.NumVideos, rec.Status, rec.ShardID, rec.NumShards)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseVideoShardMeta decodes a stored shard metadata cell.
func ParseVideoShardMeta(data []byte) (VideoShardMeta, error) {
	var m VideoShardMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return VideoShardMeta{}, errors.CorruptedData("malformed shard metadata", err)
	}
	return m, nil
}
