package keys

import (
	"fmt"

	"github.com/devrev/avcorr/internal/errors"
)

// Table prefixes accepted by raw audio/video selections.
const (
	PrefixTrain = "train"
	PrefixEval  = "eval"
	PrefixTest  = "test"
)

// Family tags embedded in row keys.
const (
	tagMeta  = "meta"
	tagAudio = "audio"
	tagFrame = "frame"
)

// ValidatePrefix checks that prefix is one of train, eval or test.
func ValidatePrefix(prefix string) error {
	switch prefix {
	case PrefixTrain, PrefixEval, PrefixTest:
		return nil
	}
	return errors.InvalidArgumentf("unexpected table prefix %q, expected one of %q, %q, %q",
		prefix, PrefixTrain, PrefixEval, PrefixTest)
}

func checkID(name string, id int) error {
	if id < 0 {
		return errors.InvalidArgumentf("%s must be non-negative, saw %d", name, id)
	}
	return nil
}

// ShardMetaKey is the key of one shard's metadata row: <prefix>_meta_<shard>.
func (e *Encoder) ShardMetaKey(prefix string, shardID int) (string, error) {
	suffix, err := e.Lex(shardID)
	if err != nil {
		return "", err
	}
	return shardMetaFamily(prefix) + suffix, nil
}

// ShardMetaFirstKey is the smallest possible shard metadata key for prefix.
func (e *Encoder) ShardMetaFirstKey(prefix string) string {
	suffix, _ := e.Lex(0)
	return shardMetaFamily(prefix) + suffix
}

// ShardMetaLastKey is the exclusive end of a scan over shards [0, numShards).
// Counts beyond the key space bound the scan at the end of the family.
func (e *Encoder) ShardMetaLastKey(prefix string, numShards int) string {
	return e.familyBound(shardMetaFamily(prefix), numShards)
}

// ShardMetaRange bounds a scan over every shard metadata row of prefix.
func (e *Encoder) ShardMetaRange(prefix string) (start, end string) {
	family := shardMetaFamily(prefix)
	return e.ShardMetaFirstKey(prefix), family + alphabetEnd
}

// VideoMetaKey is the key of one video's metadata row: <prefix>_<shard>_meta_<video>.
func (e *Encoder) VideoMetaKey(prefix string, shardID, videoID int) (string, error) {
	if err := checkID("shard id", shardID); err != nil {
		return "", err
	}
	suffix, err := e.Lex(videoID)
	if err != nil {
		return "", err
	}
	return videoMetaFamily(prefix, shardID) + suffix, nil
}

// VideoMetaFirstKey is the smallest possible video metadata key of a shard.
func (e *Encoder) VideoMetaFirstKey(prefix string, shardID int) string {
	suffix, _ := e.Lex(0)
	return videoMetaFamily(prefix, shardID) + suffix
}

// VideoMetaLastKey is the exclusive end of a scan over videos [0, numVideos).
func (e *Encoder) VideoMetaLastKey(prefix string, shardID, numVideos int) string {
	return e.familyBound(videoMetaFamily(prefix, shardID), numVideos)
}

// VideoMetaRange bounds a scan over every video metadata row of a shard.
func (e *Encoder) VideoMetaRange(prefix string, shardID int) (start, end string) {
	return e.VideoMetaFirstKey(prefix, shardID), videoMetaFamily(prefix, shardID) + alphabetEnd
}

// AudioKey is the key of one audio block: <prefix>_<shard>_<video>_audio_<block>.
func (e *Encoder) AudioKey(prefix string, shardID, videoID, blockID int) (string, error) {
	return e.mediaKey(prefix, tagAudio, shardID, videoID, blockID)
}

// AudioFirstKey is the first audio block key of a video.
func (e *Encoder) AudioFirstKey(prefix string, shardID, videoID int) string {
	suffix, _ := e.Lex(0)
	return mediaFamily(prefix, tagAudio, shardID, videoID) + suffix
}

// AudioLastKey is the exclusive end of a scan over blocks [0, numBlocks).
func (e *Encoder) AudioLastKey(prefix string, shardID, videoID, numBlocks int) string {
	return e.familyBound(mediaFamily(prefix, tagAudio, shardID, videoID), numBlocks)
}

// FrameKey is the key of one frame: <prefix>_<shard>_<video>_frame_<frame>.
func (e *Encoder) FrameKey(prefix string, shardID, videoID, frameID int) (string, error) {
	return e.mediaKey(prefix, tagFrame, shardID, videoID, frameID)
}

// FrameFirstKey is the first frame key of a video.
func (e *Encoder) FrameFirstKey(prefix string, shardID, videoID int) string {
	suffix, _ := e.Lex(0)
	return mediaFamily(prefix, tagFrame, shardID, videoID) + suffix
}

// FrameLastKey is the exclusive end of a scan over frames [0, numFrames).
func (e *Encoder) FrameLastKey(prefix string, shardID, videoID, numFrames int) string {
	return e.familyBound(mediaFamily(prefix, tagFrame, shardID, videoID), numFrames)
}

func (e *Encoder) mediaKey(prefix, tag string, shardID, videoID, index int) (string, error) {
	if err := checkID("shard id", shardID); err != nil {
		return "", err
	}
	if err := checkID("video id", videoID); err != nil {
		return "", err
	}
	suffix, err := e.Lex(index)
	if err != nil {
		return "", err
	}
	return mediaFamily(prefix, tag, shardID, videoID) + suffix, nil
}

func (e *Encoder) familyBound(family string, n int) string {
	if n < 0 {
		n = 0
	}
	suffix, err := e.Lex(n)
	if err != nil {
		return family + alphabetEnd
	}
	return family + suffix
}

func shardMetaFamily(prefix string) string {
	return fmt.Sprintf("%s_%s_", prefix, tagMeta)
}

func videoMetaFamily(prefix string, shardID int) string {
	return fmt.Sprintf("%s_%d_%s_", prefix, shardID, tagMeta)
}

func mediaFamily(prefix, tag string, shardID, videoID int) string {
	return fmt.Sprintf("%s_%d_%d_%s_", prefix, shardID, videoID, tag)
}
