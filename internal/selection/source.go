package selection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devrev/avcorr/internal/video"
)

// DefaultAudioFile is the raw uint8 audio track read from a frame directory.
const DefaultAudioFile = "audio.u8"

// VideoSource produces the frames and audio samples of one video.
type VideoSource interface {
	Name() string
	Load(ctx context.Context) (*video.Video, []byte, error)
}

// DirectorySource is a video stored as a directory of frame images plus a
// raw audio file of uint8 samples.
type DirectorySource struct {
	Dir       string
	AudioFile string
	Decoder   video.Decoder
	Options   video.LoadOptions
}

// NewDirectorySource decodes dir with the image sequence decoder.
func NewDirectorySource(dir string, opts video.LoadOptions) *DirectorySource {
	return &DirectorySource{
		Dir:       dir,
		AudioFile: DefaultAudioFile,
		Decoder:   video.ImageSequenceDecoder{},
		Options:   opts,
	}
}

func (d *DirectorySource) Name() string { return d.Dir }

// Load decodes the frames and reads the audio track.
func (d *DirectorySource) Load(ctx context.Context) (*video.Video, []byte, error) {
	frames, err := video.Load(ctx, d.Decoder, d.Dir, d.Options)
	if err != nil {
		return nil, nil, err
	}
	name := d.AudioFile
	if name == "" {
		name = DefaultAudioFile
	}
	audio, err := os.ReadFile(filepath.Join(d.Dir, name))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read audio of %s: %w", d.Dir, err)
	}
	return frames, audio, nil
}

// MemorySource is a video already held in memory.
type MemorySource struct {
	ID     string
	Frames *video.Video
	Audio  []byte
}

func (m *MemorySource) Name() string { return m.ID }

func (m *MemorySource) Load(context.Context) (*video.Video, []byte, error) {
	return m.Frames, m.Audio, nil
}
