package sampler

import (
	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/model"
)

// AudioBlocksForIndices locates the audio index range [start, end) inside
// blocks of blockSize samples.
func AudioBlocksForIndices(start, end, blockSize int) (model.AudioBlockMeta, error) {
	if blockSize <= 0 {
		return model.AudioBlockMeta{}, errors.InvalidArgumentf("block size must be positive, saw %d", blockSize)
	}
	if start < 0 || end <= start {
		return model.AudioBlockMeta{}, errors.InvalidArgumentf("invalid audio range [%d, %d)", start, end)
	}

	minBlock := start / blockSize
	maxBlock := (end - 1) / blockSize
	queryStart := start - minBlock*blockSize

	return model.AudioBlockMeta{
		MinQueryBlock:  minBlock,
		MaxQueryBlock:  maxBlock,
		NumQueryBlocks: maxBlock - minBlock + 1,
		QueryStart:     queryStart,
		QueryEnd:       queryStart + (end - start),
	}, nil
}
