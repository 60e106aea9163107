package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStoreError_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"invalid argument", InvalidArgumentf("bad %s", "thing"), ErrCodeInvalidArgument},
		{"not found", RowNotFound("t", "train_meta_aaaa"), ErrCodeNotFound},
		{"key space", KeySpaceExhausted(10000, 9999), ErrCodeKeySpaceExhausted},
		{"corrupted", CorruptedData("bad json", nil), ErrCodeCorruptedData},
		{"unavailable", Unavailable("down", nil), ErrCodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetCode(tt.err))
			assert.True(t, IsStoreError(tt.err))
		})
	}
}

func TestIsNotFound_Wrapped(t *testing.T) {
	err := fmt.Errorf("lookup video: %w", RowNotFound("t", "k"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(stderrors.New("plain")))
	assert.Equal(t, ErrCodeInternal, GetCode(stderrors.New("plain")))
}

func TestIsInvalidArgument(t *testing.T) {
	assert.True(t, IsInvalidArgument(KeySpaceExhausted(1, 0)))
	assert.True(t, IsInvalidArgument(InvalidArgumentf("x")))
	assert.False(t, IsInvalidArgument(Unavailable("x", nil)))
	assert.False(t, IsInvalidArgument(nil))
}

func TestFromGRPC(t *testing.T) {
	assert.Nil(t, FromGRPC("read", nil))
	assert.True(t, IsNotFound(FromGRPC("read", status.Error(codes.NotFound, "gone"))))
	assert.Equal(t, ErrCodeUnavailable, GetCode(FromGRPC("read", status.Error(codes.Unavailable, "x"))))
	assert.Equal(t, ErrCodeUnavailable, GetCode(FromGRPC("read", status.Error(codes.DeadlineExceeded, "x"))))
	assert.Equal(t, ErrCodeInternal, GetCode(FromGRPC("read", stderrors.New("boom"))))

	orig := CorruptedData("x", nil)
	assert.Same(t, orig, FromGRPC("read", orig))
}

func TestStoreError_Unwrap(t *testing.T) {
	cause := stderrors.New("root")
	err := InternalError("wrapped", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "wrapped: root", err.Error())
}
