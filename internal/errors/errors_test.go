package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	err := NewIOError("write_result", "/tmp/out.txt", fs.ErrPermission)
	assert.Equal(t, "IO_ERROR [write_result]: file system operation failed (path: /tmp/out.txt) (caused by: permission denied)", err.Error())

	assert.Equal(t, "INVALID_ARGUMENT: bad", NewInvalidArgumentError("bad").Error())
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("loading: %w", NewModelLoadError("/m", "broken", nil))
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.NotErrorIs(t, err, ErrInference)

	io := NewIOError("read", "x", fs.ErrNotExist)
	assert.ErrorIs(t, io, fs.ErrNotExist)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(stderrors.New("plain")))
	assert.Equal(t, CodeModelNotLoaded, CodeOf(fmt.Errorf("wrapped: %w", NewModelNotLoadedError())))
}

func TestHintOf(t *testing.T) {
	inner := NewConfigError("load", "bad file", nil).WithHint("fix it")
	outer := &Error{Code: CodeModelLoad, Message: "load failed", Cause: inner}
	assert.Equal(t, "fix it", HintOf(fmt.Errorf("x: %w", outer)))
	assert.Empty(t, HintOf(stderrors.New("plain")))

	res := NewModelResolutionError("zai-org/GLM-OCR", []string{"/a", "/b"})
	assert.Contains(t, res.Error(), "/a, /b")
	assert.NotEmpty(t, HintOf(res))
}

func TestWithHintCopies(t *testing.T) {
	base := NewInvalidArgumentError("x")
	hinted := base.WithHint("try y")
	assert.Empty(t, base.Hint)
	assert.Equal(t, "try y", hinted.Hint)
}
