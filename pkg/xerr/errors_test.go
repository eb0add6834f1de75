package xerr

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeError_IsByCode(t *testing.T) {
	err := At(CorruptFormat, "a.dtf", 42, "bad crc")

	assert.True(t, errors.Is(err, ErrCorruptFormat))
	assert.False(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("cat: %w", err)
	assert.True(t, errors.Is(wrapped, ErrCorruptFormat))
	assert.Equal(t, CorruptFormat, CodeOf(wrapped))
}

func TestCodeError_Message(t *testing.T) {
	t.Run("with_offset", func(t *testing.T) {
		err := At(CorruptFormat, "a.dtf", 42, "bad crc")
		assert.Equal(t, "dtf: corrupt format: bad crc (path=a.dtf offset=42)", err.Error())
	})

	t.Run("no_offset", func(t *testing.T) {
		err := Wrap(NotFound, "b.dtf", os.ErrNotExist)
		assert.Contains(t, err.Error(), "not found (path=b.dtf)")
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func TestWithPath(t *testing.T) {
	err := New(EmptyInput, "no records")
	got := WithPath(err, "c.dtf")
	assert.Contains(t, got.Error(), "path=c.dtf")

	// 已有路径的不覆盖
	again := WithPath(got, "d.dtf")
	assert.Contains(t, again.Error(), "path=c.dtf")

	plain := errors.New("x")
	assert.Equal(t, plain, WithPath(plain, "e.dtf"))
	assert.Equal(t, Code(0), CodeOf(plain))
}
