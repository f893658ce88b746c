package streamerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordinationErrorUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := NewCoordinationError("get_offset", base)

	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "get_offset")
}

func TestFirstErrorKeepsEarliest(t *testing.T) {
	var fe FirstError
	fe.Record(nil)
	assert.Nil(t, fe.Err())

	first := errors.New("first")
	second := errors.New("second")
	fe.Record(first)
	fe.Record(second)

	assert.Equal(t, first, fe.Err())
}

func TestListenerCancelErrorMessage(t *testing.T) {
	err := NewListenerCancelError("orders:0", errors.New("boom"))
	assert.Contains(t, err.Error(), "orders:0")
	assert.Contains(t, err.Error(), "boom")
}
