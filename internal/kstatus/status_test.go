package kstatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndIs(t *testing.T) {
	err := New(NotFound, "path %s", "/dev/tty")
	assert.Error(t, err)
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, AccessDenied))
}

func TestIsNilIsSuccess(t *testing.T) {
	assert.True(t, Is(nil, Success))
	assert.False(t, Is(nil, NotFound))
}
