package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryClassification(t *testing.T) {
	assert.True(t, IsRetryable(Transient("HTTP 500", nil)))
	assert.False(t, IsRetryable(Permanent("HTTP 400", nil)))
	assert.False(t, IsRetryable(Timeout("deadline")))

	// Unclassified errors are assumed transport-level
	assert.True(t, IsRetryable(stderrors.New("connection reset")))
}

func TestTimeoutDetection(t *testing.T) {
	assert.True(t, IsTimeout(Timeout("request timed out")))
	assert.False(t, IsTimeout(Transient("x", nil)))

	wrapped := fmt.Errorf("submit: %w", Timeout("request timed out"))
	assert.True(t, IsTimeout(wrapped))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := Transient("explorer transport error", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "dial tcp")
}
