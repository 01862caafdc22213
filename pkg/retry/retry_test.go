package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	base := errors.New("execution reverted")

	assert.True(t, IsTerminal(Terminal(base)))
	assert.False(t, IsTerminal(Transient(base)))

	// Unmarked errors retry.
	assert.False(t, IsTerminal(base))
	assert.False(t, IsTerminal(nil))

	// Cancellation never retries.
	assert.True(t, IsTerminal(context.Canceled))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := Terminal(errors.New("burn transaction reverted"))
	wrapped := fmt.Errorf("advance failed: %w", inner)

	assert.True(t, IsTerminal(wrapped))
	assert.True(t, errors.Is(wrapped, inner))
}

func TestTerminalPreservesMessageAndUnwrap(t *testing.T) {
	base := errors.New("no MessageSent log")
	marked := Terminal(base)

	require.Error(t, marked)
	assert.Equal(t, base.Error(), marked.Error())
	assert.ErrorIs(t, marked, base)

	assert.NoError(t, Terminal(nil))
	assert.NoError(t, Transient(nil))
}

func TestBackoff(t *testing.T) {
	base := 5 * time.Second

	assert.Equal(t, 5*time.Second, Backoff(base, 1))
	assert.Equal(t, 10*time.Second, Backoff(base, 2))
	assert.Equal(t, 20*time.Second, Backoff(base, 3))

	// Out-of-range attempts clamp to the base delay.
	assert.Equal(t, 5*time.Second, Backoff(base, 0))
	assert.Equal(t, 5*time.Second, Backoff(base, -3))
}
