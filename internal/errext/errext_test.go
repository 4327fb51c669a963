package errext

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jassi-singh/forgeload/internal/errext/exitcodes"
)

func TestWithExitCodeIfNone(t *testing.T) {
	assert.Nil(t, WithExitCodeIfNone(nil, exitcodes.InvalidConfig))

	base := errors.New("endpoints missing")
	err := WithExitCodeIfNone(base, exitcodes.InvalidConfig)
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, exitcodes.InvalidConfig, ExitCodeOf(err, exitcodes.Fatal))

	// An existing code is kept, even through wrapping.
	wrapped := fmt.Errorf("loading: %w", err)
	again := WithExitCodeIfNone(wrapped, exitcodes.ThresholdsHaveFailed)
	assert.Equal(t, exitcodes.InvalidConfig, ExitCodeOf(again, exitcodes.Fatal))
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, exitcodes.Success, ExitCodeOf(nil, exitcodes.Fatal))
	assert.Equal(t, exitcodes.Fatal, ExitCodeOf(errors.New("boom"), exitcodes.Fatal))
}

func TestWithHint(t *testing.T) {
	assert.Nil(t, WithHint(nil, "ignored"))

	err := WithHint(errors.New("bad stage"), "use duration:target")
	var h HasHint
	require.True(t, errors.As(err, &h))
	assert.Equal(t, "use duration:target", h.Hint())

	outer := WithHint(err, "see --help")
	require.True(t, errors.As(outer, &h))
	assert.Equal(t, "see --help (use duration:target)", h.Hint())
	assert.Equal(t, "bad stage", outer.Error())
}
