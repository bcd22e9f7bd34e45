package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypePredicates(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", NewValidation("bad input"), IsValidation},
		{"configuration", NewConfiguration("missing key"), IsConfiguration},
		{"persistence", NewPersistence("write failed", errors.New("io")), IsPersistence},
		{"not found", NewNotFound("no such event"), IsNotFound},
		{"internal", NewInternal("unexpected", errors.New("oops")), IsInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.check(tc.err))
			assert.False(t, tc.check(errors.New("plain")))
			assert.False(t, tc.check(nil))
		})
	}
}

func TestWrap(t *testing.T) {
	t.Run("preserves the type of an app error", func(t *testing.T) {
		wrapped := Wrap(NewNotFound("event missing"), "projection fold")
		assert.True(t, IsNotFound(wrapped))
		assert.Contains(t, wrapped.Error(), "projection fold")
		assert.Contains(t, wrapped.Error(), "event missing")
	})

	t.Run("plain errors become internal", func(t *testing.T) {
		wrapped := Wrap(errors.New("io timeout"), "save failed")
		assert.True(t, IsInternal(wrapped))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, "context"))
	})

	t.Run("type survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", NewPersistence("inner", nil))
		assert.True(t, IsPersistence(err))
	})
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewPersistence("save failed", cause)
	require.ErrorIs(t, err, cause)
}
