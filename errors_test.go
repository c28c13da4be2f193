package warden_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/warden"
)

func TestPolicyDeniedError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := warden.DeniedError("Post", warden.OpRead)
		assert.Equal(t, "warden: policy denied read on Post", err.Error())

		err = warden.RejectedError("Post", warden.OpCreate, 2)
		assert.Equal(t, "warden: policy denied create on Post (2 rows rejected)", err.Error())
	})

	t.Run("Is", func(t *testing.T) {
		err := warden.DeniedError("Post", warden.OpDelete)
		assert.True(t, errors.Is(err, warden.ErrPolicyDenied))
	})

	t.Run("IsPolicyDenied", func(t *testing.T) {
		err := warden.RejectedError("Post", warden.OpUpdate, 1)
		assert.True(t, warden.IsPolicyDenied(err))

		// Wrapped error
		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, warden.IsPolicyDenied(wrapped))

		// Sentinel error
		assert.True(t, warden.IsPolicyDenied(warden.ErrPolicyDenied))

		// Non-matching error
		assert.False(t, warden.IsPolicyDenied(errors.New("other error")))
		assert.False(t, warden.IsPolicyDenied(nil))
	})
}

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := warden.NewNotFoundError("User")
		assert.Equal(t, "warden: User not found", err.Error())

		err = warden.NewNotFoundErrorWithID("User", 7)
		assert.Equal(t, "warden: User not found (id=7)", err.Error())
		assert.Equal(t, "User", err.Model())
		assert.Equal(t, 7, err.ID())
	})

	t.Run("Is", func(t *testing.T) {
		err := warden.NewNotFoundError("Post")
		assert.True(t, errors.Is(err, warden.ErrNotFound))
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := warden.NewNotFoundError("Comment")
		assert.True(t, warden.IsNotFound(err))

		// Wrapped error
		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, warden.IsNotFound(wrapped))

		// Sentinel error
		assert.True(t, warden.IsNotFound(warden.ErrNotFound))

		// Non-matching error
		assert.False(t, warden.IsNotFound(errors.New("other error")))
		assert.False(t, warden.IsNotFound(nil))
	})
}

func TestConfigError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := warden.NewConfigError("unknown model %q", "Ghost")
		assert.Equal(t, `warden: configuration: unknown model "Ghost"`, err.Error())
	})

	t.Run("Is", func(t *testing.T) {
		err := warden.NewConfigError("missing guard")
		assert.True(t, errors.Is(err, warden.ErrConfig))
	})

	t.Run("IsConfigError", func(t *testing.T) {
		err := warden.NewConfigError("bad path")
		assert.True(t, warden.IsConfigError(err))

		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, warden.IsConfigError(wrapped))

		assert.False(t, warden.IsConfigError(errors.New("other error")))
		assert.False(t, warden.IsConfigError(nil))

		// A config error is never a policy decision.
		assert.False(t, warden.IsPolicyDenied(err))
	})
}

func TestConstraintError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := warden.NewConstraintError("UNIQUE constraint failed", nil)
		assert.Equal(t, "warden: constraint failed: UNIQUE constraint failed", err.Error())
	})

	t.Run("Unwrap", func(t *testing.T) {
		underlying := errors.New("db error")
		err := warden.NewConstraintError("constraint violated", underlying)
		assert.True(t, errors.Is(err, underlying))
	})

	t.Run("IsConstraintError", func(t *testing.T) {
		err := warden.NewConstraintError("check failed", nil)
		assert.True(t, warden.IsConstraintError(err))

		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, warden.IsConstraintError(wrapped))

		assert.False(t, warden.IsConstraintError(errors.New("other error")))
		assert.False(t, warden.IsConstraintError(nil))
	})
}

func TestWrapperErrors(t *testing.T) {
	t.Run("QueryError", func(t *testing.T) {
		underlying := errors.New("connection reset")
		err := warden.NewQueryError("Post", "count", underlying)
		assert.Equal(t, "warden: querying Post (count): connection reset", err.Error())
		assert.True(t, errors.Is(err, underlying))
	})

	t.Run("MutationError", func(t *testing.T) {
		underlying := errors.New("syntax error")
		err := warden.NewMutationError("Post", "create", underlying)
		assert.Equal(t, "warden: create Post: syntax error", err.Error())
		assert.True(t, errors.Is(err, underlying))
	})

	t.Run("RollbackError", func(t *testing.T) {
		underlying := errors.New("tx closed")
		err := &warden.RollbackError{Err: underlying}
		assert.Equal(t, "warden: rollback failed: tx closed", err.Error())
		assert.True(t, errors.Is(err, underlying))
	})
}
