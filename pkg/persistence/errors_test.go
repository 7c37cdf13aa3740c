package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/courier/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		err := persistence.NewScheduledMessageError("MarkSent", 12, persistence.ErrScheduledMessageNotFound)

		assert.True(t, persistence.IsScheduledMessageNotFound(err))
		assert.False(t, persistence.IsChatMessageNotFound(err))
		assert.True(t, errors.Is(err, persistence.ErrScheduledMessageNotFound))
	})

	t.Run("scheduled message error contains context", func(t *testing.T) {
		err := persistence.NewScheduledMessageError("MarkFailed", 99, errors.New("deadlock detected"))

		assert.Contains(t, err.Error(), "MarkFailed")
		assert.Contains(t, err.Error(), "99")
		assert.Contains(t, err.Error(), "deadlock detected")
	})
}
