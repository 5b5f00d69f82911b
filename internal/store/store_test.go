package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestWrapFindErr(t *testing.T) {
	t.Run("no documents maps to not found", func(t *testing.T) {
		err := wrapFindErr("finding chat", mongo.ErrNoDocuments)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("other errors are wrapped with context", func(t *testing.T) {
		cause := errors.New("network down")
		err := wrapFindErr("finding chat", cause)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "finding chat")
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}
