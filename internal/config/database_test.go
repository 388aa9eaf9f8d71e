package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPostgresConnection_InvalidURL(t *testing.T) {
	t.Run("invalid_database_url", func(t *testing.T) {
		db, err := NewPostgresConnection(context.Background(), "invalid://malformed")
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("empty_database_url", func(t *testing.T) {
		db, err := NewPostgresConnection(context.Background(), "")
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}
