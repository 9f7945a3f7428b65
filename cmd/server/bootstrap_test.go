package main

import (
	"context"
	"testing"

	"formhook/internal/platform/auth"
	"formhook/internal/platform/config"
	"formhook/internal/platform/database"
	"formhook/internal/platform/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureBootstrapAdmin(t *testing.T) {
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	defer db.Close()

	users := repositories.NewUserRepository(db)
	cfg := config.AuthConfig{
		BcryptCost: 4,
		BootstrapAdmin: config.BootstrapAdmin{
			Username: "admin",
			Password: "correct horse",
		},
	}
	ctx := context.Background()

	created, err := ensureBootstrapAdmin(ctx, users, cfg)
	require.NoError(t, err)
	assert.True(t, created)

	admin, err := users.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.True(t, admin.IsRootAdmin)
	assert.True(t, auth.CheckPassword(admin.PasswordHash, "correct horse"))

	created, err = ensureBootstrapAdmin(ctx, users, cfg)
	require.NoError(t, err)
	assert.False(t, created, "second run must not create another admin")

	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnsureBootstrapAdmin_NotConfigured(t *testing.T) {
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	defer db.Close()

	created, err := ensureBootstrapAdmin(context.Background(), repositories.NewUserRepository(db), config.AuthConfig{BcryptCost: 4})
	require.NoError(t, err)
	assert.False(t, created)
}
