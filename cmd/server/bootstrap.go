package main

import (
	"context"

	"formhook/internal/platform/auth"
	"formhook/internal/platform/config"
	"formhook/internal/platform/models"
	"formhook/internal/platform/repositories"
)

// ensureBootstrapAdmin creates the configured admin when no users exist yet.
func ensureBootstrapAdmin(ctx context.Context, users *repositories.UserRepository, cfg config.AuthConfig) (bool, error) {
	if cfg.BootstrapAdmin.Username == "" || cfg.BootstrapAdmin.Password == "" {
		return false, nil
	}

	count, err := users.Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	hash, err := auth.HashPassword(cfg.BootstrapAdmin.Password, cfg.BcryptCost)
	if err != nil {
		return false, err
	}
	err = users.Create(ctx, &models.User{
		Username:     cfg.BootstrapAdmin.Username,
		PasswordHash: hash,
		IsRootAdmin:  true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
