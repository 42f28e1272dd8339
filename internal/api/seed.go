package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"billed/internal/auth"
	"billed/internal/config"
	"billed/internal/core"
	"billed/internal/storage"
)

// SeedUsers creates the configured users. Existing accounts are left untouched.
func SeedUsers(ctx context.Context, repo storage.Repository, users []config.SeedUser, logger *slog.Logger) error {
	created := 0
	for _, su := range users {
		typ := core.UserType(su.Type)
		if !typ.Valid() {
			return fmt.Errorf("seed user %s: unknown type %q", su.Email, su.Type)
		}
		hash, err := auth.HashPassword(su.Password)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", su.Email, err)
		}
		err = repo.CreateUser(ctx, storage.User{
			User:         core.User{Email: su.Email, Type: typ},
			PasswordHash: hash,
		})
		if errors.Is(err, storage.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", su.Email, err)
		}
		created++
	}
	if logger != nil {
		logger.InfoContext(ctx, "Users seeded", "configured", len(users), "created", created)
	}
	return nil
}
