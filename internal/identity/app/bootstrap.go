package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wattleglen/authrelay/internal/identity/domain"
	"github.com/wattleglen/authrelay/internal/identity/service"
	"github.com/wattleglen/authrelay/internal/identity/store"
	"github.com/wattleglen/authrelay/pkg/cryptox"
	"github.com/wattleglen/authrelay/pkg/idx"
)

// seedBootstrapUser creates the configured bootstrap account with a verified
// email. It is a no-op when no bootstrap email is configured or the account
// already exists, so restarts are safe.
func (app *Application) seedBootstrapUser(ctx context.Context) error {
	if app.cfg.BootstrapEmail == "" {
		return nil
	}

	email := strings.TrimSpace(strings.ToLower(app.cfg.BootstrapEmail))

	_, err := app.db.Users().GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to look up bootstrap user: %w", err)
	}

	hash, err := cryptox.HashPassword(app.cfg.BootstrapPassword)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		Name:         app.cfg.BootstrapName,
		PasswordHash: hash,
		Permissions:  service.DefaultPermissions,
		VerifiedAt:   &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := app.db.Users().CreateUser(ctx, user); err != nil {
		// A concurrent replica may have created it first.
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("failed to create bootstrap user: %w", err)
	}

	app.logger.Info("bootstrap user seeded", "email", email)
	return nil
}
