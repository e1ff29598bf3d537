// Package app wires the workspace database, migrations, token service and
// engine together for the CLI entrypoints.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/token"
)

// Setup loads config, opens the workspace database, applies migrations and
// builds an engine. A missing or weak signing key fails here, before any
// request is served.
func Setup(workspace string) (*sql.DB, engine.Engine, *config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	tokens, err := token.NewService(cfg.Auth.Secret, cfg.SessionDuration())
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, nil, err
	}
	return conn, engine.New(conn, tokens), cfg, nil
}

// SeedUser creates an account with an explicit role. Registration over HTTP
// always yields PLAIN users; the first ROOT_ADMIN has to come from here.
func SeedUser(ctx context.Context, e engine.Engine, username, email, password string, role domain.Role) (domain.User, error) {
	if !role.Valid() {
		return domain.User{}, fmt.Errorf("invalid role %s", role)
	}
	u, err := e.Register(ctx, engine.RegisterOptions{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return domain.User{}, err
	}
	if role != domain.RolePlain {
		if err := e.ChangeRole(ctx, u.Username, role); err != nil {
			return domain.User{}, err
		}
		u.Role = role
	}
	return u, nil
}
