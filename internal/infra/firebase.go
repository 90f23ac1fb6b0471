package infra

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// FirebaseClients holds the Firebase SDK clients the API needs. Database is
// nil when no database URL is configured.
type FirebaseClients struct {
	Auth     *auth.Client
	Database *db.Client
}

// NewFirebase initializes the Firebase app from a service account file, or
// from application default credentials when the path is empty.
func NewFirebase(ctx context.Context, cfg *Config, logger *slog.Logger) (*FirebaseClients, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentials))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.FirebaseProjectID,
		DatabaseURL: cfg.FirebaseDatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}

	clients := &FirebaseClients{Auth: authClient}
	if cfg.FirebaseDatabaseURL != "" {
		clients.Database, err = app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firebase database: %w", err)
		}
	}

	logger.Info("firebase initialized",
		"project_id", cfg.FirebaseProjectID,
		"database", cfg.FirebaseDatabaseURL != "",
	)
	return clients, nil
}
