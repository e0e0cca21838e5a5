package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/interfaces"
	"github.com/secmon-lab/iris/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// Auth holds CLI flags for the delegated OAuth configuration
type Auth struct {
	clientID     string
	clientSecret string
	tenantID     string
	callbackURL  string
	stateSecret  string
}

func (x *Auth) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "ms-client-id",
			Usage:       "Microsoft identity platform application (client) ID",
			Category:    "Auth",
			Sources:     cli.EnvVars("IRIS_MS_CLIENT_ID"),
			Destination: &x.clientID,
		},
		&cli.StringFlag{
			Name:        "ms-client-secret",
			Usage:       "Microsoft identity platform client secret",
			Category:    "Auth",
			Sources:     cli.EnvVars("IRIS_MS_CLIENT_SECRET"),
			Destination: &x.clientSecret,
		},
		&cli.StringFlag{
			Name:        "ms-tenant-id",
			Usage:       "Microsoft Entra tenant ID",
			Category:    "Auth",
			Sources:     cli.EnvVars("IRIS_MS_TENANT_ID"),
			Destination: &x.tenantID,
		},
		&cli.StringFlag{
			Name:        "callback-url",
			Usage:       "OAuth redirect URL, e.g. https://your-domain.com/api/auth/callback",
			Category:    "Auth",
			Sources:     cli.EnvVars("IRIS_CALLBACK_URL"),
			Destination: &x.callbackURL,
		},
		&cli.StringFlag{
			Name:        "state-secret",
			Usage:       "Secret key for signing OAuth state values",
			Category:    "Auth",
			Sources:     cli.EnvVars("IRIS_STATE_SECRET"),
			Destination: &x.stateSecret,
		},
	}
}

func (x Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client-id", x.clientID),
		slog.String("tenant-id", x.tenantID),
		slog.String("callback-url", x.callbackURL),
		slog.Int("client-secret.len", len(x.clientSecret)),
		slog.Int("state-secret.len", len(x.stateSecret)),
	)
}

// IsConfigured reports whether the OAuth flow can be enabled
func (x *Auth) IsConfigured() bool {
	return x.clientID != "" && x.clientSecret != "" && x.tenantID != ""
}

// Configure creates an AuthUseCase from the flags
func (x *Auth) Configure(repo interfaces.Repository) (*usecase.AuthUseCase, error) {
	if !x.IsConfigured() {
		return nil, goerr.New("ms-client-id, ms-client-secret and ms-tenant-id are required")
	}
	if x.callbackURL == "" {
		return nil, goerr.New("callback-url is required")
	}
	if x.stateSecret == "" {
		return nil, goerr.New("state-secret is required")
	}

	return usecase.NewAuthUseCase(repo,
		x.clientID, x.clientSecret, x.tenantID, x.callbackURL,
		[]byte(x.stateSecret),
	), nil
}
