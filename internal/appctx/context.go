// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/omas-app/omas-vendor-go/internal/api"
	"github.com/omas-app/omas-vendor-go/internal/auth"
	"github.com/omas-app/omas-vendor-go/internal/config"
	"github.com/omas-app/omas-vendor-go/internal/logger"
	"github.com/omas-app/omas-vendor-go/internal/tui"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Auth   *auth.Manager
	API    *api.Client
	Log    zerolog.Logger

	// ConfigPath and Overrides are kept so long-running commands can
	// reload configuration with the same precedence.
	ConfigPath string
	Overrides  config.FlagOverrides

	Flags GlobalFlags
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	ConfigPath string
	APIURL     string
	VendorID   string
	ClientID   string
	StateDir   string
	Verbose    int
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, flags GlobalFlags) *App {
	log := logger.New(flags.Verbose)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	authMgr := auth.NewManager(cfg, httpClient, log,
		auth.WithPresenter(tui.ShowDeviceCode))

	return &App{
		Config: cfg,
		Auth:   authMgr,
		API:    api.NewClient(cfg.APIURL, authMgr, log),
		Log:    log,
		Flags:  flags,
		Overrides: config.FlagOverrides{
			APIURL:   flags.APIURL,
			VendorID: flags.VendorID,
			ClientID: flags.ClientID,
			StateDir: flags.StateDir,
		},
	}
}

// WithApp returns a context carrying the app.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext returns the app stored in the context, or nil.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
