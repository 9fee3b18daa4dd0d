package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omas-app/omas-vendor-go/internal/config"
	"github.com/omas-app/omas-vendor-go/internal/orders"
	"github.com/omas-app/omas-vendor-go/internal/tui"
)

// NewServeCmd creates the serve command, the long-running vendor agent.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the vendor agent",
		Long: "Poll the fulfillment change feed, prompt for accept/decline on new orders, " +
			"and drive accepted orders through processing, delivery, and completion.",
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}
	log := app.Log

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Banner: confirms the credential path works before the loop starts.
	if info, err := app.API.GetInfo(ctx); err != nil {
		log.Warn().Err(err).Msg("info endpoint unavailable")
	} else {
		authStatus := "invalid"
		if info.User.Authenticated {
			authStatus = "authenticated"
		}
		log.Info().Str("auth", authStatus).Str("motd", info.Motd).Msg("connected")
	}

	cursor, err := orders.NewCursorStore(app.Config.StateDir)
	if err != nil {
		return err
	}
	defer cursor.Close()

	decider := orders.NewPromptDecider(tui.ConfirmOrder, app.Config.DecisionTimeout.Std())
	driver := orders.NewDriver(app.API, decider, log)
	poller := orders.NewPoller(app.API, cursor, app.Config.Parent(), app.Config.PollInterval.Std(), log)

	// Pick up config edits without a restart; only the decision timeout
	// is applied live, everything else needs a new process.
	go func() {
		err := config.Watch(ctx, app.ConfigPath, app.Overrides, func(c *config.Config) {
			decider.SetTimeout(c.DecisionTimeout.Std())
			log.Info().Msg("configuration reloaded")
		})
		if err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Msg("config watch stopped")
		}
	}()

	for f := range poller.Orders(ctx) {
		log.Info().Str("order", f.Name).Str("state", string(f.State)).Msg("order update received")
		if err := driver.Dispatch(ctx, f); err != nil {
			log.Error().Err(err).Msg("order transition failed")
		}
	}

	log.Info().Int("pipelines", driver.Active()).Msg("shutting down")
	if !driver.Wait(app.Config.ShutdownTimeout.Std()) {
		log.Warn().Msg("shutdown timeout reached with pipelines still running")
	}
	return nil
}
