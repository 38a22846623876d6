// Package cli provides the roadmapctl command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-roadmap/internal/config"
	"github.com/noah-isme/gema-roadmap/internal/database"
	"github.com/noah-isme/gema-roadmap/internal/repository"
	"github.com/noah-isme/gema-roadmap/internal/service"
	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

// Version is set at build time.
var Version = "0.1.0"

// app holds what every command needs once the persistent pre-run has connected.
type app struct {
	verbose   bool
	jsonOut   bool
	token     string
	profile   string
	statePath string

	cfg    config.Config
	logger zerolog.Logger
	db     *gorm.DB
	svc    service.RoadmapService
	out    io.Writer
}

// NewRootCommand builds the roadmapctl command tree.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "roadmapctl",
		Short: "Drive the GEMA career roadmap from a terminal",
		Long: `roadmapctl generates, selects and tracks a career roadmap against the
GEMA career API. State is kept in a local SQLite file so consecutive
commands continue where the previous one stopped.

The bearer token comes from --token or GEMA_API_TOKEN.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.connect,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON instead of text")
	root.PersistentFlags().StringVar(&a.token, "token", "", "career API bearer token (default $GEMA_API_TOKEN)")
	root.PersistentFlags().StringVar(&a.profile, "profile", "default", "local state profile")
	root.PersistentFlags().StringVar(&a.statePath, "state", "", "SQLite state file (default $GEMA_SQLITE_PATH)")

	root.AddCommand(
		a.generateCmd(),
		a.retryCmd(),
		a.showCmd(),
		a.selectCmd(),
		a.regenerateCmd(),
		a.completeCmd(),
		a.progressCmd(),
		a.viewCmd(),
		a.resetCmd(),
	)

	return root, a
}

// Execute runs the command tree. Post-run hooks are skipped when a command
// fails, so the session is closed here as well.
func Execute(ctx context.Context) error {
	root, a := newRootCommand()
	defer a.close()
	return root.ExecuteContext(ctx)
}

func (a *app) connect(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "version" {
		return nil
	}
	a.out = cmd.OutOrStdout()

	level := zerolog.InfoLevel
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	token := strings.TrimSpace(a.token)
	if token == "" {
		token = cfg.APIToken
	}
	if token == "" {
		return fmt.Errorf("api token required: pass --token or set GEMA_API_TOKEN")
	}

	path := a.statePath
	if path == "" {
		path = cfg.SQLitePath
	}
	db, err := database.ConnectSQLite(path)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	if err := database.MigrateRoadmapState(db); err != nil {
		return err
	}
	a.db = db

	client, err := careerapi.New(careerapi.Config{
		BaseURL: cfg.CareerAPIBaseURL,
		Timeout: cfg.CareerAPITimeout,
		Tokens:  careerapi.StaticToken(token),
		Logger:  a.logger,
	})
	if err != nil {
		return fmt.Errorf("create career api client: %w", err)
	}

	a.svc = service.NewRoadmapService(service.RoadmapServiceDeps{
		API:        client,
		Repository: repository.NewGormRoadmapStateRepository(db),
		Details:    service.NewCourseDetailService(cfg.CourseCacheTTL, a.logger),
		Validator:  validator.New(validator.WithRequiredStructEnabled()),
		Sanitizer:  bluemonday.StrictPolicy(),
		Logger:     a.logger,
	}, service.RoadmapServiceConfig{
		SessionKey: "cli:" + a.profile,
		Poller: service.PollerConfig{
			Interval:           cfg.PollInterval,
			Timeout:            cfg.PollTimeout,
			ResetBudgetOnRetry: cfg.ResetBudgetOnRetry,
		},
		RefreshDelay:      cfg.RefreshDelay,
		EvidenceMaxSizeMB: cfg.EvidenceMaxSizeMB,
	})

	if err := a.svc.Restore(cmd.Context()); err != nil {
		a.logger.Warn().Err(err).Msg("could not restore local roadmap state")
	}
	return nil
}

func (a *app) close() {
	if a.svc != nil {
		a.svc.Close()
		a.svc = nil
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close state database: %v\n", err)
			}
		}
		a.db = nil
	}
}

// reconcile runs the refresh a long-lived session would schedule after a mutation.
func (a *app) reconcile(ctx context.Context) service.RoadmapSnapshot {
	snap, err := a.svc.Refresh(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("refresh after update failed, showing local state")
		return a.svc.Snapshot()
	}
	return snap
}
