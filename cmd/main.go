package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	cdav "github.com/ethanmarq/google-canvas-calender-api/internal/caldav"
	"github.com/ethanmarq/google-canvas-calender-api/internal/canvas"
	"github.com/ethanmarq/google-canvas-calender-api/internal/config"
	"github.com/ethanmarq/google-canvas-calender-api/internal/google"
	"github.com/ethanmarq/google-canvas-calender-api/internal/ics"
	"github.com/ethanmarq/google-canvas-calender-api/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "canvassync",
		Usage: "Mirror Canvas assignments and course events into a personal calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: config.DefaultFile, Usage: "Path to the TOML config file."},
		},
		Commands: []*cli.Command{
			authCommand(),
			syncCommand(),
			exportCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with Google and store the OAuth token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			tokenFile := os.Getenv("GOOGLE_TOKEN_FILE")
			if tokenFile == "" {
				tokenFile = "token.json"
			}
			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one synchronization cycle and exit.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log the plan without making changes."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(logLevel())

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			source := newCanvasClient(logger, cfg)

			var dest syncer.Destination
			switch cfg.Destination {
			case "caldav":
				dest, err = cdav.NewClient(c.Context, logger, cfg.CalDAV.Endpoint,
					cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.CalendarName)
			default:
				dest, err = google.NewClient(c.Context, logger, cfg.Google.ClientID,
					cfg.Google.ClientSecret, cfg.Google.TokenFile, cfg.Google.CalendarID)
			}
			if err != nil {
				return fmt.Errorf("failed to create destination client: %w", err)
			}

			var runnerOpts []syncer.RunnerOption
			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
				runnerOpts = append(runnerOpts, syncer.WithDryRun())
			}

			writer := syncer.NewWriter(logger, dest)
			runner := syncer.NewRunner(logger, source, dest, writer, runnerOpts...)

			summary, err := runner.Run(c.Context)
			if err != nil {
				return fmt.Errorf("sync run aborted: %w", err)
			}

			fmt.Printf("Sync complete: %d created, %d updated, %d deleted, %d skipped, %d failed\n",
				summary.Created, summary.Updated, summary.Deleted, summary.Skipped, summary.Failed)
			for _, f := range summary.Failures {
				fmt.Printf("  failed: %s %s: %v\n", f.Action, f.SourceID, f.Err)
			}

			if !summary.OK() {
				return cli.Exit("one or more operations failed", 1)
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Fetch the Canvas schedule and write it to an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "canvas.ics", Usage: "Output .ics file path."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(logLevel())

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			events, skipped, err := newCanvasClient(logger, cfg).Fetch(c.Context)
			if err != nil {
				return fmt.Errorf("failed to fetch canvas events: %w", err)
			}
			if skipped > 0 {
				logger.Warn("Some source items were skipped", "count", skipped)
			}

			f, err := os.Create(c.String("out"))
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()

			if err := ics.Export(f, events); err != nil {
				return err
			}
			logger.Info("Exported events.", "count", len(events), "file", c.String("out"))
			return nil
		},
	}
}

func newCanvasClient(logger *slog.Logger, cfg *config.Config) *canvas.Client {
	opts := []canvas.Option{canvas.WithWindow(cfg.Canvas.DaysAhead)}
	if len(cfg.Canvas.CourseIDs) > 0 {
		opts = append(opts, canvas.WithCourses(cfg.Canvas.CourseIDs))
	}
	if cfg.Canvas.IncludeCalendarEvents {
		opts = append(opts, canvas.WithCalendarEvents())
	}
	return canvas.NewClient(logger, cfg.Canvas.BaseURL, cfg.Canvas.Token, opts...)
}

func logLevel() string {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: logLevel}))
}
