package main

import (
	"context"
	"strings"
	"time"

	"github.com/a2council/a2councilbot/internal/config"
	"github.com/a2council/a2councilbot/internal/logging"
	"github.com/a2council/a2councilbot/internal/minutes"
	"github.com/a2council/a2councilbot/internal/monitoring"
	"github.com/a2council/a2councilbot/internal/publish"
	"github.com/a2council/a2councilbot/internal/state"
	"github.com/a2council/a2councilbot/internal/worker"
)

const version = "1.0.0"

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("councilbot")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Councilbot (meeting vote announcement thread publisher)")

	// === Minutes source selection ===
	// Exactly one of: live Legistar poll, snapshot-file replay, git-history replay.
	eventID := config.GetEnv("EVENT_ID", "")
	filePattern := config.GetEnv("EVENT_FILE_PATTERN", "")
	gitFile := config.GetEnv("EVENT_GIT_FILE", "")

	selected := 0
	for _, v := range []string{eventID, filePattern, gitFile} {
		if v != "" {
			selected++
		}
	}
	if selected != 1 {
		logger.Fatal("Exactly one of EVENT_ID, EVENT_FILE_PATTERN, EVENT_GIT_FILE must be set")
	}

	var source minutes.Source
	var err error
	switch {
	case eventID != "":
		source = minutes.NewLegistarSource(eventID, config.GetEnv("LEGISTAR_BASE_URL", ""), logger)
	case filePattern != "":
		source, err = minutes.NewFileSource(filePattern, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open snapshot replay source")
		}
	default:
		source, err = minutes.NewGitSource(gitFile, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open git replay source")
		}
	}

	// === Posting destinations ===
	ctx := context.Background()
	var publishers []publish.Publisher
	for _, name := range strings.Split(config.RequireEnv("PLATFORMS"), ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		pub, err := publish.New(name, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create posting client")
		}
		// Get initial creds now so bad credentials fail fast, before the
		// meeting starts.
		if err := pub.RefreshCredentials(ctx); err != nil {
			logger.WithError(err).WithField("platform", name).Fatal("Initial credential refresh failed")
		}
		publishers = append(publishers, pub)
	}
	if len(publishers) == 0 {
		logger.Fatal("PLATFORMS selected no destinations")
	}

	// === Meeting time zone ===
	tzName := config.GetEnv("MEETING_TZ", "America/Detroit")
	location, err := time.LoadLocation(tzName)
	if err != nil {
		logger.WithError(err).WithField("tz", tzName).Fatal("Unknown meeting time zone")
	}

	// === State store ===
	store := state.NewFileStore(config.GetEnv("STATE_FILE", "state.json"), logger)

	// === Monitoring (optional) ===
	// A nil *Metrics disables collection; the poller's counters no-op.
	httpPort := config.GetEnv("HTTP_PORT", "")
	var metrics *monitoring.Metrics
	if httpPort != "" {
		metrics = monitoring.NewMetrics("councilbot")
	}

	poller := worker.New(worker.Config{
		Source:      source,
		Publishers:  publishers,
		Store:       store,
		Logger:      logger,
		Metrics:     metrics,
		Interval:    config.GetEnvDuration("POLL_INTERVAL", 60*time.Second),
		Location:    location,
		SnapshotDir: config.GetEnv("SNAPSHOT_DIR", ""),
	})

	if httpPort != "" {
		health := monitoring.NewHealthChecker("councilbot", version)
		health.AddCheck("poller", func() monitoring.CheckResult {
			return monitoring.CheckResult{
				Status:  "healthy",
				Message: "phase: " + poller.Phase().String(),
			}
		})

		router := monitoring.SetupRouter(health)
		go func() {
			logger.WithField("port", httpPort).Info("Monitoring server starting")
			if err := router.Run(":" + httpPort); err != nil {
				logger.WithError(err).Error("Monitoring server failed")
			}
		}()
	}

	if err := poller.Run(ctx); err != nil {
		logger.WithError(err).Fatal("Polling loop failed")
	}
	logger.Info("Meeting over, shutting down")
}
