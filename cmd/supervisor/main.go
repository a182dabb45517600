package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ota-supervisor/internal/models"
	"github.com/benmeehan/ota-supervisor/internal/service_registry"
	"github.com/benmeehan/ota-supervisor/internal/services"
	"github.com/benmeehan/ota-supervisor/internal/utils"
	"github.com/benmeehan/ota-supervisor/pkg/agentbus"
	"github.com/benmeehan/ota-supervisor/pkg/file"
)

func main() {
	// Set up structured logging with JSON output
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration: defaults, optional file, environment overrides
	config, err := utils.LoadConfig(os.Getenv("OTA_SUPERVISOR_CONFIG"), fileClient, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().
		Str("log_file", config.LogFile).
		Str("network_interface", config.NetworkInterface).
		Msg("Configuration loaded")

	// Initialize the update agent client and the reboot coordinator
	agentClient := agentbus.NewDBusAgentClient(log)
	rebooter := services.NewRebootCoordinator(config.DBusSendPath, config.DefaultPath, fileClient, log)

	supervisor := services.NewSupervisorService(config, agentClient, fileClient, rebooter, log)

	// Stand-in consumer for the presentation layer: logs the event stream.
	// A real UI ranges over the same channel and drives its widgets from it.
	go func() {
		for ev := range supervisor.Events() {
			logEvent(log, ev)
		}
	}()

	serviceRegistry := service_registry.NewServiceRegistry(log)
	serviceRegistry.RegisterService("supervisor", supervisor)

	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with errors")
	}
}

func logEvent(log zerolog.Logger, ev models.Event) {
	entry := log.Info().Str("event", string(ev.Type))

	switch ev.Type {
	case models.EventStatusReady:
		entry = entry.Int32("mode", ev.Mode).Bool("consent_pending", ev.ConsentPayload != "")
	case models.EventConsentRequired:
		if len(ev.Targets) > 0 {
			entry = entry.Str("summary", models.FormatTargetSummary(ev.Targets[0])).Bool("solicited", ev.Solicited)
		}
	case models.EventDownloadProgress:
		entry = entry.Int("raw_percent", ev.RawPercent)
	case models.EventPhaseChanged, models.EventProgressChanged:
		entry = entry.Str("phase", string(ev.Phase)).Int("progress", ev.Progress)
	case models.EventPhaseMarker:
		entry = entry.Str("marker", string(ev.Marker))
	case models.EventNetworkActivity:
		entry = entry.Float64("kbps", ev.KBps)
	case models.EventError, models.EventRebootFailed:
		entry = entry.Str("message", ev.Message)
	}

	entry.Msg("Supervisor event")
}
