package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/ota-supervisor/internal/constants"
	"github.com/benmeehan/ota-supervisor/internal/logevents"
	"github.com/benmeehan/ota-supervisor/internal/metrics_collectors"
	"github.com/benmeehan/ota-supervisor/internal/models"
	"github.com/benmeehan/ota-supervisor/internal/state_managers"
	"github.com/benmeehan/ota-supervisor/internal/utils"
	"github.com/benmeehan/ota-supervisor/pkg/agentbus"
	"github.com/benmeehan/ota-supervisor/pkg/file"
)

// eventBufferSize bounds the worker's event stream. The consumer is a UI; if
// it falls behind, dropping is preferred over blocking the worker, and phase
// floors are idempotent so a dropped progress event repairs itself.
const eventBufferSize = 64

// SupervisorService is the single background execution context owning all
// I/O-bound subsystems: the agent connection and its change stream, the log
// tail loop and the network sampling loop. The presentation layer talks to
// it only through the asynchronous command and event surfaces.
type SupervisorService struct {
	Config      utils.Config
	AgentClient agentbus.AgentClient
	FileClient  file.FileOperations
	Rebooter    Rebooter
	Logger      zerolog.Logger

	state        *state_managers.ProgressStateManager
	netCollector *metrics_collectors.NetworkActivityCollector
	snapshot     *metrics_collectors.SystemSnapshotCollector

	events    chan models.Event
	commands  chan func()
	logEvents chan models.LogEvent

	// checkTimer implements the manual check window. It only runs between a
	// user-initiated check and its consent outcome or timeout.
	checkTimer *time.Timer

	// runningVersion is the installed platform version an offered target is
	// compared against. Owned by the worker goroutine after Start.
	runningVersion string

	// mu guards ctx and cancel against the public command surface; Stop
	// clears them from the caller's goroutine.
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisorService wires the worker with its collaborators. The explicit
// Config carries every environment-derived path so nothing is read ad hoc.
func NewSupervisorService(config utils.Config, agentClient agentbus.AgentClient, fileClient file.FileOperations,
	rebooter Rebooter, logger zerolog.Logger) *SupervisorService {

	config.ApplyTimingDefaults()
	s := &SupervisorService{
		Config:         config,
		AgentClient:    agentClient,
		FileClient:     fileClient,
		Rebooter:       rebooter,
		Logger:         logger,
		runningVersion: config.RunningVersion,
		events:         make(chan models.Event, eventBufferSize),
		commands:       make(chan func(), 16),
		logEvents:      make(chan models.LogEvent, 16),
	}
	s.state = state_managers.NewProgressStateManager(s.emitEvent, logger)
	s.netCollector = metrics_collectors.NewNetworkActivityCollector(config.NetworkInterface, fileClient, logger)
	s.snapshot = &metrics_collectors.SystemSnapshotCollector{Logger: logger}
	return s
}

// Events returns the worker's event stream. It is closed when the worker
// stops.
func (s *SupervisorService) Events() <-chan models.Event {
	return s.events
}

// Start launches the worker loop in a separate goroutine.
func (s *SupervisorService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.Logger.Warn().Msg("SupervisorService is already running")
		return errors.New("supervisor service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.checkTimer = time.NewTimer(time.Hour)
	if !s.checkTimer.Stop() {
		<-s.checkTimer.C
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.Logger.Info().Msg("SupervisorService started successfully")
	return nil
}

// Stop gracefully stops the worker and closes the event stream.
func (s *SupervisorService) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		s.Logger.Warn().Msg("SupervisorService is not running")
		return errors.New("supervisor service is not running")
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	if err := s.AgentClient.Close(); err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to close agent connection")
	}
	close(s.events)

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.Logger.Info().Msg("SupervisorService stopped successfully")
	return nil
}

// run is the worker's single execution context. The progress state machine
// is mutated exclusively from here; commands and log events arrive as
// messages.
func (s *SupervisorService) run() {
	if err := s.AgentClient.Connect(); err != nil {
		s.fatal(err)
		return
	}

	mode, consent, err := s.AgentClient.GetStatus()
	if err != nil {
		s.fatal(fmt.Errorf("failed to read initial agent status: %w", err))
		return
	}
	s.emitEvent(models.Event{
		Type:           models.EventStatusReady,
		Mode:           mode,
		ConsentPayload: consent,
	})

	snapshot := s.snapshot.Collect()
	if s.runningVersion == "" {
		s.runningVersion = snapshot.PlatformVersion
	}
	s.emitEvent(models.Event{Type: models.EventSystemSnapshot, Snapshot: &snapshot})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runLogWatcher()
	}()
	go func() {
		defer s.wg.Done()
		s.runNetworkWatcher()
	}()

	stageATicker := time.NewTicker(constants.StageATickInterval)
	defer stageATicker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case cmd := <-s.commands:
			cmd()

		case change, ok := <-s.AgentClient.Changes():
			if !ok {
				s.fatal(errors.New("agent change stream closed"))
				return
			}
			s.handleConsentChange(change.Payload)

		case ev := <-s.logEvents:
			s.handleLogEvent(ev)

		case <-stageATicker.C:
			s.state.Tick()

		case <-s.checkTimer.C:
			// A late tick after the timer was logically stopped must not
			// fabricate a "no updates" outcome.
			if s.state.ManualCheckActive() {
				s.state.HandleCheckTimeout()
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Command surface. Each call is fire-and-forget: the closure is marshaled
// onto the worker goroutine and the caller never blocks on the outcome.
// ---------------------------------------------------------------------------

// SetMode requests an install mode change; rejected while a flow is active.
func (s *SupervisorService) SetMode(value int32) {
	s.enqueue(func() {
		if !s.state.CanChangeMode() {
			s.emitEvent(models.Event{
				Type:    models.EventError,
				Message: "An update is in progress. Mode cannot be changed now.",
			})
			return
		}
		if err := s.AgentClient.SetMode(value); err != nil {
			s.Logger.Error().Err(err).Msg("Failed to set install mode")
			s.emitEvent(models.Event{Type: models.EventError, Message: err.Error()})
		}
	})
}

// CheckForUpdates starts a user-initiated check with a bounded wait for its
// outcome; rejected while a flow is active.
func (s *SupervisorService) CheckForUpdates() {
	s.enqueue(func() {
		if err := s.state.BeginManualCheck(); err != nil {
			s.emitEvent(models.Event{Type: models.EventError, Message: "An update is already in progress."})
			return
		}

		checkID := uuid.New().String()
		s.Logger.Info().Str("check_id", checkID).Msg("Manual update check requested")

		if err := s.AgentClient.CheckForUpdates(); err != nil {
			s.Logger.Error().Err(err).Str("check_id", checkID).Msg("CheckForUpdates failed")
			// The check never reached the agent: release the check flag
			// without fabricating a "no updates" outcome.
			s.state.AbortManualCheck()
			s.emitEvent(models.Event{Type: models.EventError, Message: err.Error()})
			return
		}

		s.checkTimer.Reset(s.Config.CheckTimeout)
	})
}

// SendConsent reports the user's consent decision to the agent and, on
// acceptance, starts the update flow.
func (s *SupervisorService) SendConsent(granted bool, reason string) {
	s.enqueue(func() {
		s.state.HandleConsentDecision(granted)
		if err := s.AgentClient.Consent(granted, reason); err != nil {
			s.Logger.Error().Err(err).Msg("Failed to report consent decision")
			s.emitEvent(models.Event{Type: models.EventError, Message: err.Error()})
		}
	})
}

// CancelUpdate requests cancellation of the current operation. Best effort;
// the outcome is observed through log events.
func (s *SupervisorService) CancelUpdate() {
	s.enqueue(func() {
		if err := s.AgentClient.Cancel(); err != nil {
			s.Logger.Warn().Err(err).Msg("Cancel request failed")
		}
	})
}

// RebootNow requests a privileged system reboot. The request runs on its own
// goroutine so a helper that never returns cannot stall the worker.
func (s *SupervisorService) RebootNow() {
	s.enqueue(func() {
		s.emitEvent(models.Event{Type: models.EventRebootStarted})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Rebooter.Reboot(); err != nil {
				s.Logger.Error().Err(err).Msg("Reboot request failed")
				s.emitEvent(models.Event{Type: models.EventRebootFailed, Message: err.Error()})
			}
		}()
	})
}

func (s *SupervisorService) enqueue(cmd func()) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	// Commands against a stopped worker are dropped, not queued.
	if ctx == nil {
		return
	}
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
	}
}

// ---------------------------------------------------------------------------
// Worker-side handlers.
// ---------------------------------------------------------------------------

func (s *SupervisorService) handleConsentChange(payload string) {
	if strings.TrimSpace(payload) == "" {
		s.emitEvent(models.Event{Type: models.EventConsentCleared})
		if s.state.ConsentClearedDuringFlow() {
			s.Logger.Info().Msg("Consent consumed, waiting for download to complete")
		}
		return
	}

	// The pending check resolved: make sure its timeout can no longer fire.
	s.checkTimer.Stop()
	solicited := s.state.HandleConsentRequired()

	targets, err := models.ParseConsentPayload(payload)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("Ignoring malformed consent payload")
		return
	}
	if len(targets) == 0 {
		s.Logger.Warn().Msg("Consent payload contained no targets")
		return
	}

	first := targets[0]
	newer := models.IsNewerVersion(s.runningVersion, first.Version)
	s.Logger.Info().
		Str("target", models.ShortenTargetID(first.TargetID)).
		Str("version", first.Version).
		Str("running_version", s.runningVersion).
		Str("kind", string(first.Kind)).
		Bool("newer_than_running", newer).
		Bool("solicited", solicited).
		Msg("Update pending consent")

	s.emitEvent(models.Event{
		Type:             models.EventConsentRequired,
		ConsentPayload:   payload,
		Targets:          targets,
		Solicited:        solicited,
		NewerThanRunning: newer,
	})
}

func (s *SupervisorService) handleLogEvent(ev models.LogEvent) {
	if ev.Kind == models.LogEventProgress {
		s.emitEvent(models.Event{Type: models.EventDownloadProgress, RawPercent: ev.Percent})
		s.state.HandleRawProgress(ev.Percent)
		return
	}

	if marker, ok := ev.Marker(); ok {
		s.emitEvent(models.Event{Type: models.EventPhaseMarker, Marker: marker})
		s.state.HandleMarker(marker)
	}
}

// fatal surfaces an unrecoverable worker error once and resets the UI-facing
// state to idle. There is no automatic retry.
func (s *SupervisorService) fatal(err error) {
	s.Logger.Error().Err(err).Msg("Supervisor worker failed")
	s.state.Reset()
	s.emitEvent(models.Event{Type: models.EventError, Message: err.Error()})
}

// emitEvent never blocks the worker; the consumer owns keeping up.
func (s *SupervisorService) emitEvent(ev models.Event) {
	select {
	case s.events <- ev:
	default:
		s.Logger.Warn().Str("type", string(ev.Type)).Msg("Event dropped, consumer is not keeping up")
	}
}

// ---------------------------------------------------------------------------
// Log watcher: derives progress and phase events by tailing the agent log.
// ---------------------------------------------------------------------------

// runLogWatcher waits for the log file to appear, replays a bounded backlog
// and then follows new lines. Backlog and live lines go through the same
// extractor so the two paths cannot drift apart.
func (s *SupervisorService) runLogWatcher() {
	logFile := s.Config.LogFile

	if !s.waitForLogFile(logFile) {
		return
	}

	// Backlog first: an update that started before this process must not
	// lose its phase boundaries.
	backlog, err := s.FileClient.ReadLastLines(logFile, s.Config.LogBacklogLines)
	if err != nil {
		// Not fatal: live tailing may still work.
		s.emitEvent(models.Event{
			Type:    models.EventError,
			Message: fmt.Sprintf("Failed to read log backlog: %v", err),
		})
	}
	for _, line := range backlog {
		s.processLogLine(line)
	}

	s.followLog(logFile)
}

// waitForLogFile polls for the log file. Its absence after the full window
// is fatal for progress tracking: no further progress or phase events will
// ever be produced.
func (s *SupervisorService) waitForLogFile(logFile string) bool {
	for i := 0; i < s.Config.LogWaitAttempts; i++ {
		exists, err := s.FileClient.IsFileExists(logFile)
		if err == nil && exists {
			return true
		}
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(s.Config.LogWaitInterval):
		}
	}

	s.Logger.Error().Str("path", logFile).Msg("Log file never appeared")
	s.emitEvent(models.Event{
		Type:    models.EventError,
		Message: fmt.Sprintf("Log file not found: %s", logFile),
	})
	return false
}

// followLog seeks to the end of the file and polls for appended lines.
// Partially written lines are buffered until their newline arrives.
func (s *SupervisorService) followLog(logFile string) {
	f, err := os.Open(logFile)
	if err != nil {
		s.emitEvent(models.Event{
			Type:    models.EventError,
			Message: fmt.Sprintf("Failed to follow log file: %v", err),
		})
		return
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		s.emitEvent(models.Event{
			Type:    models.EventError,
			Message: fmt.Sprintf("Failed to seek log file: %v", err),
		})
		return
	}

	reader := bufio.NewReader(f)
	var pending strings.Builder

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		chunk, err := reader.ReadString('\n')
		pending.WriteString(chunk)

		if err != nil {
			// No complete line yet; wait briefly for more data.
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.Config.LogTailPollInterval):
			}
			continue
		}

		line := pending.String()
		pending.Reset()
		s.processLogLine(line)
	}
}

// processLogLine is shared between backlog replay and live tailing.
func (s *SupervisorService) processLogLine(line string) {
	ev, ok := logevents.Extract(line)
	if !ok {
		return
	}
	select {
	case s.logEvents <- ev:
	case <-s.ctx.Done():
	}
}

// ---------------------------------------------------------------------------
// Network watcher: informational throughput estimate.
// ---------------------------------------------------------------------------

// runNetworkWatcher samples the interface counters once per interval. Absent
// counters disable the feature silently; the update flow never depends on it.
func (s *SupervisorService) runNetworkWatcher() {
	if err := s.netCollector.Prime(); err != nil {
		s.Logger.Debug().Err(err).Msg("Network activity monitoring disabled")
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.Config.NetworkSampleInterval):
		}

		sample, err := s.netCollector.Collect(s.Config.NetworkSampleInterval)
		if err != nil {
			s.Logger.Debug().Err(err).Msg("Network counters gone, stopping activity sampling")
			return
		}
		s.emitEvent(models.Event{Type: models.EventNetworkActivity, KBps: sample.KBps})
	}
}
