package state_managers

import (
	"errors"

	"github.com/benmeehan/ota-supervisor/internal/constants"
	"github.com/benmeehan/ota-supervisor/internal/models"
	"github.com/rs/zerolog"
)

// ErrUpdateFlowActive is returned when a command is rejected because an
// update flow is in progress. A mode change or a new manual check concurrent
// with an in-flight install is refused here, not merely hidden by the UI.
var ErrUpdateFlowActive = errors.New("an update is already in progress")

// ProgressStateManager turns noisy, out-of-order log events and consent
// decisions into a consistent phase sequence and a monotonically increasing
// progress value.
//
// All methods must be called from the worker goroutine that owns the
// instance; external inputs arrive as messages, never as direct field writes.
type ProgressStateManager struct {
	logger zerolog.Logger
	emit   func(models.Event)

	phase         constants.Phase
	phaseProgress float64

	// startingPct is captured at the first real progress above the metadata
	// range; lastRawPct filters repeated/out-of-order raw values (-1 means
	// none observed yet).
	startingPct *int
	lastRawPct  int

	rebootPromptShown bool
	manualCheckActive bool
}

// NewProgressStateManager builds an idle state machine. emit receives the
// derived notifications (phase changes, progress changes, reboot prompt,
// no-update outcome) and must not block.
func NewProgressStateManager(emit func(models.Event), logger zerolog.Logger) *ProgressStateManager {
	if emit == nil {
		emit = func(models.Event) {}
	}
	return &ProgressStateManager{
		logger:     logger,
		emit:       emit,
		phase:      constants.PhaseIdle,
		lastRawPct: -1,
	}
}

// Phase returns the current phase.
func (m *ProgressStateManager) Phase() constants.Phase {
	return m.phase
}

// Progress returns the current bar value in [0,100].
func (m *ProgressStateManager) Progress() int {
	return int(m.phaseProgress)
}

// CanChangeMode reports whether a mode change is currently permitted.
func (m *ProgressStateManager) CanChangeMode() bool {
	return !m.phase.Active()
}

// BeginManualCheck marks a user-initiated check as active. It is rejected
// while an update flow is running.
func (m *ProgressStateManager) BeginManualCheck() error {
	if m.phase.Active() {
		return ErrUpdateFlowActive
	}
	m.manualCheckActive = true
	return nil
}

// ManualCheckActive reports whether a user-initiated check is awaiting its
// outcome.
func (m *ProgressStateManager) ManualCheckActive() bool {
	return m.manualCheckActive
}

// HandleCheckTimeout fires when no consent-required notification arrived
// within the check window. Still being idle means "no update found", which is
// an outcome, not an error.
func (m *ProgressStateManager) HandleCheckTimeout() {
	m.manualCheckActive = false
	if m.phase == constants.PhaseIdle {
		m.logger.Info().Msg("Check for updates timed out with no pending consent")
		m.Reset()
		m.emit(models.Event{Type: models.EventNoUpdateFound})
	}
}

// AbortManualCheck clears a pending manual check whose agent call failed
// before any outcome could arrive. Unlike HandleCheckTimeout it emits
// nothing: the caller already surfaced the failure and no "no updates"
// conclusion exists.
func (m *ProgressStateManager) AbortManualCheck() {
	m.manualCheckActive = false
}

// HandleConsentRequired consumes the pending manual check, if any, and
// reports whether the notification was solicited. A solicited notification
// is surfaced as a modal decision; an unsolicited one is passive information.
func (m *ProgressStateManager) HandleConsentRequired() (solicited bool) {
	solicited = m.manualCheckActive
	m.manualCheckActive = false
	return solicited
}

// HandleConsentDecision starts the update flow on acceptance and leaves the
// machine idle on refusal.
func (m *ProgressStateManager) HandleConsentDecision(granted bool) {
	if !granted {
		m.logger.Info().Msg("Update refused by user")
		return
	}
	m.StartFlow()
}

// StartFlow enters the preparing phase and resets the progress math for a
// brand-new flow.
func (m *ProgressStateManager) StartFlow() {
	m.phase = constants.PhasePreparing
	m.phaseProgress = 0
	m.rebootPromptShown = false
	m.resetProgressMath()
	m.logger.Info().Msg("Update flow started")
	m.emitPhase()
}

// ConsentClearedDuringFlow reports whether a consent-cleared notification is
// a normal mid-flow transition (consent consumed, download beginning) rather
// than a cancellation.
func (m *ProgressStateManager) ConsentClearedDuringFlow() bool {
	return m.phase == constants.PhasePreparing || m.phase == constants.PhaseDownloading
}

// Tick advances the synthetic preparing-phase progress. Long metadata scans
// produce no real data; without this the bar would sit at zero indefinitely.
// The tick is ignored outside the preparing phase and capped at the metadata
// boundary.
func (m *ProgressStateManager) Tick() {
	if m.phase != constants.PhasePreparing {
		return
	}
	if m.phaseProgress < constants.StageACap {
		m.advanceToTarget(constants.StageACap, constants.StageAStep)
	}
}

// HandleRawProgress consumes one raw percentage from the log.
//
// Values below the last accepted raw value are discarded (repeated lines and
// reordering must never move the bar backwards; equal values are accepted).
// Values in the metadata range never drive the bar or the phase. The first
// real value above the range enters downloading, floors the bar at that value
// and anchors the rescaling that maps the remaining raw range onto the
// pre-completion cap.
func (m *ProgressStateManager) HandleRawProgress(raw int) {
	if m.phase == constants.PhaseIdle {
		return
	}

	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}

	if raw < m.lastRawPct {
		return
	}
	m.lastRawPct = raw

	if raw <= constants.StageACap {
		return
	}

	if m.phase != constants.PhaseDownloading {
		m.switchToDownloading()
	}

	if m.startingPct == nil {
		start := raw
		m.startingPct = &start
		floor := raw
		if floor > constants.DownloadProgressCap {
			floor = constants.DownloadProgressCap
		}
		m.setProgressFloor(floor)
		return
	}

	start := *m.startingPct
	denom := 100 - start
	if denom < 1 {
		denom = 1
	}
	scaled := float64(start) + float64(raw-start)/float64(denom)*float64(constants.DownloadProgressCap-start)
	scaledInt := int(scaled)
	if scaledInt >= constants.DownloadCompleteFloor {
		scaledInt = constants.DownloadProgressCap
	}
	m.setProgressFloor(scaledInt)
}

// HandleMarker consumes one lifecycle marker from the log.
func (m *ProgressStateManager) HandleMarker(marker constants.PhaseMarker) {
	// Markers can only advance an in-flight flow. Stale markers replayed
	// from the log backlog while idle must not fabricate one.
	if m.phase == constants.PhaseIdle {
		return
	}

	switch marker {
	case constants.MarkerDownloadComplete:
		// Authoritative completion signal: some agents never report real
		// percentages above the metadata range, so the last raw value seen
		// is irrelevant here.
		m.phase = constants.PhaseDownloaded
		m.setProgressFloor(constants.DownloadCompleteFloor)
		m.emitPhase()

	case constants.MarkerInstallStarted, constants.MarkerInstallComplete:
		m.switchToInstalling()

	case constants.MarkerNeedReboot:
		m.switchToInstalling()
		m.phase = constants.PhaseNeedReboot
		m.emitPhase()
		if !m.rebootPromptShown {
			m.rebootPromptShown = true
			m.emit(models.Event{Type: models.EventRebootPrompt})
		}

	case constants.MarkerRebooting:
		m.logger.Info().Msg("Agent is about to reboot the system")
	}
}

// Reset returns the machine to idle. It is the only way back to idle: flow
// completion, timeout with no update, or a fatal worker error.
func (m *ProgressStateManager) Reset() {
	m.phase = constants.PhaseIdle
	m.phaseProgress = 0
	m.rebootPromptShown = false
	m.manualCheckActive = false
	m.resetProgressMath()
	m.emitPhase()
}

func (m *ProgressStateManager) switchToDownloading() {
	if m.phase == constants.PhaseDownloading {
		return
	}
	m.phase = constants.PhaseDownloading
	m.logger.Info().Msg("Real download progress observed")
	m.emitPhase()
}

func (m *ProgressStateManager) switchToInstalling() {
	if m.phase == constants.PhaseInstalling {
		return
	}
	m.phase = constants.PhaseInstalling
	m.setProgressFloor(constants.DownloadCompleteFloor)
	m.emitPhase()
}

// advanceToTarget moves the bar one step toward target without overshooting.
func (m *ProgressStateManager) advanceToTarget(target int, step float64) {
	if target < 0 {
		target = 0
	}
	if target > 100 {
		target = 100
	}
	if float64(target) <= m.phaseProgress {
		return
	}
	next := m.phaseProgress + step
	if next > float64(target) {
		next = float64(target)
	}
	m.phaseProgress = next
	m.emitProgress()
}

// setProgressFloor raises the bar to value. Requests at or below the current
// value are idempotent no-ops: the bar never moves backwards.
func (m *ProgressStateManager) setProgressFloor(value int) {
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	if float64(value) <= m.phaseProgress {
		return
	}
	m.phaseProgress = float64(value)
	m.emitProgress()
}

func (m *ProgressStateManager) resetProgressMath() {
	m.startingPct = nil
	m.lastRawPct = -1
}

func (m *ProgressStateManager) emitPhase() {
	m.emit(models.Event{
		Type:     models.EventPhaseChanged,
		Phase:    m.phase,
		Progress: m.Progress(),
	})
}

func (m *ProgressStateManager) emitProgress() {
	m.emit(models.Event{
		Type:     models.EventProgressChanged,
		Phase:    m.phase,
		Progress: m.Progress(),
	})
}
