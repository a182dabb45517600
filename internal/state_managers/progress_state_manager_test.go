package state_managers

import (
	"testing"

	"github.com/benmeehan/ota-supervisor/internal/constants"
	"github.com/benmeehan/ota-supervisor/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures the notifications the state machine emits.
type recorder struct {
	events []models.Event
}

func (r *recorder) emit(ev models.Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) count(eventType models.EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func newManager(t *testing.T) (*ProgressStateManager, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewProgressStateManager(rec.emit, zerolog.Nop()), rec
}

func TestProgressStateManager_InitialState(t *testing.T) {
	m, _ := newManager(t)

	assert.Equal(t, constants.PhaseIdle, m.Phase())
	assert.Equal(t, 0, m.Progress())
	assert.True(t, m.CanChangeMode())
}

// TestProgressStateManager_RealProgressScenario replays the raw sequence
// [10, 30, 75, 82, 100]: values in the metadata range never move the bar, the
// first real value jumps the bar and enters downloading, later values are
// rescaled and the pre-completion cap holds.
func TestProgressStateManager_RealProgressScenario(t *testing.T) {
	m, _ := newManager(t)
	m.StartFlow()
	require.Equal(t, constants.PhasePreparing, m.Phase())

	m.HandleRawProgress(10)
	m.HandleRawProgress(30)
	assert.Equal(t, constants.PhasePreparing, m.Phase())
	assert.Equal(t, 0, m.Progress())

	m.HandleRawProgress(75)
	assert.Equal(t, constants.PhaseDownloading, m.Phase())
	assert.Equal(t, 75, m.Progress())

	// 75 + (82-75)/(100-75)*(94-75) = 80.32, truncated
	m.HandleRawProgress(82)
	assert.Equal(t, 80, m.Progress())

	m.HandleRawProgress(100)
	assert.Equal(t, 94, m.Progress())
}

// TestProgressStateManager_Monotonic feeds repeated and out-of-order raw
// values; the synthesized progress must never decrease.
func TestProgressStateManager_Monotonic(t *testing.T) {
	m, _ := newManager(t)
	m.StartFlow()

	sequence := []int{10, 60, 55, 60, 60, 72, 40, 90, 85, 100, 100}
	last := 0
	for _, raw := range sequence {
		m.HandleRawProgress(raw)
		assert.GreaterOrEqual(t, m.Progress(), last, "raw value %d moved the bar backwards", raw)
		last = m.Progress()
	}
}

func TestProgressStateManager_ProgressIgnoredWhileIdle(t *testing.T) {
	m, _ := newManager(t)

	m.HandleRawProgress(80)
	assert.Equal(t, constants.PhaseIdle, m.Phase())
	assert.Equal(t, 0, m.Progress())
}

// TestProgressStateManager_DownloadCompleteWithoutRealProgress covers agents
// that never report percentages above the metadata range: the completion
// marker alone must force the bar to 95.
func TestProgressStateManager_DownloadCompleteWithoutRealProgress(t *testing.T) {
	m, _ := newManager(t)
	m.StartFlow()

	m.HandleRawProgress(20)
	m.HandleRawProgress(48)
	require.Equal(t, constants.PhasePreparing, m.Phase())

	m.HandleMarker(constants.MarkerDownloadComplete)
	assert.Equal(t, constants.PhaseDownloaded, m.Phase())
	assert.Equal(t, 95, m.Progress())
}

func TestProgressStateManager_StageATick(t *testing.T) {
	m, _ := newManager(t)
	m.StartFlow()

	// 20 ticks at half a percent each
	for i := 0; i < 20; i++ {
		m.Tick()
	}
	assert.Equal(t, 10, m.Progress())

	// synthetic progress caps at the metadata boundary
	for i := 0; i < 500; i++ {
		m.Tick()
	}
	assert.Equal(t, constants.StageACap, m.Progress())

	// ticks outside preparing are ignored
	m.HandleRawProgress(60)
	require.Equal(t, constants.PhaseDownloading, m.Phase())
	before := m.Progress()
	m.Tick()
	assert.Equal(t, before, m.Progress())
}

// TestProgressStateManager_RebootPromptShownOnce verifies the prompt guard:
// repeated NEED_COMPLETION markers must not reopen the confirmation.
func TestProgressStateManager_RebootPromptShownOnce(t *testing.T) {
	m, rec := newManager(t)
	m.StartFlow()

	m.HandleMarker(constants.MarkerNeedReboot)
	m.HandleMarker(constants.MarkerNeedReboot)
	m.HandleMarker(constants.MarkerNeedReboot)

	assert.Equal(t, constants.PhaseNeedReboot, m.Phase())
	assert.Equal(t, 95, m.Progress())
	assert.Equal(t, 1, rec.count(models.EventRebootPrompt))
}

func TestProgressStateManager_InstallMarkers(t *testing.T) {
	m, _ := newManager(t)
	m.StartFlow()

	m.HandleMarker(constants.MarkerInstallStarted)
	assert.Equal(t, constants.PhaseInstalling, m.Phase())
	assert.Equal(t, 95, m.Progress())

	m.HandleMarker(constants.MarkerInstallComplete)
	assert.Equal(t, constants.PhaseInstalling, m.Phase())
}

// TestProgressStateManager_MarkersIgnoredWhileIdle guards against stale
// backlog markers fabricating a flow that was never started.
func TestProgressStateManager_MarkersIgnoredWhileIdle(t *testing.T) {
	m, rec := newManager(t)

	m.HandleMarker(constants.MarkerDownloadComplete)
	m.HandleMarker(constants.MarkerInstallStarted)
	m.HandleMarker(constants.MarkerNeedReboot)

	assert.Equal(t, constants.PhaseIdle, m.Phase())
	assert.Equal(t, 0, m.Progress())
	assert.Zero(t, rec.count(models.EventRebootPrompt))
}

func TestProgressStateManager_ManualCheckLifecycle(t *testing.T) {
	m, _ := newManager(t)

	require.NoError(t, m.BeginManualCheck())
	assert.True(t, m.ManualCheckActive())

	// the notification arriving during an active check is solicited, and
	// consumes the check exactly once
	assert.True(t, m.HandleConsentRequired())
	assert.False(t, m.ManualCheckActive())
	assert.False(t, m.HandleConsentRequired())

	// no check active: passive information only
	assert.False(t, m.HandleConsentRequired())
}

// TestProgressStateManager_AbortManualCheck: a check whose agent call failed
// is released silently. Only a timed-out check may conclude "no updates".
func TestProgressStateManager_AbortManualCheck(t *testing.T) {
	m, rec := newManager(t)

	require.NoError(t, m.BeginManualCheck())
	m.AbortManualCheck()

	assert.False(t, m.ManualCheckActive())
	assert.Equal(t, constants.PhaseIdle, m.Phase())
	assert.Equal(t, 0, rec.count(models.EventNoUpdateFound))
	assert.Equal(t, 0, rec.count(models.EventPhaseChanged))

	// the machine is immediately ready for another check
	require.NoError(t, m.BeginManualCheck())
	assert.True(t, m.ManualCheckActive())
}

func TestProgressStateManager_CheckTimeoutMeansNoUpdate(t *testing.T) {
	m, rec := newManager(t)

	require.NoError(t, m.BeginManualCheck())
	m.HandleCheckTimeout()

	assert.Equal(t, constants.PhaseIdle, m.Phase())
	assert.False(t, m.ManualCheckActive())
	assert.Equal(t, 1, rec.count(models.EventNoUpdateFound))
}

// TestProgressStateManager_FlowLocksCommands enforces the policy invariant:
// mode changes and new checks are refused whenever a flow is active, in every
// non-idle phase.
func TestProgressStateManager_FlowLocksCommands(t *testing.T) {
	m, _ := newManager(t)
	m.StartFlow()

	phases := []struct {
		name    string
		prepare func()
	}{
		{"preparing", func() {}},
		{"downloading", func() { m.HandleRawProgress(70) }},
		{"downloaded", func() { m.HandleMarker(constants.MarkerDownloadComplete) }},
		{"installing", func() { m.HandleMarker(constants.MarkerInstallStarted) }},
		{"need_reboot", func() { m.HandleMarker(constants.MarkerNeedReboot) }},
	}

	for _, phase := range phases {
		phase.prepare()
		assert.False(t, m.CanChangeMode(), "mode change allowed during %s", phase.name)
		assert.ErrorIs(t, m.BeginManualCheck(), ErrUpdateFlowActive, "check allowed during %s", phase.name)
	}
}

func TestProgressStateManager_ConsentDecision(t *testing.T) {
	m, _ := newManager(t)

	m.HandleConsentDecision(false)
	assert.Equal(t, constants.PhaseIdle, m.Phase())

	m.HandleConsentDecision(true)
	assert.Equal(t, constants.PhasePreparing, m.Phase())
}

func TestProgressStateManager_ResetClearsEverything(t *testing.T) {
	m, rec := newManager(t)
	m.StartFlow()
	m.HandleRawProgress(80)
	m.HandleMarker(constants.MarkerNeedReboot)

	m.Reset()

	assert.Equal(t, constants.PhaseIdle, m.Phase())
	assert.Equal(t, 0, m.Progress())

	// a fresh flow gets a fresh prompt guard and fresh progress math
	m.StartFlow()
	m.HandleRawProgress(60)
	assert.Equal(t, 60, m.Progress())
	m.HandleMarker(constants.MarkerNeedReboot)
	assert.Equal(t, 2, rec.count(models.EventRebootPrompt))
}

func TestProgressStateManager_ConsentClearedDuringFlow(t *testing.T) {
	m, _ := newManager(t)
	assert.False(t, m.ConsentClearedDuringFlow())

	m.StartFlow()
	assert.True(t, m.ConsentClearedDuringFlow())

	m.HandleRawProgress(70)
	assert.True(t, m.ConsentClearedDuringFlow())

	m.HandleMarker(constants.MarkerDownloadComplete)
	assert.False(t, m.ConsentClearedDuringFlow())
}
