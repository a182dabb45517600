package models

import "github.com/benmeehan/ota-supervisor/internal/constants"

// LogEventKind tags the events derived from a single agent log line.
type LogEventKind string

const (
	LogEventProgress         LogEventKind = "progress"
	LogEventDownloadComplete LogEventKind = "download_complete"
	LogEventInstallStarted   LogEventKind = "install_started"
	LogEventNeedReboot       LogEventKind = "need_reboot"
	LogEventInstallComplete  LogEventKind = "install_complete"
	LogEventRebooting        LogEventKind = "rebooting"
)

// LogEvent is the normalized form of one agent log line. Percent is only
// meaningful when Kind is LogEventProgress.
type LogEvent struct {
	Kind    LogEventKind
	Percent int
}

// Marker maps a lifecycle log event onto its phase marker. It returns false
// for progress events.
func (e LogEvent) Marker() (constants.PhaseMarker, bool) {
	switch e.Kind {
	case LogEventDownloadComplete:
		return constants.MarkerDownloadComplete, true
	case LogEventInstallStarted:
		return constants.MarkerInstallStarted, true
	case LogEventNeedReboot:
		return constants.MarkerNeedReboot, true
	case LogEventInstallComplete:
		return constants.MarkerInstallComplete, true
	case LogEventRebooting:
		return constants.MarkerRebooting, true
	default:
		return "", false
	}
}

// EventType identifies the asynchronous notifications the supervisor worker
// delivers to its consumer.
type EventType string

const (
	EventStatusReady      EventType = "status_ready"
	EventConsentRequired  EventType = "consent_required"
	EventConsentCleared   EventType = "consent_cleared"
	EventDownloadProgress EventType = "download_progress"
	EventPhaseMarker      EventType = "phase_marker"
	EventPhaseChanged     EventType = "phase_changed"
	EventProgressChanged  EventType = "progress_changed"
	EventNetworkActivity  EventType = "network_activity"
	EventSystemSnapshot   EventType = "system_snapshot"
	EventNoUpdateFound    EventType = "no_update_found"
	EventRebootPrompt     EventType = "reboot_prompt"
	EventRebootStarted    EventType = "reboot_started"
	EventRebootFailed     EventType = "reboot_failed"
	EventError            EventType = "error"
)

// Event is one notification on the worker's event stream. Only the fields
// relevant to the given Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// EventStatusReady
	Mode           int32  `json:"mode,omitempty"`
	ConsentPayload string `json:"consent_payload,omitempty"`

	// EventConsentRequired
	Targets []UpdateTarget `json:"targets,omitempty"`
	// Solicited is true when the notification arrived in direct response to
	// a user-initiated check and should therefore be presented as a modal
	// decision rather than passive information.
	Solicited bool `json:"solicited,omitempty"`
	// NewerThanRunning reports whether the first target carries a strictly
	// newer semantic version than the running platform. False when either
	// side does not parse as semver.
	NewerThanRunning bool `json:"newer_than_running,omitempty"`

	// EventDownloadProgress: raw percentage from the log.
	RawPercent int `json:"raw_percent,omitempty"`

	// EventPhaseMarker
	Marker constants.PhaseMarker `json:"marker,omitempty"`

	// EventPhaseChanged / EventProgressChanged
	Phase    constants.Phase `json:"phase,omitempty"`
	Progress int             `json:"progress,omitempty"`

	// EventNetworkActivity
	KBps float64 `json:"kbps,omitempty"`

	// EventSystemSnapshot
	Snapshot *SystemSnapshot `json:"snapshot,omitempty"`

	// EventError / EventRebootFailed
	Message string `json:"message,omitempty"`
}
