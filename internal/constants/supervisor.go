package constants

import "time"

const (
	// LogFileWaitAttempts is how many one-second polls the log watcher makes
	// before giving up on the log file ever appearing.
	LogFileWaitAttempts = 60

	// LogFileWaitInterval is the delay between log file existence polls.
	LogFileWaitInterval = 1 * time.Second

	// LogBacklogLines bounds how much of the log tail is replayed on startup
	// so recent phase boundaries are not missed across restarts.
	LogBacklogLines = 300

	// LogTailPollInterval is the delay between live-follow read attempts.
	LogTailPollInterval = 200 * time.Millisecond

	// NetworkSampleInterval is the counter sampling period.
	NetworkSampleInterval = 1 * time.Second

	// CheckForUpdatesTimeout bounds how long a manual check waits for a
	// consent-required notification before it is treated as "no updates".
	CheckForUpdatesTimeout = 15 * time.Second

	// StageATickInterval drives the synthetic preparing-phase progress.
	StageATickInterval = 1 * time.Second

	// StageAStep is how far the synthetic progress advances per tick.
	StageAStep = 0.5

	// StageACap is the ceiling of the synthetic preparing progress. Real
	// percentages at or below it are treated as metadata noise.
	StageACap = 50

	// DownloadProgressCap is the highest value real download progress may
	// reach before an explicit completion marker forces it past.
	DownloadProgressCap = 94

	// DownloadCompleteFloor is forced when a download-complete marker or any
	// install marker is observed.
	DownloadCompleteFloor = 95
)

// Install mode property values of the update agent.
const (
	ModeAutomatic      int32 = 0
	ModeRequireConsent int32 = 1
)
