package constants

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePreparing   Phase = "preparing"
	PhaseDownloading Phase = "downloading"
	PhaseDownloaded  Phase = "downloaded"
	PhaseInstalling  Phase = "installing"
	PhaseNeedReboot  Phase = "need_reboot"
)

// Active reports whether the phase belongs to an in-flight update flow.
// Only the idle phase may start a brand-new flow.
func (p Phase) Active() bool {
	return p != PhaseIdle
}

// Phase markers derived from the agent log.
type PhaseMarker string

const (
	MarkerDownloadComplete PhaseMarker = "download_complete"
	MarkerInstallStarted   PhaseMarker = "install_started"
	MarkerNeedReboot       PhaseMarker = "need_reboot"
	MarkerInstallComplete  PhaseMarker = "install_complete"
	MarkerRebooting        PhaseMarker = "rebooting"
)
