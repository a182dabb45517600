// Package logevents turns raw agent log lines into normalized lifecycle
// events. The agent and its OSTree backend have shipped several log formats
// over time, so every check tolerates surrounding text and the set is matched
// in a fixed order with first-match-wins semantics.
package logevents

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/benmeehan/ota-supervisor/internal/models"
)

var (
	// Progress reported by ostree during object transfer.
	receivingObjectsRe = regexp.MustCompile(`ostree-pull:\s*Receiving objects:\s+(\d+)%`)

	// Progress reported by the agent as explicit percentage events.
	progressReportRe = regexp.MustCompile(`Event:\s*DownloadProgressReport,\s*Progress at\s*(\d+)%`)

	installStartedRe  = regexp.MustCompile(`Event:\s*InstallStarted`)
	needRebootRe      = regexp.MustCompile(`Event:\s*AllInstallsComplete,\s*Result\s*-\s*NEED_COMPLETION`)
	installCompleteRe = regexp.MustCompile(`Event:\s*(InstallTargetComplete|AllInstallsComplete).*Result`)
	rebootingRe       = regexp.MustCompile(`About to reboot the system in order to apply pending updates`)
)

// isDownloadCompleteLine matches the two historically distinct completion
// messages; either one means the download phase is over.
func isDownloadCompleteLine(line string) bool {
	return strings.Contains(line, "Event: DownloadTargetComplete") ||
		strings.Contains(line, "Event: AllDownloadsComplete")
}

// Extract parses one log line into at most one event. It is a pure function:
// the same line always yields the same result. Blank lines yield no event.
func Extract(line string) (models.LogEvent, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return models.LogEvent{}, false
	}

	// Download completion is a phase boundary; it matters even if no
	// percentage above the metadata range was ever reported.
	if isDownloadCompleteLine(line) {
		return models.LogEvent{Kind: models.LogEventDownloadComplete}, true
	}

	if m := receivingObjectsRe.FindStringSubmatch(line); m != nil {
		return progressEvent(m[1]), true
	}

	if m := progressReportRe.FindStringSubmatch(line); m != nil {
		return progressEvent(m[1]), true
	}

	if installStartedRe.MatchString(line) {
		return models.LogEvent{Kind: models.LogEventInstallStarted}, true
	}

	// NEED_COMPLETION must be checked before the generic install-complete
	// pattern since both match the AllInstallsComplete message.
	if needRebootRe.MatchString(line) {
		return models.LogEvent{Kind: models.LogEventNeedReboot}, true
	}

	if installCompleteRe.MatchString(line) {
		return models.LogEvent{Kind: models.LogEventInstallComplete}, true
	}

	if rebootingRe.MatchString(line) {
		return models.LogEvent{Kind: models.LogEventRebooting}, true
	}

	return models.LogEvent{}, false
}

// progressEvent converts a captured percentage. A malformed number is treated
// as zero rather than discarding the line: the phase signal still matters.
func progressEvent(capture string) models.LogEvent {
	p, err := strconv.Atoi(capture)
	if err != nil {
		p = 0
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return models.LogEvent{Kind: models.LogEventProgress, Percent: p}
}
