package services

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/benmeehan/ota-supervisor/pkg/file"
	"github.com/rs/zerolog"
)

// Rebooter requests a privileged system reboot.
type Rebooter interface {
	Reboot() error
}

// RebootError carries the full diagnostic context of a failed reboot
// request: command line, exit code and captured output.
type RebootError struct {
	Cmd      []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *RebootError) Error() string {
	msg := fmt.Sprintf("reboot request failed (rc=%d): %s", e.ExitCode, strings.Join(e.Cmd, " "))
	if e.Stdout != "" {
		msg += "\n\nstdout:\n" + e.Stdout
	}
	if e.Stderr != "" {
		msg += "\n\nstderr:\n" + e.Stderr
	}
	return msg
}

// RebootCoordinator requests a reboot through the system session manager
// (org.freedesktop.login1) via an external helper process. The subprocess
// transport tolerates restricted execution environments where a direct bus
// connection from this process is not permitted.
type RebootCoordinator struct {
	HelperPath  string
	DefaultPath string
	FileClient  file.FileOperations
	Logger      zerolog.Logger
}

// NewRebootCoordinator builds a coordinator using the configured helper
// binary and sanitized PATH.
func NewRebootCoordinator(helperPath, defaultPath string, fileClient file.FileOperations, logger zerolog.Logger) *RebootCoordinator {
	return &RebootCoordinator{
		HelperPath:  helperPath,
		DefaultPath: defaultPath,
		FileClient:  fileClient,
		Logger:      logger,
	}
}

// Reboot invokes the session manager's Reboot method with interactive=false.
// A successful invocation may never return because the system restarts
// first; that is expected, so there is no timeout and no retry. Any failure
// that does come back carries full diagnostics.
func (rc *RebootCoordinator) Reboot() error {
	exists, err := rc.FileClient.IsFileExists(rc.HelperPath)
	if err != nil || !exists {
		return fmt.Errorf("missing %s; install dbus-send on the device (package: dbus)", rc.HelperPath)
	}

	args := []string{
		rc.HelperPath,
		"--system",
		"--print-reply",
		"--dest=org.freedesktop.login1",
		"/org/freedesktop/login1",
		"org.freedesktop.login1.Manager.Reboot",
		"boolean:false",
	}

	cmd := exec.Command(args[0], args[1:]...)

	// GUI launchers hand this process a restricted environment; the helper
	// always gets an explicit PATH.
	cmd.Env = append(environWithoutPath(), "PATH="+rc.DefaultPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	rc.Logger.Info().Str("helper", rc.HelperPath).Msg("Requesting system reboot")

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &RebootError{
			Cmd:      args,
			ExitCode: exitCode,
			Stdout:   strings.TrimSpace(stdout.String()),
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	}

	return nil
}

func environWithoutPath() []string {
	env := os.Environ()
	filtered := env[:0]
	for _, kv := range env {
		if !strings.HasPrefix(kv, "PATH=") {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}
