package services

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/benmeehan/ota-supervisor/pkg/file"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHelperScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("helper scripts require a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "dbus-send")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRebootCoordinator_MissingHelper(t *testing.T) {
	rc := NewRebootCoordinator("/nonexistent/dbus-send", "/usr/bin:/bin", file.NewFileService(), zerolog.Nop())

	err := rc.Reboot()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/dbus-send")
	assert.Contains(t, err.Error(), "dbus-send")
}

func TestRebootCoordinator_NonZeroExit(t *testing.T) {
	helper := writeHelperScript(t, `echo "reply detail"
echo "access denied" >&2
exit 3`)

	rc := NewRebootCoordinator(helper, "/usr/bin:/bin", file.NewFileService(), zerolog.Nop())

	err := rc.Reboot()
	require.Error(t, err)

	rebootErr, ok := err.(*RebootError)
	require.True(t, ok, "expected *RebootError, got %T", err)
	assert.Equal(t, 3, rebootErr.ExitCode)
	assert.Equal(t, "reply detail", rebootErr.Stdout)
	assert.Equal(t, "access denied", rebootErr.Stderr)

	// full diagnostics surface in the message
	msg := err.Error()
	assert.Contains(t, msg, "rc=3")
	assert.Contains(t, msg, helper)
	assert.Contains(t, msg, "org.freedesktop.login1.Manager.Reboot")
	assert.Contains(t, msg, "access denied")
}

func TestRebootCoordinator_Success(t *testing.T) {
	helper := writeHelperScript(t, "exit 0")

	rc := NewRebootCoordinator(helper, "/usr/bin:/bin", file.NewFileService(), zerolog.Nop())
	assert.NoError(t, rc.Reboot())
}

// TestRebootCoordinator_SanitizedPath checks the helper always runs with the
// configured PATH, not whatever restricted environment launched this process.
func TestRebootCoordinator_SanitizedPath(t *testing.T) {
	helper := writeHelperScript(t, `if [ "$PATH" != "/opt/sane/bin" ]; then
  echo "unexpected PATH: $PATH" >&2
  exit 1
fi
exit 0`)

	rc := NewRebootCoordinator(helper, "/opt/sane/bin", file.NewFileService(), zerolog.Nop())
	assert.NoError(t, rc.Reboot())
}
