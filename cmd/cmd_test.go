package cmd_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bavix/btscan/cmd"
	"github.com/bavix/btscan/internal/auth"
	"github.com/bavix/btscan/internal/devices"
	customerrors "github.com/bavix/btscan/internal/errors"
)

const simulatedConfig = `
bluetooth:
  backend: simulated
  permission: granted
  discovery_duration: 30ms
http:
  disabled: true
simulated:
  devices:
    - address: "00:1a:7d:da:71:13"
      name: Headset
      class: 2360324
    - address: "00:1A:7D:DA:71:14"
      name: Phone
      class: 5898764
      bonded: true
    - address: "00:1A:7D:DA:71:15"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

// execute runs the root command with logging quieted. Flags live in package
// globals, so these tests are not parallel.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	return executeRaw(t, stdin, append(args, "--log-level", "error")...)
}

func executeRaw(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	root := cmd.NewRootCmd()

	var stdout, stderr bytes.Buffer

	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func TestScan_JSON(t *testing.T) {
	path := writeConfig(t, simulatedConfig)

	out, _, err := execute(t, "", "scan", "--json", "--config", path)
	require.NoError(t, err)

	var views []devices.View
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2, "unnamed device is skipped")

	assert.Equal(t, "00:1A:7D:DA:71:14", views[0].Address)
	assert.Equal(t, "00:1A:7D:DA:71:13", views[1].Address)
	assert.Equal(t, devices.IconHeadset, views[1].Icon)
}

func TestScan_Table(t *testing.T) {
	path := writeConfig(t, simulatedConfig)

	out, _, err := execute(t, "", "scan", "--config", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ADDRESS")
	assert.Contains(t, lines[1], "Phone")
	assert.Contains(t, lines[1], "Bonded")
	assert.Contains(t, lines[2], "Not bonded")
}

func TestScan_EnablesAdapterFirst(t *testing.T) {
	path := writeConfig(t, simulatedConfig+"  powered_off: true\n")

	out, stderr, err := execute(t, "", "scan", "--json", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Bluetooth enabled")

	var views []devices.View
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	assert.Len(t, views, 2)
}

func TestScan_PermissionDenied(t *testing.T) {
	path := writeConfig(t, strings.Replace(simulatedConfig, "permission: granted", "permission: denied", 1))

	_, stderr, err := execute(t, "", "scan", "--config", path)
	require.ErrorIs(t, err, customerrors.ErrPermissionDenied)
	assert.Contains(t, stderr, "Bluetooth permission not granted")
}

func TestDevices(t *testing.T) {
	path := writeConfig(t, simulatedConfig)

	out, _, err := execute(t, "", "devices", "--json", "--config", path)
	require.NoError(t, err)

	var views []devices.View
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "Phone", views[0].Name)
}

func TestBond(t *testing.T) {
	path := writeConfig(t, simulatedConfig)

	out, _, err := execute(t, "", "bond", "00:1a:7d:da:71:13", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "00:1A:7D:DA:71:13 Headset: Bonded\n", out)

	_, _, err = execute(t, "", "bond", "00:1A:7D:DA:71:14", "--config", path)
	require.ErrorIs(t, err, customerrors.ErrPreconditionViolation)

	_, _, err = execute(t, "", "bond", "AA:AA:AA:AA:AA:AA", "--config", path)
	require.ErrorIs(t, err, customerrors.ErrDeviceNotFound)

	_, _, err = execute(t, "", "bond", "nope", "--config", path)
	require.ErrorIs(t, err, customerrors.ErrMACAddressInvalid)
}

func TestUnbond(t *testing.T) {
	path := writeConfig(t, simulatedConfig)

	_, stderr, err := execute(t, "n\n", "unbond", "00:1A:7D:DA:71:14", "--config", path)
	require.ErrorIs(t, err, customerrors.ErrConfirmationRequired)
	assert.Contains(t, stderr, "Remove the bond with this device? (Phone)")

	out, _, err := execute(t, "y\n", "unbond", "00:1A:7D:DA:71:14", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "00:1A:7D:DA:71:14: removed\n", out)

	out, _, err = execute(t, "", "unbond", "00:1A:7D:DA:71:14", "--yes", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "00:1A:7D:DA:71:14: removed\n", out)

	_, _, err = execute(t, "", "unbond", "00:1A:7D:DA:71:13", "--yes", "--config", path)
	require.ErrorIs(t, err, customerrors.ErrPreconditionViolation)
}

func TestCheck(t *testing.T) {
	path := writeConfig(t, simulatedConfig)

	_, _, err := execute(t, "", "check", "--config", path)
	require.NoError(t, err)

	_, _, err = execute(t, "", "check", "--config", writeConfig(t, simulatedConfig+"  absent: true\n"))
	require.ErrorIs(t, err, customerrors.ErrCapabilityUnavailable)
}

func TestBackendOverride(t *testing.T) {
	path := writeConfig(t, strings.Replace(simulatedConfig, "backend: simulated", "backend: bluez", 1))

	out, _, err := execute(t, "", "devices", "--json", "--backend", "simulated", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Phone")

	_, _, err = execute(t, "", "devices", "--backend", "carrier-pigeon", "--config", path)
	require.Error(t, err)
}

func TestMissingConfig(t *testing.T) {
	_, _, err := execute(t, "", "devices", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogConfig(t *testing.T) {
	path := writeConfig(t, simulatedConfig+"log:\n  level: debug\n  format: console\n")

	tests := []struct {
		name     string
		args     []string
		contains []string
		absent   []string
	}{
		{
			name:     "config section",
			contains: []string{"DBG", "session opened"},
		},
		{
			name:   "level flag wins",
			args:   []string{"--log-level", "error"},
			absent: []string{"session opened"},
		},
		{
			name:     "format flag wins",
			args:     []string{"--log-format", "json"},
			contains: []string{`"message":"session opened"`},
			absent:   []string{"DBG"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := executeRaw(t, "", append([]string{"devices", "--json", "--config", path}, tt.args...)...)
			require.NoError(t, err)

			for _, s := range tt.contains {
				assert.Contains(t, stderr, s)
			}

			for _, s := range tt.absent {
				assert.NotContains(t, stderr, s)
			}
		})
	}
}

func TestToken(t *testing.T) {
	key := []byte(strings.Repeat("k", 32))
	withSecret := strings.Replace(simulatedConfig, "  disabled: true",
		"  disabled: true\n  auth_secret: "+base64.StdEncoding.EncodeToString(key), 1)

	out, _, err := execute(t, "", "token", "--subject", "ops", "--ttl", "1h", "--config", writeConfig(t, withSecret))
	require.NoError(t, err)

	claims, err := auth.NewService(key).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)

	_, _, err = execute(t, "", "token", "--config", writeConfig(t, simulatedConfig))
	require.ErrorIs(t, err, auth.ErrAuthNotConfigured)

	_, _, err = execute(t, "", "token", "--subject", "", "--config", writeConfig(t, withSecret))
	require.ErrorIs(t, err, auth.ErrSubjectRequired)
}
