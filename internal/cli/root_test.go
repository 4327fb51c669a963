package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jassi-singh/forgeload/internal/errext"
	"github.com/jassi-singh/forgeload/internal/errext/exitcodes"
)

type testState struct {
	*globalState
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestState(t *testing.T) *testState {
	t.Helper()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	logger := logrus.New()
	logger.SetOutput(stderr)

	return &testState{
		globalState: &globalState{
			ctx:    context.Background(),
			fs:     afero.NewMemMapFs(),
			stdout: stdout,
			stderr: stderr,
			logger: logger,
		},
		stdout: stdout,
		stderr: stderr,
	}
}

func (ts *testState) execute(args ...string) error {
	return newRootCommand(ts.globalState).execute(args)
}

func TestRoot_Version(t *testing.T) {
	ts := newTestState(t)
	require.NoError(t, ts.execute("--version"))
	assert.Contains(t, ts.stdout.String(), version)
}

func TestRoot_Help(t *testing.T) {
	ts := newTestState(t)
	require.NoError(t, ts.execute("--help"))
	out := ts.stdout.String()
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "mock-server")
}

func TestRoot_UnknownLogFormat(t *testing.T) {
	ts := newTestState(t)
	err := ts.execute("--log-format", "xml", "run", "-e", "http://localhost:8080")
	require.Error(t, err)
	assert.Equal(t, exitcodes.InvalidConfig, errext.ExitCodeOf(err, exitcodes.Fatal))
	assert.Contains(t, ts.stderr.String(), "unsupported log format")
}

func TestRoot_JSONLogs(t *testing.T) {
	ts := newTestState(t)
	err := ts.execute("--log-format", "json", "run")
	require.Error(t, err)
	assert.Contains(t, ts.stderr.String(), `"level":"error"`)
	assert.Contains(t, ts.stderr.String(), `"hint":`)
}

func TestRoot_VerboseSetsDebugLevel(t *testing.T) {
	ts := newTestState(t)
	_ = ts.execute("-v", "run")
	assert.Equal(t, logrus.DebugLevel, ts.logger.GetLevel())
	assert.Contains(t, ts.stderr.String(), "forgeload starting")
}

func TestRoot_UnknownCommand(t *testing.T) {
	ts := newTestState(t)
	err := ts.execute("explode")
	require.Error(t, err)

	var ecerr errext.HasExitCode
	assert.False(t, errors.As(err, &ecerr))
}

func TestRoot_LogOutput(t *testing.T) {
	ts := newTestState(t)
	_ = ts.execute("--log-output", "none", "run")
	assert.Empty(t, ts.stderr.String())

	ts = newTestState(t)
	err := ts.execute("--log-output", "syslog", "run")
	require.Error(t, err)
	assert.Equal(t, exitcodes.InvalidConfig, errext.ExitCodeOf(err, exitcodes.Fatal))
}
