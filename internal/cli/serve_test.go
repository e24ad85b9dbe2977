package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote"
)

func TestLoadFaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faults.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`faults:
  - op: update
    kind: project
    status: 503
    times: 2
  - op: create
    delay: 30s
`), 0o644))

	faults, err := loadFaults(path)
	require.NoError(t, err)
	require.Len(t, faults, 2)

	assert.Equal(t, remote.OpUpdate, faults[0].Op)
	assert.Equal(t, ir.KindProject, faults[0].Kind)
	assert.Equal(t, 503, faults[0].Status)
	assert.Equal(t, 2, faults[0].Times)

	assert.Equal(t, remote.OpCreate, faults[1].Op)
	assert.Equal(t, 30*time.Second, faults[1].Delay)
}

func TestLoadFaultsErrors(t *testing.T) {
	_, err := loadFaults(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("faults: {op: ["), 0o644))
	_, err = loadFaults(path)
	assert.Error(t, err)
}

func TestServeRemoteBadFaultFile(t *testing.T) {
	_, err := execute(t, "serve-remote", "--addr", "127.0.0.1:0", "--faults", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
