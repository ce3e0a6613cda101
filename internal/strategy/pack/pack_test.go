package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePack = `
strategies:
  ema_fast:
    kind: ema_trend
    weight: 2.0
    params:
      fast: 8
      slow: 21
  rsi_swing:
    kind: rsi_reversion
    params:
      period: 14
  macd_off:
    kind: macd_momentum
    enabled: false
`

func writePack(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryLoadsEnabledStrategies(t *testing.T) {
	r, err := NewRegistry(writePack(t, samplePack))
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap.Strategies, 2, "disabled entries must be skipped")
	assert.Equal(t, "ema_fast", snap.Strategies[0].ID())
	assert.Equal(t, "rsi_swing", snap.Strategies[1].ID())
	assert.Equal(t, 2.0, snap.Weights["ema_fast"])
	assert.Equal(t, 1.0, snap.Weights["rsi_swing"], "missing weight defaults to 1")
	assert.Equal(t, int64(1), snap.Version)
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	_, err := NewRegistry(writePack(t, `
strategies:
  mystery:
    kind: lunar_phase
`))
	assert.Error(t, err)
}

func TestRegistryRejectsBadParams(t *testing.T) {
	_, err := NewRegistry(writePack(t, `
strategies:
  rsi:
    kind: rsi_reversion
    params:
      period: 1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rsi")
}

func TestRegistryRejectsEmptyPack(t *testing.T) {
	_, err := NewRegistry(writePack(t, `
strategies:
  only:
    kind: ema_trend
    enabled: false
`))
	assert.Error(t, err)
}

func TestReloadKeepsOldSnapshotOnError(t *testing.T) {
	path := writePack(t, samplePack)
	r, err := NewRegistry(path)
	require.NoError(t, err)
	before := r.Snapshot()

	require.NoError(t, os.WriteFile(path, []byte("strategies: {bad: {kind: nope}}"), 0o644))
	assert.Error(t, r.reload())

	after := r.Snapshot()
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, after.Strategies, 2)
}

func TestReloadBumpsVersion(t *testing.T) {
	path := writePack(t, samplePack)
	r, err := NewRegistry(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  solo:
    kind: macd_momentum
`), 0o644))
	require.NoError(t, r.reload())

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.Version)
	require.Len(t, snap.Strategies, 1)
	assert.Equal(t, "solo", snap.Strategies[0].ID())
}
