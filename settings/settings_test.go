package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvtier/tiercache/settings"
	"github.com/kvtier/tiercache/tiererr"
)

func valid(t *testing.T) settings.Settings {
	t.Helper()

	return settings.Settings{
		Strategy: settings.LRU,
		MemMax:   100,
		FsMax:    10_000,
		FsFiles:  2,
		FsDir:    t.TempDir(),
	}
}

func TestNew_Valid(t *testing.T) {
	t.Parallel()

	s, err := settings.New(valid(t))
	require.NoError(t, err)
	assert.Equal(t, settings.LRU, s.Strategy)
}

func TestNew_UnknownStrategy(t *testing.T) {
	t.Parallel()

	s := valid(t)
	s.Strategy = "BOGUS"

	_, err := settings.New(s)

	var cfgErr *tiererr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNew_MemMaxOutOfRange(t *testing.T) {
	t.Parallel()

	s := valid(t)
	s.MemMax = 1

	_, err := settings.New(s)

	var cfgErr *tiererr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNew_FsMaxFsFilesCrossCheck(t *testing.T) {
	t.Parallel()

	s := valid(t)
	s.FsMax = 100
	s.FsFiles = 2 // 100/2 == 50 < 100, violates the cross-field invariant

	_, err := settings.New(s)

	var cfgErr *tiererr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNew_FsDirMustExist(t *testing.T) {
	t.Parallel()

	s := valid(t)
	s.FsDir = "/nonexistent/does/not/exist"

	_, err := settings.New(s)

	var cfgErr *tiererr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestFileMax(t *testing.T) {
	t.Parallel()

	s, err := settings.New(valid(t))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), s.FileMax())
}
