package param

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/sonarlab/hydrodb/pkg/errors"
	"github.com/sonarlab/hydrodb/pkg/logger"
)

func newTestParam(t *testing.T, fs afero.Fs, readOnly bool) *Param {
	t.Helper()

	require.NoError(t, fs.MkdirAll("/data", 0755))

	p, err := New(&Config{
		Path:     "/data",
		Name:     "settings",
		ReadOnly: readOnly,
		Fs:       fs,
		Logger:   logger.NewNop(),
	})
	require.NoError(t, err)

	return p
}

func TestTypedRoundTrip(t *testing.T) {
	p := newTestParam(t, afero.NewMemMapFs(), false)

	require.NoError(t, p.SetInteger("sonar.frequency", 240))
	require.NoError(t, p.SetDouble("sonar.gain", 1.5))
	require.NoError(t, p.SetBoolean("sonar.enabled", true))
	require.NoError(t, p.SetString("sonar.mode", "survey"))

	require.EqualValues(t, 240, p.GetInteger("sonar.frequency"))
	require.InDelta(t, 1.5, p.GetDouble("sonar.gain"), 1e-9)
	require.True(t, p.GetBoolean("sonar.enabled"))
	require.Equal(t, "survey", p.GetString("sonar.mode"))
}

func TestBareNameUsesDefaultGroup(t *testing.T) {
	p := newTestParam(t, afero.NewMemMapFs(), false)

	require.NoError(t, p.SetInteger("depth", 7))
	require.EqualValues(t, 7, p.GetInteger("default.depth"))
	require.True(t, p.Has("depth"))
	require.Equal(t, []string{"default.depth"}, p.List())
}

func TestMissingParametersReadAsZero(t *testing.T) {
	p := newTestParam(t, afero.NewMemMapFs(), false)

	require.EqualValues(t, 0, p.GetInteger("nothing"))
	require.Zero(t, p.GetDouble("nothing"))
	require.False(t, p.GetBoolean("nothing"))
	require.Empty(t, p.GetString("nothing"))
	require.False(t, p.Has("nothing"))
}

func TestMalformedNamesRejected(t *testing.T) {
	p := newTestParam(t, afero.NewMemMapFs(), false)

	for _, name := range []string{"", "a.b.c", ".key", "group."} {
		err := p.SetInteger(name, 1)
		require.Equal(t, errors.ErrorCodeInvalidInput, errors.GetErrorCode(err), "name %q", name)
	}
}

func TestIncInteger(t *testing.T) {
	p := newTestParam(t, afero.NewMemMapFs(), false)

	value, err := p.IncInteger("counters.records")
	require.NoError(t, err)
	require.EqualValues(t, 1, value)

	value, err = p.IncInteger("counters.records")
	require.NoError(t, err)
	require.EqualValues(t, 2, value)
}

func TestListAndRemoveByMask(t *testing.T) {
	p := newTestParam(t, afero.NewMemMapFs(), false)

	require.NoError(t, p.SetInteger("sonar.frequency", 240))
	require.NoError(t, p.SetInteger("sonar.range", 100))
	require.NoError(t, p.SetInteger("gps.rate", 10))

	require.ElementsMatch(t, []string{"sonar.frequency", "sonar.range", "gps.rate"}, p.List())

	require.NoError(t, p.Remove("sonar.*"))
	require.Equal(t, []string{"gps.rate"}, p.List())
	require.False(t, p.Has("sonar.frequency"))
	require.True(t, p.Has("gps.rate"))
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	fs := afero.NewMemMapFs()

	writable := newTestParam(t, fs, false)
	require.NoError(t, writable.SetInteger("sonar.frequency", 240))

	readonly := newTestParam(t, fs, true)
	require.True(t, readonly.IsReadOnly())
	require.EqualValues(t, 240, readonly.GetInteger("sonar.frequency"))

	err := readonly.SetInteger("sonar.frequency", 300)
	require.Equal(t, errors.ErrorCodeReadOnly, errors.GetErrorCode(err))

	err = readonly.Remove("*")
	require.Equal(t, errors.ErrorCodeReadOnly, errors.GetErrorCode(err))
}

func TestPersistsAcrossReopen(t *testing.T) {
	fs := afero.NewMemMapFs()

	p := newTestParam(t, fs, false)
	require.NoError(t, p.SetInteger("sonar.frequency", 240))
	require.NoError(t, p.SetString("sonar.mode", "survey"))

	reopened := newTestParam(t, fs, false)
	require.EqualValues(t, 240, reopened.GetInteger("sonar.frequency"))
	require.Equal(t, "survey", reopened.GetString("sonar.mode"))
}

func TestUnparsableFileIsSticky(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", 0755))
	require.NoError(t, afero.WriteFile(fs, "/data/settings.ini", []byte("[broken\nno=close"), 0644))

	p, err := New(&Config{
		Path:   "/data",
		Name:   "settings",
		Fs:     fs,
		Logger: logger.NewNop(),
	})
	require.NoError(t, err)

	err = p.SetInteger("sonar.frequency", 240)
	require.Equal(t, errors.ErrorCodeChannelFailed, errors.GetErrorCode(err))
	require.Nil(t, p.List())
}

func TestEmptyGroupsDroppedAfterRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := newTestParam(t, fs, false)

	require.NoError(t, p.SetInteger("sonar.frequency", 240))
	require.NoError(t, p.Remove("sonar.frequency"))

	data, err := afero.ReadFile(fs, "/data/settings.ini")
	require.NoError(t, err)
	require.NotContains(t, string(data), "sonar")
}
