package nesopack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nesopack.conf")
	require.NoError(t, os.WriteFile(path, []byte(`# comment
NESOPACK_PLATFORM = cray
NESOPACK_SYCL="adaptivecpp"
MIRROR_BUCKET='neso-mirror'

malformed line without equals
`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "cray", cfg.Values["NESOPACK_PLATFORM"])
	assert.Equal(t, "adaptivecpp", cfg.Values["NESOPACK_SYCL"])
	assert.Equal(t, "neso-mirror", cfg.Values["MIRROR_BUCKET"])

	// Defaults fill the rest.
	assert.Equal(t, "gcc@12.2.0", cfg.Values["NESOPACK_COMPILER"])
	assert.NotEmpty(t, cfg.Values["NESOPACK_CACHE"])
	assert.Equal(t,
		filepath.Join(cfg.Values["NESOPACK_CACHE"], "sources"),
		cfg.Values["NESOPACK_SOURCES"])
	assert.Equal(t,
		filepath.Join(cfg.Values["NESOPACK_CACHE"], "work"),
		cfg.Values["NESOPACK_WORK"])
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	require.NoError(t, err, "a missing config file is not an error")
	assert.Equal(t, "hipsycl", cfg.Values["NESOPACK_SYCL"])
	assert.Equal(t, "linux", cfg.Values["NESOPACK_PLATFORM"])
}

func TestEnvOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nesopack.conf")
	require.NoError(t, os.WriteFile(path, []byte("NESOPACK_SYCL=hipsycl\n"), 0o644))

	t.Setenv("NESOPACK_SYCL", "dpcpp")
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "dpcpp", cfg.Values["NESOPACK_SYCL"])
}

func TestRequireMirrorConfig(t *testing.T) {
	cfg := &Config{Values: map[string]string{}}
	err := requireMirrorConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MIRROR_BUCKET")
	assert.Contains(t, err.Error(), "MIRROR_SECRET_ACCESS_KEY")

	cfg.Values["MIRROR_BUCKET"] = "b"
	cfg.Values["MIRROR_ENDPOINT"] = "https://s3.example.invalid"
	cfg.Values["NESOPACK_MIRROR_ACCESS_KEY_ID"] = "id"
	cfg.Values["NESOPACK_MIRROR_SECRET_ACCESS_KEY"] = "secret"
	assert.NoError(t, requireMirrorConfig(cfg))
}

func TestMirrorSettingPrefersPrefixedKey(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"MIRROR_BUCKET":          "bare",
		"NESOPACK_MIRROR_BUCKET": "prefixed",
	}}
	assert.Equal(t, "prefixed", mirrorSetting(cfg, "MIRROR_BUCKET"))

	delete(cfg.Values, "NESOPACK_MIRROR_BUCKET")
	assert.Equal(t, "bare", mirrorSetting(cfg, "MIRROR_BUCKET"))
}
