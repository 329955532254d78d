package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("TARGET_LANGS", "de")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Store.DataDir)
	assert.Equal(t, language.English, cfg.Store.SourceLang)
	assert.Equal(t, []language.Tag{language.German}, cfg.Store.TargetLangs)
	assert.Equal(t, 0, cfg.Dispatch.MinQuality)
	assert.Equal(t, 40, cfg.Dispatch.LeverageMinQuality)
	assert.Equal(t, 4, cfg.Dispatch.Parallelism)
	assert.Equal(t, "*/5 * * * *", cfg.Dispatch.UpdateCronExpr)
	assert.False(t, cfg.System.RegressionMode)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATA_DIR", "/var/lib/loctra")
	t.Setenv("SOURCE_LANG", "ja")
	t.Setenv("TARGET_LANGS", "en, fr")
	t.Setenv("PARALLELISM", "8")
	t.Setenv("REGRESSION_MODE", "true")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/loctra", cfg.Store.DataDir)
	assert.Equal(t, language.Japanese, cfg.Store.SourceLang)
	assert.Equal(t, []language.Tag{language.English, language.French}, cfg.Store.TargetLangs)
	assert.Equal(t, 8, cfg.Dispatch.Parallelism)
	assert.True(t, cfg.System.RegressionMode)
}

func TestNewFromEnv_Validation(t *testing.T) {
	_, err := NewFromEnv()
	assert.ErrorContains(t, err, "TARGET_LANGS")

	t.Setenv("TARGET_LANGS", "en")
	_, err = NewFromEnv()
	assert.ErrorContains(t, err, "equals the source language")

	t.Setenv("TARGET_LANGS", "not a tag")
	_, err = NewFromEnv()
	assert.ErrorContains(t, err, "TARGET_LANGS")
}

func TestNewFromEnv_Options(t *testing.T) {
	t.Setenv("TARGET_LANGS", "de")

	cfg, err := NewFromEnv(WithTargetLangs(language.Spanish, language.Italian))
	require.NoError(t, err)
	assert.Equal(t, []language.Tag{language.Spanish, language.Italian}, cfg.Store.TargetLangs)
}

func TestNewFromEnv_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TARGET_LANGS=pt\nMIN_QUALITY=30\n"), 0o644))

	t.Setenv("TARGET_LANGS", "")
	t.Setenv("MIN_QUALITY", "")
	require.NoError(t, godotenv.Overload(path))
	t.Cleanup(func() {
		os.Unsetenv("TARGET_LANGS")
		os.Unsetenv("MIN_QUALITY")
	})

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []language.Tag{language.Portuguese}, cfg.Store.TargetLangs)
	assert.Equal(t, 30, cfg.Dispatch.MinQuality)
}
