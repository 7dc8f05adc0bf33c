package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalbot/internal/config"
)

func TestLoadRunConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "evalbot.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
mode: browser
bank_path: bank.json
remote:
  token: tok
  sign_key: key
`), 0o644))
	flagMode = config.ModeAPI
	flagBank = filepath.Join(dir, "other.json")
	flagCourse = "c7"
	flagTarget = 3
	t.Cleanup(func() { flagMode, flagBank, flagCourse, flagTarget = "", "", "", 0 })

	cfg, err := loadRunConfig()
	require.NoError(t, err)
	assert.Equal(t, config.ModeAPI, cfg.Mode)
	assert.Equal(t, flagBank, cfg.BankPath)
	assert.Equal(t, "c7", cfg.CourseID)
	assert.Equal(t, 3, cfg.Traversal.TargetCount)
}

func TestLoadRunConfigRejectsAPIWithoutCourse(t *testing.T) {
	cfgPath = filepath.Join(t.TempDir(), "absent.yaml")
	flagMode = config.ModeAPI
	t.Setenv("EVALBOT_TOKEN", "tok")
	t.Setenv("EVALBOT_SIGN_KEY", "key")
	t.Cleanup(func() { flagMode = "" })

	_, err := loadRunConfig()
	assert.Error(t, err)
}
