package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectCommand_MissingOutFlag(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "collect", "--max-pages", "1")
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "required flag(s) \"out\" not set")
}

func TestCollectCommand_InvalidConfig(t *testing.T) {
	binaryPath := getBinaryPath(t)
	tmpDir := t.TempDir()

	cfgPath := filepath.Join(tmpDir, "config.json")
	_ = os.WriteFile(cfgPath, []byte(`{"collect": {"max_pages": 500}}`), 0644)

	cmd := exec.Command(binaryPath, "collect",
		"--config", cfgPath,
		"--out", filepath.Join(tmpDir, "refs.json"))
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "failed to load config")
}

func TestCollectCommand_NegativeMaxPages(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "collect",
		"--max-pages", "-1",
		"--out", filepath.Join(t.TempDir(), "refs.json"))
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "--max-pages must be non-negative")
}

func TestCollectCommand_ZeroPagesWritesEmptyList(t *testing.T) {
	binaryPath := getBinaryPath(t)
	outPath := filepath.Join(t.TempDir(), "refs.json")

	// Zero pages never touches the listing, but the browser still has to start.
	cmd := exec.Command(binaryPath, "collect", "--max-pages", "0", "--out", outPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Skipf("browser unavailable: %s", output)
	}

	data, readErr := os.ReadFile(outPath)
	assert.NoError(t, readErr)
	assert.JSONEq(t, `[]`, string(data))
}
