package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bwdash/services/dashboard/internal/config"
)

func writeConfig(t *testing.T, installDir, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bwdash.yaml")
	body := fmt.Sprintf("paths:\n  install_dir: %s\n  generate_script: %s\nlog:\n  level: error\n", installDir, script)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["generate"])
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))

	serveCmd, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	port := serveCmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, fmt.Sprint(config.DefaultPort), port.DefValue)
}

func TestGenerateWritesSnapshot(t *testing.T) {
	installDir := t.TempDir()
	statsFile := filepath.Join(installDir, "api", "stats.json")
	script := filepath.Join(t.TempDir(), "generate_json.sh")
	require.NoError(t, os.WriteFile(script,
		[]byte(fmt.Sprintf("#!/bin/bash\nprintf '{\"interfaces\":[]}' > %q\n", statsFile)), 0o755))

	root := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"generate", "--config", writeConfig(t, installDir, script)})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "wrote "+statsFile)

	data, err := os.ReadFile(statsFile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"interfaces":[]}`, string(data))
}

func TestGenerateReportsScriptFailure(t *testing.T) {
	installDir := t.TempDir()
	script := filepath.Join(t.TempDir(), "generate_json.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/bash\necho 'vnstat: no database' >&2\nexit 3\n"), 0o755))

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"generate", "--config", writeConfig(t, installDir, script)})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Script execution failed: vnstat: no database")
}

func TestGenerateRequiresInstallDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"generate", "--config", writeConfig(t, missing, "/bin/true")})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "installation directory not found")
}

func TestServeRejectsInvalidPort(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "--config", writeConfig(t, t.TempDir(), "/bin/true"), "--port", "70000"})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.port")
}

func TestNewFanoutUnconfigured(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, t.TempDir(), "/bin/true"))
	require.NoError(t, err)
	cfg.NATS.URL = ""
	cfg.Archive.Bucket = ""

	fan, err := newFanout(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, fan)
}

func TestNewFanoutArchiveNeedsS3Env(t *testing.T) {
	t.Setenv("S3_ENDPOINT", "")
	cfg, err := config.Load(writeConfig(t, t.TempDir(), "/bin/true"))
	require.NoError(t, err)
	cfg.NATS.URL = ""
	cfg.Archive.Bucket = "bw-archive"

	_, err = newFanout(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 client")
}
