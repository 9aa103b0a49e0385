package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "glass-server-go/internal/platform/errors"
)

func noEnv(string) string { return "" }

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, webPort, wsPort int) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
log:
  log_level: info
  log_dir: %[1]s
web:
  enabled: true
  ip: 127.0.0.1
  port: %[2]d
transport:
  websocket:
    enabled: true
    ip: 127.0.0.1
    port: %[3]d
cache:
  driver: sqlite
  sqlite:
    dsn: %[4]s
selected_module:
  Vision: OllamaVision
  Reasoning: OllamaReasoning
  Speech: ""
`, filepath.Join(dir, "logs"), webPort, wsPort, filepath.Join(dir, "glass.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestInitGraphDependenciesOrdered(t *testing.T) {
	seen := map[string]bool{}
	for _, step := range InitGraph() {
		assert.False(t, seen[step.ID], "duplicate step %s", step.ID)
		for _, dep := range step.DependsOn {
			assert.True(t, seen[dep], "step %s depends on later step %s", step.ID, dep)
		}
		assert.NotNil(t, step.Execute, step.ID)
		seen[step.ID] = true
	}
	assert.True(t, seen["session:init"])
}

func TestExecuteInitGraph(t *testing.T) {
	state := &appState{opts: Options{
		ConfigPath:    writeConfig(t, freePort(t), freePort(t)),
		Getenv:        noEnv,
		DisableDotEnv: true,
	}}
	defer state.close()

	require.NoError(t, executeInitSteps(context.Background(), InitGraph(), state))
	assert.NotNil(t, state.logger)
	assert.NotNil(t, state.observabilityShutdown)
	assert.NotNil(t, state.db, "sqlite driver opens the database")
	assert.NotNil(t, state.descriptions)
	assert.Nil(t, state.speech)
	require.NotNil(t, state.session)
	assert.Equal(t, "OllamaVision", state.vision.Name())
}

func TestExecuteInitStepsMissingDependency(t *testing.T) {
	steps := []initStep{{
		ID:        "b",
		DependsOn: []string{"a"},
		Execute:   func(context.Context, *appState) error { return nil },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	require.Error(t, err)
	assert.Equal(t, platformerrors.KindBootstrap, platformerrors.KindOf(err))
}

func TestExecuteInitStepsWrapsWithStepKind(t *testing.T) {
	steps := []initStep{{
		ID:      "storage:broken",
		Kind:    platformerrors.KindStorage,
		Execute: func(context.Context, *appState) error { return errors.New("disk full") },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	require.Error(t, err)
	assert.Equal(t, platformerrors.KindStorage, platformerrors.KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestLoadConfigMissingFile(t *testing.T) {
	state := &appState{opts: Options{
		ConfigPath:    filepath.Join(t.TempDir(), "missing.yaml"),
		Getenv:        noEnv,
		DisableDotEnv: true,
	}}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	require.Error(t, err)
	assert.Equal(t, platformerrors.KindConfig, platformerrors.KindOf(err))
}

func TestRunServesAndStops(t *testing.T) {
	webPort := freePort(t)
	path := writeConfig(t, webPort, freePort(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{ConfigPath: path, Getenv: noEnv, DisableDotEnv: true})
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", webPort)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
