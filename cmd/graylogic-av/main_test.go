package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/bridges/av"
	"github.com/nerrad567/gray-logic-av/internal/discovery"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// writeConfig writes a minimal valid config and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
site:
  id: test-site
database:
  path: %q
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
security:
  jwt:
    secret: %q
    issuer: graylogic
logging:
  level: error
  format: text
  output: stdout
%s`, filepath.Join(dir, "av.db"), testSecret, extra)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MQTTUnavailable(t *testing.T) {
	path := writeConfig(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "MQTT") {
		t.Fatalf("run() error = %v, want MQTT connection failure", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_AV_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_AV_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "discover", "probe", "migrate", "token"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not found: %v", name, err)
		}
	}
}

func TestMigrateCommand(t *testing.T) {
	path := writeConfig(t, "")

	out, err := execute(t, "--config", path, "migrate", "--status")
	if err != nil {
		t.Fatalf("migrate --status error = %v", err)
	}
	if !strings.Contains(out, "pending") || strings.Contains(out, "applied") {
		t.Errorf("status before migrate = %q", out)
	}

	out, err = execute(t, "--config", path, "migrate")
	if err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if !strings.Contains(out, "applied  20260301_120000") || strings.Contains(out, "pending") {
		t.Errorf("status after migrate = %q", out)
	}

	out, err = execute(t, "--config", path, "migrate", "--down")
	if err != nil {
		t.Fatalf("migrate --down error = %v", err)
	}
	if !strings.Contains(out, "rolled back") || !strings.Contains(out, "pending") {
		t.Errorf("status after rollback = %q", out)
	}
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, "")

	out, err := execute(t, "--config", path, "token", "--subject", "panel-1", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	token := strings.TrimSpace(out)
	if strings.Count(token, ".") != 2 {
		t.Errorf("token = %q, want a JWT", token)
	}
}

func TestProbeCommandRequiresHost(t *testing.T) {
	if _, err := execute(t, "probe"); err == nil {
		t.Error("probe without --host should fail")
	}
}

func TestProbeCommandUnreachable(t *testing.T) {
	out, err := execute(t, "probe", "--host", "127.0.0.1", "--port", "1", "--timeout", "2s")
	if !errors.Is(err, av.ErrCannotConnect) {
		t.Errorf("probe error = %v, want ErrCannotConnect", err)
	}
	if !strings.Contains(out, "cannot_connect") {
		t.Errorf("output = %q", out)
	}
}

func TestProbeResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("x: %w", av.ErrCannotConnect), "cannot_connect"},
		{av.ErrUnknown, "unknown"},
		{errors.New("boom"), "unknown"},
	}
	for _, tt := range tests {
		if got := probeResult(tt.err); got != tt.want {
			t.Errorf("probeResult(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestToDiscovered(t *testing.T) {
	instances := []discovery.Instance{
		{Name: "Lobby", Host: "lobby.local.", Port: 1515, IPs: []string{"192.168.1.20"}},
		{Host: "tv.local.", Port: 1926, TXT: map[string]string{"model": "55OLED806"}},
	}

	got := toDiscovered(instances, "_samsungmdc._tcp")
	if len(got) != 2 {
		t.Fatalf("got %d devices", len(got))
	}
	if got[0].Platform != string(av.KindSamsungMDC) || got[0].Host != "192.168.1.20" || got[0].SuggestedName != "Lobby" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Host != "tv.local" || got[1].SuggestedName != "55OLED806" {
		t.Errorf("got[1] = %+v", got[1])
	}

	if tv := toDiscovered(instances[:1], "_philipstv_rpc._tcp"); tv[0].Platform != string(av.KindPhilipsTV) {
		t.Errorf("platform = %s, want philips_tv", tv[0].Platform)
	}
}

func TestWriteDiscovered(t *testing.T) {
	devices := []av.DiscoveredDevice{{Platform: "samsung_mdc", Host: "10.0.0.5", Port: 1515, SuggestedName: "Lobby"}}

	var buf bytes.Buffer
	if err := writeDiscoveredTable(&buf, devices); err != nil {
		t.Fatalf("writeDiscoveredTable() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Lobby") || !strings.Contains(buf.String(), "10.0.0.5") {
		t.Errorf("table = %q", buf.String())
	}

	buf.Reset()
	if err := writeDiscoveredTable(&buf, nil); err != nil || !strings.Contains(buf.String(), "no devices found") {
		t.Errorf("empty table = %q, %v", buf.String(), err)
	}

	buf.Reset()
	if err := writeDiscoveredJSON(&buf, devices); err != nil {
		t.Fatalf("writeDiscoveredJSON() error = %v", err)
	}
	var decoded []av.DiscoveredDevice
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded) != 1 || decoded[0].Port != 1515 {
		t.Errorf("json = %q, %v", buf.String(), err)
	}
}

type fakeSetter struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []string
}

func (f *fakeSetter) SetupWithRetry(_ context.Context, e av.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, e.ID)
	return f.errs[e.ID]
}

func TestSetupEntriesContinuesPastFailures(t *testing.T) {
	setter := &fakeSetter{errs: map[string]error{
		"a": av.ErrNotReady,
		"b": av.ErrInvalidEntry,
	}}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	setupEntries(context.Background(), setter, []av.Entry{{ID: "a"}, {ID: "b"}, {ID: "c"}}, log)

	slices.Sort(setter.calls)
	if strings.Join(setter.calls, ",") != "a,b,c" {
		t.Errorf("calls = %v, want every entry attempted", setter.calls)
	}
}

type fakePruner struct {
	calls chan time.Duration
}

func (f *fakePruner) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	f.calls <- olderThan
	return 3, nil
}

func TestPruneHistoryLoopPrunesOnStart(t *testing.T) {
	pruner := &fakePruner{calls: make(chan time.Duration, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pruneHistoryLoop(ctx, pruner, 48*time.Hour, logging.Default())
		close(done)
	}()

	select {
	case got := <-pruner.calls:
		if got != 48*time.Hour {
			t.Errorf("Prune(%v), want 48h", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prune did not run on start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prune loop did not stop")
	}
}
