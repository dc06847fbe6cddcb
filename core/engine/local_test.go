package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"mihomo-launcher/internal/process"
)

// noProcesses hides the host's process table from the adapter.
func noProcesses(t *testing.T) {
	t.Helper()
	orig := process.Lister
	process.Lister = func() ([]process.ProcessInfo, error) { return nil, nil }
	t.Cleanup(func() { process.Lister = orig })
}

func newTestAdapter(t *testing.T, configText string) (*LocalAdapter, string) {
	t.Helper()
	noProcesses(t)
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	if configText != "" {
		if err := os.WriteFile(cfg, []byte(configText), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	a := NewLocalAdapter(LocalOptions{
		BinaryPath: filepath.Join(dir, "mihomo"),
		ConfigPath: cfg,
		LogPath:    filepath.Join(dir, "mihomo.log"),
	})
	t.Cleanup(a.Close)
	return a, dir
}

// fakeController serves the subset of the controller API the adapter uses.
type fakeController struct {
	mu       sync.Mutex
	selected map[string]string
	reloads  []string
}

func (f *fakeController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/version":
		_, _ = w.Write([]byte(`{"version":"v1.19.0"}`))
	case r.URL.Path == "/proxies" && r.Method == http.MethodGet:
		_, _ = w.Write([]byte(`{"proxies":{
			"Auto":{"name":"Auto","type":"Selector","now":"n1","all":["n1","n2"]},
			"n1":{"name":"n1","type":"Vmess","history":[{"delay":30}]},
			"n2":{"name":"n2","type":"Vmess"}
		}}`))
	case r.URL.Path == "/proxies/n1/delay":
		_, _ = w.Write([]byte(`{"delay":31}`))
	case r.URL.Path == "/proxies/n2/delay":
		w.WriteHeader(http.StatusRequestTimeout)
		_, _ = w.Write([]byte(`{"message":"Timeout"}`))
	case strings.HasPrefix(r.URL.Path, "/proxies/") && r.Method == http.MethodPut:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.selected[strings.TrimPrefix(r.URL.Path, "/proxies/")] = body["name"]
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/configs" && r.Method == http.MethodPut:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.reloads = append(f.reloads, body["path"])
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func startController(t *testing.T) (*fakeController, string) {
	t.Helper()
	fc := &fakeController{selected: map[string]string{}}
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)
	return fc, srv.Listener.Addr().(*net.TCPAddr).String()
}

func TestLoadConfigMissingFile(t *testing.T) {
	a, _ := newTestAdapter(t, "")
	res, err := a.LoadConfig(context.Background())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !res.Success || res.Data != nil {
		t.Fatalf("result = %+v, want success without data", res)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	a, _ := newTestAdapter(t, "- just\n- a list\n")
	res, _ := a.LoadConfig(context.Background())
	if res.Success {
		t.Fatal("a list root must not load")
	}
}

func TestSaveThenLoad(t *testing.T) {
	a, dir := newTestAdapter(t, "")
	cfg := map[string]any{"port": 7890, "mode": "rule"}
	res, err := a.SaveConfig(context.Background(), cfg)
	if err != nil || !res.Success {
		t.Fatalf("SaveConfig = %+v, %v", res, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	loaded, _ := a.LoadConfig(context.Background())
	if !loaded.Success {
		t.Fatalf("LoadConfig = %+v", loaded)
	}
	if loaded.Data["port"] != 7890 || loaded.Data["mode"] != "rule" {
		t.Fatalf("data = %v", loaded.Data)
	}
}

func TestControllerCalls(t *testing.T) {
	fc, addr := startController(t)
	a, _ := newTestAdapter(t, fmt.Sprintf("external-controller: %s\n", addr))
	ctx := context.Background()

	proxies, err := a.GetProxies(ctx)
	if err != nil || !proxies.Success {
		t.Fatalf("GetProxies = %+v, %v", proxies, err)
	}
	auto := proxies.Proxies["Auto"]
	if !auto.IsGroup() || auto.Now != "n1" {
		t.Fatalf("Auto = %+v", auto)
	}
	if d := proxies.Proxies["n1"].LastDelay(); d != 30 {
		t.Fatalf("n1 last delay = %d", d)
	}

	sel, _ := a.SelectProxy(ctx, "Auto", "n2")
	if !sel.Success {
		t.Fatalf("SelectProxy = %+v", sel)
	}
	fc.mu.Lock()
	got := fc.selected["Auto"]
	fc.mu.Unlock()
	if got != "n2" {
		t.Fatalf("selected = %q", got)
	}

	d, _ := a.TestProxyDelay(ctx, "n1")
	if !d.Success || d.Delay != 31 {
		t.Fatalf("delay n1 = %+v", d)
	}
	d, _ = a.TestProxyDelay(ctx, "n2")
	if d.Success {
		t.Fatalf("delay n2 = %+v, want failure", d)
	}
}

func TestControllerMissing(t *testing.T) {
	a, _ := newTestAdapter(t, "port: 7890\n")
	res, err := a.GetProxies(context.Background())
	if err != nil {
		t.Fatalf("GetProxies: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("result = %+v, want failure", res)
	}
}

func TestControllerFallback(t *testing.T) {
	_, addr := startController(t)
	a, _ := newTestAdapter(t, "port: 7890\n")
	a.opts.Controller = addr
	res, _ := a.GetProxies(context.Background())
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
}

func TestStartMissingBinary(t *testing.T) {
	a, _ := newTestAdapter(t, "port: 7890\n")
	res, err := a.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "not found") {
		t.Fatalf("result = %+v", res)
	}
}

func TestStatusStopped(t *testing.T) {
	a, _ := newTestAdapter(t, "port: 7890\n")
	st, err := a.Status(context.Background())
	if err != nil || st.IsRunning {
		t.Fatalf("Status = %+v, %v", st, err)
	}
	res, _ := a.Stop(context.Background())
	if !res.Success {
		t.Fatalf("Stop with nothing running = %+v", res)
	}
}

func TestFetchConfigFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad":
			_, _ = w.Write([]byte("just text"))
			return
		case "/b64":
			_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString([]byte("mixed-port: 7891\n"))))
			return
		}
		_, _ = w.Write([]byte("port: 7890\nproxies: []\n"))
	}))
	defer srv.Close()
	a, _ := newTestAdapter(t, "")

	res, _ := a.FetchConfigFromURL(context.Background(), srv.URL+"/sub")
	if !res.Success || res.Data["port"] != 7890 {
		t.Fatalf("result = %+v", res)
	}
	res, _ = a.FetchConfigFromURL(context.Background(), srv.URL+"/bad")
	if res.Success {
		t.Fatalf("plain text must be rejected, got %+v", res)
	}
	res, _ = a.FetchConfigFromURL(context.Background(), srv.URL+"/b64")
	if !res.Success || res.Data["mixed-port"] != 7891 {
		t.Fatalf("base64 result = %+v", res)
	}
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestStartStopProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("uses a shell script as the engine")
	}
	a, dir := newTestAdapter(t, "port: 7890\n")
	writeScript(t, a.opts.BinaryPath, "exec sleep 30\n")

	res, err := a.Start(context.Background())
	if err != nil || !res.Success {
		t.Fatalf("Start = %+v, %v", res, err)
	}
	st, _ := a.Status(context.Background())
	if !st.IsRunning || st.PID == 0 {
		t.Fatalf("Status = %+v", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err = a.Stop(ctx)
	if err != nil || !res.Success {
		t.Fatalf("Stop = %+v, %v", res, err)
	}
	if st, _ := a.Status(context.Background()); st.IsRunning {
		t.Fatalf("still running after Stop: %+v", st)
	}
	if _, err := os.Stat(filepath.Join(dir, "mihomo.log")); err != nil {
		t.Fatalf("engine log not created: %v", err)
	}
}

func TestCrashRestartsAreBounded(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("uses a shell script as the engine")
	}
	a, dir := newTestAdapter(t, "port: 7890\n")
	a.restartDelay = 10 * time.Millisecond
	runs := filepath.Join(dir, "runs")
	writeScript(t, a.opts.BinaryPath, fmt.Sprintf("echo run >> %q\nexit 3\n", runs))

	if res, _ := a.Start(context.Background()); !res.Success {
		t.Fatalf("Start = %+v", res)
	}

	count := func() int {
		data, _ := os.ReadFile(runs)
		return strings.Count(string(data), "run")
	}
	deadline := time.Now().Add(5 * time.Second)
	for count() < restartAttempts+1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)
	if got := count(); got != restartAttempts+1 {
		t.Fatalf("engine ran %d times, want %d", got, restartAttempts+1)
	}
	if a.trackedPID() != 0 {
		t.Fatal("adapter still tracks a process after giving up")
	}
}

func TestSaveReloadsRunningEngine(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("uses a shell script as the engine")
	}
	fc, addr := startController(t)
	a, _ := newTestAdapter(t, fmt.Sprintf("external-controller: %s\n", addr))
	writeScript(t, a.opts.BinaryPath, "exec sleep 30\n")
	if res, _ := a.Start(context.Background()); !res.Success {
		t.Fatalf("Start = %+v", res)
	}
	defer a.Stop(context.Background())

	res, _ := a.SaveConfig(context.Background(), map[string]any{"external-controller": addr, "mode": "global"})
	if !res.Success {
		t.Fatalf("SaveConfig = %+v", res)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.reloads) != 1 || !filepath.IsAbs(fc.reloads[0]) {
		t.Fatalf("reloads = %v", fc.reloads)
	}
}
