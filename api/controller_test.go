package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "s3cret")
	c.DelayURL = "http://probe.test/204"
	c.DelayTimeout = 1500 * time.Millisecond
	return c
}

func TestVersionSendsBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/version" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"version":"v1.19.0","meta":true}`))
	})
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "v1.19.0" {
		t.Fatalf("version = %q", v)
	}
}

func TestProxies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"proxies":{
			"Auto":{"name":"Auto","type":"Selector","now":"n1","all":["n1","n2"]},
			"n1":{"name":"n1","type":"Shadowsocks","history":[{"time":"t","delay":42}]}
		}}`))
	})
	proxies, err := c.Proxies(context.Background())
	if err != nil {
		t.Fatalf("Proxies: %v", err)
	}
	if len(proxies) != 2 {
		t.Fatalf("got %d proxies", len(proxies))
	}
	if g := proxies["Auto"]; g.Now != "n1" || len(g.All) != 2 {
		t.Fatalf("group = %+v", g)
	}
	if n := proxies["n1"]; len(n.History) != 1 || n.History[0].Delay != 42 {
		t.Fatalf("node = %+v", n)
	}
}

func TestSwitchProxyEscapesGroup(t *testing.T) {
	var gotPath, gotName string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		gotPath = r.URL.EscapedPath()
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotName = body["name"]
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.SwitchProxy(context.Background(), "My Group", "node/1"); err != nil {
		t.Fatalf("SwitchProxy: %v", err)
	}
	if gotPath != "/proxies/My%20Group" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotName != "node/1" {
		t.Fatalf("name = %q", gotName)
	}
}

func TestSwitchProxyStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Selector update error: not found"}`))
	})
	err := c.SwitchProxy(context.Background(), "Auto", "ghost")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Code != http.StatusBadRequest || se.Message != "Selector update error: not found" {
		t.Fatalf("status error = %+v", se)
	}
}

func TestDelay(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/proxies/n1/delay" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("timeout") != "1500" || q.Get("url") != "http://probe.test/204" {
			t.Errorf("query = %v", q)
		}
		_, _ = w.Write([]byte(`{"delay":87}`))
	})
	d, err := c.Delay(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if d != 87 {
		t.Fatalf("delay = %d", d)
	}
}

func TestDelayTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(`{"message":"Timeout"}`))
	})
	if _, err := c.Delay(context.Background(), "n1"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestReloadConfig(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/configs" || r.URL.Query().Get("force") != "true" {
			t.Errorf("url = %s", r.URL)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPath = body["path"]
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.ReloadConfig(context.Background(), "/tmp/config.yaml"); err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}
	if gotPath != "/tmp/config.yaml" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestLoadControllerConfig(t *testing.T) {
	dir := t.TempDir()
	write := func(name, text string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	addr, secret, err := LoadControllerConfig(write("a.yaml", "external-controller: 0.0.0.0:9090\nsecret: abc\n"))
	if err != nil {
		t.Fatalf("LoadControllerConfig: %v", err)
	}
	if addr != "127.0.0.1:9090" || secret != "abc" {
		t.Fatalf("got %q %q", addr, secret)
	}

	addr, _, err = LoadControllerConfig(write("b.yaml", "external-controller: ':9091'\n"))
	if err != nil || addr != "127.0.0.1:9091" {
		t.Fatalf("got %q, %v", addr, err)
	}

	if _, _, err := LoadControllerConfig(write("c.yaml", "port: 7890\n")); !errors.Is(err, ErrNoController) {
		t.Fatalf("err = %v, want ErrNoController", err)
	}
	if _, _, err := LoadControllerConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:9090":          "http://127.0.0.1:9090",
		"http://10.0.0.1:9090/":   "http://10.0.0.1:9090",
		"https://ctl.example.com": "https://ctl.example.com",
	}
	for in, want := range cases {
		if got := baseURL(in); got != want {
			t.Errorf("baseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
