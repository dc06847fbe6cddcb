package services

import (
	"context"
	"errors"
	"testing"

	"mihomo-launcher/core/config"
	"mihomo-launcher/core/engine"
	"mihomo-launcher/core/state"
)

func sampleProxies() map[string]engine.ProxyEntry {
	return map[string]engine.ProxyEntry{
		"GLOBAL": {Name: "GLOBAL", Type: "Selector", All: []string{"Proxy", "DIRECT"}, Now: "Proxy"},
		"Proxy":  {Name: "Proxy", Type: "Selector", All: []string{"hk", "jp"}, Now: "jp"},
		"Auto":   {Name: "Auto", Type: "URLTest", Proxies: []string{"hk", "jp"}, Now: "us"},
		"hk":     {Name: "hk", Type: "Shadowsocks", History: []engine.DelayHistory{{Delay: 90}, {Delay: 80}}},
		"jp":     {Name: "jp", Type: "Vmess"},
		"DIRECT": {Type: "Direct"},
	}
}

func TestParseGroups(t *testing.T) {
	groups, nodes := ParseGroups(sampleProxies())

	var names []string
	for _, g := range groups {
		names = append(names, g.Name)
	}
	want := []string{"Auto", "Proxy", "GLOBAL"}
	if len(names) != len(want) {
		t.Fatalf("Groups = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Groups = %v, want %v", names, want)
		}
	}

	if groups[0].Now != "" {
		t.Errorf("Auto.now must be dropped when not a member, got %q", groups[0].Now)
	}
	if groups[1].Now != "jp" {
		t.Errorf("Proxy.now = %q, want jp", groups[1].Now)
	}
	if nodes["hk"].Delay != 80 {
		t.Errorf("hk delay = %d, want newest history entry 80", nodes["hk"].Delay)
	}
	if nodes["jp"].Delay != engine.FailedDelay {
		t.Errorf("jp delay = %d, want %d", nodes["jp"].Delay, engine.FailedDelay)
	}
	if _, ok := nodes["DIRECT"]; !ok {
		t.Error("Entries without a name must be keyed by their table key")
	}
}

func TestGroupService_Select(t *testing.T) {
	fa := newFakeAdapter()
	svc := NewGroupService(fa)

	s := state.Initial()
	s.ProxyGroups = []*state.ProxyGroup{
		{Name: "A", Proxies: []string{"n1", "n2"}, Now: "n1"},
		{Name: "B", Proxies: []string{"n1", "n2"}, Now: "n1"},
	}

	actions, err := svc.Select(context.Background(), "A", "n2")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	got := state.ReduceAll(s, actions...)
	if got.ProxyGroups[0].Now != "n2" {
		t.Errorf("A.now = %q, want n2", got.ProxyGroups[0].Now)
	}
	if got.ProxyGroups[1] != s.ProxyGroups[1] {
		t.Error("B must be referentially unchanged")
	}
}

func TestGroupService_SelectKeepsNamesVerbatim(t *testing.T) {
	fa := newFakeAdapter()
	s := state.Initial()
	s.ProxyGroups = []*state.ProxyGroup{{Name: " Auto ", Proxies: []string{"n1", " n2"}, Now: "n1"}}

	actions, err := NewGroupService(fa).Select(context.Background(), " Auto ", " n2")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if fa.selected != [2]string{" Auto ", " n2"} {
		t.Errorf("Adapter got %q", fa.selected)
	}
	if got := state.ReduceAll(s, actions...); got.ProxyGroups[0].Now != " n2" {
		t.Errorf("now = %q, want %q", got.ProxyGroups[0].Now, " n2")
	}
}

func TestGroupService_SelectFailures(t *testing.T) {
	t.Run("refused", func(t *testing.T) {
		fa := newFakeAdapter()
		fa.sel = engine.Result{Success: false, Error: "group not selectable"}
		actions, err := NewGroupService(fa).Select(context.Background(), "A", "n2")
		if !errors.Is(err, engine.ErrEngineFailure) || actions != nil {
			t.Errorf("Expected ErrEngineFailure and no actions, got %v %v", actions, err)
		}
	})
	t.Run("transport", func(t *testing.T) {
		fa := newFakeAdapter()
		fa.selErr = errors.New("dial tcp: refused")
		_, err := NewGroupService(fa).Select(context.Background(), "A", "n2")
		if !errors.Is(err, engine.ErrUnexpected) {
			t.Errorf("Expected ErrUnexpected, got %v", err)
		}
	})
	t.Run("blank", func(t *testing.T) {
		fa := newFakeAdapter()
		_, err := NewGroupService(fa).Select(context.Background(), " ", "n2")
		if !errors.Is(err, config.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
		if fa.count("select") != 0 {
			t.Error("Adapter must not be called for blank input")
		}
	})
}

func TestGroupService_Refresh(t *testing.T) {
	fa := newFakeAdapter()
	fa.proxies = engine.ProxiesResult{Success: true, Proxies: sampleProxies()}
	actions, err := NewGroupService(fa).Refresh(context.Background(), state.Initial())
	if err != nil {
		t.Fatal(err)
	}
	got := state.ReduceAll(state.Initial(), actions...)
	if len(got.ProxyGroups) != 3 || len(got.Nodes) != 3 {
		t.Errorf("Unexpected snapshot: %d groups, %d nodes", len(got.ProxyGroups), len(got.Nodes))
	}

	fa.proxies = engine.ProxiesResult{Success: false, Error: "api down"}
	if _, err := NewGroupService(fa).Refresh(context.Background(), state.Initial()); !errors.Is(err, engine.ErrEngineFailure) {
		t.Errorf("Expected ErrEngineFailure, got %v", err)
	}
}
