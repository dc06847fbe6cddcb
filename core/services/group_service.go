package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"mihomo-launcher/core/config"
	"mihomo-launcher/core/engine"
	"mihomo-launcher/core/state"
	"mihomo-launcher/internal/debuglog"
)

// GlobalGroup is the engine's built-in group. It is listed after all others.
const GlobalGroup = "GLOBAL"

// GroupService reads proxy groups from the engine and switches their selection.
type GroupService struct {
	Adapter engine.Adapter
}

// NewGroupService creates a GroupService.
func NewGroupService(adapter engine.Adapter) *GroupService {
	return &GroupService{Adapter: adapter}
}

// ParseGroups splits the engine's proxy table into groups and plain nodes.
// An entry is a group iff it lists members. A group's Now is dropped when it
// does not name one of its members.
func ParseGroups(proxies map[string]engine.ProxyEntry) ([]*state.ProxyGroup, map[string]state.ProxyNode) {
	groups := make([]*state.ProxyGroup, 0)
	nodes := make(map[string]state.ProxyNode)
	for key, entry := range proxies {
		name := entry.Name
		if name == "" {
			name = key
		}
		if !entry.IsGroup() {
			nodes[name] = state.ProxyNode{Name: name, Delay: entry.LastDelay()}
			continue
		}
		members := append([]string(nil), entry.Members()...)
		now := entry.Now
		if now != "" && !mapset.NewSet(members...).Contains(now) {
			debuglog.DebugLog("ParseGroups: group %s selects %q which is not a member", name, now)
			now = ""
		}
		groups = append(groups, &state.ProxyGroup{
			Name:    name,
			Type:    entry.Type,
			Proxies: members,
			Now:     now,
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		gi, gj := groups[i].Name == GlobalGroup, groups[j].Name == GlobalGroup
		if gi != gj {
			return gj
		}
		return groups[i].Name < groups[j].Name
	})
	return groups, nodes
}

// Refresh replaces the group snapshot with the engine's current table.
func (g *GroupService) Refresh(ctx context.Context, _ state.State) ([]state.Action, error) {
	if err := requireAdapter(g.Adapter, "refresh groups"); err != nil {
		return nil, err
	}
	res, err := g.Adapter.GetProxies(ctx)
	if err != nil {
		return nil, unexpected("refresh groups", err)
	}
	if !res.Success {
		return nil, engineFailure("refresh groups", res.Error)
	}
	groups, nodes := ParseGroups(res.Proxies)
	debuglog.DebugLog("Refresh: %d groups, %d nodes", len(groups), len(nodes))
	return []state.Action{state.SetProxyGroups{Groups: groups, Nodes: nodes}}, nil
}

// Select switches group to node. State is patched only after the engine
// confirms the switch.
func (g *GroupService) Select(ctx context.Context, group, node string) ([]state.Action, error) {
	if strings.TrimSpace(group) == "" || strings.TrimSpace(node) == "" {
		return nil, fmt.Errorf("select proxy: %w: group and node are required", config.ErrInvalidInput)
	}
	if err := requireAdapter(g.Adapter, "select proxy"); err != nil {
		return nil, err
	}
	res, err := g.Adapter.SelectProxy(ctx, group, node)
	if err != nil {
		return nil, unexpected("select proxy", err)
	}
	if !res.Success {
		return nil, engineFailure("select proxy", res.Error)
	}
	debuglog.InfoLog("Select: group %s switched to %s", group, node)
	return []state.Action{state.UpdateProxySelection{Group: group, Node: node}}, nil
}
