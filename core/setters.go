package core

import (
	"context"
	"time"

	"mihomo-launcher/core/state"
)

// Field-level setters. They only touch staged state; nothing reaches the
// engine until SaveConfig.

func (c *Coordinator) SetConfigURL(url string) {
	c.dispatch(c.ctx, state.SetConfigURL{URL: url})
}

func (c *Coordinator) SetConfigText(text string) {
	c.dispatch(c.ctx, state.SetConfigText{Text: text})
}

func (c *Coordinator) SetTunMode(enabled bool) {
	c.dispatch(c.ctx, state.SetTunMode{Enabled: enabled})
}

func (c *Coordinator) SetUnifiedDelay(enabled bool) {
	c.dispatch(c.ctx, state.SetUnifiedDelay{Enabled: enabled})
}

func (c *Coordinator) SetTCPConcurrent(enabled bool) {
	c.dispatch(c.ctx, state.SetTCPConcurrent{Enabled: enabled})
}

func (c *Coordinator) SetEnableSniffer(enabled bool) {
	c.dispatch(c.ctx, state.SetEnableSniffer{Enabled: enabled})
}

func (c *Coordinator) SetPort(port int) {
	c.dispatch(c.ctx, state.SetPort{Port: port})
}

func (c *Coordinator) SetSocksPort(port int) {
	c.dispatch(c.ctx, state.SetSocksPort{Port: port})
}

func (c *Coordinator) SetMixedPort(port int) {
	c.dispatch(c.ctx, state.SetMixedPort{Port: port})
}

func (c *Coordinator) SetMode(mode string) {
	c.dispatch(c.ctx, state.SetMode{Mode: mode})
}

func (c *Coordinator) SetLogLevel(level string) {
	c.dispatch(c.ctx, state.SetLogLevel{Level: level})
}

// SetAutoRefresh turns the periodic refresh on or off. The timer is armed or
// torn down as soon as the change is applied.
func (c *Coordinator) SetAutoRefresh(enabled bool) {
	c.dispatch(c.ctx, state.SetAutoRefresh{Enabled: enabled})
}

// SetRefreshInterval changes the auto refresh period. Non-positive values are ignored.
func (c *Coordinator) SetRefreshInterval(d time.Duration) {
	c.dispatch(c.ctx, state.SetRefreshInterval{Interval: d})
}

// SetProxyAutoStart records the flag and persists it in the background.
func (c *Coordinator) SetProxyAutoStart(enabled bool) {
	c.dispatch(c.ctx, state.SetProxyAutoStart{Enabled: enabled})
	if c.prefs == nil {
		return
	}
	c.background(func() {
		if err := c.prefs.SetProxyAutoStart(enabled); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist auto start flag")
		}
	})
}

// Reset drops everything back to the initial state.
func (c *Coordinator) Reset(ctx context.Context) {
	c.dispatch(ctx, state.ResetState{})
}
