package core

import "time"

// Ticker is the part of time.Ticker the auto refresh needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// onTick starts one compound refresh unless the previous one is still
// running. It must not block the state goroutine.
func (c *Coordinator) onTick() {
	if !c.refreshing.CompareAndSwap(false, true) {
		c.log.Debug().Msg("auto refresh skipped, previous cycle still running")
		return
	}
	c.background(func() {
		defer c.refreshing.Store(false)
		c.RefreshAll(c.ctx)
	})
}
