package daemon

import (
	"context"
	"maps"
	"os"
	"time"
)

// hookData is the payload shared by every daemon event.
func (d *Daemon) hookData() map[string]interface{} {
	return map[string]interface{}{
		"pid":      os.Getpid(),
		"addr":     d.gatewayServer.Addr(),
		"engine":   d.runtime.Engine.Name(),
		"data_dir": d.config.DataDir,
	}
}

// announce runs the hooks for a daemon event synchronously, bounded by
// ShutdownTimeout. Keys in extra override the shared payload.
func (d *Daemon) announce(event string, extra map[string]interface{}) {
	data := d.hookData()
	maps.Copy(data, extra)

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	for _, res := range d.hookManager.Run(ctx, event, data) {
		if res.Err != nil {
			d.logger.Warn().Err(res.Err).Str("event", event).Str("hook", res.Hook).Msg("Hook failed")
		}
	}
}

func (d *Daemon) uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}
