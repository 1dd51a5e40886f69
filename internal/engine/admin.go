package engine

import (
	"context"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

// Administrative commands accepted on the system-commands stream.
const (
	cmdPause      = "pause"
	cmdResume     = "resume"
	cmdForceOpen  = "force-open"
	cmdForceClose = "force-close"
)

// handleCommand applies one administrative command. Unknown commands are
// logged and dropped; a command must never disturb the pipeline.
func (e *Engine) handleCommand(values map[string]interface{}) {
	command, _ := values["command"].(string)
	chain, _ := values["chain"].(string)

	switch command {
	case cmdPause:
		e.deps.Queue.Pause()
		e.logger.Info("queue paused by command")
	case cmdResume:
		e.deps.Queue.Resume()
		e.logger.Info("queue resumed by command")
	case cmdForceOpen:
		if chain == "" {
			e.logger.Warn("force-open without chain")
			return
		}
		e.deps.Breakers.ForceOpen(model.Chain(chain), "administrative command")
		e.logger.Info("breaker forced open by command", "chain", chain)
	case cmdForceClose:
		if chain == "" {
			e.logger.Warn("force-close without chain")
			return
		}
		e.deps.Breakers.ForceClose(model.Chain(chain))
		e.logger.Info("breaker forced closed by command", "chain", chain)
	default:
		e.logger.Warn("unknown command dropped", "command", command)
	}
}

// StaleCleaner returns the health monitor's stale-pending reclaim hook, or
// nil when the engine runs without a stream consumer. A message is stale
// once it has been pending for twice the execution timeout.
func (e *Engine) StaleCleaner() func(ctx context.Context) {
	if e.consumer == nil {
		return nil
	}
	return func(ctx context.Context) {
		e.consumer.reclaimStale(ctx, 2*e.cfg.ExecutionTimeout())
	}
}
