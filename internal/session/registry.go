package session

import (
	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/actions"
	"github.com/ricochet1k/officemesh/internal/domain"
	"github.com/ricochet1k/officemesh/pkg/protocol"
)

// CommandState is the latest value reported for a tracked command.
type CommandState struct {
	Value   any  `json:"value"`
	Enabled bool `json:"enabled"`
}

// registry tracks status subscriptions. Each subscription round gets a new
// epoch; notifications stamped with an older epoch, or arriving while the
// registry is suspended, are dropped.
type registry struct {
	table  *actions.Table
	epoch  uint64
	active bool
	values map[string]CommandState
}

func newRegistry(table *actions.Table) registry {
	return registry{table: table, values: make(map[string]CommandState)}
}

func (r *registry) begin() uint64 {
	r.epoch++
	r.active = true
	r.values = make(map[string]CommandState)
	return r.epoch
}

func (r *registry) suspend() {
	r.active = false
}

// accept validates a notification. Epoch 0 means the engine did not stamp it.
func (r *registry) accept(env protocol.Envelope) (CommandState, bool) {
	if !r.active || env.State == nil {
		return CommandState{}, false
	}
	if env.Epoch != 0 && env.Epoch != r.epoch {
		return CommandState{}, false
	}
	if !r.table.IsTracked(env.Command) {
		return CommandState{}, false
	}
	d, ok := r.table.ByCommand(env.Command)
	if !ok {
		d = actions.Descriptor{Command: env.Command, Encoding: actions.EncodingForCommand(env.Command)}
	}
	st := CommandState{Value: actions.Extract(d, *env.State), Enabled: env.IsEnabled()}
	r.values[env.Command] = st
	return st, true
}

func (r *registry) snapshot() map[string]CommandState {
	out := make(map[string]CommandState, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (c *Controller) subscribeAllLocked() {
	epoch := c.reg.begin()
	tracked := c.cfg.Actions.Tracked()
	for _, command := range tracked {
		c.sendLocked(protocol.Subscribe(command, epoch))
	}
	c.log.Debug("subscribed", zap.Uint64("epoch", epoch), zap.Int("commands", len(tracked)))
}

func (c *Controller) onStateChangedLocked(env protocol.Envelope) {
	st, ok := c.reg.accept(env)
	if !ok {
		c.log.Debug("dropping state notification",
			zap.String("command", env.Command),
			zap.Uint64("epoch", env.Epoch),
			zap.Uint64("current_epoch", c.reg.epoch))
		return
	}
	c.publishLocked(domain.NewStateChangedEvent(c.id, env.Command, st.Value, st.Enabled))
}

// States returns the latest value of every tracked command reported since
// the last subscription round.
func (c *Controller) States() map[string]CommandState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.snapshot()
}
