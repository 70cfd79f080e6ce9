package fsm

import (
	"context"
	"time"

	"statecraft/internal/effects"
	"statecraft/internal/journal"
	"statecraft/internal/logging"
	"statecraft/internal/pubsub"
	"statecraft/internal/telemetry"
	"statecraft/internal/xerr"

	"go.uber.org/zap"
)

// NavigateOpts carries the optional per-call knobs §4.4 allows — currently
// just a soft deadline; callers that don't care can pass the zero value.
type NavigateOpts struct {
	// Timeout, if non-zero, is the soft ceiling after which Navigate
	// returns error(:timeout) to the caller while the transition may still
	// complete internally (§5).
	Timeout time.Duration
}

// Deps bundles the collaborators Navigate needs beyond the instance and
// kind themselves — journal, pubsub, and effects are leaf packages fsm
// imports directly, so there is no cycle in wiring them in here.
type Deps struct {
	Journal journal.Journal
	Bus     pubsub.Bus
	Effects *effects.Engine
	Sink    telemetry.Sink
}

// Navigate runs the deterministic 13-step transition algorithm from §4.4
// against i, mutating it in place and returning the same instance on
// success (instance' is i, not a copy — callers that want the pre-image
// should snapshot first).
func Navigate(i *Instance, event Event, eventData map[string]any, opts NavigateOpts, deps Deps) (*Instance, error) {
	sink := deps.Sink
	if sink == nil {
		sink = telemetry.Nop
	}

	if opts.Timeout > 0 {
		done := make(chan struct{})
		var result *Instance
		var err error
		go func() {
			result, err = navigate(i, event, eventData, deps, sink)
			close(done)
		}()
		select {
		case <-done:
			return result, err
		case <-time.After(opts.Timeout):
			return i, xerr.New(xerr.Timeout, "navigate exceeded soft deadline")
		}
	}

	return navigate(i, event, eventData, deps, sink)
}

func navigate(i *Instance, event Event, eventData map[string]any, deps Deps, sink telemetry.Sink) (*Instance, error) {
	i.transMu.Lock()
	defer i.transMu.Unlock()

	start := time.Now()
	oldState := i.CurrentState()

	// Step 1: lookup.
	toState, ok := i.Kind.lookup(oldState, event)
	if !ok {
		return i, xerr.New(xerr.InvalidTransition, string(oldState)+" + "+string(event))
	}

	// Step 2: validations, folded in declared order.
	for _, v := range i.Kind.validations {
		if err := v(i, event, eventData); err != nil {
			return i, xerr.Wrap(xerr.ValidationError, "", err.Error(), err)
		}
	}

	// Step 3: pre-plugins. Abort returns the instance as it stood before
	// this step, per §4.4's failure semantics for :plugin_failed.
	for _, p := range i.Kind.plugins {
		if p.Hooks.BeforeTransition == nil {
			continue
		}
		next, err := p.Hooks.BeforeTransition(i, oldState, event, eventData)
		if err != nil {
			return i, xerr.Wrap(xerr.PluginFailed, p.Name, err.Error(), err)
		}
		if next != nil {
			i = next
		}
	}

	// Step 4: exit hook, crash-isolated — a panicking hook is advisory,
	// never fatal to the transition.
	i = runHooksSafely(i, i.Kind.exitHooks[oldState])

	// Step 5: state change, event_data merge (event_data wins), metadata bump.
	i.mu.Lock()
	i.setState(toState)
	for k, v := range eventData {
		i.data[k] = v
	}
	i.Metadata.UpdatedAt = time.Now()
	i.Metadata.Version++
	i.mu.Unlock()

	// Step 6: enter hook.
	i = runHooksSafely(i, i.Kind.enterHooks[toState])

	// Step 7: post-plugins — advisory, logged only.
	for _, p := range i.Kind.plugins {
		if p.Hooks.AfterTransition == nil {
			continue
		}
		if err := p.Hooks.AfterTransition(i, oldState, toState, event, eventData); err != nil {
			logging.ForFSM(i.TenantID, i.ID, i.Kind.Name).Warn("fsm: after_transition hook failed",
				zap.String("plugin", p.Name), zap.Error(err))
		}
	}

	// Step 8: metrics.
	i.mu.Lock()
	i.recordTransition(time.Since(start))
	i.mu.Unlock()

	// Step 9: journal append — non-fatal for the transition, logged on error.
	if deps.Journal != nil {
		if _, err := deps.Journal.AppendTransition(i.TenantID, i.Kind.Name, i.ID, string(oldState), string(toState), string(event), eventData); err != nil {
			logging.ForFSM(i.TenantID, i.ID, i.Kind.Name).Warn("fsm: journal append failed", zap.Error(err))
		}
	}

	// Step 10: broadcast — to the tenant pub/sub channel and, independently,
	// to every id in the instance's explicit subscriber set (§3, §4.4 step
	// 10's "subscribers and the tenant pub/sub channel").
	subscribers := i.Subscribers()
	if deps.Bus != nil {
		msg := pubsub.Message{
			Event: "fsm_state_changed",
			Payload: map[string]any{
				"fsm_id":    i.ID,
				"event":     string(event),
				"from":      string(oldState),
				"to":        string(toState),
				"data":      i.Snapshot(),
				"timestamp": time.Now(),
			},
		}
		_ = deps.Bus.Publish(context.Background(), i.TenantID, msg)
		for _, subID := range subscribers {
			_ = deps.Bus.PublishToSubscriber(context.Background(), subID, msg)
		}
	}

	sink.Emit(telemetry.TopicBroadcast, telemetry.Fields{
		"event_type":       "fsm_state_changed",
		"subscriber_count": len(subscribers),
		"tenant_id":        i.TenantID,
		"fsm_id":           i.ID,
	})

	// Steps 11-12: effects cancellation and entry effect start, both
	// non-blocking with respect to the caller.
	if deps.Effects != nil {
		deps.Effects.CancelState(i.ID, string(oldState))
		if tree := i.Kind.EffectFor(toState); tree != nil {
			_ = deps.Effects.Start(context.Background(), i.TenantID, i.ID, string(toState), tree, i)
		}
	}

	sink.Emit(telemetry.TopicTransition, telemetry.Fields{
		"fsm_id":      i.ID,
		"kind":        i.Kind.Name,
		"from":        string(oldState),
		"to":          string(toState),
		"event":       string(event),
		"duration_us": telemetry.Duration(start),
		"tenant_id":   i.TenantID,
	})

	return i, nil
}

// runHooksSafely runs hooks in order, recovering a panic from any single
// hook and logging it as advisory — per §4.4's "hook crash — logged; the
// instance at the point of crash is used for subsequent steps".
func runHooksSafely(i *Instance, hooks []HookFunc) *Instance {
	for _, h := range hooks {
		i = runHookSafely(i, h)
	}
	return i
}

func runHookSafely(i *Instance, hook HookFunc) (out *Instance) {
	out = i
	defer func() {
		if r := recover(); r != nil {
			logging.ForFSM(i.TenantID, i.ID, i.Kind.Name).Warn("fsm: hook panicked, instance left as-is", zap.Any("panic", r))
			out = i
		}
	}()
	if next := hook(i); next != nil {
		out = next
	}
	return out
}
