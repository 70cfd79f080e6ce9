package main

import (
	"errors"

	"statecraft/internal/discovery"
	"statecraft/internal/effects"
	"statecraft/internal/fsm"
)

// registerBuiltinKinds populates the discovery directory with one worked
// example kind, demonstrating states, transitions, hooks, a validator, a
// plugin, and an entry effect tree. A real deployment registers its own
// kinds here (or from an init-time loader) before the server starts
// accepting create_fsm calls — discovery has no reflection-based scanning,
// matching the teacher's preference for explicit registration over magic.
func registerBuiltinKinds(dir *discovery.Directory) {
	k, err := fsm.NewKind("demo.order").
		Describe("a minimal order fulfillment workflow").
		Initial("placed").
		State("paid").
		State("shipped").
		State("cancelled").
		Transition("placed", "pay", "paid").
		Transition("placed", "cancel", "cancelled").
		Transition("paid", "ship", "shipped").
		Transition("paid", "cancel", "cancelled").
		Validate(func(i *fsm.Instance, event fsm.Event, eventData map[string]any) error {
			if event == "pay" {
				amount, _ := eventData["amount"].(float64)
				if amount <= 0 {
					return errAmountRequired
				}
			}
			return nil
		}).
		OnEnter("paid", func(i *fsm.Instance) *fsm.Instance {
			i.PutData("paid_at", i.Metadata.UpdatedAt)
			return i
		}).
		Plugin(fsm.Plugin{
			Name: "audit_log",
			Hooks: fsm.PluginHooks{
				AfterTransition: func(i *fsm.Instance, old, new fsm.State, event fsm.Event, eventData map[string]any) error {
					i.PluginData("audit_log")["last_event"] = string(event)
					return nil
				},
			},
		}).
		Effect("shipped", effects.Sequence(
			effects.Log("info", "order shipped"),
			effects.Delay(0),
		)).
		Build()
	if err != nil {
		panic("registerBuiltinKinds: " + err.Error())
	}
	dir.Register(k)
}

var errAmountRequired = errors.New("pay event requires a positive amount")
