package fsm

import "statecraft/internal/xerr"

// InitPlugins runs every installed plugin's Init hook in declaration order
// (§4.3 step 3), threading the instance through each. It is exported so the
// manager package can run it after registering the instance with the
// registry — keeping "register before any side effects" true without fsm
// needing to import registry.
func InitPlugins(i *Instance) (*Instance, error) {
	for _, p := range i.Kind.plugins {
		if p.Hooks.Init == nil {
			continue
		}
		next, err := p.Hooks.Init(i)
		if err != nil {
			return i, xerr.Wrap(xerr.PluginFailed, p.Name, err.Error(), err)
		}
		if next != nil {
			i = next
		}
	}
	return i, nil
}

// RunInitialEnterHooks runs enter_hooks[initial_state] in declaration order
// (§4.3 step 4), crash-isolated the same way Navigate's own enter-hook step
// is.
func RunInitialEnterHooks(i *Instance) *Instance {
	return runHooksSafely(i, i.Kind.enterHooks[i.CurrentState()])
}
