package effects

import (
	"fmt"

	"statecraft/internal/xerr"
)

// Validate walks an effect tree before execution and checks the required
// keys on provider-backed leaves, per §4.5's validation clause.
func Validate(n *Node) error {
	if n == nil {
		return nil
	}

	if err := validateComplexityClass(n.ComplexityClass); err != nil {
		return err
	}

	switch n.Kind {
	case KindCallLLM:
		if err := requireKeys(n.ProviderConfig, "provider", "model", "prompt"); err != nil {
			return err
		}

	case KindCoordinateAgents:
		for i, spec := range n.CoordinateAgentSpecs {
			if err := requireKeys(spec, "id", "model", "role", "task"); err != nil {
				return xerr.Wrap(xerr.EffectValidation, "coordinate_agents",
					fmt.Sprintf("entry %d: %v", i, err), err)
			}
		}
	}

	for _, child := range n.Children {
		if err := Validate(child); err != nil {
			return err
		}
	}
	if n.Action != nil {
		if err := Validate(n.Action); err != nil {
			return err
		}
	}
	if n.Compensation != nil {
		if err := Validate(n.Compensation); err != nil {
			return err
		}
	}
	for _, step := range n.SagaSteps {
		if err := Validate(step.Action); err != nil {
			return err
		}
		if err := Validate(step.Compensation); err != nil {
			return err
		}
	}

	return nil
}

// validateComplexityClass rejects any non-empty class outside the four §4.5
// pins — an empty class is fine, it just means "default pool".
func validateComplexityClass(class ComplexityClass) error {
	switch class {
	case "", ComplexitySimple, ComplexityMedium, ComplexityComplex, ComplexityAIIntensive:
		return nil
	default:
		return xerr.New(xerr.EffectValidation, fmt.Sprintf("unknown complexity_class %q", class))
	}
}

func requireKeys(m map[string]any, keys ...string) error {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil || v == "" {
			return xerr.New(xerr.EffectValidation, fmt.Sprintf("missing required key %q", k))
		}
	}
	return nil
}
