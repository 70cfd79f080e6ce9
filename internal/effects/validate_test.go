package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statecraft/internal/xerr"
)

func TestValidateCallLLMRequiresProviderModelPrompt(t *testing.T) {
	err := Validate(CallLLM(map[string]any{"provider": "anthropic", "model": "claude", "prompt": "hi"}))
	require.NoError(t, err)

	err = Validate(CallLLM(map[string]any{"provider": "anthropic"}))
	require.Error(t, err)
	assert.Equal(t, xerr.EffectValidation, xerr.TagOf(err))
}

func TestValidateCoordinateAgentsRequiresEveryEntry(t *testing.T) {
	err := Validate(CoordinateAgents([]map[string]any{
		{"id": "a1", "model": "claude", "role": "writer", "task": "draft"},
		{"id": "a2", "model": "gpt-4", "role": "reviewer", "task": "review"},
	}))
	require.NoError(t, err)

	err = Validate(CoordinateAgents([]map[string]any{
		{"id": "a1", "model": "claude", "role": "writer", "task": "draft"},
		{"id": "a2", "role": "reviewer"},
	}))
	require.Error(t, err)
	assert.Equal(t, xerr.EffectValidation, xerr.TagOf(err))
}

func TestValidateWalksNestedCompositeNodes(t *testing.T) {
	bad := CallLLM(map[string]any{"provider": "anthropic"})
	tree := Sequence(Log("info", "start"), bad, Log("info", "end"))

	err := Validate(tree)
	require.Error(t, err)
}

func TestValidateAcceptsNilNode(t *testing.T) {
	assert.NoError(t, Validate(nil))
}

func TestValidateWalksSagaStepsAndCompensation(t *testing.T) {
	bad := CallLLM(map[string]any{"model": "claude"})
	tree := Saga(SagaStep{Action: bad, Compensation: Log("info", "undo")})

	err := Validate(tree)
	require.Error(t, err)
}

func TestValidateAcceptsEveryComplexityClassAndRejectsUnknown(t *testing.T) {
	for _, class := range []ComplexityClass{"", ComplexitySimple, ComplexityMedium, ComplexityComplex, ComplexityAIIntensive} {
		n := Log("info", "hi").WithComplexityClass(class)
		assert.NoError(t, Validate(n), "class %q should be valid", class)
	}

	n := Log("info", "hi").WithComplexityClass("llm")
	err := Validate(n)
	require.Error(t, err)
	assert.Equal(t, xerr.EffectValidation, xerr.TagOf(err))
}

func TestLeafConstructorsDefaultToSpecComplexityClasses(t *testing.T) {
	assert.Equal(t, ComplexitySimple, Call("target").ComplexityClass)
	assert.Equal(t, ComplexityAIIntensive, CallLLM(map[string]any{}).ComplexityClass)
	assert.Equal(t, ComplexityMedium, EmbedText(map[string]any{}).ComplexityClass)
	assert.Equal(t, ComplexityMedium, VectorSearch(map[string]any{}).ComplexityClass)
	assert.Equal(t, ComplexityComplex, InvokeAgent(map[string]any{}).ComplexityClass)
	assert.Equal(t, ComplexityComplex, CoordinateAgents(nil).ComplexityClass)
	assert.Equal(t, ComplexityAIIntensive, RAGPipeline(map[string]any{}).ComplexityClass)
}
