package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractActionableOutputs(t *testing.T) {
	text := "Here is the fix:\n```go\nfunc add(a, b int) int { return a + b }\n```\n" +
		"I recommend adding tests for overflow. " +
		"TODO: wire the parser into the CLI! " +
		"Please update the design document with the new flow. " +
		"Thanks. " +
		"The weather is nice today."

	got := ExtractActionableOutputs(text)

	want := []ActionableOutput{
		{Kind: KindCode, Content: "func add(a, b int) int { return a + b }"},
		{Kind: KindRecommendation, Content: "I recommend adding tests for overflow"},
		{Kind: KindTask, Content: "TODO: wire the parser into the CLI"},
		{Kind: KindDocument, Content: "Please update the design document with the new flow"},
	}
	assert.Equal(t, want, got)
}

func TestExtractActionableOutputs_Dedup(t *testing.T) {
	got := ExtractActionableOutputs("You should restart it.\nYou should restart it.")
	assert.Len(t, got, 1)
}

func TestExtractActionableOutputs_Empty(t *testing.T) {
	assert.Empty(t, ExtractActionableOutputs(""))
	assert.Empty(t, ExtractActionableOutputs("ok. fine. sure."))
}

func TestClassifyOrder(t *testing.T) {
	// code wins over task and recommendation when several keywords hit.
	kind, ok := classify("you should write a function for this task")
	assert.True(t, ok)
	assert.Equal(t, KindCode, kind)

	kind, _ = classify("we need to update the report")
	assert.Equal(t, KindDocument, kind)
}
