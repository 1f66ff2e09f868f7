// internal/llmutil/parser_test.go
package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleDecision struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
	Ref       string `json:"ref,omitempty"`
}

func TestParseJSONResponse(t *testing.T) {
	t.Run("plain JSON object", func(t *testing.T) {
		out, err := ParseJSONResponse[sampleDecision](`{"action":"click","reasoning":"entry point","ref":"e12"}`)
		require.NoError(t, err)
		assert.Equal(t, "click", out.Action)
		assert.Equal(t, "e12", out.Ref)
	})

	t.Run("markdown fenced JSON", func(t *testing.T) {
		response := "```json\n{\"action\": \"submit\", \"reasoning\": \"all steps done\", \"ref\": \"e90\"}\n```"
		out, err := ParseJSONResponse[sampleDecision](response)
		require.NoError(t, err)
		assert.Equal(t, "submit", out.Action)
	})

	t.Run("fence without language tag", func(t *testing.T) {
		response := "```\n{\"action\": \"fill\", \"reasoning\": \"contact info\"}\n```"
		out, err := ParseJSONResponse[sampleDecision](response)
		require.NoError(t, err)
		assert.Equal(t, "fill", out.Action)
	})

	t.Run("object buried in conversational text", func(t *testing.T) {
		response := `Sure! Here is my decision:
{"action": "click", "reasoning": "the apply button", "ref": "e12"}
Let me know if you need anything else.`
		out, err := ParseJSONResponse[sampleDecision](response)
		require.NoError(t, err)
		assert.Equal(t, "click", out.Action)
		assert.Equal(t, "e12", out.Ref)
	})

	t.Run("array payload", func(t *testing.T) {
		out, err := ParseJSONResponse[[]string](`["e1", "e2"]`)
		require.NoError(t, err)
		assert.Equal(t, []string{"e1", "e2"}, *out)
	})

	t.Run("malformed JSON is an error", func(t *testing.T) {
		_, err := ParseJSONResponse[sampleDecision](`{"action": "click",`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal")
	})

	t.Run("no JSON at all is an error", func(t *testing.T) {
		_, err := ParseJSONResponse[sampleDecision]("I cannot decide right now.")
		assert.Error(t, err)
	})
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 10))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abcdef", 0))
}
