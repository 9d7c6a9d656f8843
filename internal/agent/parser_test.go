package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseToolCall(t *testing.T) {
	p := NewParser("Penny")

	turn := p.Parse("Thought: I need to verify the ID\nAction: IDVerification\nAction Input: doc1.png, Jane, Doe")
	assert.Equal(t, KindToolCall, turn.Kind)
	assert.Equal(t, "IDVerification", turn.Tool)
	assert.Equal(t, "doc1.png, Jane, Doe", turn.Input)
	assert.Contains(t, turn.Log, "Thought: I need to verify the ID")
}

func TestParseToolCallBlankLinesAndQuotes(t *testing.T) {
	p := NewParser("Penny")

	turn := p.Parse("Action: EmailValidation\n\n\nAction Input: \"user@example.com\"  ")
	assert.Equal(t, KindToolCall, turn.Kind)
	assert.Equal(t, "EmailValidation", turn.Tool)
	assert.Equal(t, "user@example.com", turn.Input)

	// 只去掉一层引号
	turn = p.Parse(`Action: AskUser` + "\n" + `Action Input: ""what is your name?""`)
	assert.Equal(t, `"what is your name?"`, turn.Input)
}

func TestParseFirstActionWins(t *testing.T) {
	p := NewParser("Penny")

	turn := p.Parse("Action: Foo\nAction Input: bar\nObservation: x\nAction: Baz\nAction Input: qux")
	assert.Equal(t, KindToolCall, turn.Kind)
	assert.Equal(t, "Foo", turn.Tool)
	assert.Equal(t, "bar", turn.Input)
}

func TestParseAssistantPrefix(t *testing.T) {
	p := NewParser("Penny")

	turn := p.Parse("Thought: Do I need to use a tool? No\nPenny:   Welcome to AnyBank! <END_OF_TURN>")
	assert.Equal(t, KindFinalAnswer, turn.Kind)
	assert.Equal(t, "Welcome to AnyBank! <END_OF_TURN>", turn.Text)

	// 助手名标记优先于工具调用
	turn = p.Parse("Action: AskUser\nAction Input: hi\nPenny: done")
	assert.Equal(t, KindFinalAnswer, turn.Kind)
	assert.Equal(t, "done", turn.Text)
}

func TestParseFinalAnswerMarker(t *testing.T) {
	p := NewParser("Penny")

	turn := p.Parse("Thought: Do I need to use a tool? No\nFinal Answer: Which account type would you like?")
	assert.Equal(t, KindFinalAnswer, turn.Kind)
	assert.Equal(t, "Which account type would you like?", turn.Text)
}

func TestParseFallbackKeepsTextUnchanged(t *testing.T) {
	p := NewParser("Penny")

	for _, in := range []string{"Hello there", "", "  spaced  ", "Action: missing input"} {
		turn := p.Parse(in)
		assert.Equal(t, KindFinalAnswer, turn.Kind, in)
		assert.Equal(t, in, turn.Text)
	}
}

func TestSalvage(t *testing.T) {
	assert.Equal(t, "Let me check that for you.",
		salvage("Thought: hmm\nLet me check that for you.\nAction: AskUser\nAction Input: x"))
	assert.Equal(t, "", salvage("Thought: x\nDecision: Do I need to use a tool? y\nAction: AskUser\nAction Input: y"))
	assert.Equal(t, "ok", salvage("Final Answer: ok"))
}

func TestTurnKindString(t *testing.T) {
	assert.Equal(t, "tool_call", KindToolCall.String())
	assert.Equal(t, "final_answer", KindFinalAnswer.String())
}
