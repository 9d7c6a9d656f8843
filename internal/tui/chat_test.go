package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/PennyAgent/internal/session"
	"github.com/wwwzy/PennyAgent/internal/ui"
)

type nopBackend struct{}

func (nopBackend) Seed(ctx context.Context, id string) error { return nil }

func (nopBackend) Ask(ctx context.Context, id, text string) (session.Reply, error) {
	return session.Reply{SessionID: id, Message: "ok"}, nil
}

func (nopBackend) Notify(ctx context.Context, id, text string) (session.Reply, error) {
	return session.Reply{SessionID: id, Message: "ok"}, nil
}

func enter(t *testing.T, m chatModel, line string) (chatModel, tea.Cmd) {
	t.Helper()
	m.input.SetValue(line)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(chatModel), cmd
}

func TestChatModel_EnterStartsTurn(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, "s1", ui.ChatOptions{AssistantName: "Penny"})

	m, cmd := enter(t, m, "Hello there")
	require.NotNil(t, cmd)
	assert.True(t, m.thinking)
	require.Len(t, m.entries, 1)
	assert.Equal(t, entry{role: roleUser, content: "Hello there"}, m.entries[0])
	assert.Empty(t, m.input.Value())

	// 回合进行中再次回车不会追加消息
	m, _ = enter(t, m, "again")
	assert.Len(t, m.entries, 1)
}

func TestChatModel_ReplyStreamsToCompletion(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, "s1", ui.ChatOptions{})
	m, _ = enter(t, m, "hi")

	reply := "Hi, I'm Penny, a Banking Assistant at AnyBank. I can help you open a new account. What is your email address?"
	next, cmd := m.Update(backendResultMsg{outcome: ui.Outcome{
		Action: ui.ActionAsk,
		Reply:  session.Reply{Message: reply},
	}})
	m = next.(chatModel)
	require.NotNil(t, cmd)
	assert.False(t, m.thinking)
	assert.True(t, m.stream.active())
	assert.Equal(t, reply[:streamStep], m.stream.visible())
	require.Len(t, m.entries, 2)

	for i := 0; m.stream.active() && i < 100; i++ {
		next, _ = m.Update(streamTickMsg{})
		m = next.(chatModel)
	}
	assert.False(t, m.stream.active())
	assert.Equal(t, reply, m.stream.visible())
	assert.Contains(t, m.renderChat(), "AnyBank")
}

func TestChatModel_ResetClearsEntries(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, "s1", ui.ChatOptions{})
	m, _ = enter(t, m, "hi")

	next, _ := m.Update(backendResultMsg{outcome: ui.Outcome{Action: ui.ActionReset, Notice: "会话已重置。"}})
	m = next.(chatModel)
	require.Len(t, m.entries, 1)
	assert.Equal(t, roleSystem, m.entries[0].role)
}

func TestChatModel_UploadWithoutFileShowsUsage(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, "s1", ui.ChatOptions{})
	m, _ = enter(t, m, "/upload")
	assert.False(t, m.thinking)
	require.Len(t, m.entries, 1)
	assert.Equal(t, ui.ErrUsage.Error(), m.entries[0].content)
}

func TestChatModel_ErrorIsShown(t *testing.T) {
	m := newChatModel(context.Background(), nopBackend{}, "s1", ui.ChatOptions{})
	next, _ := m.Update(backendResultMsg{err: assert.AnError})
	m = next.(chatModel)
	require.Len(t, m.entries, 1)
	assert.Contains(t, m.entries[0].content, assert.AnError.Error())
}

func TestTypewriter(t *testing.T) {
	var nilTW *typewriter
	assert.False(t, nilTW.active())

	tw := &typewriter{full: "   hello"}
	assert.True(t, tw.active())
	assert.Equal(t, "…", tw.visible())
	tw.advance()
	assert.False(t, tw.active())
	assert.Equal(t, "   hello", tw.visible())
}
