package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/PennyAgent/internal/session"
)

type call struct {
	method string
	text   string
}

type fakeBackend struct {
	calls []call
	err   error
}

func (f *fakeBackend) Seed(ctx context.Context, id string) error {
	f.calls = append(f.calls, call{method: "seed"})
	return f.err
}

func (f *fakeBackend) Ask(ctx context.Context, id, text string) (session.Reply, error) {
	f.calls = append(f.calls, call{method: "ask", text: text})
	if f.err != nil {
		return session.Reply{}, f.err
	}
	return session.Reply{SessionID: id, Message: "echo: " + text}, nil
}

func (f *fakeBackend) Notify(ctx context.Context, id, text string) (session.Reply, error) {
	f.calls = append(f.calls, call{method: "notify", text: text})
	if f.err != nil {
		return session.Reply{}, f.err
	}
	return session.Reply{SessionID: id, Message: "got it"}, nil
}

func TestParse(t *testing.T) {
	cases := []struct {
		line   string
		action Action
		arg    string
	}{
		{"", ActionNone, ""},
		{"   ", ActionNone, ""},
		{"quit", ActionQuit, ""},
		{"EXIT", ActionQuit, ""},
		{"/reset", ActionReset, ""},
		{"/upload  ./docs/id card.png ", ActionUpload, "./docs/id card.png"},
		{"/upload", ActionUpload, ""},
		{"I'd like to open an account", ActionAsk, "I'd like to open an account"},
		{"/uploadx", ActionAsk, "/uploadx"},
	}
	for _, tc := range cases {
		action, arg := Parse(tc.line)
		assert.Equal(t, tc.action, action, tc.line)
		assert.Equal(t, tc.arg, arg, tc.line)
	}
}

func TestDispatch_UploadSendsBaseName(t *testing.T) {
	b := &fakeBackend{}
	res, err := Dispatch(context.Background(), b, "s1", "/upload /tmp/scans/doc1.png")
	require.NoError(t, err)
	assert.Equal(t, ActionUpload, res.Action)
	require.Len(t, b.calls, 1)
	assert.Equal(t, call{method: "notify", text: "uploaded file-name: doc1.png"}, b.calls[0])
}

func TestDispatch_UploadWithoutFile(t *testing.T) {
	b := &fakeBackend{}
	_, err := Dispatch(context.Background(), b, "s1", "/upload")
	assert.ErrorIs(t, err, ErrUsage)
	assert.Empty(t, b.calls)
}

func TestDispatch_Reset(t *testing.T) {
	b := &fakeBackend{}
	res, err := Dispatch(context.Background(), b, "s1", "/reset")
	require.NoError(t, err)
	assert.Equal(t, ActionReset, res.Action)
	assert.NotEmpty(t, res.Notice)
	require.Len(t, b.calls, 1)
	assert.Equal(t, "seed", b.calls[0].method)
}

func TestConsoleChatUI_Run(t *testing.T) {
	b := &fakeBackend{}
	in := strings.NewReader("Hello there\n\n/upload doc1.png\n/reset\nquit\nignored\n")
	var out bytes.Buffer

	ui := &ConsoleChatUI{In: in, Out: &out}
	require.NoError(t, ui.Run(context.Background(), b, "s1", ChatOptions{AssistantName: "Penny"}))

	text := out.String()
	assert.Contains(t, text, "Penny: echo: Hello there")
	assert.Contains(t, text, "Penny: got it")
	assert.Contains(t, text, "会话已重置。")
	assert.Contains(t, text, "已退出。")
	assert.Len(t, b.calls, 3)
}

func TestConsoleChatUI_ErrorKeepsRunning(t *testing.T) {
	b := &fakeBackend{err: errors.New("oracle down")}
	in := strings.NewReader("hi\nhi again")
	var out bytes.Buffer

	ui := &ConsoleChatUI{In: in, Out: &out}
	require.NoError(t, ui.Run(context.Background(), b, "s1", ChatOptions{}))

	assert.Equal(t, 2, strings.Count(out.String(), "助手: (发生错误: oracle down)"))
	assert.Len(t, b.calls, 2)
}

func TestConsoleChatUI_NilWriters(t *testing.T) {
	ui := &ConsoleChatUI{}
	assert.Error(t, ui.Run(context.Background(), &fakeBackend{}, "s1", ChatOptions{}))
}
