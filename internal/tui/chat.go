package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/wwwzy/PennyAgent/internal/ui"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, sessionID string, opts ui.ChatOptions) error {
	m := newChatModel(ctx, backend, sessionID, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleSystem
)

// entry 为界面上显示的一条消息；会话历史本身保存在后端。
type entry struct {
	role    role
	content string
}

type backendResultMsg struct {
	outcome ui.Outcome
	err     error
}

type streamTickMsg struct{}
type cancelMsg struct{}

const (
	streamStep     = 32
	streamInterval = 45 * time.Millisecond
)

// typewriter 把最新一条回复逐段显示出来。
type typewriter struct {
	idx  int
	full string
	pos  int
}

func (t *typewriter) active() bool { return t != nil && t.pos < len(t.full) }

func (t *typewriter) advance() {
	t.pos = min(len(t.full), t.pos+streamStep)
}

func (t *typewriter) visible() string {
	if t.pos == 0 || strings.TrimSpace(t.full[:t.pos]) == "" {
		return "…"
	}
	return t.full[:t.pos]
}

var stdioMu sync.Mutex

type chatModel struct {
	ctx       context.Context
	backend   ui.ChatBackend
	sessionID string
	opts      ui.ChatOptions

	entries []entry
	stream  *typewriter

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool

	styles   styles
	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, sessionID string, opts ui.ChatOptions) chatModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "输入消息，回车发送；/upload <文件> 模拟上传，/reset 重新开始"
	ti.Prompt = ""
	ti.Focus()

	return chatModel{
		ctx:        ctx,
		backend:    backend,
		sessionID:  sessionID,
		opts:       opts,
		viewport:   viewport.New(0, 0),
		input:      ti,
		spinner:    s,
		followTail: true,
		styles:     newStyles(),
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		if !m.thinking {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case backendResultMsg:
		return m.onResult(msg)

	case streamTickMsg:
		if !m.stream.active() {
			return m, nil
		}
		m.stream.advance()
		m.refresh()
		if m.stream.active() {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		return m.onKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) resize(width, height int) {
	const inputHeight, headerHeight, footerHeight = 3, 1, 1

	m.width, m.height = width, height
	m.viewport.Width = width
	m.viewport.Height = max(1, height-inputHeight-headerHeight-footerHeight)
	m.input.Width = max(10, width-4)

	if r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.contentWidth()),
	); err == nil {
		m.renderer = r
	}
	m.refresh()
}

func (m chatModel) onResult(msg backendResultMsg) (tea.Model, tea.Cmd) {
	m.thinking = false
	m.followTail = true

	if msg.err != nil {
		m.entries = append(m.entries, entry{role: roleSystem, content: fmt.Sprintf("发生错误：%v（会话未改变，可以重试）", msg.err)})
		m.refresh()
		return m, nil
	}

	switch msg.outcome.Action {
	case ui.ActionReset:
		m.entries = []entry{{role: roleSystem, content: msg.outcome.Notice}}
		m.stream = nil
		m.refresh()
		return m, nil
	case ui.ActionAsk, ui.ActionUpload:
		m.entries = append(m.entries, entry{role: roleAssistant, content: msg.outcome.Reply.Message})
		if strings.TrimSpace(msg.outcome.Reply.Message) != "" {
			m.stream = &typewriter{idx: len(m.entries) - 1, full: msg.outcome.Reply.Message}
			m.stream.advance()
		}
	}

	m.refresh()
	if m.stream.active() {
		return m, streamTick()
	}
	return m, nil
}

func (m chatModel) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "pgup", "pageup":
		m.viewport.PageUp()
		m.followTail = false
		return m, nil
	case "pgdown", "pagedown":
		m.viewport.PageDown()
		m.followTail = m.viewport.AtBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if msg.Type != tea.KeyEnter {
		return m, cmd
	}

	// 上一回合还没结束时不接受新输入，保证同一会话内回合串行
	if m.thinking {
		return m, cmd
	}

	line := strings.TrimSpace(m.input.Value())
	action, arg := ui.Parse(line)
	switch action {
	case ui.ActionNone:
		return m, cmd
	case ui.ActionQuit:
		return m, tea.Quit
	case ui.ActionAsk:
		m.entries = append(m.entries, entry{role: roleUser, content: arg})
	case ui.ActionUpload:
		if arg == "" {
			m.entries = append(m.entries, entry{role: roleSystem, content: ui.ErrUsage.Error()})
			m.input.SetValue("")
			m.refresh()
			return m, cmd
		}
		m.entries = append(m.entries, entry{role: roleSystem, content: "已上传 " + arg})
	}

	m.input.SetValue("")
	m.followTail = true
	m.thinking = true
	m.refresh()
	return m, tea.Batch(cmd, dispatch(m.ctx, m.backend, m.sessionID, line))
}

// refresh 重新渲染对话区；跟随模式下滚到底部，否则保持当前位置。
func (m *chatModel) refresh() {
	offset := m.viewport.YOffset
	m.viewport.SetContent(m.renderChat())
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(offset)
}

func dispatch(ctx context.Context, backend ui.ChatBackend, sessionID, line string) tea.Cmd {
	return func() tea.Msg {
		out, err := dispatchDiscardingStdIO(ctx, backend, sessionID, line)
		return backendResultMsg{outcome: out, err: err}
	}
}

// 回合执行期间的日志会写到 stderr，会打乱全屏界面，这里临时丢弃。
func dispatchDiscardingStdIO(ctx context.Context, backend ui.ChatBackend, sessionID, line string) (ui.Outcome, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return ui.Dispatch(ctx, backend, sessionID, line)
	}
	defer devNull.Close()

	stdioMu.Lock()
	oldStdout, oldStderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = devNull, devNull
	stdioMu.Unlock()

	defer func() {
		stdioMu.Lock()
		os.Stdout, os.Stderr = oldStdout, oldStderr
		stdioMu.Unlock()
	}()
	return ui.Dispatch(ctx, backend, sessionID, line)
}

func streamTick() tea.Cmd {
	return tea.Tick(streamInterval, func(time.Time) tea.Msg { return streamTickMsg{} })
}
