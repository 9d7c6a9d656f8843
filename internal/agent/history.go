package agent

import "strings"

// 固定的发言者标签；助手的标签为配置中的助手名。
const (
	SpeakerUser   = "User"
	SpeakerSystem = "System"
)

// 轮次标记：助手回复写入历史时以 EndOfTurn 结尾；EndOfConversation 由模型自行输出。
const (
	EndOfTurn         = "<END_OF_TURN>"
	EndOfConversation = "<END_OF_CONVERSATION>"
)

// Utterance 是对话历史中的一条带标签发言。
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func (u Utterance) String() string {
	return u.Speaker + ": " + u.Text
}

// History 为只追加的对话历史。一次 Seed 之后从空开始，回合内的工具调用过程不会写进来。
type History struct {
	entries []Utterance
}

func NewHistory(entries ...Utterance) *History {
	h := &History{}
	h.entries = append(h.entries, entries...)
	return h
}

func (h *History) Append(speaker, text string) {
	h.entries = append(h.entries, Utterance{Speaker: speaker, Text: text})
}

// Entries 返回历史的副本，调用方修改不会影响内部状态。
func (h *History) Entries() []Utterance {
	out := make([]Utterance, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) Last() (Utterance, bool) {
	if len(h.entries) == 0 {
		return Utterance{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Render 以 "Speaker: text" 逐行拼接，作为提示词中的对话历史。
func (h *History) Render() string {
	lines := make([]string, len(h.entries))
	for i, u := range h.entries {
		lines[i] = u.String()
	}
	return strings.Join(lines, "\n")
}

func (h *History) Reset() {
	h.entries = nil
}
