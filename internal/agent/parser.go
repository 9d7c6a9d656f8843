package agent

import (
	"regexp"
	"strings"
)

type TurnKind int

const (
	// KindFinalAnswer 表示模型给出了面向用户的最终回复。
	KindFinalAnswer TurnKind = iota
	// KindToolCall 表示模型要求调用工具。
	KindToolCall
)

func (k TurnKind) String() string {
	if k == KindToolCall {
		return "tool_call"
	}
	return "final_answer"
}

// Turn 是一次模型输出的解析结果。
type Turn struct {
	Kind TurnKind
	// Text 为最终回复文本（KindFinalAnswer）。
	Text string
	// Tool/Input 为工具名与原始参数串（KindToolCall）。
	Tool  string
	Input string
	// Log 为模型原始输出，写入 scratch-pad。
	Log string
}

const finalAnswerMarker = "Final Answer:"

var actionPattern = regexp.MustCompile(`Action: (.*?)[\n]*Action Input: (.*)`)

// Parser 把模型的自由文本输出转换成 Turn，永不失败。
type Parser struct {
	aiPrefix string
}

func NewParser(assistantName string) *Parser {
	return &Parser{aiPrefix: assistantName + ":"}
}

// Parse 的优先级：
//  1. 含 "<助手名>:" 时取最后一个标记之后的文本作为最终回复；
//  2. 匹配 Action / Action Input 时返回工具调用（取第一处）；
//  3. 含 "Final Answer:" 时取最后一个标记之后的文本；
//  4. 否则整段文本即最终回复。
func (p *Parser) Parse(text string) Turn {
	if i := strings.LastIndex(text, p.aiPrefix); i >= 0 {
		return Turn{
			Kind: KindFinalAnswer,
			Text: strings.TrimSpace(text[i+len(p.aiPrefix):]),
			Log:  text,
		}
	}

	if m := actionPattern.FindStringSubmatch(text); m != nil {
		return Turn{
			Kind:  KindToolCall,
			Tool:  strings.TrimSpace(m[1]),
			Input: unquote(strings.TrimSpace(m[2])),
			Log:   text,
		}
	}

	if i := strings.LastIndex(text, finalAnswerMarker); i >= 0 {
		return Turn{
			Kind: KindFinalAnswer,
			Text: strings.TrimSpace(text[i+len(finalAnswerMarker):]),
			Log:  text,
		}
	}

	return Turn{Kind: KindFinalAnswer, Text: text, Log: text}
}

// unquote 去掉一层成对或单侧的双引号。
func unquote(s string) string {
	s = strings.TrimPrefix(s, `"`)
	return strings.TrimSuffix(s, `"`)
}

// salvage 在迭代上限时从一段仍是工具调用的输出里尽量提取可展示的文本：
// 丢掉 Action 之后的内容和 Thought/Decision 行。
func salvage(text string) string {
	if i := strings.Index(text, "Action:"); i >= 0 {
		text = text[:i]
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" ||
			strings.HasPrefix(trimmed, "Thought:") ||
			strings.HasPrefix(trimmed, "Decision:") ||
			strings.HasPrefix(trimmed, "```") {
			continue
		}
		kept = append(kept, strings.TrimSpace(strings.TrimPrefix(trimmed, finalAnswerMarker)))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
