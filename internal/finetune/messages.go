package finetune

import (
	"strings"

	dgl "aslgloss/plugins/decoder/gloss"
)

// Part: 多模态消息中的一段内容。
type Part struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Audio any    `json:"audio,omitempty"`
}

// Message: 一轮对话。
type Message struct {
	Role    string `json:"role"`
	Content []Part `json:"content"`
}

// BuildMessages 构造一条训练样本：system / user(音频 + 指令) / assistant(text<ASL>gloss</ASL>)。
// audio 为 nil 时 user 只含文本指令。
func BuildMessages(audio any, text, gloss string) []Message {
	user := make([]Part, 0, 2)
	if audio != nil {
		user = append(user, Part{Type: "audio", Audio: audio})
	}
	user = append(user, Part{Type: "text", Text: UserPrompt})
	return []Message{
		{Role: "system", Content: []Part{{Type: "text", Text: SystemPrompt}}},
		{Role: "user", Content: user},
		{Role: "assistant", Content: []Part{{Type: "text", Text: dgl.TrainingTarget(text, gloss)}}},
	}
}

// Gemma 对话格式的控制串。
const (
	startOfTurn = "<start_of_turn>"
	endOfTurn   = "<end_of_turn>"
	audioSpan   = "<start_of_audio><audio_soft_token><end_of_audio>"
)

// RenderChat 以 Gemma 对话格式渲染消息（system 并入首个 user 轮，assistant 轮记为 model）。
func RenderChat(msgs []Message) string {
	var sb strings.Builder
	var system string
	for _, m := range msgs {
		if m.Role == "system" {
			system = joinText(m.Content)
			continue
		}
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		sb.WriteString(startOfTurn + role + "\n")
		if role == "user" && system != "" {
			sb.WriteString(system + "\n\n")
			system = ""
		}
		for _, p := range m.Content {
			switch p.Type {
			case "audio":
				sb.WriteString(audioSpan)
			case "text":
				sb.WriteString(p.Text)
			}
		}
		sb.WriteString(endOfTurn + "\n")
	}
	return sb.String()
}

func joinText(parts []Part) string {
	var out []string
	for _, p := range parts {
		if p.Type == "text" {
			out = append(out, p.Text)
		}
	}
	return strings.Join(out, "\n")
}
