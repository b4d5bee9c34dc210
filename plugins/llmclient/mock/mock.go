package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aslgloss/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 输出前缀，默认 "MOCK"
	// ResponseMode: 可选的响应模式（用于集成测试与无网络联调）。
	//  - "": 留空或未知值时，默认使用 "gloss"。
	//  - "gloss": 产出 "ASL Gloss:\n<PREFIX> <源句大写>"，与 gloss 解析器即插即用。
	//  - "preamble": 先回显一次标记短语再给答案，覆盖"取最后一次出现"规则。
	//  - "empty": 返回空白文本，覆盖解析失败路径。
	//  - "echo": 原样回显 Prompt。
	ResponseMode string `json:"response_mode,omitempty"`
	// Transcript: Transcribe 的固定返回；为空时返回 "<prompt><ASL><PREFIX></ASL>"。
	Transcript string `json:"transcript,omitempty"`
}

type Client struct {
	prefix     string
	mode       string
	transcript string
}

func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	return NewWithOptions(o), nil
}

// NewWithOptions 以已解码的选项构造，空字段取默认值。
func NewWithOptions(o Options) *Client {
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "gloss"
	}
	return &Client{prefix: o.Prefix, mode: mode, transcript: o.Transcript}
}

// sentence 从默认模板渲染出的 Prompt 中取回源句；非默认模板时返回整个 Prompt。
func sentence(p contract.Prompt) string {
	s := string(p)
	const open = `English Sentence: "`
	i := strings.LastIndex(s, open)
	if i < 0 {
		return s
	}
	s = s[i+len(open):]
	if j := strings.LastIndex(s, `"<end_of_turn>`); j >= 0 {
		s = s[:j]
	}
	return s
}

// Generate 按提交顺序逐条产出确定性的补全。
func (c *Client) Generate(ctx context.Context, prompts []contract.Prompt, sc contract.SamplingConfig) ([]contract.Completion, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	out := make([]contract.Completion, len(prompts))
	for i, p := range prompts {
		src := strings.ToUpper(sentence(p))
		switch c.mode {
		case "preamble":
			out[i].Text = fmt.Sprintf("Sure, the ASL Gloss: follows.\nASL Gloss:\n%s %s", c.prefix, src)
		case "empty":
			out[i].Text = "  \n"
		case "echo":
			out[i].Text = string(p)
		default:
			out[i].Text = fmt.Sprintf("ASL Gloss:\n%s %s", c.prefix, src)
		}
	}
	return out, nil
}

// Transcribe 返回固定转写，不读取音频内容。
func (c *Client) Transcribe(ctx context.Context, tr contract.TranscribeRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if c.transcript != "" {
		return c.transcript, nil
	}
	return tr.Prompt + "<ASL>" + c.prefix + "</ASL>", nil
}

var (
	_ contract.Generator   = (*Client)(nil)
	_ contract.Transcriber = (*Client)(nil)
)
