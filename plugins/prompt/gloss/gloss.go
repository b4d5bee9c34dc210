package gloss

import (
	"fmt"
	"os"
	"strings"

	"aslgloss/pkg/contract"
)

// Placeholder 为模板中英文源句的唯一占位符。
const Placeholder = "{english_text}"

// Options 为 ASL gloss 指令模板的最小配置。
// - InlineTemplate / TemplatePath: 二选一，均为空时使用内置 Gemma chat 模板。
type Options struct {
	InlineTemplate string `json:"inline_template"`
	TemplatePath   string `json:"template_path"`
}

// Formatter 将记录文本代入模板占位处。
// 模板在构造期切分为前后两段，运行期只做拼接。
type Formatter struct {
	head string
	tail string
}

// New 创建 Formatter；模板必须恰好包含一次 Placeholder。
func New(opts *Options) (*Formatter, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := DefaultTemplate
	if o.InlineTemplate != "" {
		src = o.InlineTemplate
	} else if o.TemplatePath != "" {
		b, err := os.ReadFile(o.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("prompt template read: %w", err)
		}
		src = string(b)
	}
	if n := strings.Count(src, Placeholder); n != 1 {
		return nil, fmt.Errorf("%w: prompt template must contain %s exactly once, found %d", contract.ErrConfig, Placeholder, n)
	}
	head, tail, _ := strings.Cut(src, Placeholder)
	return &Formatter{head: head, tail: tail}, nil
}

// Format 原样插入 text，不做转义。
// text 中若含 <end_of_turn>、"ASL Gloss:" 等模板分隔串，渲染结果的结构可能被破坏，调用方需知悉。
func (f *Formatter) Format(text string) contract.Prompt {
	var sb strings.Builder
	sb.Grow(len(f.head) + len(text) + len(f.tail))
	sb.WriteString(f.head)
	sb.WriteString(text)
	sb.WriteString(f.tail)
	return contract.Prompt(sb.String())
}

// FormatAll 按顺序渲染一批文本。
func (f *Formatter) FormatAll(texts []string) []contract.Prompt {
	out := make([]contract.Prompt, len(texts))
	for i, t := range texts {
		out[i] = f.Format(t)
	}
	return out
}

var _ contract.PromptFormatter = (*Formatter)(nil)
