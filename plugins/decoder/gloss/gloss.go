package gloss

import (
	"encoding/json"
	"regexp"
	"strings"

	"aslgloss/pkg/contract"
)

// DefaultMarker 分隔模型前言与最终答案的固定短语。
const DefaultMarker = "ASL Gloss:"

// Options: 标记短语可配置，空值使用 DefaultMarker。
type Options struct {
	Marker string `json:"marker"`
}

// Parser 从自由文本补全中提取 gloss。
type Parser struct {
	marker string
}

// New 从原样 JSON Options 创建解析器。
func New(raw json.RawMessage) (*Parser, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, err
		}
	}
	return NewWithMarker(opts.Marker), nil
}

// NewWithMarker 以给定标记创建解析器。
func NewWithMarker(marker string) *Parser {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Parser{marker: marker}
}

// Parse 规则：
//  1. 标记出现时取其最后一次出现之后的文本，否则取全文；
//  2. 去首尾空白；仅当首尾同为 '"' 时剥去一层引号；再去空白；
//  3. 结果为空即解析失败。
//
// 纯函数，永不失败。
func (p *Parser) Parse(completion string) contract.ParsedOutput {
	cand := completion
	if i := strings.LastIndex(completion, p.marker); i >= 0 {
		cand = completion[i+len(p.marker):]
	}
	cand = strings.TrimSpace(cand)
	cand = strings.TrimSpace(unquote(cand))
	if cand == "" {
		return contract.ParsedOutput{}
	}
	return contract.ParsedOutput{Text: cand, OK: true}
}

// ParseAll 按顺序解析一批补全，并返回失败数。
func (p *Parser) ParseAll(cs []contract.Completion) ([]contract.ParsedOutput, int) {
	out := make([]contract.ParsedOutput, len(cs))
	failed := 0
	for i, c := range cs {
		out[i] = p.Parse(c.Text)
		if !out[i].OK {
			failed++
		}
	}
	return out, failed
}

// unquote 剥去一层包裹的双引号；内嵌或单侧引号保持不变。
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

var transcriptRe = regexp.MustCompile(`(?s)<ASL>(.*?)</ASL>`)

// SplitTranscript 拆分微调模型的转写输出 "text<ASL>gloss</ASL>"。
// 未命中标签时 text 与 gloss 均为去空白后的全文。
func SplitTranscript(description string) (text, gloss string) {
	loc := transcriptRe.FindStringSubmatchIndex(description)
	if loc == nil {
		d := strings.TrimSpace(description)
		return d, d
	}
	text = strings.TrimSpace(description[:loc[0]])
	gloss = strings.TrimSpace(description[loc[2]:loc[3]])
	return text, gloss
}

// TrainingTarget 为 SplitTranscript 的逆过程：微调样本中 assistant 的目标文本。
func TrainingTarget(text, gloss string) string {
	return text + "<ASL>" + gloss + "</ASL>"
}

var _ contract.Parser = (*Parser)(nil)
