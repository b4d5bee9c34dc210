package contract

// ParseFailedSentinel: 解析失败在持久化时的固定占位值。
const ParseFailedSentinel = "ERROR: PARSING FAILED"

// ParsedOutput: 带标签的解析结果，二者必居其一：
//   - OK=true：Text 为提取出的结构化答案（非空）；
//   - OK=false：解析失败。
//
// 哨兵字符串仅在 Value() 渲染时出现，统计失败数只看标签。
type ParsedOutput struct {
	Text string
	OK   bool
}

// Value 返回持久化用取值。
func (p ParsedOutput) Value() string {
	if !p.OK {
		return ParseFailedSentinel
	}
	return p.Text
}

// Parser: 将单条 Completion 文本转换为一个 ParsedOutput。
// 约束：纯函数、确定性、永不失败。
type Parser interface {
	Parse(completion string) ParsedOutput
}
