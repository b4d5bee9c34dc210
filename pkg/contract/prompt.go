package contract

// Prompt: 已渲染完成的指令字符串（每条记录一个，1:1 稳定映射）。
type Prompt string

// PromptFormatter: 将单条记录的 Text 代入固定模板的唯一占位处。
// 约束：
//   - 纯计算，不做 I/O；
//   - Text 原样插入，不做任何转义；
//   - 模板其余部分保持不变。
type PromptFormatter interface {
	Format(text string) Prompt
}
