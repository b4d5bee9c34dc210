package contract

// Assembler: 以位置对齐的方式将解析结果作为新列追加到数据集。
// 约束：
//  1. len(outputs) 必须等于 ds.Len()，否则返回 ErrIntegrity（不截断、不填充）；
//  2. 不修改入参 ds，返回新视图；
//  3. 新列名不得与已有列冲突。
type Assembler interface {
	Assemble(ds Dataset, column string, outputs []ParsedOutput) (Dataset, error)
}
