package column

import (
	"fmt"

	"aslgloss/pkg/contract"
)

// DefaultColumn 新增列的默认列名。
const DefaultColumn = "asl_gloss"

type assembler struct{}

// New 创建按位置追加列的装配器（无状态）。
func New() contract.Assembler { return &assembler{} }

// Assemble 将 outputs 作为新列 column 追加到 ds 的副本。
// 长度不一致或列名冲突返回 ErrIntegrity；发生在任何写入之前。
func (a *assembler) Assemble(ds contract.Dataset, column string, outputs []contract.ParsedOutput) (contract.Dataset, error) {
	if column == "" {
		column = DefaultColumn
	}
	if len(outputs) != ds.Len() {
		return contract.Dataset{}, fmt.Errorf("%w: expected %d outputs, got %d", contract.ErrIntegrity, ds.Len(), len(outputs))
	}
	if ds.ColumnIndex(column) >= 0 {
		return contract.Dataset{}, fmt.Errorf("%w: column %q already exists", contract.ErrIntegrity, column)
	}
	width := len(ds.Columns)
	cols := make([]string, 0, width+1)
	cols = append(cols, ds.Columns...)
	cols = append(cols, column)

	recs := make([]contract.Record, len(ds.Records))
	for i, r := range ds.Records {
		// 位置对齐：第 i 个输出属于第 i 条记录
		if r.Index != i {
			return contract.Dataset{}, fmt.Errorf("%w: record %d carries index %d", contract.ErrIntegrity, i, r.Index)
		}
		if len(r.Values) != width {
			return contract.Dataset{}, fmt.Errorf("%w: record %d has %d values for %d columns", contract.ErrIntegrity, i, len(r.Values), width)
		}
		vals := make([]any, 0, width+1)
		vals = append(vals, r.Values...)
		vals = append(vals, outputs[i].Value())
		recs[i] = contract.Record{Index: r.Index, Text: r.Text, Values: vals}
	}
	return contract.Dataset{Columns: cols, TextColumn: ds.TextColumn, Records: recs}, nil
}
