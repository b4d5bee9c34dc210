package contract

// Record: 上游数据集中的一行。
// 约束：
// - Index 为源顺序的 0 基位置，自 0 严格递增；
// - Text 为英文源句（取自 Dataset.TextColumn），原样保留；
// - Values 与 Dataset.Columns 一一对齐，为原始整行（含 Text 所在列）。
type Record struct {
	Index  int
	Text   string
	Values []any
}

// Dataset: 有序、可按位置索引的记录集合。
// 记录数在整条流水线中不可变：不丢行、不重排。
type Dataset struct {
	Columns    []string
	TextColumn string
	Records    []Record
}

// Len 返回记录数。
func (d Dataset) Len() int { return len(d.Records) }

// Slice 返回 [r.From, r.To) 的记录视图（共享底层数组，调用方不得修改）。
func (d Dataset) Slice(r Range) []Record { return d.Records[r.From:r.To] }

// Texts 按顺序返回 [r.From, r.To) 的 Text 列。
func (d Dataset) Texts(r Range) []string {
	out := make([]string, 0, r.Len())
	for _, rec := range d.Slice(r) {
		out = append(out, rec.Text)
	}
	return out
}

// ColumnIndex 返回列名位置；不存在返回 -1。
func (d Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Range: 批的半开区间 [From, To)（基于全局 Index）。
type Range struct {
	From int
	To   int
}

// Len 返回区间长度。
func (r Range) Len() int { return r.To - r.From }

// Artifact: 一次成功运行产出的持久化数据集描述。
type Artifact struct {
	Dir     string
	Version string
	Rows    int
	Columns []string
	Files   []string
}
