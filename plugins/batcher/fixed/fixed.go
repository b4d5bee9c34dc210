package fixed

import (
	"fmt"
	"iter"

	"aslgloss/pkg/contract"
)

// Batcher 按固定大小切分连续区间。
type Batcher struct{}

// New 创建固定大小 Batcher。
func New() *Batcher { return &Batcher{} }

// Ranges 返回 [i, min(i+size, n)) 的惰性序列，i = 0, size, 2*size, ...
// 参数校验在返回序列之前完成，迭代过程本身不会出错。
func (b *Batcher) Ranges(n, size int) (iter.Seq[contract.Range], error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0, got %d", contract.ErrConfig, size)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: record count must be >= 0, got %d", contract.ErrInvalidInput, n)
	}
	return func(yield func(contract.Range) bool) {
		for i := 0; i < n; i += size {
			if !yield(contract.Range{From: i, To: min(i+size, n)}) {
				return
			}
		}
	}, nil
}

// Count 返回 n 条记录在 size 下的批数。
func Count(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

var _ contract.Batcher = (*Batcher)(nil)
