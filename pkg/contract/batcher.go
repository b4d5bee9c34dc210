package contract

import "iter"

// Batcher: 将记录总数 n 切分为固定大小的连续区间。
// 约束：
//  1. 区间连续、互不重叠、覆盖 [0, n)，按升序惰性产出；
//  2. 除最后一个外，每个区间长度恰为 size；
//  3. n == 0 时产出空序列；
//  4. size <= 0 属配置错误（ErrConfig），须在产出任何区间之前返回。
type Batcher interface {
	Ranges(n, size int) (iter.Seq[Range], error)
}
