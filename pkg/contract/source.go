package contract

import "context"

// Source: 上游数据集读取抽象。
// 约束：
// 1) 一次性读取，返回有序记录，Index 自 0 连续；
// 2) 保留全部原始列，不做业务清洗；
// 3) Text 列缺失属加载失败（ErrLoad）；
// 4) 不在内部起并发。
type Source interface {
	Load(ctx context.Context) (Dataset, error)
}
