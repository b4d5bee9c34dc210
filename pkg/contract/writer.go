package contract

import "context"

// Writer: 将增广后的数据集一次性持久化为新的版本化工件。
// 约束：
//  1. 每次运行覆盖或新建，不做追加/合并；
//  2. 原子可见：失败时目标位置保持原状，不留半成品；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, ds Dataset, meta ArtifactMeta) (Artifact, error)
}

// ArtifactMeta: 写入 manifest 的运行信息。
type ArtifactMeta struct {
	CorrID        string
	Source        string
	Model         string
	Column        string
	ParseFailures int
}
