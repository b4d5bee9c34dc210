package contract

import "errors"

// 运行级错误分类。
var (
	// ErrConfig: 配置错误（批大小非法、缺少源路径等），须在处理开始前发现。
	ErrConfig = errors.New("configuration error")
	// ErrLoad: 上游数据集无法读取；在任何生成调用之前致命退出。
	ErrLoad = errors.New("load failure")
	// ErrGeneration: 生成引擎致命错误；本次运行不落盘任何部分结果。
	ErrGeneration = errors.New("generation failure")
	// ErrIntegrity: 记录数不一致等完整性违例；在写入之前致命退出。
	ErrIntegrity = errors.New("integrity violation")
	// ErrPathInvalid: 输出位置映射为无效/越界路径。
	ErrPathInvalid = errors.New("path invalid")
)
