package diag

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"

	"aslgloss/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown    Code = "unknown"
	CodeConfig     Code = "config"
	CodeLoad       Code = "load"
	CodeGeneration Code = "generation"
	CodeIntegrity  Code = "integrity"
	CodeNetwork    Code = "network"
	CodeProtocol   Code = "protocol"
	CodeBudget     Code = "budget"
	CodeCancel     Code = "cancel"
	CodeIO         Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrConfig), errors.Is(err, contract.ErrPathInvalid):
		return CodeConfig
	case errors.Is(err, contract.ErrLoad):
		return CodeLoad
	case errors.Is(err, contract.ErrIntegrity):
		return CodeIntegrity
	case errors.Is(err, contract.ErrRateLimited):
		return CodeBudget
	case errors.Is(err, contract.ErrResponseInvalid), errors.Is(err, contract.ErrInvalidInput):
		return CodeProtocol
	}
	// 网络（连接/超时/上游 5xx）
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	if errors.Is(err, contract.ErrGeneration) {
		return CodeGeneration
	}
	return CodeUnknown
}
