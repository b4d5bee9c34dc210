package flaky

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"

	"aslgloss/pkg/contract"
	"aslgloss/plugins/llmclient/mock"
)

// ErrEngineUnavailable 为注入的引擎故障。
var ErrEngineUnavailable = errors.New("flaky: engine unavailable")

// Options 定义可选项。
type Options struct {
	// FailOn: 第几次 Generate 调用出故障（1 基），<=0 时默认 2。
	FailOn int `json:"fail_on"`
	// Fault: "error"（默认）返回 ErrEngineUnavailable；"short" 少返回一条补全。
	Fault string `json:"fault"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 Generator 实现：
// 第 FailOn 次调用注入故障，其余调用委托给 mock 的 gloss 模式。
type Client struct {
	failOn  int32
	fault   string
	logPath string
	inner   *mock.Client
	count   atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	return NewWithOptions(o), nil
}

// NewWithOptions 以已解码的选项构造 Client。
func NewWithOptions(o Options) *Client {
	if o.FailOn <= 0 {
		o.FailOn = 2
	}
	if o.Fault == "" {
		o.Fault = "error"
	}
	inner := mock.NewWithOptions(mock.Options{Prefix: "FLAKY"})
	return &Client{failOn: int32(o.FailOn), fault: o.Fault, logPath: o.LogPath, inner: inner}
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Calls 返回已发生的 Generate 调用次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

// Generate 实现 contract.Generator。
func (c *Client) Generate(ctx context.Context, prompts []contract.Prompt, sc contract.SamplingConfig) ([]contract.Completion, error) {
	n := c.count.Add(1)
	out, err := c.inner.Generate(ctx, prompts, sc)
	if err != nil {
		return nil, err
	}
	if n != c.failOn {
		c.log("ok")
		return out, nil
	}
	switch c.fault {
	case "short":
		c.log("short")
		if len(out) > 0 {
			out = out[:len(out)-1]
		}
		return out, nil
	default:
		c.log("error")
		return nil, ErrEngineUnavailable
	}
}

var _ contract.Generator = (*Client)(nil)
