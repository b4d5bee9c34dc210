package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aslgloss/pkg/contract"
)

// Limits: 托管生成服务的限额。0 表示该维度不启用。
type Limits struct {
	RPM int `mapstructure:"rpm" json:"rpm" yaml:"rpm"` // requests per minute
	TPM int `mapstructure:"tpm" json:"tpm" yaml:"tpm"` // tokens per minute（估算值）
}

// Enabled 任一维度启用即为 true。
func (l Limits) Enabled() bool { return l.RPM > 0 || l.TPM > 0 }

// Limiter: 双令牌桶（请求数 + token 数），并发安全。
type Limiter struct {
	clk func() time.Time
	mu  sync.Mutex
	req bucket
	tok bucket
}

type bucket struct {
	cap   int
	level float64
	rate  float64
	last  time.Time
}

// NewLimiter 从静态配置构造；clk 为空则使用 time.Now。
func NewLimiter(lim Limits, clk func() time.Time) *Limiter {
	if clk == nil {
		clk = time.Now
	}
	now := clk()
	return &Limiter{clk: clk, req: newBucket(lim.RPM, now), tok: newBucket(lim.TPM, now)}
}

func newBucket(capacity int, now time.Time) bucket {
	if capacity <= 0 {
		return bucket{}
	}
	return bucket{cap: capacity, level: float64(capacity), rate: float64(capacity) / 60.0, last: now}
}

func (b *bucket) enabled() bool { return b.cap > 0 }

func (b *bucket) refill(now time.Time) {
	if !b.enabled() || !now.After(b.last) {
		// 时钟回拨视为无时间流逝
		return
	}
	b.level += now.Sub(b.last).Seconds() * b.rate
	if b.level > float64(b.cap) {
		b.level = float64(b.cap)
	}
	b.last = now
}

func (b *bucket) canTake(n int) bool {
	return !b.enabled() || n <= 0 || b.level >= float64(n)
}

func (b *bucket) take(n int) {
	if !b.enabled() || n <= 0 {
		return
	}
	b.level -= float64(n)
	if b.level < 0 {
		b.level = 0
	}
}

// waitFor 返回达到可消费 n 还需等待的时长。
func (b *bucket) waitFor(n int) time.Duration {
	if !b.enabled() || n <= 0 {
		return 0
	}
	deficit := float64(n) - b.level
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.rate * float64(time.Second))
}

// clampAsk: 超过桶容量的申请按容量计，否则永远等不到。
func (l *Limiter) clampAsk(tokens int) int {
	if l.tok.enabled() && tokens > l.tok.cap {
		return l.tok.cap
	}
	return tokens
}

// Try 非阻塞尝试一次请求；不足时返回 false。
func (l *Limiter) Try(tokens int) bool {
	if tokens < 0 {
		return false
	}
	tokens = l.clampAsk(tokens)
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk()
	l.req.refill(now)
	l.tok.refill(now)
	if l.req.canTake(1) && l.tok.canTake(tokens) {
		l.req.take(1)
		l.tok.take(tokens)
		return true
	}
	return false
}

// Wait 阻塞直到一次请求（含 tokens 估算）可放行或 ctx 取消。
func (l *Limiter) Wait(ctx context.Context, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("%w: negative token estimate", contract.ErrInvalidInput)
	}
	tokens = l.clampAsk(tokens)
	// 最小睡眠粒度，避免忙等
	const minSleep = 10 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		l.mu.Lock()
		now := l.clk()
		l.req.refill(now)
		l.tok.refill(now)
		if l.req.canTake(1) && l.tok.canTake(tokens) {
			l.req.take(1)
			l.tok.take(tokens)
			l.mu.Unlock()
			return nil
		}
		d := max(l.req.waitFor(1), l.tok.waitFor(tokens)) + minSleep
		l.mu.Unlock()
		if err := sleepCtx(ctx, d); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	// 分片为最多 200ms 的步长，及时响应取消
	const step = 200 * time.Millisecond
	for d > 0 {
		s := min(d, step)
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}

// Available 返回当前可用请求/令牌的向下取整估值（仅诊断）。
func (l *Limiter) Available() (reqs, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk()
	l.req.refill(now)
	l.tok.refill(now)
	if l.req.enabled() {
		reqs = int(l.req.level)
	}
	if l.tok.enabled() {
		tokens = int(l.tok.level)
	}
	return reqs, tokens
}

// EstimateTokens 以 4 字节/token 粗估一批提示词的输入，并加上每条的输出上限。
func EstimateTokens(prompts []contract.Prompt, maxTokens int) int {
	n := 0
	for _, p := range prompts {
		n += (len(p)+3)/4 + maxTokens
	}
	return n
}

// Throttled 在每次 Generate 前向 Limiter 申请额度。
type Throttled struct {
	Next    contract.Generator
	Limiter *Limiter
}

var _ contract.Generator = (*Throttled)(nil)

func (t *Throttled) Generate(ctx context.Context, prompts []contract.Prompt, sc contract.SamplingConfig) ([]contract.Completion, error) {
	if err := t.Limiter.Wait(ctx, EstimateTokens(prompts, sc.MaxTokens)); err != nil {
		return nil, err
	}
	return t.Next.Generate(ctx, prompts, sc)
}

// Wrap 限额未启用时原样返回 gen。
func Wrap(gen contract.Generator, lim Limits) contract.Generator {
	if !lim.Enabled() {
		return gen
	}
	return &Throttled{Next: gen, Limiter: NewLimiter(lim, nil)}
}
