package contract

import (
	"context"
	"errors"
)

// Completion: 生成引擎针对单个 Prompt 返回的原始文本。
// 约束：原样返回，不做清洗/截断/归一化。
type Completion struct {
	Text string
}

// SamplingConfig: 采样参数（与引擎无关的最小集合）。
type SamplingConfig struct {
	Temperature float64 `json:"temperature" mapstructure:"temperature" yaml:"temperature"` // 0 为确定性
	TopP        float64 `json:"top_p" mapstructure:"top_p" yaml:"top_p"`                   // [0,1]
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`    // > 0
}

// Validate 校验采样参数取值范围。
func (s SamplingConfig) Validate() error {
	if s.Temperature < 0 {
		return errors.New("temperature must be >= 0")
	}
	if s.TopP < 0 || s.TopP > 1 {
		return errors.New("top_p must be within [0,1]")
	}
	if s.MaxTokens <= 0 {
		return errors.New("max_tokens must be > 0")
	}
	return nil
}

// Generator: 以批为单位提交 Prompt 给外部批量推理引擎。
// 约束：
//  1. 返回的 Completion 与输入等长、同序；
//  2. 单次调用、同步返回；应尊重 ctx 取消/超时；
//  3. 任何错误对本次运行均为致命，调用方不重试。
type Generator interface {
	Generate(ctx context.Context, prompts []Prompt, sc SamplingConfig) ([]Completion, error)
}

// Audio: 一段待转写音频（已落盘的临时文件）。
type Audio struct {
	Path     string
	MIMEType string
}

// TranscribeOptions: 转写时的生成参数。
type TranscribeOptions struct {
	MaxNewTokens int     `json:"max_new_tokens" mapstructure:"max_new_tokens" yaml:"max_new_tokens"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature" yaml:"temperature"`
	TopP         float64 `json:"top_p" mapstructure:"top_p" yaml:"top_p"`
	TopK         int     `json:"top_k" mapstructure:"top_k" yaml:"top_k"`
}

// TranscribeRequest: 单次转写请求。
type TranscribeRequest struct {
	System  string
	Prompt  string
	Audio   Audio
	Options TranscribeOptions
}

// Transcriber: 对单段音频生成自由文本描述（通常为 text<ASL>gloss</ASL>）。
// 实现必须可并发调用。
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (string, error)
}

// 最小错误分类（用于上层策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
)
