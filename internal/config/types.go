package config

import (
	"time"

	"aslgloss/internal/finetune"
	"aslgloss/internal/rate"
	"aslgloss/pkg/contract"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 文件键使用 snake_case；未知键在解析期失败。各插件的 options 子树原样转为 JSON 交给 registry 严格解码。
type Config struct {
	Logging    Logging    `mapstructure:"logging" yaml:"logging"`
	Source     Source     `mapstructure:"source" yaml:"source"`
	Prompt     Prompt     `mapstructure:"prompt" yaml:"prompt"`
	Generation Generation `mapstructure:"generation" yaml:"generation"`
	Parser     Parser     `mapstructure:"parser" yaml:"parser"`
	Output     Output     `mapstructure:"output" yaml:"output"`
	Serve      Serve      `mapstructure:"serve" yaml:"serve"`
	Finetune   Finetune   `mapstructure:"finetune" yaml:"finetune"`
}

// Logging: 日志等级与目录。
type Logging struct {
	Level string `mapstructure:"level" yaml:"level"`
	Dir   string `mapstructure:"dir" yaml:"dir"`
}

// Source: 上游数据集。Kind 为 registry.Source 中的实现名。
type Source struct {
	Kind       string         `mapstructure:"kind" yaml:"kind"`
	Path       string         `mapstructure:"path" yaml:"path"`
	TextColumn string         `mapstructure:"text_column" yaml:"text_column"`
	Limit      int            `mapstructure:"limit" yaml:"limit"`
	Options    map[string]any `mapstructure:"options" yaml:"options"`
}

// Prompt: 模板来源；均为空时使用内置 Gemma 模板。
type Prompt struct {
	TemplatePath   string `mapstructure:"template_path" yaml:"template_path"`
	InlineTemplate string `mapstructure:"inline_template" yaml:"inline_template"`
}

// Generation: 批量生成。
type Generation struct {
	Client    string `mapstructure:"client" yaml:"client"`
	Model     string `mapstructure:"model" yaml:"model"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
	// Timeout: 单次生成调用的超时；0 表示不设置。
	Timeout     time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	Temperature float64        `mapstructure:"temperature" yaml:"temperature"`
	TopP        float64        `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens   int            `mapstructure:"max_tokens" yaml:"max_tokens"`
	Limits      rate.Limits    `mapstructure:"limits" yaml:"limits"`
	Options     map[string]any `mapstructure:"options" yaml:"options"`
}

// Sampling 返回采样参数。
func (g Generation) Sampling() contract.SamplingConfig {
	return contract.SamplingConfig{Temperature: g.Temperature, TopP: g.TopP, MaxTokens: g.MaxTokens}
}

// Parser: 输出解析。
type Parser struct {
	Marker string `mapstructure:"marker" yaml:"marker"`
}

// Output: 工件位置与格式。
type Output struct {
	Writer  string         `mapstructure:"writer" yaml:"writer"`
	Dir     string         `mapstructure:"dir" yaml:"dir"`
	Column  string         `mapstructure:"column" yaml:"column"`
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// Serve: /transcribe 服务。
type Serve struct {
	Addr        string                     `mapstructure:"addr" yaml:"addr"`
	Transcriber string                     `mapstructure:"transcriber" yaml:"transcriber"`
	Model       string                     `mapstructure:"model" yaml:"model"`
	MaxUploadMB int                        `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	Generation  contract.TranscribeOptions `mapstructure:"generation" yaml:"generation"`
	Options     map[string]any             `mapstructure:"options" yaml:"options"`
}

// Finetune: 训练集导出。
type Finetune struct {
	// Input: 已合成工件目录（含 manifest.json）。
	Input       string `mapstructure:"input" yaml:"input"`
	OutputDir   string `mapstructure:"output_dir" yaml:"output_dir"`
	AudioColumn string `mapstructure:"audio_column" yaml:"audio_column"`
	TextColumn  string `mapstructure:"text_column" yaml:"text_column"`
	GlossColumn string `mapstructure:"gloss_column" yaml:"gloss_column"`
	// Tokenizer: SentencePiece 模型路径；为空时只导出消息。
	Tokenizer       string                   `mapstructure:"tokenizer" yaml:"tokenizer"`
	SpecialTokens   finetune.SpecialTokens   `mapstructure:"special_tokens" yaml:"special_tokens"`
	Hyperparameters finetune.Hyperparameters `mapstructure:"hyperparameters" yaml:"hyperparameters"`
}
