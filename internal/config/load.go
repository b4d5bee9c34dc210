package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"aslgloss/internal/finetune"
	"aslgloss/plugins/assembler/column"
	dgl "aslgloss/plugins/decoder/gloss"
	"aslgloss/pkg/contract"
)

// EnvPrefix: 环境变量前缀，例如 ASLGLOSS_GENERATION_BATCH_SIZE。
const EnvPrefix = "ASLGLOSS"

// Defaults 返回参考脚本的默认值。
func Defaults() Config {
	return Config{
		Logging: Logging{Level: "info", Dir: "logs"},
		Source:  Source{Kind: "duckdb", TextColumn: "text"},
		Generation: Generation{
			Client:      "openai",
			Model:       "google/gemma-3n-E4B-it",
			BatchSize:   8,
			Timeout:     10 * time.Minute,
			Temperature: 0.2,
			TopP:        0.95,
			MaxTokens:   200,
		},
		Parser: Parser{Marker: dgl.DefaultMarker},
		Output: Output{Writer: "fs", Dir: "english_dialects_asl_gloss_vllm_batched", Column: column.DefaultColumn},
		Serve: Serve{
			Addr:        "0.0.0.0:5000",
			Transcriber: "openai",
			MaxUploadMB: 32,
			Generation:  contract.TranscribeOptions{MaxNewTokens: 256, Temperature: 1.0, TopP: 0.95, TopK: 64},
		},
		Finetune: Finetune{
			Input:           "english_dialects_asl_gloss_vllm_batched",
			OutputDir:       "asl_gloss_finetune",
			AudioColumn:     "audio",
			TextColumn:      "text",
			GlossColumn:     column.DefaultColumn,
			Hyperparameters: finetune.DefaultHyperparameters(),
		},
	}
}

// NewViper 返回已设置默认值与环境变量映射的 viper 实例。
// 所有标量键都注册默认值，AutomaticEnv 才能在 Unmarshal 时生效。
func NewViper() *viper.Viper {
	v := viper.New()
	d := Defaults()
	for k, val := range map[string]any{
		"logging.level":                   d.Logging.Level,
		"logging.dir":                     d.Logging.Dir,
		"source.kind":                     d.Source.Kind,
		"source.path":                     d.Source.Path,
		"source.text_column":              d.Source.TextColumn,
		"source.limit":                    d.Source.Limit,
		"prompt.template_path":            d.Prompt.TemplatePath,
		"prompt.inline_template":          d.Prompt.InlineTemplate,
		"generation.client":               d.Generation.Client,
		"generation.model":                d.Generation.Model,
		"generation.batch_size":           d.Generation.BatchSize,
		"generation.timeout":              d.Generation.Timeout,
		"generation.temperature":          d.Generation.Temperature,
		"generation.top_p":                d.Generation.TopP,
		"generation.max_tokens":           d.Generation.MaxTokens,
		"generation.limits.rpm":           d.Generation.Limits.RPM,
		"generation.limits.tpm":           d.Generation.Limits.TPM,
		"parser.marker":                   d.Parser.Marker,
		"output.writer":                   d.Output.Writer,
		"output.dir":                      d.Output.Dir,
		"output.column":                   d.Output.Column,
		"serve.addr":                      d.Serve.Addr,
		"serve.transcriber":               d.Serve.Transcriber,
		"serve.model":                     d.Serve.Model,
		"serve.max_upload_mb":             d.Serve.MaxUploadMB,
		"serve.generation.max_new_tokens": d.Serve.Generation.MaxNewTokens,
		"serve.generation.temperature":    d.Serve.Generation.Temperature,
		"serve.generation.top_p":          d.Serve.Generation.TopP,
		"serve.generation.top_k":          d.Serve.Generation.TopK,
		"finetune.input":                  d.Finetune.Input,
		"finetune.output_dir":             d.Finetune.OutputDir,
		"finetune.audio_column":           d.Finetune.AudioColumn,
		"finetune.text_column":            d.Finetune.TextColumn,
		"finetune.gloss_column":           d.Finetune.GlossColumn,
		"finetune.tokenizer":              d.Finetune.Tokenizer,
	} {
		v.SetDefault(k, val)
	}
	h := d.Finetune.Hyperparameters
	for k, val := range map[string]any{
		"lora_r":                      h.LoRARank,
		"lora_alpha":                  h.LoRAAlpha,
		"lora_dropout":                h.LoRADropout,
		"per_device_train_batch_size": h.BatchSize,
		"gradient_accumulation_steps": h.GradAccum,
		"warmup_ratio":                h.WarmupRatio,
		"max_steps":                   h.MaxSteps,
		"learning_rate":               h.LearningRate,
		"weight_decay":                h.WeightDecay,
		"lr_scheduler_type":           h.Scheduler,
		"seed":                        h.Seed,
		"max_length":                  h.MaxLength,
	} {
		v.SetDefault("finetune.hyperparameters."+k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load 读取配置文件（可为空）、环境变量与 --set 覆盖，返回解码后的 Config。
// 优先级：--set > 命令行 flag > 环境变量 > 文件 > 默认值。
func Load(v *viper.Viper, path string, sets []string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("%w: config file: %v", contract.ErrConfig, err)
		}
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if ext == "yml" {
			ext = "yaml"
		}
		v.SetConfigFile(path)
		v.SetConfigType(ext)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: %v", contract.ErrConfig, errors.Wrapf(err, "parse %s", path))
		}
	}
	if err := ApplySets(v, sets); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", contract.ErrConfig, err)
	}
	return cfg, nil
}

// ApplySets 处理 key=value 形式的覆盖，值按默认值的类型转换。
func ApplySets(v *viper.Viper, sets []string) error {
	for _, kv := range sets {
		k, val, ok := strings.Cut(kv, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		val = strings.TrimSpace(val)
		if !ok || k == "" {
			return fmt.Errorf("%w: --set expects key=value, got %q", contract.ErrConfig, kv)
		}
		if !v.IsSet(k) {
			return fmt.Errorf("%w: unknown config key %q", contract.ErrConfig, k)
		}
		var (
			out any
			err error
		)
		switch v.Get(k).(type) {
		case int:
			out, err = cast.ToIntE(val)
		case float64:
			out, err = cast.ToFloat64E(val)
		case bool:
			out, err = cast.ToBoolE(val)
		case time.Duration:
			out, err = cast.ToDurationE(val)
		default:
			out = val
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", contract.ErrConfig, k, err)
		}
		v.Set(k, out)
	}
	return nil
}
