package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"aslgloss/internal/pipeline"
	"aslgloss/internal/rate"
	"aslgloss/pkg/contract"
	"aslgloss/pkg/registry"
	"aslgloss/plugins/assembler/column"
	"aslgloss/plugins/batcher/fixed"
)

// rawOptions 将 options 子树与一级字段合并为 JSON；options 中显式给出的键优先。
func rawOptions(opts map[string]any, fields map[string]any) (json.RawMessage, error) {
	m := make(map[string]any, len(opts)+len(fields))
	for k, v := range fields {
		if v == nil || v == "" || v == 0 {
			continue
		}
		m[k] = v
	}
	maps.Copy(m, opts)
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// SourceOptions 返回 source 工厂的原样 JSON。
func (c Config) SourceOptions() (json.RawMessage, error) {
	f := map[string]any{"text_column": c.Source.TextColumn, "limit": c.Source.Limit}
	if c.Source.Path != "" {
		f["path"] = c.Source.Path
	}
	return rawOptions(c.Source.Options, f)
}

// GeneratorOptions 返回生成客户端的原样 JSON（model 并入 options）。
func (c Config) GeneratorOptions() (json.RawMessage, error) {
	f := map[string]any{}
	if c.Generation.Client != "mock" && c.Generation.Client != "flaky" {
		f["model"] = c.Generation.Model
	}
	return rawOptions(c.Generation.Options, f)
}

// WriterOptions 返回 writer 工厂的原样 JSON。
func (c Config) WriterOptions() (json.RawMessage, error) {
	return rawOptions(c.Output.Options, map[string]any{"output_dir": c.Output.Dir})
}

// TranscriberOptions 返回转写客户端的原样 JSON。
func (c Config) TranscriberOptions() (json.RawMessage, error) {
	f := map[string]any{}
	if c.Serve.Transcriber != "mock" {
		f["model"] = c.Serve.Model
	}
	return rawOptions(c.Serve.Options, f)
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Assemble 校验 synth 相关配置并构造流水线组件。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(ctx context.Context, cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := joinErrs(cfg.ValidateSynth()); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	wrap := func(what string, err error) error {
		if errors.Is(err, contract.ErrConfig) || errors.Is(err, contract.ErrPathInvalid) {
			return fmt.Errorf("%s: %w", what, err)
		}
		return fmt.Errorf("%w: %s: %v", contract.ErrConfig, what, err)
	}

	raw, err := cfg.SourceOptions()
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("source options", err)
	}
	src, err := registry.Source[cfg.Source.Kind](raw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("source", err)
	}

	praw, _ := json.Marshal(map[string]string{
		"template_path":   cfg.Prompt.TemplatePath,
		"inline_template": cfg.Prompt.InlineTemplate,
	})
	pf, err := registry.PromptFormatter["gloss"](praw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("prompt", err)
	}

	raw, err = cfg.GeneratorOptions()
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("generation options", err)
	}
	gen, err := registry.Generator[cfg.Generation.Client](ctx, raw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("generation client", err)
	}

	mraw, _ := json.Marshal(map[string]string{"marker": cfg.Parser.Marker})
	parser, err := registry.Parser["gloss"](mraw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("parser", err)
	}

	raw, err = cfg.WriterOptions()
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("output options", err)
	}
	w, err := registry.Writer[cfg.Output.Writer](raw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, wrap("output writer", err)
	}

	comp := pipeline.Components{
		Source:    src,
		Batcher:   fixed.New(),
		Formatter: pf,
		Generator: rate.Wrap(gen, cfg.Generation.Limits),
		Parser:    parser,
		Assembler: column.New(),
		Writer:    w,
	}
	set := pipeline.Settings{
		BatchSize:  cfg.Generation.BatchSize,
		Sampling:   cfg.Generation.Sampling(),
		Column:     cfg.Output.Column,
		Timeout:    cfg.Generation.Timeout,
		Model:      cfg.Generation.Model,
		SourceName: describe(src, cfg.Source.Kind),
	}
	return comp, set, nil
}

// Transcriber 校验 serve 配置并构造转写客户端。
func Transcriber(ctx context.Context, cfg Config) (contract.Transcriber, error) {
	if err := joinErrs(cfg.ValidateServe()); err != nil {
		return nil, err
	}
	raw, err := cfg.TranscriberOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: serve options: %v", contract.ErrConfig, err)
	}
	tr, err := registry.Transcriber[cfg.Serve.Transcriber](ctx, raw)
	if err != nil {
		if errors.Is(err, contract.ErrConfig) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: transcriber: %v", contract.ErrConfig, err)
	}
	return tr, nil
}

func describe(v any, fallback string) string {
	if d, ok := v.(interface{ Describe() string }); ok {
		return d.Describe()
	}
	return fallback
}
