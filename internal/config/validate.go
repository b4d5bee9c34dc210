package config

import (
	"fmt"
	"strings"

	"aslgloss/pkg/contract"
	"aslgloss/pkg/registry"
)

func cfgErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{contract.ErrConfig}, args...)...)
}

// Validate 校验日志配置。
func (l Logging) Validate() []error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return []error{cfgErr("logging.level %q must be debug|info|warn|error", l.Level)}
}

// Validate 校验数据源。
func (s Source) Validate() []error {
	var errs []error
	if registry.Source[s.Kind] == nil {
		errs = append(errs, cfgErr("source.kind %q not registered", s.Kind))
	}
	if s.Kind == "duckdb" && strings.TrimSpace(s.Path) == "" {
		errs = append(errs, cfgErr("source.path is required"))
	}
	if strings.TrimSpace(s.TextColumn) == "" {
		errs = append(errs, cfgErr("source.text_column is required"))
	}
	if s.Limit < 0 {
		errs = append(errs, cfgErr("source.limit must be >= 0"))
	}
	return errs
}

// Validate 校验生成参数。
func (g Generation) Validate() []error {
	var errs []error
	if registry.Generator[g.Client] == nil {
		errs = append(errs, cfgErr("generation.client %q not registered", g.Client))
	}
	if g.BatchSize < 1 {
		errs = append(errs, cfgErr("generation.batch_size must be >= 1, got %d", g.BatchSize))
	}
	if err := g.Sampling().Validate(); err != nil {
		errs = append(errs, cfgErr("generation: %v", err))
	}
	if g.Timeout < 0 {
		errs = append(errs, cfgErr("generation.timeout must be >= 0"))
	}
	if g.Limits.RPM < 0 || g.Limits.TPM < 0 {
		errs = append(errs, cfgErr("generation.limits must be >= 0"))
	}
	return errs
}

// Validate 校验输出。
func (o Output) Validate() []error {
	var errs []error
	if registry.Writer[o.Writer] == nil {
		errs = append(errs, cfgErr("output.writer %q not registered", o.Writer))
	}
	if strings.TrimSpace(o.Dir) == "" {
		errs = append(errs, cfgErr("output.dir is required"))
	}
	if strings.TrimSpace(o.Column) == "" {
		errs = append(errs, cfgErr("output.column is required"))
	}
	return errs
}

// Validate 校验服务配置。
func (s Serve) Validate() []error {
	var errs []error
	if registry.Transcriber[s.Transcriber] == nil {
		errs = append(errs, cfgErr("serve.transcriber %q not registered", s.Transcriber))
	}
	if strings.TrimSpace(s.Addr) == "" {
		errs = append(errs, cfgErr("serve.addr is required"))
	}
	if s.MaxUploadMB <= 0 {
		errs = append(errs, cfgErr("serve.max_upload_mb must be > 0"))
	}
	if s.Generation.MaxNewTokens <= 0 {
		errs = append(errs, cfgErr("serve.generation.max_new_tokens must be > 0"))
	}
	return errs
}

// Validate 校验导出配置。
func (f Finetune) Validate() []error {
	var errs []error
	if strings.TrimSpace(f.Input) == "" {
		errs = append(errs, cfgErr("finetune.input is required"))
	}
	if strings.TrimSpace(f.OutputDir) == "" {
		errs = append(errs, cfgErr("finetune.output_dir is required"))
	}
	if f.TextColumn == "" || f.GlossColumn == "" {
		errs = append(errs, cfgErr("finetune.text_column and finetune.gloss_column are required"))
	}
	if f.Hyperparameters.MaxLength <= 0 {
		errs = append(errs, cfgErr("finetune.hyperparameters.max_length must be > 0"))
	}
	return errs
}

// ValidateSynth 汇总 synth 子命令用到的各段。
func (c Config) ValidateSynth() []error {
	var errs []error
	errs = append(errs, c.Logging.Validate()...)
	errs = append(errs, c.Source.Validate()...)
	errs = append(errs, c.Generation.Validate()...)
	errs = append(errs, c.Output.Validate()...)
	return errs
}

// ValidateServe 汇总 serve 子命令用到的各段。
func (c Config) ValidateServe() []error {
	return append(c.Logging.Validate(), c.Serve.Validate()...)
}

// ValidateExport 汇总 export 子命令用到的各段。
func (c Config) ValidateExport() []error {
	return append(c.Logging.Validate(), c.Finetune.Validate()...)
}
