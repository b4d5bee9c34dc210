package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aslgloss/pkg/contract"
	"aslgloss/plugins/llmclient/mock"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	return p
}

// 解析 YAML：未给出的键取默认值。
func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "aslgloss.yaml", `
source:
  path: data/english_dialects.parquet
generation:
  client: mock
  batch_size: 4
  timeout: 30s
output:
  dir: out
`)
	cfg, err := Load(nil, p, nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Generation.Client != "mock" || cfg.Generation.BatchSize != 4 {
		t.Fatalf("字段映射错误: %+v", cfg.Generation)
	}
	assert.Equal(t, 30*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.Equal(t, "asl_gloss", cfg.Output.Column)
	assert.Equal(t, 0.95, cfg.Generation.TopP)
	assert.Equal(t, "duckdb", cfg.Source.Kind)
	assert.Equal(t, 2048, cfg.Finetune.Hyperparameters.MaxLength)
	assert.Empty(t, cfg.ValidateSynth())
}

// 无配置文件时等同默认值。
func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load(nil, "", nil)
	require.NoError(t, err)
	d := Defaults()
	assert.Equal(t, d.Generation, cfg.Generation)
	assert.Equal(t, d.Serve.Generation, cfg.Serve.Generation)
	assert.Equal(t, d.Finetune.Hyperparameters, cfg.Finetune.Hyperparameters)
	// 默认缺少 source.path
	assert.NotEmpty(t, cfg.ValidateSynth())
}

// 文件中的未知键为配置错误。
func TestLoadUnknownKey(t *testing.T) {
	p := writeFile(t, "bad.yml", "generation:\n  bogus: 1\n")
	_, err := Load(nil, p, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrConfig))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.True(t, errors.Is(err, contract.ErrConfig))
}

// 环境变量覆盖文件。
func TestEnvOverride(t *testing.T) {
	t.Setenv("ASLGLOSS_GENERATION_BATCH_SIZE", "16")
	t.Setenv("ASLGLOSS_OUTPUT_COLUMN", "gloss")
	p := writeFile(t, "c.yaml", "generation:\n  batch_size: 4\n")
	cfg, err := Load(nil, p, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Generation.BatchSize)
	assert.Equal(t, "gloss", cfg.Output.Column)
}

// --set 覆盖优先于环境变量，并按默认值类型转换。
func TestApplySets(t *testing.T) {
	t.Setenv("ASLGLOSS_GENERATION_BATCH_SIZE", "16")
	cfg, err := Load(nil, "", []string{
		"generation.batch_size=2",
		"generation.temperature=0.7",
		"generation.timeout=90s",
		"source.path=x.csv",
		"Generation.Client = mock",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Generation.BatchSize)
	assert.Equal(t, 0.7, cfg.Generation.Temperature)
	assert.Equal(t, 90*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, "x.csv", cfg.Source.Path)
	assert.Equal(t, "mock", cfg.Generation.Client)
}

func TestApplySetsErrors(t *testing.T) {
	for _, set := range []string{
		"generation.nope=1",
		"generation.batch_size",
		"generation.batch_size=eight",
		"=x",
	} {
		_, err := Load(nil, "", []string{set})
		if !errors.Is(err, contract.ErrConfig) {
			t.Fatalf("%q 应返回 ErrConfig，实得 %v", set, err)
		}
	}
}

// 校验错误分支：每个问题各报一条。
func TestValidateErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Level = "loud"
	cfg.Source.Limit = -1
	cfg.Generation.BatchSize = 0
	cfg.Generation.MaxTokens = 0
	cfg.Output.Column = ""
	errs := cfg.ValidateSynth()
	require.Len(t, errs, 6)
	for _, e := range errs {
		assert.True(t, errors.Is(e, contract.ErrConfig), e.Error())
	}
	joined := joinErrs(errs).Error()
	for _, want := range []string{"logging.level", "source.path", "source.limit", "batch_size", "max_tokens", "output.column"} {
		assert.Contains(t, joined, want)
	}

	cfg = Defaults()
	cfg.Source.Kind = "sqlite"
	cfg.Source.Path = "x.db"
	assert.Len(t, cfg.Source.Validate(), 1)

	cfg = Defaults()
	cfg.Serve.Transcriber = "whisper"
	cfg.Serve.MaxUploadMB = 0
	assert.Len(t, cfg.ValidateServe(), 2)

	cfg = Defaults()
	cfg.Finetune.Input = ""
	cfg.Finetune.Hyperparameters.MaxLength = 0
	assert.Len(t, cfg.ValidateExport(), 2)
}

// 模板可被原样加载，且各段带注释。
func TestTemplateRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "aslgloss.yaml")
	require.False(t, Exists(p))
	require.NoError(t, WriteTemplate(context.Background(), p))
	require.True(t, Exists(p))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	for _, c := range sectionComments {
		assert.Contains(t, string(b), "# "+c)
	}

	cfg, err := Load(nil, p, nil)
	if err != nil {
		t.Fatalf("模板无法加载: %v\n%s", err, b)
	}
	tc := TemplateConfig()
	assert.Equal(t, tc.Source.Path, cfg.Source.Path)
	assert.Equal(t, tc.Generation.Timeout, cfg.Generation.Timeout)
	assert.Equal(t, tc.Generation.Sampling(), cfg.Generation.Sampling())
	assert.Equal(t, "http://localhost:8000/v1", cfg.Generation.Options["base_url"])
	assert.Equal(t, tc.Finetune.Hyperparameters, cfg.Finetune.Hyperparameters)
	assert.Nil(t, cfg.Finetune.SpecialTokens.Pad)
	assert.Empty(t, cfg.ValidateSynth())
}

func TestOptionMerging(t *testing.T) {
	cfg := Defaults()
	cfg.Source.Path = "a.parquet"
	cfg.Source.Limit = 0
	cfg.Source.Options = map[string]any{"text_column": "sentence"}
	raw, err := cfg.SourceOptions()
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"a.parquet","text_column":"sentence"}`, string(raw))

	cfg.Generation.Client = "mock"
	raw, err = cfg.GeneratorOptions()
	require.NoError(t, err)
	assert.Nil(t, raw)

	cfg.Generation.Client = "openai"
	cfg.Generation.Options = map[string]any{"base_url": "http://h/v1"}
	raw, err = cfg.GeneratorOptions()
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"google/gemma-3n-E4B-it","base_url":"http://h/v1"}`, string(raw))

	raw, err = cfg.WriterOptions()
	require.NoError(t, err)
	assert.JSONEq(t, `{"output_dir":"english_dialects_asl_gloss_vllm_batched"}`, string(raw))
}

// Assemble：mock 客户端 + duckdb 源 + fs 输出。
func TestAssembleMock(t *testing.T) {
	cfg := Defaults()
	cfg.Source.Path = "english.csv"
	cfg.Generation.Client = "mock"
	cfg.Output.Dir = t.TempDir()
	comp, set, err := Assemble(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, comp.Source)
	assert.IsType(t, &mock.Client{}, comp.Generator)
	assert.Equal(t, 8, set.BatchSize)
	assert.Equal(t, "asl_gloss", set.Column)
	assert.Equal(t, "duckdb:english.csv", set.SourceName)
	assert.Equal(t, 10*time.Minute, set.Timeout)
	assert.Equal(t, contract.SamplingConfig{Temperature: 0.2, TopP: 0.95, MaxTokens: 200}, set.Sampling)
	p := comp.Formatter.Format("hello")
	assert.True(t, strings.Contains(string(p), "hello"))
}

// 限流配置启用时生成器被包装。
func TestAssembleRateLimited(t *testing.T) {
	cfg := Defaults()
	cfg.Source.Path = "english.csv"
	cfg.Generation.Client = "mock"
	cfg.Generation.Limits.RPM = 60
	comp, _, err := Assemble(context.Background(), cfg)
	require.NoError(t, err)
	_, isMock := comp.Generator.(*mock.Client)
	assert.False(t, isMock)
}

func TestAssembleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Source.Path = "english.csv"
	cfg.Generation.Client = "mock"
	cfg.Prompt.InlineTemplate = "no placeholder"
	_, _, err := Assemble(context.Background(), cfg)
	assert.True(t, errors.Is(err, contract.ErrConfig))

	cfg = Defaults()
	cfg.Source.Path = "english.unknownext"
	cfg.Generation.Client = "mock"
	_, _, err = Assemble(context.Background(), cfg)
	assert.True(t, errors.Is(err, contract.ErrConfig))

	cfg = Defaults()
	cfg.Source.Path = "english.csv"
	cfg.Generation.Client = "mock"
	cfg.Source.Options = map[string]any{"unknown_field": 1}
	_, _, err = Assemble(context.Background(), cfg)
	assert.True(t, errors.Is(err, contract.ErrConfig))

	// generation.options 的拼写错误同样是配置错误
	cfg = Defaults()
	cfg.Source.Path = "english.csv"
	cfg.Generation.Options = map[string]any{"base_ur": "http://h/v1"}
	_, _, err = Assemble(context.Background(), cfg)
	assert.True(t, errors.Is(err, contract.ErrConfig), "%v", err)
}

func TestTranscriberMock(t *testing.T) {
	cfg := Defaults()
	cfg.Serve.Transcriber = "mock"
	cfg.Serve.Options = map[string]any{"transcript": "hi<ASL>HI</ASL>"}
	tr, err := Transcriber(context.Background(), cfg)
	require.NoError(t, err)
	got, err := tr.Transcribe(context.Background(), contract.TranscribeRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "hi<ASL>HI</ASL>", got)

	cfg.Serve.MaxUploadMB = 0
	_, err = Transcriber(context.Background(), cfg)
	assert.True(t, errors.Is(err, contract.ErrConfig))
}
