package registry

import (
	"bytes"
	"context"
	"encoding/json"

	"aslgloss/pkg/contract"
	dgl "aslgloss/plugins/decoder/gloss"
	flaky "aslgloss/plugins/llmclient/flaky"
	gmi "aslgloss/plugins/llmclient/gemini"
	mock "aslgloss/plugins/llmclient/mock"
	oai "aslgloss/plugins/llmclient/openai"
	pgl "aslgloss/plugins/prompt/gloss"
	sdk "aslgloss/plugins/source/duckdb"
	smy "aslgloss/plugins/source/mysql"
	wdk "aslgloss/plugins/writer/duckdb"
	wfs "aslgloss/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewSource 工厂签名：接收原样 JSON Options。
type NewSource func(raw json.RawMessage) (contract.Source, error)

// NewPromptFormatter 工厂签名：接收原样 JSON Options。
type NewPromptFormatter func(raw json.RawMessage) (contract.PromptFormatter, error)

// NewGenerator 工厂签名；ctx 仅用于构造期（SDK 客户端初始化）。
type NewGenerator func(ctx context.Context, raw json.RawMessage) (contract.Generator, error)

// NewTranscriber 工厂签名。
type NewTranscriber func(ctx context.Context, raw json.RawMessage) (contract.Transcriber, error)

// NewParser 工厂签名：接收原样 JSON Options。
type NewParser func(raw json.RawMessage) (contract.Parser, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Source 工厂注册表（显式、零反射）。
var Source = map[string]NewSource{
	// duckdb: parquet/csv/json 本地文件
	"duckdb": func(raw json.RawMessage) (contract.Source, error) {
		var opts sdk.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sdk.New(opts)
	},
	// mysql: gorm 分页读取
	"mysql": func(raw json.RawMessage) (contract.Source, error) {
		var opts smy.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return smy.New(opts)
	},
}

// PromptFormatter 工厂注册表。
var PromptFormatter = map[string]NewPromptFormatter{
	"gloss": func(raw json.RawMessage) (contract.PromptFormatter, error) {
		var opts pgl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pgl.New(&opts)
	},
}

// Generator 工厂注册表。
var Generator = map[string]NewGenerator{
	"openai": func(_ context.Context, raw json.RawMessage) (contract.Generator, error) {
		var opts oai.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return oai.NewWithOptions(opts)
	},
	"gemini": func(ctx context.Context, raw json.RawMessage) (contract.Generator, error) {
		var opts gmi.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return gmi.New(ctx, opts)
	},
	"mock": func(_ context.Context, raw json.RawMessage) (contract.Generator, error) {
		var opts mock.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return mock.NewWithOptions(opts), nil
	},
	// flaky: 第 N 次调用注入故障（集成测试）
	"flaky": func(_ context.Context, raw json.RawMessage) (contract.Generator, error) {
		var opts flaky.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return flaky.NewWithOptions(opts), nil
	},
}

// Transcriber 工厂注册表（/transcribe 服务）。
var Transcriber = map[string]NewTranscriber{
	"openai": func(_ context.Context, raw json.RawMessage) (contract.Transcriber, error) {
		var opts oai.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return oai.NewWithOptions(opts)
	},
	"gemini": func(ctx context.Context, raw json.RawMessage) (contract.Transcriber, error) {
		var opts gmi.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return gmi.New(ctx, opts)
	},
	"mock": func(_ context.Context, raw json.RawMessage) (contract.Transcriber, error) {
		var opts mock.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return mock.NewWithOptions(opts), nil
	},
}

// Parser 工厂注册表。
var Parser = map[string]NewParser{
	// gloss: 标记后截取 + 去引号
	"gloss": func(raw json.RawMessage) (contract.Parser, error) {
		var opts dgl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dgl.NewWithMarker(opts.Marker), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: data.jsonl + manifest.json（原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
	// duckdb: data.parquet + manifest.json
	"duckdb": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wdk.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wdk.New(opts)
	},
}
