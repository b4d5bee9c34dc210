package config

import (
	"bufio"
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"aslgloss/plugins/writer/filesystem"
)

// 模板中各段的注释（键为顶层段名）。
var sectionComments = map[string]string{
	"logging":    "日志：level=debug|info|warn|error；dir 为轮转日志目录",
	"source":     "上游数据集：kind=duckdb（parquet/csv/json 文件）或 mysql（options 中给出 dsn/table）",
	"prompt":     "指令模板：均为空时使用内置 Gemma 模板；模板须恰好包含一次 {english_text}",
	"generation": "批量生成：client=openai|gemini|mock|flaky；timeout 为单次调用超时；limits 为 0 时不限流",
	"parser":     "解析：取 marker 最后一次出现之后的文本",
	"output":     "工件：writer=fs（data.jsonl）或 duckdb（data.parquet），每次运行整体替换 dir",
	"serve":      "/transcribe 服务：transcriber=openai|gemini|mock",
	"finetune":   "训练集导出：tokenizer 为 SentencePiece 模型路径，为空时只导出消息",
}

// TemplateConfig 返回带示例 options 的默认配置。
func TemplateConfig() Config {
	c := Defaults()
	c.Source.Path = "english_dialects.parquet"
	c.Generation.Options = map[string]any{
		"base_url":        "http://localhost:8000/v1",
		"api_key_env":     "OPENAI_API_KEY",
		"timeout_seconds": 300,
	}
	c.Serve.Options = map[string]any{"base_url": "http://localhost:8000/v1"}
	return c
}

// MarshalTemplate 以带注释的 YAML 渲染 cfg。
func MarshalTemplate(cfg Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, err
	}
	// doc 为映射节点：Content 依次为 key/value
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if c, ok := sectionComments[doc.Content[i].Value]; ok {
			doc.Content[i].HeadComment = c
		}
	}
	return yaml.Marshal(&doc)
}

// WriteTemplate 原子写出配置模板。
func WriteTemplate(ctx context.Context, path string) error {
	b, err := MarshalTemplate(TemplateConfig())
	if err != nil {
		return err
	}
	return filesystem.WriteFileAtomic(ctx, path, 0o644, func(w *bufio.Writer) error {
		_, err := w.Write(b)
		return err
	})
}

// Exists 判断路径是否已存在（init-config 不覆盖已有文件）。
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
