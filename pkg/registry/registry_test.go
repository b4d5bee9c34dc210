package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"aslgloss/pkg/contract"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	ctx := context.Background()
	t.Run("source-duckdb", func(t *testing.T) {
		if _, err := Source["duckdb"](json.RawMessage(`{"path":"in.parquet","limit":10}`)); err != nil {
			t.Fatalf("duckdb source: %v", err)
		}
		if _, err := Source["duckdb"](json.RawMessage(`{"path":"in.parquet","x":1}`)); err == nil {
			t.Fatalf("duckdb source 未对未知字段报错")
		}
		if _, err := Source["duckdb"](json.RawMessage(`{}`)); !errors.Is(err, contract.ErrConfig) {
			t.Fatalf("缺少 path 应为配置错误: %v", err)
		}
	})
	t.Run("source-mysql", func(t *testing.T) {
		if _, err := Source["mysql"](json.RawMessage(`{"dsn":"u:p@tcp(h:3306)/db","table":"utts"}`)); err != nil {
			t.Fatalf("mysql source: %v", err)
		}
	})
	t.Run("prompt", func(t *testing.T) {
		if _, err := PromptFormatter["gloss"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("prompt: %v", err)
		}
		if _, err := PromptFormatter["gloss"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("prompt 未对未知字段报错")
		}
	})
	t.Run("parser", func(t *testing.T) {
		if _, err := Parser["gloss"](json.RawMessage(`{}`)); err != nil {
			t.Fatalf("parser: %v", err)
		}
		if _, err := Parser["gloss"](json.RawMessage(`{"markr":"x"}`)); err == nil {
			t.Fatalf("parser 未对未知字段报错")
		}
	})
	t.Run("writer", func(t *testing.T) {
		tmp := filepath.Join(t.TempDir(), "out")
		raw := json.RawMessage(fmt.Sprintf(`{"output_dir":%q}`, tmp))
		for _, name := range []string{"fs", "duckdb"} {
			if _, err := Writer[name](raw); err != nil {
				t.Fatalf("writer %s: %v", name, err)
			}
			bad := json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"x":1}`, tmp))
			if _, err := Writer[name](bad); err == nil {
				t.Fatalf("writer %s 未对未知字段报错", name)
			}
		}
	})
	t.Run("generator-mock", func(t *testing.T) {
		for _, name := range []string{"mock", "flaky"} {
			if _, err := Generator[name](ctx, json.RawMessage(`{}`)); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
		}
		if _, err := Transcriber["mock"](ctx, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("mock transcriber: %v", err)
		}
		bad := map[string]json.RawMessage{
			"mock":  json.RawMessage(`{"prefx":"X"}`),
			"flaky": json.RawMessage(`{"fail_on":1,"faul":"short"}`),
		}
		for name, raw := range bad {
			if _, err := Generator[name](ctx, raw); err == nil {
				t.Fatalf("%s 未对未知字段报错", name)
			}
		}
		if _, err := Transcriber["mock"](ctx, bad["mock"]); err == nil {
			t.Fatalf("mock transcriber 未对未知字段报错")
		}
	})
	t.Run("generator-openai", func(t *testing.T) {
		if _, err := Generator["openai"](ctx, json.RawMessage(`{"base_url":"http://127.0.0.1:8000/v1"}`)); err != nil {
			t.Fatalf("openai: %v", err)
		}
		// 键名拼写错误不能静默回落到默认端点
		if _, err := Generator["openai"](ctx, json.RawMessage(`{"base_ur":"http://127.0.0.1:9/v1"}`)); err == nil {
			t.Fatalf("openai generator 未对未知字段报错")
		}
		if _, err := Transcriber["openai"](ctx, json.RawMessage(`{"modle":"m"}`)); err == nil {
			t.Fatalf("openai transcriber 未对未知字段报错")
		}
	})
	t.Run("generator-gemini", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "")
		if _, err := Generator["gemini"](ctx, json.RawMessage(`{}`)); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("gemini 未按预期报错: %v", err)
		}
		if _, err := Transcriber["gemini"](ctx, json.RawMessage(`{"model":"m","y":2}`)); err == nil {
			t.Fatalf("gemini 未对未知字段报错")
		}
	})
}
