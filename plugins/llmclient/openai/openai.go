package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aslgloss/pkg/contract"
)

// Options: OpenAI 兼容服务（典型为 vLLM `vllm serve`）的最小必需配置。
type Options struct {
	BaseURL        string `json:"base_url"`        // 例如 http://localhost:8000/v1
	Model          string `json:"model"`           // 为空则使用默认
	APIKeyEnv      string `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int    `json:"timeout_seconds"` // 可选 client 级超时（秒）
	// 第三方兼容（最小）：
	CompletionsPath    string            `json:"completions_path"`     // 覆盖默认 /completions；可为完整 URL
	ChatPath           string            `json:"chat_path"`            // 覆盖默认 /chat/completions；可为完整 URL
	DisableDefaultAuth bool              `json:"disable_default_auth"` // 关闭默认 Authorization: Bearer 注入
	ExtraHeaders       map[string]string `json:"extra_headers"`        // 追加/覆盖请求头
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:8000/v1"
	}
	if o.Model == "" {
		o.Model = "google/gemma-3n-E4B-it"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.CompletionsPath == "" {
		o.CompletionsPath = "/completions"
	}
	if o.ChatPath == "" {
		o.ChatPath = "/chat/completions"
	}
	// 未配置则采用安全默认 300s（批量生成可能较慢）
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 300
	}
}

type Client struct {
	hc      *http.Client
	compURL string
	chatURL string
	apiKey  string
	model   string
	extraH  map[string]string
	noAuth  bool
	do      func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	return NewWithOptions(opts)
}

// NewWithOptions 以已解码的选项构造客户端。
// 本地 vLLM 通常不校验密钥：缺少 key 时不注入 Authorization。
func NewWithOptions(opts Options) (*Client, error) {
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	return &Client{
		hc:      hc,
		compURL: joinURL(opts.BaseURL, opts.CompletionsPath),
		chatURL: joinURL(opts.BaseURL, opts.ChatPath),
		apiKey:  key,
		model:   opts.Model,
		extraH:  opts.ExtraHeaders,
		noAuth:  opts.DisableDefaultAuth || key == "",
		do:      hc.Do,
	}, nil
}

// Model 返回请求使用的模型名。
func (c *Client) Model() string { return c.model }

// joinURL 允许 p 为完整 URL；否则健壮拼接，确保恰好一个斜杠。
func joinURL(base, p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

type compReq struct {
	Model       string   `json:"model"`
	Prompt      []string `json:"prompt"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	MaxTokens   int      `json:"max_tokens"`
}

type compResp struct {
	Choices []struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	} `json:"choices"`
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// Generate: 整批 prompt 一次请求提交；choices 按 index 还原为提交顺序。
func (c *Client) Generate(ctx context.Context, prompts []contract.Prompt, sc contract.SamplingConfig) ([]contract.Completion, error) {
	if len(prompts) == 0 {
		return nil, nil
	}
	req := compReq{Model: c.model, Prompt: make([]string, len(prompts)), Temperature: sc.Temperature, TopP: sc.TopP, MaxTokens: sc.MaxTokens}
	for i, p := range prompts {
		req.Prompt[i] = string(p)
	}
	var cr compResp
	if err := c.post(ctx, c.compURL, &req, &cr); err != nil {
		return nil, err
	}
	if len(cr.Choices) != len(prompts) {
		return nil, fmt.Errorf("openai: %d choices for %d prompts: %w", len(cr.Choices), len(prompts), contract.ErrResponseInvalid)
	}
	out := make([]contract.Completion, len(prompts))
	seen := make([]bool, len(prompts))
	for _, ch := range cr.Choices {
		if ch.Index < 0 || ch.Index >= len(prompts) || seen[ch.Index] {
			return nil, fmt.Errorf("openai: bad choice index %d: %w", ch.Index, contract.ErrResponseInvalid)
		}
		seen[ch.Index] = true
		out[ch.Index] = contract.Completion{Text: ch.Text}
	}
	return out, nil
}

type chatPart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	InputAudio *chatInputAudio `json:"input_audio,omitempty"`
}

type chatInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatReq struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	TopK        int           `json:"top_k,omitempty"` // vLLM 扩展参数
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Transcribe: 以 input_audio 内容片段提交音频（vLLM 多模态 chat 接口）。
func (c *Client) Transcribe(ctx context.Context, tr contract.TranscribeRequest) (string, error) {
	data, err := os.ReadFile(tr.Audio.Path)
	if err != nil {
		return "", err
	}
	msgs := make([]chatMessage, 0, 2)
	if tr.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: tr.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: []chatPart{
		{Type: "input_audio", InputAudio: &chatInputAudio{Data: base64.StdEncoding.EncodeToString(data), Format: audioFormat(tr.Audio.Path)}},
		{Type: "text", Text: tr.Prompt},
	}})
	req := chatReq{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   tr.Options.MaxNewTokens,
		Temperature: tr.Options.Temperature,
		TopP:        tr.Options.TopP,
		TopK:        tr.Options.TopK,
	}
	var cr chatResp
	if err := c.post(ctx, c.chatURL, &req, &cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", contract.ErrResponseInvalid
	}
	return cr.Choices[0].Message.Content, nil
}

// audioFormat 由扩展名推断 input_audio.format；未知时按 wav 处理。
func audioFormat(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "mp3", "wav", "flac", "ogg", "m4a", "webm":
		return ext
	default:
		return "wav"
	}
}

func (c *Client) post(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	if !c.noAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		// 读取少量响应体辅助定位
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		// 分类：4xx 视为输入/配置无效；5xx 与 408 视为网络/上游问题
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return upstreamError{status: resp.StatusCode, msg: msg}
		}
		return fmt.Errorf("openai upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	return nil
}

var (
	_ contract.Generator   = (*Client)(nil)
	_ contract.Transcriber = (*Client)(nil)
)
