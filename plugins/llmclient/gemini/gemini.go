package gemini

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"aslgloss/pkg/contract"
)

// Options: Google Gemini API（GenAI SDK）最小必需。
type Options struct {
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// BaseURL/APIVersion: 覆盖 SDK 默认端点（代理/测试用）。
	BaseURL    string `json:"base_url"`
	APIVersion string `json:"api_version"`
	// 客户端超时（秒）。未设置或 <=0 时采用默认 60 秒。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Client 基于 genai SDK；SDK 客户端可并发使用。
type Client struct {
	gc    *genai.Client
	model string
}

// New 构造客户端。
func New(ctx context.Context, opts Options) (*Client, error) {
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = opts.BaseURL
	}
	if opts.APIVersion != "" {
		cfg.HTTPOptions.APIVersion = opts.APIVersion
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{gc: gc, model: opts.Model}, nil
}

// Model 返回请求使用的模型名。
func (c *Client) Model() string { return c.model }

// upstreamError 实现 net.Error，用于将上游 5xx/408 映射为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// mapErr 将 SDK 错误映射到 contract 分类。
func mapErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ae genai.APIError
	if !errors.As(err, &ae) {
		var pae *genai.APIError
		if !errors.As(err, &pae) || pae == nil {
			return err
		}
		ae = *pae
	}
	switch {
	case ae.Code == http.StatusTooManyRequests:
		return contract.ErrRateLimited
	case ae.Code == http.StatusRequestTimeout || ae.Code/100 == 5:
		return upstreamError{status: ae.Code, msg: ae.Message}
	default:
		return fmt.Errorf("gemini upstream %d: %s: %w", ae.Code, ae.Message, contract.ErrInvalidInput)
	}
}

// Generate: Gemini API 无批量补全接口，按提交顺序逐条调用；任一失败即整批失败。
func (c *Client) Generate(ctx context.Context, prompts []contract.Prompt, sc contract.SamplingConfig) ([]contract.Completion, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(sc.Temperature)),
		TopP:            genai.Ptr(float32(sc.TopP)),
		MaxOutputTokens: int32(sc.MaxTokens),
	}
	out := make([]contract.Completion, 0, len(prompts))
	for _, p := range prompts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		resp, err := c.gc.Models.GenerateContent(ctx, c.model, genai.Text(string(p)), cfg)
		if err != nil {
			return nil, mapErr(ctx, err)
		}
		out = append(out, contract.Completion{Text: resp.Text()})
	}
	return out, nil
}

// Transcribe: 音频以 inline bytes 片段提交，system 走 SystemInstruction。
func (c *Client) Transcribe(ctx context.Context, tr contract.TranscribeRequest) (string, error) {
	data, err := os.ReadFile(tr.Audio.Path)
	if err != nil {
		return "", err
	}
	mt := tr.Audio.MIMEType
	if mt == "" {
		mt = audioMIME(tr.Audio.Path)
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(tr.Options.Temperature)),
	}
	if tr.Options.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(tr.Options.TopP))
	}
	if tr.Options.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(tr.Options.TopK))
	}
	if tr.Options.MaxNewTokens > 0 {
		cfg.MaxOutputTokens = int32(tr.Options.MaxNewTokens)
	}
	if tr.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(tr.System, genai.RoleUser)
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mt),
			genai.NewPartFromText(tr.Prompt),
		}, genai.RoleUser),
	}
	resp, err := c.gc.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", mapErr(ctx, err)
	}
	return resp.Text(), nil
}

// audioMIME 由扩展名推断 MIME；未知时按 audio/wav 处理。
func audioMIME(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mp3"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	}
	if mt := mime.TypeByExtension(ext); strings.HasPrefix(mt, "audio/") {
		return mt
	}
	return "audio/wav"
}

var (
	_ contract.Generator   = (*Client)(nil)
	_ contract.Transcriber = (*Client)(nil)
)
