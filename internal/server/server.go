package server

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aslgloss/internal/diag"
	"aslgloss/pkg/contract"
	dgl "aslgloss/plugins/decoder/gloss"
)

// 与微调模型约定的提示词。
const (
	SystemPrompt  = "You are an assistant that transcribes speech accurately."
	DefaultPrompt = "What is this audio about?"
)

// Options 服务参数。
type Options struct {
	// Model: 仅用于 /healthz 展示。
	Model string
	// MaxUploadBytes: 请求体上限；<=0 使用 32MiB。
	MaxUploadBytes int64
	Generation     contract.TranscribeOptions
	// TempDir: 上传音频的临时目录；为空使用系统默认。
	TempDir string
}

// Service 持有一个可并发调用的转写客户端，构造一次后交给各 handler。
type Service struct {
	tr     contract.Transcriber
	opts   Options
	logger *diag.Logger
}

// New 构造 Service；logger 可为 nil。
func New(tr contract.Transcriber, opts Options, logger *diag.Logger) *Service {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	return &Service{tr: tr, opts: opts, logger: logger}
}

// Handler 返回注册了全部路由的 gin 引擎。
func (s *Service) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.MaxMultipartMemory = s.opts.MaxUploadBytes
	r.GET("/healthz", s.healthz)
	r.POST("/transcribe", s.limitBody, s.transcribe)
	return r
}

func (s *Service) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": s.opts.Model})
}

func (s *Service) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	c.Next()
}

func (s *Service) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		t0 := time.Now()
		c.Next()
		s.logger.Debug("server", "request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("dur_ms", time.Since(t0).Milliseconds()))
	}
}

// transcribe: multipart 字段 audio（必填）与 prompt（可选）。
func (s *Service) transcribe(c *gin.Context) {
	fh, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("An error occurred processing the file: %v", err)})
		case hasEmptyFilePart(c):
			// filename="" 的分段被 multipart 解析为普通字段
			c.JSON(http.StatusBadRequest, gin.H{"error": "No audio file selected"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "No audio file provided"})
		}
		return
	}
	if fh.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No audio file selected"})
		return
	}
	prompt := c.DefaultPostForm("prompt", DefaultPrompt)

	path, err := s.save(c, fh)
	if path != "" {
		defer os.Remove(path)
	}
	if err != nil {
		s.fail("save upload", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("An error occurred processing the file: %v", err)})
		return
	}

	t := s.logger.Start("server", "transcribe")
	desc, err := s.tr.Transcribe(c.Request.Context(), contract.TranscribeRequest{
		System:  SystemPrompt,
		Prompt:  prompt,
		Audio:   contract.Audio{Path: path, MIMEType: mimeType(fh)},
		Options: s.opts.Generation,
	})
	if err != nil {
		s.fail("transcribe", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("An error occurred during model inference: %v", err)})
		return
	}
	t.Finish("transcribe", int64(len(desc)))
	diag.IncOp("server", "transcribe", "success")

	text, gloss := dgl.SplitTranscript(desc)
	c.JSON(http.StatusOK, gin.H{"text": text, "asl_gloss": gloss})
}

// save 将上传写入保留原扩展名的临时文件。
func (s *Service) save(c *gin.Context, fh *multipart.FileHeader) (string, error) {
	f, err := os.CreateTemp(s.opts.TempDir, "aslgloss-upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return path, err
	}
	return path, c.SaveUploadedFile(fh, path)
}

func (s *Service) fail(what string, err error) {
	code := diag.Classify(err)
	s.logger.ErrorWith("server", code, err.Error(), nil, "", zap.String("op", what))
	diag.IncOp("server", "transcribe", "error")
	diag.IncError("server", code)
}

func hasEmptyFilePart(c *gin.Context) bool {
	if c.Request.MultipartForm == nil {
		return false
	}
	_, ok := c.Request.MultipartForm.Value["audio"]
	return ok
}

var audioTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".webm": "audio/webm",
}

func mimeType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if mt, ok := audioTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
