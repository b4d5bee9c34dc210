package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"aslgloss/pkg/contract"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

// stubTr 记录请求，并在调用时读取临时音频。
type stubTr struct {
	out   string
	err   error
	got   contract.TranscribeRequest
	audio []byte
}

func (s *stubTr) Transcribe(ctx context.Context, req contract.TranscribeRequest) (string, error) {
	s.got = req
	s.audio, _ = os.ReadFile(req.Audio.Path)
	return s.out, s.err
}

type part struct {
	field, filename, body string
}

func upload(t *testing.T, h http.Handler, parts ...part) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		hdr := textproto.MIMEHeader{}
		if p.filename != "-" {
			hdr.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		} else {
			hdr.Set("Content-Disposition", `form-data; name="`+p.field+`"`)
		}
		w, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(p.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("响应非 JSON: %v: %s", err, rec.Body.String())
	}
	return rec, body
}

func newService(t *testing.T, tr contract.Transcriber) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	return New(tr, Options{
		Model:      "gemma-3n",
		TempDir:    dir,
		Generation: contract.TranscribeOptions{MaxNewTokens: 256, Temperature: 1.0, TopP: 0.95, TopK: 64},
	}, nil), dir
}

func TestTranscribeSplitsGloss(t *testing.T) {
	tr := &stubTr{out: "  I am going home.<ASL>IX-1 GO HOME</ASL>\n"}
	svc, dir := newService(t, tr)
	rec, body := upload(t, svc.Handler(),
		part{"audio", "clip.wav", "RIFFdata"},
		part{"prompt", "-", "Transcribe as ASL gloss"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"text": "I am going home.", "asl_gloss": "IX-1 GO HOME"}, body)

	assert.Equal(t, SystemPrompt, tr.got.System)
	assert.Equal(t, "Transcribe as ASL gloss", tr.got.Prompt)
	assert.Equal(t, ".wav", filepath.Ext(tr.got.Audio.Path))
	assert.Equal(t, "RIFFdata", string(tr.audio))
	assert.Equal(t, 64, tr.got.Options.TopK)
	assert.Equal(t, 256, tr.got.Options.MaxNewTokens)

	// 临时文件在请求结束后删除
	_, err := os.Stat(tr.got.Audio.Path)
	assert.True(t, os.IsNotExist(err))
	ents, _ := os.ReadDir(dir)
	assert.Empty(t, ents)
}

func TestTranscribeNoTagsAndDefaultPrompt(t *testing.T) {
	tr := &stubTr{out: " just words \n"}
	svc, _ := newService(t, tr)
	rec, body := upload(t, svc.Handler(), part{"audio", "a.mp3", "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "just words", body["text"])
	assert.Equal(t, "just words", body["asl_gloss"])
	assert.Equal(t, DefaultPrompt, tr.got.Prompt)
	assert.Equal(t, "audio/mpeg", tr.got.Audio.MIMEType)
}

func TestTranscribeMissingAudio(t *testing.T) {
	tr := &stubTr{}
	svc, _ := newService(t, tr)
	rec, body := upload(t, svc.Handler(), part{"prompt", "-", "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No audio file provided", body["error"])
	assert.Empty(t, tr.got.Prompt)
}

func TestTranscribeEmptyFilename(t *testing.T) {
	svc, _ := newService(t, &stubTr{})
	rec, body := upload(t, svc.Handler(), part{"audio", "", "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No audio file selected", body["error"])
}

func TestTranscribeNotMultipart(t *testing.T) {
	svc, _ := newService(t, &stubTr{})
	req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No audio file provided"}`, rec.Body.String())
}

func TestTranscribeInferenceError(t *testing.T) {
	tr := &stubTr{err: errors.New("CUDA out of memory")}
	svc, dir := newService(t, tr)
	rec, body := upload(t, svc.Handler(), part{"audio", "clip.flac", "x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An error occurred during model inference: CUDA out of memory", body["error"])
	ents, _ := os.ReadDir(dir)
	assert.Empty(t, ents)
}

func TestTranscribeFileError(t *testing.T) {
	tr := &stubTr{}
	svc := New(tr, Options{TempDir: filepath.Join(t.TempDir(), "missing")}, nil)
	rec, body := upload(t, svc.Handler(), part{"audio", "clip.wav", "x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "An error occurred processing the file: ")
	assert.Empty(t, tr.got.Prompt)
}

func TestHealthz(t *testing.T) {
	svc, _ := newService(t, &stubTr{})
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","model":"gemma-3n"}`, rec.Body.String())
}
