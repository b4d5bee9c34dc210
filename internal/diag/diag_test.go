package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"aslgloss/pkg/contract"
)

// 日志轮转写入：超过阈值后产生历史文件。
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	_, err := w.Write([]byte("first line that is very long\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	var current, rotated int
	for _, e := range ents {
		switch {
		case e.Name() == currentLogName:
			current++
		case strings.HasPrefix(e.Name(), "aslgloss-") && strings.HasSuffix(e.Name(), ".log"):
			rotated++
		}
	}
	assert.Equal(t, 1, current)
	assert.Equal(t, 1, rotated)
	b, err := os.ReadFile(filepath.Join(dir, currentLogName))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(b))
}

// 单条记录超过阈值时也写入（不会无限轮转）。
func TestRotatingFileOversized(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 4)
	defer w.Close()
	for i := 0; i < 3; i++ {
		_, err := w.Write([]byte("xxxxxxxxxx\n"))
		require.NoError(t, err)
	}
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, ents, 3)
}

// 目录不可创建时返回错误。
func TestRotatingFileBadDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	w := NewRotatingFile(filepath.Join(f, "sub"), 0)
	_, err := w.Write([]byte("x\n"))
	assert.Error(t, err)
	assert.NoError(t, w.Sync())
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

// 事件字段：corr_id/comp/stage/batch/dur_ms/count/code。
func TestLoggerEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(zapcore.AddSync(&buf), "run-1", "info")
	tm := l.StartWith("generate", "batch start", "3", zap.Int("size", 8))
	tm.Finish("batch done", 8)
	l.ErrorWith("generate", CodeNetwork, "engine failed", tm.Since(), "3")
	l.Debug("parse", "hidden")

	evs := decodeLines(t, &buf)
	require.Len(t, evs, 3)
	assert.Equal(t, "run-1", evs[0]["corr_id"])
	assert.Equal(t, "start", evs[0]["stage"])
	assert.Equal(t, "3", evs[0]["batch"])
	assert.EqualValues(t, 8, evs[0]["size"])
	assert.Equal(t, "finish", evs[1]["stage"])
	assert.EqualValues(t, 8, evs[1]["count"])
	assert.Contains(t, evs[1], "dur_ms")
	assert.Equal(t, "error", evs[2]["level"])
	assert.Equal(t, "network", evs[2]["code"])
}

// 级别过滤：warn 级别下 info 不输出。
func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(zapcore.AddSync(&buf), "", "warn")
	l.Start("load", "hidden").Finish("hidden", 0)
	l.Warn("parse", "record unparsable", zap.Int("index", 4))
	evs := decodeLines(t, &buf)
	require.Len(t, evs, 1)
	assert.Equal(t, "warn", evs[0]["level"])
	assert.NotContains(t, evs[0], "corr_id")

	assert.Equal(t, zapcore.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

// 文件 sink：写入 dir 下当前日志文件。
func TestNewLoggerFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("abc", "debug", dir)
	l.Start("pipeline", "run").Finish("ok", 1)
	require.NoError(t, l.Sync())
	b, err := os.ReadFile(filepath.Join(dir, currentLogName))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"corr_id":"abc"`)
}

// nil/Nop 安全。
func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	l.Start("x", "y").Finish("z", 1)
	l.ErrorWith("x", CodeIO, "m", nil, "")
	assert.NoError(t, l.Sync())
	assert.NotNil(t, l.Zap())
	NewNop().Warn("x", "y")
}

type netErr struct{}

func (netErr) Error() string   { return "boom" }
func (netErr) Timeout() bool   { return true }
func (netErr) Temporary() bool { return true }

// 分类覆盖。
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), CodeCancel},
		{fmt.Errorf("%w: batch size 0", contract.ErrConfig), CodeConfig},
		{contract.ErrPathInvalid, CodeConfig},
		{fmt.Errorf("%w: no such file", contract.ErrLoad), CodeLoad},
		{fmt.Errorf("%w: 7 != 8", contract.ErrIntegrity), CodeIntegrity},
		{contract.ErrRateLimited, CodeBudget},
		{pkgerrors.Wrap(contract.ErrResponseInvalid, "decode"), CodeProtocol},
		{fmt.Errorf("%w: %w", contract.ErrGeneration, netErr{}), CodeNetwork},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, CodeNetwork},
		{&fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}, CodeIO},
		{fmt.Errorf("%w: engine down", contract.ErrGeneration), CodeGeneration},
		{errors.New("other"), CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "err=%v", c.err)
	}
}

// 计数器累加与快照。
func TestMetrics(t *testing.T) {
	ResetMetrics()
	IncOp("pipeline", "generate", "success")
	IncOp("pipeline", "generate", "success")
	IncError("pipeline", CodeNetwork)
	ObserveDuration("pipeline", "generate", 120)
	ObserveDuration("pipeline", "generate", 30)
	snap := Snapshot()
	assert.EqualValues(t, 2, snap["op_total{comp=pipeline,stage=generate,result=success}"])
	assert.EqualValues(t, 1, snap["error_total{comp=pipeline,code=network}"])
	assert.EqualValues(t, 150, snap["op_duration_ms{comp=pipeline,stage=generate}"])
	assert.Len(t, SnapshotKeys(), 3)
	ResetMetrics()
	assert.Empty(t, Snapshot())
}

// 非 TTY：每批一行，结束汇总。
func TestTerminalNonTTY(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, true)
	term.RunStart(1700, 8, "google/gemma-3n-E4B-it")
	term.Progress(8)
	term.Progress(16)
	term.RunFinish(true, 1700, 3, 2*time.Second, "out")
	out := buf.String()
	assert.Contains(t, out, "记录 1,700")
	assert.Contains(t, out, "已处理 16/1,700")
	assert.Contains(t, out, "解析失败 3")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

// TTY：进度单行覆盖，结束前换行。
func TestTerminalTTYInline(t *testing.T) {
	var buf bytes.Buffer
	term := &Terminal{w: &buf, enabled: true, isTTY: true}
	term.RunStart(2, 1, "m")
	term.Progress(1)
	term.Progress(2)
	term.RunFinish(false, 0, 0, time.Second, "")
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\r"))
	assert.Contains(t, out, "[fail]")
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

// 写失败后禁用；nil 接收者与 disabled 为 no-op。
func TestTerminalDisabled(t *testing.T) {
	term := NewTerminal(failWriter{}, true)
	term.RunStart(1, 1, "m")
	assert.False(t, term.enabled)

	var nilTerm *Terminal
	nilTerm.RunStart(1, 1, "m")
	nilTerm.Progress(1)
	nilTerm.RunFinish(true, 1, 0, 0, "")
	nilTerm.Printf("x")

	var buf bytes.Buffer
	off := NewTerminal(&buf, false)
	off.Printf("hidden %d", 1)
	assert.Empty(t, buf.String())
}

func TestFormatDur(t *testing.T) {
	assert.Equal(t, "250ms", formatDur(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))
	assert.Equal(t, "40µs", formatDur(40*time.Microsecond))
	assert.Equal(t, time.Duration(0), perRecord(time.Second, 0))
}
