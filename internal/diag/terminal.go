package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 每批分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	model    string
	total    int
	runStart time.Time

	lastLen int
	mu      sync.Mutex
}

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				t.isTTY = fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	return t
}

// RunStart: 记录总记录数与模型。
func (t *Terminal) RunStart(total, batchSize int, model string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.total = total
	t.model = safe(model)
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 记录 %s | 批大小 %d | model=%s", humanize.Comma(int64(total)), batchSize, t.model))
}

// Progress: 每批完成后调用。
func (t *Terminal) Progress(done int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	el := time.Since(t.runStart)
	line := fmt.Sprintf("[batch] 已处理 %s/%s | 用时 %s | 平均 %s/条",
		humanize.Comma(int64(done)), humanize.Comma(int64(t.total)), formatDur(el), formatDur(perRecord(el, done)))
	if t.isTTY {
		t.printInline(line)
		return
	}
	t.println(line)
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, records, parseFailures int, dur time.Duration, where string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.println("")
	}
	if !ok {
		t.println(fmt.Sprintf("[fail] 用时 %s | 未写出任何结果", formatDur(dur)))
		return
	}
	t.println(fmt.Sprintf("[ok] 记录 %s | 总用时 %s | 平均 %s/条 | 解析失败 %s | 输出 %s",
		humanize.Comma(int64(records)), formatDur(dur), formatDur(perRecord(dur, records)),
		humanize.Comma(int64(parseFailures)), safe(where)))
}

// Printf 输出一行自由文本（export/serve 等子命令的提示）。
func (t *Terminal) Printf(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(fmt.Sprintf(format, args...))
}

func perRecord(d time.Duration, n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return d / time.Duration(n)
}

func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	// 若新行比旧短，填充空格覆盖行尾
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", pad))
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 1 && d > 0 {
			return fmt.Sprintf("%dµs", d.Microseconds())
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
