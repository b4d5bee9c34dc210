package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aslgloss/pkg/contract"
)

func sample() contract.Dataset {
	return contract.Dataset{
		Columns:    []string{"id", "text", "asl_gloss"},
		TextColumn: "text",
		Records: []contract.Record{
			{Index: 0, Text: "Amir is tall.", Values: []any{int64(7), "Amir is tall.", "fs-AMIR IX-he TALL"}},
			{Index: 1, Text: "x", Values: []any{int64(8), "x", contract.ParseFailedSentinel}},
		},
	}
}

func meta() contract.ArtifactMeta {
	return contract.ArtifactMeta{CorrID: "c1", Source: "duckdb", Model: "m", Column: "asl_gloss", ParseFailures: 1}
}

func noTemps(t *testing.T, parent string) {
	t.Helper()
	entries, _ := os.ReadDir(parent)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("tmp entry not cleaned: %s", e.Name())
		}
	}
}

// TestWriteArtifact 写出 data.jsonl（列序保持）与 manifest.json。
func TestWriteArtifact(t *testing.T) {
	parent := t.TempDir()
	dest := filepath.Join(parent, "out")
	w, err := New(&Options{OutputDir: dest})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	art, err := w.Write(context.Background(), sample(), meta())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if art.Rows != 2 || art.Dir != dest || art.Version == "" {
		t.Fatalf("artifact=%+v", art)
	}
	b, err := os.ReadFile(filepath.Join(dest, DataFileJSONL))
	if err != nil {
		t.Fatalf("read data: %v", err)
	}
	want := `{"id":7,"text":"Amir is tall.","asl_gloss":"fs-AMIR IX-he TALL"}` + "\n" +
		`{"id":8,"text":"x","asl_gloss":"ERROR: PARSING FAILED"}` + "\n"
	if string(b) != want {
		t.Fatalf("data:\n%s\nwant:\n%s", b, want)
	}
	m, err := ReadManifest(dest)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.Version != art.Version || m.Rows != 2 || m.ParseFailures != 1 || m.Format != "jsonl" || m.DataFile != DataFileJSONL {
		t.Fatalf("manifest=%+v", m)
	}
	noTemps(t, parent)
}

// TestWriteReplacesPrevious 每次运行覆盖旧工件，版本号变化，旧文件不残留。
func TestWriteReplacesPrevious(t *testing.T) {
	parent := t.TempDir()
	dest := filepath.Join(parent, "out")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dest, "stale.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, _ := New(&Options{OutputDir: dest})
	a1, err := w.Write(context.Background(), sample(), meta())
	if err != nil {
		t.Fatalf("write 1: %v", err)
	}
	a2, err := w.Write(context.Background(), sample(), meta())
	if err != nil {
		t.Fatalf("write 2: %v", err)
	}
	if a1.Version == a2.Version {
		t.Fatalf("版本号应变化")
	}
	if _, err := os.Stat(filepath.Join(dest, "stale.txt")); !os.IsNotExist(err) {
		t.Fatalf("旧工件内容应被整体替换: %v", err)
	}
	noTemps(t, parent)
}

// TestWriteFailureKeepsPrevious 编码失败时目标目录保持原状。
func TestWriteFailureKeepsPrevious(t *testing.T) {
	parent := t.TempDir()
	dest := filepath.Join(parent, "out")
	w, _ := New(&Options{OutputDir: dest})
	if _, err := w.Write(context.Background(), sample(), meta()); err != nil {
		t.Fatalf("write: %v", err)
	}
	before, _ := os.ReadFile(filepath.Join(dest, DataFileJSONL))

	bad := sample()
	bad.Records[1].Values = []any{int64(8), "x", make(chan int)} // 不可 JSON 编码
	if _, err := w.Write(context.Background(), bad, meta()); err == nil {
		t.Fatalf("expect encode error")
	}
	after, _ := os.ReadFile(filepath.Join(dest, DataFileJSONL))
	if !bytes.Equal(before, after) {
		t.Fatalf("失败写入不应影响已有工件")
	}
	noTemps(t, parent)
}

// TestWriteCanceled 取消的 ctx 不创建目标。
func TestWriteCanceled(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	w, _ := New(&Options{OutputDir: dest})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Write(ctx, sample(), meta()); !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("目标不应被创建")
	}
}

// TestWriteNonAtomic 关闭原子模式时直接写入目标目录。
func TestWriteNonAtomic(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	a := false
	w, _ := New(&Options{OutputDir: dest, Atomic: &a})
	if _, err := w.Write(context.Background(), sample(), meta()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, ManifestFile)); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
}

// TestNewInvalid 缺少目录或不可替换的位置。
func TestNewInvalid(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, contract.ErrConfig) {
		t.Fatalf("nil opts: %v", err)
	}
	for _, d := range []string{".", "..", "/", "../x"} {
		if _, err := New(&Options{OutputDir: d}); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("%q: want ErrPathInvalid got %v", d, err)
		}
	}
}

// TestEncodeJSONLMismatch 行宽与列数不一致为完整性错误。
func TestEncodeJSONLMismatch(t *testing.T) {
	ds := sample()
	ds.Records[0].Values = ds.Records[0].Values[:1]
	var buf bytes.Buffer
	if err := EncodeJSONL(context.Background(), &buf, ds); !errors.Is(err, contract.ErrIntegrity) {
		t.Fatalf("want ErrIntegrity got %v", err)
	}
}

// TestWriteFileAtomic 覆盖替换已有文件并保持 JSON 可读。
func TestWriteFileAtomic(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.json")
	for _, v := range []string{"v1", "v2"} {
		err := WriteFileAtomic(context.Background(), p, 0o644, func(bw *bufio.Writer) error {
			return json.NewEncoder(bw).Encode(v)
		})
		if err != nil {
			t.Fatalf("write %s: %v", v, err)
		}
	}
	b, _ := os.ReadFile(p)
	if strings.TrimSpace(string(b)) != `"v2"` {
		t.Fatalf("got %q", b)
	}
}

// TestReadManifestRejectsPath data_file 不得含路径分隔符。
func TestReadManifestRejectsPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"data_file":"../x.jsonl"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadManifest(dir); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("want ErrPathInvalid got %v", err)
	}
}

// TestBufSize 写缓冲区大小来自选项；行长超过缓冲区时输出不变。
func TestBufSize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w, err := New(&Options{OutputDir: dir, BufSize: 16})
	if err != nil {
		t.Fatal(err)
	}
	if w.bufSize != 16 {
		t.Fatalf("bufSize=%d", w.bufSize)
	}
	if d, _ := New(&Options{OutputDir: dir}); d.bufSize != DefaultBufSize {
		t.Fatalf("默认 bufSize=%d", d.bufSize)
	}
	if _, err := w.Write(context.Background(), sample(), contract.ArtifactMeta{Column: "asl_gloss"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var want bytes.Buffer
	if err := EncodeJSONL(context.Background(), &want, sample()); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, DataFileJSONL))
	if string(got) != want.String() {
		t.Fatalf("got %q want %q", got, want.String())
	}

	p := filepath.Join(t.TempDir(), "x")
	err = WriteFileAtomicSize(context.Background(), p, 0o644, 1024, func(bw *bufio.Writer) error {
		if bw.Size() != 1024 {
			t.Errorf("缓冲区 %d", bw.Size())
		}
		_, err := bw.WriteString("ok")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
}
