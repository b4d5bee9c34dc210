package filesystem

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"aslgloss/pkg/contract"
)

// 工件内固定文件名。
const (
	DataFileJSONL = "data.jsonl"
	ManifestFile  = "manifest.json"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 工件目录（必需）。每次运行整体覆盖。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否使用原子替换（同级临时目录 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	dest    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建 JSONL 工件 Writer。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("%w: output_dir is required", contract.ErrConfig)
	}
	dest, err := CleanDest(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = DefaultBufSize
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{dest: dest, atomic: atomic, permF: pf, permD: pd, bufSize: bsz}, nil
}

var _ contract.Writer = (*FS)(nil)

// CleanDest: Clean + 拒绝根目录/当前目录/父目录这类不可整体替换的位置。
func CleanDest(dir string) (string, error) {
	d := filepath.Clean(dir)
	if d == "." || d == ".." || d == string(filepath.Separator) || strings.HasPrefix(d, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q cannot be replaced as an artifact directory", contract.ErrPathInvalid, dir)
	}
	if vol := filepath.VolumeName(d); vol != "" && (d == vol || d == vol+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return d, nil
}

// Write 将数据集写为 data.jsonl + manifest.json。
func (w *FS) Write(ctx context.Context, ds contract.Dataset, meta contract.ArtifactMeta) (contract.Artifact, error) {
	select {
	case <-ctx.Done():
		return contract.Artifact{}, ctx.Err()
	default:
	}
	st, err := w.stage()
	if err != nil {
		return contract.Artifact{}, err
	}
	defer st.Abort()

	if err := WriteFileAtomicSize(ctx, filepath.Join(st.Dir(), DataFileJSONL), w.permF, w.bufSize, func(bw *bufio.Writer) error {
		return EncodeJSONL(ctx, bw, ds)
	}); err != nil {
		return contract.Artifact{}, err
	}
	m := NewManifest(ds, meta, "jsonl", DataFileJSONL)
	if err := m.WriteTo(ctx, st.Dir(), w.permF); err != nil {
		return contract.Artifact{}, err
	}
	if err := st.Commit(); err != nil {
		return contract.Artifact{}, err
	}
	return m.Artifact(w.dest), nil
}

func (w *FS) stage() (*Stage, error) {
	if w.atomic {
		return NewStage(w.dest, w.permD)
	}
	return NewDirectStage(w.dest, w.permD)
}

// EncodeJSONL 逐行写出 JSON 对象，键按列顺序排列。
func EncodeJSONL(ctx context.Context, w io.Writer, ds contract.Dataset) error {
	keys := make([][]byte, len(ds.Columns))
	for i, c := range ds.Columns {
		k, err := json.Marshal(c)
		if err != nil {
			return err
		}
		keys[i] = k
	}
	var line []byte
	for n, r := range ds.Records {
		if n%1024 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if len(r.Values) != len(keys) {
			return fmt.Errorf("%w: row %d has %d values for %d columns", contract.ErrIntegrity, n, len(r.Values), len(keys))
		}
		line = append(line[:0], '{')
		for i, v := range r.Values {
			if i > 0 {
				line = append(line, ',')
			}
			line = append(line, keys[i]...)
			line = append(line, ':')
			b, err := json.Marshal(v)
			if err != nil {
				return errors.Wrapf(err, "encode row %d column %s", n, ds.Columns[i])
			}
			line = append(line, b...)
		}
		line = append(line, '}', '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// Manifest 描述一个工件版本。
type Manifest struct {
	Version       string   `json:"version"`
	CreatedAt     string   `json:"created_at"`
	CorrID        string   `json:"corr_id,omitempty"`
	Format        string   `json:"format"`
	DataFile      string   `json:"data_file"`
	Rows          int      `json:"rows"`
	Columns       []string `json:"columns"`
	TextColumn    string   `json:"text_column"`
	Column        string   `json:"column"`
	Source        string   `json:"source,omitempty"`
	Model         string   `json:"model,omitempty"`
	ParseFailures int      `json:"parse_failures"`
}

// NewManifest 以新的随机版本号构造 manifest。
func NewManifest(ds contract.Dataset, meta contract.ArtifactMeta, format, dataFile string) Manifest {
	return Manifest{
		Version:       uuid.NewString(),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		CorrID:        meta.CorrID,
		Format:        format,
		DataFile:      dataFile,
		Rows:          ds.Len(),
		Columns:       append([]string(nil), ds.Columns...),
		TextColumn:    ds.TextColumn,
		Column:        meta.Column,
		Source:        meta.Source,
		Model:         meta.Model,
		ParseFailures: meta.ParseFailures,
	}
}

// WriteTo 在 dir 下原子写出 manifest.json。
func (m Manifest) WriteTo(ctx context.Context, dir string, perm os.FileMode) error {
	return WriteFileAtomic(ctx, filepath.Join(dir, ManifestFile), perm, func(bw *bufio.Writer) error {
		enc := json.NewEncoder(bw)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
}

// Artifact 转换为 contract 描述。
func (m Manifest) Artifact(dir string) contract.Artifact {
	return contract.Artifact{
		Dir:     dir,
		Version: m.Version,
		Rows:    m.Rows,
		Columns: m.Columns,
		Files:   []string{m.DataFile, ManifestFile},
	}
}

// ReadManifest 读取工件目录下的 manifest.json。
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, errors.Wrapf(err, "parse %s", ManifestFile)
	}
	if m.DataFile == "" || strings.ContainsAny(m.DataFile, `/\`) {
		return m, fmt.Errorf("%w: manifest data_file %q", contract.ErrPathInvalid, m.DataFile)
	}
	return m, nil
}

// DefaultBufSize 写缓冲区默认大小。
const DefaultBufSize = 64 * 1024

// WriteFileAtomic 通过同目录临时文件 + fsync + rename 写出 dest。
func WriteFileAtomic(ctx context.Context, dest string, perm os.FileMode, fill func(*bufio.Writer) error) error {
	return WriteFileAtomicSize(ctx, dest, perm, DefaultBufSize, fill)
}

// WriteFileAtomicSize 同 WriteFileAtomic，缓冲区为 bufSize 字节。
func WriteFileAtomicSize(ctx context.Context, dest string, perm os.FileMode, bufSize int, fill func(*bufio.Writer) error) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	// 目标权限：尽量与期望一致
	_ = os.Chmod(tmpPath, perm)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	bw := bufio.NewWriterSize(writerWithCtx(ctx, tmp), bufSize)
	if err := fill(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 平台特定的原子替换（或最佳努力）：
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：在部分平台同步父目录，提升崩溃安全性
	_ = syncDir(dir)
	return nil
}

// writerWithCtx: 在每次 Write 前检查 ctx 是否已取消。
func writerWithCtx(ctx context.Context, w io.Writer) io.Writer {
	return &ctxWriter{ctx: ctx, w: w}
}

type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (cw *ctxWriter) Write(p []byte) (int, error) {
	select {
	case <-cw.ctx.Done():
		return 0, cw.ctx.Err()
	default:
	}
	return cw.w.Write(p)
}
