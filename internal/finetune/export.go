package finetune

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"aslgloss/pkg/contract"
	dsrc "aslgloss/plugins/source/duckdb"
	"aslgloss/plugins/writer/filesystem"
)

// 导出目录内的固定文件名。
const (
	TrainFile    = "train.jsonl"
	ManifestFile = "train_manifest.json"
)

// Options: 导出参数。
type Options struct {
	OutputDir   string
	AudioColumn string // 为空时不带音频段
	TextColumn  string
	GlossColumn string
	Special     SpecialTokens
	Hyper       Hyperparameters
	// Source: 写入 manifest 的来源描述（通常为工件目录与版本）。
	Source string
}

// Example: train.jsonl 中的一行。
type Example struct {
	Messages []Message `json:"messages"`
	InputIDs []int     `json:"input_ids,omitempty"`
	Labels   []int     `json:"labels,omitempty"`
}

// Manifest: train_manifest.json。
type Manifest struct {
	CreatedAt       string          `json:"created_at"`
	Source          string          `json:"source,omitempty"`
	Rows            int             `json:"rows"`
	Skipped         int             `json:"skipped"`
	Tokenized       bool            `json:"tokenized"`
	Truncated       int             `json:"truncated"`
	SystemPrompt    string          `json:"system_prompt"`
	UserPrompt      string          `json:"user_prompt"`
	SpecialTokens   SpecialTokens   `json:"special_tokens"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
}

// Result: 导出统计。
type Result struct {
	Dir      string
	Rows     int
	Skipped  int
	Manifest Manifest
}

// LoadArtifact 读取合成工件（manifest + data 文件）为 Dataset。
func LoadArtifact(ctx context.Context, dir, textColumn string) (contract.Dataset, filesystem.Manifest, error) {
	m, err := filesystem.ReadManifest(dir)
	if err != nil {
		return contract.Dataset{}, m, fmt.Errorf("%w: artifact %s: %v", contract.ErrLoad, dir, err)
	}
	format := m.Format
	if format == "jsonl" {
		format = "json"
	}
	src, err := dsrc.New(dsrc.Options{Path: filepath.Join(dir, m.DataFile), Format: format, TextColumn: textColumn})
	if err != nil {
		return contract.Dataset{}, m, err
	}
	ds, err := src.Load(ctx)
	return ds, m, err
}

// Export 逐行构造训练样本并写出 train.jsonl 与 train_manifest.json。
// 解析失败行（gloss 为哨兵值）跳过并计数；tok 非空时附带 input_ids/labels。
func Export(ctx context.Context, ds contract.Dataset, opts Options, tok Tokenizer) (Result, error) {
	ti := ds.ColumnIndex(opts.TextColumn)
	gi := ds.ColumnIndex(opts.GlossColumn)
	if ti < 0 || gi < 0 {
		return Result{}, fmt.Errorf("%w: dataset lacks %q or %q (columns %v)", contract.ErrConfig, opts.TextColumn, opts.GlossColumn, ds.Columns)
	}
	ai := -1
	if opts.AudioColumn != "" {
		if ai = ds.ColumnIndex(opts.AudioColumn); ai < 0 {
			return Result{}, fmt.Errorf("%w: dataset lacks audio column %q", contract.ErrConfig, opts.AudioColumn)
		}
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Result{}, errors.Wrap(err, "create output dir")
	}

	m := Manifest{
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		Source:          opts.Source,
		Tokenized:       tok != nil,
		SystemPrompt:    SystemPrompt,
		UserPrompt:      UserPrompt,
		SpecialTokens:   opts.Special,
		Hyperparameters: opts.Hyper,
	}
	err := filesystem.WriteFileAtomic(ctx, filepath.Join(opts.OutputDir, TrainFile), 0o644, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for _, r := range ds.Records {
			gloss, glossOK := cellText(r.Values[gi])
			text, textOK := cellText(r.Values[ti])
			if !glossOK || !textOK || gloss == contract.ParseFailedSentinel {
				m.Skipped++
				continue
			}
			var audio any
			if ai >= 0 {
				audio = r.Values[ai]
			}
			ex := Example{Messages: BuildMessages(audio, text, gloss)}
			if tok != nil {
				ids := tok.Encode(RenderChat(ex.Messages))
				if limit := opts.Hyper.MaxLength; limit > 0 && len(ids) > limit {
					ids = ids[:limit]
					m.Truncated++
				}
				ex.InputIDs = ids
				ex.Labels = MaskLabels(ids, opts.Special)
			}
			if err := enc.Encode(ex); err != nil {
				return errors.Wrapf(err, "row %d", r.Index)
			}
			m.Rows++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if err := filesystem.WriteFileAtomic(ctx, filepath.Join(opts.OutputDir, ManifestFile), 0o644, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}); err != nil {
		return Result{}, err
	}
	return Result{Dir: opts.OutputDir, Rows: m.Rows, Skipped: m.Skipped, Manifest: m}, nil
}

// cellText 将单元格转为文本；NULL、空白或无法转换时返回 false。
func cellText(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
