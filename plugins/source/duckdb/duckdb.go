package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"aslgloss/pkg/contract"
)

// Options: 以 DuckDB 读取本地数据集文件（parquet/csv/json/jsonl，支持 glob）。
type Options struct {
	// Path: 数据文件路径或 glob（必需）。
	Path string `json:"path"`
	// Format: parquet|csv|json；为空时按扩展名推断。
	Format string `json:"format,omitempty"`
	// TextColumn: 英文源句所在列，默认 text。
	TextColumn string `json:"text_column,omitempty"`
	// Limit: 只取前 N 条（0 表示全部），用于小样本试跑。
	Limit int `json:"limit,omitempty"`
	// DSN: DuckDB 数据库；为空使用内存库。
	DSN string `json:"dsn,omitempty"`
}

// Source 实现 contract.Source。
type Source struct {
	opts Options
}

// New 校验选项并创建 Source；不在构造期打开数据库。
func New(opts Options) (*Source, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("%w: duckdb source path is required", contract.ErrConfig)
	}
	if opts.TextColumn == "" {
		opts.TextColumn = "text"
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be >= 0", contract.ErrConfig)
	}
	if _, err := ScanFunc(opts.Path, opts.Format); err != nil {
		return nil, err
	}
	return &Source{opts: opts}, nil
}

// Open 打开 DuckDB 并探活。
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open duckdb")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping duckdb")
	}
	return db, nil
}

// ScanFunc 返回读取 path 的表函数表达式，例如 read_parquet('a.parquet')。
func ScanFunc(path, format string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".parquet":
			f = "parquet"
		case ".csv", ".tsv":
			f = "csv"
		case ".json", ".jsonl", ".ndjson":
			f = "json"
		}
	}
	switch f {
	case "parquet":
		return "read_parquet(" + QuoteLiteral(path) + ")", nil
	case "csv":
		return "read_csv_auto(" + QuoteLiteral(path) + ")", nil
	case "json":
		return "read_json_auto(" + QuoteLiteral(path) + ")", nil
	default:
		return "", fmt.Errorf("%w: cannot infer dataset format for %q (set format to parquet|csv|json)", contract.ErrConfig, path)
	}
}

// QuoteIdent 以 SQL 标识符形式引用 name。
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral 以 SQL 字符串字面量形式引用 s。
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Describe 返回用于日志/manifest 的来源描述。
func (s *Source) Describe() string { return "duckdb:" + s.opts.Path }

// Load 一次性读取全部记录；文件扫描顺序即 Index 顺序。
func (s *Source) Load(ctx context.Context) (contract.Dataset, error) {
	scan, _ := ScanFunc(s.opts.Path, s.opts.Format)
	db, err := Open(ctx, s.opts.DSN)
	if err != nil {
		return contract.Dataset{}, fmt.Errorf("%w: %v", contract.ErrLoad, err)
	}
	defer db.Close()

	q := "SELECT * FROM " + scan
	if s.opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", s.opts.Limit)
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return contract.Dataset{}, fmt.Errorf("%w: query %s: %v", contract.ErrLoad, s.opts.Path, err)
	}
	defer rows.Close()
	ds, err := ScanRows(ctx, rows, s.opts.TextColumn)
	if err != nil {
		return contract.Dataset{}, fmt.Errorf("%w: %s: %v", contract.ErrLoad, s.opts.Path, err)
	}
	return ds, nil
}

// ScanRows 将结果集读为 Dataset；textColumn 缺失或无法转为字符串时报错。
func ScanRows(ctx context.Context, rows *sql.Rows, textColumn string) (contract.Dataset, error) {
	cols, err := rows.Columns()
	if err != nil {
		return contract.Dataset{}, err
	}
	ds := contract.Dataset{Columns: cols, TextColumn: textColumn}
	ti := ds.ColumnIndex(textColumn)
	if ti < 0 {
		return contract.Dataset{}, errors.Errorf("text column %q not found in %v", textColumn, cols)
	}
	dbTypes := make([]string, len(cols))
	if cts, err := rows.ColumnTypes(); err == nil && len(cts) == len(cols) {
		for i, ct := range cts {
			dbTypes[i] = ct.DatabaseTypeName()
		}
	}
	for rows.Next() {
		if len(ds.Records)%1024 == 0 {
			select {
			case <-ctx.Done():
				return contract.Dataset{}, ctx.Err()
			default:
			}
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return contract.Dataset{}, errors.Wrapf(err, "scan row %d", len(ds.Records))
		}
		for i := range vals {
			if vals[i], err = NormalizeValue(vals[i], dbTypes[i]); err != nil {
				return contract.Dataset{}, errors.Wrapf(err, "row %d column %s", len(ds.Records), cols[i])
			}
		}
		text, err := cast.ToStringE(vals[ti])
		if err != nil {
			return contract.Dataset{}, errors.Wrapf(err, "row %d column %s", len(ds.Records), textColumn)
		}
		ds.Records = append(ds.Records, contract.Record{Index: len(ds.Records), Text: text, Values: vals})
	}
	if err := rows.Err(); err != nil {
		return contract.Dataset{}, err
	}
	return ds, nil
}

// NormalizeValue 将文本协议驱动（如 MySQL）返回的 []byte 单元格按列类型还原；
// 二进制列保持 []byte。
func NormalizeValue(v any, dbType string) (any, error) {
	b, ok := v.([]byte)
	if !ok {
		return v, nil
	}
	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BINARY"), t == "BIT", t == "GEOMETRY":
		return b, nil
	case strings.HasSuffix(t, "INT") || t == "INTEGER" || t == "YEAR":
		if strings.HasPrefix(t, "UNSIGNED") {
			return strconv.ParseUint(string(b), 10, 64)
		}
		return strconv.ParseInt(string(b), 10, 64)
	case t == "FLOAT" || t == "DOUBLE" || t == "REAL":
		return strconv.ParseFloat(string(b), 64)
	}
	return string(b), nil
}

var _ contract.Source = (*Source)(nil)
