package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"aslgloss/pkg/contract"
	dsrc "aslgloss/plugins/source/duckdb"
	"aslgloss/plugins/writer/filesystem"
)

// DataFileParquet: 工件内的数据文件名。
const DataFileParquet = "data.parquet"

// Options: parquet 工件写出选项。
type Options struct {
	// OutputDir: 工件目录（必需）。每次运行整体原子替换。
	OutputDir string `json:"output_dir"`
	// Compression: parquet 压缩算法（snappy|zstd|gzip|uncompressed），默认 zstd。
	Compression string `json:"compression,omitempty"`
	// DSN: DuckDB 数据库；为空使用内存库。
	DSN string `json:"dsn,omitempty"`
	// PermFile/PermDir: 可选权限。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
}

// Writer 以 DuckDB 的 COPY ... TO 生成 parquet，manifest 与目录替换沿用 filesystem 的实现。
type Writer struct {
	dest  string
	codec string
	dsn   string
	permF os.FileMode
	permD os.FileMode
}

var _ contract.Writer = (*Writer)(nil)

func New(opts Options) (*Writer, error) {
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("%w: output_dir is required", contract.ErrConfig)
	}
	dest, err := filesystem.CleanDest(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	codec := strings.ToLower(strings.TrimSpace(opts.Compression))
	switch codec {
	case "":
		codec = "zstd"
	case "snappy", "zstd", "gzip", "uncompressed":
	default:
		return nil, fmt.Errorf("%w: unsupported parquet compression %q", contract.ErrConfig, opts.Compression)
	}
	w := &Writer{dest: dest, codec: codec, dsn: opts.DSN, permF: opts.PermFile, permD: opts.PermDir}
	if w.permF == 0 {
		w.permF = 0o644
	}
	if w.permD == 0 {
		w.permD = 0o755
	}
	return w, nil
}

// Write 按推断出的列类型建临时表并逐行插入，再由 DuckDB 以 COPY 写出 parquet。
func (w *Writer) Write(ctx context.Context, ds contract.Dataset, meta contract.ArtifactMeta) (contract.Artifact, error) {
	select {
	case <-ctx.Done():
		return contract.Artifact{}, ctx.Err()
	default:
	}
	st, err := filesystem.NewStage(w.dest, w.permD)
	if err != nil {
		return contract.Artifact{}, err
	}
	defer st.Abort()

	db, err := dsrc.Open(ctx, w.dsn)
	if err != nil {
		return contract.Artifact{}, err
	}
	defer db.Close()
	// 临时表只对创建它的连接可见
	conn, err := db.Conn(ctx)
	if err != nil {
		return contract.Artifact{}, errors.Wrap(err, "duckdb conn")
	}
	defer conn.Close()

	types := InferTypes(ds)
	if _, err := conn.ExecContext(ctx, createTable(ds.Columns, types)); err != nil {
		return contract.Artifact{}, errors.Wrap(err, "create staging table")
	}
	if err := insertRows(ctx, conn, ds, types); err != nil {
		return contract.Artifact{}, err
	}
	out := filepath.Join(st.Dir(), DataFileParquet)
	q := fmt.Sprintf("COPY (SELECT %s FROM %s) TO %s (FORMAT PARQUET, COMPRESSION %s)",
		selectList(ds.Columns), stagingTable, dsrc.QuoteLiteral(out), strings.ToUpper(w.codec))
	if _, err := conn.ExecContext(ctx, q); err != nil {
		return contract.Artifact{}, errors.Wrap(err, "copy to parquet")
	}

	m := filesystem.NewManifest(ds, meta, "parquet", DataFileParquet)
	if err := m.WriteTo(ctx, st.Dir(), w.permF); err != nil {
		return contract.Artifact{}, err
	}
	if err := st.Commit(); err != nil {
		return contract.Artifact{}, err
	}
	return m.Artifact(w.dest), nil
}

const stagingTable = "aslgloss_artifact"

func createTable(cols, types []string) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = dsrc.QuoteIdent(c) + " " + types[i]
	}
	return "CREATE OR REPLACE TEMP TABLE " + stagingTable + " (" + strings.Join(defs, ", ") + ")"
}

// insertRows 在单个事务内以预编译语句逐行插入。
func insertRows(ctx context.Context, conn *sql.Conn, ds contract.Dataset, types []string) error {
	if ds.Len() == 0 {
		return nil
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ds.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+stagingTable+" VALUES ("+marks+")")
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()
	args := make([]any, len(ds.Columns))
	for n, r := range ds.Records {
		if len(r.Values) != len(ds.Columns) {
			return fmt.Errorf("%w: row %d has %d values for %d columns", contract.ErrIntegrity, n, len(r.Values), len(ds.Columns))
		}
		for i, v := range r.Values {
			if args[i], err = convert(v, types[i]); err != nil {
				return errors.Wrapf(err, "row %d column %s", n, ds.Columns[i])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrapf(err, "insert row %d", n)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func selectList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = dsrc.QuoteIdent(c)
	}
	return strings.Join(q, ", ")
}
