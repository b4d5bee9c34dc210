package mysql

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"aslgloss/pkg/contract"
	dsrc "aslgloss/plugins/source/duckdb"
)

// Options: 从 MySQL 表分页读取句子。
type Options struct {
	DSN   string `json:"dsn"`
	Table string `json:"table"`
	// TextColumn: 英文源句列，默认 text。
	TextColumn string `json:"text_column,omitempty"`
	// OrderBy: 决定记录顺序的列，默认 id。
	OrderBy string `json:"order_by,omitempty"`
	// PageSize: 每页行数，默认 1000。
	PageSize int `json:"page_size,omitempty"`
	Limit    int `json:"limit,omitempty"`
}

// Source 实现 contract.Source。
type Source struct {
	opts Options
}

var _ contract.Source = (*Source)(nil)

func New(opts Options) (*Source, error) {
	if strings.TrimSpace(opts.DSN) == "" || strings.TrimSpace(opts.Table) == "" {
		return nil, fmt.Errorf("%w: mysql source requires dsn and table", contract.ErrConfig)
	}
	if opts.TextColumn == "" {
		opts.TextColumn = "text"
	}
	if opts.OrderBy == "" {
		opts.OrderBy = "id"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be >= 0", contract.ErrConfig)
	}
	return &Source{opts: opts}, nil
}

func (s *Source) Describe() string { return "mysql:" + s.opts.Table }

// Open 建立 gorm 连接；日志静默，错误由调用方上抛。
func Open(dsn string, dryRun bool) (*gorm.DB, error) {
	return gorm.Open(mysql.New(mysql.Config{DSN: dsn, SkipInitializeWithVersion: dryRun}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: dryRun,
		DryRun:               dryRun,
	})
}

// page 构造第 off 行起的分页查询。
func (s *Source) page(db *gorm.DB, off, n int) *gorm.DB {
	return db.Table(s.opts.Table).
		Order(clause.OrderByColumn{Column: clause.Column{Name: s.opts.OrderBy}}).
		Limit(n).
		Offset(off)
}

// Load 以 LIMIT/OFFSET 分页读取全表（或前 Limit 行）。
func (s *Source) Load(ctx context.Context) (contract.Dataset, error) {
	db, err := Open(s.opts.DSN, false)
	if err != nil {
		return contract.Dataset{}, fmt.Errorf("%w: open mysql: %v", contract.ErrLoad, err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	var ds contract.Dataset
	for off := 0; ; {
		n := s.opts.PageSize
		if s.opts.Limit > 0 {
			n = min(n, s.opts.Limit-off)
			if n <= 0 {
				break
			}
		}
		rows, err := s.page(db.WithContext(ctx), off, n).Rows()
		if err != nil {
			return contract.Dataset{}, fmt.Errorf("%w: query %s offset %d: %v", contract.ErrLoad, s.opts.Table, off, err)
		}
		part, err := dsrc.ScanRows(ctx, rows, s.opts.TextColumn)
		_ = rows.Close()
		if err != nil {
			return contract.Dataset{}, fmt.Errorf("%w: %s: %v", contract.ErrLoad, s.opts.Table, err)
		}
		if off == 0 {
			ds.Columns, ds.TextColumn = part.Columns, part.TextColumn
		}
		for _, r := range part.Records {
			r.Index = len(ds.Records)
			ds.Records = append(ds.Records, r)
		}
		off += part.Len()
		if part.Len() < n {
			break
		}
	}
	return ds, nil
}
