package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"aslgloss/internal/diag"
	"aslgloss/internal/finetune"
)

func newExportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "将合成工件导出为 Gemma 聊天格式的微调训练集",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ft := a.cfg.Finetune
			if errs := a.cfg.ValidateExport(); len(errs) > 0 {
				return errors.Join(errs...)
			}
			ctx, stop := withSignals(cmd.Context())
			defer stop()

			t := a.logger.Start("finetune", "export")
			ds, m, err := finetune.LoadArtifact(ctx, ft.Input, ft.TextColumn)
			if err != nil {
				return err
			}
			var tok finetune.Tokenizer
			if ft.Tokenizer != "" {
				sp, err := finetune.NewSentencePiece(ft.Tokenizer)
				if err != nil {
					return err
				}
				tok = sp
			}
			res, err := finetune.Export(ctx, ds, finetune.Options{
				OutputDir:   ft.OutputDir,
				AudioColumn: ft.AudioColumn,
				TextColumn:  ft.TextColumn,
				GlossColumn: ft.GlossColumn,
				Special:     ft.SpecialTokens,
				Hyper:       ft.Hyperparameters,
				Source:      fmt.Sprintf("%s@%s", ft.Input, m.Version),
			}, tok)
			if err != nil {
				return err
			}
			t.Finish("export", int64(res.Rows))
			diag.IncOp("finetune", "export", "success")
			a.terminal().Printf("[export] 样本 %s | 跳过 %s | 截断 %s | 输出 %s",
				humanize.Comma(int64(res.Rows)), humanize.Comma(int64(res.Skipped)),
				humanize.Comma(int64(res.Manifest.Truncated)), res.Dir)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringP("input", "i", "", "合成工件目录")
	fs.StringP("output", "o", "", "训练集输出目录")
	fs.String("tokenizer", "", "SentencePiece 模型路径")
	a.bind(fs, "finetune.input", "input")
	a.bind(fs, "finetune.output_dir", "output")
	a.bind(fs, "finetune.tokenizer", "tokenizer")
	return cmd
}
