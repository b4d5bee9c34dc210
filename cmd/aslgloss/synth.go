package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aslgloss/internal/config"
	"aslgloss/internal/diag"
)

func newSynthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "为数据集的每条英文句子生成 ASL gloss，写出带新列的数据集",
		Long: `按固定批大小将英文句子渲染为指令 Prompt，提交给批量推理引擎，
从补全中截取 gloss 作为新列（默认 asl_gloss）写出到输出目录。
解析失败的记录写入 "ERROR: PARSING FAILED"；任何引擎错误都会终止运行且不写出结果。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := withSignals(cmd.Context())
			defer stop()

			comp, set, err := config.Assemble(ctx, a.cfg)
			if err != nil {
				return err
			}
			set.CorrID = a.corrID
			set.Terminal = a.terminal()

			t := a.logger.Start("cli", "synth")
			sum, err := pipelineRun(ctx, comp, set, a.logger)
			if err != nil {
				return err
			}
			t.Finish("synth", int64(sum.Records))
			diag.IncOp("cli", "synth", "success")
			zap.S().Infow("synth finished",
				"records", sum.Records,
				"batches", sum.Batches,
				"parse_failures", sum.ParseFailures,
				"artifact", sum.Artifact.Dir)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringP("source", "s", "", "输入数据集路径（parquet/csv/jsonl）")
	fs.StringP("output", "o", "", "输出目录")
	fs.String("client", "", "生成客户端 openai|gemini|mock|flaky")
	fs.String("model", "", "模型名")
	fs.IntP("batch-size", "b", 0, "每批记录数")
	fs.Int("limit", 0, "只处理前 N 条（0 表示全部）")
	a.bind(fs, "source.path", "source")
	a.bind(fs, "output.dir", "output")
	a.bind(fs, "generation.client", "client")
	a.bind(fs, "generation.model", "model")
	a.bind(fs, "generation.batch_size", "batch-size")
	a.bind(fs, "source.limit", "limit")
	return cmd
}
