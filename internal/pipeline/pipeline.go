package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"aslgloss/internal/diag"
	"aslgloss/pkg/contract"
)

// - 严格顺序：第 k+1 批在第 k 批的生成调用返回后才开始；唯一阻塞点为生成调用。
// - 无重试：任一致命错误立即终止，不写出任何部分结果。
// - 逐条解析失败非致命，仅计数。

// Stage 为运行状态机的状态名。
type Stage string

const (
	StageStart      Stage = "START"
	StageLoading    Stage = "LOADING_SOURCE"
	StageFormatting Stage = "FORMATTING"
	StageGenerating Stage = "GENERATING"
	StageParsing    Stage = "PARSING"
	StageAssembling Stage = "ASSEMBLING"
	StagePersisting Stage = "PERSISTING"
	StageDone       Stage = "DONE"
	StageFailed     Stage = "FAILED"
)

// Components 聚合运行所需的原子组件。
type Components struct {
	Source    contract.Source
	Batcher   contract.Batcher
	Formatter contract.PromptFormatter
	Generator contract.Generator
	Parser    contract.Parser
	Assembler contract.Assembler
	Writer    contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	BatchSize int
	Sampling  contract.SamplingConfig
	// Column: 新增列名。
	Column string
	// Timeout: 单次生成调用超时；<=0 不设置。
	Timeout time.Duration
	// 以下仅用于 manifest 与终端提示。
	Model      string
	SourceName string
	CorrID     string
	Terminal   *diag.Terminal
}

// StageError 标注失败发生的状态（以及批序号，若有）。
type StageError struct {
	Stage Stage
	Batch int // -1 表示与批无关
	Err   error
}

func (e *StageError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("%s (batch %d): %v", e.Stage, e.Batch, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Summary 为一次运行的汇总。
type Summary struct {
	Records       int
	Batches       int
	ParseFailures int
	Duration      time.Duration
	AvgPerRecord  time.Duration
	Artifact      contract.Artifact
	// Stage: 成功为 DONE；失败为 FAILED。
	Stage Stage
}

func sanity(comp Components, set Settings) error {
	switch {
	case comp.Source == nil, comp.Batcher == nil, comp.Formatter == nil, comp.Generator == nil,
		comp.Parser == nil, comp.Assembler == nil, comp.Writer == nil:
		return fmt.Errorf("%w: pipeline component missing", contract.ErrConfig)
	case set.Column == "":
		return fmt.Errorf("%w: output column empty", contract.ErrConfig)
	}
	if err := set.Sampling.Validate(); err != nil {
		return fmt.Errorf("%w: %v", contract.ErrConfig, err)
	}
	// 批大小非法须在加载之前发现
	if _, err := comp.Batcher.Ranges(0, set.BatchSize); err != nil {
		return err
	}
	return nil
}

// Run 执行完整流程：Source → (Formatter → Generator → Parser)×批 → Assembler → Writer。
// 失败时返回 *StageError，且不落盘任何结果。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	t0 := time.Now()
	sum := Summary{Stage: StageStart}
	term := set.Terminal

	fail := func(stage Stage, batch int, err error) (Summary, error) {
		code := diag.Classify(err)
		logger.ErrorWith("pipeline", code, err.Error(), &t0, batchID(batch), zap.String("state", string(stage)))
		diag.IncOp("pipeline", string(stage), "error")
		diag.IncError("pipeline", code)
		sum.Stage = StageFailed
		sum.Duration = time.Since(t0)
		term.RunFinish(false, 0, 0, sum.Duration, "")
		return sum, &StageError{Stage: stage, Batch: batch, Err: err}
	}

	if err := sanity(comp, set); err != nil {
		return fail(StageStart, -1, err)
	}

	// LOADING_SOURCE
	lt := logger.Start("source", "load")
	ds, err := comp.Source.Load(ctx)
	if err != nil {
		if !errors.Is(err, contract.ErrLoad) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", contract.ErrLoad, err)
		}
		return fail(StageLoading, -1, err)
	}
	n := ds.Len()
	lt.Finish("load", int64(n))
	diag.IncOp("source", "load", "success")
	sum.Records = n

	ranges, err := comp.Batcher.Ranges(n, set.BatchSize)
	if err != nil {
		return fail(StageLoading, -1, err)
	}
	term.RunStart(n, set.BatchSize, set.Model)

	outputs := make([]contract.ParsedOutput, 0, n)
	k := 0
	for r := range ranges {
		select {
		case <-ctx.Done():
			return fail(StageFormatting, k, ctx.Err())
		default:
		}

		// FORMATTING
		texts := ds.Texts(r)
		prompts := make([]contract.Prompt, len(texts))
		for i, text := range texts {
			prompts[i] = comp.Formatter.Format(text)
		}

		// GENERATING
		gt := logger.StartWith("generate", "batch", batchID(k), zap.Int("from", r.From), zap.Int("to", r.To))
		gs := time.Now()
		comps, err := generate(ctx, comp.Generator, prompts, set)
		diag.ObserveDuration("generate", "batch", time.Since(gs).Milliseconds())
		if err != nil {
			return fail(StageGenerating, k, fmt.Errorf("%w: %w", contract.ErrGeneration, err))
		}
		if len(comps) != len(prompts) {
			return fail(StageGenerating, k, fmt.Errorf("%w: engine returned %d completions for %d prompts", contract.ErrIntegrity, len(comps), len(prompts)))
		}
		gt.Finish("batch", int64(len(comps)))
		diag.IncOp("generate", "batch", "success")

		// PARSING
		for i, c := range comps {
			po := comp.Parser.Parse(c.Text)
			if !po.OK {
				sum.ParseFailures++
				logger.Warn("parser", "unparsable completion", zap.Int("index", r.From+i))
			}
			outputs = append(outputs, po)
		}
		k++
		term.Progress(len(outputs))
	}
	sum.Batches = k

	// ASSEMBLING
	if len(outputs) != n {
		return fail(StageAssembling, -1, fmt.Errorf("%w: %d outputs for %d records", contract.ErrIntegrity, len(outputs), n))
	}
	out, err := comp.Assembler.Assemble(ds, set.Column, outputs)
	if err != nil {
		return fail(StageAssembling, -1, err)
	}

	// PERSISTING
	wt := logger.Start("writer", "write")
	art, err := comp.Writer.Write(ctx, out, contract.ArtifactMeta{
		CorrID:        set.CorrID,
		Source:        set.SourceName,
		Model:         set.Model,
		Column:        set.Column,
		ParseFailures: sum.ParseFailures,
	})
	if err != nil {
		return fail(StagePersisting, -1, err)
	}
	wt.Finish("write", int64(art.Rows))
	diag.IncOp("writer", "write", "success")

	sum.Artifact = art
	sum.Stage = StageDone
	sum.Duration = time.Since(t0)
	if n > 0 {
		sum.AvgPerRecord = sum.Duration / time.Duration(n)
	}
	term.RunFinish(true, n, sum.ParseFailures, sum.Duration, art.Dir)
	return sum, nil
}

// generate 在单次调用超时下提交一批。
func generate(ctx context.Context, g contract.Generator, prompts []contract.Prompt, set Settings) ([]contract.Completion, error) {
	if set.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, set.Timeout)
		defer cancel()
	}
	return g.Generate(ctx, prompts, set.Sampling)
}

func batchID(k int) string {
	if k < 0 {
		return ""
	}
	return strconv.Itoa(k)
}
