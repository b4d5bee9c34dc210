package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"aslgloss/internal/config"
	"aslgloss/internal/diag"
	"aslgloss/internal/pipeline"
	"aslgloss/pkg/contract"
)

// DefaultConfigFile: 未给出 --config 时若存在则读取。
const DefaultConfigFile = "aslgloss.yaml"

var pipelineRun = pipeline.Run

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app 持有一次调用的共享状态：flag 值、viper 实例、已解析配置与 logger。
type app struct {
	cfgPath string
	logDir  string
	level   string
	sets    []string
	status  bool

	v      *viper.Viper
	cfg    config.Config
	corrID string
	logger *diag.Logger
	undo   func()

	stdout io.Writer
	stderr io.Writer
}

// run 返回退出码：0 成功，1 运行期失败，3 配置错误。
func run(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	a := &app{v: config.NewViper(), stdout: stdout, stderr: stderr}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	a.close()
	code := exitCode(err)
	switch {
	case err == nil:
	case code == 3:
		fprintf(stderr, "配置错误: %v\n", err)
	case errors.Is(err, context.Canceled):
	default:
		fprintf(stderr, "运行失败: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, contract.ErrConfig), errors.Is(err, contract.ErrPathInvalid):
		return 3
	}
	return 1
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "aslgloss",
		Short: "英文语音数据集的 ASL gloss 合成、转写服务与微调导出",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableNoDescFlag:   true,
			DisableDescriptions: true,
			HiddenDefaultCmd:    true,
		},
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", contract.ErrConfig, err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", "", "配置文件路径（YAML/JSON/TOML）；缺省读取 ./"+DefaultConfigFile+"（若存在）")
	pf.StringVar(&a.level, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.StringVar(&a.logDir, "log-dir", "", "轮转日志目录（覆盖配置）")
	pf.StringArrayVar(&a.sets, "set", nil, "覆盖任意配置键，形如 generation.batch_size=16；可重复")
	pf.BoolVar(&a.status, "status", true, "终端状态提示（stderr）")
	a.bind(pf, "logging.level", "log-level")
	a.bind(pf, "logging.dir", "log-dir")

	root.AddCommand(
		newSynthCommand(a),
		newServeCommand(a),
		newExportCommand(a),
		newInitConfigCommand(a),
	)
	return root
}

// bind 将 flag 绑定到配置键；flag 未显式给出时不覆盖下层来源。
func (a *app) bind(fs *pflag.FlagSet, key, name string) {
	_ = a.v.BindPFlag(key, fs.Lookup(name))
}

// setup 解析配置并初始化 logger；init-config 不需要配置。
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "init-config" {
		return nil
	}
	path := a.cfgPath
	if path == "" {
		if s := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); s != "" {
			path = s
		} else if config.Exists(DefaultConfigFile) {
			path = DefaultConfigFile
		}
	}
	cfg, err := config.Load(a.v, path, a.sets)
	if err != nil {
		return err
	}
	if errs := cfg.Logging.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.cfg = cfg
	a.corrID = uuid.NewString()
	a.logger = diag.NewLogger(a.corrID, cfg.Logging.Level, cfg.Logging.Dir)
	a.undo = zap.ReplaceGlobals(a.logger.Zap())
	a.logger.Debug("config", "effective",
		zap.String("command", cmd.Name()),
		zap.String("config_file", path),
		zap.String("client", cfg.Generation.Client),
		zap.String("model", cfg.Generation.Model),
		zap.Int("batch_size", cfg.Generation.BatchSize))
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.undo != nil {
		a.undo()
	}
}

func (a *app) terminal() *diag.Terminal { return diag.NewTerminal(a.stderr, a.status) }

// withSignals 在 SIGINT/SIGTERM 时取消 ctx。
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func fprintf(w io.Writer, format string, args ...any) { _, _ = fmt.Fprintf(w, format, args...) }

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export "；
// - 仅按首个 '=' 分割，成对的单/双引号会被剥去；
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '\'' || val[0] == '"') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}
