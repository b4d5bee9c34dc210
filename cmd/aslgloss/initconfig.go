package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"aslgloss/internal/config"
)

func newInitConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在指定目录生成 " + DefaultConfigFile + " 与 .env 模板（已存在则跳过，不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(dir, DefaultConfigFile)
			if config.Exists(path) {
				fprintf(a.stdout, "已存在，跳过: %s\n", path)
			} else {
				if err := config.WriteTemplate(cmd.Context(), path); err != nil {
					return err
				}
				fprintf(a.stdout, "已生成: %s\n", path)
			}
			if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
				fprintf(a.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			return nil
		},
	}
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# aslgloss .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：--set > flag > ENV(.env) > 配置文件 > 默认值\n\n")
	b.WriteString("# 配置文件\n")
	b.WriteString(config.EnvPrefix + "_CONFIG_FILE=\n\n")
	b.WriteString("# 常用覆盖（键名 = 前缀 + 配置键，点号换为下划线）\n")
	for _, k := range []string{
		"source.path", "generation.client", "generation.model", "generation.batch_size",
		"output.dir", "serve.addr", "serve.transcriber",
	} {
		b.WriteString(config.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_")) + "=\n")
	}
	b.WriteString("\n# 供应商 API Key（由客户端按 api_key_env 读取）\n")
	b.WriteString("OPENAI_API_KEY=\n")
	b.WriteString("GOOGLE_API_KEY=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
