package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"cv-extractor/internal/config"
	"cv-extractor/internal/logger"
)

const usage = `用法: cvextract <命令> [参数]

命令:
  run      处理输入目录中的全部文件 (简历或岗位)
  extract  仅提取单个文件的文本
  slice    提取并切分单个文件，输出片段
  fields   提取单个文件并调用 LLM 抽取字段
  export   把 CSV 输出导出为 XLSX
`

// command 子命令，args 不含命令名
type command func(args []string) error

func main() {
	commands := map[string]command{
		"run":     runCommand,
		"extract": extractCommand,
		"slice":   sliceCommand,
		"fields":  fieldsCommand,
		"export":  exportCommand,
	}
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "错误: 未知命令 '%s'\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err := cmd(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet 每个子命令都支持 --config 和 --log-level
func newFlagSet(name string) (*pflag.FlagSet, *string, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "配置文件路径")
	logLevel := fs.String("log-level", "", "覆盖配置中的日志级别")
	return fs, configPath, logLevel
}

// loadConfig 加载配置并初始化日志
func loadConfig(path, level string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if level != "" {
		cfg.Logger.Level = level
	}
	logger.Init(logger.FromAppConfig(cfg.Logger))
	return cfg, nil
}
