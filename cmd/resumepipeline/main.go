package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/processor"
)

// command 一个子命令：解析自己的参数后执行
type command struct {
	usage string
	run   func(ctx context.Context, cfg *config.Config, args []string) error
}

var commands = map[string]command{ //nolint:gochecknoglobals
	"extract":         {"从 PDF 目录批量提取文本", runExtract},
	"structure":       {"把文本目录抽取为结构化 JSON 数组", runStructure},
	"index":           {"聚合、向量化并写入向量库", runIndex},
	"upload-existing": {"上传已聚合好的记录", runUploadExisting},
	"generate-jd":     {"用 LLM 生成合成职位描述", runGenerateJD},
	"query":           {"按职位描述检索相似简历", runQuery},
	"init-config":     {"生成示例配置文件", runInitConfig},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		if stage := processor.StageOf(err); stage != "" {
			fmt.Fprintf(os.Stderr, "失败阶段: %s\n", stage)
		}
		if errors.Is(err, processor.ErrInvalidInput) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	global := pflag.NewFlagSet("resumepipeline", pflag.ContinueOnError)
	configPath := global.StringP("config", "c", "", "配置文件路径")
	global.SetInterspersed(false)
	global.Usage = printUsage
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage()
		return fmt.Errorf("缺少子命令")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("未知命令 '%s'", rest[0])
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cmd.run(ctx, cfg, rest[1:])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "用法: resumepipeline [--config path] <command> [flags]")
	fmt.Fprintln(os.Stderr, "命令:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-16s %s\n", name, commands[name].usage)
	}
}
