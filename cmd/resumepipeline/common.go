package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"resume-match-go/internal/config"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/types"
)

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "用法: resumepipeline %s [flags]\n", name)
		fs.PrintDefaults()
	}
	return fs
}

// readRecords 读取 JSON 数组文件的原始元素。文件不存在、顶层不是数组或为空时返回输入错误；
// 单个非对象元素留给索引阶段逐条跳过。
func readRecords(path string, kind types.Kind) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, processor.NewInputError("read_records", fmt.Sprintf("文件不存在: %s", path))
		}
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	records, err := processor.SplitRecordArray(data, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// requireDir 输入目录不存在或不是目录时返回输入错误
func requireDir(op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return processor.NewInputError(op, fmt.Sprintf("目录不存在: %s", path))
		}
		return fmt.Errorf("读取目录 %s 失败: %w", path, err)
	}
	if !info.IsDir() {
		return processor.NewInputError(op, fmt.Sprintf("不是目录: %s", path))
	}
	return nil
}

// writeJSON 写入带缩进的 JSON，path 为空或 "-" 时写到标准输出
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建目录 %s 失败: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	return nil
}

func printReport(report *processor.IndexReport) {
	fmt.Printf("集合: %s, 维度: %d\n", report.Collection, report.Dimension)
	for _, s := range report.Skipped {
		fmt.Printf("  跳过 #%d (%s): %s\n", s.Index, s.Reason, s.Prefix)
	}
	fmt.Println(report.Summary())
}

func runInitConfig(_ context.Context, _ *config.Config, args []string) error {
	fs := newFlagSet("init-config")
	output := fs.StringP("output", "o", "config.yaml", "配置文件路径")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.CreateSampleConfig(*output); err != nil {
		return err
	}
	fmt.Printf("示例配置已写入 %s\n", *output)
	return nil
}
