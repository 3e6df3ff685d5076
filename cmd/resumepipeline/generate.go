package main

import (
	"context"
	"fmt"
	"os"

	"resume-match-go/internal/config"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/processor"
)

func runGenerateJD(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("generate-jd")
	output := fs.StringP("output", "o", "", "输出 JSON 文件，默认标准输出")
	departments := fs.StringSlice("departments", parser.DefaultDepartments, "部门列表，逗号分隔")
	perDepartment := fs.IntP("per-department", "n", 5, "每个部门生成的数量")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *perDepartment <= 0 {
		return processor.NewInputError("generate_jd", "--per-department 必须大于 0")
	}

	pipeline, err := processor.NewPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	generator := parser.NewJDGenerator(pipeline.Extractor)
	records, report := generator.GenerateAll(ctx, *departments, *perDepartment)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("生成被中断 (已完成 %d 份): %w", report.Succeeded, err)
	}
	if err := writeJSON(*output, records); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "生成完成: processed %d of %d\n", report.Succeeded, report.Total)
	return nil
}
