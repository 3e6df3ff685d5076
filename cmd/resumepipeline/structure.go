package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"resume-match-go/internal/config"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/types"
)

func runStructure(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("structure")
	input := fs.StringP("input", "i", "", "文本所在目录 (必填)")
	output := fs.StringP("output", "o", "", "输出 JSON 文件，默认标准输出")
	kindFlag := fs.StringP("kind", "k", string(types.KindResume), "记录类型: resume 或 job_description")
	sample := fs.IntP("sample", "n", cfg.Extraction.SampleSize, "随机抽样数量，0 表示全部")
	seed := fs.Uint64("seed", 0, "抽样随机种子，0 表示按时间")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return fmt.Errorf("必须指定 --input")
	}
	if err := requireDir("structure", *input); err != nil {
		return err
	}
	kind, err := types.ParseKind(*kindFlag)
	if err != nil {
		return processor.NewInputError("structure", err.Error())
	}
	schema, _ := parser.SchemaForKind(string(kind))

	files, err := doublestar.Glob(os.DirFS(*input), "**/*.txt")
	if err != nil {
		return fmt.Errorf("列出文本文件失败: %w", err)
	}
	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}
	files = sampleFiles(files, *sample, rand.New(rand.NewPCG(*seed, *seed)))

	texts := make([]string, 0, len(files))
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(*input, filepath.FromSlash(rel)))
		if err != nil {
			return fmt.Errorf("读取 %s 失败: %w", rel, err)
		}
		texts = append(texts, string(data))
	}
	if len(texts) == 0 {
		return processor.NewInputError("structure", fmt.Sprintf("目录 %s 下没有 .txt 文件", *input))
	}

	pipeline, err := processor.NewPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	records, report, err := pipeline.Extractor.ExtractBatch(ctx, texts, schema)
	if err != nil {
		return err
	}
	if err := writeJSON(*output, records); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "抽取完成: processed %d of %d (跳过 %d)\n", report.Succeeded, report.Total, report.Skipped)
	return nil
}

// sampleFiles 随机取 n 个文件并按路径排序；n<=0 或不足 n 个时返回全部
func sampleFiles(files []string, n int, rng *rand.Rand) []string {
	if n <= 0 || len(files) <= n {
		return files
	}
	picked := make([]string, len(files))
	copy(picked, files)
	rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	picked = picked[:n]
	slices.Sort(picked)
	return picked
}
