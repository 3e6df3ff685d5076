package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resume-match-go/internal/types"
)

// DefaultDepartments 生成职位描述的默认部门
var DefaultDepartments = []string{
	"software engineer", "database", "quality assurance", "human resources", "teacher",
	"receptionist", "project manager", "chef", "Business Analyst", "Accountant",
}

// JDGenerator 用 LLM 生成合成职位描述，用于填充职位描述集合
type JDGenerator struct {
	extractor *RecordExtractor
	schema    SchemaDescription
}

// NewJDGenerator 复用抽取器的 LLM 调用与 JSON 解析
func NewJDGenerator(extractor *RecordExtractor) *JDGenerator {
	return &JDGenerator{extractor: extractor, schema: JobDescriptionSchema()}
}

// Generate 为部门生成一份职位描述，缺少职位名称的结果视为失败
func (g *JDGenerator) Generate(ctx context.Context, department string) (map[string]any, error) {
	system := fmt.Sprintf(`You are an expert in creating a job description for the %s department.
Prepare the job description in JSON format.
You should only provide the response in JSON format.
The format is:
%s`, department, g.schema.Render())

	response, err := g.extractor.callLLM(ctx, system, "Generate one job description.")
	if err != nil {
		return nil, g.extractor.fail(StageComplete, department, err)
	}
	record, err := parseJSONObject(response)
	if err != nil {
		return nil, g.extractor.fail(StageParseJSON, department, err)
	}
	jd, err := types.DecodeJobDescription(record)
	if err != nil {
		return nil, g.extractor.fail(StageParseJSON, department, err)
	}
	if strings.TrimSpace(jd.JobTitle) == "" {
		return nil, g.extractor.fail(StageParseJSON, department, errors.New("生成的职位描述缺少 job_title"))
	}
	return record, nil
}

// GenerateAll 每个部门生成 perDepartment 份，失败的跳过
func (g *JDGenerator) GenerateAll(ctx context.Context, departments []string, perDepartment int) ([]map[string]any, BatchReport) {
	if len(departments) == 0 {
		departments = DefaultDepartments
	}
	if perDepartment <= 0 {
		perDepartment = 5
	}

	report := BatchReport{Total: len(departments) * perDepartment}
	out := make([]map[string]any, 0, report.Total)
	for _, dept := range departments {
		for i := 0; i < perDepartment; i++ {
			if ctx.Err() != nil {
				report.Skipped = report.Total - report.Succeeded
				return out, report
			}
			record, err := g.Generate(ctx, dept)
			if err != nil {
				g.extractor.logger.Printf("生成 %s 职位描述失败 (%d/%d): %v", dept, i+1, perDepartment, err)
				report.Skipped++
				continue
			}
			out = append(out, record)
			report.Succeeded++
		}
	}
	return out, report
}
