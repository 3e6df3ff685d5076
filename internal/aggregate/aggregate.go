// Package aggregate 把结构化的简历/职位描述拼成一段用于向量化的文本。
// 所有函数都是纯函数，相同输入得到相同输出。
package aggregate

import (
	"encoding/json"
	"fmt"
	"strings"

	"resume-match-go/internal/types"
)

// Resume 聚合简历：技能、教育、证书、工作经历、项目五段，空段落直接丢弃，段间用 " | " 分隔
func Resume(r *types.Resume) string {
	if r == nil {
		return ""
	}

	education := make([]string, 0, len(r.Education))
	for _, edu := range r.Education {
		education = append(education, fmt.Sprintf("%s from %s (%s)", edu.Degree, edu.Institution, edu.Year))
	}

	experience := make([]string, 0, len(r.Experience))
	for _, exp := range r.Experience {
		experience = append(experience,
			fmt.Sprintf("%s at %s (%s): ", exp.Title, exp.Company, exp.Dates)+strings.Join(exp.Responsibilities, ", "))
	}

	projects := make([]string, 0, len(r.Projects))
	for _, p := range r.Projects {
		projects = append(projects, fmt.Sprintf("%s: %s", p.Title, p.Description))
	}

	sections := []string{
		strings.Join(r.Skills, ", "),
		strings.Join(education, " "),
		strings.Join(r.Certifications, ", "),
		strings.Join(experience, " "),
		strings.Join(projects, " "),
	}

	nonEmpty := sections[:0]
	for _, s := range sections {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, " | ")
}

// JobDescription 聚合职位描述。五个标签始终输出，内容为空时保留空标签。
func JobDescription(jd *types.JobDescription) string {
	if jd == nil {
		jd = &types.JobDescription{}
	}
	return fmt.Sprintf("Job Title: %s. Skills: %s. Required Qualifications: %s. Preferred Qualifications: %s. Responsibilities: %s.",
		jd.JobTitle,
		strings.Join(jd.Skills, ", "),
		jd.RequiredQualifications.Join(". "),
		jd.PreferredQualifications.Join(". "),
		strings.Join(jd.Responsibilities, ". "),
	)
}

// Aggregate 聚合 map 形式的记录。字段形态异常只会让对应段落变短，不会报错；
// 只有记录本身无法序列化时才返回错误。
func Aggregate(record map[string]any, kind types.Kind) (types.AggregateDocument, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return types.AggregateDocument{}, fmt.Errorf("序列化记录失败: %w", err)
	}
	doc, err := AggregateJSON(raw, kind)
	if err != nil {
		return types.AggregateDocument{}, err
	}
	doc.Record = record
	return doc, nil
}

// AggregateJSON 解析 JSON 对象并聚合。输入不是 JSON 对象时返回错误。
func AggregateJSON(raw []byte, kind types.Kind) (types.AggregateDocument, error) {
	doc := types.AggregateDocument{Kind: kind}

	switch kind {
	case types.KindResume:
		var r types.Resume
		if err := json.Unmarshal(raw, &r); err != nil {
			return doc, fmt.Errorf("解析简历记录失败: %w", err)
		}
		doc.Content = Resume(&r)
	case types.KindJobDescription:
		var jd types.JobDescription
		if err := json.Unmarshal(raw, &jd); err != nil {
			return doc, fmt.Errorf("解析职位描述记录失败: %w", err)
		}
		doc.Content = JobDescription(&jd)
	default:
		return doc, fmt.Errorf("不支持的记录类型: %q", kind)
	}

	if doc.Record == nil {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			doc.Record = m
		}
	}
	return doc, nil
}
