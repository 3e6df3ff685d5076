package parser

import (
	"encoding/json"
	"strings"
)

// FieldType 字段类型
type FieldType string

const (
	FieldString        FieldType = "string"
	FieldList          FieldType = "list"
	FieldObject        FieldType = "object"
	FieldListOfObjects FieldType = "list_of_objects"
	FieldBool          FieldType = "bool"
)

// FieldSpec 描述目标结构中的一个字段
type FieldSpec struct {
	Key      string
	Type     FieldType
	Example  string // string / list 的示例值
	Children []FieldSpec
}

// SchemaDescription 结构化抽取的目标结构。
// 提示词只通过 Render() 看到它，不直接拼模板字符串。
type SchemaDescription struct {
	Name   string
	Fields []FieldSpec
}

// Render 渲染为 JSON 模板，字段顺序与定义顺序一致
func (s SchemaDescription) Render() string {
	var b strings.Builder
	renderObject(&b, s.Fields, 0)
	return b.String()
}

// Keys 返回顶层字段名
func (s SchemaDescription) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		keys = append(keys, f.Key)
	}
	return keys
}

func renderObject(b *strings.Builder, fields []FieldSpec, depth int) {
	if len(fields) == 0 {
		b.WriteString("{}")
		return
	}
	b.WriteString("{\n")
	for i, f := range fields {
		indent(b, depth+1)
		b.WriteString(quote(f.Key))
		b.WriteString(": ")
		renderValue(b, f, depth+1)
		if i < len(fields)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	indent(b, depth)
	b.WriteByte('}')
}

func renderValue(b *strings.Builder, f FieldSpec, depth int) {
	switch f.Type {
	case FieldList:
		b.WriteByte('[')
		if f.Example != "" {
			b.WriteString(quote(f.Example))
		}
		b.WriteByte(']')
	case FieldObject:
		renderObject(b, f.Children, depth)
	case FieldListOfObjects:
		b.WriteByte('[')
		renderObject(b, f.Children, depth)
		b.WriteByte(']')
	case FieldBool:
		if f.Example == "true" {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	default:
		b.WriteString(quote(f.Example))
	}
}

func indent(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
}

func quote(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

// ResumeSchema 简历结构
func ResumeSchema() SchemaDescription {
	return SchemaDescription{
		Name: "resume",
		Fields: []FieldSpec{
			{Key: "Name", Type: FieldString, Example: "[Your Name]"},
			{Key: "Contact", Type: FieldObject, Children: []FieldSpec{
				{Key: "Phone", Type: FieldString, Example: "[Phone Number]"},
				{Key: "Email", Type: FieldString, Example: "[Email Address]"},
				{Key: "LinkedIn", Type: FieldString, Example: "[LinkedIn Profile]"},
				{Key: "Portfolio", Type: FieldString, Example: "[Portfolio/Website]"},
			}},
			{Key: "Summary", Type: FieldString, Example: "[Brief professional summary]"},
			{Key: "Skills", Type: FieldList, Example: "[Skill]"},
			{Key: "Experience", Type: FieldListOfObjects, Children: []FieldSpec{
				{Key: "Title", Type: FieldString, Example: "[Job Title]"},
				{Key: "Company", Type: FieldString, Example: "[Company Name]"},
				{Key: "Location", Type: FieldString, Example: "[City, State]"},
				{Key: "Dates", Type: FieldString, Example: "[Start Date] - [End Date or 'Present']"},
				{Key: "Responsibilities", Type: FieldList, Example: "[Responsibility]"},
			}},
			{Key: "Education", Type: FieldListOfObjects, Children: []FieldSpec{
				{Key: "Degree", Type: FieldString, Example: "[Degree Name]"},
				{Key: "Institution", Type: FieldString, Example: "[Institution Name]"},
				{Key: "Year", Type: FieldString, Example: "[Year of Graduation]"},
			}},
			{Key: "Certifications", Type: FieldList, Example: "[Certification]"},
			{Key: "Projects", Type: FieldListOfObjects, Children: []FieldSpec{
				{Key: "Title", Type: FieldString, Example: "[Project Title]"},
				{Key: "Description", Type: FieldString, Example: "[Brief description]"},
			}},
			{Key: "Achievements", Type: FieldList, Example: "[Achievement]"},
			{Key: "Languages", Type: FieldList, Example: "[Language]"},
		},
	}
}

// JobDescriptionSchema 职位描述结构
func JobDescriptionSchema() SchemaDescription {
	return SchemaDescription{
		Name: "job_description",
		Fields: []FieldSpec{
			{Key: "job_title", Type: FieldString, Example: "Software Engineer"},
			{Key: "department", Type: FieldString, Example: "Engineering"},
			{Key: "company_name", Type: FieldString, Example: "Tech Solutions Inc."},
			{Key: "location", Type: FieldObject, Children: []FieldSpec{
				{Key: "city", Type: FieldString, Example: "New York"},
				{Key: "state", Type: FieldString, Example: "NY"},
				{Key: "country", Type: FieldString, Example: "USA"},
				{Key: "remote", Type: FieldBool, Example: "true"},
			}},
			{Key: "employment_type", Type: FieldString, Example: "Full-time"},
			{Key: "job_summary", Type: FieldString, Example: "Responsible for designing, developing, and maintaining software applications."},
			{Key: "responsibilities", Type: FieldList, Example: "Develop high-quality software solutions."},
			{Key: "required_qualifications", Type: FieldList, Example: "2+ years of software development experience."},
			{Key: "preferred_qualifications", Type: FieldList, Example: "Familiarity with CI/CD pipelines."},
			{Key: "skills", Type: FieldList, Example: "Python"},
			{Key: "benefits", Type: FieldList, Example: "Health insurance"},
			{Key: "application_instructions", Type: FieldString, Example: "Submit your resume via the company portal."},
			{Key: "posted_date", Type: FieldString, Example: "2025-01-06"},
			{Key: "closing_date", Type: FieldString, Example: "2025-02-01"},
			{Key: "contact_email", Type: FieldString, Example: "careers@techsolutions.com"},
			{Key: "keywords", Type: FieldList, Example: "Software Engineer"},
		},
	}
}

// SchemaForKind 按记录类型返回内置结构
func SchemaForKind(kind string) (SchemaDescription, bool) {
	switch kind {
	case "resume":
		return ResumeSchema(), true
	case "job_description":
		return JobDescriptionSchema(), true
	}
	return SchemaDescription{}, false
}
