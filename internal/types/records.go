package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind 结构化记录类型
type Kind string

const (
	KindResume         Kind = "resume"
	KindJobDescription Kind = "job_description"
)

// ParseKind 解析记录类型，接受 resume / job_description / jd
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "resume", "resumes":
		return KindResume, nil
	case "job_description", "jobdescription", "jd":
		return KindJobDescription, nil
	}
	return "", fmt.Errorf("未知的记录类型: %q (应为 resume 或 job_description)", s)
}

// Contact 联系方式
type Contact struct {
	Phone     string `json:"Phone"`
	Email     string `json:"Email"`
	LinkedIn  string `json:"LinkedIn"`
	Portfolio string `json:"Portfolio"`
}

func (c *Contact) UnmarshalJSON(data []byte) error {
	f, err := objectFields(data)
	if err != nil {
		return err
	}
	c.Phone = f.text("Phone")
	c.Email = f.text("Email")
	c.LinkedIn = f.text("LinkedIn")
	c.Portfolio = f.text("Portfolio")
	return nil
}

// Experience 工作经历
type Experience struct {
	Title            string   `json:"Title"`
	Company          string   `json:"Company"`
	Location         string   `json:"Location"`
	Dates            string   `json:"Dates"`
	Responsibilities []string `json:"Responsibilities"`
}

func (e *Experience) UnmarshalJSON(data []byte) error {
	f, err := objectFields(data)
	if err != nil {
		return err
	}
	e.Title = f.text("Title")
	e.Company = f.text("Company")
	e.Location = f.text("Location")
	e.Dates = f.text("Dates")
	e.Responsibilities = f.list("Responsibilities")
	return nil
}

// Education 教育经历
type Education struct {
	Degree      string `json:"Degree"`
	Institution string `json:"Institution"`
	Year        string `json:"Year"`
}

func (e *Education) UnmarshalJSON(data []byte) error {
	f, err := objectFields(data)
	if err != nil {
		return err
	}
	e.Degree = f.text("Degree")
	e.Institution = f.text("Institution")
	e.Year = f.text("Year")
	return nil
}

// Project 项目经历
type Project struct {
	Title       string `json:"Title"`
	Description string `json:"Description"`
}

func (p *Project) UnmarshalJSON(data []byte) error {
	f, err := objectFields(data)
	if err != nil {
		return err
	}
	p.Title = f.text("Title")
	p.Description = f.text("Description")
	return nil
}

// Resume 简历结构化记录，字段名与抽取模板一致
type Resume struct {
	Name           string       `json:"Name"`
	Contact        Contact      `json:"Contact"`
	Summary        string       `json:"Summary"`
	Skills         []string     `json:"Skills"`
	Experience     []Experience `json:"Experience"`
	Education      []Education  `json:"Education"`
	Certifications []string     `json:"Certifications"`
	Projects       []Project    `json:"Projects"`
	Achievements   []string     `json:"Achievements"`
	Languages      []string     `json:"Languages"`
}

// UnmarshalJSON 宽松解析，只有顶层不是对象时才返回错误
func (r *Resume) UnmarshalJSON(data []byte) error {
	f, err := objectFields(data)
	if err != nil {
		return err
	}

	*r = Resume{
		Name:           f.text("Name"),
		Summary:        f.text("Summary"),
		Skills:         f.list("Skills"),
		Certifications: f.list("Certifications"),
		Achievements:   f.list("Achievements"),
		Languages:      f.list("Languages"),
	}
	if raw, ok := f.get("Contact"); ok {
		_ = json.Unmarshal(raw, &r.Contact)
	}
	if raw, ok := f.get("Experience"); ok {
		r.Experience = rawObjects[Experience](raw)
	}
	if raw, ok := f.get("Education"); ok {
		r.Education = rawObjects[Education](raw)
	}
	if raw, ok := f.get("Projects"); ok {
		r.Projects = rawObjects[Project](raw)
	}
	return nil
}

// Location 工作地点。抽取模板使用对象形式，历史数据里也有纯字符串。
type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	Remote  bool   `json:"remote,omitempty"`
	// Text 原始字符串形式
	Text string `json:"-"`
}

func (l *Location) UnmarshalJSON(data []byte) error {
	f, err := objectFields(data)
	if err != nil {
		// 不是对象就按文本处理
		*l = Location{Text: rawText(data)}
		return nil
	}
	*l = Location{
		City:    f.text("city"),
		State:   f.text("state"),
		Country: f.text("country"),
	}
	switch strings.ToLower(f.text("remote")) {
	case "true", "yes", "1":
		l.Remote = true
	}
	return nil
}

func (l Location) MarshalJSON() ([]byte, error) {
	if l.Text != "" && l.City == "" && l.State == "" && l.Country == "" && !l.Remote {
		return json.Marshal(l.Text)
	}
	type plain Location
	return json.Marshal(plain(l))
}

// String 返回可读的地点描述
func (l Location) String() string {
	if l.Text != "" {
		return l.Text
	}
	var parts []string
	for _, p := range []string{l.City, l.State, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	s := strings.Join(parts, ", ")
	if l.Remote {
		if s == "" {
			return "Remote"
		}
		s += " (Remote)"
	}
	return s
}

// Qualifications 任职要求。抽取结果可能是字符串列表，也可能是 {"value": ...} 对象列表，
// 两种形态（以及混合列表）都归一成字符串；缺少 value 的对象记为空串。
type Qualifications []string

func (q *Qualifications) UnmarshalJSON(data []byte) error {
	*q = Qualifications(rawList(data))
	return nil
}

// Join 使用 sep 连接各项
func (q Qualifications) Join(sep string) string {
	return strings.Join(q, sep)
}

// JobDescription 职位描述结构化记录
type JobDescription struct {
	JobTitle                string         `json:"job_title"`
	Department              string         `json:"department"`
	CompanyName             string         `json:"company_name"`
	Location                Location       `json:"location"`
	EmploymentType          string         `json:"employment_type"`
	JobSummary              string         `json:"job_summary"`
	Responsibilities        []string       `json:"responsibilities"`
	RequiredQualifications  Qualifications `json:"required_qualifications"`
	PreferredQualifications Qualifications `json:"preferred_qualifications"`
	Skills                  []string       `json:"skills"`
	Benefits                []string       `json:"benefits"`
	ApplicationInstructions string         `json:"application_instructions"`
	PostedDate              string         `json:"posted_date"`
	ClosingDate             string         `json:"closing_date"`
	ContactEmail            string         `json:"contact_email"`
	Keywords                []string       `json:"keywords"`
}

// UnmarshalJSON 宽松解析，只有顶层不是对象时才返回错误
func (j *JobDescription) UnmarshalJSON(data []byte) error {
	f, err := objectFields(data)
	if err != nil {
		return err
	}

	*j = JobDescription{
		JobTitle:                f.text("job_title"),
		Department:              f.text("department"),
		CompanyName:             f.text("company_name"),
		EmploymentType:          f.text("employment_type"),
		JobSummary:              f.text("job_summary"),
		Responsibilities:        f.list("responsibilities"),
		RequiredQualifications:  Qualifications(f.list("required_qualifications")),
		PreferredQualifications: Qualifications(f.list("preferred_qualifications")),
		Skills:                  f.list("skills"),
		Benefits:                f.list("benefits"),
		ApplicationInstructions: f.text("application_instructions"),
		PostedDate:              f.text("posted_date"),
		ClosingDate:             f.text("closing_date"),
		ContactEmail:            f.text("contact_email"),
		Keywords:                f.list("keywords"),
	}
	if raw, ok := f.get("location"); ok {
		_ = j.Location.UnmarshalJSON(raw)
	}
	return nil
}

// DecodeJobDescription 从 map 形式的记录解析职位描述
func DecodeJobDescription(record map[string]any) (*JobDescription, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("序列化职位描述记录失败: %w", err)
	}
	var jd JobDescription
	if err := json.Unmarshal(data, &jd); err != nil {
		return nil, err
	}
	return &jd, nil
}
