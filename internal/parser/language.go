package parser

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// LanguageResult 语言检测结果
type LanguageResult struct {
	Code     string // ISO 639-1，无法映射时为空
	Reliable bool
}

// LanguageDetector 语言检测
type LanguageDetector interface {
	Detect(text string) LanguageResult
}

// WhatlangDetector 基于 whatlanggo 的语言检测
type WhatlangDetector struct{}

var _ LanguageDetector = WhatlangDetector{}

// Detect 检测文本语言
func (WhatlangDetector) Detect(text string) LanguageResult {
	if strings.TrimSpace(text) == "" {
		return LanguageResult{}
	}
	info := whatlanggo.Detect(text)
	return LanguageResult{
		Code:     info.Lang.Iso6391(),
		Reliable: info.IsReliable(),
	}
}

// LanguageName 返回语言的英文名，用于翻译提示词
func LanguageName(code string) string {
	if code == "" {
		return "unknown"
	}
	for lang, name := range whatlanggo.Langs {
		if lang.Iso6391() == code {
			return name
		}
	}
	return code
}
