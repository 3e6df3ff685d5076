package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotObject 顶层 JSON 不是对象
var ErrNotObject = errors.New("JSON值不是对象")

// LLM 输出的字段形态不稳定：数字、布尔、null、单个字符串代替列表、
// {"value": ...} 包装的对象等。下面的辅助函数把这些形态统一成字符串/字符串列表，
// 单个字段解析失败只会让该字段为空，不会让整条记录解析失败。

type rawFields map[string]json.RawMessage

// objectFields 解析顶层对象；非对象返回 ErrNotObject
func objectFields(data []byte) (rawFields, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, ErrNotObject
	}
	var fields rawFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// get 先精确匹配 key，再忽略大小写匹配
func (f rawFields) get(key string) (json.RawMessage, bool) {
	if v, ok := f[key]; ok {
		return v, true
	}
	for k, v := range f {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func (f rawFields) text(key string) string {
	raw, ok := f.get(key)
	if !ok {
		return ""
	}
	return rawText(raw)
}

func (f rawFields) list(key string) []string {
	raw, ok := f.get(key)
	if !ok {
		return nil
	}
	return rawList(raw)
}

// rawText 把任意 JSON 标量转成文本：null → ""，数字/布尔 → 字面值，
// {"value": x} → x，数组 → ", " 连接
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case 'n':
		return ""
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return ""
		}
		if v, ok := m["value"]; ok {
			return rawText(v)
		}
		return ""
	case '[':
		return strings.Join(rawList(raw), ", ")
	default:
		// 数字、true/false
		return string(raw)
	}
}

// rawList 把数组或单个标量转成字符串列表，元素保持原顺序
func rawList(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == 'n' {
		return nil
	}

	if raw[0] != '[' {
		s := rawText(raw)
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, rawText(item))
	}
	return out
}

// rawObjects 解析对象数组，无法解析的元素被跳过；单个对象视为只有一个元素的数组
func rawObjects[T any](raw json.RawMessage) []T {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var items []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
	case '{':
		items = []json.RawMessage{raw}
	default:
		return nil
	}

	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
