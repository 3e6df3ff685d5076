package processor

import (
	"bytes"
	"encoding/json"
	"fmt"

	"resume-match-go/internal/types"
)

// SplitRecordArray 把 JSON 数组拆成原始元素，元素本身不做校验。
// 顶层不是数组或数组为空时返回输入错误。
func SplitRecordArray(data []byte, kind types.Kind) ([]json.RawMessage, error) {
	var raws []json.RawMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' || json.Unmarshal(trimmed, &raws) != nil || len(raws) == 0 {
		return nil, NewInputError("split_records", fmt.Sprintf("expected a non-empty JSON array of %s objects", kind))
	}
	return raws, nil
}
