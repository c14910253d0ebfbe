package provider

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexInt 兼容数字和字符串两种写法，例如 "contentLength": "3456789"
type flexInt struct {
	Value int64
	Valid bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = flexInt{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = flexInt{}
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// 个别实例会返回 "128 kbps" 这类文案，按缺失处理
			*f = flexInt{}
			return nil
		}
		*f = flexInt{Value: v, Valid: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		fv, ferr := n.Float64()
		if ferr != nil {
			return err
		}
		v = int64(fv)
	}
	*f = flexInt{Value: v, Valid: true}
	return nil
}

// Ptr 缺失时返回 nil
func (f flexInt) Ptr() *int64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// Int 缺失时返回 0
func (f flexInt) Int() int {
	return int(f.Value)
}

func isAudioMime(mime string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "audio/")
}
