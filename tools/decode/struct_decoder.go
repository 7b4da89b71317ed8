// Package decode 把事件 data（JSON 解出的 map[string]any）解码成各事件的 payload 结构体
package decode

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

type Options struct {
	// 宽松解码（默认 true）："123" -> int64、1.0 -> int64
	WeaklyTypedInput bool
	// 有未知字段时报错，测试里用来发现 payload 拼写错误
	ErrorUnused bool
}

func DefaultOptions() Options {
	return Options{WeaklyTypedInput: true}
}

// DecodeMap 字段读取使用 `json` tag；时间字段接受 RFC3339 字符串或毫秒时间戳
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("payload is nil")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		ErrorUnused:      cfg.ErrorUnused,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			millisToTimeHook(),
			numberToIntHook(),
			anySliceToStringsHook(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}

var timeType = reflect.TypeOf(time.Time{})

func millisToTimeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != timeType {
			return data, nil
		}
		switch v := data.(type) {
		case float64:
			return time.UnixMilli(int64(v)), nil
		case int64:
			return time.UnixMilli(v), nil
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return data, err
			}
			return time.UnixMilli(n), nil
		}
		return data, nil
	}
}

// numberToIntHook json 解出的数字是 float64 / json.Number
func numberToIntHook() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if to != reflect.Int && to != reflect.Int32 && to != reflect.Int64 {
			return data, nil
		}
		switch v := data.(type) {
		case float64:
			return int64(v), nil
		case json.Number:
			return v.Int64()
		}
		return data, nil
	}
}

// anySliceToStringsHook 目标为 []string 时逐个转换，非字符串元素按 JSON 文本保留
func anySliceToStringsHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		src, ok := data.([]any)
		if !ok {
			return data, nil
		}
		out := make([]string, 0, len(src))
		for _, it := range src {
			switch v := it.(type) {
			case string:
				out = append(out, v)
			case json.Number:
				out = append(out, v.String())
			default:
				b, _ := json.Marshal(v)
				out = append(out, string(b))
			}
		}
		return out, nil
	}
}
