package decode

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memberPayload struct {
	DialogID string    `json:"dialogId"`
	UserIDs  []string  `json:"userIds"`
	Count    int64     `json:"count"`
	At       time.Time `json:"at"`
}

func TestDecodeMap(t *testing.T) {
	out, err := DecodeMap[memberPayload](map[string]any{
		"dialogId": "d1",
		"userIds":  []any{"u1", "u2", float64(7)},
		"count":    float64(3),
		"at":       "2025-01-02T03:04:05Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "d1", out.DialogID)
	assert.Equal(t, []string{"u1", "u2", "7"}, out.UserIDs)
	assert.Equal(t, int64(3), out.Count)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), out.At.UTC())
}

func TestDecodeMapNumbers(t *testing.T) {
	out, err := DecodeMap[memberPayload](map[string]any{
		"count": json.Number("42"),
		"at":    float64(1700000000000),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), out.Count)
	assert.Equal(t, int64(1700000000000), out.At.UnixMilli())

	// 宽松模式下字符串数字也可以
	out, err = DecodeMap[memberPayload](map[string]any{"count": "17"})
	require.NoError(t, err)
	assert.Equal(t, int64(17), out.Count)
}

func TestDecodeMapStrict(t *testing.T) {
	_, err := DecodeMap[memberPayload](map[string]any{"count": "17"}, Options{})
	assert.Error(t, err)

	_, err = DecodeMap[memberPayload](map[string]any{"dialog": "d1"}, Options{WeaklyTypedInput: true, ErrorUnused: true})
	assert.Error(t, err)
}

func TestDecodeMapNil(t *testing.T) {
	_, err := DecodeMap[memberPayload](nil)
	require.Error(t, err)
}
