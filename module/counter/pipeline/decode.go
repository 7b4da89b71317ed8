package pipeline

import (
	"encoding/json"

	"PCounter/module/counter/model"
	"PCounter/tools/errs"
)

// DecodeEvent 解析 JSON 信封；eventId 缺失时由 Handle 补齐
func DecodeEvent(data []byte) (*model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, errs.ErrArgs.WrapMsg("bad event envelope", "err", err)
	}
	return &ev, nil
}
