// Package ids 账本记录用雪花 id（按时间有序），事件用 ulid
package ids

import (
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// Generator 41 位毫秒 + 10 位节点 + 12 位序列
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	seq      int64
	lastTSMS int64
	now      func() int64
}

func NewGenerator(nodeID int64) *Generator {
	g := &Generator{now: func() int64 { return time.Now().UnixMilli() }}
	g.SetNodeID(nodeID)
	return g
}

var defaultGen = NewGenerator(1)

// SetNodeID 超出 0~1023 时回落到 1；多副本部署时每个实例要不同
func (g *Generator) SetNodeID(nodeID int64) {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	g.mu.Lock()
	g.nodeID = nodeID
	g.mu.Unlock()
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.lastTSMS {
		// 时钟回拨，沿用上次的时间戳继续递增序列
		now = g.lastTSMS
	}
	if now == g.lastTSMS {
		g.seq = (g.seq + 1) & 0xFFF
		if g.seq == 0 {
			for now <= g.lastTSMS {
				now = g.now()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastTSMS = now

	ts := (now - epoch) & ((1 << 41) - 1)
	return ts<<22 | g.nodeID<<12 | g.seq
}

func Generate() int64 { return defaultGen.Next() }

func GenerateString() string { return strconv.FormatInt(Generate(), 10) }

func SetNodeID(nodeID int64) { defaultGen.SetNodeID(nodeID) }

// NewEventID 系统产生的事件 id（修复、手动重算、缺省 eventId），prefix 可为空
func NewEventID(prefix string) string {
	id := ulid.Make().String()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
