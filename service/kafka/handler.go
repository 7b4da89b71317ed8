package kafka

import (
	"context"
	"fmt"
	"sync"
)

type MessageHandler func(ctx context.Context, topic string, key, value []byte) error

// Router topic -> handler；"*" 作为兜底
type Router struct {
	mu         sync.RWMutex
	handlerMap map[string]MessageHandler
}

func NewRouter() *Router {
	return &Router{handlerMap: make(map[string]MessageHandler)}
}

func (r *Router) RegisterHandler(topic string, handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlerMap[topic] = handler
}

// RegisterDefaultHandlers 给所有大 Topic 注册同一处理逻辑
func (r *Router) RegisterDefaultHandlers(topics []string, handler MessageHandler) {
	for _, t := range topics {
		r.RegisterHandler(t, handler)
	}
}

func (r *Router) GetHandler(topic string) (MessageHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlerMap[topic]; ok {
		return h, nil
	}
	if h, ok := r.handlerMap["*"]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("no handler registered for topic: %s", topic)
}
