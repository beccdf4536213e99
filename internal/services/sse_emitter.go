package services

import (
	"context"
	"time"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/sse"
	"github.com/studyowl/studyowl-backend/internal/sse/bus"
)

// SSEEmitter is the outbound side of live progress updates. Implementations
// must never block the caller: pipeline workers treat emission as
// fire-and-forget.
type SSEEmitter interface {
	Emit(msg sse.SSEMessage)
}

// HubEmitter delivers straight to the in-process hub. Used in single-node
// deployments and in tests.
type HubEmitter struct {
	Hub *sse.SSEHub
}

func (e *HubEmitter) Emit(msg sse.SSEMessage) {
	if e == nil || e.Hub == nil {
		return
	}
	e.Hub.Broadcast(msg)
}

// RedisEmitter publishes through the Redis bus so every node's hub sees the
// message. Publish failures are logged and dropped.
type RedisEmitter struct {
	Bus bus.Bus
	Log *logger.Logger
}

func (e *RedisEmitter) Emit(msg sse.SSEMessage) {
	if e == nil || e.Bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Bus.Publish(ctx, msg); err != nil && e.Log != nil {
		e.Log.Warn("SSE publish failed", "channel", msg.Channel, "event", msg.Event, "error", err)
	}
}
