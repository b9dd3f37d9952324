package ecs

import (
	"context"
	"net/http"
	"strings"

	"campus-sync/internal/domain"
	"campus-sync/internal/httpx"
)

// EventMessage is one entry of the broker's per-connection event feed.
type EventMessage struct {
	// Ressource is the resource path the event refers to,
	// e.g. "campusconnect/courses/42". The broker spells it with a
	// double s, so we keep the wire name.
	Ressource string             `json:"ressource"`
	Status    domain.EventStatus `json:"status"`
}

// ResourceRef splits the event's resource path into its type tag and id.
func (m EventMessage) ResourceRef() (domain.ResourceType, int, bool) {
	p := strings.Trim(m.Ressource, "/")
	p = strings.TrimPrefix(p, "campusconnect/")
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "", 0, false
	}
	id, err := idFromLocation(p[i+1:])
	if err != nil {
		return "", 0, false
	}
	t := domain.ResourceType(p[:i])
	if _, ok := domain.NewResource(t); !ok {
		return "", 0, false
	}
	return t, id, true
}

// PollEvents drains the connection's event feed. With ack=false this is a
// non-destructive peek; with ack=true the returned events are removed from
// the broker's queue. Callers peek first, persist, then ack.
func (c *Client) PollEvents(ctx context.Context, ack bool) ([]EventMessage, error) {
	op := "poll events"
	method := http.MethodGet
	if ack {
		op = "pop events"
		method = http.MethodPost
	}

	var out []EventMessage
	err := httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, method, "/sys/events/fifo", nil)
	}, &out, c.retryCfg())
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}
