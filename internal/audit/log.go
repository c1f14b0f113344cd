package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sitesafe.app/internal/auth"
	"sitesafe.app/internal/ids"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is an append-only record of a security-relevant action.
type Entry struct {
	ID          string            `json:"id"`
	OccurredAt  time.Time         `json:"occurred_at"`
	TenantID    string            `json:"tenant_id,omitempty"`
	ActorUserID string            `json:"actor_user_id,omitempty"`
	Event       string            `json:"event"`
	TargetType  string            `json:"target_type,omitempty"`
	TargetID    string            `json:"target_id,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Query filters the audit log. Before is an entry id cursor.
type Query struct {
	TenantID string
	Before   string
	Limit    int
}

// Store persists and lists entries.
type Store interface {
	AppendAudit(ctx context.Context, e Entry) error
	ListAudit(ctx context.Context, q Query) ([]Entry, error)
}

// Publisher receives every entry after it was persisted.
type Publisher interface {
	Publish(e Entry)
}

// Recorder writes entries to the log stream and, when configured, to a Store.
type Recorder struct {
	store Store
	pub   Publisher
	log   zerolog.Logger
	now   func() time.Time
}

type RecorderOption func(*Recorder)

// WithPublisher forwards recorded entries to a live feed.
func WithPublisher(p Publisher) RecorderOption {
	return func(r *Recorder) { r.pub = p }
}

func NewRecorder(store Store, log zerolog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Target identifies what an event acted on.
type Target struct {
	Type     string
	ID       string
	TenantID string
}

// Record enriches the event with request and actor context and persists it.
func (r *Recorder) Record(ctx context.Context, event string, target Target, metadata map[string]string) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	e := Entry{
		ID:         ids.New(),
		OccurredAt: r.now().UTC(),
		TenantID:   target.TenantID,
		Event:      event,
		TargetType: target.Type,
		TargetID:   target.ID,
		RequestID:  RequestIDFromContext(ctx),
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		e.ActorUserID = p.UserID
		if e.TenantID == "" {
			e.TenantID = p.TenantID
		}
	}
	if len(metadata) > 0 {
		e.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			e.Metadata[k] = v
		}
	}

	ev := r.log.Info().
		Str("type", "audit").
		Str("audit_id", e.ID).
		Str("event", e.Event).
		Str("request_id", e.RequestID).
		Str("actor_user_id", e.ActorUserID).
		Str("tenant_id", e.TenantID).
		Str("target_type", e.TargetType).
		Str("target_id", e.TargetID)
	if len(e.Metadata) > 0 {
		dict := zerolog.Dict()
		for k, v := range e.Metadata {
			dict = dict.Str(k, v)
		}
		ev = ev.Dict("fields", dict)
	}
	ev.Msg("audit")

	if r.store != nil {
		if err := r.store.AppendAudit(ctx, e); err != nil {
			return err
		}
	}
	if r.pub != nil {
		r.pub.Publish(e)
	}
	return nil
}

// List reads entries newest first.
func (r *Recorder) List(ctx context.Context, q Query) ([]Entry, error) {
	if r.store == nil {
		return nil, nil
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	return r.store.ListAudit(ctx, q)
}
