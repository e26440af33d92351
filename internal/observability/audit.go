package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditKind groups audit entries.
type AuditKind string

const (
	AuditRun          AuditKind = "run"
	AuditConversation AuditKind = "conversation"
	AuditSecurity     AuditKind = "security"
	AuditConfig       AuditKind = "config"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Kind     AuditKind
	Actor    string // conversation id, client address or "system"
	Action   string // e.g. "run:completed", "conversation_deleted"
	Status   string // success, failure, cancelled
	Metadata map[string]interface{}
	Time     time.Time
}

// AuditLogger appends one JSON object per event. Until InitAuditLogger is
// called, entries go to stderr.
type AuditLogger struct {
	mu   sync.Mutex
	out  zerolog.Logger
	file *os.File
}

var audit atomic.Pointer[AuditLogger]

func init() {
	audit.Store(newAuditLogger(os.Stderr, nil))
}

func newAuditLogger(w io.Writer, file *os.File) *AuditLogger {
	return &AuditLogger{out: zerolog.New(w), file: file}
}

// GetAuditLogger returns the process audit logger.
func GetAuditLogger() *AuditLogger {
	return audit.Load()
}

// InitAuditLogger sends the process audit log to path, closing the
// previous destination.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	return audit.Swap(newAuditLogger(file, file)).Close()
}

// Record writes event. When ctx carries a span, the entry gets its trace ID
// and a recording span gets a matching span event.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if span.IsRecording() {
		span.AddEvent("audit", trace.WithAttributes(
			attribute.String("audit.kind", string(event.Kind)),
			attribute.String("audit.action", event.Action),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.out.Log().
		Time("timestamp", event.Time).
		Str("type", string(event.Kind)).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.Actor != "" {
		entry = entry.Str("actor", event.Actor)
	}
	if sc.IsValid() {
		entry = entry.Str("trace_id", sc.TraceID().String())
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close closes the audit file. Later entries from this logger go to stderr.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	a.out = zerolog.New(os.Stderr)
	return err
}

func record(ctx context.Context, kind AuditKind, actor, action, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     kind,
		Actor:    actor,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordRunAudit logs the end of a run as "run:<outcome>".
func RecordRunAudit(ctx context.Context, conversationID string, runNumber int, outcome string, metadata map[string]interface{}) {
	md := map[string]interface{}{"run_number": runNumber}
	for k, v := range metadata {
		md[k] = v
	}
	record(ctx, AuditRun, conversationID, "run:"+outcome, runStatus(outcome), md)
}

func RecordConversationAudit(ctx context.Context, action, conversationID, status string, metadata map[string]interface{}) {
	record(ctx, AuditConversation, conversationID, action, status, metadata)
}

func RecordSecurityAudit(ctx context.Context, action, actor, status string, metadata map[string]interface{}) {
	record(ctx, AuditSecurity, actor, action, status, metadata)
}

func RecordConfigAudit(ctx context.Context, action, actor string, metadata map[string]interface{}) {
	record(ctx, AuditConfig, actor, action, "success", metadata)
}

func runStatus(outcome string) string {
	switch outcome {
	case "completed":
		return "success"
	case "cancelled":
		return "cancelled"
	default:
		return "failure"
	}
}
