// Package logkafka writes one access log entry per HTTP request, to a Kafka topic when
// one is configured and to the service logger otherwise.
package logkafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"go_trial/littlelemon/logging"
)

const TraceHeader = "X-Trace-ID"

type LogEntry struct {
	Level     string            `json:"level"`
	Module    string            `json:"module"`
	Message   string            `json:"message"`
	TraceID   string            `json:"trace_id"`
	Env       string            `json:"env"`
	Timestamp string            `json:"timestamp"`
	Extra     map[string]string `json:"extra"`
}

type AccessLog struct {
	writer messageWriter
	env    string
	log    *slog.Logger
}

// New returns an access logger. A nil writer sends entries to log only.
func New(writer messageWriter, env string, log *slog.Logger) *AccessLog {
	return &AccessLog{writer: writer, env: env, log: log}
}

func (a *AccessLog) Close() error {
	if a.writer != nil {
		return a.writer.Close()
	}
	return nil
}

func (a *AccessLog) write(ctx context.Context, entry LogEntry) {
	if a.writer == nil {
		attrs := []any{logging.Action("http_request"), slog.String("trace_id", entry.TraceID)}
		for k, v := range entry.Extra {
			attrs = append(attrs, slog.String(k, v))
		}
		a.log.InfoContext(ctx, entry.Message, attrs...)
		return
	}
	b, err := json.Marshal(entry)
	if err == nil {
		err = a.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(entry.TraceID),
			Value: b,
			Time:  time.Now(),
		})
	}
	if err != nil {
		a.log.Warn("access log not shipped", logging.Action("log_kafka"), logging.Err(err))
	}
}

// userSlot is filled in by the authentication layer further down the chain, which
// may still be running on a timed out request while the entry is written.
type userSlot struct{ id atomic.Pointer[string] }

func (s *userSlot) user() string {
	if id := s.id.Load(); id != nil && *id != "" {
		return *id
	}
	return "anonymous"
}

type slotKey struct{}

// SetUser records the authenticated user for the access log of the current request.
func SetUser(ctx context.Context, userID string) {
	if slot, ok := ctx.Value(slotKey{}).(*userSlot); ok {
		slot.id.Store(&userID)
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware assigns a trace id (reusing X-Trace-ID when sent), exposes it to the
// service logger and echoes it on the response.
func (a *AccessLog) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		w.Header().Set(TraceHeader, traceID)

		slot := &userSlot{}
		ctx := context.WithValue(r.Context(), slotKey{}, slot)
		ctx = logging.WithRequestID(ctx, traceID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))
		duration := time.Since(start)

		userID := slot.user()
		level := "info"
		if rw.statusCode >= http.StatusInternalServerError {
			level = "error"
		}
		a.write(ctx, LogEntry{
			Level:     level,
			Module:    "http",
			Message:   "request completed",
			TraceID:   traceID,
			Env:       a.env,
			Timestamp: start.UTC().Format(time.RFC3339),
			Extra: map[string]string{
				"user_id":     userID,
				"ip":          clientIP(r),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      strconv.Itoa(rw.statusCode),
				"duration_ms": strconv.FormatInt(duration.Milliseconds(), 10),
				"user_agent":  r.UserAgent(),
			},
		})
	})
}
