package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	ctxAdminSubject contextKey = "admin_subject"
)

// AdminSubjectFromContext returns the authenticated admin subject, if any.
func AdminSubjectFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(ctxAdminSubject).(string); ok {
		return value
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
