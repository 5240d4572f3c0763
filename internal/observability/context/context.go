package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type clientIPKey struct{}
type userAgentKey struct{}
type jobKey struct{}

// JobInfo identifies the background job a context is executing for.
type JobInfo struct {
	Type    string
	ID      string
	Attempt int
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	if ip = strings.TrimSpace(ip); ip != "" {
		ctx = context.WithValue(ctx, clientIPKey{}, ip)
	}
	if userAgent = strings.TrimSpace(userAgent); userAgent != "" {
		ctx = context.WithValue(ctx, userAgentKey{}, userAgent)
	}
	return ctx
}

func ClientFromContext(ctx context.Context) (ip string, userAgent string) {
	if ctx == nil {
		return "", ""
	}
	ip, _ = ctx.Value(clientIPKey{}).(string)
	userAgent, _ = ctx.Value(userAgentKey{}).(string)
	return ip, userAgent
}

func WithJob(ctx context.Context, info JobInfo) context.Context {
	if strings.TrimSpace(info.Type) == "" {
		return ctx
	}
	return context.WithValue(ctx, jobKey{}, info)
}

func JobFromContext(ctx context.Context) (JobInfo, bool) {
	if ctx == nil {
		return JobInfo{}, false
	}
	info, ok := ctx.Value(jobKey{}).(JobInfo)
	return info, ok
}
