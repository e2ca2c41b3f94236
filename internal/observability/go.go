package observability

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"
)

// Call runs fn and re-panics after logging if it panics.
func Call(ctx context.Context, fn func()) {
	defer func() { PanicIfNotNil(ctx, recover()) }()
	fn()
}

// CallSafe runs fn and swallows a panic after logging it.
func CallSafe(ctx context.Context, fn func()) {
	defer func() { ReportPanicIfNotNil(ctx, recover()) }()
	fn()
}

func Go(ctx context.Context, fn func()) {
	go Call(ctx, fn)
}

func GoSafe(ctx context.Context, fn func()) {
	go CallSafe(ctx, fn)
}

func PanicIfNotNil(ctx context.Context, r any) {
	if r == nil {
		return
	}
	ReportPanicIfNotNil(ctx, r)
	panic(fmt.Sprintf("%#+v", r))
}

func ReportPanicIfNotNil(ctx context.Context, r any) bool {
	if r == nil {
		return false
	}
	logger.FromCtx(ctx).
		WithField("stack_trace", string(debug.Stack())).
		Errorf("got panic: %v", r)
	errmon.ObserveRecoverCtx(ctx, r)
	belt.Flush(ctx)
	return true
}
