package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// LogRequests logs every request handled by next at debug level.
func LogRequests(ctx context.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		logger.Debugf(ctx, "method=%s path=%s status=%d bytes=%d took=%s remote=%s",
			r.Method, r.URL.Path, rec.status, rec.bytes, time.Since(start), r.RemoteAddr)
	})
}

// Serve listens on addr and serves h until ctx is done. The returned
// address is the one actually bound, which matters for ":0".
func Serve(ctx context.Context, addr string, h http.Handler) (net.Addr, <-chan error, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{
		Handler:           LogRequests(ctx, h),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan error, 1)
	Go(ctx, func() {
		err := srv.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
		close(done)
	})
	Go(ctx, func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf(ctx, "http server shutdown: %v", err)
		}
	})
	logger.Infof(ctx, "serving http on %s", l.Addr())
	return l.Addr(), done, nil
}
