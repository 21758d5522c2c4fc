package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"nasgate/backend/internal/logging"
	"nasgate/backend/internal/types"
	"nasgate/backend/pkg/utils"
)

const (
	requestIDHeader = "X-Request-ID"
	errUnauthorized = "unauthorized"
)

// StatusFor 把错误类型映射为 HTTP 状态码
func StatusFor(err error) int {
	var (
		validation *types.ValidationError
		notFound   *types.TargetNotFoundError
		readErr    *types.ReadError
		upstream   *types.UpstreamError
		denied     *types.PolicyError
		pathDenied *types.PathPolicyError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &notFound), errors.As(err, &readErr), errors.As(err, &upstream):
		return http.StatusBadRequest
	case errors.As(err, &denied), errors.As(err, &pathDenied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// authMiddleware 校验 Authorization: Bearer <token>，没有配置 token 时放行
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
			logger := logging.FromContext(r.Context())
			logger.Info().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("rejected request with invalid token")
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware 把 handler 中的 panic 转成 500
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		func() {
			defer utils.RecoverErr(logging.FromContext(r.Context()), &err)
			next.ServeHTTP(w, r)
		}()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	})
}

// requestIDMiddleware 读取或生成请求 ID，写回响应头，并记录访问日志
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := logging.WithRequestID(r.Context(), r.Header.Get(requestIDHeader))
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger := logging.FromContext(ctx)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
