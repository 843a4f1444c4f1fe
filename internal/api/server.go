package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"Awe-Chain/internal/address"
	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/events"
	"Awe-Chain/internal/ledger"
	"Awe-Chain/internal/observability/metrics"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/pkg/logger"
)

// Chain 是 API 依赖的运行时能力。
type Chain interface {
	Execute(ctx context.Context, tx *runtime.Transaction) (*runtime.Receipt, error)
	Account(ctx context.Context, addr address.Address) (*ledger.Account, error)
	Programs() []runtime.ProgramInfo
	Airdrop(ctx context.Context, addr address.Address, lamports uint64) (uint64, error)
}

// EventSource 提供最近提交的事件。
type EventSource interface {
	Recent(n int) []events.Event
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr         string
	chain        Chain
	events       EventSource
	airdropLimit uint64
	maxBody      int64
	readTimeout  time.Duration
	writeTimeout time.Duration
	shutdown     time.Duration
	overflow     string
	logger       *slog.Logger
}

// Option 配置 Server。
type Option func(*Server)

// WithEvents 启用 /api/v1/events。
func WithEvents(src EventSource) Option {
	return func(s *Server) { s.events = src }
}

// WithAirdropLimit 设置单次空投上限，0 表示关闭空投。
func WithAirdropLimit(lamports uint64) Option {
	return func(s *Server) { s.airdropLimit = lamports }
}

// WithMaxBodyBytes 限制请求体大小。
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithTimeouts 设置读写与优雅关闭的超时。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdown = shutdown
		}
	}
}

// WithOverflowPolicy 在 /api/v1/program 中展示计数溢出策略。
func WithOverflowPolicy(policy string) Option {
	return func(s *Server) { s.overflow = policy }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, chain Chain, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		chain:        chain,
		maxBody:      1 << 20,
		readTimeout:  15 * time.Second,
		writeTimeout: 15 * time.Second,
		shutdown:     5 * time.Second,
		logger:       logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回带指标统计的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/transactions", "transactions", s.handleSubmitTransaction)
	s.route(mux, "GET /api/v1/accounts/{address}", "accounts", s.handleAccount)
	s.route(mux, "GET /api/v1/metadata/{authority}", "metadata", s.handleMetadata)
	s.route(mux, "GET /api/v1/creators/{metadata}/{user}", "creators", s.handleCreator)
	s.route(mux, "GET /api/v1/program", "program", s.handleProgram)
	s.route(mux, "POST /api/v1/airdrop", "airdrop", s.handleAirdrop)
	s.route(mux, "GET /api/v1/events", "events", s.handleEvents)
	s.route(mux, "GET /healthz", "healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, instrument(name, h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// statusRecorder 记录响应码供指标使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// ErrorResponse 是所有失败请求的响应体。
type ErrorResponse struct {
	Code      xerrors.Code      `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Code: xerrors.CodeOf(err), Message: err.Error()}
	if xe, ok := xerrors.From(err); ok {
		resp.Message = xe.Message()
		resp.Retryable = xe.Retryable()
		resp.Metadata = xe.Metadata()
	}
	writeJSON(w, statusOf(resp.Code), resp)
}

// statusOf 把错误码映射为 HTTP 状态码。程序拒绝的交易统一返回 422。
func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeDuplicateTransaction:
		return http.StatusConflict
	case xerrors.CodeLockTimeout, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeStorageFailure, xerrors.CodeUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
