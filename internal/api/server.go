package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "TickFlow-Notifier/internal/errors"
	"TickFlow-Notifier/internal/feed"
	"TickFlow-Notifier/internal/market"
	"TickFlow-Notifier/internal/notify"
	"TickFlow-Notifier/internal/observability/metrics"
	"TickFlow-Notifier/internal/window"
	"TickFlow-Notifier/pkg/logger"
)

// Server 暴露 REST 接口，支持查询聚合区间与动态调整跟踪品种。
type Server struct {
	addr     string
	notifier *notify.VolatilityNotifier
	feed     feed.Feed
	log      *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, notifier *notify.VolatilityNotifier, f feed.Feed) *Server {
	return &Server{
		addr:     addr,
		notifier: notifier,
		feed:     f,
		log:      logger.Named("api"),
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.Info("API 服务已启动", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回完整路由，测试时可直接挂到 httptest 上。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/range", s.instrument("range", s.handleRange))
	mux.HandleFunc("/api/v1/symbols", s.instrument("symbols", s.handleSymbols))
	mux.HandleFunc("/api/v1/symbols/", s.instrument("symbol", s.handleSymbol))
	mux.HandleFunc("/healthz", s.instrument("healthz", s.handleHealthz))
	return mux
}

// instrument 包装处理函数，记录请求指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type rangeResponse struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Buckets   int     `json:"buckets"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Count     int     `json:"count"`
}

// handleRange 查询某品种某周期最近若干桶内的极值。
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	timeframe := r.URL.Query().Get("timeframe")
	if symbol == "" || timeframe == "" {
		http.Error(w, "symbol 与 timeframe 不能为空", http.StatusBadRequest)
		return
	}
	buckets := 1
	if raw := r.URL.Query().Get("buckets"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "buckets 必须是非负整数", http.StatusBadRequest)
			return
		}
		buckets = parsed
	}

	min, max, count, err := s.notifier.Range(symbol, timeframe, buckets)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rangeResponse{
		Symbol:    symbol,
		Timeframe: timeframe,
		Buckets:   buckets,
		Min:       min,
		Max:       max,
		Count:     count,
	})
}

type subscribeRequest struct {
	Symbol     string   `json:"symbol"`
	Timeframes []string `json:"timeframes"`
}

// handleSymbols 列出或新增跟踪品种。
func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.notifier.Symbols())
	case http.MethodPost:
		s.handleSubscribe(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubscribe 开始跟踪新品种：先在行情服务器上订阅，再挂跟踪器。
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if err := market.ValidateSymbol(req.Symbol); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Timeframes) == 0 {
		http.Error(w, "至少需要一个周期", http.StatusBadRequest)
		return
	}
	for _, timeframe := range req.Timeframes {
		if err := market.ValidateTimeframe(timeframe); err != nil {
			s.writeError(w, err)
			return
		}
	}

	_, tracked := s.notifier.Symbols()[req.Symbol]
	if err := s.notifier.AddSymbol(req.Symbol, req.Timeframes); err != nil {
		s.writeError(w, err)
		return
	}
	if s.feed != nil {
		if err := s.subscribeFeed(req.Symbol, req.Timeframes); err != nil {
			// 只回滚本次请求新建的跟踪器，已有品种的聚合历史不能动。
			if !tracked {
				s.notifier.RemoveSymbol(req.Symbol)
			}
			s.writeError(w, err)
			return
		}
	}

	s.log.Info("通过 API 新增跟踪品种", "symbol", req.Symbol, "timeframes", req.Timeframes)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"symbol":     req.Symbol,
		"timeframes": req.Timeframes,
	})
}

func (s *Server) subscribeFeed(symbol string, timeframes []string) error {
	if err := s.feed.Subscribe(symbol); err != nil {
		return err
	}
	if err := s.feed.TrackTicks(symbol); err != nil {
		return err
	}
	return s.feed.TrackBars(symbol, timeframes)
}

// handleSymbol 处理 /api/v1/symbols/{symbol} 上的删除请求。
func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "仅支持 DELETE", http.StatusMethodNotAllowed)
		return
	}

	symbol := strings.TrimPrefix(r.URL.Path, "/api/v1/symbols/")
	if symbol == "" || strings.Contains(symbol, "/") {
		http.Error(w, "品种路径无效", http.StatusBadRequest)
		return
	}

	if !s.notifier.RemoveSymbol(symbol) {
		http.Error(w, "品种未在跟踪中", http.StatusNotFound)
		return
	}
	if s.feed != nil {
		if err := s.feed.Unsubscribe(symbol); err != nil {
			s.log.Error("退订品种失败", "symbol", symbol, "error", err)
		}
	}

	s.log.Info("通过 API 停止跟踪品种", "symbol", symbol)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 按错误码映射 HTTP 状态。
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, window.ErrEmptyWindow) {
		status = http.StatusNotFound
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidArgument, market.CodeMarketValidation, notify.CodeNotifyConfig:
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
