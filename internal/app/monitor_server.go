package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"countryball/internal/monitor"
	"countryball/internal/trade"
)

func newMonitorHandler(svc *monitor.Service, engine *trade.Engine, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Warn("写入监控响应失败", zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := monitor.EventFilter{
			Limit:     parseLimit(q.Get("limit"), 200),
			SessionID: strings.TrimSpace(q.Get("session")),
		}
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			filter.Type = monitor.EventType(strings.ToLower(typ))
		}

		events, err := svc.ListEvents(r.Context(), filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	})

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, engine.Live())
	})

	// 执行失败的会话停留在 executing 并持有锁，只能由运维在此释放
	mux.HandleFunc("/sessions/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			http.Error(w, "id 参数不能为空", http.StatusBadRequest)
			return
		}

		snap, err := engine.Resolve(r.Context(), id)
		switch {
		case errors.Is(err, trade.ErrNoSession):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, trade.ErrSessionClosed):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case err != nil:
			logger.Error("人工处理会话时释放锁失败", zap.String("session_id", id), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		logger.Info("会话已人工处理", zap.String("session_id", id), zap.String("state", string(snap.State)))
		writeJSON(w, snap)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		playerID, err := strconv.ParseInt(q.Get("player"), 10, 64)
		if err != nil || playerID <= 0 {
			http.Error(w, "player 参数无效", http.StatusBadRequest)
			return
		}
		records, err := engine.History(r.Context(), playerID, parseLimit(q.Get("limit"), 20))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, monitor.HistoryPayload{PlayerID: playerID, Trades: records})
	})

	return mux
}

func runMonitorServer(ctx context.Context, svc *monitor.Service, engine *trade.Engine, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMonitorHandler(svc, engine, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("监控服务异常: %w", err)
	}
	return nil
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	if v > 1000 {
		v = 1000
	}
	return v
}
