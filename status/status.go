package status

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fibonacci-trader/config"
	"fibonacci-trader/interfaces"
	"fibonacci-trader/logging"
	"fibonacci-trader/models"
	"fibonacci-trader/strategy"
)

type statusResponse struct {
	Time       time.Time                 `json:"time"`
	Broker     string                    `json:"broker"`
	Strategies []models.StrategySnapshot `json:"strategies"`
}

type startRequest struct {
	Timeframe string  `json:"timeframe"`
	Lot       float64 `json:"lot"`
}

type controlResponse struct {
	Symbol string `json:"symbol"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// NewHandler builds the status mux. hub is mounted on /ws when non-nil.
func NewHandler(cfg *config.Config, ctrl interfaces.StrategyController, hub http.Handler, logger logging.LoggerInterface) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Time:       time.Now(),
			Broker:     cfg.Broker,
			Strategies: ctrl.Snapshots(),
		})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok\n")
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /strategies/{symbol}/start", func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.ToUpper(r.PathValue("symbol"))
		req := startRequest{Timeframe: cfg.Timeframe, Lot: cfg.LotBase}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				writeJSON(w, http.StatusBadRequest, controlResponse{Symbol: symbol, Action: "start", Error: err.Error()})
				return
			}
			if req.Timeframe == "" {
				req.Timeframe = cfg.Timeframe
			}
			if req.Lot == 0 {
				req.Lot = cfg.LotBase
			}
		}

		if err := ctrl.Start(symbol, req.Timeframe, req.Lot); err != nil {
			logger.Warning("Start %s via status server failed: %v", symbol, err)
			writeJSON(w, controlStatus(err), controlResponse{Symbol: symbol, Action: "start", Error: err.Error()})
			return
		}
		logger.Info("Strategy %s %s started via status server", symbol, req.Timeframe)
		writeJSON(w, http.StatusOK, controlResponse{Symbol: symbol, Action: "start"})
	})

	mux.HandleFunc("POST /strategies/{symbol}/stop", func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.ToUpper(r.PathValue("symbol"))
		if err := ctrl.Stop(symbol); err != nil {
			writeJSON(w, controlStatus(err), controlResponse{Symbol: symbol, Action: "stop", Error: err.Error()})
			return
		}
		logger.Info("Strategy %s stopped via status server", symbol)
		writeJSON(w, http.StatusOK, controlResponse{Symbol: symbol, Action: "stop"})
	})

	if hub != nil {
		mux.Handle("GET /ws", hub)
	}
	return mux
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, strategy.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, strategy.ErrNotRunning):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrInvalidSymbol), errors.Is(err, strategy.ErrInvalidTimeframe):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// StartServer starts a local HTTP status server for diagnostics and control.
func StartServer(cfg *config.Config, ctrl interfaces.StrategyController, hub http.Handler, logger logging.LoggerInterface) *http.Server {
	addr := strings.TrimSpace(cfg.StatusAddr)
	if addr == "" || strings.EqualFold(addr, "off") || strings.EqualFold(addr, "disabled") {
		logger.Info("Status server disabled")
		return nil
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg, ctrl, hub, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Status server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server error: %v", err)
		}
	}()

	return server
}
