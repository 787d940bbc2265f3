package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tidespike/internal/alerts"
	"tidespike/internal/config"
	"tidespike/internal/detector"
	"tidespike/internal/engine"
	"tidespike/internal/ingest"
	"tidespike/internal/metrics"
	"tidespike/internal/model"
	"tidespike/internal/normalize"
	"tidespike/internal/storage"
)

const maxBody = 32 << 20

type Server struct {
	cfg       *config.Manager
	engine    *engine.Engine
	runs      *metrics.Store
	alerts    *alerts.Store
	collector *metrics.Collector
	store     storage.Store
	source    storage.Store
	logger    *slog.Logger
	version   string
}

// Deps wires the server to the components it reports on. Store and Source
// may be nil when persistence or the database source are disabled.
type Deps struct {
	Engine    *engine.Engine
	Runs      *metrics.Store
	Alerts    *alerts.Store
	Collector *metrics.Collector
	Store     storage.Store
	Source    storage.Store
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	Uptime     string          `json:"uptime"`
	Detection  detectionStatus `json:"detection"`
	Input      inputStatus     `json:"input"`
	Storage    bool            `json:"storage"`
	Kafka      bool            `json:"kafka"`
	Stations   int             `json:"stations"`
	Spikes     int             `json:"spikes_buffered"`
}

type detectionStatus struct {
	Window        string  `json:"window"`
	NBins         int     `json:"nbins"`
	PLow          float64 `json:"p_low"`
	PHigh         float64 `json:"p_high"`
	Buffer        float64 `json:"buffer"`
	MinEntries    int     `json:"min_entries"`
	ExcludeSpikes bool    `json:"exclude_spikes"`
	Workers       int     `json:"workers"`
}

type inputStatus struct {
	Source   string `json:"source"`
	Timezone string `json:"timezone"`
	Dedupe   bool   `json:"dedupe"`
}

func NewServer(cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:       cfg,
		engine:    deps.Engine,
		runs:      deps.Runs,
		alerts:    deps.Alerts,
		collector: deps.Collector,
		store:     deps.Store,
		source:    deps.Source,
		logger:    logger,
		version:   version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/detect", s.handleDetect)
	mux.HandleFunc("/classify", s.handleClassify)
	mux.HandleFunc("/spikes", s.handleSpikes)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/runs/", s.handleRuns)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/reload", s.handleReload)
	if s.collector != nil {
		mux.Handle("/metrics", s.collector.Handler())
	}
	return mux
}

// Start binds addr and serves the API until ctx is done. It returns the bound
// address, so ":0" can be used to pick a free port.
func Start(ctx context.Context, addr string, cfg *config.Manager, deps Deps, logger *slog.Logger, version string) (net.Addr, error) {
	if cfg == nil {
		return nil, errors.New("api: nil config manager")
	}
	if addr == "" {
		return nil, errors.New("api: empty listen address")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("api listening", "addr", ln.Addr().String())
	}
	server := NewServer(cfg, deps, logger, version)
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return ln.Addr(), nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	lo, hi := cfg.Detection.Limits()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Detection: detectionStatus{
			Window:        cfg.Detection.Window.String(),
			NBins:         cfg.Detection.NBins,
			PLow:          lo,
			PHigh:         hi,
			Buffer:        cfg.Detection.Buffer,
			MinEntries:    cfg.Detection.MinEntries,
			ExcludeSpikes: cfg.Detection.ExcludeSpikes,
			Workers:       cfg.Detection.Workers,
		},
		Input: inputStatus{
			Source:   cfg.Input.Source,
			Timezone: cfg.Input.Timezone,
			Dedupe:   cfg.Input.Dedupe,
		},
		Storage: s.store != nil,
		Kafka:   cfg.Kafka.Enabled,
	}
	if s.engine != nil {
		resp.Uptime = time.Since(s.engine.Started()).Round(time.Second).String()
	}
	if s.runs != nil {
		resp.Stations = len(s.runs.Stations())
	}
	if s.alerts != nil {
		resp.Spikes = s.alerts.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDetect accepts a JSON or CSV body of observations, or with
// source=database reads the station's series from the source database.
// strict=true keeps the body order and answers an out-of-order series with 422.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("engine not configured"))
		return
	}
	cfg := s.cfg.Get()
	input := cfg.Input
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("station")); v != "" {
		input.Station = v
	}
	if q.Get("strict") == "true" {
		input.StrictOrder = true
	}

	var batch *ingest.Batch
	var err error
	if q.Get("source") == "database" {
		batch, err = s.loadFromSource(r.Context(), input, q.Get("begin"), q.Get("end"))
	} else {
		body := http.MaxBytesReader(w, r.Body, maxBody)
		if strings.Contains(r.Header.Get("Content-Type"), "csv") {
			batch, err = ingest.LoadCSV(body, input, s.logger)
		} else {
			batch, err = ingest.LoadJSON(body, input, s.logger)
		}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if batch.Station == "" {
		writeError(w, http.StatusBadRequest, errors.New("station required"))
		return
	}

	res, err := s.engine.Process(r.Context(), batch.Station, batch.Observations)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, detector.ErrUnsorted) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	payload := map[string]any{
		"run":     res.Run,
		"spikes":  res.Spikes,
		"dropped": batch.Dropped,
	}
	if res.Duplicates > 0 {
		payload["duplicates"] = res.Duplicates
	}
	if q.Get("summary") != "true" {
		payload["classifications"] = res.Classifications
	}
	if res.SinkErr != nil {
		payload["sink_error"] = res.SinkErr.Error()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) loadFromSource(ctx context.Context, input config.InputConfig, begin, end string) (*ingest.Batch, error) {
	if s.source == nil {
		return nil, errors.New("database source not configured")
	}
	if input.Station == "" {
		return nil, errors.New("station required")
	}
	loc, err := time.LoadLocation(input.Timezone)
	if err != nil {
		loc = time.UTC
	}
	query := storage.Query{Station: input.Station, NullValue: input.NullValue}
	if begin != "" {
		if query.Begin, err = normalize.ParseTimestamp(begin, loc); err != nil {
			return nil, err
		}
	}
	if end != "" {
		if query.End, err = normalize.ParseTimestamp(end, loc); err != nil {
			return nil, err
		}
	}
	obs, err := s.source.LoadObservations(ctx, query)
	if err != nil {
		return nil, err
	}
	return &ingest.Batch{Station: input.Station, Observations: obs}, nil
}

type classifyRequest struct {
	Window []float64 `json:"window"`
	Value  float64   `json:"value"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req classifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	det, err := detector.New(s.cfg.Get().Detection, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, det.Classify(req.Window, req.Value))
}

func (s *Server) handleSpikes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.alerts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"spikes": []model.Spike{}, "count": 0})
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	station := q.Get("station")
	var list []model.Spike
	if sinceStr := q.Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = make([]model.Spike, 0)
		for _, sp := range s.alerts.Since(ts) {
			if station == "" || sp.Station == station {
				list = append(list, sp)
			}
		}
	} else {
		list = s.alerts.List(station, limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"spikes": list,
		"count":  len(list),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	station := strings.TrimPrefix(r.URL.Path, "/runs")
	station = strings.TrimPrefix(station, "/")
	if r.URL.Query().Get("history") == "true" {
		if s.store == nil {
			writeError(w, http.StatusNotFound, errors.New("storage disabled"))
			return
		}
		list, err := s.store.ListRuns(r.Context(), station, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": list, "count": len(list)})
		return
	}
	if s.runs == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if station != "" {
		run, updated, ok := s.runs.Get(station)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"station":    station,
			"updated_at": updated.Format(time.RFC3339Nano),
			"run":        run,
		})
		return
	}
	list := s.runs.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":     list,
		"count":    len(list),
		"stations": s.runs.Stations(),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.engine != nil {
			s.engine.Reset()
		}
		if s.runs != nil {
			s.runs.Clear()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "spikes", "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "runs":
		if s.runs != nil {
			s.runs.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Path() == "" {
		writeError(w, http.StatusConflict, errors.New("no config file to reload"))
		return
	}
	cfg, err := s.cfg.Reload()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.engine != nil {
		if err := s.engine.UpdateConfig(cfg); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if s.logger != nil {
		s.logger.Info("config reloaded", "path", s.cfg.Path())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
