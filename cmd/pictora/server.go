package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pictora/pictora/config"
	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers/factory"
	"github.com/pictora/pictora/internal/metrics"
	"github.com/pictora/pictora/selfie"
	"github.com/pictora/pictora/state"
	"github.com/pictora/pictora/types"
)

// Server wires every component and owns the HTTP surface: generation,
// runtime override commands, health, and metrics.
type Server struct {
	cfg      *config.Config
	reloader *config.Reloader
	logger   *zap.Logger

	engine *imagegen.Engine
	states *state.Manager
	task   *selfie.Task

	httpServer *http.Server
	cancel     context.CancelFunc
}

// NewServer builds the full component graph from configuration.
func NewServer(cfg *config.Config, reloader *config.Reloader, logger *zap.Logger) (*Server, error) {
	registry, err := factory.BuildRegistry(cfg.Models, cfg.Proxy, cfg.Generation.Timeout, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Generation.DefaultModel != "" {
		if err := registry.SetDefault(cfg.Generation.DefaultModel); err != nil {
			logger.Warn("default model not registered", zap.Error(err))
		}
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector("pictora", prometheus.DefaultRegisterer, logger)
	}

	styles := imagegen.NewStyleBook(cfg.Styles, cfg.StyleAliases)
	normalizer := imagegen.NewNormalizer(styles, logger)
	cache := imagegen.NewResultCache(cfg.Cache.MaxSize, cfg.Cache.Enabled, logger)
	engine := imagegen.NewEngine(registry, normalizer, cache, cfg.Generation.RetryConfig(), collector, logger)

	states := state.NewManager(cfg.State.TTL, nil, logger)

	s := &Server{
		cfg:      cfg,
		reloader: reloader,
		logger:   logger.With(zap.String("component", "server")),
		engine:   engine,
		states:   states,
	}

	if cfg.Selfie.Enabled {
		task, err := buildSelfieTask(cfg, engine, collector, logger)
		if err != nil {
			return nil, err
		}
		s.task = task
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/generate", s.handleGenerate)
	mux.HandleFunc("/state/", s.handleState)
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Metrics.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s, nil
}

func buildSelfieTask(cfg *config.Config, engine *imagegen.Engine,
	collector *metrics.Collector, logger *zap.Logger) (*selfie.Task, error) {

	schedule, err := selfie.NewPlannerProvider(cfg.Selfie.PlannerDB, nil, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := selfie.NewFilePublisher(cfg.Selfie.PublishDir, logger)
	if err != nil {
		return nil, err
	}
	composer := selfie.NewComposer(cfg.Selfie.Task.BasePrompt, nil)
	return selfie.NewTask(cfg.Selfie.Task, engine, schedule, composer,
		selfie.TemplateCaptionGenerator{}, publisher, collector, nil, logger)
}

// Start launches the background pieces and the HTTP listener.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.states.StartSweeper(ctx, s.cfg.State.SweepInterval)
	if s.task != nil {
		s.task.Start(ctx)
		s.logger.Info("selfie loop started", zap.String("model", s.cfg.Selfie.Task.Model))
	}

	go func() {
		s.logger.Info("http listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	return nil
}

// WaitForShutdown blocks until a termination signal, reloading the
// configuration on SIGHUP.
func (s *Server) WaitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for received := range sig {
		if received == syscall.SIGHUP {
			s.logger.Info("reloading configuration")
			if err := s.reloader.Reload(); err != nil {
				s.logger.Warn("reload failed", zap.Error(err))
			}
			continue
		}
		break
	}

	s.logger.Info("shutting down")
	if s.task != nil {
		s.task.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": Version})
}

type generateRequest struct {
	Scope          string  `json:"scope"`
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Size           string  `json:"size"`
	Style          string  `json:"style"`
	InputImage     string  `json:"input_image"`
	Strength       float64 `json:"strength"`
}

type generateResponse struct {
	ImageBase64       string `json:"image_base64,omitempty"`
	ImageURL          string `json:"image_url,omitempty"`
	MIMEType          string `json:"mime_type"`
	Mode              string `json:"mode"`
	Provider          string `json:"provider"`
	Img2ImgDowngraded bool   `json:"img2img_downgraded,omitempty"`
	RecallDelaySec    int    `json:"recall_delay_sec,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if !s.states.PluginEnabled(req.Scope, s.cfg.Plugin.Enabled) {
		http.Error(w, "generation is disabled for this scope", http.StatusForbidden)
		return
	}

	modelID := req.Model
	if modelID == "" {
		modelID = s.states.ActiveModel(req.Scope, s.cfg.Generation.DefaultModel)
	}
	if modelID == "" {
		http.Error(w, "no model selected and no default configured", http.StatusBadRequest)
		return
	}
	if !s.states.ModelEnabled(req.Scope, modelID) {
		http.Error(w, "model is disabled for this scope", http.StatusForbidden)
		return
	}

	result, err := s.engine.Generate(r.Context(), modelID, imagegen.Params{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Size:           req.Size,
		Style:          req.Style,
		InputImage:     req.InputImage,
		Strength:       req.Strength,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := generateResponse{
		ImageBase64:       result.ImageBase64,
		ImageURL:          result.ImageURL,
		MIMEType:          result.MIMEType,
		Mode:              string(result.Mode),
		Provider:          result.Provider,
		Img2ImgDowngraded: result.Img2ImgDowngraded,
	}
	if result.RecallDelay > 0 && s.states.RecallEnabled(req.Scope, modelID) {
		resp.RecallDelaySec = int(result.RecallDelay.Seconds())
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type stateRequest struct {
	Scope         string  `json:"scope"`
	PluginEnabled *bool   `json:"plugin_enabled,omitempty"`
	ActiveModel   *string `json:"active_model,omitempty"`
	Model         string  `json:"model,omitempty"`
	ModelEnabled  *bool   `json:"model_enabled,omitempty"`
	RecallEnabled *bool   `json:"recall_enabled,omitempty"`
	Reset         bool    `json:"reset,omitempty"`
}

// handleState exposes the scope-keyed override commands.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scope == "" {
		http.Error(w, "invalid state request", http.StatusBadRequest)
		return
	}

	switch {
	case req.Reset:
		s.states.Reset(req.Scope)
	case req.PluginEnabled != nil:
		s.states.SetPluginEnabled(req.Scope, *req.PluginEnabled)
	case req.ActiveModel != nil:
		s.states.SetActiveModel(req.Scope, *req.ActiveModel)
	case req.Model != "" && req.ModelEnabled != nil:
		s.states.SetModelEnabled(req.Scope, req.Model, *req.ModelEnabled)
	case req.Model != "" && req.RecallEnabled != nil:
		s.states.SetRecallEnabled(req.Scope, req.Model, *req.RecallEnabled)
	default:
		http.Error(w, "no recognized state command", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"scope":          req.Scope,
		"plugin_enabled": s.states.PluginEnabled(req.Scope, s.cfg.Plugin.Enabled),
		"active_model":   s.states.ActiveModel(req.Scope, s.cfg.Generation.DefaultModel),
	})
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch types.GetErrorCode(err) {
	case types.ErrValidation, types.ErrUnsupportedMode:
		status = http.StatusBadRequest
	case types.ErrConfig:
		status = http.StatusInternalServerError
	case types.ErrTimeout:
		status = http.StatusGatewayTimeout
	case types.ErrNoImageFound:
		status = http.StatusBadGateway
	}

	s.logger.Warn("generation failed", zap.Error(err), zap.Int("status", status))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(types.GetErrorCode(err)),
	})
}
