package selfie

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/internal/clock"
	"github.com/pictora/pictora/internal/metrics"
)

// Timing bounds for the loop. Intervals below the minimum are clamped
// so a config typo cannot hammer a provider.
const (
	DefaultStartDelay = 30 * time.Second
	MinInterval       = 10 * time.Minute
	maxBackoff        = 2 * time.Hour
)

// Cycle outcomes as recorded in metrics.
const (
	outcomePublished = "published"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// Config tunes the selfie loop.
type Config struct {
	// Model is the registry id used for scheduled generations.
	Model string `yaml:"model" env:"MODEL"`

	// Interval is the base spacing between cycles.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`

	// StartDelay postpones the first cycle after Start.
	StartDelay time.Duration `yaml:"start_delay" env:"START_DELAY"`

	// QuietStart and QuietEnd bound the daily window, "HH:MM", during
	// which no cycle runs. The window may wrap midnight.
	QuietStart string `yaml:"quiet_start" env:"QUIET_START"`
	QuietEnd   string `yaml:"quiet_end" env:"QUIET_END"`

	// BasePrompt is the persona appearance fragment fed to the composer.
	BasePrompt string `yaml:"base_prompt" env:"BASE_PROMPT"`

	NegativePrompt string `yaml:"negative_prompt" env:"NEGATIVE_PROMPT"`

	// ReferenceImage is an optional file whose content seeds img2img
	// generations. Models without img2img support fall back to
	// text-to-image automatically.
	ReferenceImage string  `yaml:"reference_image" env:"REFERENCE_IMAGE"`
	Strength       float64 `yaml:"strength" env:"STRENGTH"`
}

// Task is the background scheduler. All of its state is touched only by
// the loop goroutine; Start and Stop are safe to call from elsewhere.
type Task struct {
	cfg       Config
	engine    *imagegen.Engine
	schedule  ScheduleProvider
	composer  *Composer
	captions  CaptionGenerator
	publisher Publisher
	metrics   *metrics.Collector
	clock     clock.Clock
	logger    *zap.Logger

	quiet *quietWindow
	boff  *backoff.ExponentialBackOff

	failures  int
	nextDelay time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewTask wires a Task. The collector may be nil, the clock defaults to
// wall time.
func NewTask(cfg Config, engine *imagegen.Engine, schedule ScheduleProvider,
	composer *Composer, captions CaptionGenerator, publisher Publisher,
	collector *metrics.Collector, clk clock.Clock, logger *zap.Logger) (*Task, error) {

	if engine == nil || schedule == nil || composer == nil || captions == nil || publisher == nil {
		return nil, fmt.Errorf("selfie task is missing a collaborator")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("selfie task needs a model id")
	}
	if cfg.Interval < MinInterval {
		cfg.Interval = MinInterval
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = DefaultStartDelay
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	quiet, err := newQuietWindow(cfg.QuietStart, cfg.QuietEnd)
	if err != nil {
		return nil, err
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = cfg.Interval / 2
	boff.MaxInterval = maxBackoff

	return &Task{
		cfg:       cfg,
		engine:    engine,
		schedule:  schedule,
		composer:  composer,
		captions:  captions,
		publisher: publisher,
		metrics:   collector,
		clock:     clk,
		logger:    logger.With(zap.String("component", "selfie_task")),
		quiet:     quiet,
		boff:      boff,
		nextDelay: cfg.Interval,
		done:      make(chan struct{}),
	}, nil
}

// Start launches the loop. The first cycle runs after the start delay.
func (t *Task) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	go t.run(ctx)
}

// Stop signals the loop and waits for any in-flight cycle to finish.
func (t *Task) Stop() {
	t.once.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		<-t.done
	})
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)

	timer := time.NewTimer(t.cfg.StartDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		outcome := t.cycle(ctx)
		t.metrics.RecordSchedulerCycle(outcome)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(t.nextDelay)
	}
}

// cycle runs one pass of the state machine and recomputes the delay to
// the next one. Every failure is absorbed here.
func (t *Task) cycle(ctx context.Context) string {
	if t.quiet.contains(t.clock.Now()) {
		t.logger.Debug("inside quiet window, cycle skipped")
		t.nextDelay = t.cfg.Interval
		return outcomeSkipped
	}

	activity, err := t.schedule.CurrentActivity(ctx)
	if err != nil {
		t.logger.Warn("schedule lookup failed, cycle skipped", zap.Error(err))
		t.nextDelay = t.cfg.Interval
		return outcomeSkipped
	}
	if activity == nil {
		t.logger.Debug("no current activity, cycle skipped")
		t.nextDelay = t.cfg.Interval
		return outcomeSkipped
	}

	scene := t.composer.Compose(*activity)

	params := imagegen.Params{
		Prompt:         scene.Prompt,
		NegativePrompt: t.cfg.NegativePrompt,
		Strength:       t.cfg.Strength,
	}
	if ref, err := t.loadReference(); err != nil {
		t.logger.Warn("reference image unavailable, generating text-to-image", zap.Error(err))
	} else {
		params.InputImage = ref
	}

	result, err := t.engine.GenerateUncached(ctx, t.cfg.Model, params)
	if err != nil {
		return t.fail("generation failed", err)
	}
	if result.Img2ImgDowngraded {
		t.logger.Debug("model lacks img2img, reference image dropped")
	}

	caption, err := t.captions.Caption(ctx, scene)
	if err != nil {
		// the generated image is discarded, never queued
		return t.fail("caption generation failed, image discarded", err)
	}
	caption = CleanCaption(caption)

	if err := t.publisher.Publish(ctx, result, caption); err != nil {
		return t.fail("publish failed", err)
	}

	t.failures = 0
	t.boff.Reset()
	t.nextDelay = t.cfg.Interval
	t.logger.Info("cycle published",
		zap.String("activity", string(activity.Type)),
		zap.String("model", t.cfg.Model))
	return outcomePublished
}

func (t *Task) fail(msg string, err error) string {
	t.failures++
	t.nextDelay = t.cfg.Interval + t.boff.NextBackOff()
	t.logger.Warn(msg,
		zap.Error(err),
		zap.Int("consecutive_failures", t.failures),
		zap.Duration("next_delay", t.nextDelay))
	return outcomeFailed
}

func (t *Task) loadReference() (string, error) {
	if t.cfg.ReferenceImage == "" {
		return "", nil
	}
	data, err := os.ReadFile(t.cfg.ReferenceImage)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// quietWindow is a daily [start, end) time range that may wrap midnight.
// A nil window contains nothing.
type quietWindow struct {
	start int // minutes since midnight
	end   int
}

func newQuietWindow(start, end string) (*quietWindow, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	s, err := parseHHMM(start)
	if err != nil {
		return nil, fmt.Errorf("quiet_start: %w", err)
	}
	e, err := parseHHMM(end)
	if err != nil {
		return nil, fmt.Errorf("quiet_end: %w", err)
	}
	return &quietWindow{start: s, end: e}, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (w *quietWindow) contains(now time.Time) bool {
	if w == nil || w.start == w.end {
		return false
	}
	m := now.Hour()*60 + now.Minute()
	if w.start < w.end {
		return m >= w.start && m < w.end
	}
	// wraps midnight
	return m >= w.start || m < w.end
}
