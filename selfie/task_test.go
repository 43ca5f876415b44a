package selfie

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/internal/clock"
)

type stubClient struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (s *stubClient) Format() string { return "stub" }

func (s *stubClient) Generate(_ context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("provider down")
	}
	return &imagegen.Result{
		ImageBase64: "iVBORw_selfie",
		MIMEType:    "image/png",
		Mode:        req.Mode,
		Provider:    "stub",
	}, nil
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSchedule struct {
	activity *Activity
	err      error
	calls    int
}

func (s *stubSchedule) CurrentActivity(context.Context) (*Activity, error) {
	s.calls++
	return s.activity, s.err
}

type stubPublisher struct {
	calls    int
	captions []string
	err      error
}

func (p *stubPublisher) Publish(_ context.Context, _ *imagegen.Result, caption string) error {
	if p.err != nil {
		return p.err
	}
	p.calls++
	p.captions = append(p.captions, caption)
	return nil
}

type stubCaptions struct {
	text string
	err  error
}

func (c stubCaptions) Caption(context.Context, Scene) (string, error) {
	return c.text, c.err
}

func newTestEngine(t *testing.T, client *stubClient) *imagegen.Engine {
	t.Helper()
	reg := imagegen.NewRegistry()
	reg.RegisterClient(client)
	require.NoError(t, reg.RegisterModel("m1", imagegen.ModelConfig{
		Format:      "stub",
		BaseURL:     "http://stub.local",
		DefaultSize: "512x512",
	}))
	retry := imagegen.DefaultRetryConfig()
	retry.MaxRetries = 0
	cache := imagegen.NewResultCache(4, true, nil)
	return imagegen.NewEngine(reg, imagegen.NewNormalizer(nil, nil), cache, retry, nil, zap.NewNop())
}

func newTestTask(t *testing.T, cfg Config, client *stubClient,
	schedule *stubSchedule, pub *stubPublisher, captions CaptionGenerator, clk clock.Clock) *Task {
	t.Helper()
	if cfg.Model == "" {
		cfg.Model = "m1"
	}
	task, err := NewTask(cfg, newTestEngine(t, client), schedule,
		NewComposer("1girl, silver hair", rand.New(rand.NewSource(7))),
		captions, pub, nil, clk, zap.NewNop())
	require.NoError(t, err)
	return task
}

func workActivity() *Activity {
	return &Activity{Type: ActivityWork, Title: "quarterly report", Location: "the office"}
}

func TestCycle_PublishesOnSuccess(t *testing.T) {
	client := &stubClient{}
	pub := &stubPublisher{}
	task := newTestTask(t, Config{}, client, &stubSchedule{activity: workActivity()},
		pub, stubCaptions{text: "hard at work!"}, nil)

	outcome := task.cycle(context.Background())

	assert.Equal(t, outcomePublished, outcome)
	assert.Equal(t, 1, client.callCount())
	assert.Equal(t, []string{"hard at work!"}, pub.captions)
	assert.Equal(t, task.cfg.Interval, task.nextDelay)
	assert.Zero(t, task.failures)
}

func TestCycle_NoActivitySkipsSilently(t *testing.T) {
	client := &stubClient{}
	pub := &stubPublisher{}
	task := newTestTask(t, Config{}, client, &stubSchedule{activity: nil},
		pub, stubCaptions{text: "x"}, nil)

	outcome := task.cycle(context.Background())

	assert.Equal(t, outcomeSkipped, outcome)
	assert.Zero(t, client.callCount(), "no provider call on an empty schedule")
	assert.Zero(t, pub.calls, "no publish call on an empty schedule")
}

func TestCycle_QuietWindowSkips(t *testing.T) {
	clk := &clock.Fixed{Time: time.Date(2026, 8, 1, 2, 30, 0, 0, time.UTC)}
	client := &stubClient{}
	schedule := &stubSchedule{activity: workActivity()}
	task := newTestTask(t, Config{QuietStart: "23:00", QuietEnd: "07:00"},
		client, schedule, &stubPublisher{}, stubCaptions{text: "x"}, clk)

	outcome := task.cycle(context.Background())

	assert.Equal(t, outcomeSkipped, outcome)
	assert.Zero(t, schedule.calls, "quiet window short-circuits before the schedule lookup")
	assert.Zero(t, client.callCount())

	// same wall time outside the window runs normally
	clk.Time = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, outcomePublished, task.cycle(context.Background()))
}

func TestCycle_BackoffGrowsThenResets(t *testing.T) {
	client := &stubClient{failures: 3}
	task := newTestTask(t, Config{}, client, &stubSchedule{activity: workActivity()},
		&stubPublisher{}, stubCaptions{text: "x"}, nil)
	task.boff.RandomizationFactor = 0

	base := task.cfg.Interval
	var delays []time.Duration
	for i := 0; i < 3; i++ {
		assert.Equal(t, outcomeFailed, task.cycle(context.Background()))
		delays = append(delays, task.nextDelay)
	}
	assert.Equal(t, 3, task.failures)
	for _, d := range delays {
		assert.Greater(t, d, base, "every backed-off delay exceeds the base interval")
	}
	assert.Greater(t, delays[2], delays[0], "delay grows across consecutive failures")

	assert.Equal(t, outcomePublished, task.cycle(context.Background()))
	assert.Zero(t, task.failures)
	assert.Equal(t, base, task.nextDelay, "success resets the delay to the base interval")
}

func TestCycle_CaptionFailureDiscardsImage(t *testing.T) {
	client := &stubClient{}
	pub := &stubPublisher{}
	task := newTestTask(t, Config{}, client, &stubSchedule{activity: workActivity()},
		pub, stubCaptions{err: errors.New("llm offline")}, nil)

	outcome := task.cycle(context.Background())

	assert.Equal(t, outcomeFailed, outcome)
	assert.Equal(t, 1, client.callCount(), "image was generated before the caption failed")
	assert.Zero(t, pub.calls, "nothing is published or queued")
	assert.Equal(t, 1, task.failures)
}

func TestCycle_BypassesCache(t *testing.T) {
	client := &stubClient{}
	schedule := &stubSchedule{activity: workActivity()}
	task := newTestTask(t, Config{}, client, schedule, &stubPublisher{},
		stubCaptions{text: "x"}, nil)
	// pin the composer so both cycles produce an identical prompt
	task.composer = NewComposer("1girl, silver hair", nil)
	task.composer.rng = rand.New(rand.NewSource(1))
	first := task.cycle(context.Background())
	task.composer.rng = rand.New(rand.NewSource(1))
	second := task.cycle(context.Background())

	assert.Equal(t, outcomePublished, first)
	assert.Equal(t, outcomePublished, second)
	assert.Equal(t, 2, client.callCount(), "identical scheduled runs never share a cached result")
}

func TestStartStop_CooperativeCancel(t *testing.T) {
	client := &stubClient{}
	task := newTestTask(t, Config{StartDelay: time.Hour}, client,
		&stubSchedule{activity: workActivity()}, &stubPublisher{}, stubCaptions{text: "x"}, nil)

	task.Start(context.Background())
	task.Stop()

	assert.Zero(t, client.callCount(), "stop before the start delay runs no cycle")
}

func TestNewTask_ClampsInterval(t *testing.T) {
	task := newTestTask(t, Config{Interval: time.Second}, &stubClient{},
		&stubSchedule{}, &stubPublisher{}, stubCaptions{text: "x"}, nil)
	assert.Equal(t, MinInterval, task.cfg.Interval)
}

func TestNewTask_RejectsBadQuietWindow(t *testing.T) {
	_, err := NewTask(Config{Model: "m1", QuietStart: "25:99", QuietEnd: "07:00"},
		newTestEngine(t, &stubClient{}), &stubSchedule{},
		NewComposer("", nil), stubCaptions{}, &stubPublisher{}, nil, nil, nil)
	require.Error(t, err)
}

func TestQuietWindow_WrapsMidnight(t *testing.T) {
	w, err := newQuietWindow("23:00", "07:00")
	require.NoError(t, err)

	at := func(h, m int) time.Time {
		return time.Date(2026, 8, 1, h, m, 0, 0, time.UTC)
	}
	assert.True(t, w.contains(at(23, 30)))
	assert.True(t, w.contains(at(3, 0)))
	assert.False(t, w.contains(at(7, 0)), "end bound is exclusive")
	assert.False(t, w.contains(at(12, 0)))

	var none *quietWindow
	assert.False(t, none.contains(at(3, 0)), "no configured window never suppresses")
}
