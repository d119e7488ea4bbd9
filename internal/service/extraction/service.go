// Package extraction turns free text into structured records by prompting a hosted
// language model and strictly decoding the JSON array it returns.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"studyhub/internal/config"
	"studyhub/internal/metrics"
	"studyhub/internal/models"
	"studyhub/internal/worker"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Kind names an extraction flavour; it doubles as the metrics label.
type Kind string

const (
	KindEvents     Kind = "events"
	KindMilestones Kind = "milestones"
)

type kindSettings struct {
	system      string
	temperature float32
	maxTokens   int
}

var settings = map[Kind]kindSettings{
	KindEvents:     {system: eventsSystemPrompt, temperature: 0.2, maxTokens: 1024},
	KindMilestones: {system: milestonesSystemPrompt, temperature: 0.3, maxTokens: 1500},
}

// StudyPlanInput is what the planner needs to lay out study sessions.
type StudyPlanInput struct {
	Title    string
	DueDate  string
	Schedule []models.BusyBlock
}

type Options struct {
	// Timeout bounds each model call; the call is detached from the caller's cancellation.
	Timeout time.Duration
	// Dispatcher runs model calls; nil runs them inline on the caller goroutine.
	Dispatcher    *worker.Dispatcher
	RatePerMinute int
	Burst         int
	Logger        *zap.Logger
	Now           func() time.Time
}

type Service struct {
	model      ChatModel
	dispatcher *worker.Dispatcher
	limiter    *userLimiter
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewService wraps m. A nil model yields a service whose every call fails with
// ErrNotConfigured.
func NewService(m ChatModel, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		model:      m,
		dispatcher: opts.Dispatcher,
		limiter:    newUserLimiter(opts.RatePerMinute, opts.Burst),
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Enabled reports whether a model backend is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.model != nil
}

var eventSchema = Schema[models.ExtractedEvent]{
	Required: []string{"title", "date", "type", "all_day"},
	Validate: func(e models.ExtractedEvent) error {
		if strings.TrimSpace(e.Title) == "" {
			return errors.New("title is empty")
		}
		return checkDate(e.Date)
	},
}

var milestoneSchema = Schema[models.ExtractedMilestone]{
	Required: []string{"title", "date", "start_time", "duration_minutes", "category"},
	Validate: func(m models.ExtractedMilestone) error {
		if strings.TrimSpace(m.Title) == "" {
			return errors.New("title is empty")
		}
		if m.Category != models.CategoryStudyBlock {
			return fmt.Errorf("category %q, want %q", m.Category, models.CategoryStudyBlock)
		}
		if m.DurationMinutes <= 0 {
			return fmt.Errorf("duration_minutes %d is not positive", m.DurationMinutes)
		}
		if _, err := time.Parse(clockLayout, m.StartTime); err != nil {
			return fmt.Errorf("start_time %q is not HH:MM", m.StartTime)
		}
		return checkDate(m.Date)
	},
}

func checkDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("date %q is not YYYY-MM-DD", date)
	}
	return nil
}

// ParseEmail extracts calendar events from the text of a school e-mail.
func (s *Service) ParseEmail(ctx context.Context, userID int64, text string) ([]models.ExtractedEvent, error) {
	if !s.Enabled() {
		return nil, s.observe(KindEvents, ErrNotConfigured, time.Time{})
	}
	if strings.TrimSpace(text) == "" {
		return nil, s.observe(KindEvents, invalidInput("text is required"), time.Time{})
	}
	return run(ctx, s, KindEvents, userID, eventsUserPrompt(text, s.now()), eventSchema)
}

// GenerateStudyPlan lays out study sessions for an assignment, avoiding busy blocks.
func (s *Service) GenerateStudyPlan(ctx context.Context, userID int64, in StudyPlanInput) ([]models.ExtractedMilestone, error) {
	if !s.Enabled() {
		return nil, s.observe(KindMilestones, ErrNotConfigured, time.Time{})
	}
	if err := validatePlanInput(in); err != nil {
		return nil, s.observe(KindMilestones, err, time.Time{})
	}
	return run(ctx, s, KindMilestones, userID, milestonesUserPrompt(in, s.now()), milestoneSchema)
}

func validatePlanInput(in StudyPlanInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return invalidInput("title is required")
	}
	if strings.TrimSpace(in.DueDate) == "" {
		return invalidInput("dueDate is required")
	}
	for i, block := range in.Schedule {
		if strings.TrimSpace(block.Date) == "" {
			return invalidInput("schedule[%d].date is required", i)
		}
	}
	return nil
}

// run sends one prompt and decodes the reply. The model call is detached from ctx so a
// client that goes away does not abort it; it is bounded by the service timeout instead.
func run[T any](ctx context.Context, s *Service, kind Kind, userID int64, prompt string, schema Schema[T]) ([]T, error) {
	if !s.limiter.Allow(userID) {
		return nil, s.observe(kind, ErrRateLimited, time.Time{})
	}
	cfg := settings[kind]
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	var reply string
	call := func(ctx context.Context) error {
		var err error
		reply, err = s.model.Complete(ctx, Completion{
			System:      cfg.system,
			User:        prompt,
			Temperature: cfg.temperature,
			MaxTokens:   cfg.maxTokens,
		})
		return err
	}
	var err error
	if s.dispatcher != nil {
		err = s.dispatcher.Do(callCtx, userID, call)
	} else {
		err = call(callCtx)
	}
	if err != nil {
		if errors.Is(err, worker.ErrBusy) {
			return nil, s.observe(kind, ErrBusy, time.Time{})
		}
		var upstream *UpstreamError
		switch {
		case errors.As(err, &upstream):
		case errors.Is(err, context.DeadlineExceeded):
			err = &UpstreamError{Status: http.StatusGatewayTimeout, Body: "model call timed out after " + s.timeout.String()}
		default:
			err = fmt.Errorf("call model: %w", err)
		}
		return nil, s.observe(kind, err, start)
	}

	res := Decode(reply, schema)
	if res.Kind != ResultOK {
		s.logger.Warn("unparseable model reply",
			zap.String("kind", string(kind)),
			zap.String("result", res.Kind.String()),
			zap.Error(res.Err),
			zap.Int("reply_bytes", len(reply)),
		)
		metrics.Extractions.WithLabelValues(string(kind), res.Kind.String()).Inc()
		metrics.ExtractionDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %s: %w", ErrUnparseableResponse, res.Kind, res.Err)
	}
	s.observe(kind, nil, start)
	return res.Items, nil
}

// observe records the outcome and returns err unchanged. A zero start skips the latency
// histogram for calls that never reached the model.
func (s *Service) observe(kind Kind, err error, start time.Time) error {
	if !start.IsZero() {
		metrics.ExtractionDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}
	metrics.Extractions.WithLabelValues(string(kind), outcome(err)).Inc()
	if err != nil && !start.IsZero() {
		s.logger.Warn("model call failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	return err
}

func outcome(err error) string {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.As(err, &upstream):
		return "upstream"
	default:
		return "error"
	}
}

// NewFromConfig builds the service from the extraction and providers sections. An unset
// provider or a provider without a key leaves the service disabled instead of failing startup.
func NewFromConfig(ctx context.Context, cfg *config.Config, dispatcher *worker.Dispatcher, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := Options{
		Timeout:       cfg.Extraction.Timeout,
		Dispatcher:    dispatcher,
		RatePerMinute: cfg.Extraction.RatePerMinute,
		Burst:         cfg.Extraction.Burst,
		Logger:        logger,
	}
	name, provider, ok := cfg.Provider()
	if name == "" {
		logger.Info("extraction disabled: no provider selected")
		return NewService(nil, opts), nil
	}
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", name)
	}
	apiKey, err := ResolveAPIKey(ctx, name, provider, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve %s api key: %w", name, err)
	}
	if apiKey == "" {
		logger.Warn("extraction disabled: provider has no api key", zap.String("provider", name))
		return NewService(nil, opts), nil
	}
	m, err := NewChatModel(ctx, name, provider, apiKey)
	if err != nil {
		return nil, err
	}
	logger.Info("extraction enabled", zap.String("provider", name), zap.String("model", provider.Model))
	return NewService(m, opts), nil
}
