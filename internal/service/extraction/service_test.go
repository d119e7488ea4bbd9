package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyhub/internal/config"
	"studyhub/internal/integrations/paramstore"
	"studyhub/internal/models"
	"studyhub/internal/worker"
)

type fakeModel struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []Completion
	block chan struct{}
}

func (f *fakeModel) Complete(ctx context.Context, req Completion) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const pictureDay = `[{"title":"Picture day","date":"2025-03-03","start_time":null,"end_time":null,"type":"school_event","all_day":true,"description":null}]`

func fixedNow() time.Time { return time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC) }

func TestParseEmailReturnsModelArray(t *testing.T) {
	model := &fakeModel{reply: pictureDay}
	svc := NewService(model, Options{Now: fixedNow})

	events, err := svc.ParseEmail(context.Background(), 1, "Picture day is March 3rd, no specific time")
	require.NoError(t, err)

	out, err := json.Marshal(events)
	require.NoError(t, err)
	require.JSONEq(t, pictureDay, string(out))

	require.Len(t, model.calls, 1)
	call := model.calls[0]
	require.Equal(t, float32(0.2), call.Temperature)
	require.Equal(t, 1024, call.MaxTokens)
	require.Contains(t, call.User, "Picture day is March 3rd")
	require.Contains(t, call.User, "2025-02-20")
	require.Contains(t, call.System, "ONLY a JSON array")
}

func TestGenerateStudyPlan(t *testing.T) {
	model := &fakeModel{reply: `[{"title":"Read chapter 4","date":"2025-02-21","start_time":"16:00","duration_minutes":40,"category":"study_block"}]`}
	svc := NewService(model, Options{Now: fixedNow})

	milestones, err := svc.GenerateStudyPlan(context.Background(), 1, StudyPlanInput{
		Title:    "History essay",
		DueDate:  "2025-03-01",
		Schedule: []models.BusyBlock{{Title: "Soccer", Date: "2025-02-22", StartTime: "09:00", EndTime: "11:00"}},
	})
	require.NoError(t, err)
	require.Len(t, milestones, 1)
	require.Equal(t, models.CategoryStudyBlock, milestones[0].Category)

	call := model.calls[0]
	require.Equal(t, float32(0.3), call.Temperature)
	require.Equal(t, 1500, call.MaxTokens)
	require.Contains(t, call.User, "History essay")
	require.Contains(t, call.User, "Soccer")
}

func TestNotConfiguredFailsBeforeValidation(t *testing.T) {
	svc := NewService(nil, Options{})
	require.False(t, svc.Enabled())

	_, err := svc.ParseEmail(context.Background(), 1, "")
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = svc.GenerateStudyPlan(context.Background(), 1, StudyPlanInput{})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestInvalidInputNeverCallsModel(t *testing.T) {
	model := &fakeModel{reply: "[]"}
	svc := NewService(model, Options{})
	ctx := context.Background()

	_, err := svc.ParseEmail(ctx, 1, "   ")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.GenerateStudyPlan(ctx, 1, StudyPlanInput{DueDate: "2025-03-01"})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.GenerateStudyPlan(ctx, 1, StudyPlanInput{Title: "Essay"})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.GenerateStudyPlan(ctx, 1, StudyPlanInput{Title: "Essay", DueDate: "2025-03-01", Schedule: []models.BusyBlock{{Title: "x"}}})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, model.callCount())
}

func TestUnparseableRepliesAreFailures(t *testing.T) {
	for _, reply := range []string{
		"I could not find any events.",
		`{"events":[]}`,
		`[{"title":"Picture day"}]`,
	} {
		svc := NewService(&fakeModel{reply: reply}, Options{})
		events, err := svc.ParseEmail(context.Background(), 1, "some email")
		require.ErrorIs(t, err, ErrUnparseableResponse, reply)
		require.Nil(t, events)
	}
}

func TestUpstreamErrorPassesThrough(t *testing.T) {
	svc := NewService(&fakeModel{err: &UpstreamError{Status: 429, Body: "quota exceeded"}}, Options{})
	_, err := svc.ParseEmail(context.Background(), 1, "some email")

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, 429, upstream.Status)
	require.Equal(t, "quota exceeded", upstream.Body)
}

func TestModelCallIgnoresCallerCancellation(t *testing.T) {
	svc := NewService(ChatModelFunc(func(ctx context.Context, _ Completion) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return pictureDay, nil
	}), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := svc.ParseEmail(ctx, 1, "some email")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestTimeoutBecomesUpstreamError(t *testing.T) {
	svc := NewService(ChatModelFunc(func(ctx context.Context, _ Completion) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), Options{Timeout: 10 * time.Millisecond})

	_, err := svc.ParseEmail(context.Background(), 1, "some email")
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, http.StatusGatewayTimeout, upstream.Status)
}

func TestPerUserRateLimit(t *testing.T) {
	model := &fakeModel{reply: "[]"}
	svc := NewService(model, Options{RatePerMinute: 1, Burst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.ParseEmail(ctx, 1, "email")
		require.NoError(t, err)
	}
	_, err := svc.ParseEmail(ctx, 1, "email")
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.ParseEmail(ctx, 2, "email")
	require.NoError(t, err)
}

func TestBusyWhenDispatcherSaturated(t *testing.T) {
	block := make(chan struct{})
	model := &fakeModel{reply: "[]", block: block}
	dispatcher := worker.NewDispatcher(1, 0)
	t.Cleanup(dispatcher.Close)
	svc := NewService(model, Options{Dispatcher: dispatcher})

	done := make(chan error, 1)
	go func() {
		_, err := svc.ParseEmail(context.Background(), 1, "email")
		done <- err
	}()
	require.Eventually(t, func() bool { return dispatcher.Pending() == 1 }, time.Second, 5*time.Millisecond)

	_, err := svc.ParseEmail(context.Background(), 2, "email")
	require.ErrorIs(t, err, ErrBusy)

	close(block)
	require.NoError(t, <-done)
}

func TestCompatClient(t *testing.T) {
	var got compatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"[]"}}]}`))
	}))
	defer srv.Close()

	client, err := NewCompatClient(srv.URL+"/v1/", "gpt-test", "sk-test")
	require.NoError(t, err)
	reply, err := client.Complete(context.Background(), Completion{System: "sys", User: "usr", Temperature: 0.2, MaxTokens: 1024})
	require.NoError(t, err)
	require.Equal(t, "[]", reply)

	require.Equal(t, "gpt-test", got.Model)
	require.Equal(t, 1, got.N)
	require.False(t, got.Stream)
	require.Equal(t, 1024, got.MaxTokens)
	require.InDelta(t, 0.2, got.Temperature, 1e-6)
	require.Equal(t, []compatMessage{{Role: "system", Content: "sys"}, {Role: "user", Content: "usr"}}, got.Messages)
}

func TestCompatClientUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewCompatClient(srv.URL, "gpt-test", "sk-bad")
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), Completion{})

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, http.StatusUnauthorized, upstream.Status)
	require.Contains(t, upstream.Body, "invalid api key")
}

func TestNewFromConfigDisabledWithoutProvider(t *testing.T) {
	svc, err := NewFromConfig(context.Background(), &config.Config{}, nil, nil)
	require.NoError(t, err)
	require.False(t, svc.Enabled())

	cfg := &config.Config{
		Extraction: config.ExtractionConfig{Provider: "compat"},
		Providers:  map[string]config.ProviderConfig{"compat": {Model: "m"}},
	}
	t.Setenv("STUDYHUB_COMPAT_API_KEY", "")
	svc, err = NewFromConfig(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	require.False(t, svc.Enabled())

	t.Setenv("STUDYHUB_COMPAT_API_KEY", "sk-env")
	svc, err = NewFromConfig(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	require.True(t, svc.Enabled())

	cfg.Extraction.Provider = "missing"
	_, err = NewFromConfig(context.Background(), cfg, nil, nil)
	require.Error(t, err)
}

type stubGetter map[string]string

func (g stubGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := g[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return v, nil
}

func TestResolveAPIKeyUsesConfiguredRegion(t *testing.T) {
	t.Setenv("STUDYHUB_OPENAI_API_KEY", "")
	var gotRegion string
	orig := newParamGetter
	newParamGetter = func(_ context.Context, region string) (paramstore.Getter, error) {
		gotRegion = region
		return stubGetter{"/studyhub/openai": `{"token":"sk-from-ssm"}`}, nil
	}
	t.Cleanup(func() { newParamGetter = orig })

	key, err := ResolveAPIKey(context.Background(), "openai", config.ProviderConfig{
		APIKeyParam: "/studyhub/openai",
		Region:      "eu-west-1",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, "eu-west-1", gotRegion)
}
