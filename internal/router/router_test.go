package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/caio/repoinsight-back/internal/ai"
	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/rag"
)

type scriptedOracle struct {
	name      string
	arguments string
	err       error
}

func (o *scriptedOracle) CallTool(context.Context, ai.ToolCallRequest) (ai.ToolCallResult, error) {
	if o.err != nil {
		return ai.ToolCallResult{}, o.err
	}
	return ai.ToolCallResult{
		Name:      o.name,
		Arguments: json.RawMessage(o.arguments),
		ModelID:   "gpt-4o-mini",
	}, nil
}

type recordingJobs struct {
	ingests []domain.IngestPayload
	reports []domain.ReportPayload
}

func (j *recordingJobs) EnqueueIngest(_ context.Context, tenantID string, payload domain.IngestPayload) (*domain.Job, error) {
	j.ingests = append(j.ingests, payload)
	return &domain.Job{ID: "job-ingest", Kind: domain.JobKindIngest, TenantID: tenantID, Status: domain.JobStatusPending}, nil
}

func (j *recordingJobs) EnqueueReport(_ context.Context, tenantID string, payload domain.ReportPayload) (*domain.Job, error) {
	j.reports = append(j.reports, payload)
	return &domain.Job{ID: "job-report", Kind: domain.JobKindReport, TenantID: tenantID, Status: domain.JobStatusPending}, nil
}

type recordingSchedules struct {
	requests []domain.ScheduleRequest
}

func (s *recordingSchedules) Create(_ context.Context, request domain.ScheduleRequest) (*domain.Schedule, error) {
	s.requests = append(s.requests, request)
	return &domain.Schedule{ID: "schedule-1", TenantID: request.TenantID, Repo: request.Repo, Active: true}, nil
}

type recordingAnswerer struct {
	inputs []rag.AnswerInput
}

func (a *recordingAnswerer) Stream(_ context.Context, input rag.AnswerInput) (<-chan ai.Fragment, error) {
	a.inputs = append(a.inputs, input)
	out := make(chan ai.Fragment, 2)
	out <- ai.Fragment{Text: "answer"}
	out <- ai.Fragment{Last: true}
	close(out)
	return out, nil
}

func newTestRouter(oracle ai.ToolCaller, jobs *recordingJobs, schedules *recordingSchedules, answerer *recordingAnswerer) *Router {
	return NewRouter(oracle, ai.NewModelRouter(ai.ModelRouterConfig{}), answerer, jobs, schedules, nil)
}

func TestRouteQueryStreamsAnswer(t *testing.T) {
	answerer := &recordingAnswerer{}
	jobs := &recordingJobs{}
	oracle := &scriptedOracle{name: "call_query_tool", arguments: `{"prompt": "how does auth work"}`}
	r := newTestRouter(oracle, jobs, &recordingSchedules{}, answerer)

	result, err := r.Route(context.Background(), domain.PromptRequest{
		TenantID:    "tenant-a",
		Prompt:      "how does auth work?",
		RepoContext: "acme/widgets",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Intent.Kind != domain.IntentQuery {
		t.Fatalf("expected query intent, got %s", result.Intent.Kind)
	}
	if result.Stream == nil || result.Job != nil || result.Schedule != nil {
		t.Fatalf("query must stream and do nothing else: %+v", result)
	}
	if len(answerer.inputs) != 1 || answerer.inputs[0].Repo != "acme/widgets" {
		t.Fatalf("repo context not threaded into the query: %+v", answerer.inputs)
	}
	if len(jobs.ingests)+len(jobs.reports) != 0 {
		t.Fatalf("query must not enqueue jobs")
	}
}

func TestRouteIngestEnqueuesExactlyOneJob(t *testing.T) {
	jobs := &recordingJobs{}
	oracle := &scriptedOracle{name: "call_ingest_tool", arguments: `{"repo": "acme/widgets", "full_resync": true}`}
	r := newTestRouter(oracle, jobs, &recordingSchedules{}, &recordingAnswerer{})

	result, err := r.Route(context.Background(), domain.PromptRequest{
		TenantID: "tenant-a",
		Prompt:   "re-index acme/widgets from scratch",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Job == nil || result.Job.Kind != domain.JobKindIngest {
		t.Fatalf("expected one ingest job, got %+v", result)
	}
	if len(jobs.ingests) != 1 || !jobs.ingests[0].FullResync {
		t.Fatalf("payload not threaded through: %+v", jobs.ingests)
	}
}

func TestRouteIngestWithoutRepoFailsValidationWithNoSideEffects(t *testing.T) {
	jobs := &recordingJobs{}
	oracle := &scriptedOracle{name: "call_ingest_tool", arguments: `{}`}
	r := newTestRouter(oracle, jobs, &recordingSchedules{}, &recordingAnswerer{})

	_, err := r.Route(context.Background(), domain.PromptRequest{
		TenantID: "tenant-a",
		Prompt:   "index my repo",
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var invalid *domain.ValidationError
	errors.As(err, &invalid)
	if invalid.Intent != domain.IntentIngest || invalid.Field != "repo" {
		t.Fatalf("wrong validation detail: %+v", invalid)
	}
	if len(jobs.ingests)+len(jobs.reports) != 0 {
		t.Fatalf("validation failure must not enqueue anything")
	}
}

func TestRouteReportParsesWindow(t *testing.T) {
	jobs := &recordingJobs{}
	oracle := &scriptedOracle{
		name: "call_report_tool",
		arguments: `{"repo": "acme/widgets", "prompt": "what changed",
			"window_start": "2026-08-01T00:00:00Z", "window_end": "2026-08-08T00:00:00Z"}`,
	}
	r := newTestRouter(oracle, jobs, &recordingSchedules{}, &recordingAnswerer{})

	result, err := r.Route(context.Background(), domain.PromptRequest{
		TenantID: "tenant-a",
		Prompt:   "report on last week",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Job == nil || result.Job.Kind != domain.JobKindReport {
		t.Fatalf("expected report job, got %+v", result)
	}
	window := jobs.reports[0]
	if window.WindowStart.IsZero() || !window.WindowEnd.After(window.WindowStart) {
		t.Fatalf("bad window: %+v", window)
	}
}

func TestRouteReportRejectsInvertedWindow(t *testing.T) {
	jobs := &recordingJobs{}
	oracle := &scriptedOracle{
		name: "call_report_tool",
		arguments: `{"repo": "acme/widgets",
			"window_start": "2026-08-08T00:00:00Z", "window_end": "2026-08-01T00:00:00Z"}`,
	}
	r := newTestRouter(oracle, jobs, &recordingSchedules{}, &recordingAnswerer{})

	_, err := r.Route(context.Background(), domain.PromptRequest{TenantID: "tenant-a", Prompt: "report"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(jobs.reports) != 0 {
		t.Fatalf("inverted window must not enqueue")
	}
}

func TestRouteScheduleRequiresAllParams(t *testing.T) {
	schedules := &recordingSchedules{}
	oracle := &scriptedOracle{
		name:      "call_schedule_tool",
		arguments: `{"repo": "acme/widgets", "prompt": "weekly digest", "frequency": "weekly", "timezone": "America/Sao_Paulo"}`,
	}
	r := newTestRouter(oracle, &recordingJobs{}, schedules, &recordingAnswerer{})

	_, err := r.Route(context.Background(), domain.PromptRequest{TenantID: "tenant-a", Prompt: "schedule it"})
	var invalid *domain.ValidationError
	if !errors.As(err, &invalid) || invalid.Field != "fire_at" {
		t.Fatalf("expected fire_at validation error, got %v", err)
	}
	if len(schedules.requests) != 0 {
		t.Fatalf("validation failure must not create a schedule")
	}
}

func TestRouteScheduleCreates(t *testing.T) {
	schedules := &recordingSchedules{}
	oracle := &scriptedOracle{
		name: "call_schedule_tool",
		arguments: `{"repo": "acme/widgets", "prompt": "weekly digest", "frequency": "Weekly",
			"fire_at": "09:00", "timezone": "America/Sao_Paulo"}`,
	}
	r := newTestRouter(oracle, &recordingJobs{}, schedules, &recordingAnswerer{})

	result, err := r.Route(context.Background(), domain.PromptRequest{TenantID: "tenant-a", Prompt: "schedule it"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Schedule == nil || result.Schedule.ID != "schedule-1" {
		t.Fatalf("expected created schedule, got %+v", result)
	}
	if schedules.requests[0].Frequency != domain.FrequencyWeekly {
		t.Fatalf("frequency not normalized: %q", schedules.requests[0].Frequency)
	}
}

func TestClassificationFailureFallsBackToQuery(t *testing.T) {
	answerer := &recordingAnswerer{}
	oracle := &scriptedOracle{err: errors.New("model timeout")}
	r := newTestRouter(oracle, &recordingJobs{}, &recordingSchedules{}, answerer)

	result, err := r.Route(context.Background(), domain.PromptRequest{
		TenantID: "tenant-a",
		Prompt:   "delete everything and start over",
	})
	if err != nil {
		t.Fatalf("fallback should answer, not fail: %v", err)
	}
	if result.Intent.Kind != domain.IntentQuery || !result.Intent.Ambiguous {
		t.Fatalf("expected ambiguous query fallback, got %+v", result.Intent)
	}
	if result.Stream == nil {
		t.Fatalf("fallback query must still stream")
	}
}

func TestUnknownToolFallsBackToQuery(t *testing.T) {
	answerer := &recordingAnswerer{}
	oracle := &scriptedOracle{name: "call_delete_tool", arguments: `{}`}
	r := newTestRouter(oracle, &recordingJobs{}, &recordingSchedules{}, answerer)

	result, err := r.Route(context.Background(), domain.PromptRequest{TenantID: "tenant-a", Prompt: "hm"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Intent.Kind != domain.IntentQuery || !result.Intent.Ambiguous {
		t.Fatalf("expected ambiguous fallback, got %+v", result.Intent)
	}
}

func TestRouteRejectsEmptyPrompt(t *testing.T) {
	r := newTestRouter(&scriptedOracle{}, &recordingJobs{}, &recordingSchedules{}, &recordingAnswerer{})
	_, err := r.Route(context.Background(), domain.PromptRequest{TenantID: "tenant-a", Prompt: "   "})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
