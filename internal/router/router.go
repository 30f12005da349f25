// Package router turns free-form prompts into exactly one system
// action. A classification call on a cheap model picks the intent as a
// function call; the router validates the extracted arguments and
// dispatches: queries stream an answer back, ingestions and reports
// become async jobs, schedules are registered with the schedule engine.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caio/repoinsight-back/internal/ai"
	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/rag"
)

// JobEnqueuer accepts async work produced by routed intents.
type JobEnqueuer interface {
	EnqueueIngest(ctx context.Context, tenantID string, payload domain.IngestPayload) (*domain.Job, error)
	EnqueueReport(ctx context.Context, tenantID string, payload domain.ReportPayload) (*domain.Job, error)
}

// ScheduleCreator registers recurring report schedules. Implementations
// validate frequency, fire time and timezone before persisting and
// return a ValidationError without side effects when they are invalid.
type ScheduleCreator interface {
	Create(ctx context.Context, request domain.ScheduleRequest) (*domain.Schedule, error)
}

// Answerer is the slice of the retrieval engine the router needs.
type Answerer interface {
	Stream(ctx context.Context, input rag.AnswerInput) (<-chan ai.Fragment, error)
}

type Router struct {
	oracle    ai.ToolCaller
	models    *ai.ModelRouter
	answerer  Answerer
	jobs      JobEnqueuer
	schedules ScheduleCreator
	logger    *log.Logger
}

// RouteResult is the single action taken for one prompt. Exactly one of
// Stream, Job and Schedule is set, matching Intent.Kind.
type RouteResult struct {
	Intent   domain.Intent
	Stream   <-chan ai.Fragment
	Job      *domain.Job
	Schedule *domain.Schedule
}

func NewRouter(
	oracle ai.ToolCaller,
	models *ai.ModelRouter,
	answerer Answerer,
	jobs JobEnqueuer,
	schedules ScheduleCreator,
	logger *log.Logger,
) *Router {
	return &Router{
		oracle:    oracle,
		models:    models,
		answerer:  answerer,
		jobs:      jobs,
		schedules: schedules,
		logger:    logger,
	}
}

// Route classifies the prompt and performs its action. Validation
// failures return a ValidationError before anything is enqueued,
// persisted or streamed.
func (r *Router) Route(ctx context.Context, request domain.PromptRequest) (RouteResult, error) {
	if strings.TrimSpace(request.TenantID) == "" {
		return RouteResult{}, domain.NewValidationError(domain.IntentQuery, "tenant_id", "is required")
	}
	if strings.TrimSpace(request.Prompt) == "" {
		return RouteResult{}, domain.NewValidationError(domain.IntentQuery, "prompt", "is required")
	}

	intent := r.Classify(ctx, request)

	switch intent.Kind {
	case domain.IntentIngest:
		return r.routeIngest(ctx, request, intent)
	case domain.IntentReport:
		return r.routeReport(ctx, request, intent)
	case domain.IntentSchedule:
		return r.routeSchedule(ctx, request, intent)
	default:
		return r.routeQuery(ctx, request, intent)
	}
}

// Classify asks the oracle which tool the prompt calls for. Any failure
// of the oracle, an unknown tool or undecodable arguments degrade to a
// plain query marked ambiguous, never to an error.
func (r *Router) Classify(ctx context.Context, request domain.PromptRequest) domain.Intent {
	profile := r.models.Select(ai.TaskIntent)

	result, err := r.oracle.CallTool(ctx, ai.ToolCallRequest{
		Model:        profile.PrimaryModel,
		Instructions: classifierInstructions,
		Input:        classifierInput(request),
		Tools:        intentTools,
	})
	if err != nil {
		r.logf("intent classification failed, falling back to query: %v", err)
		return fallbackQuery(request)
	}

	kind, known := toolIntent[result.Name]
	if !known {
		r.logf("oracle picked unknown tool %q, falling back to query", result.Name)
		return fallbackQuery(request)
	}

	var params domain.IntentParams
	if err := json.Unmarshal(result.Arguments, &params); err != nil {
		r.logf("undecodable tool arguments, falling back to query: %v", err)
		return fallbackQuery(request)
	}

	if params.Repo == "" {
		params.Repo = request.RepoContext
	}
	if params.Prompt == "" {
		params.Prompt = request.Prompt
	}
	return domain.Intent{Kind: kind, Params: params}
}

func (r *Router) routeQuery(ctx context.Context, request domain.PromptRequest, intent domain.Intent) (RouteResult, error) {
	fragments, err := r.answerer.Stream(ctx, rag.AnswerInput{
		TenantID: request.TenantID,
		Repo:     intent.Params.Repo,
		Question: intent.Params.Prompt,
	})
	if err != nil {
		return RouteResult{}, fmt.Errorf("stream answer: %w", err)
	}
	return RouteResult{Intent: intent, Stream: fragments}, nil
}

func (r *Router) routeIngest(ctx context.Context, request domain.PromptRequest, intent domain.Intent) (RouteResult, error) {
	if strings.TrimSpace(intent.Params.Repo) == "" {
		return RouteResult{}, domain.NewValidationError(domain.IntentIngest, "repo", "is required")
	}

	job, err := r.jobs.EnqueueIngest(ctx, request.TenantID, domain.IngestPayload{
		Repo:       intent.Params.Repo,
		FullResync: intent.Params.FullResync,
	})
	if err != nil {
		return RouteResult{}, fmt.Errorf("enqueue ingest: %w", err)
	}
	return RouteResult{Intent: intent, Job: job}, nil
}

func (r *Router) routeReport(ctx context.Context, request domain.PromptRequest, intent domain.Intent) (RouteResult, error) {
	if strings.TrimSpace(intent.Params.Repo) == "" {
		return RouteResult{}, domain.NewValidationError(domain.IntentReport, "repo", "is required")
	}
	windowStart, windowEnd, err := reportWindow(intent.Params)
	if err != nil {
		return RouteResult{}, err
	}

	job, err := r.jobs.EnqueueReport(ctx, request.TenantID, domain.ReportPayload{
		Repo:        intent.Params.Repo,
		Prompt:      intent.Params.Prompt,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	})
	if err != nil {
		return RouteResult{}, fmt.Errorf("enqueue report: %w", err)
	}
	return RouteResult{Intent: intent, Job: job}, nil
}

func (r *Router) routeSchedule(ctx context.Context, request domain.PromptRequest, intent domain.Intent) (RouteResult, error) {
	params := intent.Params
	if strings.TrimSpace(params.Repo) == "" {
		return RouteResult{}, domain.NewValidationError(domain.IntentSchedule, "repo", "is required")
	}
	if strings.TrimSpace(params.Prompt) == "" {
		return RouteResult{}, domain.NewValidationError(domain.IntentSchedule, "prompt", "is required")
	}
	if strings.TrimSpace(params.Frequency) == "" {
		return RouteResult{}, domain.NewValidationError(domain.IntentSchedule, "frequency", "is required")
	}
	if strings.TrimSpace(params.FireAt) == "" {
		return RouteResult{}, domain.NewValidationError(domain.IntentSchedule, "fire_at", "is required")
	}
	if strings.TrimSpace(params.Timezone) == "" {
		return RouteResult{}, domain.NewValidationError(domain.IntentSchedule, "timezone", "is required")
	}

	schedule, err := r.schedules.Create(ctx, domain.ScheduleRequest{
		TenantID:  request.TenantID,
		Repo:      params.Repo,
		Prompt:    params.Prompt,
		Frequency: domain.Frequency(strings.ToLower(strings.TrimSpace(params.Frequency))),
		FireAt:    params.FireAt,
		Timezone:  params.Timezone,
	})
	if err != nil {
		if domain.IsValidation(err) {
			return RouteResult{}, err
		}
		return RouteResult{}, fmt.Errorf("create schedule: %w", err)
	}
	return RouteResult{Intent: intent, Schedule: schedule}, nil
}

// reportWindow parses the window bounds. A missing window defaults to
// the trailing seven days; a half-open or inverted window is rejected.
func reportWindow(params domain.IntentParams) (time.Time, time.Time, error) {
	if params.WindowStart == "" && params.WindowEnd == "" {
		end := time.Now().UTC()
		return end.AddDate(0, 0, -7), end, nil
	}
	if params.WindowStart == "" || params.WindowEnd == "" {
		return time.Time{}, time.Time{}, domain.NewValidationError(
			domain.IntentReport, "window", "needs both start and end")
	}
	start, err := time.Parse(time.RFC3339, params.WindowStart)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError(
			domain.IntentReport, "window_start", "must be RFC 3339")
	}
	end, err := time.Parse(time.RFC3339, params.WindowEnd)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError(
			domain.IntentReport, "window_end", "must be RFC 3339")
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, domain.NewValidationError(
			domain.IntentReport, "window_end", "must be after window_start")
	}
	return start.UTC(), end.UTC(), nil
}

func fallbackQuery(request domain.PromptRequest) domain.Intent {
	return domain.Intent{
		Kind: domain.IntentQuery,
		Params: domain.IntentParams{
			Repo:   request.RepoContext,
			Prompt: request.Prompt,
		},
		Ambiguous: true,
	}
}

func classifierInput(request domain.PromptRequest) string {
	var builder strings.Builder
	builder.WriteString(request.Prompt)
	if request.RepoContext != "" {
		builder.WriteString("\n\nActive repository: ")
		builder.WriteString(request.RepoContext)
	}
	if len(request.Attachment) > 0 {
		builder.WriteString("\n\nAttachment:\n")
		builder.Write(request.Attachment)
	}
	return builder.String()
}

const classifierInstructions = "Classify the user's request about a software repository by " +
	"calling exactly one tool. Use call_query_tool for questions answered from indexed content, " +
	"call_ingest_tool when the user asks to index or re-sync a repository, call_report_tool for " +
	"a one-off activity report over a time window, and call_schedule_tool when the user wants a " +
	"recurring report. Extract every argument the prompt states explicitly; leave the rest unset."

var toolIntent = map[string]domain.IntentKind{
	"call_query_tool":    domain.IntentQuery,
	"call_ingest_tool":   domain.IntentIngest,
	"call_report_tool":   domain.IntentReport,
	"call_schedule_tool": domain.IntentSchedule,
}

var intentTools = []ai.ToolDefinition{
	{
		Name:        "call_query_tool",
		Description: "Answer a question about an already indexed repository.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "The question to answer."},
				"repo": {"type": "string", "description": "Repository the question is about, if stated."}
			},
			"required": ["prompt"]
		}`),
	},
	{
		Name:        "call_ingest_tool",
		Description: "Index a repository or bring its index up to date.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repo": {"type": "string", "description": "Repository URL or owner/name."},
				"full_resync": {"type": "boolean", "description": "True when the user asks to re-index everything."}
			},
			"required": ["repo"]
		}`),
	},
	{
		Name:        "call_report_tool",
		Description: "Produce a one-off activity report over a repository time window.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repo": {"type": "string", "description": "Repository URL or owner/name."},
				"prompt": {"type": "string", "description": "What the report should focus on."},
				"window_start": {"type": "string", "description": "Window start, RFC 3339."},
				"window_end": {"type": "string", "description": "Window end, RFC 3339."}
			},
			"required": ["repo"]
		}`),
	},
	{
		Name:        "call_schedule_tool",
		Description: "Register a recurring report for a repository.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repo": {"type": "string", "description": "Repository URL or owner/name."},
				"prompt": {"type": "string", "description": "What each report should cover."},
				"frequency": {"type": "string", "description": "once, daily, weekly, monthly or a cron expression."},
				"fire_at": {"type": "string", "description": "Local fire time, HH:MM."},
				"timezone": {"type": "string", "description": "IANA timezone of fire_at."}
			},
			"required": ["repo", "prompt", "frequency", "fire_at", "timezone"]
		}`),
	},
}

func (r *Router) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
