package ai

import "strings"

type TaskKind string

const (
	TaskIntent TaskKind = "intent"
	TaskAnswer TaskKind = "answer"
	TaskReport TaskKind = "report"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

type ModelRouterConfig struct {
	IntentModel string

	AnswerPrimary  string
	AnswerFallback string

	ReportPrimary  string
	ReportFallback string
}

// ModelRouter picks a model profile per task. Classification runs on a
// fast, cheap model; report assembly gets the larger one.
type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.IntentModel) == "" {
		config.IntentModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(config.AnswerPrimary) == "" {
		config.AnswerPrimary = "gpt-4o-mini"
	}
	if strings.TrimSpace(config.AnswerFallback) == "" {
		config.AnswerFallback = "gpt-4o-mini"
	}
	if strings.TrimSpace(config.ReportPrimary) == "" {
		config.ReportPrimary = "gpt-4o"
	}
	if strings.TrimSpace(config.ReportFallback) == "" {
		config.ReportFallback = "gpt-4o-mini"
	}

	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	switch task {
	case TaskIntent:
		return ModelProfile{
			PrimaryModel:    r.config.IntentModel,
			FallbackModel:   r.config.IntentModel,
			Temperature:     0,
			MaxOutputTokens: 300,
		}
	case TaskReport:
		return ModelProfile{
			PrimaryModel:    r.config.ReportPrimary,
			FallbackModel:   r.config.ReportFallback,
			Temperature:     0.2,
			MaxOutputTokens: 1400,
		}
	default:
		return ModelProfile{
			PrimaryModel:    r.config.AnswerPrimary,
			FallbackModel:   r.config.AnswerFallback,
			Temperature:     0.3,
			MaxOutputTokens: 900,
		}
	}
}
