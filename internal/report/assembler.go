// Package report assembles periodic activity reports over a repository
// time window. The assembler retrieves what changed in the window,
// drafts sections with the report model and hands the validated
// document to a renderer for delivery.
package report

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caio/repoinsight-back/internal/ai"
	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/quality"
	"github.com/caio/repoinsight-back/internal/rag"
)

// Section is one titled block of a report.
type Section = domain.ReportSection

// Document is a finished report ready for rendering.
type Document = domain.ReportDocument

// Retriever is the slice of the retrieval engine the assembler needs.
type Retriever interface {
	Retrieve(ctx context.Context, input rag.RetrieveInput) (rag.RetrieveResult, error)
}

// Renderer delivers a finished document. Rendering surfaces such as
// email or chat live behind this interface and outside this module.
type Renderer interface {
	Render(ctx context.Context, tenantID string, document Document) error
}

// LogRenderer writes documents to the process log. It is the default
// renderer in development and in deployments without a delivery
// channel.
type LogRenderer struct {
	logger *log.Logger
}

func NewLogRenderer(logger *log.Logger) *LogRenderer {
	return &LogRenderer{logger: logger}
}

func (r *LogRenderer) Render(_ context.Context, tenantID string, document Document) error {
	if r.logger == nil {
		return nil
	}
	r.logger.Printf("report rendered tenant=%s repo=%s title=%q sections=%d",
		tenantID, document.Repo, document.Title, len(document.Sections))
	return nil
}

type Assembler struct {
	retriever Retriever
	generator ai.TextGenerator
	models    *ai.ModelRouter
	validator *quality.DocumentValidator
	renderer  Renderer
	logger    *log.Logger
}

func NewAssembler(
	retriever Retriever,
	generator ai.TextGenerator,
	models *ai.ModelRouter,
	validator *quality.DocumentValidator,
	renderer Renderer,
	logger *log.Logger,
) *Assembler {
	if validator == nil {
		validator = quality.NewDocumentValidator()
	}
	return &Assembler{
		retriever: retriever,
		generator: generator,
		models:    models,
		validator: validator,
		renderer:  renderer,
		logger:    logger,
	}
}

// Run builds the report for one window and renders it. An empty window
// still yields a document saying nothing happened, so a scheduled
// report never silently disappears.
func (a *Assembler) Run(ctx context.Context, tenantID string, payload domain.ReportPayload) (Document, error) {
	focus := strings.TrimSpace(payload.Prompt)
	if focus == "" {
		focus = "notable changes, fixes and new functionality"
	}

	retrieved, err := a.retriever.Retrieve(ctx, rag.RetrieveInput{
		TenantID: tenantID,
		Repo:     payload.Repo,
		Query:    focus,
		Since:    payload.WindowStart,
		Until:    payload.WindowEnd,
	})
	if err != nil {
		return Document{}, fmt.Errorf("retrieve window activity: %w", err)
	}

	document := Document{
		Title:       a.title(payload),
		Repo:        payload.Repo,
		WindowStart: payload.WindowStart,
		WindowEnd:   payload.WindowEnd,
		GeneratedAt: time.Now().UTC(),
	}

	if retrieved.Empty {
		document.Sections = []Section{{
			Heading: "Overview",
			Content: "No indexed activity was found for this period. The repository may be idle or its index out of date.",
		}}
	} else {
		sections, modelID, err := a.draftSections(ctx, focus, payload, retrieved)
		if err != nil {
			return Document{}, err
		}
		document.Sections = sections
		document.ModelID = modelID
		document.Sources = sourceList(retrieved)
	}

	document, err = a.validator.Validate(document)
	if err != nil {
		return Document{}, fmt.Errorf("validate report: %w", err)
	}

	if a.renderer != nil {
		if err := a.renderer.Render(ctx, tenantID, document); err != nil {
			return Document{}, fmt.Errorf("render report: %w", err)
		}
	}
	a.logf("report assembled repo=%s window=%s..%s sections=%d",
		payload.Repo,
		payload.WindowStart.Format("2006-01-02"),
		payload.WindowEnd.Format("2006-01-02"),
		len(document.Sections))
	return document, nil
}

func (a *Assembler) draftSections(
	ctx context.Context,
	focus string,
	payload domain.ReportPayload,
	retrieved rag.RetrieveResult,
) ([]Section, string, error) {
	profile := a.models.Select(ai.TaskReport)

	input := fmt.Sprintf("%s\n\nWrite the report focusing on: %s\nPeriod: %s to %s",
		retrieved.ContextText,
		focus,
		payload.WindowStart.Format("2006-01-02"),
		payload.WindowEnd.Format("2006-01-02"),
	)
	request := ai.GenerateRequest{
		Model:           profile.PrimaryModel,
		Instructions:    reportInstructions,
		Input:           input,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	}

	result, err := a.generator.Generate(ctx, request)
	if err != nil && profile.FallbackModel != "" && profile.FallbackModel != profile.PrimaryModel {
		a.logf("report generation on %s failed (%v), falling back to %s",
			profile.PrimaryModel, err, profile.FallbackModel)
		request.Model = profile.FallbackModel
		result, err = a.generator.Generate(ctx, request)
	}
	if err != nil {
		return nil, "", fmt.Errorf("generate report: %w", err)
	}

	return parseSections(result.Text), result.ModelID, nil
}

func (a *Assembler) title(payload domain.ReportPayload) string {
	return fmt.Sprintf("%s activity, %s to %s",
		payload.Repo,
		payload.WindowStart.Format("Jan 2"),
		payload.WindowEnd.Format("Jan 2 2006"),
	)
}

const reportInstructions = "You write engineering activity reports. Use only the repository " +
	"excerpts provided. Structure the report as sections, each starting with a line '## Heading' " +
	"followed by prose. Cover what changed, why it matters and anything that needs attention. " +
	"Do not invent activity that is not in the excerpts."

// parseSections splits '## Heading' delimited model output into
// sections. Output without headings becomes a single Overview section.
func parseSections(text string) []Section {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	sections := make([]Section, 0, 4)
	current := Section{}
	var body strings.Builder

	flush := func() {
		content := strings.TrimSpace(body.String())
		if current.Heading == "" && content == "" {
			return
		}
		if current.Heading == "" {
			current.Heading = "Overview"
		}
		current.Content = content
		sections = append(sections, current)
		current = Section{}
		body.Reset()
	}

	for _, line := range lines {
		if heading, ok := strings.CutPrefix(strings.TrimSpace(line), "## "); ok {
			flush()
			current.Heading = strings.TrimSpace(heading)
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	if len(sections) == 0 {
		sections = append(sections, Section{Heading: "Overview", Content: strings.TrimSpace(text)})
	}
	return sections
}

func sourceList(retrieved rag.RetrieveResult) []string {
	seen := make(map[string]struct{}, len(retrieved.Chunks))
	sources := make([]string, 0, len(retrieved.Chunks))
	for _, scored := range retrieved.Chunks {
		path := scored.Chunk.Path
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		sources = append(sources, path)
	}
	return sources
}

func (a *Assembler) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
