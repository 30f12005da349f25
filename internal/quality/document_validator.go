// Package quality gates model-produced report documents before they
// are rendered or persisted.
package quality

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caio/repoinsight-back/internal/domain"
	"github.com/caio/repoinsight-back/internal/policy"
)

var ErrQualityRejected = errors.New("document failed quality checks")

const (
	maxSections       = 12
	maxSectionContent = 4000
	maxHeading        = 120
)

type DocumentValidator struct{}

func NewDocumentValidator() *DocumentValidator {
	return &DocumentValidator{}
}

// Validate normalizes a report document and rejects ones no reader
// should receive. Empty sections are dropped, leaked credentials are
// redacted, oversized content is truncated at a word boundary.
func (v *DocumentValidator) Validate(document domain.ReportDocument) (domain.ReportDocument, error) {
	if strings.TrimSpace(document.Title) == "" {
		return domain.ReportDocument{}, fmt.Errorf("%w: missing title", ErrQualityRejected)
	}

	seen := make(map[string]struct{}, len(document.Sections))
	sections := make([]domain.ReportSection, 0, len(document.Sections))
	for _, section := range document.Sections {
		heading := normalizeText(section.Heading)
		content := normalizeText(section.Content)
		if content == "" {
			continue
		}
		if heading == "" {
			heading = "Overview"
		}
		if len(heading) > maxHeading {
			heading = truncateAtWord(heading, maxHeading)
		}

		content = policy.RedactSecrets(content)
		if len(content) > maxSectionContent {
			content = truncateAtWord(content, maxSectionContent)
		}

		key := strings.ToLower(heading)
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}

		sections = append(sections, domain.ReportSection{Heading: heading, Content: content})
		if len(sections) == maxSections {
			break
		}
	}

	if len(sections) == 0 {
		return domain.ReportDocument{}, fmt.Errorf("%w: no usable sections", ErrQualityRejected)
	}

	document.Sections = sections
	return document, nil
}

func normalizeText(value string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(value), " "))
}

func truncateAtWord(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := value[:limit]
	if space := strings.LastIndex(cut, " "); space > 0 {
		cut = cut[:space]
	}
	return strings.TrimSpace(cut)
}
