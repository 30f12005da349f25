package domain

type IntentKind string

const (
	IntentQuery    IntentKind = "query"
	IntentIngest   IntentKind = "ingest"
	IntentReport   IntentKind = "report"
	IntentSchedule IntentKind = "schedule"
)

// PromptRequest is the inbound unit handed to the intent router by the
// transport layer. It is transient and never persisted.
type PromptRequest struct {
	Prompt      string
	Attachment  []byte
	TenantID    string
	RepoContext string
}

// IntentParams carries the arguments extracted by the classification
// oracle. Which fields are required depends on the intent kind.
type IntentParams struct {
	Repo        string `json:"repo,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	FullResync  bool   `json:"full_resync,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
	FireAt      string `json:"fire_at,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
}

// Intent is a classified prompt. It is produced per request, consumed
// immediately and never persisted.
type Intent struct {
	Kind      IntentKind
	Params    IntentParams
	Ambiguous bool
}
