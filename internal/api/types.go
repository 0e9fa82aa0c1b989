package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Project describes a project in a transport-friendly format.
type Project struct {
	ID             string            `json:"id"`
	Organization   string            `json:"organization"`
	CurrentStage   string            `json:"currentStage"`
	StageName      string            `json:"stageName,omitempty"`
	Status         string            `json:"status"`
	Priority       string            `json:"priority"`
	StageEnteredAt string            `json:"stageEnteredAt,omitempty"`
	Tags           []string          `json:"tags"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Version        int64             `json:"version"`
	CreatedAt      string            `json:"createdAt,omitempty"`
	UpdatedAt      string            `json:"updatedAt,omitempty"`
	// Phase is the in-flight transition phase; "idle" when nothing runs.
	Phase string `json:"phase"`
}

// Stage describes one workflow stage.
type Stage struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Order         int      `json:"order"`
	Entry         bool     `json:"entry"`
	Terminal      bool     `json:"terminal"`
	AllowedNext   []string `json:"allowedNext"`
	Prerequisites []string `json:"prerequisites"`
}

// Workflow wraps the stage graph for API responses.
type Workflow struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// Finding is the outcome of one prerequisite rule.
type Finding struct {
	Rule               string   `json:"rule"`
	Passed             bool     `json:"passed"`
	Errors             []string `json:"errors,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
	ApprovalGated      bool     `json:"approvalGated,omitempty"`
	ManualConfirmation bool     `json:"manualConfirmation,omitempty"`
}

// ValidationResult mirrors a prerequisite check.
type ValidationResult struct {
	Valid                   bool      `json:"valid"`
	Errors                  []string  `json:"errors"`
	Warnings                []string  `json:"warnings"`
	CanAutoAdvance          bool      `json:"canAutoAdvance"`
	RequiresManagerApproval bool      `json:"requiresManagerApproval"`
	Findings                []Finding `json:"findings,omitempty"`
}

// Availability pairs a reachable stage with its validation result.
type Availability struct {
	Stage  Stage            `json:"stage"`
	Result ValidationResult `json:"result"`
}

// AvailabilityResponse lists the stages reachable from a project's current stage.
type AvailabilityResponse struct {
	ProjectID   string         `json:"projectId"`
	Transitions []Availability `json:"transitions"`
}

// CanTransitionResponse answers whether a single move would be accepted.
type CanTransitionResponse struct {
	ProjectID string `json:"projectId"`
	Stage     string `json:"stage"`
	Allowed   bool   `json:"allowed"`
}

// TransitionRecord is one ledger entry.
type TransitionRecord struct {
	ID                  string `json:"id"`
	ProjectID           string `json:"projectId"`
	Sequence            int64  `json:"sequence"`
	FromStage           string `json:"fromStage"`
	ToStage             string `json:"toStage"`
	ActorID             string `json:"actorId"`
	Reason              string `json:"reason,omitempty"`
	BypassReason        string `json:"bypassReason,omitempty"`
	Overridden          bool   `json:"overridden"`
	EstimatedDurationMS int64  `json:"estimatedDurationMs,omitempty"`
	Timestamp           string `json:"timestamp"`
	PrevHash            string `json:"prevHash,omitempty"`
	Hash                string `json:"hash"`
}

// Verification summarizes a hash-chain check.
type Verification struct {
	Intact   bool   `json:"intact"`
	Records  int    `json:"records"`
	BrokenAt int64  `json:"brokenAt,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// HistoryResponse wraps a project's ledger.
type HistoryResponse struct {
	ProjectID    string             `json:"projectId"`
	Records      []TransitionRecord `json:"records"`
	Verification *Verification      `json:"verification,omitempty"`
}

// TransitionRequest is the body of a transition or validation request.
type TransitionRequest struct {
	Stage               string `json:"stage"`
	Reason              string `json:"reason,omitempty"`
	BypassValidation    bool   `json:"bypassValidation,omitempty"`
	BypassReason        string `json:"bypassReason,omitempty"`
	EstimatedDurationMS int64  `json:"estimatedDurationMs,omitempty"`
	// Auto advances to the next stage by order; Stage must be empty.
	Auto bool `json:"auto,omitempty"`
}

// TransitionOutcome reports what a transition did.
type TransitionOutcome struct {
	Applied           bool              `json:"applied"`
	MutationCommitted bool              `json:"mutationCommitted"`
	LedgerRecorded    bool              `json:"ledgerRecorded"`
	LedgerError       *Error            `json:"ledgerError,omitempty"`
	Project           *Project          `json:"project,omitempty"`
	Record            *TransitionRecord `json:"record,omitempty"`
	Result            *ValidationResult `json:"result,omitempty"`
	Phase             string            `json:"phase"`
}

// Error is the structured failure returned by the API.
type Error struct {
	Kind              string   `json:"kind"`
	Message           string   `json:"message"`
	Reasons           []string `json:"reasons,omitempty"`
	MutationCommitted bool     `json:"mutationCommitted"`
	LedgerRecorded    bool     `json:"ledgerRecorded"`
}

// ErrorResponse wraps an Error with an optional outcome for partial failures.
type ErrorResponse struct {
	Error   Error              `json:"error"`
	Outcome *TransitionOutcome `json:"outcome,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	StoreDriver   string             `json:"storeDriver"`
	DatabasePath  string             `json:"databasePath,omitempty"`
	LockFilePath  string             `json:"lockFilePath"`
	Workflow      string             `json:"workflow"`
	CachedEntries int                `json:"cachedEntries"`
	Watches       []WatchStatus      `json:"watches"`
	Dependencies  []DependencyStatus `json:"dependencies"`
}

// WatchStatus reports one reconciler subscription.
type WatchStatus struct {
	Organization string `json:"organization"`
	Events       int64  `json:"events"`
	Refreshes    int64  `json:"refreshes"`
	Dropped      int64  `json:"dropped"`
}

// DependencyStatus captures the result of a preflight check.
type DependencyStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// NotificationResult reports a test notification attempt.
type NotificationResult struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}
