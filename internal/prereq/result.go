package prereq

// Finding is the outcome of one rule.
type Finding struct {
	Rule               string   `json:"rule"`
	Passed             bool     `json:"passed"`
	Errors             []string `json:"errors,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
	ApprovalGated      bool     `json:"approval_gated,omitempty"`
	ManualConfirmation bool     `json:"manual_confirmation,omitempty"`
}

// Result is the validation outcome for one proposed transition. It is computed
// per request and never persisted.
type Result struct {
	Valid                   bool      `json:"valid"`
	Errors                  []string  `json:"errors"`
	Warnings                []string  `json:"warnings"`
	CanAutoAdvance          bool      `json:"can_auto_advance"`
	RequiresManagerApproval bool      `json:"requires_manager_approval"`
	Findings                []Finding `json:"findings,omitempty"`
}

// Verdict is what a rule reports: hard failures and advisories.
type Verdict struct {
	Errors   []string
	Warnings []string
}

// Pass is the empty verdict.
func Pass() Verdict { return Verdict{} }

// Fail returns a verdict with a single blocking reason.
func Fail(reason string) Verdict { return Verdict{Errors: []string{reason}} }

// Warn returns a verdict with a single advisory.
func Warn(reason string) Verdict { return Verdict{Warnings: []string{reason}} }
