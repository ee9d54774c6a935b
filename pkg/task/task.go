// Package task defines the typed contract flowing between intent inference,
// script synthesis and sandboxed execution: the Task Descriptor produced for
// every classified utterance and the uniform Task Result envelope every
// executed action returns.
package task

// ActionKind identifies one of the whitelisted action categories. Every kind
// except UNKNOWN must be declared in the capability registry before a
// descriptor carrying it can be synthesized.
type ActionKind string

const (
	ActionOpenApp           ActionKind = "OPEN_APP"
	ActionCloseApp          ActionKind = "CLOSE_APP"
	ActionSearchLocal       ActionKind = "SEARCH_LOCAL"
	ActionSearchWeb         ActionKind = "SEARCH_WEB"
	ActionOpenPath          ActionKind = "OPEN_PATH"
	ActionOpenIndexedResult ActionKind = "OPEN_INDEXED_RESULT"
	ActionResetContext      ActionKind = "RESET_CONTEXT"
	// ActionFileOp covers the literal file-command layer (create, write,
	// move, delete and so on), where the operation is named directly.
	ActionFileOp  ActionKind = "FILE_OP"
	ActionUnknown ActionKind = "UNKNOWN"
)

// Descriptor is the immutable classification of one user utterance. It is
// created fresh per turn by the intent inferencer and consumed by the script
// synthesizer; downstream components never see raw model output.
type Descriptor struct {
	Action               ActionKind             `json:"action"`
	Params               map[string]interface{} `json:"params,omitempty"`
	Confidence           float64                `json:"confidence"`
	RequiresConfirmation bool                   `json:"requires_confirmation"`
	RawUtterance         string                 `json:"raw_utterance"`
}

// Reason codes attached to failed results so the orchestrator can phrase the
// user-facing reply without parsing error strings.
const (
	ReasonInferenceUnavailable = "inference_unavailable"
	ReasonAmbiguousReference   = "ambiguous_reference"
	ReasonCapabilityViolation  = "capability_violation"
	ReasonExecutionTimeout     = "execution_timeout"
	ReasonOutputOverflow       = "output_overflow"
	ReasonOperationFailure     = "operation_failure"
	ReasonConfirmationRequired = "confirmation_required"
)

// Result is the uniform envelope returned by every executed action. Stdout
// carries the user-facing summary, Stderr diagnostic text, Data structured
// payload such as discovered paths or the opened URL.
type Result struct {
	Ok     bool                   `json:"ok"`
	Stdout string                 `json:"stdout"`
	Stderr string                 `json:"stderr"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// OkResult builds a successful result with a user-facing summary.
func OkResult(stdout string) *Result {
	return &Result{Ok: true, Stdout: stdout, Data: map[string]interface{}{}}
}

// ErrorResult builds a failed result carrying a classified reason code.
func ErrorResult(reason, message string) *Result {
	return &Result{
		Ok:     false,
		Stderr: message,
		Data: map[string]interface{}{
			"reason": reason,
		},
	}
}

// Reason returns the classified reason code of a failed result, or "".
func (r *Result) Reason() string {
	if r == nil || r.Data == nil {
		return ""
	}
	if reason, ok := r.Data["reason"].(string); ok {
		return reason
	}
	return ""
}

// WithData sets one structured payload field and returns the result for
// chaining during construction.
func (r *Result) WithData(key string, value interface{}) *Result {
	if r.Data == nil {
		r.Data = map[string]interface{}{}
	}
	r.Data[key] = value
	return r
}

// Results extracts the ordered result list from Data, tolerating both
// []string and []interface{} encodings (the latter appears after a JSON
// round-trip through the gateway).
func (r *Result) Results() []string {
	if r == nil || r.Data == nil {
		return nil
	}
	switch v := r.Data["results"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
