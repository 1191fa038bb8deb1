// Package validate implements the Validator stage (§4.4): a fixed set
// of structural and type-safety rules plus a pluggable registry of
// CEL-scripted "agent rules" that a deployment can register at startup
// without recompiling the compiler.
package validate

// Severity classifies a Diagnostic as blocking (Error) or advisory
// (Warning). A Report with any Error diagnostic is not Valid; Warnings
// never affect Valid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic locates one validator finding.
type Diagnostic struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	NodeID   string   `json:"nodeId,omitempty"`
	Port     string   `json:"port,omitempty"`
}

// Report is the outcome of a Validate call.
type Report struct {
	Valid    bool         `json:"valid"`
	Errors   []Diagnostic `json:"errors,omitempty"`
	Warnings []Diagnostic `json:"warnings,omitempty"`
}

func (r *Report) add(d Diagnostic) {
	if d.Severity == SeverityError {
		r.Errors = append(r.Errors, d)
	} else {
		r.Warnings = append(r.Warnings, d)
	}
}

func errDiag(code, nodeID, port, format string, args ...any) Diagnostic {
	return newDiag(SeverityError, code, nodeID, port, format, args...)
}

func warnDiag(code, nodeID, port, format string, args ...any) Diagnostic {
	return newDiag(SeverityWarning, code, nodeID, port, format, args...)
}
