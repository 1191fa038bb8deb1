package parser

import "fmt"

// Code enumerates the parser's own failure/warning kinds (§4.1 Failure
// modes). Downstream stages add their own diagnostic codes; these are
// the ones raised before a raw AST exists.
type Code string

const (
	CodeParseError          Code = "PARSE_ERROR"
	CodeUnknownTag          Code = "UNKNOWN_TAG"
	CodeScopeNotIdentifier  Code = "SCOPE_NOT_IDENTIFIER"
)

// Diagnostic locates a parser error or warning in the source text.
type Diagnostic struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", d.Code, d.Line, d.Column, d.Message)
}

func newError(code Code, line, col int, format string, args ...any) Diagnostic {
	return Diagnostic{Code: code, Message: fmt.Sprintf(format, args...), Line: line, Column: col}
}
