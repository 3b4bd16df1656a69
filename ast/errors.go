package ast

import "fmt"

// ErrorKind is one of the stable, user-facing diagnostic codes.
type ErrorKind string

// The stable error codes used by both subsystems. Kept as a closed set of
// string constants (rather than an int enum) so a diagnostic's Kind survives
// round-tripping through logs and tests unchanged.
const (
	IntegerOutOfRange                                        ErrorKind = "INTEGER_OUT_OF_RANGE"
	InvalidFunctionName                                      ErrorKind = "INVALID_FUNCTION_NAME"
	InvalidParamName                                         ErrorKind = "INVALID_PARAM_NAME"
	InvalidVarNameIj                                         ErrorKind = "INVALID_VAR_NAME_IJ"
	DuplicateParamName                                       ErrorKind = "DUPLICATE_PARAM_NAME"
	UnexpectedIjDataReference                                ErrorKind = "UNEXPECTED_IJ_DATA_REFERENCE"
	SingleIdentifierKeyInMapLiteral                          ErrorKind = "SINGLE_IDENTIFIER_KEY_IN_MAP_LITERAL"
	BlockChangesContext                                      ErrorKind = "BLOCK_CHANGES_CONTEXT"
	BlockEndsInInvalidState                                  ErrorKind = "BLOCK_ENDS_IN_INVALID_STATE"
	BlockTransitionDisallowed                                ErrorKind = "BLOCK_TRANSITION_DISALLOWED"
	ExpectedAttributeValue                                   ErrorKind = "EXPECTED_ATTRIBUTE_VALUE"
	ExpectedWsEqOrCloseAfterAttributeName                    ErrorKind = "EXPECTED_WS_EQ_OR_CLOSE_AFTER_ATTRIBUTE_NAME"
	ExpectedWsOrCloseAfterTagOrAttribute                     ErrorKind = "EXPECTED_WS_OR_CLOSE_AFTER_TAG_OR_ATTRIBUTE"
	FoundEndOfAttributeStartedInAnotherBlock                 ErrorKind = "FOUND_END_OF_ATTRIBUTE_STARTED_IN_ANOTHER_BLOCK"
	FoundEndTagStartedInAnotherBlock                         ErrorKind = "FOUND_END_TAG_STARTED_IN_ANOTHER_BLOCK"
	FoundEqWithAttributeInAnotherBlock                       ErrorKind = "FOUND_EQ_WITH_ATTRIBUTE_IN_ANOTHER_BLOCK"
	GenericUnexpectedChar                                    ErrorKind = "GENERIC_UNEXPECTED_CHAR"
	IllegalHtmlAttributeCharacter                            ErrorKind = "ILLEGAL_HTML_ATTRIBUTE_CHARACTER"
	InvalidIdentifier                                        ErrorKind = "INVALID_IDENTIFIER"
	InvalidLocationForControlFlow                            ErrorKind = "INVALID_LOCATION_FOR_CONTROL_FLOW"
	InvalidLocationForNonprintable                           ErrorKind = "INVALID_LOCATION_FOR_NONPRINTABLE"
	InvalidTagName                                           ErrorKind = "INVALID_TAG_NAME"
	SelfClosingCloseTag                                      ErrorKind = "SELF_CLOSING_CLOSE_TAG"
	UnexpectedCloseTagContent                                ErrorKind = "UNEXPECTED_CLOSE_TAG_CONTENT"
	UnexpectedWsAfterLt                                      ErrorKind = "UNEXPECTED_WS_AFTER_LT"
	ConditionalBlockIsntGuaranteedToProduceOneAttributeValue ErrorKind = "CONDITIONAL_BLOCK_ISNT_GUARANTEED_TO_PRODUCE_ONE_ATTRIBUTE_VALUE"

	// Reported when parenthesized expressions nest past the recursion guard.
	ExpressionNestingTooDeep ErrorKind = "EXPRESSION_NESTING_TOO_DEEP"
)

// Severity distinguishes hard errors from warnings. Warnings never make a
// parse fail; the one current producer is the conditional-attribute-value
// guarantee check in the HTML rewriter.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Diagnostic is a single reported problem. It implements error and exposes
// File/Line/Col accessors so it can be handed to code written against a
// file-position error convention.
type Diagnostic struct {
	Location SourceLocation
	Kind     ErrorKind
	Severity Severity
	Message  string
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s", d.Location, d.Kind, d.Message)
}

func (d *Diagnostic) File() string { return d.Location.Filename() }
func (d *Diagnostic) Line() int    { return d.Location.Start.Line }
func (d *Diagnostic) Col() int     { return d.Location.Start.Col }

// ErrorReporter is the collaborator both subsystems report diagnostics
// through. Errors never escape the public entry points as Go panics or
// returned errors; they are funneled here instead, and the AST is still
// populated using sentinel nodes where a value is required.
type ErrorReporter interface {
	Report(loc SourceLocation, kind ErrorKind, format string, args ...interface{})
	ReportWarning(loc SourceLocation, kind ErrorKind, format string, args ...interface{})
	// Checkpoint returns a token representing the current diagnostic count.
	Checkpoint() int
	// ErrorsSince reports whether any Report (not ReportWarning) call has
	// happened since the given checkpoint.
	ErrorsSince(checkpoint int) bool
}

// Reporter is the concrete, in-memory ErrorReporter implementation used by
// both the ExprParser's public entry points and the HtmlRewriter.
type Reporter struct {
	diags []*Diagnostic
}

// NewReporter returns an empty Reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

func (r *Reporter) Report(loc SourceLocation, kind ErrorKind, format string, args ...interface{}) {
	r.diags = append(r.diags, &Diagnostic{
		Location: loc,
		Kind:     kind,
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (r *Reporter) ReportWarning(loc SourceLocation, kind ErrorKind, format string, args ...interface{}) {
	r.diags = append(r.diags, &Diagnostic{
		Location: loc,
		Kind:     kind,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (r *Reporter) Checkpoint() int {
	return len(r.diags)
}

func (r *Reporter) ErrorsSince(checkpoint int) bool {
	for _, d := range r.diags[checkpoint:] {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Diagnostics returns every diagnostic reported so far, in source order.
func (r *Reporter) Diagnostics() []*Diagnostic {
	return r.diags
}

// HasErrors reports whether any SeverityError diagnostic has been reported.
func (r *Reporter) HasErrors() bool {
	return r.ErrorsSince(0)
}

type causer interface {
	Cause() error
}

// RootCause unwraps a chain of Cause()-returning errors down to the root.
func RootCause(err error) error {
	for {
		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return err
		}
	}
}

// AsDiagnostic extracts the *Diagnostic at the root of err, if any.
func AsDiagnostic(err error) *Diagnostic {
	if err == nil {
		return nil
	}
	if d, ok := RootCause(err).(*Diagnostic); ok {
		return d
	}
	return nil
}
