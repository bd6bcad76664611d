package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCategory groups planner errors for handling and reporting
type ErrorCategory string

const (
	ErrorCategoryClassification ErrorCategory = "classification"
	ErrorCategoryPolicy         ErrorCategory = "policy"
	ErrorCategoryPlan           ErrorCategory = "plan"
	ErrorCategoryCache          ErrorCategory = "cache"
	ErrorCategoryAssembly       ErrorCategory = "assembly"
	ErrorCategoryRegistry       ErrorCategory = "registry"
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryAuth           ErrorCategory = "auth"
	ErrorCategoryFilesystem     ErrorCategory = "filesystem"
	ErrorCategoryConfiguration  ErrorCategory = "configuration"
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// PlanError carries categorized error information through planning and
// assembly. Planning categories (classification, policy, plan) are
// deterministic and never retryable; transport categories may be.
type PlanError struct {
	Category   ErrorCategory          `json:"category"`
	Severity   ErrorSeverity          `json:"severity"`
	Code       string                 `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Cause      error                  `json:"-"`
	Operation  string                 `json:"operation,omitempty"`
	Path       string                 `json:"path,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Retryable  bool                   `json:"retryable"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
}

// Error implements the error interface
func (e *PlanError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s:%s] %s: %s (path %s)", e.Category, e.Severity, e.Operation, e.Message, e.Path)
	}
	if e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Severity, e.Operation, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Severity, e.Message)
}

// Unwrap returns the underlying error
func (e *PlanError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if the error might succeed on retry
func (e *PlanError) IsRetryable() bool {
	return e.Retryable
}

// IsCritical returns true if the error should stop the run immediately
func (e *PlanError) IsCritical() bool {
	return e.Severity == ErrorSeverityCritical
}

// GetUserFriendlyMessage returns the message with any suggestion appended
func (e *PlanError) GetUserFriendlyMessage() string {
	msg := e.Message
	if e.Suggestion != "" {
		msg += "\n\nSuggestion: " + e.Suggestion
	}
	return msg
}

// ErrorBuilder constructs PlanError instances with proper categorization
type ErrorBuilder struct {
	category   ErrorCategory
	severity   ErrorSeverity
	code       string
	message    string
	cause      error
	operation  string
	path       string
	retryable  bool
	retrySet   bool
	suggestion string
	metadata   map[string]interface{}
}

// NewErrorBuilder creates a new error builder
func NewErrorBuilder() *ErrorBuilder {
	return &ErrorBuilder{
		metadata: make(map[string]interface{}),
	}
}

// Category sets the error category
func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	b.category = category
	return b
}

// Severity sets the error severity
func (b *ErrorBuilder) Severity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// Code sets the error code
func (b *ErrorBuilder) Code(code string) *ErrorBuilder {
	b.code = code
	return b
}

// Message sets the error message
func (b *ErrorBuilder) Message(message string) *ErrorBuilder {
	b.message = message
	return b
}

// Messagef sets the error message with formatting
func (b *ErrorBuilder) Messagef(format string, args ...interface{}) *ErrorBuilder {
	b.message = fmt.Sprintf(format, args...)
	return b
}

// Cause sets the underlying error
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// Operation sets the operation context
func (b *ErrorBuilder) Operation(operation string) *ErrorBuilder {
	b.operation = operation
	return b
}

// Path sets the file path the error refers to
func (b *ErrorBuilder) Path(path string) *ErrorBuilder {
	b.path = path
	return b
}

// Retryable sets whether the error is retryable
func (b *ErrorBuilder) Retryable(retryable bool) *ErrorBuilder {
	b.retryable = retryable
	b.retrySet = true
	return b
}

// Suggestion sets a user-friendly suggestion
func (b *ErrorBuilder) Suggestion(suggestion string) *ErrorBuilder {
	b.suggestion = suggestion
	return b
}

// Metadata adds metadata to the error
func (b *ErrorBuilder) Metadata(key string, value interface{}) *ErrorBuilder {
	b.metadata[key] = value
	return b
}

// Build creates the PlanError instance
func (b *ErrorBuilder) Build() *PlanError {
	if b.category == "" {
		b.category = categorizeError(b.message, b.operation)
	}
	if b.severity == "" {
		b.severity = determineSeverity(b.category)
	}
	if !b.retrySet {
		b.retryable = isRetryableCategory(b.category)
	}

	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &PlanError{
		Category:   b.category,
		Severity:   b.severity,
		Code:       b.code,
		Message:    b.message,
		Cause:      b.cause,
		Operation:  b.operation,
		Path:       b.path,
		Timestamp:  time.Now(),
		Retryable:  b.retryable,
		Suggestion: b.suggestion,
		Metadata:   b.metadata,
		StackTrace: string(buf[:n]),
	}
}

// categorizeError assigns a category based on message and operation content
func categorizeError(message, operation string) ErrorCategory {
	msgLower := strings.ToLower(message)
	opLower := strings.ToLower(operation)

	if strings.Contains(msgLower, "auth") || strings.Contains(msgLower, "credential") || strings.Contains(msgLower, "unauthorized") {
		return ErrorCategoryAuth
	}

	switch {
	case strings.Contains(opLower, "classify") || strings.Contains(opLower, "scan"):
		return ErrorCategoryClassification
	case strings.Contains(opLower, "partition"):
		return ErrorCategoryPolicy
	case strings.Contains(opLower, "emit") || strings.Contains(opLower, "plan"):
		return ErrorCategoryPlan
	case strings.Contains(opLower, "push") || strings.Contains(opLower, "pull") || strings.Contains(opLower, "registry"):
		return ErrorCategoryRegistry
	case strings.Contains(opLower, "assemble") || strings.Contains(opLower, "materialize") || strings.Contains(opLower, "export"):
		return ErrorCategoryAssembly
	case strings.Contains(opLower, "cache"):
		return ErrorCategoryCache
	}

	switch {
	case strings.Contains(msgLower, "classif"):
		return ErrorCategoryClassification
	case strings.Contains(msgLower, "max_layers") || strings.Contains(msgLower, "policy"):
		return ErrorCategoryPolicy
	case strings.Contains(msgLower, "entrypoint") || strings.Contains(msgLower, "base image"):
		return ErrorCategoryPlan
	case strings.Contains(msgLower, "registry") || strings.Contains(msgLower, "push") || strings.Contains(msgLower, "pull"):
		return ErrorCategoryRegistry
	case strings.Contains(msgLower, "network") || strings.Contains(msgLower, "connection"):
		return ErrorCategoryNetwork
	case strings.Contains(msgLower, "timeout") || strings.Contains(msgLower, "deadline"):
		return ErrorCategoryTimeout
	case strings.Contains(msgLower, "cache"):
		return ErrorCategoryCache
	case strings.Contains(msgLower, "config") || strings.Contains(msgLower, "parse") || strings.Contains(msgLower, "invalid"):
		return ErrorCategoryConfiguration
	case strings.Contains(msgLower, "file") || strings.Contains(msgLower, "directory") || strings.Contains(msgLower, "no such"):
		return ErrorCategoryFilesystem
	default:
		return ErrorCategoryUnknown
	}
}

// determineSeverity maps a category to its default severity
func determineSeverity(category ErrorCategory) ErrorSeverity {
	switch category {
	case ErrorCategoryAuth:
		return ErrorSeverityCritical
	case ErrorCategoryClassification, ErrorCategoryPolicy, ErrorCategoryPlan,
		ErrorCategoryAssembly, ErrorCategoryConfiguration:
		return ErrorSeverityHigh
	case ErrorCategoryRegistry, ErrorCategoryNetwork, ErrorCategoryTimeout,
		ErrorCategoryCache, ErrorCategoryFilesystem:
		return ErrorSeverityMedium
	default:
		return ErrorSeverityLow
	}
}

// isRetryableCategory reports whether a category is transient. Only
// transport failures qualify; every planning category is deterministic.
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryRegistry, ErrorCategoryTimeout:
		return true
	}
	return false
}

// NewClassificationError reports a file no rule could classify
func NewClassificationError(path, message string, cause error) *PlanError {
	return NewErrorBuilder().
		Category(ErrorCategoryClassification).
		Severity(ErrorSeverityHigh).
		Operation("classify").
		Path(path).
		Message(message).
		Cause(cause).
		Retryable(false).
		Suggestion("Add a matching classification rule or set default_class in the policy").
		Build()
}

// NewPolicyViolationError reports a partition that cannot satisfy the policy
func NewPolicyViolationError(message string) *PlanError {
	return NewErrorBuilder().
		Category(ErrorCategoryPolicy).
		Severity(ErrorSeverityHigh).
		Operation("partition").
		Message(message).
		Retryable(false).
		Suggestion("Raise max_layers or loosen max_layer_bytes in the policy").
		Build()
}

// NewInvalidPlanError reports a plan that failed emission validation
func NewInvalidPlanError(message string) *PlanError {
	return NewErrorBuilder().
		Category(ErrorCategoryPlan).
		Severity(ErrorSeverityHigh).
		Operation("emit").
		Message(message).
		Retryable(false).
		Suggestion("Check the base image reference and entrypoint in the policy").
		Build()
}

// NewAssemblyError wraps a backend failure during plan materialization
func NewAssemblyError(operation, message string, cause error) *PlanError {
	return NewErrorBuilder().
		Category(ErrorCategoryAssembly).
		Severity(ErrorSeverityHigh).
		Operation(operation).
		Message(message).
		Cause(cause).
		Retryable(false).
		Build()
}

// NewCacheError reports a cache store failure
func NewCacheError(operation, message string, cause error) *PlanError {
	return NewErrorBuilder().
		Category(ErrorCategoryCache).
		Severity(ErrorSeverityMedium).
		Operation(operation).
		Message(message).
		Cause(cause).
		Retryable(false).
		Suggestion("Check cache directory permissions and disk space").
		Build()
}

// NewRegistryError reports a registry interaction failure
func NewRegistryError(operation, message string, cause error) *PlanError {
	return NewErrorBuilder().
		Category(ErrorCategoryRegistry).
		Severity(ErrorSeverityMedium).
		Operation(operation).
		Message(message).
		Cause(cause).
		Retryable(true).
		Suggestion("Check registry connectivity and credentials").
		Build()
}

// NewAuthError reports an authentication failure
func NewAuthError(operation, message string, cause error) *PlanError {
	return NewErrorBuilder().
		Category(ErrorCategoryAuth).
		Severity(ErrorSeverityCritical).
		Operation(operation).
		Message(message).
		Cause(cause).
		Retryable(false).
		Suggestion("Verify registry credentials and permissions").
		Build()
}

// NewFilesystemError reports a filesystem failure
func NewFilesystemError(operation, message string, cause error) *PlanError {
	return NewErrorBuilder().
		Category(ErrorCategoryFilesystem).
		Severity(ErrorSeverityMedium).
		Operation(operation).
		Message(message).
		Cause(cause).
		Retryable(false).
		Suggestion("Check file paths and permissions").
		Build()
}

// NewConfigurationError reports invalid planner configuration
func NewConfigurationError(message string, cause error) *PlanError {
	return NewErrorBuilder().
		Category(ErrorCategoryConfiguration).
		Severity(ErrorSeverityHigh).
		Message(message).
		Cause(cause).
		Retryable(false).
		Build()
}

// WrapError wraps an existing error with PlanError categorization
func WrapError(err error, operation string) *PlanError {
	if err == nil {
		return nil
	}
	var planErr *PlanError
	if stderrors.As(err, &planErr) {
		return planErr
	}
	return NewErrorBuilder().
		Message(err.Error()).
		Cause(err).
		Operation(operation).
		Build()
}

// AsPlanError extracts a PlanError from an error chain
func AsPlanError(err error) (*PlanError, bool) {
	var planErr *PlanError
	if stderrors.As(err, &planErr) {
		return planErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	if planErr, ok := AsPlanError(err); ok {
		return planErr.Category == category
	}
	return false
}

// IsClassificationError reports whether err is a classification failure
func IsClassificationError(err error) bool {
	return IsCategory(err, ErrorCategoryClassification)
}

// IsPolicyViolation reports whether err is a policy violation
func IsPolicyViolation(err error) bool {
	return IsCategory(err, ErrorCategoryPolicy)
}

// IsInvalidPlan reports whether err is a plan validation failure
func IsInvalidPlan(err error) bool {
	return IsCategory(err, ErrorCategoryPlan)
}

// IsAssemblyError reports whether err is an assembly failure
func IsAssemblyError(err error) bool {
	return IsCategory(err, ErrorCategoryAssembly)
}

// ErrorCollector accumulates errors across independent items, letting the
// classifier report every unclassifiable file instead of only the first
type ErrorCollector struct {
	errors   []*PlanError
	warnings []string
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors:   make([]*PlanError, 0),
		warnings: make([]string, 0),
	}
}

// AddError adds an error to the collector
func (c *ErrorCollector) AddError(err *PlanError) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// AddWarning adds a warning to the collector
func (c *ErrorCollector) AddWarning(message string) {
	c.warnings = append(c.warnings, message)
}

// HasErrors returns true if there are any errors
func (c *ErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetErrors returns all collected errors
func (c *ErrorCollector) GetErrors() []*PlanError {
	return c.errors
}

// GetWarnings returns all collected warnings
func (c *ErrorCollector) GetWarnings() []string {
	return c.warnings
}

// ToError collapses the collector into a single error, or nil
func (c *ErrorCollector) ToError() error {
	if len(c.errors) == 0 {
		return nil
	}
	if len(c.errors) == 1 {
		return c.errors[0]
	}
	messages := make([]string, len(c.errors))
	for i, err := range c.errors {
		messages[i] = err.Error()
	}
	return NewErrorBuilder().
		Category(c.errors[0].Category).
		Severity(ErrorSeverityHigh).
		Messagef("%d errors occurred: %s", len(c.errors), strings.Join(messages, "; ")).
		Build()
}
