package errors

import (
	"fmt"
	"testing"
)

func TestPlanError_Error(t *testing.T) {
	tests := []struct {
		name     string
		error    *PlanError
		expected string
	}{
		{
			name: "path error",
			error: &PlanError{
				Category:  ErrorCategoryClassification,
				Severity:  ErrorSeverityHigh,
				Operation: "classify",
				Path:      "out/mystery.bin",
				Message:   "no rule matched",
			},
			expected: "[classification:high] classify: no rule matched (path out/mystery.bin)",
		},
		{
			name: "operation error",
			error: &PlanError{
				Category:  ErrorCategoryPolicy,
				Severity:  ErrorSeverityHigh,
				Operation: "partition",
				Message:   "max_layers exceeded",
			},
			expected: "[policy:high] partition: max_layers exceeded",
		},
		{
			name: "minimal error",
			error: &PlanError{
				Category: ErrorCategoryUnknown,
				Severity: ErrorSeverityLow,
				Message:  "something happened",
			},
			expected: "[unknown:low] something happened",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.error.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	classErr := NewClassificationError("out/x.bin", "no rule matched", nil)
	if classErr.Category != ErrorCategoryClassification {
		t.Errorf("Expected classification category, got %s", classErr.Category)
	}
	if classErr.Path != "out/x.bin" {
		t.Errorf("Expected path to be set, got %q", classErr.Path)
	}
	if classErr.Retryable {
		t.Error("Classification errors must not be retryable")
	}

	policyErr := NewPolicyViolationError("4 classes, max_layers 2")
	if policyErr.Category != ErrorCategoryPolicy || policyErr.Retryable {
		t.Errorf("Unexpected policy error: %+v", policyErr)
	}

	planErr := NewInvalidPlanError("entrypoint missing from application layer")
	if planErr.Category != ErrorCategoryPlan || planErr.Retryable {
		t.Errorf("Unexpected plan error: %+v", planErr)
	}

	asmErr := NewAssemblyError("assemble", "backend failed", fmt.Errorf("boom"))
	if asmErr.Category != ErrorCategoryAssembly || asmErr.Retryable {
		t.Errorf("Unexpected assembly error: %+v", asmErr)
	}
	if asmErr.Unwrap() == nil {
		t.Error("Expected cause to be preserved")
	}

	regErr := NewRegistryError("push", "connection reset", fmt.Errorf("reset"))
	if !regErr.Retryable {
		t.Error("Registry errors should be retryable")
	}

	authErr := NewAuthError("push", "unauthorized", nil)
	if !authErr.IsCritical() {
		t.Error("Auth errors should be critical")
	}
	if authErr.Retryable {
		t.Error("Auth errors must not be retryable")
	}
}

func TestBuilderAutoCategorization(t *testing.T) {
	tests := []struct {
		message   string
		operation string
		want      ErrorCategory
	}{
		{"no rule matched file", "classify", ErrorCategoryClassification},
		{"max_layers too small", "", ErrorCategoryPolicy},
		{"entrypoint not found", "", ErrorCategoryPlan},
		{"connection refused by host", "", ErrorCategoryNetwork},
		{"push rejected", "", ErrorCategoryRegistry},
		{"unauthorized access", "push", ErrorCategoryAuth},
		{"cache entry corrupt", "", ErrorCategoryCache},
		{"deadline exceeded", "", ErrorCategoryTimeout},
		{"weird condition", "", ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		err := NewErrorBuilder().Message(tt.message).Operation(tt.operation).Build()
		if err.Category != tt.want {
			t.Errorf("Message %q op %q: expected category %s, got %s", tt.message, tt.operation, tt.want, err.Category)
		}
	}
}

func TestBuilderRetryableOverride(t *testing.T) {
	// Explicit Retryable(false) must survive for a normally retryable category.
	err := NewErrorBuilder().
		Category(ErrorCategoryRegistry).
		Message("push failed permanently").
		Retryable(false).
		Build()
	if err.Retryable {
		t.Error("Explicit Retryable(false) was overridden")
	}
}

func TestPredicates(t *testing.T) {
	var err error = NewPolicyViolationError("too many classes")
	if !IsPolicyViolation(err) {
		t.Error("IsPolicyViolation failed on direct error")
	}

	wrapped := fmt.Errorf("planning failed: %w", err)
	if !IsPolicyViolation(wrapped) {
		t.Error("IsPolicyViolation failed through wrapping")
	}
	if IsClassificationError(wrapped) {
		t.Error("Wrong predicate matched")
	}

	if IsInvalidPlan(fmt.Errorf("plain error")) {
		t.Error("Predicate matched a plain error")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "noop") != nil {
		t.Error("Wrapping nil should return nil")
	}

	original := NewCacheError("cache_read", "record corrupt", nil)
	if got := WrapError(original, "other"); got != original {
		t.Error("Wrapping a PlanError should return it unchanged")
	}

	plain := fmt.Errorf("directory vanished")
	wrapped := WrapError(plain, "scan")
	if wrapped.Cause != plain {
		t.Error("Expected cause to be the original error")
	}
	if wrapped.Category != ErrorCategoryClassification {
		t.Errorf("Expected scan operation to categorize as classification, got %s", wrapped.Category)
	}
}

func TestErrorCollector(t *testing.T) {
	c := NewErrorCollector()
	if c.HasErrors() {
		t.Error("New collector should be empty")
	}
	if c.ToError() != nil {
		t.Error("Empty collector should produce nil error")
	}

	first := NewClassificationError("a.bin", "no rule matched", nil)
	c.AddError(first)
	c.AddError(nil)
	if len(c.GetErrors()) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(c.GetErrors()))
	}
	if c.ToError() != first {
		t.Error("Single-error collector should return that error")
	}

	c.AddError(NewClassificationError("b.bin", "no rule matched", nil))
	c.AddWarning("slow walk")
	combined := c.ToError()
	if combined == nil {
		t.Fatal("Expected combined error")
	}
	planErr, ok := AsPlanError(combined)
	if !ok {
		t.Fatal("Combined error should be a PlanError")
	}
	if planErr.Category != ErrorCategoryClassification {
		t.Errorf("Combined error should keep the first category, got %s", planErr.Category)
	}
	if len(c.GetWarnings()) != 1 {
		t.Errorf("Expected 1 warning, got %d", len(c.GetWarnings()))
	}
}
