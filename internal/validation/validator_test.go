package validation

import (
	"strings"
	"testing"
)

type sample struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Kind  string `json:"kind" validate:"omitempty,oneof=a b"`
}

func TestStructPasses(t *testing.T) {
	if err := Struct(sample{Name: "n", Email: "n@example.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{Email: "nope", Kind: "c"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"name is required", "email must be a valid email", "kind must be one of [a b]"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}
