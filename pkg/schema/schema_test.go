package schema

import (
	"errors"
	"testing"
)

type signupForm struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
	Age   int    `validate:"gte=0,lte=130"`
}

func TestValidateAcceptsValidStruct(t *testing.T) {
	v := New()
	err := v.Validate(&signupForm{Name: "Jane", Email: "jane@example.com", Age: 30})
	if err != nil {
		t.Fatalf("Expected valid struct, got %v", err)
	}
}

func TestValidateReportsFieldLevelErrors(t *testing.T) {
	v := New()
	err := v.Validate(&signupForm{Email: "not-an-email", Age: 200})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(verr.Fields) != 3 {
		t.Fatalf("Expected 3 field errors, got %d: %v", len(verr.Fields), verr.Fields)
	}

	byField := make(map[string]string, len(verr.Fields))
	for _, f := range verr.Fields {
		byField[f.Field] = f.Tag
	}
	if byField["Name"] != "required" {
		t.Errorf("Expected Name to fail required, got %q", byField["Name"])
	}
	if byField["Email"] != "email" {
		t.Errorf("Expected Email to fail email, got %q", byField["Email"])
	}
	if byField["Age"] != "lte" {
		t.Errorf("Expected Age to fail lte, got %q", byField["Age"])
	}
}

func TestValidateSkipsNonStructValues(t *testing.T) {
	v := New()
	if err := v.Validate("plain string"); err != nil {
		t.Errorf("Expected non-struct value to pass, got %v", err)
	}
}
