package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email,max=50"`
	Password string `json:"password" validate:"min=6"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Name:     "alice",
		Email:    "alice@example.com",
		Password: "hunter22",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Name:     "",
		Email:    "invalid",
		Password: "short",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundEmail := false
	for _, v := range vErrs {
		if v.Field == "email" {
			foundEmail = true
		}
	}

	if !foundEmail {
		t.Fatal("expected email field to be present in validation errors")
	}
}

func TestJWTRule(t *testing.T) {
	type refresh struct {
		Token string `json:"refresh_token" validate:"required,jwt"`
	}

	if err := ValidateStruct(refresh{Token: "aaa.bbb.ccc"}); err != nil {
		t.Fatalf("expected compact token to pass, got %v", err)
	}
	for _, bad := range []string{"not-a-token", "a.b", "a..c", "a.b.c.d"} {
		if err := ValidateStruct(refresh{Token: bad}); err == nil {
			t.Fatalf("expected %q to fail validation", bad)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("iam", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "iam"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"iam"`
	}

	if err := ValidateStruct(custom{Value: "iam"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
