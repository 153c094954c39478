package utils

import (
	"strings"
	"testing"
)

type donationForm struct {
	ProjectID string  `json:"projectId" validate:"required"`
	Phone     string  `json:"phone" validate:"required"`
	Email     *string `json:"email" validate:"email"`
	Message   *string `json:"message" validate:"max=10"`
}

func TestValidateStruct(t *testing.T) {
	email := "donor@example.org"
	if err := ValidateStruct(&donationForm{ProjectID: "P1", Phone: "0712345678", Email: &email}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := ValidateStruct(donationForm{Phone: "0712345678"})
	if err == nil || err.Error() != "projectId is required" {
		t.Fatalf("expected projectId error, got %v", err)
	}

	bad := "not-an-email"
	err = ValidateStruct(donationForm{ProjectID: "P1", Phone: "1", Email: &bad})
	if err == nil || !strings.Contains(err.Error(), "email") {
		t.Fatalf("expected email error, got %v", err)
	}

	long := "this message is too long"
	err = ValidateStruct(donationForm{ProjectID: "P1", Phone: "1", Message: &long})
	if err == nil || !strings.Contains(err.Error(), "message") {
		t.Fatalf("expected max length error, got %v", err)
	}
}
