package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/atelierhub/identity-core/internal/models"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	if err := Validate.RegisterValidation("auth_provider", validateAuthProvider); err != nil {
		panic(fmt.Sprintf("failed to register auth_provider validator: %v", err))
	}
}

// validateAuthProvider accepts only the known provider names, case-insensitively.
func validateAuthProvider(fl validator.FieldLevel) bool {
	return ValidateProvider(fl.Field().String()) == nil
}

// ValidateProvider checks a provider string against the known set.
func ValidateProvider(value string) error {
	switch strings.ToLower(value) {
	case models.ProviderGoogle, models.ProviderLinkedIn, models.ProviderPassword, models.ProviderWhatsApp:
		return nil
	default:
		return fmt.Errorf("invalid provider: %s (must be 'google', 'linkedin', 'password', or 'whatsapp')", value)
	}
}

// SanitizeText trims whitespace and strips control characters except newline and tab.
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}
	return sanitized.String()
}
