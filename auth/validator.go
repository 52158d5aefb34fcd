package auth

import (
	"fmt"
	"room-chat/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type signInRequest struct {
	Provider string `validate:"required,oneof=google github gitlab discord azure apple bitbucket facebook slack spotify twitch twitter linkedin_oidc notion zoom keycloak workos figma kakao"`
}

// ValidateProvider rejects providers the identity service does not offer.
func ValidateProvider(provider string) error {
	if err := validate.Struct(signInRequest{Provider: provider}); err != nil {
		return fmt.Errorf("%w: %q", errors.ErrInvalidProvider, provider)
	}
	return nil
}

func ValidateConfig(config Config) error {
	return validate.Struct(config)
}
