package httpserver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/walletpulse/walletpulse/internal/domain"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

// getValidator returns the process-wide validator with the solana_address
// rule registered (base58, length 32..44).
func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New()
		_ = vld.RegisterValidation("solana_address", func(fl validator.FieldLevel) bool {
			return domain.ValidWalletAddress(fl.Field().String())
		})
	})
	return vld
}

// validateStruct runs struct validation and converts failures into a 400-able
// error plus a field->tag detail map.
func validateStruct(v any) (map[string]string, error) {
	if err := getValidator().Struct(v); err != nil {
		verrs := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		return verrs, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument)
	}
	return nil, nil
}

// validateWalletAddress checks a path-supplied address outside struct
// validation.
func validateWalletAddress(addr string) error {
	if !domain.ValidWalletAddress(addr) {
		return fmt.Errorf("%w: walletAddress must be base58, length 32..44", domain.ErrInvalidArgument)
	}
	return nil
}
