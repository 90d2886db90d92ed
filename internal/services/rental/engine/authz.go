package engine

import (
	"strings"

	apperrors "github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/platform/errors"
	"github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/services/rental/domain"
)

// Sentinel outcomes shared by every operation.
var (
	// ErrUnauthorized indicates the acting identity could not be resolved.
	ErrUnauthorized = apperrors.New(apperrors.CodeUnauthorized, "user identity could not be resolved")
	// ErrForbidden indicates the acting identity lacks administrator rights.
	ErrForbidden = apperrors.New(apperrors.CodeForbidden, "operation is restricted to administrators")
	// ErrSystemClosed indicates the global switch is off.
	ErrSystemClosed = apperrors.New(apperrors.CodeSystemClosed, "the system is closed")
)

// ResolveIdentity matches an opaque connection token against the user set.
// Pure over a read-only view of the users map.
func ResolveIdentity(users map[string]*domain.User, token string) (*domain.User, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	user, ok := users[token]
	return user, ok
}

// IsAdministrator reports whether the identity carries the administrator role.
func IsAdministrator(user *domain.User) bool {
	return user != nil && user.Role == domain.RoleAdministrator
}

func (e *Engine) requireIdentity(actor string) (*domain.User, error) {
	user, ok := ResolveIdentity(e.state.Users, actor)
	if !ok {
		return nil, ErrUnauthorized
	}
	return user, nil
}

func (e *Engine) requireAdministrator(actor string) error {
	user, _ := ResolveIdentity(e.state.Users, actor)
	if !IsAdministrator(user) {
		return ErrForbidden
	}
	return nil
}
