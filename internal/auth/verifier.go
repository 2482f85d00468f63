package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
)

// ErrElevationDenied covers every failed elevation attempt. Callers must not
// learn whether the email, the PIN, or the role was the problem.
var ErrElevationDenied = errors.New("elevation denied")

// CredentialVerifier checks a second set of credentials for actions that need
// a manager standing behind them, independent of whose session is logged in.
type CredentialVerifier interface {
	VerifyElevation(ctx context.Context, email, pin string) (uuid.UUID, error)
}

// ElevationStore is the slice of the user store the verifier needs.
// Satisfied by *database.Queries.
type ElevationStore interface {
	GetUserByEmail(ctx context.Context, email string) (database.User, error)
}

// PinVerifier verifies elevation against the users table: the account must be
// active, hold a MANAGER or ADMIN role, and present the matching PIN.
type PinVerifier struct {
	store ElevationStore
}

func NewPinVerifier(store ElevationStore) *PinVerifier {
	return &PinVerifier{store: store}
}

func (v *PinVerifier) VerifyElevation(ctx context.Context, email, pin string) (uuid.UUID, error) {
	user, err := v.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrElevationDenied
		}
		return uuid.Nil, err
	}
	if !user.IsActive || !user.PinHash.Valid {
		return uuid.Nil, ErrElevationDenied
	}
	if user.Role != enum.UserRoleManager && user.Role != enum.UserRoleAdmin {
		return uuid.Nil, ErrElevationDenied
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PinHash.String), []byte(pin)); err != nil {
		return uuid.Nil, ErrElevationDenied
	}
	return user.ID, nil
}
