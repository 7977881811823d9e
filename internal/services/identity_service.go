package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/domain"
	"github.com/tbourn/go-relay-bot/internal/repo"
)

// IdentityService maps platform identities to stable pseudonymous users.
type IdentityService struct {
	DB *gorm.DB
}

// GetOrCreate returns the user for externalID, provisioning it on first
// contact. created is true only for the caller whose insert won; concurrent
// losers receive the same record without an error.
func (s *IdentityService) GetOrCreate(ctx context.Context, externalID int64) (*domain.User, bool, error) {
	tr := otel.Tracer("services/IdentityService")
	ctx, span := tr.Start(ctx, "GetOrCreate",
		trace.WithAttributes(attribute.Int64("user.external_id", externalID)),
	)
	defer span.End()

	u, created, err := repo.GetOrCreateUser(ctx, s.DB, externalID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("user.created", created))
	return u, created, nil
}

// FindByInternalID returns the user with the given pseudonymous id.
func (s *IdentityService) FindByInternalID(ctx context.Context, id string) (*domain.User, error) {
	u, err := repo.FindUserByInternalID(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// FindByExternalID returns the user registered for a platform identity.
func (s *IdentityService) FindByExternalID(ctx context.Context, externalID int64) (*domain.User, error) {
	u, err := repo.FindUserByExternalID(ctx, s.DB, externalID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}
