package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/domain"
	"github.com/tbourn/go-relay-bot/internal/repo"
)

// TokenService mints reference tokens and resolves them back to messages.
//
// Tokens are random UUIDv4 strings. They carry no information about the
// channel post and act as bearer capabilities: holding one is enough to read
// the message it names.
type TokenService struct {
	DB *gorm.DB
}

// Mint returns a fresh token. Uniqueness rests on 122 random bits; the store
// is not consulted.
func (s *TokenService) Mint() string {
	return uuid.NewString()
}

// Resolve returns the message carrying token, or ErrNotFound. Malformed
// tokens are rejected without a store lookup.
func (s *TokenService) Resolve(ctx context.Context, token string) (*domain.Message, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("message.token", token)),
	)
	defer span.End()

	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrNotFound
	}
	m, err := repo.FindMessageByToken(ctx, s.DB, token)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return m, nil
}

// RecordJoin credits a message with one newly provisioned user.
func (s *TokenService) RecordJoin(ctx context.Context, token string) error {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "RecordJoin",
		trace.WithAttributes(attribute.String("message.token", token)),
	)
	defer span.End()

	err := repo.IncrementJoinCount(ctx, s.DB, token)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
