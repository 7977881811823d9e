package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/repo"
)

// StatsService exposes aggregate counters to the /stats command and the
// HTTP API.
type StatsService struct {
	DB *gorm.DB
}

func (s *StatsService) Stats(ctx context.Context) (repo.Stats, error) {
	ctx, span := otel.Tracer("services/StatsService").Start(ctx, "Stats")
	defer span.End()
	return repo.LoadStats(ctx, s.DB)
}
