// Package services – Broadcaster
//
// Broadcaster fans an operator announcement out to the channel and then to
// registered users in paced batches. Delivery is best-effort: per-recipient
// failures are counted and reported, never retried, and batches still
// pending when the process exits are dropped.

package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/domain"
	"github.com/tbourn/go-relay-bot/internal/gateway"
	"github.com/tbourn/go-relay-bot/internal/repo"
)

// Broadcaster dispatches announcements.
type Broadcaster struct {
	DB        *gorm.DB
	Gateway   gateway.Gateway
	Scheduler Scheduler
	Links     Links

	// BatchSize users per batch; MaxBatches caps how many batches are
	// scheduled (users beyond the cap are not reached). Batch i fires
	// i*Interval after dispatch.
	BatchSize  int
	MaxBatches int
	Interval   time.Duration

	// Limiter paces individual sends; nil disables pacing.
	Limiter *rate.Limiter
	// SendTimeout bounds each send; 0 means no per-send deadline.
	SendTimeout time.Duration
}

// BroadcastReport summarizes one dispatch.
type BroadcastReport struct {
	ChannelOK  bool
	Recipients int
	Sent       int
	Failed     int
	FailedIDs  []int64
}

// BroadcastJob tracks a dispatch in flight.
type BroadcastJob struct {
	done      chan struct{}
	mu        sync.Mutex
	report    BroadcastReport
	remaining int
}

// Done is closed once the summary has been delivered (or attempted).
func (j *BroadcastJob) Done() <-chan struct{} { return j.done }

// Report returns a snapshot of the counters.
func (j *BroadcastJob) Report() BroadcastReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	r := j.report
	r.FailedIDs = append([]int64(nil), j.report.FailedIDs...)
	return r
}

func (j *BroadcastJob) record(externalID int64, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.report.Failed++
		j.report.FailedIDs = append(j.report.FailedIDs, externalID)
		return
	}
	j.report.Sent++
}

// batchDone reports whether the caller finished the last outstanding batch.
func (j *BroadcastJob) batchDone() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.remaining--
	return j.remaining == 0
}

// Dispatch starts a broadcast and returns immediately. The work is detached
// from ctx cancellation so it outlives the update that triggered it.
func (b *Broadcaster) Dispatch(ctx context.Context, operatorID int64, text string) *BroadcastJob {
	job := &BroadcastJob{done: make(chan struct{})}
	go b.start(context.WithoutCancel(ctx), job, operatorID, text)
	return job
}

func (b *Broadcaster) start(ctx context.Context, job *BroadcastJob, operatorID int64, text string) {
	tr := otel.Tracer("services/Broadcaster")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(attribute.Int64("operator.external_id", operatorID)),
	)
	defer span.End()

	// Sends use HTML parse mode for the summary's user links; the
	// announcement itself is plain text.
	text = html.EscapeString(text)

	if err := b.send(ctx, gateway.Channel(b.Links.Channel), text); err != nil {
		log.Warn().Err(err).Msg("broadcast: channel send failed")
	} else {
		job.mu.Lock()
		job.report.ChannelOK = true
		job.mu.Unlock()
	}

	limit := 0
	if b.BatchSize > 0 && b.MaxBatches > 0 {
		limit = b.BatchSize * b.MaxBatches
	}
	users, err := repo.ListUsers(ctx, b.DB, 0, limit)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("broadcast: list users failed")
		b.finish(ctx, job, operatorID)
		return
	}

	batches := partition(users, b.BatchSize)
	job.mu.Lock()
	job.report.Recipients = len(users)
	job.remaining = len(batches)
	job.mu.Unlock()
	span.SetAttributes(attribute.Int("broadcast.recipients", len(users)), attribute.Int("broadcast.batches", len(batches)))

	if len(batches) == 0 {
		b.finish(ctx, job, operatorID)
		return
	}
	for i, batch := range batches {
		batch := batch
		b.Scheduler.AfterFunc(time.Duration(i)*b.Interval, func() {
			b.runBatch(ctx, job, operatorID, text, batch)
		})
	}
}

func (b *Broadcaster) runBatch(ctx context.Context, job *BroadcastJob, operatorID int64, text string, batch []domain.User) {
	for _, u := range batch {
		if b.Limiter != nil {
			if err := b.Limiter.Wait(ctx); err != nil {
				job.record(u.ExternalID, err)
				broadcastSends.WithLabelValues("failed").Inc()
				continue
			}
		}
		err := b.send(ctx, gateway.Chat(u.ExternalID), text)
		job.record(u.ExternalID, err)
		if err != nil {
			broadcastSends.WithLabelValues("failed").Inc()
			log.Debug().Err(err).Int64("external_id", u.ExternalID).Msg("broadcast: send failed")
			continue
		}
		broadcastSends.WithLabelValues("ok").Inc()
	}
	if job.batchDone() {
		b.finish(ctx, job, operatorID)
	}
}

func (b *Broadcaster) finish(ctx context.Context, job *BroadcastJob, operatorID int64) {
	defer close(job.done)
	r := job.Report()
	if err := b.send(ctx, gateway.Chat(operatorID), summary(r)); err != nil {
		log.Warn().Err(err).Int64("operator", operatorID).Msg("broadcast: summary send failed")
	}
	log.Info().
		Int("recipients", r.Recipients).
		Int("sent", r.Sent).
		Int("failed", r.Failed).
		Msg("broadcast finished")
}

func (b *Broadcaster) send(ctx context.Context, to gateway.ChatRef, text string) error {
	if b.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.SendTimeout)
		defer cancel()
	}
	_, err := b.Gateway.SendText(ctx, to, text, gateway.Options{HTML: true})
	return err
}

// partition splits users into consecutive chunks of size n; n <= 0 yields a
// single chunk.
func partition(users []domain.User, n int) [][]domain.User {
	if len(users) == 0 {
		return nil
	}
	if n <= 0 {
		return [][]domain.User{users}
	}
	out := make([][]domain.User, 0, (len(users)+n-1)/n)
	for start := 0; start < len(users); start += n {
		end := start + n
		if end > len(users) {
			end = len(users)
		}
		out = append(out, users[start:end])
	}
	return out
}

func summary(r BroadcastReport) string {
	var sb strings.Builder
	sb.WriteString("📣 Рассылка завершена\n\n")
	fmt.Fprintf(&sb, "Успешно: %d\nОшибок: %d", r.Sent, r.Failed)
	if !r.ChannelOK {
		sb.WriteString("\nКанал: ошибка отправки")
	}
	if len(r.FailedIDs) > 0 {
		refs := make([]string, 0, len(r.FailedIDs))
		for _, id := range r.FailedIDs {
			refs = append(refs, fmt.Sprintf(`<a href="%s">%s</a>`, UserRef(id), strconv.FormatInt(id, 10)))
		}
		sb.WriteString("\n\n")
		sb.WriteString(strings.Join(refs, ", "))
	}
	return sb.String()
}
