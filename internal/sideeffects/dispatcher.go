package sideeffects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/printbound/printbound-backend/internal/audit"
	"github.com/printbound/printbound-backend/internal/ledger"
	"github.com/printbound/printbound-backend/internal/orders"
	"github.com/printbound/printbound-backend/internal/users"
	"github.com/printbound/printbound-backend/pkg/config"
	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	"github.com/printbound/printbound-backend/pkg/logger"
	"github.com/printbound/printbound-backend/pkg/metrics"
	"github.com/printbound/printbound-backend/pkg/outbox"
	"github.com/printbound/printbound-backend/pkg/outbox/payloads"
)

const (
	defaultBatchSize   = 50
	defaultPollMs      = 500
	defaultMaxAttempts = 10
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type outboxSource interface {
	FetchDispatchable(limit, maxAttempts int) ([]models.OutboxEvent, error)
	CountUnpublished() (int64, error)
	MarkPublished(id uuid.UUID) error
	MarkFailed(id uuid.UUID, err error) error
}

type mailSender interface {
	SendIssueMessageEmail(ctx context.Context, to string, orderNumber int64) error
	SendRefundConfirmationEmail(ctx context.Context, to string, orderNumber, amountCents int64) error
	SendReprintConfirmationEmail(ctx context.Context, to string, orderNumber int64) error
}

// DispatcherParams bundles the dependencies required to build a dispatcher.
type DispatcherParams struct {
	Config     config.OutboxConfig
	Repository outboxSource
	Registry   *outbox.DecoderRegistry
	Mailer     mailSender
	Ledger     ledger.Service
	Audit      *audit.Service
	UsersRepo  users.Repository
	OrdersRepo orders.Repository
	Metrics    *metrics.DispatchMetrics
	Logger     *logger.Logger
}

// Dispatcher drains the outbox and runs each event's side effects:
// customer email, ledger entries and audit records. Events that fail are
// retried with their attempt count incremented until MaxAttempts.
type Dispatcher struct {
	repo         outboxSource
	registry     *outbox.DecoderRegistry
	mailer       mailSender
	ledger       ledger.Service
	audit        *audit.Service
	usersRepo    users.Repository
	ordersRepo   orders.Repository
	metrics      *metrics.DispatchMetrics
	logg         *logger.Logger
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

// NewDispatcher constructs the side-effect dispatcher.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("decoder registry is required")
	}
	if params.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger service is required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit service is required")
	}
	if params.UsersRepo == nil {
		return nil, errors.New("users repository is required")
	}
	if params.OrdersRepo == nil {
		return nil, errors.New("orders repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}

	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Dispatcher{
		repo:         params.Repository,
		registry:     params.Registry,
		mailer:       params.Mailer,
		ledger:       params.Ledger,
		audit:        params.Audit,
		usersRepo:    params.UsersRepo,
		ordersRepo:   params.OrdersRepo,
		metrics:      params.Metrics,
		logg:         params.Logger,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

// Run polls the outbox until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	interval := d.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "side-effect dispatcher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := d.ProcessBatch(ctx)
		if err != nil {
			d.logg.Error(ctx, "dispatch batch error", err)
			backoff = nextBackoff(backoff, interval)
			if err := d.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval
		if processed {
			continue
		}
		if err := d.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// ProcessBatch drains one batch. It reports whether any event was seen.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (bool, error) {
	events, err := d.repo.FetchDispatchable(d.batchSize, d.maxAttempts)
	if err != nil {
		return false, err
	}
	if backlog, err := d.repo.CountUnpublished(); err == nil {
		d.metrics.SetBacklog(int(backlog))
	}
	if len(events) == 0 {
		return false, nil
	}

	for _, event := range events {
		start := time.Now()
		err := d.dispatch(ctx, event)
		if err != nil {
			d.metrics.ObserveEvent(string(event.EventType), "failed", time.Since(start))
			logCtx := d.logg.WithFields(ctx, map[string]any{
				"event_id":      event.ID.String(),
				"event_type":    event.EventType,
				"attempt_count": event.AttemptCount + 1,
			})
			d.logg.Error(logCtx, "side effect failed", err)
			if markErr := d.repo.MarkFailed(event.ID, err); markErr != nil {
				return true, markErr
			}
			continue
		}
		d.metrics.ObserveEvent(string(event.EventType), "published", time.Since(start))
		if err := d.repo.MarkPublished(event.ID); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, event models.OutboxEvent) error {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	decoded, err := d.registry.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	actor := actorRef(envelope.Actor)

	switch payload := decoded.(type) {
	case *payloads.IssueOpenedEvent:
		return nil
	case *payloads.IssueClosedEvent:
		return nil
	case *payloads.IssueMessagePostedEvent:
		// Customers only hear about counterpart messages.
		if payload.Sender == enums.MessageSenderCustomer {
			return nil
		}
		return d.notifyCustomer(ctx, payload.CustomerID, payload.OrderID, func(email string, orderNumber int64) error {
			return d.mailer.SendIssueMessageEmail(ctx, email, orderNumber)
		})
	case *payloads.IssueInfoRequestedEvent:
		return d.notifyCustomer(ctx, payload.CustomerID, payload.OrderID, func(email string, orderNumber int64) error {
			return d.mailer.SendIssueMessageEmail(ctx, email, orderNumber)
		})
	case *payloads.IssueRefundedEvent:
		return d.handleIssueRefunded(ctx, actor, payload)
	case *payloads.IssueReprintedEvent:
		return d.handleIssueReprinted(ctx, actor, payload)
	case *payloads.RefundFailedEvent:
		logCtx := d.logg.WithIssueID(ctx, payload.IssueID.String())
		d.logg.Warn(logCtx, "refund attempt failed, awaiting retry")
		return nil
	case *payloads.ResolutionCompletedEvent:
		return d.handleResolutionCompleted(ctx, actor, payload)
	case *payloads.CancellationReviewedEvent:
		return d.audit.Record(ctx, audit.RecordInput{
			ActorID:    actor.UserID,
			ActorEmail: actor.Email,
			ActorRole:  enums.ActorRole(actor.Role),
			Action:     audit.ActionCancellationReviewed,
			EntityType: audit.EntityOrder,
			EntityID:   payload.OrderID,
			Detail:     payload,
		})
	default:
		return nil
	}
}

func (d *Dispatcher) handleIssueRefunded(ctx context.Context, actor outbox.ActorRef, payload *payloads.IssueRefundedEvent) error {
	var errs error

	metadata, _ := json.Marshal(map[string]any{
		"issue_id":          payload.IssueID,
		"gateway_refund_id": payload.GatewayRefundID,
	})
	if _, err := d.ledger.RecordRefund(ctx, payload.OrderID, actor.UserID, payload.AmountCents, metadata); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("ledger: %w", err))
	}

	if err := d.audit.Record(ctx, audit.RecordInput{
		ActorID:    actor.UserID,
		ActorEmail: actor.Email,
		ActorRole:  enums.ActorRole(actor.Role),
		Action:     audit.ActionRefundIssued,
		EntityType: audit.EntityIssue,
		EntityID:   payload.IssueID,
		Detail:     payload,
	}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("audit: %w", err))
	}

	if err := d.notifyCustomer(ctx, payload.CustomerID, payload.OrderID, func(email string, orderNumber int64) error {
		return d.mailer.SendRefundConfirmationEmail(ctx, email, orderNumber, payload.AmountCents)
	}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("email: %w", err))
	}

	return errs
}

func (d *Dispatcher) handleIssueReprinted(ctx context.Context, actor outbox.ActorRef, payload *payloads.IssueReprintedEvent) error {
	var errs error

	metadata, _ := json.Marshal(map[string]any{
		"issue_id":         payload.IssueID,
		"reprint_order_id": payload.ReprintOrderID,
	})
	if _, err := d.ledger.RecordReprintExpense(ctx, payload.OrderID, actor.UserID, payload.CostCents, metadata); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("ledger: %w", err))
	}

	if err := d.audit.Record(ctx, audit.RecordInput{
		ActorID:    actor.UserID,
		ActorEmail: actor.Email,
		ActorRole:  enums.ActorRole(actor.Role),
		Action:     audit.ActionReprintCreated,
		EntityType: audit.EntityIssue,
		EntityID:   payload.IssueID,
		Detail:     payload,
	}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("audit: %w", err))
	}

	if err := d.notifyCustomer(ctx, payload.CustomerID, payload.OrderID, func(email string, orderNumber int64) error {
		return d.mailer.SendReprintConfirmationEmail(ctx, email, orderNumber)
	}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("email: %w", err))
	}

	return errs
}

func (d *Dispatcher) handleResolutionCompleted(ctx context.Context, actor outbox.ActorRef, payload *payloads.ResolutionCompletedEvent) error {
	var errs error

	metadata, _ := json.Marshal(map[string]any{
		"resolution_id":     payload.ResolutionID,
		"gateway_refund_id": payload.GatewayRefundID,
	})
	if _, err := d.ledger.RecordRefund(ctx, payload.OrderID, actor.UserID, payload.AmountCents, metadata); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("ledger: %w", err))
	}

	if err := d.audit.Record(ctx, audit.RecordInput{
		ActorID:    actor.UserID,
		ActorEmail: actor.Email,
		ActorRole:  enums.ActorRole(actor.Role),
		Action:     audit.ActionRefundIssued,
		EntityType: audit.EntityResolution,
		EntityID:   payload.ResolutionID,
		Detail:     payload,
	}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("audit: %w", err))
	}

	return errs
}

func (d *Dispatcher) notifyCustomer(ctx context.Context, customerID, orderID uuid.UUID, send func(email string, orderNumber int64) error) error {
	user, err := d.usersRepo.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logCtx := d.logg.WithUserID(ctx, customerID.String())
			d.logg.Warn(logCtx, "notification recipient no longer exists")
			return nil
		}
		return fmt.Errorf("load recipient: %w", err)
	}
	order, err := d.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	return send(user.Email, order.OrderNumber)
}

func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func actorRef(actor *outbox.ActorRef) outbox.ActorRef {
	if actor == nil {
		return outbox.ActorRef{}
	}
	return *actor
}

func nextBackoff(current, floor time.Duration) time.Duration {
	next := current * 2
	if next < floor {
		next = floor
	}
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

func withJitter(base time.Duration) time.Duration {
	return base + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
