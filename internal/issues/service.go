package issues

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printbound/printbound-backend/internal/orders"
	"github.com/printbound/printbound-backend/internal/payments"
	"github.com/printbound/printbound-backend/internal/refunds"
	"github.com/printbound/printbound-backend/internal/reprints"
	dbpkg "github.com/printbound/printbound-backend/pkg/db"
	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
	"github.com/printbound/printbound-backend/pkg/logger"
	"github.com/printbound/printbound-backend/pkg/money"
	"github.com/printbound/printbound-backend/pkg/outbox"
	"github.com/printbound/printbound-backend/pkg/outbox/payloads"
	pkgpagination "github.com/printbound/printbound-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type refundExecutor interface {
	Execute(ctx context.Context, in refunds.ExecuteInput) (*refunds.ExecuteResult, error)
}

type idempotencyStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Service drives an issue from creation through messaging, approval and
// terminal resolution.
type Service interface {
	Create(ctx context.Context, customerID uuid.UUID, input CreateInput) (*models.Issue, error)
	Withdraw(ctx context.Context, customerID, issueID uuid.UUID) error
	PostMessage(ctx context.Context, actor Actor, issueID uuid.UUID, input MessageInput) (*models.IssueMessage, error)
	Get(ctx context.Context, actor Actor, issueID uuid.UUID) (*models.Issue, error)
	ListForCustomer(ctx context.Context, customerID uuid.UUID, params ListParams) (*List, error)
	ListQueue(ctx context.Context, params ListParams) (*List, error)
	Approve(ctx context.Context, adminID, issueID uuid.UUID, input ApproveInput) (*models.Issue, error)
	RequestInfo(ctx context.Context, adminID, issueID uuid.UUID, message string) error
	Close(ctx context.Context, adminID, issueID uuid.UUID, reason string) error
	Process(ctx context.Context, adminID, issueID uuid.UUID) (*ProcessResult, error)
}

// Actor identifies who is acting on an issue.
type Actor struct {
	ID    uuid.UUID
	Email string
	Role  enums.ActorRole
}

// ServiceParams bundles the dependencies required to build an issue service.
type ServiceParams struct {
	Tx              txRunner
	Repo            Repository
	OrdersRepo      orders.Repository
	PaymentsRepo    payments.Repository
	Executor        refundExecutor
	Outbox          outboxPublisher
	Idempotency     idempotencyStore
	ReportingWindow time.Duration
	Logger          *logger.Logger
}

type service struct {
	tx           txRunner
	repo         Repository
	ordersRepo   orders.Repository
	paymentsRepo payments.Repository
	executor     refundExecutor
	outbox       outboxPublisher
	idem         idempotencyStore
	window       time.Duration
	logg         *logger.Logger
}

const processClaimTTL = 5 * time.Minute

// NewService constructs the issue lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("issues repository is required")
	}
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repository is required")
	}
	if params.PaymentsRepo == nil {
		return nil, fmt.Errorf("payments repository is required")
	}
	if params.Executor == nil {
		return nil, fmt.Errorf("refund executor is required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher is required")
	}
	window := params.ReportingWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &service{
		tx:           params.Tx,
		repo:         params.Repo,
		ordersRepo:   params.OrdersRepo,
		paymentsRepo: params.PaymentsRepo,
		executor:     params.Executor,
		outbox:       params.Outbox,
		idem:         params.Idempotency,
		window:       window,
		logg:         params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, customerID uuid.UUID, input CreateInput) (*models.Issue, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.OrderItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item id required")
	}
	reason, err := enums.ParseIssueReason(input.Reason)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid issue reason")
	}

	item, err := s.ordersRepo.FindItemByID(ctx, input.OrderItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order item")
	}
	order, err := s.ordersRepo.FindByID(ctx, item.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to this customer")
	}
	if !order.Status.IsReportable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("issues cannot be reported while the order is %s", order.Status))
	}
	if time.Since(order.StatusChangedAt) > s.window {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "the reporting window for this order has expired")
	}
	if existing, err := s.repo.FindByOrderItemID(ctx, item.ID); err == nil && existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "this item already has an active issue")
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing issue")
	}

	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: item.ID,
		OrderID:     order.ID,
		CustomerID:  customerID,
		Reason:      reason,
		Status:      enums.IssueStatusAwaitingReview,
		FaultParty:  reason.FaultParty(),
	}
	if input.Description != "" {
		description := input.Description
		issue.Description = &description
	}
	// An issue against a reprint item chains back to the issue that
	// produced the reprint, keeping the full history auditable across
	// repeated reprint-then-fail cycles.
	if item.OriginalItemID != nil {
		prior, err := s.repo.FindByOrderItemID(ctx, *item.OriginalItemID)
		if err == nil && prior != nil {
			issue.OriginalIssueID = &prior.ID
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve issue lineage")
		}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.Create(ctx, issue); err != nil {
			// Two concurrent reports against the same item race past the
			// pre-check; the unique index settles it.
			if dbpkg.IsUniqueViolation(err, "ux_issues_order_item") {
				return pkgerrors.New(pkgerrors.CodeConflict, "this item already has an active issue")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create issue")
		}
		if input.Description != "" || len(input.ImageURLs) > 0 {
			message := &models.IssueMessage{
				IssueID:   issue.ID,
				Sender:    enums.MessageSenderCustomer,
				Body:      input.Description,
				ImageURLs: input.ImageURLs,
			}
			if _, err := repo.AppendMessage(ctx, message); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append opening message")
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventIssueOpened,
			AggregateType: enums.AggregateIssue,
			AggregateID:   issue.ID,
			Actor:         &outbox.ActorRef{UserID: customerID, Role: string(enums.ActorRoleCustomer)},
			Version:       1,
			Data: payloads.IssueOpenedEvent{
				IssueID:     issue.ID,
				OrderID:     order.ID,
				OrderItemID: item.ID,
				CustomerID:  customerID,
				Reason:      reason,
				FaultParty:  issue.FaultParty,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithIssueID(s.logg.WithOrderID(ctx, order.ID.String()), issue.ID.String())
		s.logg.Info(logCtx, "issue opened")
	}
	return issue, nil
}

func (s *service) Withdraw(ctx context.Context, customerID, issueID uuid.UUID) error {
	issue, err := s.loadOwned(ctx, customerID, issueID)
	if err != nil {
		return err
	}
	if !issue.Status.IsEarly() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "issue can no longer be withdrawn")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.DeleteIf(ctx, issueID, []enums.IssueStatus{
			enums.IssueStatusSubmitted, enums.IssueStatusAwaitingReview,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "withdraw issue")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "issue can no longer be withdrawn")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventIssueClosed,
			AggregateType: enums.AggregateIssue,
			AggregateID:   issueID,
			Actor:         &outbox.ActorRef{UserID: customerID, Role: string(enums.ActorRoleCustomer)},
			Version:       1,
			Data: payloads.IssueClosedEvent{
				IssueID:    issueID,
				OrderID:    issue.OrderID,
				CustomerID: issue.CustomerID,
				Withdrawn:  true,
			},
		})
	})
}

func (s *service) PostMessage(ctx context.Context, actor Actor, issueID uuid.UUID, input MessageInput) (*models.IssueMessage, error) {
	if input.Body == "" && len(input.ImageURLs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message body required")
	}
	issue, err := s.loadForActor(ctx, actor, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "the conversation on this issue is closed")
	}

	sender := enums.MessageSenderAdmin
	if actor.Role == enums.ActorRoleCustomer {
		sender = enums.MessageSenderCustomer
	}
	message := &models.IssueMessage{
		IssueID:   issueID,
		Sender:    sender,
		Body:      input.Body,
		ImageURLs: input.ImageURLs,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.AppendMessage(ctx, message); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append message")
		}
		// A customer reply answers the outstanding information request and
		// puts the issue back in the review queue.
		if sender == enums.MessageSenderCustomer && issue.Status == enums.IssueStatusInfoRequested {
			if _, err := repo.TransitionStatus(ctx, issueID,
				[]enums.IssueStatus{enums.IssueStatusInfoRequested},
				enums.IssueStatusAwaitingReview); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "return issue to review")
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventIssueMessagePosted,
			AggregateType: enums.AggregateIssue,
			AggregateID:   issueID,
			Actor:         &outbox.ActorRef{UserID: actor.ID, Email: actor.Email, Role: string(actor.Role)},
			Version:       1,
			Data: payloads.IssueMessagePostedEvent{
				IssueID:    issueID,
				MessageID:  message.ID,
				OrderID:    issue.OrderID,
				CustomerID: issue.CustomerID,
				Sender:     sender,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (s *service) Get(ctx context.Context, actor Actor, issueID uuid.UUID) (*models.Issue, error) {
	issue, err := s.loadForActor(ctx, actor, issueID)
	if err != nil {
		return nil, err
	}
	// Fetching the thread marks the counterpart's messages as read.
	counterpart := []enums.MessageSender{enums.MessageSenderCustomer}
	if actor.Role == enums.ActorRoleCustomer {
		counterpart = []enums.MessageSender{enums.MessageSenderAdmin, enums.MessageSenderSystem}
	}
	if err := s.repo.MarkMessagesRead(ctx, issueID, counterpart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark messages read")
	}
	return issue, nil
}

func (s *service) ListForCustomer(ctx context.Context, customerID uuid.UUID, params ListParams) (*List, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	query, limit, err := buildListQuery(params)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByCustomer(ctx, customerID, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list issues")
	}
	return buildListPage(rows, limit), nil
}

func (s *service) ListQueue(ctx context.Context, params ListParams) (*List, error) {
	if len(params.Statuses) == 0 {
		params.Statuses = []enums.IssueStatus{enums.IssueStatusAwaitingReview}
	}
	query, limit, err := buildListQuery(params)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByStatus(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list review queue")
	}
	return buildListPage(rows, limit), nil
}

func (s *service) Approve(ctx context.Context, adminID, issueID uuid.UUID, input ApproveInput) (*models.Issue, error) {
	resolvedType, err := enums.ParseResolvedType(input.ResolvedType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolution type")
	}
	issue, err := s.repo.FindByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "issue not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load issue")
	}

	target := enums.IssueStatusApprovedReprint
	var amount *int64
	if resolvedType.IsRefund() {
		target = enums.IssueStatusApprovedRefund
		if resolvedType == enums.ResolvedTypePartialRefund {
			resolved, err := s.partialAmount(ctx, issue, input.AmountCents)
			if err != nil {
				return nil, err
			}
			amount = &resolved
		}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.TransitionStatus(ctx, issueID,
			[]enums.IssueStatus{enums.IssueStatusAwaitingReview}, target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve issue")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "issue is not awaiting review")
		}
		if err := repo.SetApproval(ctx, issueID, resolvedType, amount); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record approval")
		}
		_, err = repo.AppendMessage(ctx, &models.IssueMessage{
			IssueID: issueID,
			Sender:  enums.MessageSenderSystem,
			Body:    approvalNarrative(resolvedType),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, issueID)
}

func (s *service) RequestInfo(ctx context.Context, adminID, issueID uuid.UUID, message string) error {
	if message == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "a message describing the requested information is required")
	}
	issue, err := s.repo.FindByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "issue not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load issue")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.TransitionStatus(ctx, issueID,
			[]enums.IssueStatus{enums.IssueStatusAwaitingReview}, enums.IssueStatusInfoRequested)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request info")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "issue is not awaiting review")
		}
		if _, err := repo.AppendMessage(ctx, &models.IssueMessage{
			IssueID: issueID,
			Sender:  enums.MessageSenderAdmin,
			Body:    message,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append info request")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventIssueInfoRequested,
			AggregateType: enums.AggregateIssue,
			AggregateID:   issueID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.ActorRoleAdmin)},
			Version:       1,
			Data: payloads.IssueInfoRequestedEvent{
				IssueID:    issueID,
				OrderID:    issue.OrderID,
				CustomerID: issue.CustomerID,
			},
		})
	})
}

func (s *service) Close(ctx context.Context, adminID, issueID uuid.UUID, reason string) error {
	issue, err := s.repo.FindByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "issue not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load issue")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.TransitionStatus(ctx, issueID,
			[]enums.IssueStatus{enums.IssueStatusSubmitted, enums.IssueStatusAwaitingReview},
			enums.IssueStatusClosed)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close issue")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "issue can only be closed before approval")
		}
		body := "This issue has been closed without a resolution."
		if reason != "" {
			body = fmt.Sprintf("This issue has been closed: %s", reason)
		}
		if _, err := repo.AppendMessage(ctx, &models.IssueMessage{
			IssueID: issueID,
			Sender:  enums.MessageSenderSystem,
			Body:    body,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append closing message")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventIssueClosed,
			AggregateType: enums.AggregateIssue,
			AggregateID:   issueID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.ActorRoleAdmin)},
			Version:       1,
			Data: payloads.IssueClosedEvent{
				IssueID:    issueID,
				OrderID:    issue.OrderID,
				CustomerID: issue.CustomerID,
				Reason:     reason,
			},
		})
	})
}

func (s *service) Process(ctx context.Context, adminID, issueID uuid.UUID) (*ProcessResult, error) {
	issue, err := s.repo.FindByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "issue not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load issue")
	}
	// A retried request against an already-completed issue is a no-op
	// success, never a second resolution.
	if issue.Status == enums.IssueStatusCompleted {
		return &ProcessResult{Issue: issue, AlreadyHandled: true}, nil
	}
	if !issue.Status.IsApproved() && issue.Status != enums.IssueStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "issue has not been approved for processing")
	}

	if s.idem != nil {
		key := s.idem.IdempotencyKey("issue-process", issueID.String())
		won, err := s.idem.SetNX(ctx, key, adminID.String(), processClaimTTL)
		if err == nil && !won {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "this issue is already being processed")
		}
		defer func() {
			_ = s.idem.Del(ctx, key)
		}()
	}

	switch issue.Status {
	case enums.IssueStatusApprovedReprint:
		return s.processReprint(ctx, adminID, issue)
	case enums.IssueStatusApprovedRefund:
		return s.processRefund(ctx, adminID, issue)
	default:
		// A processing row whose claim has expired is a crashed attempt;
		// resume it along the path the approval recorded.
		if issue.ResolvedType == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "processing issue has no resolution recorded")
		}
		if *issue.ResolvedType == enums.ResolvedTypeReprint {
			return s.processReprint(ctx, adminID, issue)
		}
		return s.processRefund(ctx, adminID, issue)
	}
}

// processReprint creates the replacement order and concludes the issue in
// a single transaction: either everything lands or nothing does.
func (s *service) processReprint(ctx context.Context, adminID uuid.UUID, issue *models.Issue) (*ProcessResult, error) {
	order, err := s.ordersRepo.FindByID(ctx, issue.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	var disputed *models.OrderItem
	for i := range order.Items {
		if order.Items[i].ID == issue.OrderItemID {
			disputed = &order.Items[i]
			break
		}
	}
	if disputed == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "disputed item missing from order")
	}

	reprint, err := reprints.Build(reprints.BuildInput{
		Original: order,
		Items:    []models.OrderItem{*disputed},
		IssueID:  issue.ID,
	})
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		won, err := repo.TransitionStatus(ctx, issue.ID,
			[]enums.IssueStatus{enums.IssueStatusApprovedReprint, enums.IssueStatusProcessing},
			enums.IssueStatusProcessing)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim issue for processing")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "issue is already being processed")
		}
		if _, err := s.ordersRepo.WithTx(tx).Create(ctx, reprint); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reprint order")
		}
		if _, err := repo.TransitionStatus(ctx, issue.ID,
			[]enums.IssueStatus{enums.IssueStatusProcessing}, enums.IssueStatusCompleted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete issue")
		}
		if err := repo.Conclude(ctx, issue.ID, ConcludeUpdate{
			ResolvedType: enums.ResolvedTypeReprint,
			ConcludedBy:  adminID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "conclude issue")
		}
		if _, err := repo.AppendMessage(ctx, &models.IssueMessage{
			IssueID: issue.ID,
			Sender:  enums.MessageSenderSystem,
			Body:    "A replacement order has been created at no cost and will be produced shortly.",
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append completion message")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventIssueReprinted,
			AggregateType: enums.AggregateIssue,
			AggregateID:   issue.ID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.ActorRoleAdmin)},
			Version:       1,
			Data: payloads.IssueReprintedEvent{
				IssueID:        issue.ID,
				OrderID:        order.ID,
				ReprintOrderID: reprint.ID,
				CustomerID:     issue.CustomerID,
				CostCents:      disputed.TotalCents,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.FindByID(ctx, issue.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload issue")
	}
	return &ProcessResult{Issue: updated, ReprintOrder: reprint}, nil
}

// processRefund is two-phase: the issue is claimed with a conditional
// transition first, then the gateway is called with no local transaction
// open, and only afterwards is the outcome persisted. A gateway failure
// reverts the issue to its approved state so the admin can retry.
func (s *service) processRefund(ctx context.Context, adminID uuid.UUID, issue *models.Issue) (*ProcessResult, error) {
	won, err := s.repo.TransitionStatus(ctx, issue.ID,
		[]enums.IssueStatus{enums.IssueStatusApprovedRefund, enums.IssueStatusProcessing},
		enums.IssueStatusProcessing)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim issue for processing")
	}
	if !won {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "issue is already being processed")
	}

	item, err := s.ordersRepo.FindItemByID(ctx, issue.OrderItemID)
	if err != nil {
		return nil, s.revertRefund(ctx, adminID, issue, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order item"))
	}
	// Reprint items carry no payment of their own; the money lives on the
	// original order at the head of the lineage.
	payingOrderID := reprints.OriginalPayingOrderID(*item)
	payment, err := s.paymentsRepo.FindByOrderID(ctx, payingOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, s.revertRefund(ctx, adminID, issue,
				pkgerrors.New(pkgerrors.CodeStateConflict, "no payment found for this order"))
		}
		return nil, s.revertRefund(ctx, adminID, issue, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment"))
	}

	fullRefund := issue.ResolvedType == nil || *issue.ResolvedType != enums.ResolvedTypePartialRefund
	var amount *int64
	if !fullRefund {
		if issue.RefundAmountCents == nil {
			return nil, s.revertRefund(ctx, adminID, issue,
				pkgerrors.New(pkgerrors.CodeInternal, "partial refund approved without an amount"))
		}
		amount = issue.RefundAmountCents
	}

	result, err := s.executor.Execute(ctx, refunds.ExecuteInput{
		Payment:        payment,
		Reason:         string(issue.Reason),
		AmountCents:    amount,
		IdempotencyKey: fmt.Sprintf("issue_%s", issue.ID),
	})
	if err != nil {
		return nil, s.revertRefund(ctx, adminID, issue, err)
	}

	resolvedType := enums.ResolvedTypeFullRefund
	if !fullRefund {
		resolvedType = enums.ResolvedTypePartialRefund
	}
	refundedAt := time.Now()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.TransitionStatus(ctx, issue.ID,
			[]enums.IssueStatus{enums.IssueStatusProcessing}, enums.IssueStatusCompleted); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete issue")
		}
		refundID := result.RefundID
		if err := repo.Conclude(ctx, issue.ID, ConcludeUpdate{
			ResolvedType:    resolvedType,
			RefundAmount:    &result.AmountCents,
			GatewayRefundID: &refundID,
			ConcludedBy:     adminID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "conclude issue")
		}
		if fullRefund {
			if _, err := s.paymentsRepo.WithTx(tx).MarkRefunded(ctx, payment.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
			}
			if _, err := s.ordersRepo.WithTx(tx).TransitionStatus(ctx, payingOrderID,
				[]enums.OrderStatus{
					enums.OrderStatusPending, enums.OrderStatusConfirmed, enums.OrderStatusPrinting,
					enums.OrderStatusShipped, enums.OrderStatusDelivered, enums.OrderStatusCancellationRequested,
				}, enums.OrderStatusRefunded); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
			}
		}
		if _, err := repo.AppendMessage(ctx, &models.IssueMessage{
			IssueID: issue.ID,
			Sender:  enums.MessageSenderSystem,
			Body:    fmt.Sprintf("Your refund of %s has been processed and will appear on your statement within a few days.", formatAmount(result.AmountCents)),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append completion message")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventIssueRefunded,
			AggregateType: enums.AggregateIssue,
			AggregateID:   issue.ID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.ActorRoleAdmin)},
			Version:       1,
			Data: payloads.IssueRefundedEvent{
				IssueID:         issue.ID,
				OrderID:         issue.OrderID,
				CustomerID:      issue.CustomerID,
				ResolvedType:    resolvedType,
				AmountCents:     result.AmountCents,
				GatewayRefundID: result.RefundID,
				RefundedAt:      refundedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.FindByID(ctx, issue.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload issue")
	}
	return &ProcessResult{Issue: updated, RefundID: result.RefundID, RefundedCents: result.AmountCents}, nil
}

// revertRefund puts a claimed issue back in its retryable approved state
// and records the failure in the thread. The original error is returned to
// the admin caller.
func (s *service) revertRefund(ctx context.Context, adminID uuid.UUID, issue *models.Issue, cause error) error {
	revertErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.TransitionStatus(ctx, issue.ID,
			[]enums.IssueStatus{enums.IssueStatusProcessing}, enums.IssueStatusApprovedRefund); err != nil {
			return err
		}
		if _, err := repo.AppendMessage(ctx, &models.IssueMessage{
			IssueID: issue.ID,
			Sender:  enums.MessageSenderSystem,
			Body:    "The refund attempt was unsuccessful. Our team has been notified and will retry shortly.",
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundFailed,
			AggregateType: enums.AggregateIssue,
			AggregateID:   issue.ID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: string(enums.ActorRoleAdmin)},
			Version:       1,
			Data: payloads.RefundFailedEvent{
				IssueID:    issue.ID,
				OrderID:    issue.OrderID,
				CustomerID: issue.CustomerID,
				Error:      cause.Error(),
			},
		})
	})
	if revertErr != nil && s.logg != nil {
		s.logg.Error(ctx, "failed to revert issue after refund failure", revertErr)
	}
	return cause
}

func (s *service) partialAmount(ctx context.Context, issue *models.Issue, override *int64) (int64, error) {
	item, err := s.ordersRepo.FindItemByID(ctx, issue.OrderItemID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order item")
	}
	// A reprint item is zero-priced; the refundable amount is what the
	// customer paid for the item at the head of the lineage.
	basis := item.TotalCents
	if item.OriginalItemID != nil {
		paid, err := s.ordersRepo.FindItemByID(ctx, *item.OriginalItemID)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load paying order item")
		}
		basis = paid.TotalCents
	}
	amount := basis
	if override != nil {
		if *override <= 0 || *override > basis {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "partial refund amount must be positive and at most the item total")
		}
		amount = *override
	}
	return amount, nil
}

func (s *service) loadOwned(ctx context.Context, customerID, issueID uuid.UUID) (*models.Issue, error) {
	issue, err := s.repo.FindByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "issue not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load issue")
	}
	if issue.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "issue does not belong to this customer")
	}
	return issue, nil
}

func (s *service) loadForActor(ctx context.Context, actor Actor, issueID uuid.UUID) (*models.Issue, error) {
	if actor.Role == enums.ActorRoleAdmin {
		issue, err := s.repo.FindByID(ctx, issueID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "issue not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load issue")
		}
		return issue, nil
	}
	return s.loadOwned(ctx, actor.ID, issueID)
}

func buildListQuery(params ListParams) (listQuery, int, error) {
	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := listQuery{
		statuses: params.Statuses,
		limit:    pkgpagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return listQuery{}, 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}
	return query, limit, nil
}

func buildListPage(rows []models.Issue, limit int) *List {
	nextCursor := ""
	if len(rows) > limit {
		nextCursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{
			CreatedAt: rows[limit].CreatedAt,
			ID:        rows[limit].ID,
		})
		rows = rows[:limit]
	}
	items := make([]ListItem, len(rows))
	for i, row := range rows {
		items[i] = toListItem(row)
	}
	return &List{Items: items, NextCursor: nextCursor}
}

func approvalNarrative(resolvedType enums.ResolvedType) string {
	switch resolvedType {
	case enums.ResolvedTypeReprint:
		return "Your issue has been approved for a free replacement. We will start production shortly."
	case enums.ResolvedTypePartialRefund:
		return "Your issue has been approved for a partial refund of the affected item."
	default:
		return "Your issue has been approved for a full refund."
	}
}

func formatAmount(cents int64) string {
	return money.FormatGBP(cents)
}
