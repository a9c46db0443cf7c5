package issues

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printbound/printbound-backend/internal/orders"
	"github.com/printbound/printbound-backend/internal/payments"
	"github.com/printbound/printbound-backend/internal/refunds"
	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
	"github.com/printbound/printbound-backend/pkg/outbox"
	"github.com/printbound/printbound-backend/pkg/outbox/payloads"
)

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) lastEventType() enums.OutboxEventType {
	if len(f.events) == 0 {
		return ""
	}
	return f.events[len(f.events)-1].EventType
}

type fakeIssueRepo struct {
	issues      map[uuid.UUID]*models.Issue
	byItem      map[uuid.UUID]*models.Issue
	messages    []models.IssueMessage
	transitions []string
	deleted     []uuid.UUID
	createErr   error
}

func newFakeIssueRepo(seed ...*models.Issue) *fakeIssueRepo {
	repo := &fakeIssueRepo{
		issues: map[uuid.UUID]*models.Issue{},
		byItem: map[uuid.UUID]*models.Issue{},
	}
	for _, issue := range seed {
		repo.issues[issue.ID] = issue
		repo.byItem[issue.OrderItemID] = issue
	}
	return repo
}

func (f *fakeIssueRepo) WithTx(_ *gorm.DB) Repository { return f }

func (f *fakeIssueRepo) Create(_ context.Context, issue *models.Issue) (*models.Issue, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, exists := f.byItem[issue.OrderItemID]; exists {
		return nil, errors.New("duplicate key value violates unique constraint \"ux_issues_order_item\"")
	}
	f.issues[issue.ID] = issue
	f.byItem[issue.OrderItemID] = issue
	return issue, nil
}

func (f *fakeIssueRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Issue, error) {
	issue, ok := f.issues[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return issue, nil
}

func (f *fakeIssueRepo) FindByOrderItemID(_ context.Context, orderItemID uuid.UUID) (*models.Issue, error) {
	issue, ok := f.byItem[orderItemID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return issue, nil
}

func (f *fakeIssueRepo) TransitionStatus(_ context.Context, id uuid.UUID, from []enums.IssueStatus, to enums.IssueStatus) (bool, error) {
	issue, ok := f.issues[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if issue.Status == status {
			f.transitions = append(f.transitions, string(issue.Status)+"->"+string(to))
			issue.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeIssueRepo) Conclude(_ context.Context, id uuid.UUID, update ConcludeUpdate) error {
	issue, ok := f.issues[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	resolvedType := update.ResolvedType
	now := time.Now()
	concludedBy := update.ConcludedBy
	issue.ResolvedType = &resolvedType
	issue.IsConcluded = true
	issue.ConcludedAt = &now
	issue.ConcludedBy = &concludedBy
	if update.RefundAmount != nil {
		issue.RefundAmountCents = update.RefundAmount
	}
	if update.GatewayRefundID != nil {
		issue.GatewayRefundID = update.GatewayRefundID
	}
	return nil
}

func (f *fakeIssueRepo) SetApproval(_ context.Context, id uuid.UUID, resolvedType enums.ResolvedType, amount *int64) error {
	issue, ok := f.issues[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	issue.ResolvedType = &resolvedType
	issue.RefundAmountCents = amount
	return nil
}

func (f *fakeIssueRepo) DeleteIf(_ context.Context, id uuid.UUID, from []enums.IssueStatus) (bool, error) {
	issue, ok := f.issues[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if issue.Status == status {
			delete(f.issues, id)
			delete(f.byItem, issue.OrderItemID)
			f.deleted = append(f.deleted, id)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeIssueRepo) AppendMessage(_ context.Context, message *models.IssueMessage) (*models.IssueMessage, error) {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	f.messages = append(f.messages, *message)
	return message, nil
}

func (f *fakeIssueRepo) MarkMessagesRead(_ context.Context, _ uuid.UUID, _ []enums.MessageSender) error {
	return nil
}

func (f *fakeIssueRepo) ListByCustomer(_ context.Context, customerID uuid.UUID, _ listQuery) ([]models.Issue, error) {
	var rows []models.Issue
	for _, issue := range f.issues {
		if issue.CustomerID == customerID {
			rows = append(rows, *issue)
		}
	}
	return rows, nil
}

func (f *fakeIssueRepo) ListByStatus(_ context.Context, query listQuery) ([]models.Issue, error) {
	var rows []models.Issue
	for _, issue := range f.issues {
		for _, status := range query.statuses {
			if issue.Status == status {
				rows = append(rows, *issue)
			}
		}
	}
	return rows, nil
}

type fakeOrdersRepo struct {
	orders      map[uuid.UUID]*models.Order
	items       map[uuid.UUID]*models.OrderItem
	created     []*models.Order
	transitions []string
}

func newFakeOrdersRepo(seed ...*models.Order) *fakeOrdersRepo {
	repo := &fakeOrdersRepo{
		orders: map[uuid.UUID]*models.Order{},
		items:  map[uuid.UUID]*models.OrderItem{},
	}
	for _, order := range seed {
		repo.orders[order.ID] = order
		for i := range order.Items {
			repo.items[order.Items[i].ID] = &order.Items[i]
		}
	}
	return repo
}

func (f *fakeOrdersRepo) WithTx(_ *gorm.DB) orders.Repository { return f }

func (f *fakeOrdersRepo) Create(_ context.Context, order *models.Order) (*models.Order, error) {
	f.orders[order.ID] = order
	f.created = append(f.created, order)
	return order, nil
}

func (f *fakeOrdersRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return order, nil
}

func (f *fakeOrdersRepo) FindItemByID(_ context.Context, id uuid.UUID) (*models.OrderItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return item, nil
}

func (f *fakeOrdersRepo) TransitionStatus(_ context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error) {
	order, ok := f.orders[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if order.Status == status {
			order.Status = to
			f.transitions = append(f.transitions, string(status)+"->"+string(to))
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOrdersRepo) ListReprintsOf(_ context.Context, _ uuid.UUID) ([]models.Order, error) {
	return nil, nil
}

type fakePaymentsRepo struct {
	byOrder  map[uuid.UUID]*models.Payment
	refunded []uuid.UUID
}

func newFakePaymentsRepo(seed ...*models.Payment) *fakePaymentsRepo {
	repo := &fakePaymentsRepo{byOrder: map[uuid.UUID]*models.Payment{}}
	for _, payment := range seed {
		repo.byOrder[payment.OrderID] = payment
	}
	return repo
}

func (f *fakePaymentsRepo) WithTx(_ *gorm.DB) payments.Repository { return f }

func (f *fakePaymentsRepo) Create(_ context.Context, payment *models.Payment) (*models.Payment, error) {
	f.byOrder[payment.OrderID] = payment
	return payment, nil
}

func (f *fakePaymentsRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	for _, payment := range f.byOrder {
		if payment.ID == id {
			return payment, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePaymentsRepo) FindByOrderID(_ context.Context, orderID uuid.UUID) (*models.Payment, error) {
	payment, ok := f.byOrder[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return payment, nil
}

func (f *fakePaymentsRepo) ReconcileReference(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

func (f *fakePaymentsRepo) MarkRefunded(_ context.Context, id uuid.UUID) (bool, error) {
	f.refunded = append(f.refunded, id)
	return true, nil
}

type fakeExecutor struct {
	calls  []refunds.ExecuteInput
	result *refunds.ExecuteResult
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, in refunds.ExecuteInput) (*refunds.ExecuteResult, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func paidOrder(customerID uuid.UUID, itemTotal int64) *models.Order {
	orderID := uuid.New()
	return &models.Order{
		ID:              orderID,
		CustomerID:      customerID,
		OrderNumber:     1042,
		Currency:        enums.CurrencyGBP,
		Status:          enums.OrderStatusDelivered,
		SubtotalCents:   itemTotal,
		TotalCents:      itemTotal,
		StatusChangedAt: time.Now().Add(-24 * time.Hour),
		Items: []models.OrderItem{
			{
				ID:             uuid.New(),
				OrderID:        orderID,
				Name:           "A5 hardback notebook",
				Qty:            1,
				UnitPriceCents: itemTotal,
				TotalCents:     itemTotal,
			},
		},
	}
}

func newTestService(t *testing.T, params ServiceParams) Service {
	t.Helper()
	if params.Tx == nil {
		params.Tx = fakeTx{}
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func expectCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	appErr := pkgerrors.As(err)
	if appErr == nil {
		t.Fatalf("expected app error, got %v", err)
	}
	if appErr.Code() != code {
		t.Fatalf("expected code %s, got %s (%v)", code, appErr.Code(), err)
	}
}

func TestCreateOpensIssue(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	ordersRepo := newFakeOrdersRepo(order)
	issueRepo := newFakeIssueRepo()
	events := &fakeOutbox{}

	svc := newTestService(t, ServiceParams{
		Repo:         issueRepo,
		OrdersRepo:   ordersRepo,
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       events,
	})

	issue, err := svc.Create(context.Background(), customerID, CreateInput{
		OrderItemID: order.Items[0].ID,
		Reason:      "damaged_in_transit",
		Description: "arrived with a cracked spine",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if issue.Status != enums.IssueStatusAwaitingReview {
		t.Fatalf("expected awaiting_review, got %s", issue.Status)
	}
	if issue.FaultParty != enums.FaultPartyCarrier {
		t.Fatalf("expected carrier fault, got %s", issue.FaultParty)
	}
	if len(issueRepo.messages) != 1 || issueRepo.messages[0].Sender != enums.MessageSenderCustomer {
		t.Fatalf("expected one customer message, got %+v", issueRepo.messages)
	}
	if events.lastEventType() != enums.EventIssueOpened {
		t.Fatalf("expected issue_opened event, got %s", events.lastEventType())
	}
}

func TestCreateRejectsOutsideReportingWindow(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	order.StatusChangedAt = time.Now().Add(-90 * 24 * time.Hour)

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(),
		OrdersRepo:   newFakeOrdersRepo(order),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	_, err := svc.Create(context.Background(), customerID, CreateInput{
		OrderItemID: order.Items[0].ID,
		Reason:      "quality_issue",
	})
	expectCode(t, err, pkgerrors.CodeStateConflict)
}

func TestCreateRejectsForeignOrder(t *testing.T) {
	t.Parallel()

	order := paidOrder(uuid.New(), 2500)
	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(),
		OrdersRepo:   newFakeOrdersRepo(order),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	_, err := svc.Create(context.Background(), uuid.New(), CreateInput{
		OrderItemID: order.Items[0].ID,
		Reason:      "wrong_item",
	})
	expectCode(t, err, pkgerrors.CodeForbidden)
}

func TestCreateRejectsDuplicateActiveIssue(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	existing := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: order.Items[0].ID,
		OrderID:     order.ID,
		CustomerID:  customerID,
		Status:      enums.IssueStatusAwaitingReview,
	}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(existing),
		OrdersRepo:   newFakeOrdersRepo(order),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	_, err := svc.Create(context.Background(), customerID, CreateInput{
		OrderItemID: order.Items[0].ID,
		Reason:      "quality_issue",
	})
	expectCode(t, err, pkgerrors.CodeConflict)
}

func TestCreateMapsUniqueIndexRaceToConflict(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	// The duplicate pre-check sees nothing; the insert itself hits the
	// unique index, as happens when two reports race.
	issueRepo := newFakeIssueRepo()
	issueRepo.createErr = errors.New("duplicate key value violates unique constraint \"ux_issues_order_item\"")

	svc := newTestService(t, ServiceParams{
		Repo:         issueRepo,
		OrdersRepo:   newFakeOrdersRepo(order),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	_, err := svc.Create(context.Background(), customerID, CreateInput{
		OrderItemID: order.Items[0].ID,
		Reason:      "quality_issue",
	})
	expectCode(t, err, pkgerrors.CodeConflict)
}

func TestCreateLinksLineageForReprintItem(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	original := paidOrder(customerID, 2500)
	priorIssue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: original.Items[0].ID,
		OrderID:     original.ID,
		CustomerID:  customerID,
		Status:      enums.IssueStatusCompleted,
		IsConcluded: true,
	}

	reprintOrder := paidOrder(customerID, 0)
	reprintOrder.ReprintOfOrderID = &original.ID
	reprintOrder.ReprintIssueID = &priorIssue.ID
	reprintOrder.Items[0].OriginalOrderID = &original.ID
	reprintOrder.Items[0].OriginalItemID = &original.Items[0].ID

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(priorIssue),
		OrdersRepo:   newFakeOrdersRepo(original, reprintOrder),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	issue, err := svc.Create(context.Background(), customerID, CreateInput{
		OrderItemID: reprintOrder.Items[0].ID,
		Reason:      "printing_error",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if issue.OriginalIssueID == nil || *issue.OriginalIssueID != priorIssue.ID {
		t.Fatalf("expected lineage back to %s, got %v", priorIssue.ID, issue.OriginalIssueID)
	}
}

func TestWithdrawDeletesEarlyIssue(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: uuid.New(),
		OrderID:     uuid.New(),
		CustomerID:  customerID,
		Status:      enums.IssueStatusAwaitingReview,
	}
	issueRepo := newFakeIssueRepo(issue)
	events := &fakeOutbox{}

	svc := newTestService(t, ServiceParams{
		Repo:         issueRepo,
		OrdersRepo:   newFakeOrdersRepo(),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       events,
	})

	if err := svc.Withdraw(context.Background(), customerID, issue.ID); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if len(issueRepo.deleted) != 1 {
		t.Fatal("expected the issue row to be deleted")
	}
	if events.lastEventType() != enums.EventIssueClosed {
		t.Fatalf("expected issue_closed, got %s", events.lastEventType())
	}
	closed, ok := events.events[0].Data.(payloads.IssueClosedEvent)
	if !ok || !closed.Withdrawn {
		t.Fatalf("expected a withdrawn close payload, got %+v", events.events[0].Data)
	}
}

func TestWithdrawRejectedAfterApproval(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: uuid.New(),
		CustomerID:  customerID,
		Status:      enums.IssueStatusApprovedRefund,
	}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	err := svc.Withdraw(context.Background(), customerID, issue.ID)
	expectCode(t, err, pkgerrors.CodeStateConflict)
}

func TestPostMessageReturnsInfoRequestedToReview(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: uuid.New(),
		CustomerID:  customerID,
		Status:      enums.IssueStatusInfoRequested,
	}
	issueRepo := newFakeIssueRepo(issue)

	svc := newTestService(t, ServiceParams{
		Repo:         issueRepo,
		OrdersRepo:   newFakeOrdersRepo(),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	actor := Actor{ID: customerID, Role: enums.ActorRoleCustomer}
	if _, err := svc.PostMessage(context.Background(), actor, issue.ID, MessageInput{Body: "here are the photos"}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if issue.Status != enums.IssueStatusAwaitingReview {
		t.Fatalf("expected issue back in review, got %s", issue.Status)
	}
}

func TestPostMessageRejectedOnConcludedIssue(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: uuid.New(),
		CustomerID:  customerID,
		Status:      enums.IssueStatusCompleted,
	}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	actor := Actor{ID: customerID, Role: enums.ActorRoleCustomer}
	_, err := svc.PostMessage(context.Background(), actor, issue.ID, MessageInput{Body: "hello?"})
	expectCode(t, err, pkgerrors.CodeStateConflict)
}

func TestApprovePartialRefundDefaultsToItemTotal(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: order.Items[0].ID,
		OrderID:     order.ID,
		CustomerID:  customerID,
		Status:      enums.IssueStatusAwaitingReview,
	}
	issueRepo := newFakeIssueRepo(issue)

	svc := newTestService(t, ServiceParams{
		Repo:         issueRepo,
		OrdersRepo:   newFakeOrdersRepo(order),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	approved, err := svc.Approve(context.Background(), uuid.New(), issue.ID, ApproveInput{ResolvedType: "partial_refund"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != enums.IssueStatusApprovedRefund {
		t.Fatalf("expected approved_refund, got %s", approved.Status)
	}
	if approved.RefundAmountCents == nil || *approved.RefundAmountCents != 2500 {
		t.Fatalf("expected default partial amount 2500, got %v", approved.RefundAmountCents)
	}
}

func TestApprovePartialRefundOnReprintItemUsesPaidTotal(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	original := paidOrder(customerID, 2500)
	reprintOrder := paidOrder(customerID, 0)
	reprintOrder.ReprintOfOrderID = &original.ID
	reprintOrder.Items[0].OriginalOrderID = &original.ID
	reprintOrder.Items[0].OriginalItemID = &original.Items[0].ID

	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: reprintOrder.Items[0].ID,
		OrderID:     reprintOrder.ID,
		CustomerID:  customerID,
		Status:      enums.IssueStatusAwaitingReview,
	}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(original, reprintOrder),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	// The reprint item itself is zero-priced; the cap and the default come
	// from the item the customer paid for.
	explicit := int64(2500)
	approved, err := svc.Approve(context.Background(), uuid.New(), issue.ID, ApproveInput{
		ResolvedType: "partial_refund",
		AmountCents:  &explicit,
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.RefundAmountCents == nil || *approved.RefundAmountCents != 2500 {
		t.Fatalf("expected partial amount 2500 from the paid item, got %v", approved.RefundAmountCents)
	}
}

func TestApprovePartialRefundOnReprintItemDefaultsToPaidTotal(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	original := paidOrder(customerID, 2500)
	payment := &models.Payment{
		ID:               uuid.New(),
		OrderID:          original.ID,
		AmountCents:      2500,
		Status:           enums.PaymentStatusCompleted,
		GatewayReference: "pi_77",
	}
	reprintOrder := paidOrder(customerID, 0)
	reprintOrder.ReprintOfOrderID = &original.ID
	reprintOrder.Items[0].OriginalOrderID = &original.ID
	reprintOrder.Items[0].OriginalItemID = &original.Items[0].ID

	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: reprintOrder.Items[0].ID,
		OrderID:     reprintOrder.ID,
		CustomerID:  customerID,
		Status:      enums.IssueStatusAwaitingReview,
	}
	executor := &fakeExecutor{result: &refunds.ExecuteResult{RefundID: "re_9", AmountCents: 2500}}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(original, reprintOrder),
		PaymentsRepo: newFakePaymentsRepo(payment),
		Executor:     executor,
		Outbox:       &fakeOutbox{},
	})

	if _, err := svc.Approve(context.Background(), uuid.New(), issue.ID, ApproveInput{ResolvedType: "partial_refund"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := svc.Process(context.Background(), uuid.New(), issue.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(executor.calls) != 1 {
		t.Fatalf("expected one refund call, got %d", len(executor.calls))
	}
	amount := executor.calls[0].AmountCents
	if amount == nil || *amount != 2500 {
		t.Fatalf("expected refund of 2500 against the paying order, got %v", amount)
	}
}

func TestApproveRejectsOversizedPartialAmount(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: order.Items[0].ID,
		OrderID:     order.ID,
		CustomerID:  customerID,
		Status:      enums.IssueStatusAwaitingReview,
	}
	tooMuch := int64(9999)

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(order),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	_, err := svc.Approve(context.Background(), uuid.New(), issue.ID, ApproveInput{
		ResolvedType: "partial_refund",
		AmountCents:  &tooMuch,
	})
	expectCode(t, err, pkgerrors.CodeValidation)
}

func TestApproveRequiresAwaitingReview(t *testing.T) {
	t.Parallel()

	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: uuid.New(),
		Status:      enums.IssueStatusInfoRequested,
	}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       &fakeOutbox{},
	})

	_, err := svc.Approve(context.Background(), uuid.New(), issue.ID, ApproveInput{ResolvedType: "reprint"})
	expectCode(t, err, pkgerrors.CodeStateConflict)
}

func TestProcessCompletedIssueIsNoOp(t *testing.T) {
	t.Parallel()

	executor := &fakeExecutor{}
	issue := &models.Issue{
		ID:          uuid.New(),
		OrderItemID: uuid.New(),
		Status:      enums.IssueStatusCompleted,
		IsConcluded: true,
	}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(),
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     executor,
		Outbox:       &fakeOutbox{},
	})

	result, err := svc.Process(context.Background(), uuid.New(), issue.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.AlreadyHandled {
		t.Fatal("expected AlreadyHandled on a completed issue")
	}
	if len(executor.calls) != 0 {
		t.Fatal("repeat processing must not reach the gateway")
	}
}

func TestProcessReprintCreatesZeroCostOrder(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	reprintType := enums.ResolvedTypeReprint
	issue := &models.Issue{
		ID:           uuid.New(),
		OrderItemID:  order.Items[0].ID,
		OrderID:      order.ID,
		CustomerID:   customerID,
		Status:       enums.IssueStatusApprovedReprint,
		ResolvedType: &reprintType,
	}
	issueRepo := newFakeIssueRepo(issue)
	ordersRepo := newFakeOrdersRepo(order)
	events := &fakeOutbox{}

	svc := newTestService(t, ServiceParams{
		Repo:         issueRepo,
		OrdersRepo:   ordersRepo,
		PaymentsRepo: newFakePaymentsRepo(),
		Executor:     &fakeExecutor{},
		Outbox:       events,
	})

	result, err := svc.Process(context.Background(), uuid.New(), issue.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.ReprintOrder == nil {
		t.Fatal("expected a reprint order")
	}
	if result.ReprintOrder.TotalCents != 0 {
		t.Fatalf("reprint must be zero cost, got %d", result.ReprintOrder.TotalCents)
	}
	if result.ReprintOrder.ReprintOfOrderID == nil || *result.ReprintOrder.ReprintOfOrderID != order.ID {
		t.Fatal("reprint must reference the original order")
	}
	if result.Issue.Status != enums.IssueStatusCompleted || !result.Issue.IsConcluded {
		t.Fatalf("expected concluded completed issue, got %s concluded=%v", result.Issue.Status, result.Issue.IsConcluded)
	}
	if events.lastEventType() != enums.EventIssueReprinted {
		t.Fatalf("expected issue_reprinted, got %s", events.lastEventType())
	}
}

func TestProcessFullRefundMarksPaymentAndOrder(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	payment := &models.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		AmountCents:      2500,
		Status:           enums.PaymentStatusCompleted,
		GatewayReference: "pi_123",
	}
	fullRefund := enums.ResolvedTypeFullRefund
	issue := &models.Issue{
		ID:           uuid.New(),
		OrderItemID:  order.Items[0].ID,
		OrderID:      order.ID,
		CustomerID:   customerID,
		Status:       enums.IssueStatusApprovedRefund,
		ResolvedType: &fullRefund,
	}
	executor := &fakeExecutor{result: &refunds.ExecuteResult{RefundID: "re_1", AmountCents: 2500}}
	paymentsRepo := newFakePaymentsRepo(payment)
	ordersRepo := newFakeOrdersRepo(order)
	events := &fakeOutbox{}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   ordersRepo,
		PaymentsRepo: paymentsRepo,
		Executor:     executor,
		Outbox:       events,
	})

	result, err := svc.Process(context.Background(), uuid.New(), issue.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.RefundID != "re_1" || result.RefundedCents != 2500 {
		t.Fatalf("unexpected refund result %+v", result)
	}
	if len(executor.calls) != 1 {
		t.Fatalf("expected one gateway execution, got %d", len(executor.calls))
	}
	call := executor.calls[0]
	if call.IdempotencyKey != "issue_"+issue.ID.String() {
		t.Fatalf("unexpected idempotency key %q", call.IdempotencyKey)
	}
	if call.AmountCents != nil {
		t.Fatal("full refund must omit the amount")
	}
	if len(paymentsRepo.refunded) != 1 {
		t.Fatal("full refund must flip the payment to refunded")
	}
	if order.Status != enums.OrderStatusRefunded {
		t.Fatalf("expected refunded order, got %s", order.Status)
	}
	if events.lastEventType() != enums.EventIssueRefunded {
		t.Fatalf("expected issue_refunded, got %s", events.lastEventType())
	}
}

func TestProcessPartialRefundLeavesPaymentUntouched(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	payment := &models.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		AmountCents:      2500,
		Status:           enums.PaymentStatusCompleted,
		GatewayReference: "pi_123",
	}
	partial := enums.ResolvedTypePartialRefund
	amount := int64(1000)
	issue := &models.Issue{
		ID:                uuid.New(),
		OrderItemID:       order.Items[0].ID,
		OrderID:           order.ID,
		CustomerID:        customerID,
		Status:            enums.IssueStatusApprovedRefund,
		ResolvedType:      &partial,
		RefundAmountCents: &amount,
	}
	executor := &fakeExecutor{result: &refunds.ExecuteResult{RefundID: "re_2", AmountCents: 1000}}
	paymentsRepo := newFakePaymentsRepo(payment)

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(order),
		PaymentsRepo: paymentsRepo,
		Executor:     executor,
		Outbox:       &fakeOutbox{},
	})

	if _, err := svc.Process(context.Background(), uuid.New(), issue.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	call := executor.calls[0]
	if call.AmountCents == nil || *call.AmountCents != 1000 {
		t.Fatalf("expected partial amount 1000 forwarded, got %v", call.AmountCents)
	}
	if len(paymentsRepo.refunded) != 0 {
		t.Fatal("partial refund must not flip the payment status")
	}
	if order.Status == enums.OrderStatusRefunded {
		t.Fatal("partial refund must not flip the order status")
	}
}

func TestProcessRefundFailureRevertsToApproved(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	payment := &models.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		AmountCents:      2500,
		Status:           enums.PaymentStatusCompleted,
		GatewayReference: "pi_123",
	}
	fullRefund := enums.ResolvedTypeFullRefund
	issue := &models.Issue{
		ID:           uuid.New(),
		OrderItemID:  order.Items[0].ID,
		OrderID:      order.ID,
		CustomerID:   customerID,
		Status:       enums.IssueStatusApprovedRefund,
		ResolvedType: &fullRefund,
	}
	gatewayErr := pkgerrors.New(pkgerrors.CodeDependency, "payment gateway unreachable")
	events := &fakeOutbox{}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(order),
		PaymentsRepo: newFakePaymentsRepo(payment),
		Executor:     &fakeExecutor{err: gatewayErr},
		Outbox:       events,
	})

	_, err := svc.Process(context.Background(), uuid.New(), issue.ID)
	expectCode(t, err, pkgerrors.CodeDependency)
	if issue.Status != enums.IssueStatusApprovedRefund {
		t.Fatalf("expected revert to approved_refund, got %s", issue.Status)
	}
	if issue.IsConcluded {
		t.Fatal("failed refund must not conclude the issue")
	}
	if events.lastEventType() != enums.EventRefundFailed {
		t.Fatalf("expected refund_failed, got %s", events.lastEventType())
	}
}

func TestProcessResumesCrashedProcessingIssue(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	order := paidOrder(customerID, 2500)
	payment := &models.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		AmountCents:      2500,
		Status:           enums.PaymentStatusCompleted,
		GatewayReference: "pi_55",
	}

	// An earlier attempt claimed the issue and crashed before recording an
	// outcome; a retry must pick the row back up, not wedge on it.
	fullRefund := enums.ResolvedTypeFullRefund
	issue := &models.Issue{
		ID:           uuid.New(),
		OrderItemID:  order.Items[0].ID,
		OrderID:      order.ID,
		CustomerID:   customerID,
		Status:       enums.IssueStatusProcessing,
		ResolvedType: &fullRefund,
	}
	executor := &fakeExecutor{result: &refunds.ExecuteResult{RefundID: "re_55", AmountCents: 2500}}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(order),
		PaymentsRepo: newFakePaymentsRepo(payment),
		Executor:     executor,
		Outbox:       &fakeOutbox{},
	})

	result, err := svc.Process(context.Background(), uuid.New(), issue.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.AlreadyHandled {
		t.Fatal("resumed processing must run the refund, not report a no-op")
	}
	if len(executor.calls) != 1 {
		t.Fatalf("expected one refund call, got %d", len(executor.calls))
	}
	if issue.Status != enums.IssueStatusCompleted {
		t.Fatalf("expected completed after resume, got %s", issue.Status)
	}
}

func TestProcessRefundOnReprintChargesOriginalOrder(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	original := paidOrder(customerID, 2500)
	payment := &models.Payment{
		ID:               uuid.New(),
		OrderID:          original.ID,
		AmountCents:      2500,
		Status:           enums.PaymentStatusCompleted,
		GatewayReference: "pi_123",
	}

	reprintOrder := paidOrder(customerID, 0)
	reprintOrder.ReprintOfOrderID = &original.ID
	reprintOrder.Items[0].OriginalOrderID = &original.ID
	reprintOrder.Items[0].OriginalItemID = &original.Items[0].ID

	fullRefund := enums.ResolvedTypeFullRefund
	issue := &models.Issue{
		ID:           uuid.New(),
		OrderItemID:  reprintOrder.Items[0].ID,
		OrderID:      reprintOrder.ID,
		CustomerID:   customerID,
		Status:       enums.IssueStatusApprovedRefund,
		ResolvedType: &fullRefund,
	}
	executor := &fakeExecutor{result: &refunds.ExecuteResult{RefundID: "re_3", AmountCents: 2500}}

	svc := newTestService(t, ServiceParams{
		Repo:         newFakeIssueRepo(issue),
		OrdersRepo:   newFakeOrdersRepo(original, reprintOrder),
		PaymentsRepo: newFakePaymentsRepo(payment),
		Executor:     executor,
		Outbox:       &fakeOutbox{},
	})

	if _, err := svc.Process(context.Background(), uuid.New(), issue.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(executor.calls) != 1 || executor.calls[0].Payment.ID != payment.ID {
		t.Fatal("refund must target the payment on the original paying order")
	}
	if original.Status != enums.OrderStatusRefunded {
		t.Fatalf("expected the original order refunded, got %s", original.Status)
	}
}
