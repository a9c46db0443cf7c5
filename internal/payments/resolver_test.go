package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printbound/printbound-backend/pkg/db/models"
	"github.com/printbound/printbound-backend/pkg/enums"
)

type fakeGateway struct {
	fetchChargeFn  func(ctx context.Context, id string) (*Charge, error)
	fetchSessionFn func(ctx context.Context, id string) (*Session, error)
	createRefundFn func(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

func (f *fakeGateway) FetchCharge(ctx context.Context, id string) (*Charge, error) {
	if f.fetchChargeFn != nil {
		return f.fetchChargeFn(ctx, id)
	}
	return nil, errors.New("not stubbed")
}

func (f *fakeGateway) FetchSession(ctx context.Context, id string) (*Session, error) {
	if f.fetchSessionFn != nil {
		return f.fetchSessionFn(ctx, id)
	}
	return nil, errors.New("not stubbed")
}

func (f *fakeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if f.createRefundFn != nil {
		return f.createRefundFn(ctx, req)
	}
	return nil, errors.New("not stubbed")
}

type fakePaymentRepo struct {
	reconciled  map[uuid.UUID]string
	reconcileFn func(ctx context.Context, id uuid.UUID, chargeID string) error
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{reconciled: map[uuid.UUID]string{}}
}

func (f *fakePaymentRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakePaymentRepo) Create(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	return payment, nil
}

func (f *fakePaymentRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePaymentRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePaymentRepo) ReconcileReference(ctx context.Context, id uuid.UUID, chargeID string) error {
	if f.reconcileFn != nil {
		return f.reconcileFn(ctx, id, chargeID)
	}
	f.reconciled[id] = chargeID
	return nil
}

func (f *fakePaymentRepo) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}

func TestParseReference(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantKind ReferenceKind
		wantErr  bool
	}{
		{name: "charge", raw: "pi_abc123", wantKind: KindCharge},
		{name: "session", raw: "cs_test_xyz", wantKind: KindSession},
		{name: "padded charge", raw: "  pi_abc123  ", wantKind: KindCharge},
		{name: "empty", raw: "", wantErr: true},
		{name: "unknown shape", raw: "tok_visa", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := ParseReference(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReference(%q) error: %v", tc.raw, err)
			}
			if ref.Kind != tc.wantKind {
				t.Fatalf("expected kind %s, got %s", tc.wantKind, ref.Kind)
			}
		})
	}
}

func TestResolver_ChargeReference(t *testing.T) {
	gateway := &fakeGateway{
		fetchChargeFn: func(ctx context.Context, id string) (*Charge, error) {
			return &Charge{ID: id, Paid: true, AmountCents: 2500}, nil
		},
	}
	repo := newFakePaymentRepo()
	resolver, err := NewResolver(gateway, repo, nil)
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}

	payment := &models.Payment{ID: uuid.New(), GatewayReference: "pi_abc"}
	resolved, err := resolver.Resolve(context.Background(), payment)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if resolved.ChargeID != "pi_abc" || !resolved.IsPaid {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
	if len(repo.reconciled) != 0 {
		t.Fatal("charge reference must not trigger reconciliation")
	}
}

func TestResolver_SessionSelfHeals(t *testing.T) {
	gateway := &fakeGateway{
		fetchSessionFn: func(ctx context.Context, id string) (*Session, error) {
			return &Session{ID: id, PaymentComplete: true, ChargeID: "pi_resolved"}, nil
		},
	}
	repo := newFakePaymentRepo()
	resolver, err := NewResolver(gateway, repo, nil)
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}

	payment := &models.Payment{
		ID:               uuid.New(),
		GatewayReference: "cs_test_123",
		Status:           enums.PaymentStatusPending,
	}
	resolved, err := resolver.Resolve(context.Background(), payment)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if resolved.ChargeID != "pi_resolved" || !resolved.IsPaid {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
	if repo.reconciled[payment.ID] != "pi_resolved" {
		t.Fatal("expected payment row to be reconciled with resolved charge id")
	}
}

func TestResolver_SessionUnpaidIsTerminal(t *testing.T) {
	gateway := &fakeGateway{
		fetchSessionFn: func(ctx context.Context, id string) (*Session, error) {
			return &Session{ID: id, PaymentComplete: false}, nil
		},
	}
	repo := newFakePaymentRepo()
	resolver, err := NewResolver(gateway, repo, nil)
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}

	payment := &models.Payment{ID: uuid.New(), GatewayReference: "cs_test_123"}
	if _, err := resolver.Resolve(context.Background(), payment); err == nil {
		t.Fatal("expected unpaid session to be a terminal error")
	}
	if len(repo.reconciled) != 0 {
		t.Fatal("unpaid session must not reconcile the payment row")
	}
}

func TestResolver_ReconcileFailureIsBestEffort(t *testing.T) {
	gateway := &fakeGateway{
		fetchSessionFn: func(ctx context.Context, id string) (*Session, error) {
			return &Session{ID: id, PaymentComplete: true, ChargeID: "pi_resolved"}, nil
		},
	}
	repo := newFakePaymentRepo()
	repo.reconcileFn = func(ctx context.Context, id uuid.UUID, chargeID string) error {
		return errors.New("db unavailable")
	}
	resolver, err := NewResolver(gateway, repo, nil)
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}

	payment := &models.Payment{ID: uuid.New(), GatewayReference: "cs_test_123"}
	resolved, err := resolver.Resolve(context.Background(), payment)
	if err != nil {
		t.Fatalf("Resolve should tolerate reconcile failure, got: %v", err)
	}
	if resolved.ChargeID != "pi_resolved" {
		t.Fatalf("unexpected charge id: %s", resolved.ChargeID)
	}
}

func TestResolver_UnparseableReference(t *testing.T) {
	resolver, err := NewResolver(&fakeGateway{}, newFakePaymentRepo(), nil)
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}
	payment := &models.Payment{ID: uuid.New(), GatewayReference: "tok_garbage"}
	if _, err := resolver.Resolve(context.Background(), payment); err == nil {
		t.Fatal("expected error for unrecognized reference shape")
	}
}
