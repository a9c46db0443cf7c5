package resolutions

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/api/middleware"
	"github.com/printbound/printbound-backend/api/responses"
	"github.com/printbound/printbound-backend/api/validators"
	internalresolutions "github.com/printbound/printbound-backend/internal/resolutions"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
	"github.com/printbound/printbound-backend/pkg/logger"
)

type createResolutionRequest struct {
	OrderID      string `json:"order_id" validate:"required,uuid"`
	Reason       string `json:"reason" validate:"required,min=1,max=4000"`
	ResolvedType string `json:"resolved_type" validate:"required,oneof=full_refund partial_refund"`
	AmountCents  *int64 `json:"amount_cents" validate:"omitempty,gt=0"`
}

type cancellationReviewRequest struct {
	Approve bool   `json:"approve"`
	Refund  bool   `json:"refund"`
	Reason  string `json:"reason" validate:"required,min=1,max=4000"`
}

// Create opens an order-scoped refund resolution outside the issue flow.
func Create(svc internalresolutions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "resolutions service unavailable"))
			return
		}

		adminID, err := adminActorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createResolutionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := uuid.Parse(payload.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		resolution, err := svc.Create(r.Context(), adminID, internalresolutions.CreateInput{
			OrderID:      orderID,
			Reason:       payload.Reason,
			ResolvedType: payload.ResolvedType,
			AmountCents:  payload.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resolution)
	}
}

// Process executes a pending or previously failed resolution's refund.
func Process(svc internalresolutions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "resolutions service unavailable"))
			return
		}

		adminID, err := adminActorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "resolutionId"))
		if raw == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "resolution id is required"))
			return
		}
		resolutionID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolution id"))
			return
		}

		resolution, err := svc.Process(r.Context(), adminID, resolutionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resolution)
	}
}

// ListForOrder returns every resolution recorded against an order.
func ListForOrder(svc internalresolutions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "resolutions service unavailable"))
			return
		}

		orderID, err := pathOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// CancellationReview settles a customer's cancellation request: reject,
// approve, or approve with a refund of the captured payment.
func CancellationReview(svc internalresolutions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "resolutions service unavailable"))
			return
		}

		adminID, err := adminActorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := pathOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancellationReviewRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ReviewCancellation(r.Context(), adminID, orderID, internalresolutions.ReviewInput{
			Approve: payload.Approve,
			Refund:  payload.Refund,
			Reason:  payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func adminActorID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return id, nil
}

func pathOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}
