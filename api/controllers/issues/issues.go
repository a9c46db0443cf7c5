package issues

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/printbound/printbound-backend/api/middleware"
	"github.com/printbound/printbound-backend/api/responses"
	"github.com/printbound/printbound-backend/api/validators"
	internalissues "github.com/printbound/printbound-backend/internal/issues"
	"github.com/printbound/printbound-backend/pkg/enums"
	pkgerrors "github.com/printbound/printbound-backend/pkg/errors"
	"github.com/printbound/printbound-backend/pkg/logger"
	"github.com/printbound/printbound-backend/pkg/pagination"
)

type createIssueRequest struct {
	OrderItemID string   `json:"order_item_id" validate:"required,uuid"`
	Reason      string   `json:"reason" validate:"required"`
	Description string   `json:"description" validate:"required,min=10,max=4000"`
	ImageURLs   []string `json:"image_urls" validate:"omitempty,max=10,dive,url"`
}

type postMessageRequest struct {
	Body      string   `json:"body" validate:"required,min=1,max=4000"`
	ImageURLs []string `json:"image_urls" validate:"omitempty,max=10,dive,url"`
}

// Create opens a new issue against one of the customer's order items.
func Create(svc internalissues.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "issues service unavailable"))
			return
		}

		customerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createIssueRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderItemID, err := uuid.Parse(payload.OrderItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order item id"))
			return
		}

		issue, err := svc.Create(r.Context(), customerID, internalissues.CreateInput{
			OrderItemID: orderItemID,
			Reason:      payload.Reason,
			Description: payload.Description,
			ImageURLs:   payload.ImageURLs,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, issue)
	}
}

// List returns the customer's own issues, newest first.
func List(svc internalissues.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "issues service unavailable"))
			return
		}

		customerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListForCustomer(r.Context(), customerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one issue with its message thread, marking the counterpart
// messages read.
func Detail(svc internalissues.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "issues service unavailable"))
			return
		}

		actor, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		issueID, err := pathIssueID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		issue, err := svc.Get(r.Context(), actor, issueID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, issue)
	}
}

// Withdraw deletes an issue the admin team has not yet acted on.
func Withdraw(svc internalissues.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "issues service unavailable"))
			return
		}

		customerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		issueID, err := pathIssueID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Withdraw(r.Context(), customerID, issueID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// PostMessage appends a customer message to the issue thread.
func PostMessage(svc internalissues.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "issues service unavailable"))
			return
		}

		actor, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		issueID, err := pathIssueID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload postMessageRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		message, err := svc.PostMessage(r.Context(), actor, issueID, internalissues.MessageInput{
			Body:      payload.Body,
			ImageURLs: payload.ImageURLs,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, message)
	}
}

func actorID(r *http.Request) (uuid.UUID, error) {
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

func requestActor(r *http.Request) (internalissues.Actor, error) {
	id, err := actorID(r)
	if err != nil {
		return internalissues.Actor{}, err
	}
	role := enums.ActorRole(middleware.RoleFromContext(r.Context()))
	if !role.IsValid() {
		return internalissues.Actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "actor role missing")
	}
	return internalissues.Actor{
		ID:    id,
		Email: middleware.EmailFromContext(r.Context()),
		Role:  role,
	}, nil
}

func pathIssueID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "issueId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "issue id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid issue id")
	}
	return id, nil
}

func listParams(r *http.Request) (internalissues.ListParams, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return internalissues.ListParams{}, err
	}

	params := internalissues.ListParams{
		Params: pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		},
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := enums.ParseIssueStatus(strings.TrimSpace(part))
			if err != nil {
				return internalissues.ListParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
			}
			params.Statuses = append(params.Statuses, status)
		}
	}
	return params, nil
}
