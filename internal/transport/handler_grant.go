package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veropath/grantflow/internal/grant"
	"github.com/veropath/grantflow/internal/observability"
	"github.com/veropath/grantflow/model"
)

func handleGrantRevoke(grants *grant.Manager, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		grantID := chi.URLParam(r, "grantId")

		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if strings.TrimSpace(body.Reason) == "" {
			WriteValidationError(w, r, []model.FieldError{
				{Field: "reason", Code: "required", Message: "A revocation reason is required"},
			})
			return
		}

		g, err := grants.Revoke(r.Context(), actor.ID, grantID, body.Reason)
		if err != nil {
			// Repeat terminal transitions resolve to the existing grant.
			switch model.ErrorCode(err) {
			case model.ErrAlreadyRevoked, model.ErrAlreadyExpired:
				WriteJSON(w, http.StatusOK, g)
			default:
				WriteError(w, r, err)
			}
			return
		}
		if metrics != nil {
			metrics.RecordGrantRevoked("manual")
		}
		WriteJSON(w, http.StatusOK, g)
	}
}

func handleGrantScheduleRevocation(grants *grant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		grantID := chi.URLParam(r, "grantId")

		var body struct {
			ScheduledRevocationDate *time.Time `json:"scheduled_revocation_date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.ScheduledRevocationDate == nil {
			WriteValidationError(w, r, []model.FieldError{
				{Field: "scheduled_revocation_date", Code: "required", Message: "A revocation date is required"},
			})
			return
		}

		g, err := grants.ScheduleRevocation(r.Context(), actor.ID, grantID, *body.ScheduledRevocationDate)
		if err != nil {
			switch model.ErrorCode(err) {
			case model.ErrAlreadyRevoked, model.ErrAlreadyExpired:
				WriteJSON(w, http.StatusOK, g)
			default:
				WriteError(w, r, err)
			}
			return
		}
		WriteJSON(w, http.StatusOK, g)
	}
}

func handleGrantGet(grants *grant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grantID := chi.URLParam(r, "grantId")

		g, err := grants.Get(r.Context(), grantID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, g)
	}
}

func handleGrantList(grants *grant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := grant.GrantFilters{
			UserID:   r.URL.Query().Get("user_id"),
			SystemID: r.URL.Query().Get("system_id"),
			Limit:    queryInt(r, "limit", 50),
			Offset:   queryInt(r, "offset", 0),
		}
		if status := r.URL.Query().Get("status"); status != "" {
			filters.Statuses = strings.Split(status, ",")
		}

		results, err := grants.List(r.Context(), filters)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":  results,
			"count": len(results),
		})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
