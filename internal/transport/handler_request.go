package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/veropath/grantflow/internal/idempotency"
	"github.com/veropath/grantflow/internal/observability"
	"github.com/veropath/grantflow/internal/workflow"
	"github.com/veropath/grantflow/model"
)

// submitRequestBody is the JSON body for POST /api/requests.
type submitRequestBody struct {
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
	SystemID    string         `json:"system_id"`
	IsPermanent bool           `json:"is_permanent"`
	StartDate   *time.Time     `json:"start_date"`
	EndDate     *time.Time     `json:"end_date"`
}

func handleRequestSubmit(engine *workflow.Engine, idem idempotency.Store, idemTTL time.Duration, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())

		var body submitRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		var idemKey string
		if idem != nil {
			if header := r.Header.Get("X-Idempotency-Key"); header != "" {
				idemKey = idempotency.FormatKey(actor.ID, header)
				cached, found, err := idem.Check(r.Context(), idemKey, idempotency.HashInput(body))
				if err != nil {
					WriteError(w, r, err)
					return
				}
				if found {
					if metrics != nil {
						metrics.RecordIdempotencyReplay()
					}
					WriteJSON(w, http.StatusOK, cached)
					return
				}
			}
		}

		req, err := engine.Submit(r.Context(), actor, workflow.SubmitInput{
			Kind:        body.Kind,
			Payload:     body.Payload,
			SystemID:    body.SystemID,
			IsPermanent: body.IsPermanent,
			StartDate:   body.StartDate,
			EndDate:     body.EndDate,
		})
		if err != nil {
			WriteError(w, r, err)
			return
		}

		if idemKey != "" {
			if err := idem.Save(r.Context(), idemKey, idempotency.HashInput(body), req, idemTTL); err != nil {
				observability.LoggerFrom(r.Context(), zap.NewNop()).Warn("idempotency save failed",
					zap.String("request_id", req.ID), zap.Error(err))
			}
		}
		if metrics != nil {
			metrics.RecordSubmission(req.Kind)
		}
		WriteJSON(w, http.StatusCreated, req)
	}
}

// actionRequestBody is the JSON body for POST /api/requests/{requestId}/actions.
type actionRequestBody struct {
	Action     string `json:"action"`
	Comments   string `json:"comments"`
	EscalateTo string `json:"escalate_to"`
}

func handleRequestAction(engine *workflow.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		requestID := chi.URLParam(r, "requestId")

		var body actionRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		start := time.Now()
		req, err := engine.Act(r.Context(), actor, requestID, workflow.ActInput{
			Action:     body.Action,
			Comment:    body.Comments,
			EscalateTo: body.EscalateTo,
		})
		if metrics != nil {
			kind := req.Kind
			if kind == "" {
				kind = "unknown"
			}
			metrics.RecordAction(kind, body.Action, actionOutcome(err), time.Since(start))
			if err == nil && model.IsTerminalStatus(req.Status) {
				metrics.RecordCompletion(req.Kind, req.Status)
			}
			if model.ErrorCode(err) == model.ErrConflict {
				metrics.RecordTransitionConflict(kind)
			}
		}
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, req)
	}
}

func handleRequestGet(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "requestId")

		req, err := engine.Get(r.Context(), requestID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, req)
	}
}

func handleRequestListActionable(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())

		summaries, err := engine.ListActionable(r.Context(), actor)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":  summaries,
			"count": len(summaries),
		})
	}
}

func actionOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := model.ErrorCode(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}
