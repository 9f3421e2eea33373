package transport

import (
	"net/http"
	"time"

	"github.com/veropath/grantflow/internal/observability"
	"github.com/veropath/grantflow/internal/scheduler"
	"github.com/veropath/grantflow/model"
)

// adminRole is the role allowed to trigger administrative operations.
const adminRole = "admin"

func handleSweepNow(sweeper *scheduler.Sweeper, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := model.MustActor(r.Context())
		if actor.Role != adminRole {
			WriteError(w, r, model.NewForbiddenError("Sweep requires the admin role"))
			return
		}

		start := time.Now()
		report, err := sweeper.Sweep(r.Context(), time.Now().UTC())
		if metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			metrics.RecordSweep(status, time.Since(start), len(report.Expired), len(report.Revoked))
		}
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}
