package controllers

import (
	"net/http"

	"github.com/amaldonado/streamlane-backend/api/responses"
	"github.com/amaldonado/streamlane-backend/api/validators"
	checkoutsvc "github.com/amaldonado/streamlane-backend/internal/checkout"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
)

// CheckoutStart opens a hosted checkout session for the caller.
func CheckoutStart(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body checkoutsvc.StartInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Start(ctx, userID, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
