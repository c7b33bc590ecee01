package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/amaldonado/streamlane-backend/api/responses"
	"github.com/amaldonado/streamlane-backend/pkg/debuglog"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
)

const defaultDebugLogLimit = 50

type debugLogResponse struct {
	Entries []debuglog.Entry `json:"entries"`
}

// AdminDebugLog exposes the in-memory billing event buffer to operators.
func AdminDebugLog(buffer *debuglog.Buffer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if buffer == nil {
			buffer = debuglog.Default()
		}

		limit := defaultDebugLogLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid limit"))
				return
			}
			limit = parsed
		}

		entryType := strings.TrimSpace(r.URL.Query().Get("type"))

		var entries []debuglog.Entry
		if entryType != "" {
			entries = buffer.ByType(entryType, limit)
		} else {
			entries = buffer.Recent(limit)
		}

		responses.WriteSuccess(w, debugLogResponse{Entries: entries})
	}
}
