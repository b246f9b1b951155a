package transport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/micromdm/nanolib/log"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
	"howett.net/plist"
)

// focusPolicyRequest is the operator-facing request body for
// POST /api/focus/policy/{device_id}.
type focusPolicyRequest struct {
	Policy mdmproto.FocusPolicy `json:"policy"`
}

// FocusPolicyHandler enqueues a FocusPolicy command for device_id,
// per spec.md §6's (Focus-specific) operator endpoint.
func FocusPolicyHandler(store OperatorStore, logger log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.NopLogger
	}
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := strings.TrimPrefix(r.URL.Path, "/api/focus/policy/")
		deviceID = strings.Trim(deviceID, "/")
		if deviceID == "" {
			http.Error(w, "missing device id", http.StatusBadRequest)
			return
		}

		if r.Method == http.MethodGet {
			// Reserved per spec.md §6; no read-back API yet.
			http.Error(w, "reserved, not yet implemented", http.StatusNotImplemented)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req focusPolicyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		blob, err := plist.Marshal(req.Policy.ToCommandPayload(), plist.XMLFormat)
		if err != nil {
			logger.Info("msg", "FocusPolicyHandler: marshal command", "err", err.Error())
			http.Error(w, "failed to encode command", http.StatusInternalServerError)
			return
		}

		uuid, err := store.Enqueue(r.Context(), deviceID, blob, mdmproto.FocusPolicyRequestType)
		if err != nil {
			logger.Info("msg", "FocusPolicyHandler: enqueue", "device_id", deviceID, "err", err.Error())
			http.Error(w, "failed to enqueue command", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"command_uuid": uuid,
			"request_type": mdmproto.FocusPolicyRequestType,
		})
	}
}

// FocusPolicyReservedHandler answers every request to
// /api/focus/status/{device_id}, reserved per spec.md §6. GET
// /api/focus/policy/{device_id} gets the same answer from
// FocusPolicyHandler itself.
func FocusPolicyReservedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "reserved, not yet implemented", http.StatusNotImplemented)
	}
}
