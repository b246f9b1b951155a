package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
	"github.com/pl-aronis/moonstone/internal/mdm/enrollid"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmerr"
	"github.com/pl-aronis/moonstone/internal/mdm/mdmproto"
	"github.com/pl-aronis/moonstone/internal/mdm/service"
	"howett.net/plist"
)

// statusFor maps the error taxonomy (spec.md §7) to an HTTP status,
// grounded on jessepeterson-nanomdm/http/mdm/mdm.go's errors.As
// unwrapping of service.HTTPStatusError, generalized to our own
// mdmerr kinds.
func statusFor(err error) int {
	var parseErr *mdmerr.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusBadRequest
	}
	var unresolved *enrollid.UnresolvedIdentityError
	if errors.As(err, &unresolved) {
		return http.StatusBadRequest
	}
	var unauthorized *mdmerr.Unauthorized
	if errors.As(err, &unauthorized) {
		return http.StatusUnauthorized
	}
	var storageErr *mdmerr.StorageError
	if errors.As(err, &storageErr) {
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, logger log.Logger, op string, err error) {
	status := statusFor(err)
	logger.Info("msg", op, "http_status", status, "err", err.Error())
	w.WriteHeader(status)
}

// CheckinHandler builds the /mdm/checkin endpoint, grounded on
// jessepeterson-nanomdm/http/mdm/mdm.go's CheckinHandler factory
// generalized to the full eight-message contract (spec.md §4.4).
func CheckinHandler(svc service.Checkin, certSource *CertSource, logger log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.NopLogger
	}
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeErr(w, logger, "checkin: read body", &mdmerr.ParseError{Context: "body", Cause: err})
			return
		}

		cert, err := certSource.Extract(r, body)
		if err != nil {
			writeErr(w, logger, "checkin: extract cert", err)
			return
		}

		var msg mdmproto.CheckinMessage
		if _, err := plist.Unmarshal(body, &msg); err != nil {
			writeErr(w, logger, "checkin: unmarshal", &mdmerr.ParseError{Context: "check-in plist", Cause: err})
			return
		}
		msg.Raw = body

		id, err := enrollid.Resolve(enrollid.RawEnrollment{
			UDID:             msg.UDID,
			UserID:           msg.UserID,
			EnrollmentID:     msg.EnrollmentID,
			EnrollmentUserID: msg.EnrollmentUserID,
		})
		if err != nil {
			writeErr(w, logger, "checkin: resolve identity", err)
			return
		}

		req := &service.Request{Context: r.Context(), EnrollID: id, Certificate: cert, Params: paramsFromQuery(r)}

		var respBytes []byte
		var dispatchErr error
		switch msg.MessageType {
		case mdmproto.MessageAuthenticate:
			dispatchErr = svc.Authenticate(req, &msg)
		case mdmproto.MessageTokenUpdate:
			dispatchErr = svc.TokenUpdate(req, &msg)
		case mdmproto.MessageCheckOut:
			dispatchErr = svc.CheckOut(req, &msg)
		case mdmproto.MessageUserAuthenticate:
			dispatchErr = svc.UserAuthenticate(req, &msg)
		case mdmproto.MessageSetBootstrapToken:
			dispatchErr = svc.SetBootstrapToken(req, &msg)
		case mdmproto.MessageGetBootstrapToken:
			var resp *mdmproto.GetBootstrapTokenResponse
			resp, dispatchErr = svc.GetBootstrapToken(req, &msg)
			if dispatchErr == nil && resp != nil {
				respBytes, dispatchErr = plist.Marshal(resp, plist.XMLFormat)
			}
		case mdmproto.MessageDeclarativeManagement:
			dispatchErr = svc.DeclarativeManagement(req, &msg)
		case mdmproto.MessageGetToken:
			dispatchErr = svc.GetToken(req, &msg)
		default:
			writeErr(w, logger, "checkin: unknown MessageType", &mdmerr.ParseError{Context: "MessageType", Cause: errUnknownMessageType(string(msg.MessageType))})
			return
		}

		if dispatchErr != nil {
			writeErr(w, logger, "checkin: "+string(msg.MessageType), dispatchErr)
			return
		}

		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		if len(respBytes) > 0 {
			w.Write(respBytes)
		}
	}
}

// CommandHandler builds the /mdm/command endpoint.
func CommandHandler(svc service.CommandAndReportResults, certSource *CertSource, logger log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.NopLogger
	}
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeErr(w, logger, "command: read body", &mdmerr.ParseError{Context: "body", Cause: err})
			return
		}

		cert, err := certSource.Extract(r, body)
		if err != nil {
			writeErr(w, logger, "command: extract cert", err)
			return
		}

		var report mdmproto.CommandReport
		if _, err := plist.Unmarshal(body, &report); err != nil {
			writeErr(w, logger, "command: unmarshal", &mdmerr.ParseError{Context: "command report plist", Cause: err})
			return
		}

		id, err := enrollid.Resolve(enrollid.RawEnrollment{
			UDID:             report.UDID,
			UserID:           report.UserID,
			EnrollmentID:     report.EnrollmentID,
			EnrollmentUserID: report.EnrollmentUserID,
		})
		if err != nil {
			writeErr(w, logger, "command: resolve identity", err)
			return
		}

		req := &service.Request{Context: r.Context(), EnrollID: id, Certificate: cert, Params: paramsFromQuery(r)}

		cmd, err := svc.CommandAndReportResults(req, &report)
		if err != nil {
			writeErr(w, logger, "command: CommandAndReportResults", err)
			return
		}

		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		if cmd != nil {
			data, err := plist.Marshal(cmd, plist.XMLFormat)
			if err != nil {
				logger.Info("msg", "command: marshal response", "err", err.Error())
				return
			}
			w.Write(data)
		}
	}
}

// EnqueueHandler implements POST /v1/enqueue/{ids}: a comma-separated
// id list plus a command plist body, one row enqueued per id.
func EnqueueHandler(store OperatorStore, logger log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.NopLogger
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ids := idsFromPath(r.URL.Path, "/v1/enqueue/")
		if len(ids) == 0 {
			http.Error(w, "no ids", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		var payload map[string]any
		if _, err := plist.Unmarshal(body, &payload); err != nil {
			http.Error(w, "invalid command plist", http.StatusBadRequest)
			return
		}
		requestType, _ := payload["RequestType"].(string)

		type enqueued struct {
			EnrollmentID string `json:"enrollment_id"`
			CommandUUID  string `json:"command_uuid"`
			RequestType  string `json:"request_type"`
		}
		var results []enqueued
		for _, id := range ids {
			uuid, err := store.Enqueue(r.Context(), id, body, requestType)
			if err != nil {
				logger.Info("msg", "enqueue", "id", id, "err", err.Error())
				http.Error(w, "enqueue failed", http.StatusInternalServerError)
				return
			}
			results = append(results, enqueued{EnrollmentID: id, CommandUUID: uuid, RequestType: requestType})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

// PushHandler implements POST /v1/push/{ids}.
func PushHandler(pusher Pusher, logger log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.NopLogger
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ids := idsFromPath(r.URL.Path, "/v1/push/")
		if len(ids) == 0 {
			http.Error(w, "no ids", http.StatusBadRequest)
			return
		}

		results, err := pusher.Push(r.Context(), ids)
		if err != nil {
			logger.Info("msg", "push", "err", err.Error())
			http.Error(w, "push failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

// PushCertHandler implements PUT and GET /v1/pushcert. invalidator may
// be nil; when non-nil it is notified so a cached APNs client for
// topic is rebuilt from the freshly stored credential on next push
// (SPEC_FULL.md §4.5).
func PushCertHandler(store OperatorStore, invalidator CertInvalidator, topic string, logger log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.NopLogger
	}
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read body", http.StatusBadRequest)
				return
			}
			const marker = "-----END CERTIFICATE-----"
			idx := strings.Index(string(body), marker)
			if idx < 0 {
				http.Error(w, "no certificate block found", http.StatusBadRequest)
				return
			}
			certPEM := string(body[:idx+len(marker)])
			keyPEM := strings.TrimSpace(string(body[idx+len(marker):]))

			if err := store.StorePushCert(r.Context(), topic, certPEM, keyPEM, nil); err != nil {
				logger.Info("msg", "StorePushCert", "err", err.Error())
				http.Error(w, "failed to store push cert", http.StatusInternalServerError)
				return
			}
			if invalidator != nil {
				invalidator.InvalidateClient(topic)
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"topic": topic})

		case http.MethodGet:
			pc, err := store.GetPushCert(r.Context(), topic)
			if err != nil {
				http.Error(w, "failed to load push cert", http.StatusInternalServerError)
				return
			}
			if pc == nil {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"topic": pc.Topic, "not_after": pc.NotAfter})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// paramsFromQuery mirrors jessepeterson-nanomdm's RequestFromHTTP,
// which threads URL query parameters through to the Service layer.
func paramsFromQuery(r *http.Request) map[string]string {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	params := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

func idsFromPath(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	parts := strings.Split(rest, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func errUnknownMessageType(mt string) error {
	return &unknownMessageTypeError{mt: mt}
}

type unknownMessageTypeError struct{ mt string }

func (e *unknownMessageTypeError) Error() string { return "unknown MessageType: " + e.mt }
