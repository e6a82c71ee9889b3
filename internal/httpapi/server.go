package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/zorder/internal/zorder/service"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

const (
	ServiceName    = "zorder-server"
	DefaultVersion = "1.1.0"

	defaultMaxUpload = 512 << 20
	maxJSONBody      = 64 << 10
	// Multipart parts beyond this spill to temp files.
	multipartMemory = 32 << 20
)

type Dependencies struct {
	Logger           *slog.Logger
	Addr             string
	Version          string
	ApprovalService  *service.ApprovalService
	RecordingService *service.RecordingService

	// VerifyToken answers the provider's webhook subscription check.
	VerifyToken string
	// HMACSecret enables signature checks on agent routes when set.
	HMACSecret string

	EventRPS   int
	EventBurst int

	MaxUploadBytes int64
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	mux         *http.ServeMux
	version     string
	approvals   *service.ApprovalService
	recordings  *service.RecordingService
	verifyToken string
	secret      []byte
	maxUpload   int64
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:      logger,
		mux:         mux,
		version:     d.Version,
		approvals:   d.ApprovalService,
		recordings:  d.RecordingService,
		verifyToken: d.VerifyToken,
		secret:      []byte(d.HMACSecret),
		maxUpload:   d.MaxUploadBytes,
	}
	if s.version == "" {
		s.version = DefaultVersion
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUpload
	}

	rps := d.EventRPS
	if rps <= 0 {
		rps = 5
	}
	limiter := newIPRateLimiter(rps, d.EventBurst)

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /event/bill-edited", limiter.middleware(s.handleBillEdited))
	mux.HandleFunc("GET /webhook/{channel}", s.handleWebhookVerify)
	mux.HandleFunc("POST /webhook/{channel}", s.handleWebhook)
	mux.HandleFunc("GET /tasks/{machine_id}", s.handleTasks)
	mux.HandleFunc("POST /tasks/consume", s.handleConsume)
	mux.HandleFunc("POST /upload/recording", s.handleUpload)
	mux.HandleFunc("GET /agent/arm-status/{machine_id}", s.handleArmStatus)

	handler := loggingMiddleware(logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.ServiceInfo{OK: true, Service: ServiceName, Version: s.version})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleBillEdited(w http.ResponseWriter, r *http.Request) {
	var req types.BillEditedRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	id, err := s.approvals.CreateApproval(r.Context(), req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error(), "")
			return
		}
		if errors.Is(err, service.ErrNotifyFailed) {
			writeError(w, http.StatusInternalServerError, "whatsapp_send_failed", err.Error())
			return
		}
		s.logger.Error("bill-edited failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, types.BillEditedResponse{OK: true, ActionID: id})
}

func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	if !knownChannel(r.PathValue("channel")) {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	mode := firstNonEmpty(q.Get("hub.mode"), q.Get("mode"))
	token := firstNonEmpty(q.Get("hub.verify_token"), q.Get("verify_token"))
	challenge := firstNonEmpty(q.Get("hub.challenge"), q.Get("challenge"))

	if mode == "subscribe" && token != "" && token == s.verifyToken {
		writeText(w, http.StatusOK, challenge)
		return
	}
	writeText(w, http.StatusForbidden, "forbidden")
}

// handleWebhook always answers 200 so the provider does not retry
// payloads this service cannot use.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !knownChannel(r.PathValue("channel")) {
		http.NotFound(w, r)
		return
	}
	var p types.WebhookPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&p); err != nil {
		s.logger.Warn("webhook payload ignored", "err", err)
		writeText(w, http.StatusOK, "ok")
		return
	}
	applied := s.approvals.HandleWebhook(r.Context(), p)
	s.logger.Debug("webhook processed", "applied", applied)
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	machineID := r.PathValue("machine_id")
	if !s.authorize(w, r, nil, machineID) {
		return
	}

	tasks, err := s.approvals.ListPendingTasks(r.Context(), machineID)
	if err != nil {
		s.serviceError(w, "tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "unreadable body")
		return
	}
	if !s.authorize(w, r, body, "") {
		return
	}

	var req types.ConsumeRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	if err := s.approvals.Consume(r.Context(), req.ID); err != nil {
		s.serviceError(w, "consume", err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Unsigned uploads are refused before the body is spooled to disk.
	if !s.hasSignatureHeaders(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "")
			return
		}
		writeError(w, http.StatusBadRequest, "file missing", "")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	meta := r.FormValue("meta")
	if !s.authorize(w, r, []byte(meta), metaMachineID(meta)) {
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file missing", "")
		return
	}
	defer file.Close()

	err = s.recordings.Receive(r.Context(), service.Upload{Filename: hdr.Filename, Body: file, Meta: meta})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
	case errors.Is(err, service.ErrHashMismatch):
		writeError(w, http.StatusBadRequest, "file_hash_mismatch", "")
	case errors.Is(err, service.ErrFileMissing):
		writeError(w, http.StatusBadRequest, "file missing", "")
	default:
		s.logger.Error("recording forward failed", "err", err)
		writeError(w, http.StatusInternalServerError, "whatsapp_media_failed", err.Error())
	}
}

func (s *Server) handleArmStatus(w http.ResponseWriter, r *http.Request) {
	machineID := r.PathValue("machine_id")
	if !s.authorize(w, r, nil, machineID) {
		return
	}

	st, err := s.approvals.ArmStatus(r.Context(), machineID)
	if err != nil {
		s.serviceError(w, "arm-status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) serviceError(w http.ResponseWriter, op string, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error(), "")
		return
	}
	s.logger.Error(op+" failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
}

func knownChannel(ch string) bool { return ch == "whatsapp" }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
