package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pesio-ai/be-exp-expenses/internal/idempotency"
	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/internal/service"
	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
	"github.com/pesio-ai/be-exp-expenses/pkg/logger"
	"github.com/pesio-ai/be-exp-expenses/pkg/middleware"
)

// IdempotencyKeyHeader lets clients retry a submission safely.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// idempotencyWriteTimeout bounds Complete and Release, which run detached
// from the request context so a cancelled request still settles its key.
const idempotencyWriteTimeout = 5 * time.Second

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals ApprovalService
	expenses  ExpenseService
	idem      IdempotencyStore
	health    HealthChecker
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. idem and health may be nil.
func NewHTTPHandler(
	approvals ApprovalService,
	expenses ExpenseService,
	idem IdempotencyStore,
	health HealthChecker,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		expenses:  expenses,
		idem:      idem,
		health:    health,
		log:       log,
	}
}

// Routes registers every endpoint. authn attaches the acting user to the
// request context; all /api/v1 routes pass through it.
func (h *HTTPHandler) Routes(authn func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	protected := func(fn http.HandlerFunc) http.Handler {
		return authn(fn)
	}
	approverOnly := func(fn http.HandlerFunc) http.Handler {
		return authn(h.requireApprover(fn))
	}

	mux.HandleFunc("GET /health", h.Health)

	mux.Handle("POST /api/v1/expenses", protected(h.CreateExpense))
	mux.Handle("POST /api/v1/expenses/request", protected(h.CreateExpense))
	mux.Handle("GET /api/v1/expenses", protected(h.ListExpenses))
	mux.Handle("GET /api/v1/expenses/pending", approverOnly(h.ListPending))
	mux.Handle("GET /api/v1/expenses/{id}", protected(h.GetExpense))
	mux.Handle("PUT /api/v1/expenses/{id}", protected(h.UpdateExpense))
	mux.Handle("DELETE /api/v1/expenses/{id}", protected(h.DeleteExpense))

	mux.Handle("POST /api/v1/approvals/{id}/approve", approverOnly(h.ApproveExpense))
	mux.Handle("POST /api/v1/approvals/{id}/reject", approverOnly(h.RejectExpense))

	return mux
}

// Health reports liveness including database connectivity.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.log.Error().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ── Expenses ──────────────────────────────────────────────────────────────────

// CreateExpense submits an expense and routes it for approval.
func (h *HTTPHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req service.CreateExpenseRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key != "" && h.idem != nil {
		scoped := fmt.Sprintf("expenses:%d:%s", uc.UserID, key)
		hash, err := requestHash(&req)
		if err != nil {
			h.writeError(w, r, errors.Wrap(err, errors.ErrCodeInternal, "failed to fingerprint request"))
			return
		}
		replayed, ok := h.beginIdempotent(w, r, scoped, hash)
		if replayed {
			return
		}
		if ok {
			h.createExpense(w, r, &req, uc, idemClaim{key: scoped, hash: hash})
			return
		}
	}
	h.createExpense(w, r, &req, uc, idemClaim{})
}

// idemClaim is a held idempotency key; the zero value means none is held.
type idemClaim struct {
	key  string
	hash string
}

// requestHash fingerprints the decoded request, so whitespace and field
// order in the raw body do not matter.
func requestHash(req *service.CreateExpenseRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func (h *HTTPHandler) createExpense(
	w http.ResponseWriter,
	r *http.Request,
	req *service.CreateExpenseRequest,
	uc *auth.UserContext,
	claim idemClaim,
) {
	expense, err := h.approvals.CreateExpense(r.Context(), req, uc)
	if err != nil {
		if claim.key != "" {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), idempotencyWriteTimeout)
			if rerr := h.idem.Release(ctx, claim.key); rerr != nil {
				h.log.Warn().Err(rerr).Str("key", claim.key).Msg("Failed to release idempotency key")
			}
			cancel()
		}
		h.writeError(w, r, err)
		return
	}

	body, err := json.Marshal(map[string]any{
		"message": "지출 요청이 제출되었습니다.",
		"expense": expense,
	})
	if err != nil {
		h.writeError(w, r, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response"))
		return
	}
	if claim.key != "" {
		rec := idempotency.Record{Status: http.StatusCreated, Body: body, RequestHash: claim.hash}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), idempotencyWriteTimeout)
		if cerr := h.idem.Complete(ctx, claim.key, rec); cerr != nil {
			h.log.Warn().Err(cerr).Str("key", claim.key).Msg("Failed to store idempotent response")
		}
		cancel()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(append(body, '\n'))
}

// beginIdempotent claims key. replayed reports that a stored response (or
// an error) has been written; ok reports that the key is now held.
func (h *HTTPHandler) beginIdempotent(w http.ResponseWriter, r *http.Request, key, hash string) (replayed, ok bool) {
	rec, err := h.idem.Begin(r.Context(), key)
	switch {
	case stderrors.Is(err, idempotency.ErrInProgress):
		h.writeError(w, r, errors.Conflict("a request with this idempotency key is still in progress"))
		return true, false
	case err != nil:
		h.log.Warn().Err(err).Msg("Idempotency store unavailable; processing without it")
		return false, false
	case rec != nil && rec.RequestHash != "" && rec.RequestHash != hash:
		h.writeError(w, r, errors.Conflict("idempotency key reused with a different request body"))
		return true, false
	case rec != nil:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(append([]byte(rec.Body), '\n'))
		return true, false
	}
	return false, true
}

// GetExpense returns one expense with its approvals.
func (h *HTTPHandler) GetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	expense, err := h.expenses.GetExpense(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expense": expense})
}

// ListExpenses lists expenses filtered by status, projectId and
// requesterId. "all" or an empty value disables a filter.
func (h *HTTPHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	expenses, err := h.expenses.ListExpenses(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

// ListPending returns the acting approver's queue.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	expenses, err := h.expenses.ListPending(r.Context(), uc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

// UpdateExpense edits an expense that is not yet approved.
func (h *HTTPHandler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req service.UpdateExpenseRequest
	if err := decodeBody(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	expense, err := h.expenses.UpdateExpense(r.Context(), id, &req, uc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "지출이 수정되었습니다.",
		"expense": expense,
	})
}

// DeleteExpense removes an expense that is not yet approved.
func (h *HTTPHandler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.expenses.DeleteExpense(r.Context(), id, uc); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "지출이 삭제되었습니다."})
}

// ── Approvals ─────────────────────────────────────────────────────────────────

type verdictRequest struct {
	Comment *string `json:"comment,omitempty"`
}

// ApproveExpense records the acting user's approval.
func (h *HTTPHandler) ApproveExpense(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.approvals.Approve, "승인이 완료되었습니다.")
}

// RejectExpense records the acting user's rejection.
func (h *HTTPHandler) RejectExpense(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.approvals.Reject, "반려가 완료되었습니다.")
}

type resolveFunc func(ctx context.Context, approvalID int64, actor *auth.UserContext, comment *string) (*repository.Approval, error)

func (h *HTTPHandler) resolve(w http.ResponseWriter, r *http.Request, fn resolveFunc, message string) {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req verdictRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	approval, err := fn(r.Context(), id, uc, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  message,
		"approval": approval,
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) requireApprover(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uc, err := auth.GetUserContext(r.Context())
		if err == nil {
			err = service.RequireApproverRole(uc)
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next(w, r)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := publicError(err)
	statusCode := httpStatus(body.Code)
	if statusCode >= http.StatusInternalServerError {
		h.log.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSON(w, statusCode, body)
}

func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || (allowEmpty && stderrors.Is(err, io.EOF)) {
		return nil
	}
	return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body")
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.InvalidInput("id", fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

func parseFilter(r *http.Request) (repository.ExpenseFilter, error) {
	var filter repository.ExpenseFilter
	q := r.URL.Query()

	if v := q.Get("status"); v != "" && v != "all" {
		s, err := repository.ParseExpenseStatus(strings.ToUpper(v))
		if err != nil {
			return filter, errors.InvalidInput("status", err.Error())
		}
		filter.Status = &s
	}
	for _, p := range []struct {
		name string
		dst  **int64
	}{
		{"projectId", &filter.ProjectID},
		{"requesterId", &filter.RequesterID},
	} {
		v := q.Get(p.name)
		if v == "" || v == "all" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, errors.InvalidInput(p.name, fmt.Sprintf("invalid %s %q", p.name, v))
		}
		*p.dst = &n
	}
	return filter, nil
}
