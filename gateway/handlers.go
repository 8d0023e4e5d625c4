package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"condor/draft"
	"condor/gateway/middleware"
	"condor/storage"
	"condor/txmon"
	"condor/wire"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tokens": s.registry.Tokens()})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prices": s.prices.Snapshot()})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if s.balances == nil {
		writeError(w, http.StatusServiceUnavailable, "balance service unavailable")
		return
	}
	wallet := chi.URLParam(r, "wallet")
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet":   wallet,
		"balances": s.balances.Snapshot(wallet),
	})
}

func (s *Server) handleBalanceRefresh(w http.ResponseWriter, r *http.Request) {
	if s.balances == nil {
		writeError(w, http.StatusServiceUnavailable, "balance service unavailable")
		return
	}
	wallet := chi.URLParam(r, "wallet")
	balances, err := s.balances.Refresh(r.Context(), wallet)
	if err != nil {
		s.logger.Warn("balance refresh failed", "err", err)
		writeError(w, http.StatusBadGateway, "balance refresh failed")
		return
	}
	s.balances.Track(wallet)
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet":   wallet,
		"balances": balances,
	})
}

func (s *Server) handleTransactionsList(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "transaction monitor unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": s.monitor.Visible()})
}

func (s *Server) handleTransactionTrack(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "transaction monitor unavailable")
		return
	}
	var body struct {
		Hash string `json:"hash"`
		Kind string `json:"kind"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, ok := txmon.ParseKind(body.Kind)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown transaction kind")
		return
	}
	tx, err := s.monitor.Track(r.Context(), body.Hash, kind)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleSubmissionsList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "submission history unavailable")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	subs, err := s.store.ListSubmissions(r.Context(), r.URL.Query().Get("wallet"), limit)
	if err != nil {
		s.logger.Warn("list submissions failed", "err", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

func (s *Server) handleDraftCreate(w http.ResponseWriter, r *http.Request) {
	session := s.composer.Create()
	s.metrics.DraftsCreated.Inc()
	writeJSON(w, http.StatusCreated, session.Snapshot())
}

func (s *Server) handleDraftGet(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleDraftDelete(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	s.composer.Remove(session.ID())
	w.WriteHeader(http.StatusNoContent)
}

// draftPatch applies partial updates in a fixed order: platform first since
// it resets downstream state, then pair settings, then the condition.
type draftPatch struct {
	Platform *string `json:"platform,omitempty"`
	Input    *struct {
		Symbol string `json:"symbol"`
		Amount string `json:"amount"`
	} `json:"input,omitempty"`
	Outputs *[]struct {
		Symbol     string  `json:"symbol"`
		Percentage float64 `json:"percentage"`
	} `json:"outputs,omitempty"`
	RemoveOutput  *string               `json:"remove_output,omitempty"`
	ConditionType *string               `json:"condition_type,omitempty"`
	Condition     *draft.OHLCVCondition `json:"condition,omitempty"`
	OrderLifetime *string               `json:"order_lifetime,omitempty"`
}

func (s *Server) handleDraftPatch(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var patch draftPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.applyPatch(session, patch); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) applyPatch(session *draft.Session, patch draftPatch) error {
	if patch.Platform != nil {
		platform, ok := draft.ParsePlatform(*patch.Platform)
		if !ok {
			return &draft.ValidationError{Reason: "unknown platform " + strconv.Quote(*patch.Platform)}
		}
		if err := session.SetPlatform(platform); err != nil {
			return err
		}
	}
	if patch.Input != nil {
		token, ok := s.registry.Lookup(patch.Input.Symbol)
		if !ok {
			return &draft.ValidationError{Reason: "unknown token " + strconv.Quote(patch.Input.Symbol)}
		}
		if err := session.SetInput(token, patch.Input.Amount); err != nil {
			return err
		}
	}
	if patch.Outputs != nil {
		splits := make([]draft.OutputSplit, 0, len(*patch.Outputs))
		for _, entry := range *patch.Outputs {
			token, ok := s.registry.Lookup(entry.Symbol)
			if !ok {
				return &draft.ValidationError{Reason: "unknown token " + strconv.Quote(entry.Symbol)}
			}
			splits = append(splits, draft.OutputSplit{Token: token, Percentage: entry.Percentage})
		}
		if err := session.SetOutputs(splits); err != nil {
			return err
		}
	}
	if patch.RemoveOutput != nil {
		if err := session.RemoveOutput(*patch.RemoveOutput); err != nil {
			return err
		}
	}
	if patch.ConditionType != nil {
		conditionType, ok := draft.ParseConditionType(*patch.ConditionType)
		if !ok {
			return &draft.ValidationError{Reason: "unknown condition type " + strconv.Quote(*patch.ConditionType)}
		}
		if err := session.SetConditionType(conditionType); err != nil {
			return err
		}
	}
	if patch.Condition != nil {
		if err := session.UpdateCondition(*patch.Condition); err != nil {
			return err
		}
	}
	if patch.OrderLifetime != nil {
		if err := session.SetOrderLifetime(*patch.OrderLifetime); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleDraftAdvance(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	step, err := session.Advance()
	if err != nil {
		if errors.Is(err, draft.ErrWalletRequired) {
			// The advance is parked; the snapshot reports awaiting_wallet.
			s.metrics.ValidationBlocks.WithLabelValues(string(step)).Inc()
			writeJSON(w, http.StatusOK, session.Snapshot())
			return
		}
		s.metrics.ValidationBlocks.WithLabelValues(string(step)).Inc()
		s.writeSessionError(w, err)
		return
	}
	s.metrics.StepTransitions.WithLabelValues(string(step), "forward").Inc()
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleDraftBack(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	step, err := session.Back()
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.metrics.StepTransitions.WithLabelValues(string(step), "backward").Inc()
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleDraftWallet(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := session.BindWallet(body.Wallet); err != nil {
		s.writeSessionError(w, err)
		return
	}
	if s.balances != nil {
		s.balances.Track(body.Wallet)
		if _, err := s.balances.Refresh(r.Context(), body.Wallet); err != nil {
			s.logger.Warn("initial balance refresh failed", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleDraftReset(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	session.Reset()
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (s *Server) handleDraftSubmit(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.client == nil {
		writeError(w, http.StatusServiceUnavailable, "order engine unavailable")
		return
	}
	if s.idem != nil {
		if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
			seen, err := s.idem.Seen(r.Context(), session.Wallet(), key)
			if err != nil {
				s.logger.Warn("idempotency check failed", "err", err)
				writeError(w, http.StatusInternalServerError, "idempotency check failed")
				return
			}
			if seen {
				writeError(w, http.StatusConflict, "duplicate submission")
				return
			}
		}
	}
	walletToken := middleware.WalletToken(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SubmitTimeout)
	defer cancel()

	start := time.Now()
	err := session.Submit(ctx, func(ctx context.Context, wallet string, d draft.Draft) error {
		payload, err := wire.Build(d, wallet, time.Now())
		if err != nil {
			return err
		}
		submitErr := s.client.SubmitOrder(ctx, payload, walletToken)
		s.recordSubmission(ctx, payload, submitErr)
		return submitErr
	})
	s.metrics.SubmissionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Submissions.WithLabelValues("failed").Inc()
		s.writeSessionError(w, err)
		return
	}
	s.metrics.Submissions.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, session.Snapshot())
}

// recordSubmission logs the outcome; history is best effort and never blocks
// the submission result.
func (s *Server) recordSubmission(ctx context.Context, payload wire.Payload, submitErr error) {
	if s.store == nil {
		return
	}
	encoded, err := wire.Marshal(payload)
	if err != nil {
		return
	}
	sub := storage.Submission{
		Wallet:   strings.ToLower(payload.Wallet),
		Platform: payload.Platform,
		Payload:  string(encoded),
		Status:   storage.SubmissionAccepted,
	}
	if submitErr != nil {
		sub.Status = storage.SubmissionFailed
		sub.Error = submitErr.Error()
	}
	if err := s.store.RecordSubmission(ctx, sub); err != nil {
		s.logger.Warn("record submission failed", "err", err)
	}
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*draft.Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid draft id")
		return nil, false
	}
	session, ok := s.composer.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "draft not found")
		return nil, false
	}
	return session, true
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	var vErr *draft.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusUnprocessableEntity, vErr.Reason)
	case errors.Is(err, draft.ErrSubmitInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, draft.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, draft.ErrNotReview):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Warn("draft operation failed", "err", err)
		writeError(w, http.StatusBadGateway, "operation failed")
	}
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
