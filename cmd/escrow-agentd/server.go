package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Quaakee/paragon-escrow-sub001/auth"
	"github.com/Quaakee/paragon-escrow-sub001/escrow"
	"github.com/Quaakee/paragon-escrow-sub001/observability"
	"github.com/Quaakee/paragon-escrow-sub001/observability/logging"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Server is the HTTP front-end for the three party agents. Every mutating
// route re-fetches the live escrow before invoking the engine, so callers
// reference escrows by outpoint and never hold protocol state themselves.
type Server struct {
	seeker    *escrow.Seeker
	furnisher *escrow.Furnisher
	platform  *escrow.Platform
	verifier  *auth.Verifier
	logger    *slog.Logger
	timeout   time.Duration
	maxBody   int64
	router    chi.Router
}

// NewServer wires the agents into the route tree. A nil verifier leaves the
// API unauthenticated.
func NewServer(seeker *escrow.Seeker, furnisher *escrow.Furnisher, platform *escrow.Platform, verifier *auth.Verifier, logger *slog.Logger, cfg Config) *Server {
	if seeker == nil {
		panic("seeker agent required")
	}
	if furnisher == nil {
		panic("furnisher agent required")
	}
	if platform == nil {
		panic("platform agent required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = maxRequestBody
	}

	s := &Server{
		seeker:    seeker,
		furnisher: furnisher,
		platform:  platform,
		verifier:  verifier,
		logger:    logger,
		timeout:   timeout,
		maxBody:   maxBody,
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.authenticate)
		api.Route("/seeker", func(sk chi.Router) {
			sk.Post("/seek", s.handleSeek)
			sk.Post("/increase-bounty", s.handleIncreaseBounty)
			sk.Post("/cancel", s.handleCancelBeforeAccept)
			sk.Post("/accept-bid", s.handleAcceptBid)
			sk.Post("/unwind-bid", s.handleUnwindBid)
			sk.Post("/approve", s.handleApprove)
			sk.Post("/dispute", s.handleDisputeWork)
			sk.Post("/reclaim", s.handleReclaim)
			sk.Get("/escrows", s.handleSeekerEscrows)
		})
		api.Route("/furnisher", func(fr chi.Router) {
			fr.Post("/bid", s.handlePlaceBid)
			fr.Post("/start", s.handleStartWork)
			fr.Post("/complete", s.handleCompleteWork)
			fr.Post("/dispute", s.handleRaiseDispute)
			fr.Post("/claim", s.handleClaimBounty)
			fr.Post("/claim-dispute", s.handleClaimAfterDispute)
			fr.Get("/open-work", s.handleOpenWork)
			fr.Get("/engagements", s.handleEngagements)
		})
		api.Route("/platform", func(pl chi.Router) {
			pl.Post("/decide", s.handleDecideDispute)
			pl.Post("/verify-evidence", s.handleVerifyEvidence)
			pl.Get("/disputes", s.handleDisputes)
			pl.Get("/escrows", s.handleActiveEscrows)
		})
		api.Get("/escrow/{txid}/{vout}", s.handleEscrowLookup)
		api.Get("/keys", s.handleKeys)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// authenticate enforces bearer tokens on the API tree. Clients only ever see
// a generic refusal; the verifier's reason goes to the log.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			s.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		if _, err := s.verifier.Verify(strings.TrimSpace(strings.TrimPrefix(header, prefix))); err != nil {
			s.logger.Warn("bearer auth failed", slog.String("error", err.Error()))
			s.writeError(w, http.StatusUnauthorized, errors.New("invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type seekRequest struct {
	Description string `json:"description"`
	Deadline    uint64 `json:"deadline"`
	Bounty      uint64 `json:"bounty"`
}

type outpointRequest struct {
	Outpoint string `json:"outpoint"`
}

type increaseBountyRequest struct {
	Outpoint   string `json:"outpoint"`
	IncreaseBy uint64 `json:"increaseBy"`
}

type acceptBidRequest struct {
	Outpoint string `json:"outpoint"`
	BidIndex int    `json:"bidIndex"`
}

type evidenceRequest struct {
	Outpoint string `json:"outpoint"`
	Evidence []byte `json:"evidence"`
}

type reclaimRequest struct {
	Outpoint       string `json:"outpoint"`
	Reconstitute   bool   `json:"reconstitute"`
	NewDeadline    uint64 `json:"newDeadline,omitempty"`
	NewDescription string `json:"newDescription,omitempty"`
}

type placeBidRequest struct {
	Outpoint     string `json:"outpoint"`
	Amount       uint64 `json:"amount"`
	Plan         string `json:"plan"`
	TimeRequired uint64 `json:"timeRequired"`
	Bond         uint64 `json:"bond"`
}

type completeWorkRequest struct {
	Outpoint string `json:"outpoint"`
	Report   string `json:"report"`
}

type decideRequest struct {
	Outpoint     string `json:"outpoint"`
	ForSeeker    uint64 `json:"forSeeker"`
	ForFurnisher uint64 `json:"forFurnisher"`
	Notes        string `json:"notes"`
}

type bidView struct {
	Furnisher    string `json:"furnisher"`
	Amount       uint64 `json:"amount"`
	Plan         string `json:"plan"`
	TimeRequired uint64 `json:"timeRequired"`
	Bond         uint64 `json:"bond"`
}

type resolutionView struct {
	AmountForSeeker    uint64 `json:"amountForSeeker"`
	AmountForFurnisher uint64 `json:"amountForFurnisher"`
	Notes              string `json:"notes,omitempty"`
}

type escrowView struct {
	Outpoint    string          `json:"outpoint"`
	Satoshis    uint64          `json:"satoshis"`
	State       string          `json:"state"`
	Seeker      string          `json:"seeker"`
	Furnisher   string          `json:"furnisher,omitempty"`
	Description string          `json:"description"`
	Deadline    uint64          `json:"deadline"`
	Bounty      uint64          `json:"bounty"`
	Bids        []bidView       `json:"bids,omitempty"`
	AcceptedBid *int            `json:"acceptedBid,omitempty"`
	AcceptedAt  uint64          `json:"acceptedAt,omitempty"`
	WorkReport  string          `json:"workReport,omitempty"`
	CompletedAt uint64          `json:"completedAt,omitempty"`
	Evidence    string          `json:"evidence,omitempty"`
	Resolution  *resolutionView `json:"resolution,omitempty"`
}

type receiptResponse struct {
	TxID    string      `json:"txid"`
	Next    *escrowView `json:"next,omitempty"`
	Spawned *escrowView `json:"spawned,omitempty"`
}

type listResponse struct {
	Escrows []*escrowView `json:"escrows"`
}

type keysResponse struct {
	Seeker    string `json:"seeker"`
	Furnisher string `json:"furnisher"`
	Platform  string `json:"platform"`
}

func viewOf(tx *escrow.Tx) *escrowView {
	if tx == nil || tx.Record == nil {
		return nil
	}
	rec := tx.Record
	view := &escrowView{
		Outpoint:    tx.Outpoint.String(),
		Satoshis:    tx.Satoshis,
		State:       rec.State.String(),
		Seeker:      rec.Seeker.String(),
		Description: rec.Description,
		Deadline:    rec.Deadline,
		Bounty:      rec.Bounty,
		AcceptedAt:  rec.AcceptedAt,
		WorkReport:  rec.WorkReport,
		CompletedAt: rec.CompletedAt,
	}
	if !rec.Furnisher.IsZero() {
		view.Furnisher = rec.Furnisher.String()
	}
	for i := range rec.Bids {
		bid := &rec.Bids[i]
		view.Bids = append(view.Bids, bidView{
			Furnisher:    bid.Furnisher.String(),
			Amount:       bid.Amount,
			Plan:         bid.Plan,
			TimeRequired: bid.TimeRequired,
			Bond:         bid.Bond,
		})
	}
	if rec.AcceptedBid != escrow.NoAcceptedBid {
		idx := rec.AcceptedBid
		view.AcceptedBid = &idx
	}
	if !rec.Evidence.IsZero() {
		view.Evidence = rec.Evidence.String()
	}
	if rec.Resolution != nil {
		view.Resolution = &resolutionView{
			AmountForSeeker:    rec.Resolution.AmountForSeeker,
			AmountForFurnisher: rec.Resolution.AmountForFurnisher,
			Notes:              rec.Resolution.Notes,
		}
	}
	return view
}

func viewsOf(txs []*escrow.Tx) []*escrowView {
	views := make([]*escrowView, 0, len(txs))
	for _, tx := range txs {
		if view := viewOf(tx); view != nil {
			views = append(views, view)
		}
	}
	return views
}

func parseOutpoint(raw string) (escrow.Outpoint, error) {
	txidPart, voutPart, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return escrow.Outpoint{}, fmt.Errorf("outpoint %q must be txid:vout", raw)
	}
	hash, err := chainhash.NewHashFromHex(txidPart)
	if err != nil {
		return escrow.Outpoint{}, fmt.Errorf("outpoint txid: %w", err)
	}
	vout, err := strconv.ParseUint(voutPart, 10, 32)
	if err != nil {
		return escrow.Outpoint{}, fmt.Errorf("outpoint vout: %w", err)
	}
	return escrow.Outpoint{TxID: *hash, Vout: uint32(vout)}, nil
}

func statesFromQuery(r *http.Request) ([]escrow.State, error) {
	values := r.URL.Query()["state"]
	states := make([]escrow.State, 0, len(values))
	for _, value := range values {
		state, err := escrow.ParseState(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := s.callContext(r)
	defer cancel()
	receipt, err := s.observe(ctx, escrow.MethodSeek, func(ctx context.Context) (*escrow.Receipt, error) {
		return s.seeker.Seek(ctx, req.Description, req.Deadline, req.Bounty)
	})
	if err != nil {
		s.writeTransitionError(w, err)
		return
	}
	s.logger.Info("bounty posted",
		logging.MaskField("description", req.Description),
		slog.Uint64("bounty", req.Bounty),
		slog.Uint64("deadline", req.Deadline),
		slog.String("txid", receipt.TxID.String()),
	)
	s.writeReceipt(w, receipt)
}

func (s *Server) handleIncreaseBounty(w http.ResponseWriter, r *http.Request) {
	var req increaseBountyRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodIncreaseBounty, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.seeker.IncreaseBounty(ctx, prior, req.IncreaseBy)
	})
}

func (s *Server) handleCancelBeforeAccept(w http.ResponseWriter, r *http.Request) {
	var req outpointRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodCancelBeforeAccept, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.seeker.CancelBeforeAccept(ctx, prior)
	})
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	var req acceptBidRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodAcceptBid, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.seeker.AcceptBid(ctx, prior, req.BidIndex)
	})
}

func (s *Server) handleUnwindBid(w http.ResponseWriter, r *http.Request) {
	var req outpointRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodCancelBidApprovalAfterDelay, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.seeker.CancelBidApprovalAfterDelay(ctx, prior)
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req outpointRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodApproveCompletedWork, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.seeker.ApproveCompletedWork(ctx, prior)
	})
}

func (s *Server) handleDisputeWork(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodDisputeWork, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.seeker.DisputeWork(ctx, prior, req.Evidence)
	})
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	var req reclaimRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts := &escrow.ReclaimOptions{
		Reconstitute:   req.Reconstitute,
		NewDeadline:    req.NewDeadline,
		NewDescription: req.NewDescription,
	}
	s.transition(w, r, req.Outpoint, escrow.MethodReclaimAfterDispute, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.seeker.ReclaimAfterDispute(ctx, prior, opts)
	})
}

func (s *Server) handleSeekerEscrows(w http.ResponseWriter, r *http.Request) {
	states, err := statesFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.callContext(r)
	defer cancel()
	txs, err := s.seeker.List(ctx, states...)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{Escrows: viewsOf(txs)})
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if !s.decode(w, r, &req) {
		return
	}
	bid := escrow.BidParams{
		Amount:       req.Amount,
		Plan:         req.Plan,
		TimeRequired: req.TimeRequired,
		Bond:         req.Bond,
	}
	s.transition(w, r, req.Outpoint, escrow.MethodPlaceBid, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.furnisher.PlaceBid(ctx, prior, bid)
	})
}

func (s *Server) handleStartWork(w http.ResponseWriter, r *http.Request) {
	var req outpointRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodStartWork, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.furnisher.StartWork(ctx, prior)
	})
}

func (s *Server) handleCompleteWork(w http.ResponseWriter, r *http.Request) {
	var req completeWorkRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodCompleteWork, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.furnisher.CompleteWork(ctx, prior, req.Report)
	})
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodRaiseDispute, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.furnisher.RaiseDispute(ctx, prior, req.Evidence)
	})
}

func (s *Server) handleClaimBounty(w http.ResponseWriter, r *http.Request) {
	var req outpointRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodClaimBounty, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.furnisher.ClaimBounty(ctx, prior)
	})
}

func (s *Server) handleClaimAfterDispute(w http.ResponseWriter, r *http.Request) {
	var req outpointRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodClaimAfterDispute, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.furnisher.ClaimAfterDispute(ctx, prior)
	})
}

func (s *Server) handleOpenWork(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callContext(r)
	defer cancel()
	txs, err := s.furnisher.OpenWork(ctx)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{Escrows: viewsOf(txs)})
}

func (s *Server) handleEngagements(w http.ResponseWriter, r *http.Request) {
	states, err := statesFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.callContext(r)
	defer cancel()
	txs, err := s.furnisher.Engagements(ctx, states...)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{Escrows: viewsOf(txs)})
}

func (s *Server) handleDecideDispute(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.transition(w, r, req.Outpoint, escrow.MethodDecideDispute, func(ctx context.Context, prior *escrow.Tx) (*escrow.Receipt, error) {
		return s.platform.DecideDispute(ctx, prior, req.ForSeeker, req.ForFurnisher, req.Notes)
	})
}

func (s *Server) handleVerifyEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	outpoint, err := parseOutpoint(req.Outpoint)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.callContext(r)
	defer cancel()
	prior, err := s.platform.Refresh(ctx, outpoint)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	if err := s.platform.Evidence(prior, req.Evidence); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callContext(r)
	defer cancel()
	txs, err := s.platform.Disputes(ctx)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{Escrows: viewsOf(txs)})
}

func (s *Server) handleActiveEscrows(w http.ResponseWriter, r *http.Request) {
	states, err := statesFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.callContext(r)
	defer cancel()
	txs, err := s.platform.Active(ctx, states...)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{Escrows: viewsOf(txs)})
}

func (s *Server) handleEscrowLookup(w http.ResponseWriter, r *http.Request) {
	outpoint, err := parseOutpoint(chi.URLParam(r, "txid") + ":" + chi.URLParam(r, "vout"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.callContext(r)
	defer cancel()
	tx, err := s.platform.Refresh(ctx, outpoint)
	if err != nil {
		if errors.Is(err, escrow.ErrStaleState) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(tx))
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.callContext(r)
	defer cancel()
	seekerKey, err := s.seeker.Key(ctx)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	furnisherKey, err := s.furnisher.Key(ctx)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	platformKey, err := s.platform.Key(ctx)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, keysResponse{
		Seeker:    seekerKey.String(),
		Furnisher: furnisherKey.String(),
		Platform:  platformKey.String(),
	})
}

// transition is the shared path for every operation that spends a prior
// escrow output: parse the outpoint, re-fetch the live state, invoke.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, rawOutpoint string, method escrow.Method, fn func(context.Context, *escrow.Tx) (*escrow.Receipt, error)) {
	outpoint, err := parseOutpoint(rawOutpoint)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := s.callContext(r)
	defer cancel()
	prior, err := s.platform.Refresh(ctx, outpoint)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	receipt, err := s.observe(ctx, method, func(ctx context.Context) (*escrow.Receipt, error) {
		return fn(ctx, prior)
	})
	if err != nil {
		s.writeTransitionError(w, err)
		return
	}
	s.writeReceipt(w, receipt)
}

// observe times the engine call and feeds the transition metrics, whatever
// the outcome.
func (s *Server) observe(ctx context.Context, method escrow.Method, fn func(context.Context) (*escrow.Receipt, error)) (*escrow.Receipt, error) {
	start := time.Now()
	receipt, err := fn(ctx)
	observability.Transitions().Observe(method.String(), time.Since(start), err)
	if err != nil {
		s.logger.Warn("escrow transition failed",
			slog.String("method", method.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.logger.Info("escrow transition broadcast",
		slog.String("method", method.String()),
		slog.String("txid", receipt.TxID.String()),
	)
	return receipt, nil
}

func (s *Server) writeReceipt(w http.ResponseWriter, receipt *escrow.Receipt) {
	resp := receiptResponse{
		TxID:    receipt.TxID.String(),
		Next:    viewOf(receipt.Next),
		Spawned: viewOf(receipt.Spawned),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeTransitionError(w http.ResponseWriter, err error) {
	s.writeError(w, statusForError(err), err)
}

// statusForError maps protocol sentinels onto HTTP statuses: caller mistakes
// are 4xx, collaborator failures are 5xx.
func statusForError(err error) int {
	var rejection *escrow.BroadcastRejection
	switch {
	case errors.Is(err, escrow.ErrInvalidParameter):
		return http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrStaleState):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrInvariantViolation):
		return http.StatusInternalServerError
	case errors.As(err, &rejection):
		return http.StatusBadGateway
	case errors.Is(err, escrow.ErrDecode):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) callContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	limited := io.LimitReader(r.Body, s.maxBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", s.maxBody)
	}
	return data, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := strings.ReplaceAll(err.Error(), "\"", "'")
	payload := fmt.Sprintf(`{"error":"%s"}`, msg)
	_, _ = w.Write([]byte(payload))
}
