package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sow-pricing/db/clickhouse"
	"sow-pricing/decision/pricing"
	"sow-pricing/decision/ratecard"
	"sow-pricing/decision/review"
	"sow-pricing/decision/sow"
	qerrors "sow-pricing/pkg/errors"
)

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// NormalizeRequest is the API request for pricing normalization.
type NormalizeRequest struct {
	// Pricing is the model output, either as JSON or as a JSON string.
	Pricing              any      `json:"pricing"`
	RateCard             any      `json:"rate_card,omitempty"`
	Workspace            string   `json:"workspace,omitempty"`
	InjectMandatoryRoles bool     `json:"inject_mandatory_roles"`
	MandatoryRoles       []string `json:"mandatory_roles,omitempty"`
	Currency             string   `json:"currency,omitempty"`
	DefaultGstPercent    *float64 `json:"default_gst_percent,omitempty"`
}

// PricingResponse is a priced table with totals and diagnostics.
type PricingResponse struct {
	PricingTable        pricing.Table     `json:"pricing_table"`
	Summary             pricing.Summary   `json:"summary"`
	Warnings            []pricing.Warning `json:"warnings"`
	TargetSubtotalExGst float64           `json:"target_subtotal_ex_gst,omitempty"`
	Iterations          int               `json:"iterations,omitempty"`
	Converged           *bool             `json:"converged,omitempty"`
}

// FitRequest is the API request for budget fitting.
type FitRequest struct {
	PricingTable             pricing.Table `json:"pricing_table"`
	TargetAfterDiscountExGst float64       `json:"target_after_discount_ex_gst"`
	MandatoryRoles           []string      `json:"mandatory_roles,omitempty"`
	HourIncrement            float64       `json:"hour_increment,omitempty"`
	MaxIterations            int           `json:"max_iterations,omitempty"`
	Workspace                string        `json:"workspace,omitempty"`
}

// SOWRequest is the API request for a multi-scope statement of work.
type SOWRequest struct {
	Scopes          []sow.Scope `json:"scopes"`
	DiscountPercent *float64    `json:"discount_percent,omitempty"`
	Workspace       string      `json:"workspace,omitempty"`
	RateCard        any         `json:"rate_card,omitempty"`
}

// ReviewRequest is the API request for quote review.
type ReviewRequest struct {
	PricingTable pricing.Table     `json:"pricing_table"`
	Warnings     []pricing.Warning `json:"warnings"`
	Policies     []review.Policy   `json:"policies,omitempty"`
}

// =============================================================================
// PRICING ENDPOINTS
// =============================================================================

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req NormalizeRequest
	if qe := decodeBody(r, &req); qe != nil {
		s.quoteError(w, qe)
		return
	}
	ctx := r.Context()

	card, qe := s.resolveRateCard(ctx, req.RateCard, req.Workspace)
	if qe != nil {
		s.quoteError(w, qe)
		return
	}

	res := pricing.Normalize(payloadValue(req.Pricing), pricing.Options{
		RateCard:             card,
		Currency:             req.Currency,
		DefaultGstPercent:    req.DefaultGstPercent,
		InjectMandatoryRoles: req.InjectMandatoryRoles,
		MandatoryRoleNames:   nonEmpty(req.MandatoryRoles),
	})
	sow.LogWarnings(s.logger, res.Warnings)
	s.record(ctx, clickhouse.KindNormalize, req.Workspace, "", res.Table, res.Warnings, nil)

	s.jsonResponse(w, http.StatusOK, PricingResponse{
		PricingTable: res.Table,
		Summary:      pricing.ComputeSummary(res.Table),
		Warnings:     nonNilWarnings(res.Warnings),
	})
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if qe := decodeBody(r, &req); qe != nil {
		s.quoteError(w, qe)
		return
	}

	res := pricing.FitToTarget(req.PricingTable, pricing.FitOptions{
		TargetAfterDiscountExGst: req.TargetAfterDiscountExGst,
		MandatoryRoleNames:       nonEmpty(req.MandatoryRoles),
		HourIncrement:            req.HourIncrement,
		MaxIterations:            req.MaxIterations,
	})
	sow.LogWarnings(s.logger, res.Warnings)
	target := req.TargetAfterDiscountExGst
	s.record(r.Context(), clickhouse.KindFit, req.Workspace, "", res.Table, res.Warnings, &target)

	converged := res.Converged
	s.jsonResponse(w, http.StatusOK, PricingResponse{
		PricingTable:        res.Table,
		Summary:             pricing.ComputeSummary(res.Table),
		Warnings:            nonNilWarnings(res.Warnings),
		TargetSubtotalExGst: res.TargetSubtotalExGst,
		Iterations:          res.Iterations,
		Converged:           &converged,
	})
}

func (s *Server) handleSOW(w http.ResponseWriter, r *http.Request) {
	var req SOWRequest
	if qe := decodeBody(r, &req); qe != nil {
		s.quoteError(w, qe)
		return
	}
	ctx := r.Context()

	card, qe := s.resolveRateCard(ctx, req.RateCard, req.Workspace)
	if qe != nil {
		s.quoteError(w, qe)
		return
	}

	scopes := make([]sow.Scope, len(req.Scopes))
	for i, sc := range req.Scopes {
		sc.Pricing = payloadValue(sc.Pricing)
		scopes[i] = sc
	}

	doc, err := s.builder.Build(ctx, sow.Request{
		Scopes:          scopes,
		DiscountPercent: req.DiscountPercent,
		RateCard:        card,
	})
	if errors.Is(err, sow.ErrNoScopes) {
		s.quoteError(w, qerrors.NewInvalidPayloadError("sow", err))
		return
	}
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("SOW build failed: %v", err))
		return
	}

	for i, sc := range doc.Scopes {
		s.record(ctx, clickhouse.KindSOW, req.Workspace, sc.Name, sc.Table, sc.Warnings, req.Scopes[i].TargetAfterDiscountExGst)
	}
	s.jsonResponse(w, http.StatusOK, doc)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if qe := decodeBody(r, &req); qe != nil {
		s.quoteError(w, qe)
		return
	}

	result, err := s.review.Evaluate(r.Context(), review.Request{
		Table:          req.PricingTable,
		Warnings:       req.Warnings,
		CustomPolicies: req.Policies,
	})
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, fmt.Sprintf("review failed: %v", err))
		return
	}
	if result.Decision == review.DecisionDeny {
		s.logger.Warn().Int("violations", len(result.Violations)).Msg("Quote denied by review")
		if enforce, _ := strconv.ParseBool(r.URL.Query().Get("enforce")); enforce {
			s.quoteError(w, qerrors.NewPolicyViolationError("review", denyMessage(result)))
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// =============================================================================
// RATE CARD AND AUDIT ENDPOINTS
// =============================================================================

func (s *Server) handleGetRateCard(w http.ResponseWriter, r *http.Request) {
	workspace := chi.URLParam(r, "workspace")
	entries, err := s.rateCards.Load(r.Context(), workspace)
	if err != nil {
		s.quoteError(w, qerrors.NewRateCardUnavailableError(workspace, err))
		return
	}
	if entries == nil {
		entries = []ratecard.Entry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"workspace": workspace,
		"entries":   entries,
	})
}

func (s *Server) handlePutRateCard(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		s.jsonError(w, http.StatusNotImplemented, "rate card storage is not configured")
		return
	}
	workspace := chi.URLParam(r, "workspace")

	var body struct {
		Entries any `json:"entries"`
	}
	if qe := decodeBody(r, &body); qe != nil {
		s.quoteError(w, qe)
		return
	}
	entries := pricing.RateCardFromRaw(body.Entries)
	if len(entries) == 0 {
		s.jsonError(w, http.StatusBadRequest, "no usable rate card entries")
		return
	}
	if err := s.writer.UpsertEntries(r.Context(), workspace, entries); err != nil {
		s.quoteError(w, qerrors.NewStoreFailedError("rate card upsert", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"workspace": workspace,
		"upserted":  len(entries),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.audit.(RunLister)
	if !ok {
		s.jsonError(w, http.StatusNotImplemented, "quote audit is not configured")
		return
	}
	workspace := r.URL.Query().Get("workspace")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx := r.Context()
	runs, err := lister.ListRuns(ctx, workspace, limit)
	if err != nil {
		s.quoteError(w, qerrors.NewStoreFailedError("list runs", err))
		return
	}
	counts, err := lister.WarningCounts(ctx, workspace)
	if err != nil {
		s.quoteError(w, qerrors.NewStoreFailedError("warning counts", err))
		return
	}
	if runs == nil {
		runs = []*clickhouse.QuoteRun{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"runs":           runs,
		"warning_counts": counts,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.audit.(RunLister)
	if !ok {
		s.jsonError(w, http.StatusNotImplemented, "quote audit is not configured")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.quoteError(w, qerrors.NewInvalidPayloadError("run id", err))
		return
	}
	run, err := lister.GetRun(r.Context(), id)
	if err != nil {
		s.quoteError(w, qerrors.NewStoreFailedError("get run", err))
		return
	}
	if run == nil {
		s.jsonError(w, http.StatusNotFound, "run not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// =============================================================================
// HELPERS
// =============================================================================

func denyMessage(res *review.Result) string {
	msgs := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		msgs = append(msgs, v.Message)
	}
	return "quote denied: " + strings.Join(msgs, "; ")
}

// decodeBody decodes a JSON request body, keeping numbers exact.
func decodeBody(r *http.Request, v any) *qerrors.QuoteError {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty request body")
		}
		return qerrors.NewInvalidPayloadError("request", err)
	}
	return nil
}

// payloadValue accepts model output embedded as a JSON string, with or
// without a code fence. Unparseable text yields an empty payload.
func payloadValue(v any) any {
	text, ok := v.(string)
	if !ok {
		return v
	}
	decoded, err := pricing.DecodePayload([]byte(text))
	if err != nil {
		return nil
	}
	return decoded
}

// resolveRateCard picks the inline card, then the workspace card.
func (s *Server) resolveRateCard(ctx context.Context, inline any, workspace string) ([]ratecard.Entry, *qerrors.QuoteError) {
	if inline != nil {
		if entries := pricing.RateCardFromRaw(inline); len(entries) > 0 {
			return entries, nil
		}
	}
	entries, err := s.rateCards.Load(ctx, strings.TrimSpace(workspace))
	if err != nil {
		return nil, qerrors.NewRateCardUnavailableError(workspace, err)
	}
	return entries, nil
}

func (s *Server) record(ctx context.Context, kind, workspace, scope string, t pricing.Table, warnings []pricing.Warning, target *float64) {
	if s.audit == nil {
		return
	}
	run, ws := clickhouse.NewQuoteRun(kind, workspace, scope, t, warnings, target)
	if err := s.audit.RecordRun(ctx, run, ws); err != nil {
		qe := qerrors.NewStoreFailedError("record quote run", err)
		s.logger.WithLevel(qe.Severity.LogLevel()).Err(err).Str("run_id", run.ID.String()).Msg(qe.Message)
	}
}

func nonEmpty(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	return names
}

func nonNilWarnings(ws []pricing.Warning) []pricing.Warning {
	if ws == nil {
		return []pricing.Warning{}
	}
	return ws
}
