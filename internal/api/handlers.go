// Package api implements the HTTP Surface: endpoint routing, request-param
// normalization, input validation, and the JSON encode/decode boundary in
// front of the Flow Graph Engine, Risk Scoring Engine, Intent Inference
// Client, and Tenant Gate.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/lewashby/tokenflow/internal/apierr"
	"github.com/lewashby/tokenflow/internal/classifier"
	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/internal/flowgraph"
	"github.com/lewashby/tokenflow/internal/intent"
	"github.com/lewashby/tokenflow/internal/middleware"
	"github.com/lewashby/tokenflow/internal/risk"
	"github.com/lewashby/tokenflow/internal/tenant"
	"github.com/lewashby/tokenflow/internal/upstream"
	"github.com/lewashby/tokenflow/pkg/soladdr"
)

const maxBodyBytes = 100 * 1024

// Handler wires every engine the HTTP Surface fronts.
type Handler struct {
	flowgraph *flowgraph.Engine
	risk      *risk.Engine
	intent    *intent.Client
	upstream  *upstream.Adapter
	gate      *tenant.Gate
	webhooks  WebhookAcceptor
}

// WebhookAcceptor is the subset of internal/webhook.Handler the HTTP
// Surface dispatches POST /webhooks/apix to.
type WebhookAcceptor interface {
	Accept(ctx context.Context, body []byte, signatureHeader string) (any, error)
}

func NewHandler(fg *flowgraph.Engine, re *risk.Engine, ic *intent.Client, up *upstream.Adapter, gate *tenant.Gate, wh WebhookAcceptor) *Handler {
	return &Handler{flowgraph: fg, risk: re, intent: ic, upstream: up, gate: gate, webhooks: wh}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierr.Error
	if !apierr.As(err, &apiErr) {
		apiErr = apierr.Wrap(apierr.KindInternal, "unexpected error", err)
	}
	apierr.WriteJSON(w, middleware.RequestIDFromContext(r.Context()), apiErr)
}

// decodeJSON strict-parses a request body no larger than maxBodyBytes,
// rejecting trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.KindInvalidRequest, "malformed request body", err)
	}
	if dec.More() {
		return apierr.New(apierr.KindInvalidRequest, "trailing data after JSON body")
	}
	return nil
}

// Health implements GET /health (no auth).
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- query/body normalization ----

var timeRangePattern = regexp.MustCompile(`^(\d+)(d|h|m)$`)

func parseTimeRange(s string) (flowgraph.TimeRange, error) {
	if s == "" {
		return flowgraph.TimeRange{}, nil
	}
	m := timeRangePattern.FindStringSubmatch(s)
	if m == nil {
		return flowgraph.TimeRange{}, apierr.New(apierr.KindInvalidRequest, "InvalidTimeRange")
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "m":
		if n > 1440 {
			return flowgraph.TimeRange{}, apierr.New(apierr.KindInvalidRequest, "InvalidTimeRange")
		}
		return flowgraph.TimeRange{Since: time.Now().Add(-time.Duration(n) * time.Minute)}, nil
	case "h":
		if n > 720 {
			return flowgraph.TimeRange{}, apierr.New(apierr.KindInvalidRequest, "InvalidTimeRange")
		}
		return flowgraph.TimeRange{Since: time.Now().Add(-time.Duration(n) * time.Hour)}, nil
	case "d":
		if n > 365 {
			return flowgraph.TimeRange{}, apierr.New(apierr.KindInvalidRequest, "InvalidTimeRange")
		}
		return flowgraph.TimeRange{Since: time.Now().AddDate(0, 0, -n)}, nil
	}
	return flowgraph.TimeRange{}, apierr.New(apierr.KindInvalidRequest, "InvalidTimeRange")
}

// normalizedParam maps any of the accepted variant spellings of a query
// param to its canonical value.
func normalizedParam(r *http.Request, variants ...string) string {
	for _, name := range variants {
		if v := r.URL.Query().Get(name); v != "" {
			return v
		}
	}
	return ""
}

var (
	tokenVariants = []string{"token", "tokenAddress", "Token_Address", "token_address", "TokenAddress", "Token Address"}
)

// ---- /api/v1/analyze/path ----

type analyzePathRequest struct {
	Address   string `json:"address"`
	Token     string `json:"token"`
	Direction string `json:"direction"`
	MaxDepth  int    `json:"maxDepth"`
	TimeRange string `json:"timeRange"`
}

func (h *Handler) AnalyzePath(w http.ResponseWriter, r *http.Request) {
	var req analyzePathRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	} else {
		req.Address = normalizedParam(r, "address", "Address")
		req.Token = normalizedParam(r, tokenVariants...)
		req.Direction = normalizedParam(r, "direction", "Direction")
		if md := normalizedParam(r, "maxDepth", "MaxDepth"); md != "" {
			req.MaxDepth, _ = strconv.Atoi(md)
		}
		req.TimeRange = normalizedParam(r, "timeRange", "TimeRange")
	}

	if !soladdr.IsAddress(req.Address) || !soladdr.IsAddress(req.Token) {
		writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "invalid address or token grammar"))
		return
	}
	if req.Direction == "" {
		req.Direction = "forward"
	}
	if req.Direction != "forward" && req.Direction != "backward" {
		writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "direction must be forward or backward"))
		return
	}
	if req.MaxDepth == 0 {
		req.MaxDepth = 5
	}
	tr, err := parseTimeRange(req.TimeRange)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var paths []domain.FlowPath
	if req.Direction == "backward" {
		paths, err = h.flowgraph.BuildBackwardPath(r.Context(), req.Address, req.Token, req.MaxDepth, tr)
	} else {
		paths, err = h.flowgraph.BuildForwardPath(r.Context(), req.Address, req.Token, req.MaxDepth, tr)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paths": paths})
}

// ---- /api/v1/risk/:address ----

func (h *Handler) Risk(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	token := normalizedParam(r, tokenVariants...)
	if !soladdr.IsAddress(address) || !soladdr.IsAddress(token) {
		writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "invalid address or token grammar"))
		return
	}

	assessment, err := h.risk.AssessRisk(r.Context(), address, token)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// ---- /api/v1/intent/:signature ----

func (h *Handler) Intent(w http.ResponseWriter, r *http.Request) {
	signature := mux.Vars(r)["signature"]
	if !soladdr.IsSignature(signature) {
		writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "invalid signature grammar"))
		return
	}

	tx, err := h.upstream.GetTransaction(r.Context(), signature)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if tx == nil {
		writeErr(w, r, apierr.New(apierr.KindNotFound, "unknown transaction"))
		return
	}

	result, err := h.intent.PredictIntent(r.Context(), *tx)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---- /api/v1/trace ----

const maxTraceSignatures = 100

type traceRequest struct {
	Signatures []string `json:"signatures"`
	BuildGraph bool     `json:"buildGraph,omitempty"`
}

func (h *Handler) Trace(w http.ResponseWriter, r *http.Request) {
	var req traceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if len(req.Signatures) == 0 || len(req.Signatures) > maxTraceSignatures {
		writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "signatures must contain 1-100 entries"))
		return
	}
	for _, sig := range req.Signatures {
		if !soladdr.IsSignature(sig) {
			writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "invalid signature grammar"))
			return
		}
	}

	txs := make([]domain.ParsedTransaction, 0, len(req.Signatures))
	for _, sig := range req.Signatures {
		tx, err := h.upstream.GetTransaction(r.Context(), sig)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if tx != nil {
			txs = append(txs, *tx)
		}
	}

	results := h.intent.PredictBatch(r.Context(), txs)
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs, "intents": results})
}

// ---- /api/v1/analyze/token ----

type analyzeTokenRequest struct {
	Token string `json:"token"`
	Limit int    `json:"limit"`
}

func (h *Handler) AnalyzeToken(w http.ResponseWriter, r *http.Request) {
	var req analyzeTokenRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	} else {
		req.Token = normalizedParam(r, tokenVariants...)
		if l := normalizedParam(r, "limit", "Limit"); l != "" {
			req.Limit, _ = strconv.Atoi(l)
		}
	}
	if !soladdr.IsAddress(req.Token) {
		writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "invalid token grammar"))
		return
	}
	if req.Limit == 0 {
		req.Limit = 100
	}
	if req.Limit > 1000 {
		writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "limit must be <= 1000"))
		return
	}

	transfers, err := h.upstream.GetRecentTokenActivity(r.Context(), req.Token, req.Limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	// Hub addresses with pool-like fan-out are rendered as pool nodes in
	// the activity graph.
	pools := make([]string, 0)
	for addr := range classifier.DetectLiquidityPools(transfers) {
		pools = append(pools, addr)
	}
	sort.Strings(pools)

	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers, "pools": pools})
}

// ---- tenant endpoints ----

type registerRequest struct {
	Email       string      `json:"email"`
	FullName    string      `json:"fullName,omitempty"`
	CompanyName string      `json:"companyName,omitempty"`
	Plan        domain.Plan `json:"plan,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if req.Email == "" {
		writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "email is required"))
		return
	}

	result, err := h.gate.RegisterUser(r.Context(), req.Email, req.FullName, req.CompanyName, req.Plan)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":         result.User,
		"subscription": result.Subscription,
		"apiKey":       result.Key.Raw,
	})
}

func authOrErr(w http.ResponseWriter, r *http.Request) (tenant.AuthContext, bool) {
	auth, ok := middleware.AuthFromContext(r.Context())
	if !ok {
		writeErr(w, r, apierr.New(apierr.KindUnauthenticated, "authentication required"))
		return tenant.AuthContext{}, false
	}
	return auth, true
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	auth, ok := authOrErr(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": auth.User, "subscription": auth.Subscription})
}

func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	auth, ok := authOrErr(w, r)
	if !ok {
		return
	}
	summary, err := h.gate.GetUsageSummary(r.Context(), auth)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	auth, ok := authOrErr(w, r)
	if !ok {
		return
	}
	keys, err := h.gate.ListAPIKeys(r.Context(), auth.User.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

type createKeyRequest struct {
	Name string `json:"name,omitempty"`
}

func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	auth, ok := authOrErr(w, r)
	if !ok {
		return
	}
	var req createKeyRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	key, err := h.gate.CreateAPIKey(r.Context(), auth.User.ID, req.Name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"apiKey": key.Raw, "keyPrefix": key.Row.KeyPrefix})
}

func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	auth, ok := authOrErr(w, r)
	if !ok {
		return
	}
	keyID := mux.Vars(r)["keyId"]
	if err := h.gate.RevokeAPIKey(r.Context(), auth.User.ID, keyID); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type updatePlanRequest struct {
	Plan domain.Plan `json:"plan"`
}

func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	auth, ok := authOrErr(w, r)
	if !ok {
		return
	}
	var req updatePlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	sub, err := h.gate.UpdatePlan(r.Context(), auth, req.Plan)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	auth, ok := authOrErr(w, r)
	if !ok {
		return
	}
	if err := h.gate.CancelSubscription(r.Context(), auth); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ---- /webhooks/apix ----

const webhookSignatureHeader = "X-Webhook-Signature"

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/json" {
		writeErr(w, r, apierr.New(apierr.KindInvalidRequest, "Content-Type must be application/json"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body := make([]byte, 0, maxBodyBytes)
	buf := make([]byte, 4096)
	for {
		n, err := r.Body.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			break
		}
	}

	result, err := h.webhooks.Accept(r.Context(), body, r.Header.Get(webhookSignatureHeader))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
