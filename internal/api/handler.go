// Package api serves the masking engine's administration operations over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pganon/internal/domain"
	"pganon/internal/engine"
	"pganon/internal/masking"
	"pganon/internal/middleware"
	"pganon/internal/pgsql"
	"pganon/internal/static"
	"pganon/internal/trust"
)

// Service is the engine surface the API needs.
type Service interface {
	Policies() []string
	MaskingPolicyOf(ctx context.Context, role string) (string, bool, error)
	TableMaskingExpressions(ctx context.Context, table, policy string) (string, bool, error)
	ValueForColumn(ctx context.Context, table, column, policy string) (masking.ColumnExpr, error)
	CheckFunction(ctx context.Context, call, policy string) error
	Rewrite(ctx context.Context, role, sql string) (engine.Rewritten, error)
	RewriteForPolicy(ctx context.Context, policy, sql string) (engine.Rewritten, error)
	AnonymizeColumn(ctx context.Context, table, column, policy string) (bool, error)
	AnonymizeTable(ctx context.Context, table, policy string) (static.Result, error)
	AnonymizeDatabase(ctx context.Context, policy string) ([]static.Result, error)
	SetLabel(ctx context.Context, target engine.Target, provider string, label *string) error
}

var _ Service = (*engine.Engine)(nil)

// Handler implements the /v1 routes.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/policies", h.listPolicies)
	r.Get("/roles/{role}/policy", h.rolePolicy)
	r.Get("/tables/{table}/masking-expressions", h.maskingExpressions)
	r.Get("/tables/{table}/columns/{column}/value", h.valueForColumn)
	r.Post("/tables/{table}/anonymize", h.anonymizeTable)
	r.Post("/tables/{table}/columns/{column}/anonymize", h.anonymizeColumn)
	r.Post("/database/anonymize", h.anonymizeDatabase)
	r.Post("/functions/check", h.checkFunction)
	r.Post("/rewrite", h.rewrite)
	r.Put("/labels", h.setLabel)
}

func policyParam(r *http.Request) string {
	if p := r.URL.Query().Get("policy"); p != "" {
		return p
	}
	return domain.DefaultPolicy
}

func (h *Handler) listPolicies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"policies": h.svc.Policies()})
}

func (h *Handler) rolePolicy(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	p, masked, err := h.svc.MaskingPolicyOf(r.Context(), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := map[string]interface{}{"role": role, "masked": masked}
	if masked {
		resp["policy"] = p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) maskingExpressions(w http.ResponseWriter, r *http.Request) {
	table, p := chi.URLParam(r, "table"), policyParam(r)
	exprs, masked, err := h.svc.TableMaskingExpressions(r.Context(), table, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table": table, "policy": p, "expressions": exprs, "masked": masked,
	})
}

func (h *Handler) valueForColumn(w http.ResponseWriter, r *http.Request) {
	table, column, p := chi.URLParam(r, "table"), chi.URLParam(r, "column"), policyParam(r)
	ce, err := h.svc.ValueForColumn(r.Context(), table, column, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table": table, "column": column, "policy": p, "expression": ce.Expr, "masked": ce.Masked,
	})
}

func (h *Handler) anonymizeTable(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.AnonymizeTable(r.Context(), chi.URLParam(r, "table"), policyParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "anonymize table", "table", res.Table, "outcome", res.Outcome.String())
	writeJSON(w, http.StatusOK, resultToAPI(res))
}

func (h *Handler) anonymizeColumn(w http.ResponseWriter, r *http.Request) {
	table, column := chi.URLParam(r, "table"), chi.URLParam(r, "column")
	applied, err := h.svc.AnonymizeColumn(r.Context(), table, column, policyParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "anonymize column", "table", table, "column", column, "applied", applied)
	writeJSON(w, http.StatusOK, map[string]interface{}{"table": table, "column": column, "applied": applied})
}

func (h *Handler) anonymizeDatabase(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.AnonymizeDatabase(r.Context(), policyParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(results))
	for _, res := range results {
		out = append(out, resultToAPI(res))
	}
	h.audit(r, "anonymize database", "tables", len(results))
	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": out})
}

type checkFunctionRequest struct {
	Call   string `json:"call"`
	Policy string `json:"policy"`
}

func (h *Handler) checkFunction(w http.ResponseWriter, r *http.Request) {
	var req checkFunctionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Policy == "" {
		req.Policy = domain.DefaultPolicy
	}
	err := h.svc.CheckFunction(r.Context(), req.Call, req.Policy)
	var te *trust.Error
	switch {
	case errors.As(err, &te):
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"call": req.Call, "trusted": false, "reason": te.Reason.String(), "message": te.Error(),
		})
		return
	case err != nil:
		h.writeError(w, r, err)
		return
	}
	schema, _ := pgsql.FunctionSchema(req.Call)
	writeJSON(w, http.StatusOK, map[string]interface{}{"call": req.Call, "trusted": true, "schema": schema})
}

type rewriteRequest struct {
	SQL    string `json:"sql"`
	Policy string `json:"policy,omitempty"`
	Role   string `json:"role,omitempty"`
}

func (h *Handler) rewrite(w http.ResponseWriter, r *http.Request) {
	var req rewriteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Policy != "" && req.Role != "" {
		h.writeError(w, r, domain.ErrInvalidInput("policy and role are mutually exclusive"))
		return
	}

	var (
		out engine.Rewritten
		err error
	)
	if req.Role != "" {
		out, err = h.svc.Rewrite(r.Context(), req.Role, req.SQL)
	} else {
		if req.Policy == "" {
			req.Policy = domain.DefaultPolicy
		}
		out, err = h.svc.RewriteForPolicy(r.Context(), req.Policy, req.SQL)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sql": out.SQL, "policy": out.Policy, "changed": out.Changed, "masked_relations": out.Masked,
	})
}

type labelRequest struct {
	engine.Target
	Provider string  `json:"provider"`
	Label    *string `json:"label"`
}

func (h *Handler) setLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Provider == "" {
		req.Provider = domain.DefaultPolicy
	}
	if err := h.svc.SetLabel(r.Context(), req.Target, req.Provider, req.Label); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit(r, "set label", "kind", string(req.Kind), "name", req.Name, "column", req.Column, "provider", req.Provider)
	w.WriteHeader(http.StatusNoContent)
}

func resultToAPI(res static.Result) map[string]interface{} {
	return map[string]interface{}{
		"table":         res.Table,
		"outcome":       res.Outcome.String(),
		"applied":       res.Applied(),
		"sampled":       res.Sampled,
		"rows_affected": res.RowsAffected,
	}
}

func (h *Handler) audit(r *http.Request, action string, args ...any) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	attrs := []any{"principal", principal, "request_id", middleware.RequestIDFromContext(r.Context())}
	h.logger.Info(action, append(attrs, args...)...)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusFromDomainError(err)
	if code >= http.StatusInternalServerError && code != http.StatusNotImplemented {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorBody(code, err.Error()))
}

func errorBody(code int, message string) map[string]interface{} {
	return map[string]interface{}{"code": code, "message": message}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
