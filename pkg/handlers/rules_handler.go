package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rules/pkg/models"
	"github.com/ekaya-inc/ekaya-rules/pkg/services"
)

// RulesHandler exposes operator endpoints: registration runs, index
// rebuilds, debt overrides and the tag vocabulary.
type RulesHandler struct {
	registration services.RuleRegistrationService
	indexSync    services.RuleIndexSynchronizer
	debt         services.RuleDebtService
	tags         services.TagService
	logger       *zap.Logger
}

// NewRulesHandler creates a new RulesHandler.
func NewRulesHandler(
	registration services.RuleRegistrationService,
	indexSync services.RuleIndexSynchronizer,
	debt services.RuleDebtService,
	tags services.TagService,
	logger *zap.Logger,
) *RulesHandler {
	return &RulesHandler{
		registration: registration,
		indexSync:    indexSync,
		debt:         debt,
		tags:         tags,
		logger:       logger,
	}
}

// RegisterRoutes registers the rules handler's routes on the given mux.
func (h *RulesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/registration", h.Register)
	mux.HandleFunc("POST /api/index/rebuild", h.RebuildIndex)

	mux.HandleFunc("GET /api/rules/{key}/debt", h.GetDebt)
	mux.HandleFunc("PUT /api/rules/{key}/debt", h.SetDebt)
	mux.HandleFunc("DELETE /api/rules/{key}/debt", h.ResetDebt)

	mux.HandleFunc("GET /api/tags", h.ListTags)
	mux.HandleFunc("POST /api/tags", h.CreateTag)
}

type setDebtRequest struct {
	SubCharacteristicKey string                      `json:"sub_characteristic_key"`
	RemediationFunction  *models.RemediationFunction `json:"remediation_function,omitempty"` // nil = keep default function
}

type createTagRequest struct {
	Tag string `json:"tag"`
}

type tagsResponse struct {
	Tags []string `json:"tags"`
}

// debtResponse wraps the effective debt, null when the rule has none.
type debtResponse struct {
	Debt *models.RuleDebt `json:"debt"`
}

// Register handles POST /api/registration
func (h *RulesHandler) Register(w http.ResponseWriter, r *http.Request) {
	result, err := h.registration.Register(r.Context())
	if err != nil {
		h.writeError(w, "Rule registration failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write registration response", zap.Error(err))
	}
}

// RebuildIndex handles POST /api/index/rebuild
func (h *RulesHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	result, err := h.indexSync.Rebuild(r.Context())
	if err != nil {
		h.writeError(w, "Index rebuild failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write rebuild response", zap.Error(err))
	}
}

// GetDebt handles GET /api/rules/{key}/debt
func (h *RulesHandler) GetDebt(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseRuleKey(w, r)
	if !ok {
		return
	}

	debt, err := h.debt.GetEffectiveDebt(r.Context(), key)
	if err != nil {
		h.writeError(w, "Failed to get rule debt", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, debtResponse{Debt: debt}); err != nil {
		h.logger.Error("Failed to write debt response", zap.Error(err))
	}
}

// SetDebt handles PUT /api/rules/{key}/debt
func (h *RulesHandler) SetDebt(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseRuleKey(w, r)
	if !ok {
		return
	}

	var req setDebtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.SubCharacteristicKey == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "sub_characteristic_key is required")
		return
	}

	debt, err := h.debt.SetDebtOverride(r.Context(), key, services.DebtOverride{
		SubCharacteristicKey: req.SubCharacteristicKey,
		Function:             req.RemediationFunction,
	})
	if err != nil {
		h.writeError(w, "Failed to set rule debt", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, debtResponse{Debt: debt}); err != nil {
		h.logger.Error("Failed to write debt response", zap.Error(err))
	}
}

// ResetDebt handles DELETE /api/rules/{key}/debt
func (h *RulesHandler) ResetDebt(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseRuleKey(w, r)
	if !ok {
		return
	}

	debt, err := h.debt.ResetDebtOverride(r.Context(), key)
	if err != nil {
		h.writeError(w, "Failed to reset rule debt", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, debtResponse{Debt: debt}); err != nil {
		h.logger.Error("Failed to write debt response", zap.Error(err))
	}
}

// ListTags handles GET /api/tags
func (h *RulesHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.tags.ListTags(r.Context())
	if err != nil {
		h.writeError(w, "Failed to list tags", err)
		return
	}
	if tags == nil {
		tags = []string{}
	}

	if err := WriteJSON(w, http.StatusOK, tagsResponse{Tags: tags}); err != nil {
		h.logger.Error("Failed to write tags response", zap.Error(err))
	}
}

// CreateTag handles POST /api/tags
func (h *RulesHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req createTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	tag, err := h.tags.CreateTag(r.Context(), req.Tag)
	if err != nil {
		h.writeError(w, "Failed to create tag", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, tag); err != nil {
		h.logger.Error("Failed to write tag response", zap.Error(err))
	}
}

func (h *RulesHandler) parseRuleKey(w http.ResponseWriter, r *http.Request) (models.RuleKey, bool) {
	key, err := models.ParseRuleKey(r.PathValue("key"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_rule_key", "Rule key must have the form repository:rule")
		return models.RuleKey{}, false
	}
	return key, true
}

// writeError maps service errors to HTTP responses. Unmapped errors are logged
// and answered with msg only.
func (h *RulesHandler) writeError(w http.ResponseWriter, msg string, err error) {
	status, code, ok := errorStatus(err)
	if !ok {
		h.logger.Error(msg, zap.Error(err))
		_ = ErrorResponse(w, status, code, msg)
		return
	}
	_ = ErrorResponse(w, status, code, err.Error())
}
