package httpapi

import (
	"net/http"
	"strings"

	"microvision.org/internal/audit"
	"microvision.org/internal/config"
	"microvision.org/internal/mapping"
)

func (a *API) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	refresh := config.Truthy(r.URL.Query().Get("refresh"))
	s, err := a.backend.Schema(r.Context(), refresh)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleCatalogStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	st, err := a.backend.Counts(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type mappingRequest struct {
	Supplier string `json:"supplier"`
	Barcode  string `json:"barcode"`
	Text     string `json:"text"`
	Code     string `json:"code"`
}

type mappingResponse struct {
	Supplier string `json:"supplier"`
	Code     string `json:"code"`
	Barcode  string `json:"barcode,omitempty"`
	Text     string `json:"text,omitempty"`
}

// handleMappings stores an explicit correction. The code is checked against
// the catalog first; unreachable catalogs accept it as given.
func (a *API) handleMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"suppliers": a.mappings.Suppliers()})
		return
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		return
	}

	var req mappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" || (strings.TrimSpace(req.Barcode) == "" && strings.TrimSpace(req.Text) == "") {
		writeError(w, r, http.StatusBadRequest, "code and one of barcode or text are required")
		return
	}

	engine, err := a.engine(r)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	cand, err := engine.VerifyCode(r.Context(), code)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if req.Barcode != "" {
		if err := a.mappings.PutBarcode(req.Supplier, req.Barcode, cand.Code); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}
	if req.Text != "" {
		if err := a.mappings.PutText(req.Supplier, req.Text, cand.Code); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}

	resp := mappingResponse{
		Supplier: strings.TrimSpace(req.Supplier),
		Code:     cand.Code,
		Barcode:  strings.TrimSpace(req.Barcode),
		Text:     mapping.Normalize(req.Text),
	}
	if resp.Supplier == "" {
		resp.Supplier = mapping.DefaultSupplier
	}
	_ = audit.LogEvent(r.Context(), "mapping.corrected", map[string]any{
		"supplier": resp.Supplier,
		"code":     resp.Code,
		"barcode":  resp.Barcode,
		"text":     resp.Text,
	})
	writeJSON(w, http.StatusOK, resp)
}
