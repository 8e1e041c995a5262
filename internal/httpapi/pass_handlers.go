package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"microvision.org/internal/audit"
	"microvision.org/internal/auth"
	"microvision.org/internal/export"
	"microvision.org/internal/resolve"
	"microvision.org/internal/stream"
)

const maxPassLines = 2000

type createPassRequest struct {
	Supplier string         `json:"supplier"`
	Batch    bool           `json:"batch"`
	Lines    []resolve.Line `json:"lines"`
}

type manualRequest struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
}

type passResponse struct {
	resolve.Snapshot
	Error string `json:"error,omitempty"`
}

func (a *API) engine(r *http.Request) (*resolve.Engine, error) {
	lookup, err := a.backend.Lookup(r.Context())
	if err != nil {
		return nil, err
	}
	var maps resolve.Mappings
	if a.mappings != nil {
		maps = a.mappings
	}
	return resolve.NewEngine(lookup, maps, resolve.WithNameLimit(a.nameLimit)), nil
}

func (a *API) publish(kind string, p *resolve.Pass) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(stream.FromSnapshot(kind, p.Snapshot()))
}

func (a *API) handlePasses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createPassRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, r, http.StatusBadRequest, "lines are required")
		return
	}
	if len(req.Lines) > maxPassLines {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("at most %d lines per pass", maxPassLines))
		return
	}
	for i, l := range req.Lines {
		if strings.TrimSpace(l.Token) == "" && strings.TrimSpace(l.Barcode) == "" &&
			strings.TrimSpace(l.Code) == "" && strings.TrimSpace(l.Name) == "" {
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("line %d is empty", i))
			return
		}
	}

	engine, err := a.engine(r)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	p := resolve.NewPass(req.Supplier, req.Lines, !req.Batch)
	a.passes.Put(p)
	a.publish(stream.KindCreated, p)

	_, runErr := engine.Run(r.Context(), p)
	a.publish("", p)
	_ = audit.LogEvent(r.Context(), "pass.created", map[string]any{
		"pass_id":  p.ID(),
		"supplier": p.Supplier(),
		"lines":    len(req.Lines),
	})

	w.Header().Set("Location", "/v1/passes/"+p.ID())
	a.writePass(w, r, http.StatusCreated, p, runErr)
}

// writePass responds with the pass snapshot. A run error that left the pass
// resumable is reported alongside the snapshot.
func (a *API) writePass(w http.ResponseWriter, r *http.Request, code int, p *resolve.Pass, runErr error) {
	resp := passResponse{Snapshot: p.Snapshot()}
	if runErr != nil && !errors.Is(runErr, resolve.ErrResolutionCancelled) {
		resp.Error = runErr.Error()
		code = http.StatusAccepted
	}
	writeJSON(w, code, resp)
}

func (a *API) handlePassResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/passes/"), "/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" || strings.Contains(action, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, err := a.passes.Get(id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	route := func(method string, h func(http.ResponseWriter, *http.Request, *resolve.Pass)) {
		if r.Method != method {
			methodNotAllowed(w, r, method)
			return
		}
		h(w, r, p)
	}
	switch action {
	case "":
		route(http.MethodGet, func(w http.ResponseWriter, r *http.Request, p *resolve.Pass) {
			writeJSON(w, http.StatusOK, p.Snapshot())
		})
	case "run":
		route(http.MethodPost, a.runPass)
	case "decision":
		route(http.MethodPost, a.decide)
	case "manual":
		route(http.MethodPost, a.manual)
	case "delivery":
		route(http.MethodPost, a.pushDelivery)
	case "export":
		route(http.MethodGet, a.exportPass)
	case "events":
		route(http.MethodGet, func(w http.ResponseWriter, r *http.Request, p *resolve.Pass) {
			a.streamPass(w, r, p.ID())
		})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// runPass resumes a pass that stopped on a catalog error.
func (a *API) runPass(w http.ResponseWriter, r *http.Request, p *resolve.Pass) {
	engine, err := a.engine(r)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_, runErr := engine.Run(r.Context(), p)
	if errors.Is(runErr, resolve.ErrResolutionCancelled) {
		handleDomainError(w, r, runErr)
		return
	}
	a.publish("", p)
	a.writePass(w, r, http.StatusOK, p, runErr)
}

func (a *API) decide(w http.ResponseWriter, r *http.Request, p *resolve.Pass) {
	var d resolve.Decision
	if err := decodeJSON(w, r, &d); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	engine, err := a.engine(r)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_, err = engine.Decide(r.Context(), p, d)
	switch {
	case errors.Is(err, resolve.ErrNoPendingDecision),
		errors.Is(err, resolve.ErrInvalidDecision),
		errors.Is(err, resolve.ErrUnknownCode):
		handleDomainError(w, r, err)
		return
	case errors.Is(err, resolve.ErrResolutionCancelled):
		_ = audit.LogEvent(r.Context(), "pass.cancelled", map[string]any{"pass_id": p.ID()})
	}
	a.publish("", p)
	a.writePass(w, r, http.StatusOK, p, err)
}

func (a *API) manual(w http.ResponseWriter, r *http.Request, p *resolve.Pass) {
	var req manualRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}
	engine, err := a.engine(r)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	o, err := engine.ApplyManual(r.Context(), p, req.Index, req.Code)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publish(stream.KindProgress, p)
	writeJSON(w, http.StatusOK, o)
}

func (a *API) pushDelivery(w http.ResponseWriter, r *http.Request, p *resolve.Pass) {
	op, ok := auth.OperatorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "operator login required")
		return
	}
	res, err := a.backend.Push(r.Context(), op.OperatorID, p.Final())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "delivery.pushed", map[string]any{
		"pass_id":     p.ID(),
		"delivery_id": res.DeliveryID,
		"nomer":       res.Nomer,
		"live":        res.Live,
		"lines":       len(res.Lines),
	})
	a.publish(stream.KindDelivery, p)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) exportPass(w http.ResponseWriter, r *http.Request, p *resolve.Pass) {
	storage := strings.TrimSpace(r.URL.Query().Get("storage"))
	w.Header().Set("Content-Type", "text/plain; charset=windows-1251")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="mistral-%s.txt"`, p.ID()))
	if err := export.Write(w, storage, p.Final()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "export failed")
	}
}
