package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/soaringjerry/Formsy/internal/middleware"
	"github.com/soaringjerry/Formsy/internal/services"
	"github.com/soaringjerry/Formsy/internal/utils"
)

type publicFormView struct {
	*services.PublicForm
	ClosedNotice *string `json:"closedNotice,omitempty"`
}

// closedNotice is the text shown to respondents of a closed form: the owner's
// message when set, else a localized default for the state.
func closedNotice(locale string, f *services.PublicForm) *string {
	if !f.Closed {
		return nil
	}
	if f.ClosedMessage != nil && strings.TrimSpace(*f.ClosedMessage) != "" {
		msg := *f.ClosedMessage
		return &msg
	}
	key := "form.closed.paused"
	if f.State == services.StateExpired {
		key = "form.closed.expired"
	}
	msg := utils.T(locale, key)
	return &msg
}

// GET /api/forms/slug/{slug}
func (rt *Router) handlePublicForm(w http.ResponseWriter, r *http.Request) {
	form, err := rt.forms.GetPublicForm(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		rt.writeError(w, r, "get_public_form", err)
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"form": publicFormView{PublicForm: form, ClosedNotice: closedNotice(locale, form)}})
}

// POST /api/forms/{slug}/submissions
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		rt.writeError(w, r, "submit", err)
		return
	}
	id, err := rt.submissions.Submit(r.Context(), chi.URLParam(r, "ref"), body)
	if err != nil {
		rt.writeError(w, r, "submit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

type createFormRequest struct {
	Title         string     `json:"title"`
	Deadline      *time.Time `json:"deadline"`
	ClosedMessage *string    `json:"closedMessage"`
}

// POST /api/forms
func (rt *Router) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	var req createFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, "create_form", err)
		return
	}
	form, err := rt.forms.CreateForm(r.Context(), middleware.PrincipalFromContext(r.Context()), services.CreateFormInput{
		Title:         req.Title,
		Deadline:      req.Deadline,
		ClosedMessage: req.ClosedMessage,
	})
	if err != nil {
		rt.writeError(w, r, "create_form", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"form": form})
}

// GET /api/forms
func (rt *Router) handleListForms(w http.ResponseWriter, r *http.Request) {
	forms, err := rt.forms.ListForms(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, "list_forms", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
}

// POST /api/forms/{id}/pause
func (rt *Router) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := rt.forms.Pause(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "ref")); err != nil {
		rt.writeError(w, r, "pause_form", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type addFieldRequest struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// POST /api/forms/{id}/fields
func (rt *Router) handleAddField(w http.ResponseWriter, r *http.Request) {
	var req addFieldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, "add_field", err)
		return
	}
	field, err := rt.forms.AddField(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "ref"), services.FieldInput{
		Key:   req.Key,
		Label: req.Label,
		Type:  req.Type,
	})
	if err != nil {
		rt.writeError(w, r, "add_field", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"field": field})
}

// POST /api/forms/{id}/fields/order
func (rt *Router) handleReorderFields(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order json.RawMessage `json:"order"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, "reorder_fields", err)
		return
	}
	fields, err := rt.forms.ReorderFields(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "ref"), req.Order)
	if err != nil {
		rt.writeError(w, r, "reorder_fields", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

// GET /api/forms/{id}/submissions
func (rt *Router) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := rt.submissions.ListSubmissions(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "ref"))
	if err != nil {
		rt.writeError(w, r, "list_submissions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

// GET /api/forms/{id}/audit
func (rt *Router) handleActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.forms.Activity(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "ref"))
	if err != nil {
		rt.writeError(w, r, "form_activity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GET /api/forms/{id}/submissions/export
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := rt.exports.ExportCSV(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "ref"))
	if err != nil {
		rt.writeError(w, r, "export_csv", err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}
