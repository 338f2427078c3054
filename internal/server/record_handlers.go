package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/records"
	"github.com/dellavolpe/rnc-front/internal/usercontext"
)

func recordID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// storeFailure logs err and renders the matching error page.
func (s *Server) storeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, records.ErrNotFound) {
		renderError(w, r, http.StatusNotFound, "Registro não encontrado.")
		return
	}
	log.LogErrorCtx(r.Context(), "records", "Record store operation failed", map[string]any{
		"op":    op,
		"error": err.Error(),
	})
	renderError(w, r, http.StatusServiceUnavailable, "Não foi possível acessar o banco de dados.")
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	recs, err := s.cfg.Records.SearchRecords(r.Context(), q)
	s.observeRecord("search_records", err)
	if err != nil {
		s.storeFailure(w, r, "search_records", err)
		return
	}
	s.page(w, r, http.StatusOK, "records", "Registros", recordsData{Query: q, Records: recs})
}

// formData gathers the select options of the record form. A branch list
// failure degrades to free text instead of failing the page.
func (s *Server) formData(r *http.Request, data recordFormData) (recordFormData, error) {
	reasons, err := s.cfg.Records.ListReasons(r.Context())
	s.observeRecord("list_reasons", err)
	if err != nil {
		return data, err
	}
	data.Reasons = reasons
	data.Companies = records.Companies

	if s.cfg.Branches != nil {
		branches, err := s.cfg.Branches.Names(r.Context())
		if err != nil {
			log.LogWarnCtx(r.Context(), "refdata", "Branch list unavailable", map[string]any{
				"error": err.Error(),
			})
			data.BranchError = "Lista de filiais indisponível. Informe a filial manualmente."
		} else {
			data.Branches = branches
		}
	}
	return data, nil
}

func (s *Server) renderRecordForm(w http.ResponseWriter, r *http.Request, status int, data recordFormData) {
	data, err := s.formData(r, data)
	if err != nil {
		s.storeFailure(w, r, "list_reasons", err)
		return
	}
	title := "Nova RNC"
	if data.Editing {
		title = fmt.Sprintf("Editar RNC %d", data.ID)
	}
	s.page(w, r, status, "record_form", title, data)
}

func (s *Server) handleNewRecord(w http.ResponseWriter, r *http.Request) {
	s.renderRecordForm(w, r, http.StatusOK, recordFormData{
		Action: "/records/new",
		Values: url.Values{"empresa": {records.Companies[0]}},
	})
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := records.ParseRecordForm(r.PostForm)
	var verrs records.ValidationErrors
	if errors.As(err, &verrs) {
		s.renderRecordForm(w, r, http.StatusUnprocessableEntity, recordFormData{
			Action: "/records/new",
			Values: r.PostForm,
			Errors: verrs,
		})
		return
	}

	if user := usercontext.User(r.Context()); user != nil {
		rec.CriadoPorEmail = user.Email
		rec.CriadoPorID = user.Subject
	}

	id, err := s.cfg.Records.InsertRecord(r.Context(), rec)
	s.observeRecord("insert_record", err)
	if err != nil {
		s.storeFailure(w, r, "insert_record", err)
		return
	}
	log.LogInfoCtx(r.Context(), "records", "Record created", map[string]any{
		"id":  id,
		"rnc": rec.RNC,
	})
	redirectWithFlash(w, r, "/records", fmt.Sprintf("RNC registrada com ID %d.", id))
}

func (s *Server) handleEditRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		renderError(w, r, http.StatusNotFound, "Registro não encontrado.")
		return
	}
	rec, err := s.cfg.Records.GetRecord(r.Context(), id)
	s.observeRecord("get_record", err)
	if err != nil {
		s.storeFailure(w, r, "get_record", err)
		return
	}
	s.renderRecordForm(w, r, http.StatusOK, recordFormData{
		Action:  fmt.Sprintf("/records/%d/edit", id),
		Editing: true,
		ID:      id,
		Values:  records.FormValues(rec),
	})
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		renderError(w, r, http.StatusNotFound, "Registro não encontrado.")
		return
	}
	rec, err := records.ParseRecordForm(r.PostForm)
	var verrs records.ValidationErrors
	if errors.As(err, &verrs) {
		s.renderRecordForm(w, r, http.StatusUnprocessableEntity, recordFormData{
			Action:  fmt.Sprintf("/records/%d/edit", id),
			Editing: true,
			ID:      id,
			Values:  r.PostForm,
			Errors:  verrs,
		})
		return
	}

	err = s.cfg.Records.UpdateRecord(r.Context(), id, rec)
	s.observeRecord("update_record", err)
	if err != nil {
		s.storeFailure(w, r, "update_record", err)
		return
	}
	log.LogInfoCtx(r.Context(), "records", "Record updated", map[string]any{"id": id})
	redirectWithFlash(w, r, "/records", fmt.Sprintf("RNC %d atualizada.", id))
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		renderError(w, r, http.StatusNotFound, "Registro não encontrado.")
		return
	}
	err := s.cfg.Records.SoftDeleteRecord(r.Context(), id)
	s.observeRecord("delete_record", err)
	if err != nil {
		s.storeFailure(w, r, "delete_record", err)
		return
	}
	log.LogInfoCtx(r.Context(), "records", "Record deleted", map[string]any{"id": id})
	redirectWithFlash(w, r, "/records", fmt.Sprintf("RNC %d excluída.", id))
}

func (s *Server) handleListReasons(w http.ResponseWriter, r *http.Request) {
	s.renderReasons(w, r, http.StatusOK, reasonsData{})
}

func (s *Server) renderReasons(w http.ResponseWriter, r *http.Request, status int, data reasonsData) {
	reasons, err := s.cfg.Records.ListReasons(r.Context())
	s.observeRecord("list_reasons", err)
	if err != nil {
		s.storeFailure(w, r, "list_reasons", err)
		return
	}
	data.Reasons = reasons
	s.page(w, r, status, "reasons", "Motivos", data)
}

func (s *Server) handleCreateReason(w http.ResponseWriter, r *http.Request) {
	name := r.PostFormValue("motivo")
	reason, err := s.cfg.Records.InsertReason(r.Context(), name)
	var verrs records.ValidationErrors
	if errors.As(err, &verrs) {
		s.renderReasons(w, r, http.StatusUnprocessableEntity, reasonsData{Value: name, Errors: verrs})
		return
	}
	s.observeRecord("insert_reason", err)
	if err != nil {
		s.storeFailure(w, r, "insert_reason", err)
		return
	}
	redirectWithFlash(w, r, "/reasons", fmt.Sprintf("Motivo %q adicionado.", reason.Motivo))
}

func (s *Server) handleDeleteReason(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		renderError(w, r, http.StatusNotFound, "Motivo não encontrado.")
		return
	}
	err := s.cfg.Records.SoftDeleteReason(r.Context(), id)
	s.observeRecord("delete_reason", err)
	if err != nil {
		s.storeFailure(w, r, "delete_reason", err)
		return
	}
	redirectWithFlash(w, r, "/reasons", "Motivo excluído.")
}
