package server

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/objstore"
	"github.com/dellavolpe/rnc-front/internal/records"
)

const attachmentField = "arquivo"

// storageFailure logs err and renders the page matching its variant.
func (s *Server) storageFailure(w http.ResponseWriter, r *http.Request, err error) {
	log.LogErrorCtx(r.Context(), "objstore", "Storage operation failed", map[string]any{
		"error": err.Error(),
	})
	var (
		connErr *objstore.ConnectionError
		cfgErr  *objstore.ConfigError
	)
	switch {
	case errors.Is(err, objstore.ErrNotFound):
		renderError(w, r, http.StatusNotFound, "Anexo não encontrado.")
	case errors.As(err, &connErr):
		renderError(w, r, http.StatusServiceUnavailable, "Armazenamento de arquivos indisponível.")
	case errors.As(err, &cfgErr):
		renderError(w, r, http.StatusInternalServerError, "Armazenamento de arquivos mal configurado.")
	default:
		renderError(w, r, http.StatusBadGateway, "Falha ao acessar o armazenamento de arquivos.")
	}
}

// liveRecord loads the record the attachment routes point at.
func (s *Server) liveRecord(w http.ResponseWriter, r *http.Request) (*records.Record, bool) {
	id, ok := recordID(r)
	if !ok {
		renderError(w, r, http.StatusNotFound, "Registro não encontrado.")
		return nil, false
	}
	rec, err := s.cfg.Records.GetRecord(r.Context(), id)
	s.observeRecord("get_record", err)
	if err != nil {
		s.storeFailure(w, r, "get_record", err)
		return nil, false
	}
	return rec, true
}

// attachments lists the record's objects. A bucket that does not exist yet
// holds no attachments.
func (s *Server) attachments(r *http.Request, id int64) ([]string, error) {
	names, err := s.cfg.Attachments.ListAttachments(r.Context(), s.cfg.AttachmentsBucket, strconv.FormatInt(id, 10))
	if errors.Is(err, objstore.ErrNotFound) {
		return nil, nil
	}
	return names, err
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.liveRecord(w, r)
	if !ok {
		return
	}
	names, err := s.attachments(r, rec.ID)
	if err != nil {
		s.storageFailure(w, r, err)
		return
	}
	s.page(w, r, http.StatusOK, "attachments", fmt.Sprintf("Anexos da RNC %d", rec.ID), attachmentsData{
		Record: rec,
		Names:  names,
	})
}

// nextAttachmentIndex returns one past the highest n among names of the
// form <id>_<n>.<ext>.
func nextAttachmentIndex(id int64, names []string) int {
	prefix := strconv.FormatInt(id, 10) + "_"
	next := 1
	for _, name := range names {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		rest = strings.TrimSuffix(rest, path.Ext(rest))
		if n, err := strconv.Atoi(rest); err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

// attachmentName builds <id>_<n><ext> from the uploaded file name.
func attachmentName(id int64, n int, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " /?#%") {
		ext = ""
	}
	return fmt.Sprintf("%d_%d%s", id, n, ext)
}

func (s *Server) handleUploadAttachments(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.liveRecord(w, r)
	if !ok {
		return
	}
	var files []*multipart.FileHeader
	if r.MultipartForm != nil {
		files = r.MultipartForm.File[attachmentField]
	}
	if len(files) == 0 {
		redirectWithFlash(w, r, fmt.Sprintf("/records/%d/attachments", rec.ID), "Selecione ao menos um arquivo.")
		return
	}

	existing, err := s.attachments(r, rec.ID)
	if err != nil {
		s.storageFailure(w, r, err)
		return
	}
	n := nextAttachmentIndex(rec.ID, existing)

	uploaded := 0
	for _, fh := range files {
		name := attachmentName(rec.ID, n, fh.Filename)
		if err := s.uploadOne(r, fh, name); err != nil {
			s.storageFailure(w, r, err)
			return
		}
		n++
		uploaded++
	}
	log.LogInfoCtx(r.Context(), "objstore", "Attachments uploaded", map[string]any{
		"record": rec.ID,
		"count":  uploaded,
	})
	redirectWithFlash(w, r, fmt.Sprintf("/records/%d/attachments", rec.ID), fmt.Sprintf("%d arquivo(s) enviado(s).", uploaded))
}

func (s *Server) uploadOne(r *http.Request, fh *multipart.FileHeader, name string) error {
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("opening upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	_, err = s.cfg.Attachments.UploadReader(r.Context(), f, fh.Size, name, s.cfg.AttachmentsBucket, attachmentContentType(name))
	return err
}

// scriptableTypes render as active documents when a presigned link is
// opened in the browser.
var scriptableTypes = map[string]bool{
	"text/html":              true,
	"application/xhtml+xml":  true,
	"image/svg+xml":          true,
	"text/javascript":        true,
	"application/javascript": true,
	"text/xml":               true,
	"application/xml":        true,
}

// attachmentContentType derives the stored type from the object name only;
// the type the browser declared for the part is ignored.
func attachmentContentType(name string) string {
	ct := objstore.ContentTypeFor(name)
	media, _, err := mime.ParseMediaType(ct)
	if err != nil || scriptableTypes[media] {
		return "application/octet-stream"
	}
	return ct
}

// handleDownloadAttachment redirects to a short lived presigned URL.
func (s *Server) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.liveRecord(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if !strings.HasPrefix(name, strconv.FormatInt(rec.ID, 10)+"_") || strings.Contains(name, "/") {
		renderError(w, r, http.StatusNotFound, "Anexo não encontrado.")
		return
	}

	if _, err := s.cfg.Attachments.Stat(r.Context(), s.cfg.AttachmentsBucket, name); err != nil {
		s.storageFailure(w, r, err)
		return
	}
	u, err := s.cfg.Attachments.Presign(r.Context(), s.cfg.AttachmentsBucket, name, objstore.PresignDownload, s.cfg.PresignExpiryHours)
	if err != nil {
		s.storageFailure(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}
