package server

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"net/url"

	"github.com/dellavolpe/rnc-front/internal/idp"
	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/records"
	"github.com/dellavolpe/rnc-front/internal/session"
	"github.com/dellavolpe/rnc-front/internal/usercontext"
)

// AppName is shown in every page header.
const AppName = "Registro de RNC"

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"formatValor": records.FormatValor,
	"formatDate":  records.FormatDate,
}

var pageTemplates = parsePages("login", "denied", "error", "records", "record_form", "reasons", "attachments")

func parsePages(names ...string) map[string]*template.Template {
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		pages[name] = template.Must(template.New("layout.html").Funcs(templateFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
	return pages
}

// Page is the data every template receives.
type Page struct {
	AppName   string
	Title     string
	User      *idp.UserInfo
	CSRFToken string
	Flash     string
	Content   any
}

type loginData struct {
	Message  string
	Restart  bool
	LoginURL string
}

type deniedData struct {
	Domain string
}

type errorData struct {
	Status  int
	Message string
}

type recordsData struct {
	Query   string
	Records []*records.Record
}

type recordFormData struct {
	Action      string
	Editing     bool
	ID          int64
	Values      url.Values
	Errors      records.ValidationErrors
	Reasons     []*records.Reason
	Companies   []string
	Branches    []string
	BranchError string
}

type reasonsData struct {
	Reasons []*records.Reason
	Value   string
	Errors  records.ValidationErrors
}

type attachmentsData struct {
	Record *records.Record
	Names  []string
}

// renderPage executes the named page into a buffer first so a template
// failure never leaves a half-written response.
func renderPage(w http.ResponseWriter, r *http.Request, status int, name string, page Page) {
	tmpl, ok := pageTemplates[name]
	if !ok {
		log.LogErrorCtx(r.Context(), "render", "Unknown page", map[string]any{"page": name})
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	page.AppName = AppName
	if page.User == nil {
		page.User = usercontext.User(r.Context())
	}
	if page.Flash == "" {
		if sess, ok := session.FromContext(r.Context()); ok {
			page.Flash = sess.TakeFlash()
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, page); err != nil {
		log.LogErrorCtx(r.Context(), "render", "Failed to render page", map[string]any{
			"page":  name,
			"error": err.Error(),
		})
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	renderPage(w, r, status, "error", Page{
		Title:   "Erro",
		Content: errorData{Status: status, Message: message},
	})
}
