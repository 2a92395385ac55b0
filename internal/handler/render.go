package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/dukerupert/smartbin/internal/auth"
	"github.com/dukerupert/smartbin/internal/model"
	"github.com/dukerupert/smartbin/internal/points"
)

const (
	flashCookieName = "smartbin_flash"
	flashMaxAge     = 60
)

var pageNames = []string{"landing.html", "login.html", "signup.html", "scan.html"}

// Flash is a one-shot notice shown on the next rendered page.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type pageData struct {
	User              auth.AuthContext
	Flash             *Flash
	GoogleEnabled     bool
	MinPasswordLength int
	Policy            points.Policy
	Stats             *model.WasteStats
	StatsError        string
}

// Renderer executes a page inside the shared layout.
type Renderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// NewRenderer parses layout.html together with every page in fsys.
func NewRenderer(fsys fs.FS, logger *slog.Logger) (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template, len(pageNames)), logger: logger}
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(fsys, "layout.html", name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = tmpl
	}
	return r, nil
}

// render pops any pending flash into data and writes the page. Output is
// buffered so a template error still produces a clean 500.
func (rd *Renderer) render(w http.ResponseWriter, r *http.Request, name string, data pageData) {
	tmpl, ok := rd.pages[name]
	if !ok {
		rd.logger.Error("unknown template", "name", name)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}

	data.User, _ = auth.FromContext(r.Context())
	if data.Flash == nil {
		data.Flash = popFlash(w, r)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		rd.logger.Error("template error", "name", name, "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func setFlash(w http.ResponseWriter, kind, message string) {
	b, err := json.Marshal(Flash{Kind: kind, Message: message})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(b),
		Path:     "/",
		MaxAge:   flashMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash reads the pending flash, if any, and clears it.
func popFlash(w http.ResponseWriter, r *http.Request) *Flash {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	b, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var f Flash
	if err := json.Unmarshal(b, &f); err != nil || f.Message == "" {
		return nil
	}
	return &f
}

func redirectWithFlash(w http.ResponseWriter, r *http.Request, url, kind, message string) {
	setFlash(w, kind, message)
	http.Redirect(w, r, url, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
