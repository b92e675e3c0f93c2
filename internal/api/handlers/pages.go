package handlers

import (
	"html/template"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/api/middleware"
	"github.com/rjlee/actual-landg-pension/internal/login"
)

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>Sign in</title></head>
<body>
<h1>actual-landg-pension</h1>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<form method="post" action="/login">
<label>Password <input type="password" name="password" autofocus required></label>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

var indexPage = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>actual-landg-pension</title></head>
<body>
<h1>actual-landg-pension</h1>
<p>Legal &amp; General session: <strong>{{.Session.Status}}</strong>{{with .Balance}} (£{{.}}){{end}}</p>
{{if .Session.Error}}<p role="alert">{{.Session.Error}}</p>{{end}}
<p>Budget ready: {{.Ready}}</p>
<ul>
<li><a href="/api/data">Mapping and accounts</a></li>
<li><a href="/api/landg/status">Login status</a></li>
<li><a href="/api/jobs">Jobs</a></li>
</ul>
{{if .ShowLogout}}<form method="post" action="/logout"><button type="submit">Log out</button></form>{{end}}
</body>
</html>
`))

// PagesHandler serves the HTML pages: the landing page and the session
// login form.
type PagesHandler struct {
	sessions *middleware.Sessions
	coord    *login.Coordinator
	ready    func() bool
	log      zerolog.Logger
}

// NewPagesHandler creates a new pages handler. sessions may be nil when UI
// authentication is disabled.
func NewPagesHandler(sessions *middleware.Sessions, coord *login.Coordinator, ready func() bool, log zerolog.Logger) *PagesHandler {
	if ready == nil {
		ready = func() bool { return false }
	}
	return &PagesHandler{
		sessions: sessions,
		coord:    coord,
		ready:    ready,
		log:      log,
	}
}

// Index handles GET /
func (h *PagesHandler) Index(w http.ResponseWriter, r *http.Request) {
	session := h.coord.Status()
	data := struct {
		Session    login.Session
		Balance    string
		Ready      bool
		ShowLogout bool
	}{
		Session:    session,
		Ready:      h.ready(),
		ShowLogout: h.sessions != nil && h.sessions.Valid(r),
	}
	if session.Value != nil {
		data.Balance = strconv.FormatFloat(*session.Value, 'f', 2, 64)
	}
	h.render(w, http.StatusOK, indexPage, data)
}

// LoginForm handles GET /login
func (h *PagesHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil || h.sessions.Valid(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.render(w, http.StatusOK, loginPage, struct{ Error string }{})
}

// Login handles POST /login
func (h *PagesHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, loginPage, struct{ Error string }{"Invalid form"})
		return
	}

	if !h.sessions.CheckPassword(r.PostFormValue("password")) {
		h.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("UI login rejected")
		h.render(w, http.StatusUnauthorized, loginPage, struct{ Error string }{"Invalid password"})
		return
	}

	h.sessions.Issue(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout handles POST /logout
func (h *PagesHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		h.sessions.Revoke(w, r)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *PagesHandler) render(w http.ResponseWriter, status int, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.Execute(w, data); err != nil {
		h.log.Error().Err(err).Str("template", t.Name()).Msg("Failed to render page")
	}
}
