package decoy

import (
	"context"
	"net/http"
	"slices"

	"github.com/PPraveen007/Decoy/internal/capture"
)

// RecentLister feeds the logs view.
type RecentLister interface {
	QueryRecent(ctx context.Context, limit int) ([]capture.Record, error)
}

// Route describes one decoy endpoint. A route with no Paths is the catch-all.
type Route struct {
	Name    string
	Paths   []string
	Methods []string
	Kind    capture.Kind
	// Credentials names the fields handed to the credential sink.
	Credentials []string
	Respond     func(ctx context.Context, rec capture.Record) Response
}

// CollectsCredentials reports whether the route feeds the credential sink.
func (rt *Route) CollectsCredentials() bool {
	return len(rt.Credentials) > 0
}

func (rt *Route) allows(method string) bool {
	if slices.Contains(rt.Methods, method) {
		return true
	}
	return method == http.MethodHead && slices.Contains(rt.Methods, http.MethodGet)
}

// RouteTable is the fixed, ordered set of decoy routes.
type RouteTable struct {
	routes   []*Route
	catchAll *Route
}

// NewRouteTable builds the table. logs may be nil, in which case the logs view
// renders an empty table.
func NewRouteTable(logs RecentLister, logsLimit int) *RouteTable {
	if logsLimit <= 0 {
		logsLimit = 100
	}
	get := []string{http.MethodGet}
	post := []string{http.MethodPost}

	routes := []*Route{
		{
			Name: "homepage", Paths: []string{"/"}, Methods: get, Kind: capture.KindHomepage,
			Respond: staticHTML(RenderHomepage),
		},
		{
			Name: "admin", Paths: []string{"/admin"}, Methods: get, Kind: capture.KindAdminAccess,
			Respond: func(context.Context, capture.Record) Response {
				return renderResponse(http.StatusOK, func() ([]byte, error) { return RenderLogin(LoginView{}) })
			},
		},
		{
			Name: "admin-login", Paths: []string{"/admin"}, Methods: post, Kind: capture.KindAdminLogin,
			Credentials: []string{"username", "password"},
			Respond: func(context.Context, capture.Record) Response {
				return renderResponse(http.StatusOK, func() ([]byte, error) {
					return RenderLogin(LoginView{Error: "Invalid credentials"})
				})
			},
		},
		{
			Name: "phpmyadmin", Paths: []string{"/phpmyadmin", "/pma"}, Methods: get, Kind: capture.KindPhpMyAdmin,
			Respond: staticHTML(RenderPhpMyAdmin),
		},
		{
			Name: "phpmyadmin-login", Paths: []string{"/phpmyadmin/login"}, Methods: post, Kind: capture.KindPhpMyAdminLogin,
			Credentials: []string{"pma_username", "pma_password"},
			Respond: fixed(htmlResponse(http.StatusForbidden, []byte("Access denied"))),
		},
		{
			Name: "wordpress", Paths: []string{"/wp-admin", "/wordpress/wp-admin"}, Methods: get, Kind: capture.KindWordPress,
			Respond: staticHTML(RenderWordPress),
		},
		{
			Name: "wordpress-login", Paths: []string{"/wp-admin/login"}, Methods: post, Kind: capture.KindWordPressLogin,
			Credentials: []string{"log", "pwd"},
			Respond: fixed(htmlResponse(http.StatusUnauthorized, []byte("Login failed"))),
		},
		{
			Name: "api-login", Paths: []string{"/api/login"}, Methods: post, Kind: capture.KindAPILogin,
			Credentials: []string{"username", "password"},
			Respond: fixed(jsonResponse(http.StatusUnauthorized, map[string]string{"error": "Authentication failed"})),
		},
		{
			Name: "api-users", Paths: []string{"/api/users"}, Methods: get, Kind: capture.KindAPIUsers,
			Respond: fixed(jsonResponse(http.StatusOK, fakeUsers)),
		},
		{
			Name: "ssh", Paths: []string{"/ssh"}, Methods: post, Kind: capture.KindSSH,
			Respond: fixed(textResponse(http.StatusOK, "SSH-2.0-OpenSSH_7.4\n")),
		},
		{
			Name:    "sensitive-file",
			Paths:   []string{"/.env", "/config.php", "/wp-config.php", "/.git/config"},
			Methods: get,
			Kind:    capture.KindSensitiveFile,
			Respond: fixed(htmlResponse(http.StatusNotFound, []byte("File not found"))),
		},
		{
			Name: "honeypot-logs", Paths: []string{"/honeypot/admin/logs"}, Methods: get, Kind: capture.KindHoneypotAdmin,
			Respond: logsResponder(logs, logsLimit),
		},
	}

	catchAll := &Route{
		Name: "catch-all",
		Kind: capture.KindUnknownPath,
		// The echoed path is attacker-controlled and must not be served as HTML.
		Respond: func(_ context.Context, rec capture.Record) Response {
			return textResponse(http.StatusNotFound, "Path "+rec.Path+" not found")
		},
	}

	return &RouteTable{routes: routes, catchAll: catchAll}
}

// Match returns the route for method and path: the first known route whose
// path and method both match, otherwise the catch-all. It never returns nil.
func (t *RouteTable) Match(method, path string) *Route {
	for _, rt := range t.routes {
		if slices.Contains(rt.Paths, path) && rt.allows(method) {
			return rt
		}
	}
	return t.catchAll
}

// Routes lists the known routes in evaluation order, catch-all last.
func (t *RouteTable) Routes() []*Route {
	return append(slices.Clone(t.routes), t.catchAll)
}

var fakeUsers = map[string]any{
	"users": []map[string]any{
		{"id": 1, "username": "admin", "role": "administrator"},
		{"id": 2, "username": "user", "role": "user"},
	},
}

func fixed(resp Response) func(context.Context, capture.Record) Response {
	return func(context.Context, capture.Record) Response { return resp }
}

func staticHTML(render func() ([]byte, error)) func(context.Context, capture.Record) Response {
	return func(context.Context, capture.Record) Response {
		return renderResponse(http.StatusOK, render)
	}
}

func renderResponse(status int, render func() ([]byte, error)) Response {
	body, err := render()
	if err != nil {
		return textResponse(http.StatusInternalServerError, internalText)
	}
	return htmlResponse(status, body)
}

func logsResponder(logs RecentLister, limit int) func(context.Context, capture.Record) Response {
	return func(ctx context.Context, _ capture.Record) Response {
		view := LogsView{}
		status := http.StatusOK
		if logs != nil {
			records, err := logs.QueryRecent(ctx, limit)
			if err != nil {
				view.Error = "Log store unavailable"
				status = http.StatusInternalServerError
			}
			view.Records = records
		}
		return renderResponse(status, func() ([]byte, error) { return RenderLogs(view) })
	}
}
