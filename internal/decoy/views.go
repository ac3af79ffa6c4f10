package decoy

import (
	"bytes"
	"embed"
	"html/template"
	"strings"

	"github.com/PPraveen007/Decoy/internal/capture"
)

//go:embed templates/*.html
var templateFS embed.FS

var views = template.Must(
	template.New("decoy").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFS, "templates/*.html"),
)

// LoginView is the data for the admin login page.
type LoginView struct {
	Error string
}

// LogsView is the data for the recent-interactions page.
type LogsView struct {
	Records []capture.Record
	Error   string
}

// RenderLogin renders the admin login form, with an error banner when set.
func RenderLogin(v LoginView) ([]byte, error) {
	return render("login.html", v)
}

func RenderHomepage() ([]byte, error) {
	return render("homepage.html", nil)
}

func RenderPhpMyAdmin() ([]byte, error) {
	return render("phpmyadmin.html", nil)
}

func RenderWordPress() ([]byte, error) {
	return render("wordpress.html", nil)
}

// RenderLogs renders records as an HTML table. Every field is escaped.
func RenderLogs(v LogsView) ([]byte, error) {
	return render("logs.html", v)
}

func render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := views.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
