package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/dukerupert/chandlery/internal/middleware"
)

var tokenPageTmpl = template.Must(template.New("token").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<form method="post" action="{{.Action}}">
{{- if .Decline}}
<p><label for="reason">Reason (optional)</label><br>
<textarea id="reason" name="reason" rows="4" cols="50"></textarea></p>
{{- end}}
<button type="submit">{{.Button}}</button>
</form>
</body>
</html>
`))

type tokenPageData struct {
	Title   string
	Action  string
	Button  string
	Decline bool
}

// TokenPage handles GET on an emailed confirm or decline link. It renders
// a form that posts back to the same path; only the POST uses the token.
func TokenPage(w http.ResponseWriter, r *http.Request) {
	subject := "order"
	if strings.Contains(r.URL.Path, "/bookings/") {
		subject = "booking"
	}
	data := tokenPageData{
		Title:  "Confirm " + subject,
		Action: r.URL.Path,
		Button: "Confirm",
	}
	if strings.HasSuffix(r.URL.Path, "/decline") {
		data.Title = "Decline " + subject
		data.Button = "Decline"
		data.Decline = true
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	if err := tokenPageTmpl.Execute(w, data); err != nil {
		middleware.GetLogger(r.Context()).Error("token page render failed", "error", err)
	}
}
