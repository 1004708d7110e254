package api

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>splitbot</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 3em auto; padding: 0 1em; }
textarea { width: 100%; height: 18em; font-family: monospace; font-size: 0.9em; }
.error { color: #b00; }
button { padding: 0.5em 1.5em; }
</style>
</head>
<body>
<h1>splitbot</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if .Message}}<p>{{.Message}}</p>{{end}}
{{if .ShowForm}}
<p>Edit the receipt below and submit. Only the fields you change matter.</p>
<form method="POST" action="/correct">
<input type="hidden" name="token" value="{{.Token}}">
<textarea name="payload">{{.Payload}}</textarea>
<p><button type="submit">Save</button></p>
</form>
{{end}}
</body>
</html>`))

type pageData struct {
	Message  string
	Error    string
	ShowForm bool
	Token    string
	Payload  string
}

func (a *API) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		a.log.Error("rendering page", zap.Error(err))
	}
}

// handleCallback finishes the OAuth flow. The user's identity comes back
// in the signed state parameter; the exchanged token is handed to their
// chat session.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	userID, err := a.verifyToken(state, purposeState)
	if err != nil {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		a.log.Error("oauth exchange failed", zap.String("user_id", userID), zap.Error(err))
		a.renderPage(w, http.StatusBadGateway, pageData{
			Error: "Connecting your account failed. Go back to the chat and try /login again.",
		})
		return
	}

	a.sessions.DeliverAuth(r.Context(), userID, token)
	a.renderPage(w, http.StatusOK, pageData{
		Message: "Connected! You can close this tab and go back to the chat.",
	})
}

func (a *API) handleCorrectionForm(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	userID, err := a.verifyToken(tokenString, purposeCorrection)
	if err != nil {
		http.Error(w, "invalid token", http.StatusBadRequest)
		return
	}

	candidate, err := a.sessions.CandidateJSON(userID)
	if err != nil {
		a.renderPage(w, http.StatusNotFound, pageData{
			Message: "There's no receipt waiting for corrections. Go back to the chat.",
		})
		return
	}

	a.renderPage(w, http.StatusOK, pageData{
		ShowForm: true,
		Token:    tokenString,
		Payload:  string(candidate),
	})
}

func (a *API) handleCorrectionSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	tokenString := r.PostFormValue("token")
	userID, err := a.verifyToken(tokenString, purposeCorrection)
	if err != nil {
		http.Error(w, "invalid token", http.StatusBadRequest)
		return
	}

	payload := r.PostFormValue("payload")
	if err := a.sessions.HandleCorrection(userID, []byte(payload)); err != nil {
		// Validation failures come back to the form so the user can retry.
		a.renderPage(w, http.StatusUnprocessableEntity, pageData{
			Error:    err.Error(),
			ShowForm: true,
			Token:    tokenString,
			Payload:  payload,
		})
		return
	}

	a.renderPage(w, http.StatusOK, pageData{
		Message: "Saved. Go back to the chat to confirm the updated receipt.",
	})
}
