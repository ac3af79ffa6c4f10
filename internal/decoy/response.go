package decoy

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	contentHTML  = "text/html; charset=utf-8"
	contentText  = "text/plain; charset=utf-8"
	contentJSON  = "application/json"
	internalText = "Internal Server Error"
)

// Response is what a decoy route sends back. It never depends on whether the
// interaction was persisted.
type Response struct {
	StatusCode  int
	Headers     map[string]string
	Body        []byte
	ContentType string
}

func htmlResponse(status int, body []byte) Response {
	return Response{StatusCode: status, Body: body, ContentType: contentHTML}
}

func textResponse(status int, body string) Response {
	return Response{StatusCode: status, Body: []byte(body), ContentType: contentText}
}

func jsonResponse(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return textResponse(http.StatusInternalServerError, internalText)
	}
	return Response{StatusCode: status, Body: body, ContentType: contentJSON}
}

// Write sends resp. serverHeader, when set, replaces the Server header.
func (resp Response) Write(w http.ResponseWriter, serverHeader string) {
	h := w.Header()
	if serverHeader != "" {
		h.Set("Server", serverHeader)
	}
	for k, v := range resp.Headers {
		h.Set(k, v)
	}
	if resp.ContentType != "" {
		h.Set("Content-Type", resp.ContentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}
