package handler

import (
	"net/http"
	"strconv"

	"github.com/theroutercompany/problemdetails/pkg/problem"
)

// Response is a rendered problem response that post-hooks may mutate before
// it is written.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse renders content into a response with the given headers.
func NewResponse(status int, content *problem.Document, header http.Header) (*Response, error) {
	if header == nil {
		header = make(http.Header)
	}
	resp := &Response{StatusCode: status, Header: header}
	if err := resp.SetContent(content); err != nil {
		return resp, err
	}
	return resp, nil
}

// SetContent re-renders the body from content and keeps Content-Length in step.
func (r *Response) SetContent(content *problem.Document) error {
	body, err := content.Bytes()
	if err != nil {
		return err
	}
	r.SetBody(body)
	return nil
}

// SetBody replaces the body and updates Content-Length.
func (r *Response) SetBody(body []byte) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Body = body
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

// Write copies headers, status and body to w.
func (r *Response) Write(w http.ResponseWriter) error {
	dst := w.Header()
	for k, values := range r.Header {
		dst[k] = append([]string(nil), values...)
	}
	status := r.StatusCode
	if !problem.ValidStatus(status) {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	_, err := w.Write(r.Body)
	return err
}
