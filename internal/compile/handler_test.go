package compile

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dontdude/texcompile/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/compile", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestHandler_MissingFilename(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{}, PolicyLenient)
	h := NewHandler(svc)

	for _, body := range []string{"", "{}", "not json", `{"name":"a.tex"}`, `{"filename":42}`, `{"filename":null}`} {
		rec, out := post(t, h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, map[string]any{"error": MsgMissingFilename}, out, body)
	}
}

func TestHandler_InvalidFilename(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{}, PolicyLenient)

	rec, out := post(t, NewHandler(svc), `{"filename": "../etc/passwd.tex"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "Invalid filename"}, out)
}

func TestHandler_WrongExtension(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{}, PolicyLenient)

	rec, out := post(t, NewHandler(svc), `{"filename": "report.md"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "Filename must end with .tex"}, out)
}

func TestHandler_NotFound(t *testing.T) {
	svc, dir := newTestService(t, &fakeRunner{}, PolicyLenient)

	rec, out := post(t, NewHandler(svc), `{"filename": "missing.tex"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{"error": "File not found: " + filepath.Join(dir, "missing.tex")}, out)
}

func TestHandler_Success(t *testing.T) {
	runner := &fakeRunner{pdf: "report.pdf", result: domain.RunResult{Stdout: "Output written", ExitCode: 1}}
	svc, dir := newTestService(t, runner, PolicyLenient)
	writeSource(t, dir, "report.tex")

	rec, out := post(t, NewHandler(svc), `{"filename": "report.tex", "extra": true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, map[string]any{
		"status":   "success",
		"pdf_path": filepath.Join(dir, "report.pdf"),
		"warnings": "Output written",
	}, out)
}

func TestHandler_CompilationFailureCarriesLogs(t *testing.T) {
	runner := &fakeRunner{result: domain.RunResult{Stdout: "! LaTeX Error: File `missing.sty' not found."}}
	svc, dir := newTestService(t, runner, PolicyLenient)
	writeSource(t, dir, "report.tex")

	rec, out := post(t, NewHandler(svc), `{"filename": "report.tex"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{
		"error": MsgPDFNotCreated,
		"logs":  "! LaTeX Error: File `missing.sty' not found.",
	}, out)
}

func TestHandler_CompilationFailureWithEmptyLogs(t *testing.T) {
	svc, dir := newTestService(t, &fakeRunner{}, PolicyLenient)
	writeSource(t, dir, "report.tex")

	rec, out := post(t, NewHandler(svc), `{"filename": "report.tex"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, out, "logs")
	assert.Equal(t, "", out["logs"])
}

func TestHandler_InternalErrorDoesNotLeak(t *testing.T) {
	runner := &fakeRunner{err: errors.New("fork/exec /usr/bin/xelatex: permission denied")}
	svc, dir := newTestService(t, runner, PolicyLenient)
	writeSource(t, dir, "report.tex")

	rec, out := post(t, NewHandler(svc), `{"filename": "report.tex"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"error": "An internal server error occurred"}, out)
	assert.NotContains(t, rec.Body.String(), "permission denied")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.KindValidation))
	assert.Equal(t, http.StatusNotFound, statusFor(domain.KindNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.KindCompilation))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.KindInternal))
}
