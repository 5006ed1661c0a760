package compile

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dontdude/texcompile/internal/domain"
	"github.com/dontdude/texcompile/internal/platform/web"
	"github.com/google/uuid"
)

// maxBodyBytes bounds the request body; a filename never needs more.
const maxBodyBytes = 64 << 10

type successResponse struct {
	Status   string `json:"status"`
	PDFPath  string `json:"pdf_path"`
	Warnings string `json:"warnings"`
}

type errorResponse struct {
	Error string  `json:"error"`
	Logs  *string `json:"logs,omitempty"`
}

// NewHandler returns the POST /compile handler.
func NewHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := domain.CompileRequest{ID: uuid.New().String()}
		w.Header().Set("X-Request-ID", req.ID)

		// An empty or non-JSON body leaves Filename nil, which the service reports as missing.
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			slog.Debug("Undecodable compile request", "requestID", req.ID, "error", err)
			req.Filename = nil
		}

		res, err := svc.Compile(r.Context(), req)
		if err != nil {
			writeCompileError(w, err)
			return
		}

		web.WriteJSON(w, http.StatusOK, successResponse{
			Status:   "success",
			PDFPath:  res.PDFPath,
			Warnings: res.Warnings,
		})
	}
}

func writeCompileError(w http.ResponseWriter, err error) {
	var cerr *domain.CompileError
	if !errors.As(err, &cerr) {
		slog.Error("Unclassified compile error", "error", err)
		cerr = domain.NewInternalError(err)
	}

	web.WriteJSON(w, statusFor(cerr.Kind), errorResponse{Error: cerr.Message, Logs: cerr.Logs})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
