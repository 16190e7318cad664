// Package api provides HTTP API handlers for mindwatch analysis runs.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ayusman/mindwatch/internal/app"
	"github.com/ayusman/mindwatch/internal/report"
	"github.com/ayusman/mindwatch/internal/store"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// AnalysesHandler handles HTTP requests for analysis runs.
type AnalysesHandler struct {
	app       *app.App
	uploadDir string
	maxBytes  int64
}

// NewAnalysesHandler creates a handler that stores uploads in uploadDir and
// rejects bodies larger than maxBytes.
func NewAnalysesHandler(a *app.App, uploadDir string, maxBytes int64) *AnalysesHandler {
	return &AnalysesHandler{app: a, uploadDir: uploadDir, maxBytes: maxBytes}
}

// ServeHTTP routes requests to the collection, item and sub-resource methods.
// Expected paths: /api/analyses, /api/analyses/{id} and
// /api/analyses/{id}/{analytics|annotated|chart|cancel}.
func (h *AnalysesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/analyses")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	method := http.MethodGet
	if parts[1] == "cancel" {
		method = http.MethodPost
	}
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "analytics":
		h.analytics(w, r, id)
	case "annotated":
		h.annotated(w, r, id)
	case "chart":
		h.chart(w, r, id)
	case "cancel":
		h.cancel(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type listAnalysesResponse struct {
	Analyses []*store.Run `json:"analyses"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeRunError maps app and store errors onto status codes.
func writeRunError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Analysis not found")
	case errors.Is(err, app.ErrNotReady):
		writeError(w, http.StatusConflict, "Analysis has not completed")
	case errors.Is(err, app.ErrRunActive):
		writeError(w, http.StatusConflict, "Analysis is still processing")
	default:
		log.Printf("[api] %s: %v", action, err)
		writeError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

// list handles GET /api/analyses?limit=n.
func (h *AnalysesHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.app.List(limit)
	if err != nil {
		writeRunError(w, err, "list analyses")
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, listAnalysesResponse{Analyses: runs})
}

// create handles POST /api/analyses with a multipart "file" field. The run
// is analyzed in the background; the response carries its id.
func (h *AnalysesHandler) create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	if _, err := app.KindFor(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, "Unsupported file type")
		return
	}

	id := uuid.New().String()
	dst := filepath.Join(h.uploadDir, id+strings.ToLower(filepath.Ext(header.Filename)))
	if err := saveUpload(dst, file); err != nil {
		log.Printf("[api] save upload: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to save upload")
		return
	}

	run, err := h.app.Submit(id, header.Filename, dst)
	if err != nil {
		os.Remove(dst)
		writeRunError(w, err, "start analysis")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func saveUpload(dst string, src io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// get handles GET /api/analyses/{id}.
func (h *AnalysesHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.app.Get(id)
	if err != nil {
		writeRunError(w, err, "get analysis")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// delete handles DELETE /api/analyses/{id}.
func (h *AnalysesHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.app.Delete(id); err != nil {
		writeRunError(w, err, "delete analysis")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cancel handles POST /api/analyses/{id}/cancel.
func (h *AnalysesHandler) cancel(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.app.Cancel(id); err != nil {
		writeRunError(w, err, "cancel analysis")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// analytics handles GET /api/analyses/{id}/analytics.
func (h *AnalysesHandler) analytics(w http.ResponseWriter, r *http.Request, id string) {
	a, err := h.app.Analytics(id)
	if err != nil {
		writeRunError(w, err, "build analytics")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// annotated handles GET /api/analyses/{id}/annotated and serves the
// annotated image or video as a download.
func (h *AnalysesHandler) annotated(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.app.Get(id)
	if err != nil {
		writeRunError(w, err, "get analysis")
		return
	}
	if run.AnnotatedPath == "" {
		writeError(w, http.StatusNotFound, "No annotated output")
		return
	}
	if _, err := os.Stat(run.AnnotatedPath); err != nil {
		writeError(w, http.StatusNotFound, "Annotated output expired")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(run.AnnotatedPath)+`"`)
	http.ServeFile(w, r, run.AnnotatedPath)
}

// chart handles GET /api/analyses/{id}/chart?type=activity|engagement.
func (h *AnalysesHandler) chart(w http.ResponseWriter, r *http.Request, id string) {
	a, err := h.app.Analytics(id)
	if err != nil {
		writeRunError(w, err, "build analytics")
		return
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, a, r.URL.Query().Get("type")); err != nil {
		switch {
		case errors.Is(err, report.ErrUnknownChart):
			writeError(w, http.StatusBadRequest, "Unknown chart type")
		case errors.Is(err, report.ErrNoData):
			writeError(w, http.StatusNotFound, "No data to chart")
		default:
			log.Printf("[api] render chart: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to render chart")
		}
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
