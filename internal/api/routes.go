// Package api provides HTTP handlers for the CARTAR server.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"

	"github.com/cartar/server/internal/compare"
	"github.com/cartar/server/internal/exprstore"
	"github.com/cartar/server/internal/render"
	"github.com/cartar/server/internal/screenstore"
	"github.com/cartar/server/internal/service"
	"github.com/cartar/server/internal/table"
)

const (
	defaultGeneLimit = 50
	maxGeneLimit     = 1000
	maxScreenGenes   = 20000
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var errMissingParam = errors.New("missing parameter")

// RouterConfig contains router configuration.
type RouterConfig struct {
	Services         *Services
	CORSOrigins      []string
	JobManager       *JobManager
	CompressionLevel int
	DefaultPlot      render.PlotKind
	// CacheStats reports cache usage on /api/stats when set.
	CacheStats func() map[string]interface{}
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.CompressionLevel <= 0 {
		cfg.CompressionLevel = 5
	}
	if cfg.DefaultPlot == "" {
		cfg.DefaultPlot = render.PlotBox
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	compressor := middleware.NewCompressor(cfg.CompressionLevel,
		"application/json", "text/html", "text/plain", "text/csv", "text/markdown")
	compressor.SetEncoder("gzip", func(w io.Writer, level int) io.Writer {
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil
		}
		return gw
	})
	r.Use(compressor.Handler)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	svcs := cfg.Services
	r.Route("/api", func(r chi.Router) {
		r.Get("/info", infoHandler(svcs))
		r.Get("/help", helpHandler)
		r.Get("/tumors", tumorsHandler(svcs))
		r.Get("/genes", genesHandler(svcs))
		r.Get("/presets", presetsHandler(svcs))
		if cfg.CacheStats != nil {
			r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, cfg.CacheStats())
			})
		}

		r.Route("/compare/{preset}", func(r chi.Router) {
			r.Get("/", compareHandler(svcs))
			r.Get("/plot.png", comparePlotHandler(svcs, cfg.DefaultPlot))
			r.Get("/table.csv", compareTableCSVHandler(svcs))
			r.Get("/table.xlsx", compareTableXLSXHandler(svcs))
		})

		r.Get("/correlation", correlationHandler(svcs))
		r.Get("/correlation/plot.png", correlationPlotHandler(svcs))
		r.Get("/correlation/table.csv", correlationTableHandler(svcs))

		r.Get("/cell-lines", cellLinesHandler(svcs))
		r.Get("/cell-lines/plot.png", cellLinesPlotHandler(svcs))
		r.Get("/cell-lines/table.csv", cellLinesTableHandler(svcs))

		r.Route("/screen/jobs", func(r chi.Router) {
			r.Post("/", screenJobSubmitHandler(cfg.JobManager, svcs))
			r.Get("/", screenJobListHandler(cfg.JobManager))
			r.Get("/{job_id}", screenJobStatusHandler(cfg.JobManager))
			r.Get("/{job_id}/result", screenJobResultHandler(cfg.JobManager))
			r.Delete("/{job_id}", screenJobDeleteHandler(cfg.JobManager))
		})
	})

	return r
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes an already encoded body.
func writeRawJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var noCells *service.NoCellLinesError
	switch {
	case errors.Is(err, exprstore.ErrGeneNotFound),
		errors.Is(err, exprstore.ErrNotMembrane),
		errors.Is(err, exprstore.ErrTumorNotFound),
		errors.Is(err, service.ErrUnknownPreset),
		errors.As(err, &noCells):
		return http.StatusNotFound
	case errors.Is(err, compare.ErrInvalidScale),
		errors.Is(err, render.ErrInvalidPlot),
		errors.Is(err, service.ErrInvalidThreshold),
		errors.Is(err, service.ErrInvalidDirection),
		errors.Is(err, service.ErrTumorRequired),
		errors.Is(err, errMissingParam):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoComparablePairs),
		errors.Is(err, service.ErrNoPairedSamples):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exprstore.ErrUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// writeError writes {"error": ...} with the mapped status. Empty cell line selections also
// carry the observed expression range.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithField("path", r.URL.Path).WithError(err).Error("[API] request failed")
	}

	body := map[string]interface{}{"error": err.Error()}
	var noCells *service.NoCellLinesError
	if errors.As(err, &noCells) {
		body["min"] = noCells.Min
		body["max"] = noCells.Max
	}
	writeJSON(w, status, body)
}

func requireParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", fmt.Errorf("%w: %s", errMissingParam, name)
	}
	return v, nil
}

// parseScale reads the scale parameter; TPM when absent.
func parseScale(r *http.Request) (compare.Scale, error) {
	v := r.URL.Query().Get("scale")
	if strings.TrimSpace(v) == "" {
		return compare.ScaleTPM, nil
	}
	return compare.ParseScale(v)
}

// parseList accepts repeated parameters and comma separated values.
func parseList(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func infoHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"title":   svcs.Title(),
			"presets": svcs.Comparison.Presets().List(),
		})
	}
}

func presetsHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"presets": svcs.Comparison.Presets().List(),
		})
	}
}

func tumorsHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := svcs.Store.Tumors(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tumors": tumorInfos(ids),
		})
	}
}

func genesHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultGeneLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxGeneLimit)
		}
		prefix := r.URL.Query().Get("prefix")
		genes, err := svcs.Store.Genes(r.Context(), prefix, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"prefix": exprstore.NormalizeGene(prefix),
			"genes":  genes,
		})
	}
}

func comparisonRequest(r *http.Request) (service.ComparisonRequest, error) {
	gene, err := requireParam(r, "gene")
	if err != nil {
		return service.ComparisonRequest{}, err
	}
	scale, err := parseScale(r)
	if err != nil {
		return service.ComparisonRequest{}, err
	}
	return service.ComparisonRequest{
		Preset: chi.URLParam(r, "preset"),
		Gene:   gene,
		Tumor:  r.URL.Query().Get("tumor"),
		Scale:  scale,
	}, nil
}

func compareHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := comparisonRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := svcs.Comparison.CompareJSON(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeRawJSON(w, data)
	}
}

func comparePlotHandler(svcs *Services, defaultPlot render.PlotKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := comparisonRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		kind := defaultPlot
		if v := r.URL.Query().Get("plot"); v != "" {
			if kind, err = render.ParsePlotKind(v); err != nil {
				writeError(w, r, err)
				return
			}
		}
		data, err := svcs.Comparison.Plot(r.Context(), req, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePNG(w, data)
	}
}

func compareTableCSVHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := comparisonRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		rows, err := svcs.Comparison.Table(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := table.WriteCSV(&buf, rows); err != nil {
			writeError(w, r, err)
			return
		}
		writeAttachment(w, "text/csv; charset=utf-8", tableFilename(req, "csv"), buf.Bytes())
	}
}

func compareTableXLSXHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := comparisonRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		rows, err := svcs.Comparison.Table(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := table.WriteXLSX(&buf, rows); err != nil {
			writeError(w, r, err)
			return
		}
		writeAttachment(w, xlsxContentType, tableFilename(req, "xlsx"), buf.Bytes())
	}
}

func tableFilename(req service.ComparisonRequest, ext string) string {
	return fmt.Sprintf("%s_%s_table.%s", exprstore.NormalizeGene(req.Gene), req.Preset, ext)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

func correlationRequest(r *http.Request) (service.CorrelationRequest, error) {
	var req service.CorrelationRequest
	var err error
	if req.Gene1, err = requireParam(r, "gene1"); err != nil {
		return req, err
	}
	if req.Gene2, err = requireParam(r, "gene2"); err != nil {
		return req, err
	}
	req.Tumor = r.URL.Query().Get("tumor")
	req.Scale, err = parseScale(r)
	return req, err
}

func correlationHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := correlationRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := svcs.Correlation.CorrelateJSON(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeRawJSON(w, data)
	}
}

func correlationPlotHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := correlationRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := svcs.Correlation.Plot(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePNG(w, data)
	}
}

func correlationTableHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := correlationRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svcs.Correlation.Correlate(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := table.WriteCorrelationCSV(&buf, res.Gene1, res.Gene2, res.Rows()); err != nil {
			writeError(w, r, err)
			return
		}
		filename := fmt.Sprintf("%s_%s_%s_correlation.csv", res.Gene1, res.Gene2, res.Tumor)
		writeAttachment(w, "text/csv; charset=utf-8", filename, buf.Bytes())
	}
}

func cellLineRequest(r *http.Request) (service.CellLineRequest, error) {
	var req service.CellLineRequest
	var err error
	if req.Gene, err = requireParam(r, "gene"); err != nil {
		return req, err
	}
	if req.Direction, err = service.ParseDirection(r.URL.Query().Get("direction")); err != nil {
		return req, err
	}
	raw, err := requireParam(r, "threshold")
	if err != nil {
		return req, err
	}
	// Decimal commas are accepted.
	req.Threshold, err = strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return req, fmt.Errorf("%w: %q is not a number", service.ErrInvalidThreshold, raw)
	}
	req.Lineages = parseList(r, "lineage")
	req.Scale, err = parseScale(r)
	return req, err
}

func cellLinesHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := cellLineRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := svcs.CellLines.SelectJSON(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeRawJSON(w, data)
	}
}

func cellLinesPlotHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := cellLineRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := svcs.CellLines.Plot(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePNG(w, data)
	}
}

func cellLinesTableHandler(svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := cellLineRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svcs.CellLines.Select(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := table.WriteCellLinesCSV(&buf, res.CellLines); err != nil {
			writeError(w, r, err)
			return
		}
		writeAttachment(w, "text/csv; charset=utf-8", res.Gene+"_cell_lines.csv", buf.Bytes())
	}
}

// Screen job handlers

type screenJobSubmitRequest struct {
	Tumor  string   `json:"tumor"`
	Genes  []string `json:"genes,omitempty"`
	Method string   `json:"method,omitempty"`
}

func screenJobSubmitHandler(jm *JobManager, svcs *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		var req screenJobSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		tumor := exprstore.NormalizeTumor(req.Tumor)
		if tumor == "" {
			http.Error(w, "tumor is required", http.StatusBadRequest)
			return
		}
		tumors, err := svcs.Store.Tumors(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		found := false
		for _, t := range tumors {
			if t == tumor {
				found = true
				break
			}
		}
		if !found {
			http.Error(w, "tumor not found: "+tumor, http.StatusNotFound)
			return
		}
		if _, err := compare.ParseMethod(req.Method); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Genes) > maxScreenGenes {
			http.Error(w, fmt.Sprintf("at most %d genes per job", maxScreenGenes), http.StatusBadRequest)
			return
		}
		genes := make([]string, 0, len(req.Genes))
		for _, g := range req.Genes {
			if g = exprstore.NormalizeGene(g); g != "" {
				genes = append(genes, g)
			}
		}

		job, err := jm.Submit(screenstore.JobParams{Tumor: tumor, Genes: genes, Method: req.Method})
		if err != nil {
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func screenJobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		jobs, err := jm.Store().ListJobs()
		if err != nil {
			http.Error(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
	}
}

func screenJobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		job := jm.Get(chi.URLParam(r, "job_id"))
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func screenJobResultHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if job.Status != screenstore.JobStatusCompleted {
			http.Error(w, "job not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}

		// Parse pagination and order params
		offset, limit := 0, 50
		orderBy := r.URL.Query().Get("order_by")
		if orderBy == "" {
			orderBy = "fdr"
		}
		if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
			if v, err := strconv.Atoi(offsetStr); err == nil && v >= 0 {
				offset = v
			}
		}
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
				limit = min(v, 500)
			}
		}

		items, total, err := jm.Store().QueryResults(jobID, orderBy, offset, limit)
		if err != nil {
			http.Error(w, "failed to query results: "+err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"params":   job.Params,
			"total":    total,
			"offset":   offset,
			"limit":    limit,
			"order_by": orderBy,
			"items":    items,
		})
	}
}

func screenJobDeleteHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		if jm.Get(jobID) == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if err := jm.Delete(jobID); err != nil {
			http.Error(w, "failed to delete job: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":  jobID,
			"deleted": true,
		})
	}
}
