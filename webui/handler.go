// Package webui serves the results of profiling sessions to browsers.
package webui

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sarchlab/sqlprof/config"
	"github.com/sarchlab/sqlprof/profiling"
	"github.com/sarchlab/sqlprof/storage"
	"github.com/sarchlab/sqlprof/webui/static"
)

const assetMaxAge = 7 * 24 * time.Hour

var contentTypes = map[string]string{
	".js":   "application/javascript",
	".css":  "text/css",
	".tmpl": "text/x-jquery-tmpl",
}

var resultsPage = template.Must(template.New("results").Parse(`<!DOCTYPE html>
<html>
<head>
<title>{{.Name}} ({{.Duration}} ms) - sqlprof results</title>
<script type="text/javascript">var profiler = {{.JSON}};</script>
{{.Includes}}
</head>
<body><div class="sqlprof-result-full"></div></body>
</html>
`))

// Option configures a Handler.
type Option func(h *Handler)

// WithLogger sets the logger that reports failed requests.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithGatherer exposes the metrics of the gatherer under the metrics route.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = g
	}
}

// WithAssets replaces the embedded assets.
func WithAssets(fs http.FileSystem) Option {
	return func(h *Handler) {
		h.assets = fs
	}
}

// Handler serves the popup assets and the stored sessions.
type Handler struct {
	router   *mux.Router
	store    storage.Store
	settings config.Settings
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	assets   http.FileSystem
}

// NewHandler creates a Handler whose routes live under
// settings.RouteBasePath.
func NewHandler(
	store storage.Store,
	settings config.Settings,
	opts ...Option,
) *Handler {
	h := &Handler{
		store:    store,
		settings: settings,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.assets == nil {
		h.assets = static.Embedded()
	}

	base := h.settings.RouteBasePath

	r := mux.NewRouter()
	r.HandleFunc(base+"{file:(?:mini-profiler-)?includes\\.(?:js|css|tmpl)}",
		h.includes).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc(base+"results", h.results).Methods(http.MethodGet)
	r.HandleFunc(base+"mini-profiler-results", h.results).Methods(http.MethodGet)

	if h.gatherer != nil {
		r.Handle(base+"metrics", promhttp.HandlerFor(h.gatherer,
			promhttp.HandlerOpts{ErrorLog: zap.NewStdLog(h.logger)}))
	}

	r.NotFoundHandler = http.HandlerFunc(notFound)
	h.router = r

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) includes(w http.ResponseWriter, r *http.Request) {
	file := strings.TrimPrefix(mux.Vars(r)["file"], "mini-profiler-")

	f, err := h.assets.Open(file)
	if err != nil {
		notFound(w, r)
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		h.internalError(w, "reading asset", err)
		return
	}

	header := w.Header()
	header.Set("Content-Type", contentTypes[path.Ext(file)])
	header.Set("Cache-Control",
		fmt.Sprintf("public, max-age=%d", int(assetMaxAge.Seconds())))
	header.Set("Expires",
		time.Now().Add(assetMaxAge).UTC().Format(http.TimeFormat))

	_, _ = w.Write(content)
}

func (h *Handler) results(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	isPopup := strings.TrimSpace(query.Get("popup")) != ""

	id, err := uuid.Parse(query.Get("id"))
	if err != nil {
		h.resultNotFound(w, isPopup, "No id specified on the query string")
		return
	}

	p, err := h.store.Load(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.resultNotFound(w, isPopup, "No results found with Id="+id.String())
		return
	}

	if err != nil {
		h.internalError(w, "loading session", err)
		return
	}

	err = h.store.SetViewed(r.Context(), p.User, p.ID)
	if err != nil {
		h.logger.Warn("marking session viewed",
			zap.Stringer("id", p.ID), zap.Error(err))
	}

	data, err := profiling.ToJSON(p)
	if err != nil {
		h.internalError(w, "encoding session", err)
		return
	}

	if isPopup {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)

		return
	}

	h.fullPage(w, r, p, data)
}

func (h *Handler) fullPage(
	w http.ResponseWriter,
	r *http.Request,
	p *profiling.Profiler,
	data []byte,
) {
	includes, err := h.RenderIncludes(r.Context(), p)
	if err != nil {
		h.internalError(w, "rendering includes", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	err = resultsPage.Execute(w, struct {
		Name     string
		Duration float64
		JSON     template.JS
		Includes template.HTML
	}{
		Name:     p.Name,
		Duration: p.DurationMilliseconds,
		JSON:     template.JS(data),
		Includes: includes,
	})
	if err != nil {
		h.logger.Error("writing results page", zap.Error(err))
	}
}

func (h *Handler) resultNotFound(w http.ResponseWriter, isPopup bool, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)

	if !isPopup {
		_, _ = io.WriteString(w, msg)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError),
		http.StatusInternalServerError)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Not found", http.StatusNotFound)
}
