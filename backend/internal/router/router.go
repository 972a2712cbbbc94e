package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elkarte/forum/backend/internal/handler"
	backendmw "github.com/elkarte/forum/backend/internal/middleware"
	"github.com/elkarte/forum/backend/internal/middleware/ratelimiter"
	"github.com/elkarte/forum/backend/internal/setup"
	mw "github.com/elkarte/forum/shared/middleware"
	"github.com/elkarte/forum/shared/middleware/metrics"
)

const sweepInterval = 10 * time.Minute

// New creates the API router. Limiters registered with Use count every
// endpoint of that subrouter together.
func New(deps *setup.Dependencies) *mux.Router {
	cfg := deps.Config.Public.Server
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(handlers.CompressHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Range", "If-None-Match"},
		ExposedHeaders:   []string{"Content-Disposition", "Content-Range", "ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.SecurityHeaders(cfg.SecureCookies, "default-src 'none'; img-src 'self'; frame-ancestors 'none'"))

	// preflight requests are answered by the cors middleware
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := deps.Handler
	auth := deps.Auth

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/ready", h.Ready).Methods("GET")
	r.Handle(cfg.MetricsPath, promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()

	// Guests may read what their groups allow.
	public := v1.NewRoute().Subrouter()
	public.Use(auth.OptionalAuth())
	public.Use(handler.EventSource)
	public.HandleFunc("/topics/{topic}/attachments", h.TopicAttachments).Methods("GET")
	public.HandleFunc("/topics/{topic}/attachments/{id}", h.DownloadAttachment).Methods("GET")
	public.HandleFunc("/topics/{topic}/attachments/{id}/thumb", h.DownloadThumbnail).Methods("GET")
	public.HandleFunc("/attachments/{id}/image", h.AttachmentImage).Methods("GET")
	public.HandleFunc("/attachments/{id}/position", h.AttachmentPosition).Methods("GET")
	public.HandleFunc("/avatars/server", h.ServerAvatars).Methods("GET")
	public.HandleFunc("/avatars/{id}", h.GetAvatar).Methods("GET")

	loggedIn := v1.NewRoute().Subrouter()
	loggedIn.Use(auth.NeedAuth())
	loggedIn.Use(mw.RestrictBoardAccess(deps.AccessData))
	loggedIn.Use(handler.EventSource)

	loggedIn.HandleFunc("/mentions", h.ListMentions).Methods("GET")
	loggedIn.HandleFunc("/attachments/temp", h.ListTempAttachments).Methods("GET")
	loggedIn.HandleFunc("/attachments/temp/{id}", h.GetTempAttachment).Methods("GET")
	loggedIn.HandleFunc("/attachments/temp/{id}", h.DeleteTempAttachment).Methods("DELETE")
	loggedIn.HandleFunc("/messages/{message}/attachments", h.PromoteAttachments).Methods("POST")

	// the server fetches whatever url it is given
	imageSize := loggedIn.NewRoute().Subrouter()
	imageSize.Use(backendmw.RateLimit(sweeping(ratelimiter.New(1, 10, time.Hour)), backendmw.ByIP))
	imageSize.HandleFunc("/image_size", h.ImageSize).Methods("GET")

	uploads := loggedIn.NewRoute().Subrouter()
	uploads.Use(backendmw.RateLimit(sweeping(ratelimiter.PerMinute(cfg.UploadsPerMinute)), backendmw.ByUser))
	uploads.HandleFunc("/boards/{board}/attachments", h.UploadAttachments).Methods("POST")
	uploads.HandleFunc("/members/me/avatar", h.UploadAvatar).Methods("POST")

	return r
}

func sweeping(l *ratelimiter.Limiter) *ratelimiter.Limiter {
	l.StartSweeper(sweepInterval)
	return l
}
