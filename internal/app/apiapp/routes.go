package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	authsvc "github.com/lucaszub/background-remover/internal/services/auth"
	gallerysvc "github.com/lucaszub/background-remover/internal/services/gallery"
	quotasvc "github.com/lucaszub/background-remover/internal/services/quota"
	removalsvc "github.com/lucaszub/background-remover/internal/services/removal"
	"github.com/lucaszub/background-remover/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService    *authsvc.Service
	QuotaService   *quotasvc.Service
	RemovalService *removalsvc.Service
	GalleryService *gallerysvc.Service
	Logger         *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	quotaHandler := handlers.NewQuotaHandler(deps.QuotaService)
	removalHandler := handlers.NewRemovalHandler(deps.RemovalService)
	imagesHandler := handlers.NewImagesHandler(deps.GalleryService)
	statsHandler := handlers.NewStatsHandler(deps.QuotaService)

	requireAuth := RequireAuth(deps.AuthService, deps.Logger)
	optionalAuth := OptionalAuth(deps.AuthService, deps.Logger)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/callback", authHandler.Callback)
			r.Post("/refresh", authHandler.Refresh)
			r.With(requireAuth).Get("/me", authHandler.Me)
			r.With(requireAuth).Post("/logout", authHandler.Logout)
			r.With(requireAuth).Post("/logout_all", authHandler.LogoutAll)
		})

		r.With(optionalAuth).Post("/remove-background", removalHandler.Handle)
		r.With(optionalAuth).Get("/quota", quotaHandler.Handle)

		r.With(requireAuth).Get("/stats", statsHandler.Handle)

		r.Route("/images", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", imagesHandler.List)
			r.Get("/{id}", imagesHandler.Get)
			r.Patch("/{id}", imagesHandler.Update)
			r.Delete("/{id}", imagesHandler.Delete)
		})
	})
}
