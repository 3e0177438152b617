package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"quill/accounts"
	"quill/admin"
	"quill/analytics"
	"quill/backoffice"
	"quill/blog"
	"quill/cache"
	"quill/common"
	"quill/config"
	"quill/database"
	"quill/email"
	"quill/engagement"
	"quill/media"
	"quill/profiles"
	"quill/site"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	common.InitLogger(cfg.App.Environment)

	db, err := common.ConnectDb(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := database.RunMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("cache unavailable, rendering without cache")
		renderCache = cache.Nop{}
	}
	if fileStore, ok := renderCache.(*cache.FileStore); ok {
		go sweepCache(ctx, fileStore, cfg.Cache.TTL)
	}

	var store media.Store
	if cfg.MinIO.Enabled() {
		minioStore, err := media.NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MinIO")
		}
		store = minioStore
	} else {
		log.Info().Msg("MinIO not configured, image uploads are ignored")
	}

	mailer := email.New(cfg.SMTP)
	notifier := email.NewNotifier(mailer)
	recorder := analytics.NewRecorder(db)

	accountsService := accounts.NewService(db, mailer, cfg.App.Domain)
	posts := blog.NewService(db, blog.NewRenderer(renderCache, cfg.Cache.TTL))
	engagementService := engagement.NewService(db, notifier)
	profilesService := profiles.NewService(db, store)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(common.RequestID(), common.RequestLogger(), common.Recovery())
	router.Use(analytics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	sessionStore := cookie.NewStore([]byte(cfg.Session.Secret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.Session.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Session.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions("quill_session", sessionStore))
	router.Use(common.LoadUser(db))

	router.GET("/metrics", gin.WrapH(analytics.Handler()))

	accounts.NewAccountsModule(db, accountsService).RegisterRoutes(router)
	site.NewSiteModule(db, posts, engagementService, recorder, cfg.App.Domain).RegisterRoutes(router)
	admin.NewAdminModule(db, posts, recorder, store).RegisterRoutes(router)
	engagement.NewEngagementModule(db, engagementService, posts).RegisterRoutes(router)
	profiles.NewProfilesModule(db, profilesService, posts).RegisterRoutes(router)
	backoffice.NewBackofficeModule(db, accountsService, posts).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	notifier.Wait()
}

// sweepCache removes expired render files until ctx ends.
func sweepCache(ctx context.Context, store *cache.FileStore, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.ClearOld(ttl); err != nil {
				log.Warn().Err(err).Msg("cache sweep failed")
			}
		}
	}
}
