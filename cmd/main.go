package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sentinel-rag/sentinel/auth"
	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/handlers"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
	"github.com/sentinel-rag/sentinel/services/impl"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := impl.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	store := impl.NewMetadataStore(db)

	ctx := context.Background()
	tenantID, err := provisionTenant(ctx, store, cfg.Policy)
	if err != nil {
		log.Fatal("Failed to provision tenant:", err)
	}
	log.Printf("Tenant %s provisioned (%s)", cfg.Policy.App.Tenant, tenantID)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}
	sessionStore := impl.NewSessionStore(redisClient)

	vectorStore, err := impl.NewVectorStore(&cfg.Qdrant, cfg.Embedding.Dimension, cfg.Retrieval.CandidateMultiplier)
	if err != nil {
		log.Fatal("Failed to connect to vector store:", err)
	}
	if err := vectorStore.EnsureCollections(ctx); err != nil {
		log.Fatal("Failed to ensure vector collections:", err)
	}

	auditService := impl.NewAuditService(db, &cfg.Audit)

	embedder, err := impl.NewEmbedder(&cfg.Embedding)
	if err != nil {
		log.Fatal("Failed to initialize embedder:", err)
	}
	embedder = impl.NewCachedEmbedder(embedder, redisClient)
	chunker, err := impl.NewChunker(&cfg.Ingest)
	if err != nil {
		log.Fatal("Failed to initialize chunker:", err)
	}
	parser := impl.NewDocumentParser(
		impl.NewPDFInspector(&cfg.Converter),
		impl.NewFastPDFConverter(&cfg.Converter),
		impl.NewLayoutPDFConverter(&cfg.Converter),
		impl.NewOfficeConverter(&cfg.Converter),
	)
	redactor := impl.NewPIIRedactor()
	rbac := impl.NewRBACResolver(store, cfg.Policy.AccessMatrix)

	ingestion := impl.NewIngestionService(&cfg.Ingest, parser, chunker, embedder, store, vectorStore, auditService)
	retrieval := impl.NewRetrievalService(&cfg.Retrieval, embedder, vectorStore, store, rbac, redactor, auditService)

	issuer := auth.NewTokenIssuer(&cfg.Auth)
	idp, err := auth.NewOIDCProvider(ctx, &cfg.OIDC)
	if err != nil {
		log.Fatal("Failed to initialize identity provider:", err)
	}
	middleware := auth.NewMiddleware(issuer, sessionStore, auditService, tenantID, cfg.Auth.CookieName)

	authHandlers := handlers.NewAuthHandlers(issuer, idp, sessionStore, store, auditService, tenantID, &cfg.Auth)
	documentHandlers := handlers.NewDocumentHandlers(ingestion, store, cfg.Ingest.MaxUploadBytes)
	queryHandlers := handlers.NewQueryHandlers(retrieval)
	auditHandlers := handlers.NewAuditHandlers(auditService)

	router := setupRouter(cfg, db, redisClient, middleware, authHandlers, documentHandlers, queryHandlers, auditHandlers)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Printf("Sentinel server starting on %s", cfg.GetServerAddress())
		log.Printf("Embedding provider: %s (dimension %d)", cfg.Embedding.Provider, cfg.Embedding.Dimension)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Server forced to shutdown:", err)
	}

	// Drain order: audit buffer first so every event from in-flight
	// requests lands, then the external clients, then the database.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Audit.FlushTimeoutSec)*time.Second)
	if err := auditService.Shutdown(flushCtx); err != nil {
		log.Println("Audit drain incomplete:", err)
	}
	flushCancel()
	if err := vectorStore.Close(); err != nil {
		log.Println("Vector store close failed:", err)
	}
	if err := sessionStore.Close(); err != nil {
		log.Println("Redis close failed:", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	log.Println("Server exited")
}

// requestTimeout bounds every handler's context so a stuck dependency
// cannot hold a connection past the deadline.
func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}

// provisionTenant applies the policy document: tenant, departments and
// roles. Idempotent; safe to run on every boot.
func provisionTenant(ctx context.Context, store services.MetadataStore, policy *config.Policy) (uuid.UUID, error) {
	tenant := &models.Tenant{
		ID:        uuid.New(),
		Domain:    policy.App.Domain,
		Name:      policy.App.Tenant,
		IssuerURL: policy.App.IssuerURL,
	}
	if err := store.EnsureTenant(ctx, tenant); err != nil {
		return uuid.Nil, fmt.Errorf("failed to ensure tenant: %w", err)
	}
	existing, err := store.GetTenantByDomain(ctx, policy.App.Domain)
	if err != nil || existing == nil {
		return uuid.Nil, fmt.Errorf("failed to read back tenant: %w", err)
	}

	for _, deptName := range policy.Departments {
		dept, err := store.EnsureDepartment(ctx, existing.ID, deptName)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to ensure department %s: %w", deptName, err)
		}
		for _, roleName := range policy.Roles[deptName] {
			if _, err := store.EnsureRole(ctx, existing.ID, dept.ID, roleName); err != nil {
				return uuid.Nil, fmt.Errorf("failed to ensure role %s/%s: %w", deptName, roleName, err)
			}
		}
	}
	return existing.ID, nil
}

func setupRouter(
	cfg *config.Config,
	db *gorm.DB,
	redisClient *redis.Client,
	middleware *auth.Middleware,
	authHandlers *handlers.AuthHandlers,
	documentHandlers *handlers.DocumentHandlers,
	queryHandlers *handlers.QueryHandlers,
	auditHandlers *handlers.AuditHandlers,
) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(auth.RequestID())
	router.Use(requestTimeout(time.Duration(cfg.Server.RequestTimeout) * time.Second))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   "sentinel",
		})
	})
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	router.GET("/health/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "down"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	authGroup := router.Group("/auth")
	{
		authGroup.GET("/login", authHandlers.Login)
		authGroup.GET("/callback", authHandlers.Callback)
		authGroup.POST("/register", middleware.Authenticate(), middleware.RequirePending(), authHandlers.Register)
		authGroup.POST("/logout", middleware.Authenticate(), middleware.RequireUser(), authHandlers.Logout)
	}

	api := router.Group("/api")
	api.Use(middleware.Authenticate(), middleware.RequireUser())
	{
		api.POST("/user", documentHandlers.UserInfo)
		api.POST("/user/docs", documentHandlers.ListDocuments)
		api.POST("/documents/upload", documentHandlers.Upload)
		api.DELETE("/documents/:id", documentHandlers.DeleteDocument)
		api.POST("/query", queryHandlers.Query)
		api.GET("/audit/activity", auditHandlers.UserActivity)
	}

	return router
}
