package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"golang.org/x/time/rate"

	"github.com/patrick91/metamist/server/internal/auth"
	"github.com/patrick91/metamist/server/internal/database"
	"github.com/patrick91/metamist/server/internal/handlers"
	"github.com/patrick91/metamist/server/internal/middleware"
	"github.com/patrick91/metamist/server/internal/templates"
)

func main() {
	// Load configuration from environment
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "./metamist.db")

	// Open database
	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Setup session manager with SQLite store
	sessionMgr := scs.New()
	sessionMgr.Store = sqlite3store.New(db.DB)
	sessionMgr.Lifetime = 7 * 24 * time.Hour
	sessionMgr.Cookie.Secure = false // Set to true in production with HTTPS
	sessionMgr.Cookie.SameSite = http.SameSiteLaxMode

	// Parse templates
	tmpl, err := templates.Parse()
	if err != nil {
		log.Fatalf("Failed to parse templates: %v", err)
	}

	// Create handlers
	debouncer := handlers.NewSummaryDebouncer(db, 10*time.Second)
	h := handlers.New(db, sessionMgr, tmpl, debouncer)
	authMiddleware := auth.NewMiddleware(db, sessionMgr)
	loginLimiter := middleware.NewIPRateLimiter(rate.Every(time.Second), 5)

	// Setup routes
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("/{$}", h.Index)
	mux.HandleFunc("GET /partial/auth", h.PartialAuth)
	mux.Handle("POST /login", loginLimiter.LimitFunc(h.Login))
	mux.Handle("POST /register", loginLimiter.LimitFunc(h.Register))
	mux.HandleFunc("GET /health", h.Health)

	// Protected routes (session-based)
	mux.Handle("POST /logout", authMiddleware.RequireAuth(http.HandlerFunc(h.Logout)))
	mux.Handle("GET /partial/dashboard", authMiddleware.RequireAuth(http.HandlerFunc(h.PartialDashboard)))
	mux.Handle("GET /partial/project-grid", authMiddleware.RequireAuth(http.HandlerFunc(h.PartialProjectGrid)))
	mux.Handle("GET /partial/billing-table", authMiddleware.RequireAuth(http.HandlerFunc(h.PartialBillingTable)))
	mux.Handle("POST /settings/default-project", authMiddleware.RequireAuth(http.HandlerFunc(h.UpdateDefaultProject)))

	// API routes (API key-based)
	mux.Handle("GET /api/project/{name}/summary", authMiddleware.RequireAPIKey(http.HandlerFunc(h.APIProjectSummary)))
	mux.Handle("POST /api/project/{name}/participants", authMiddleware.RequireAPIKey(http.HandlerFunc(h.APIUpsertParticipants)))
	mux.Handle("POST /api/billing/sync", authMiddleware.RequireAPIKey(http.HandlerFunc(h.APIBillingSync)))
	mux.Handle("GET /api/billing/sync/status", authMiddleware.RequireAPIKey(http.HandlerFunc(h.APISyncStatus)))

	// Wrap with session middleware and security headers
	handler := middleware.SecurityHeaders(sessionMgr.LoadAndSave(mux))

	// Start server
	addr := ":" + port
	log.Printf("Starting metamist-server on %s", addr)
	log.Printf("Database: %s", dbPath)

	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
