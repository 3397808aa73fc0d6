package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"madrasa/internal/attendance"
	"madrasa/internal/auth"
	"madrasa/internal/config"
	"madrasa/internal/httpmiddleware"
	"madrasa/internal/queue"
	"madrasa/internal/scanner"
	"madrasa/internal/session"
	"madrasa/internal/store"
	"madrasa/internal/verify"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "madrasa:events")
	}

	repo := attendance.NewRepository(db.Client)
	if err := repo.Migrate(context.Background()); err != nil {
		log.Printf("warning: migrate failed: %v", err)
	}
	ledger := attendance.NewLedger(repo)

	var scan scanner.Scanner
	if cfg.SensorSkip {
		src := scanner.NewWeightedSource(cfg.ScanSuccessRate, cfg.ScanSuspectRate, cfg.ScanSeed)
		scan = scanner.NewSimulator(src, repo, cfg.ScanLatency)
	} else {
		sensor := scanner.NewSensorClient(cfg.SensorServiceURL, false)
		if err := sensor.Health(context.Background()); err != nil {
			log.Printf("warning: sensor service not available: %v", err)
		}
		scan = sensor
	}

	notifier := session.NewQueueNotifier(q)
	sessions := session.NewManager(ledger, scan, verify.New(), notifier)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewIPRateLimiter(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/operators/register", func(c *gin.Context) {
		var req struct {
			OperatorID string `json:"operatorId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.OperatorID, auth.RoleOperator, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = repo.SaveRefreshToken(c.Request.Context(), req.OperatorID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	v1 := r.Group("/v1", auth.OperatorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	v1.POST("/operators/logout", logoutHandler(repo))

	v1.GET("/students", func(c *gin.Context) {
		students, err := repo.ListStudents(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if students == nil {
			students = []attendance.Student{}
		}
		c.JSON(http.StatusOK, students)
	})

	v1.POST("/students", func(c *gin.Context) {
		var req struct {
			ID    string `json:"id" binding:"required"`
			Name  string `json:"name" binding:"required"`
			Class string `json:"class"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := repo.UpsertStudent(c.Request.Context(), req.ID, req.Name, req.Class); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": req.ID})
	})

	v1.POST("/students/:id/fingerprint", func(c *gin.Context) {
		id := c.Param("id")
		student, err := repo.GetStudent(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if student == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}

		template := scanner.SynthTemplate(id, time.Now().UTC())
		if err := repo.SetFingerprint(c.Request.Context(), id, template); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		notifier.Notify(c.Request.Context(), session.Event{
			Kind:        session.EventEnrolled,
			StudentID:   id,
			StudentName: student.Name,
			At:          time.Now().UTC(),
		})
		c.JSON(http.StatusOK, gin.H{"studentId": id, "fingerprintId": template})
	})

	v1.GET("/fingerprints/duplicates", func(c *gin.Context) {
		alerts, err := repo.DuplicateFingerprints(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if alerts == nil {
			alerts = []attendance.DuplicateAlert{}
		}
		c.JSON(http.StatusOK, gin.H{"duplicates": alerts})
	})

	v1.GET("/attendance/today", func(c *gin.Context) {
		ids, err := ledger.MarkedIDs(c.Request.Context(), attendance.Today())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if ids == nil {
			ids = []string{}
		}
		c.JSON(http.StatusOK, ids)
	})

	v1.GET("/attendance", func(c *gin.Context) {
		date := c.DefaultQuery("date", attendance.Today())
		recs, err := ledger.RecordsFor(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if recs == nil {
			recs = []attendance.Record{}
		}
		c.JSON(http.StatusOK, recs)
	})

	v1.POST("/attendance", func(c *gin.Context) {
		var recs []attendance.Record
		if err := c.ShouldBindJSON(&recs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		if err := ledger.Commit(c.Request.Context(), recs); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, attendance.ErrDuplicateRecord) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"saved": len(recs)})
	})

	v1.GET("/attendance/summary", func(c *gin.Context) {
		date := c.DefaultQuery("date", attendance.Today())
		sum, err := ledger.Summary(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	v1.GET("/audit", func(c *gin.Context) {
		limit := 50
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		events, err := repo.ListAudit(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if events == nil {
			events = []attendance.AuditEvent{}
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	v1.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Date string `json:"date"`
		}
		// An empty or missing body means today's session.
		_ = c.ShouldBindJSON(&req)
		if req.Date == "" {
			req.Date = attendance.Today()
		}
		sess, err := sessions.Start(c.Request.Context(), req.Date)
		if err != nil {
			if sess != nil {
				c.JSON(http.StatusBadGateway, gin.H{"message": err.Error(), "session": sess.Snapshot()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess.Snapshot())
	})

	v1.GET("/sessions/:date", func(c *gin.Context) {
		sess, ok := sessions.Get(c.Param("date"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session for date"})
			return
		}
		c.JSON(http.StatusOK, sess.Snapshot())
	})

	v1.POST("/sessions/:date/status", func(c *gin.Context) {
		sess, ok := sessions.Get(c.Param("date"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session for date"})
			return
		}
		var req struct {
			StudentID string `json:"studentId" binding:"required"`
			Status    string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := sess.SetStatus(c.Request.Context(), req.StudentID, attendance.Status(req.Status)); err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess.Snapshot())
	})

	v1.POST("/sessions/:date/scan", func(c *gin.Context) {
		sess, ok := sessions.Get(c.Param("date"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session for date"})
			return
		}
		var req struct {
			StudentID string `json:"studentId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entry, err := sess.StartScan(c.Request.Context(), req.StudentID)
		if errors.Is(err, scanner.ErrCancelled) {
			c.JSON(http.StatusOK, gin.H{"cancelled": true, "session": sess.Snapshot()})
			return
		}
		if err != nil {
			c.JSON(sessionErrStatus(err), gin.H{"error": err.Error(), "entryState": entry.State})
			return
		}
		c.JSON(http.StatusOK, sess.Snapshot())
	})

	v1.DELETE("/sessions/:date/scan", func(c *gin.Context) {
		sess, ok := sessions.Get(c.Param("date"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session for date"})
			return
		}
		if err := sess.CancelScan(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	})

	v1.POST("/sessions/:date/submit", func(c *gin.Context) {
		date := c.Param("date")
		sess, ok := sessions.Get(date)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session for date"})
			return
		}
		recs, err := sess.Submit(c.Request.Context())
		if err != nil {
			var incomplete *session.IncompleteError
			if errors.As(err, &incomplete) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error(), "missing": incomplete.Missing})
				return
			}
			status := http.StatusBadGateway
			if errors.Is(err, attendance.ErrDuplicateRecord) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"message": err.Error()})
			return
		}
		sessions.Remove(date)
		c.JSON(http.StatusOK, gin.H{"saved": len(recs)})
	})

	v1.DELETE("/sessions/:date", func(c *gin.Context) {
		date := c.Param("date")
		sess, ok := sessions.Get(date)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session for date"})
			return
		}
		if err := sess.Discard(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		sessions.Remove(date)
		c.JSON(http.StatusOK, gin.H{"discarded": true})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

type tokenRevoker interface {
	RevokeRefreshToken(ctx context.Context, token string) error
}

// logoutHandler revokes the presented refresh token so it can no longer be
// exchanged for a new session.
func logoutHandler(tokens tokenRevoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refreshToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := tokens.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}

// sessionErrStatus maps session errors onto HTTP statuses.
func sessionErrStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownStudent):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSuspiciousBlocked),
		errors.Is(err, session.ErrScanInFlight),
		errors.Is(err, session.ErrStudentScanning),
		errors.Is(err, session.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, verify.ErrNotEnrolled):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
