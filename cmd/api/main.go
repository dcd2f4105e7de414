package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/attendance"
	"classattend/internal/audit"
	"classattend/internal/auth"
	"classattend/internal/cache"
	"classattend/internal/config"
	"classattend/internal/face"
	"classattend/internal/geo"
	"classattend/internal/httpmiddleware"
	"classattend/internal/metrics"
	"classattend/internal/notify"
	"classattend/internal/queue"
	"classattend/internal/session"
	"classattend/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	registerValidators()

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// registerValidators adds the b64image binding check next to gin's builtin
// latitude/longitude validators.
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("b64image", func(fl validator.FieldLevel) bool {
		decoded, err := base64.StdEncoding.DecodeString(fl.Field().String())
		return err == nil && len(decoded) > 0
	})
}

type locationBody struct {
	Latitude  float64 `json:"latitude" binding:"latitude"`
	Longitude float64 `json:"longitude" binding:"longitude"`
}

func (l locationBody) point() geo.Point {
	return geo.Point{Lat: l.Latitude, Lng: l.Longitude}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.EnsureSchema(db.Client); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	notices := notify.NewPGStore(db.Client)

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	var ttlCache cache.Cache
	if cfg.CacheBackend == "memory" {
		mem := cache.NewMemory(time.Minute)
		defer mem.Close()
		ttlCache = mem
	} else {
		ttlCache = cache.NewRedis(redisClient.Client)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// No other process can see this queue, so the api delivers
		// notifications itself instead of letting the channel fill up.
		mem := queue.NewInMemory(64)
		go func() {
			if err := notify.Deliver(ctx, mem, notices); err != nil {
				log.Printf("in-process notification delivery stopped: %v", err)
			}
		}()
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classattend:notifications")
	}

	auditor := audit.NewService(audit.NewPGStore(db.Client))
	users := auth.NewUserStore(db.Client)
	descriptors := face.NewDescriptorStore(db.Client)
	extractor := face.NewExtractor(cfg.ExtractorURL, cfg.ExtractTimeout, cfg.ExtractorSkip)
	matcher := face.NewMatcher(cfg.FaceThreshold)
	enroller := face.NewEnroller(extractor, descriptors)
	sessions := session.NewPGStore(db.Client)
	tracker := session.NewTracker(sessions, nil)
	notifier := notify.NewPublisher(q)
	recorder := attendance.NewService(tracker, extractor, descriptors, matcher,
		attendance.NewPGStore(db.Client), notifier, auditor, cfg.LateAfter, nil)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.Metrics())
	r.Use(httpmiddleware.NewRateLimiter(ttlCache, auditor, cfg.RateLimitPerMin, time.Minute).GinMiddleware())

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

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			UserID   string `json:"user_id" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := users.Authenticate(c.Request.Context(), req.UserID, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrBadCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		tokens, err := auth.Issue(user.ID, user.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		_ = users.SaveRefreshToken(c.Request.Context(), user.ID, tokens.RefreshToken, tokens.RefreshExp)

		auditor.Append(c.Request.Context(), requestEntry(c, user.ID, audit.ActionLogin, "auth", nil))

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/attendance/face", func(c *gin.Context) {
		var req struct {
			SessionID string       `json:"session_id" binding:"required"`
			Image     string       `json:"image" binding:"required,b64image"`
			Location  locationBody `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		image, _ := base64.StdEncoding.DecodeString(req.Image)

		rec, err := recorder.Record(c.Request.Context(), userID(c),
			attendance.FaceProof{SessionID: req.SessionID, Image: image}, req.Location.point())
		if err != nil {
			writeRecordError(c, err)
			return
		}
		metrics.AttendanceAccepted.WithLabelValues(string(rec.Method)).Inc()
		c.JSON(http.StatusOK, rec)
	})

	authGroup.POST("/attendance/qr", func(c *gin.Context) {
		var req struct {
			QRToken  string       `json:"qr_token" binding:"required"`
			Location locationBody `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rec, err := recorder.Record(c.Request.Context(), userID(c),
			attendance.QRProof{Token: req.QRToken}, req.Location.point())
		if err != nil {
			writeRecordError(c, err)
			return
		}
		metrics.AttendanceAccepted.WithLabelValues(string(rec.Method)).Inc()
		c.JSON(http.StatusOK, rec)
	})

	authGroup.POST("/faces", func(c *gin.Context) {
		var req struct {
			Image string `json:"image" binding:"required,b64image"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		image, _ := base64.StdEncoding.DecodeString(req.Image)

		filename, err := enroller.Enroll(c.Request.Context(), userID(c), image)
		if err != nil {
			if errors.Is(err, face.ErrNoFace) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "no face detected", "reason_code": string(attendance.CodeNoFaceDetected)})
				return
			}
			log.Printf("face enrollment failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enrollment failed"})
			return
		}

		auditor.Append(c.Request.Context(), requestEntry(c, userID(c), audit.ActionFaceEnroll, "faces",
			map[string]string{"filename": filename}))
		c.JSON(http.StatusOK, gin.H{"filename": filename})
	})

	authGroup.GET("/notifications", func(c *gin.Context) {
		limit := 50
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		list, err := notices.ListForUser(c.Request.Context(), userID(c), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": list})
	})

	teacherGroup := authGroup.Group("", auth.RequireRole(auth.RoleTeacher))

	teacherGroup.POST("/sessions/generate", func(c *gin.Context) {
		var req struct {
			ScheduleID string `json:"schedule_id" binding:"required"`
			From       string `json:"from" binding:"required"`
			To         string `json:"to" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		from, err1 := time.Parse("2006-01-02", req.From)
		to, err2 := time.Parse("2006-01-02", req.To)
		if err1 != nil || err2 != nil || to.Before(from) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from/to must be YYYY-MM-DD with from <= to"})
			return
		}

		created, err := sessions.Generate(c.Request.Context(), req.ScheduleID, from, to, cfg.QRRotationTTL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": created, "count": len(created)})
	})

	teacherGroup.POST("/sessions/:id/qr", func(c *gin.Context) {
		token, err := sessions.RotateToken(c.Request.Context(), c.Param("id"), time.Now(), cfg.QRRotationTTL)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"qr_token":   token,
			"rotates_in": cfg.QRRotationTTL.String(),
		})
	})

	teacherGroup.PATCH("/sessions/:id/status", func(c *gin.Context) {
		var req struct {
			Status session.Status `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		switch req.Status {
		case session.StatusScheduled, session.StatusActive, session.StatusClosed, session.StatusCancelled:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		if err := sessions.SetStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": req.Status})
	})

	teacherGroup.GET("/attendance/report", func(c *gin.Context) {
		classID := c.Query("class_id")
		from, err1 := time.Parse("2006-01-02", c.Query("from"))
		to, err2 := time.Parse("2006-01-02", c.Query("to"))
		if classID == "" || err1 != nil || err2 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "class_id, from and to (YYYY-MM-DD) are required"})
			return
		}

		records, err := recorder.Report(c.Request.Context(), classID, from, to.Add(24*time.Hour-time.Second))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		auditor.Append(c.Request.Context(), requestEntry(c, userID(c), audit.ActionExport, "attendance",
			map[string]string{"class_id": classID, "from": c.Query("from"), "to": c.Query("to")}))
		c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
	})

	teacherGroup.PATCH("/attendance/:id", func(c *gin.Context) {
		var req struct {
			Status attendance.Status `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := recorder.Correct(c.Request.Context(), userID(c), c.Param("id"), req.Status); err != nil {
			if errors.Is(err, attendance.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": req.Status})
	})

	adminGroup := authGroup.Group("", auth.RequireRole(auth.RoleAdmin))

	adminGroup.GET("/audit", func(c *gin.Context) {
		filter := audit.Filter{
			UserID:   c.Query("user_id"),
			Action:   c.Query("action"),
			Resource: c.Query("resource"),
		}
		if v := c.Query("from"); v != "" {
			if parsed, err := time.Parse("2006-01-02", v); err == nil {
				filter.From = parsed
			}
		}
		if v := c.Query("to"); v != "" {
			if parsed, err := time.Parse("2006-01-02", v); err == nil {
				filter.To = parsed.Add(24*time.Hour - time.Second)
			}
		}
		if v := c.Query("page"); v != "" {
			filter.Page, _ = strconv.Atoi(v)
		}
		if v := c.Query("limit"); v != "" {
			filter.Limit, _ = strconv.Atoi(v)
		}

		entries, total, err := auditor.Query(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// requestEntry builds an audit entry carrying the request's client context.
func requestEntry(c *gin.Context, userID, action, resource string, details map[string]string) audit.Entry {
	return audit.Entry{
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Details:   details,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func userID(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeRecordError maps recorder failures onto the HTTP contract: stable
// reason codes for business rejections, opaque 500 for infrastructure.
func writeRecordError(c *gin.Context, err error) {
	if r, ok := attendance.AsRejection(err); ok {
		metrics.AttendanceRejected.WithLabelValues(string(r.Code)).Inc()
		status := http.StatusBadRequest
		if r.Code == attendance.CodeAlreadyRecorded {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": r.Message, "reason_code": string(r.Code)})
		return
	}
	log.Printf("attendance submission failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
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
