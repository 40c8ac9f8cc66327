package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aniiisha-23/alertiq/internal/ledger"
	"github.com/aniiisha-23/alertiq/internal/scheduler"
)

// Server exposes the daemon's admin endpoints: health, Prometheus
// metrics and ledger statistics.
type Server struct {
	httpServer *http.Server
	ledger     *ledger.Ledger
	scheduler  *scheduler.Scheduler
}

// New builds the admin HTTP server.
func New(addr string, l *ledger.Ledger, s *scheduler.Scheduler, gatherer prometheus.Gatherer) *Server {
	srv := &Server{ledger: l, scheduler: s}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	router.GET("/healthz", srv.health)
	router.GET("/stats", srv.stats)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	srv.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		logrus.Infof("Admin server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("Admin server error: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if s.scheduler != nil && s.scheduler.IsRunning() {
		lastRun, lastStats := s.scheduler.LastRun()
		resp["scheduler"] = "running"
		resp["next_run"] = s.scheduler.NextRun().Format(time.RFC3339)
		if !lastRun.IsZero() {
			resp["last_run"] = lastRun.Format(time.RFC3339)
			resp["last_pass"] = lastStats.String()
		}
	} else {
		resp["scheduler"] = "stopped"
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) stats(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid since parameter: %v", err)})
			return
		}
		since = parsed
	}

	summary := s.ledger.Stats(since)

	byAction := make(map[string]int, len(summary.ByAction))
	for action, n := range summary.ByAction {
		byAction[string(action)] = n
	}

	c.JSON(http.StatusOK, statsResponse{
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
		ByAction:  byAction,
		ByTeam:    summary.ByTeam,
	})
}

type statsResponse struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	ByAction  map[string]int `json:"by_action"`
	ByTeam    map[string]int `json:"by_team"`
}

func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
