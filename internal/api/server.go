package api

import (
	"fmt"
	"net/http"
	"strings"

	"anvil/internal/contextstore"
	"anvil/internal/queue"
	"anvil/internal/storage"
	"anvil/internal/websocket"

	"github.com/gin-gonic/gin"
)

// Server wraps the REST API server
type Server struct {
	handler *Handler
	router  *gin.Engine
	hub     *websocket.Hub
}

// NewServer creates a new API server. hub may be nil to disable the event
// stream endpoint.
func NewServer(q *queue.Queue, p *storage.Packager, s *contextstore.Store, history HistoryLister, hub *websocket.Hub) *Server {
	handler := NewHandler(q, p, s, history)

	// gin.New() instead of gin.Default(): the status endpoint is polled
	// frequently, so use a custom logger that skips it.
	router := gin.New()

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		if strings.HasPrefix(param.Path, "/status/") {
			return ""
		}
		return fmt.Sprintf("[%s] %s %s %d %s %s %s\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.ClientIP,
			param.Method,
			param.StatusCode,
			param.Latency,
			param.Path,
			param.ErrorMessage,
		)
	}))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/", handler.Root)
	router.POST("/schedule", handler.ScheduleTask)
	router.GET("/status/:id", handler.GetJobStatus)
	router.GET("/download/:id", handler.DownloadResults)
	router.GET("/jobs", handler.ListJobs)
	router.GET("/stats", handler.GetStats)
	router.GET("/history", handler.GetHistory)
	router.GET("/context", handler.GetContext)

	if hub != nil {
		router.GET("/ws", websocket.HandleWebSocket(hub))
	}

	return &Server{
		handler: handler,
		router:  router,
		hub:     hub,
	}
}

// GetRouter returns the router.
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
