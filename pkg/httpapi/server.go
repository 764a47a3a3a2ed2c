// Package httpapi exposes the prediction service over HTTP. Handlers stay
// thin: they parse, delegate to the core packages and map taxonomy codes to
// status codes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/visiongrade/gradecast/pkg/audit"
	"github.com/visiongrade/gradecast/pkg/events"
	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/marks"
	"github.com/visiongrade/gradecast/pkg/metrics"
	"github.com/visiongrade/gradecast/pkg/predictor"
	"github.com/visiongrade/gradecast/pkg/registry"
	"github.com/visiongrade/gradecast/pkg/store"
	"github.com/visiongrade/gradecast/pkg/trainer"
)

// Store is the persistence surface the API needs. *store.Store satisfies it;
// tests substitute fakes.
type Store interface {
	GetTrainingData(ctx context.Context, subjectID *int, academicYear int) ([]marks.MarkRecord, error)
	GetStudentMarks(ctx context.Context, studentID, subjectID, academicYear int) (*marks.StudentRecord, error)
	GetStudentsForPrediction(ctx context.Context, subjectID, academicYear int) ([]marks.StudentRecord, error)
	SavePrediction(ctx context.Context, res predictor.Result) error
	ToggleVisibility(ctx context.Context, subjectID int, visible bool, facultyID *int) (int64, error)
	GetAccuracyStats(ctx context.Context, subjectID *int, modelVersion string) (*store.AccuracyStats, error)
	GetFacultySubjects(ctx context.Context, facultyID, academicYear int) ([]store.Subject, error)
	Ping(ctx context.Context) error
}

// Server wires the HTTP routes to the service core
type Server struct {
	store     Store
	trainer   *trainer.Trainer
	predictor *predictor.Predictor
	registry  *registry.Registry
	audit     *audit.Log
	events    *events.Publisher
	metrics   *metrics.Server
	logger    *logx.Logger
	router    *gin.Engine
	server    *http.Server
	started   time.Time
}

// New builds the API server. The audit log, event publisher and metrics
// server are optional; nil disables them.
func New(st Store, tr *trainer.Trainer, pr *predictor.Predictor, reg *registry.Registry,
	auditLog *audit.Log, pub *events.Publisher, met *metrics.Server, logger *logx.Logger) *Server {

	s := &Server{
		store:     st,
		trainer:   tr,
		predictor: pr,
		registry:  reg,
		audit:     auditLog,
		events:    pub,
		metrics:   met,
		logger:    logger.WithComponent("httpapi"),
		started:   time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/", s.handleIndex)
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/train", s.handleTrain)
		api.POST("/predict", s.handlePredict)
		api.POST("/predict/batch", s.handlePredictBatch)
		api.POST("/predictions/toggle/:subject_id", s.handleToggleVisibility)
		api.GET("/accuracy", s.handleAccuracy)
		api.GET("/model/info", s.handleModelInfo)
		api.GET("/faculty/:faculty_id/subjects", s.handleFacultySubjects)
		api.GET("/audit/recent", s.handleAuditRecent)
	}

	return router
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until the listener fails or Shutdown is called
func (s *Server) Start(addr string) error {
	s.logger.Info("starting HTTP server", "addr", addr)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
