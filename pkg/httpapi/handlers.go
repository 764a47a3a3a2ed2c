package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visiongrade/gradecast/pkg/audit"
	"github.com/visiongrade/gradecast/pkg/store"
	"github.com/visiongrade/gradecast/pkg/svcerr"
)

// statusFor maps taxonomy codes onto HTTP status codes
func statusFor(err error) int {
	if errors.Is(err, store.ErrUnauthorized) {
		return http.StatusForbidden
	}
	switch svcerr.CodeOf(err) {
	case svcerr.CodeData:
		return http.StatusBadRequest
	case svcerr.CodeModel:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), svcerr.NewResponse(err))
}

func (s *Server) respondNotFound(c *gin.Context, message string, details map[string]interface{}) {
	c.JSON(http.StatusNotFound, svcerr.NewResponse(svcerr.Data(message, details)))
}

type trainRequest struct {
	SubjectID    *int `json:"subject_id"`
	AcademicYear int  `json:"academic_year"`
}

func (s *Server) handleTrain(c *gin.Context) {
	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, svcerr.Data("invalid training request body", nil).WithCause(err))
		return
	}

	records, err := s.store.GetTrainingData(c.Request.Context(), req.SubjectID, req.AcademicYear)
	if err != nil {
		s.respondError(c, err)
		return
	}

	started := time.Now()
	result := s.trainer.Train(c.Request.Context(), records, req.SubjectID)
	elapsed := time.Since(started)

	if !result.Success {
		if s.metrics != nil {
			s.metrics.RecordTraining("failure", elapsed)
		}
		status := http.StatusInternalServerError
		if result.ErrorCode == svcerr.CodeData {
			status = http.StatusBadRequest
		}
		c.JSON(status, result)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordTraining("success", elapsed)
	}
	if s.audit != nil {
		s.audit.Record(audit.KindTraining, map[string]interface{}{
			"model_key":  result.ModelKey,
			"best_model": result.BestModel,
			"mae":        result.ModelPerformance.MAE,
		})
	}
	if s.events != nil {
		if err := s.events.PublishTrainingResult(result); err != nil {
			s.logger.Warn("training event not published", "error", err.Error())
		}
	}

	c.JSON(http.StatusOK, result)
}

type predictRequest struct {
	StudentID    int `json:"student_id"`
	SubjectID    int `json:"subject_id"`
	AcademicYear int `json:"academic_year"`
}

func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, svcerr.Data("invalid prediction request body", nil).WithCause(err))
		return
	}
	if req.StudentID <= 0 || req.SubjectID <= 0 {
		s.respondError(c, svcerr.Data("student_id and subject_id are required", map[string]interface{}{
			"student_id": req.StudentID,
			"subject_id": req.SubjectID,
		}))
		return
	}

	rec, err := s.store.GetStudentMarks(c.Request.Context(), req.StudentID, req.SubjectID, req.AcademicYear)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rec == nil {
		s.respondNotFound(c, "no marks found for student in this subject", map[string]interface{}{
			"student_id": req.StudentID,
			"subject_id": req.SubjectID,
		})
		return
	}

	started := time.Now()
	result, err := s.predictor.PredictAndSave(c.Request.Context(), *rec, s.store)
	elapsed := time.Since(started)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordPrediction("none", "failure", elapsed)
		}
		s.respondError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordPrediction(result.Method, "success", elapsed)
		if result.SaveWarning != "" {
			s.metrics.RecordSaveFailure()
		}
	}
	if s.audit != nil {
		s.audit.Record(audit.KindPrediction, map[string]interface{}{
			"student_id": result.StudentID,
			"subject_id": result.SubjectID,
			"predicted":  result.PredictedMarks,
			"method":     result.Method,
		})
	}
	if s.events != nil {
		if err := s.events.PublishPrediction(result); err != nil {
			s.logger.Warn("prediction event not published", "error", err.Error())
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "prediction": result})
}

type batchRequest struct {
	SubjectID    int `json:"subject_id"`
	AcademicYear int `json:"academic_year"`
}

func (s *Server) handlePredictBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, svcerr.Data("invalid batch prediction request body", nil).WithCause(err))
		return
	}
	if req.SubjectID <= 0 {
		s.respondError(c, svcerr.Data("subject_id is required", nil))
		return
	}

	records, err := s.store.GetStudentsForPrediction(c.Request.Context(), req.SubjectID, req.AcademicYear)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(records) == 0 {
		s.respondNotFound(c, "no students with marks found for this subject", map[string]interface{}{
			"subject_id": req.SubjectID,
		})
		return
	}

	started := time.Now()
	items, succeeded := s.predictor.PredictBatch(c.Request.Context(), records)
	elapsed := time.Since(started)

	for i := range items {
		if !items[i].Success || items[i].Result == nil {
			continue
		}
		if err := s.store.SavePrediction(c.Request.Context(), *items[i].Result); err != nil {
			s.logger.Warn("batch prediction not persisted",
				"student_id", items[i].StudentID, "error", err.Error())
			items[i].Result.SaveWarning = "prediction generated but could not be saved"
			if s.metrics != nil {
				s.metrics.RecordSaveFailure()
			}
		}
	}

	if s.metrics != nil {
		s.metrics.RecordBatch(len(records))
		s.metrics.RecordPrediction("batch", "success", elapsed)
	}
	if s.audit != nil {
		s.audit.Record(audit.KindPrediction, map[string]interface{}{
			"subject_id": req.SubjectID,
			"batch_size": len(records),
			"succeeded":  succeeded,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"subject_id":  req.SubjectID,
		"total":       len(records),
		"successful":  succeeded,
		"predictions": items,
	})
}

type toggleRequest struct {
	IsVisible bool `json:"is_visible"`
	FacultyID *int `json:"faculty_id"`
}

func (s *Server) handleToggleVisibility(c *gin.Context) {
	subjectID, err := strconv.Atoi(c.Param("subject_id"))
	if err != nil || subjectID <= 0 {
		s.respondError(c, svcerr.Data("subject_id must be a positive integer", nil))
		return
	}

	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, svcerr.Data("invalid visibility request body", nil).WithCause(err))
		return
	}

	updated, err := s.store.ToggleVisibility(c.Request.Context(), subjectID, req.IsVisible, req.FacultyID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if s.audit != nil {
		s.audit.Record(audit.KindVisibility, map[string]interface{}{
			"subject_id": subjectID,
			"is_visible": req.IsVisible,
			"updated":    updated,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"subject_id":          subjectID,
		"is_visible":          req.IsVisible,
		"updated_predictions": updated,
	})
}

func (s *Server) handleAccuracy(c *gin.Context) {
	var subjectID *int
	if raw := c.Query("subject_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			s.respondError(c, svcerr.Data("subject_id must be a positive integer", nil))
			return
		}
		subjectID = &id
	}

	stats, err := s.store.GetAccuracyStats(c.Request.Context(), subjectID, c.Query("model_version"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (s *Server) handleFacultySubjects(c *gin.Context) {
	facultyID, err := strconv.Atoi(c.Param("faculty_id"))
	if err != nil || facultyID <= 0 {
		s.respondError(c, svcerr.Data("faculty_id must be a positive integer", nil))
		return
	}

	year := 0
	if raw := c.Query("academic_year"); raw != "" {
		year, err = strconv.Atoi(raw)
		if err != nil || year < 0 {
			s.respondError(c, svcerr.Data("academic_year must be a non-negative integer", nil))
			return
		}
	}

	subjects, err := s.store.GetFacultySubjects(c.Request.Context(), facultyID, year)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"faculty_id": facultyID,
		"subjects":   subjects,
	})
}

func (s *Server) handleAuditRecent(c *gin.Context) {
	if s.audit == nil {
		s.respondNotFound(c, "audit trail is not enabled", nil)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(c, svcerr.Data("limit must be a positive integer", nil))
			return
		}
		limit = n
	}

	events, err := s.audit.Recent(limit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "events": events})
}

func (s *Server) handleModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "info": s.registry.Info()})
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":       "gradecast",
		"status":        "running",
		"model_version": s.registry.Version(),
		"endpoints": gin.H{
			"train":             "POST /api/train",
			"predict":           "POST /api/predict",
			"predict_batch":     "POST /api/predict/batch",
			"toggle_visibility": "POST /api/predictions/toggle/:subject_id",
			"accuracy":          "GET /api/accuracy",
			"model_info":        "GET /api/model/info",
			"faculty_subjects":  "GET /api/faculty/:faculty_id/subjects",
			"audit_recent":      "GET /api/audit/recent",
			"health":            "GET /health",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	dbStatus := "up"
	if err := s.store.Ping(c.Request.Context()); err != nil {
		status = "degraded"
		dbStatus = "down"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"database":       dbStatus,
		"loaded_models":  s.registry.Keys(),
		"model_version":  s.registry.Version(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}
