// train-subjects is the operator CLI for batch model training: it scans the
// subject catalog, checks which subjects have enough data and trains a model
// for each.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/visiongrade/gradecast/pkg/config"
	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/registry"
	"github.com/visiongrade/gradecast/pkg/store"
	"github.com/visiongrade/gradecast/pkg/trainer"
)

type subjectOutcome struct {
	SubjectID       int             `json:"subject_id"`
	SubjectCode     string          `json:"subject_code"`
	SubjectName     string          `json:"subject_name"`
	TrainingRecords int             `json:"training_records"`
	Trained         bool            `json:"trained"`
	Result          *trainer.Result `json:"result,omitempty"`
	Skipped         string          `json:"skipped,omitempty"`
}

type report struct {
	Timestamp  time.Time        `json:"timestamp"`
	Total      int              `json:"total_subjects"`
	Successful int              `json:"successful_trainings"`
	Failed     int              `json:"failed_trainings"`
	Skipped    int              `json:"skipped_subjects"`
	Subjects   []subjectOutcome `json:"subjects"`
}

func main() {
	var (
		subjectID  = flag.Int("subject", 0, "Train only this subject ID (0 = all)")
		year       = flag.Int("year", 0, "Academic year (0 = current)")
		minRecords = flag.Int("min-records", 10, "Minimum raw mark records to attempt training")
		reportPath = flag.String("report", "", "Write a JSON training report to this file")
		checkOnly  = flag.Bool("check", false, "Only report readiness, do not train")
		logLevel   = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	)
	flag.Parse()

	logger := logx.New(*logLevel)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("database connection failed", "error", err.Error())
		os.Exit(1)
	}
	defer st.Close()

	reg := registry.New(cfg.ModelDir, logger)
	reg.LoadDir()

	trainerCfg := trainer.DefaultConfig()
	trainerCfg.MinRows = cfg.MinTrainingRows
	trainerCfg.TestFraction = cfg.TestSplit
	trainerCfg.AttendanceDefault = cfg.DefaultAttendancePct
	tr := trainer.New(trainerCfg, reg, logger)

	if *subjectID != 0 {
		sub, err := st.GetSubjectInfo(ctx, *subjectID)
		if err != nil {
			logger.Error("subject lookup failed", "subject_id", *subjectID, "error", err.Error())
			os.Exit(1)
		}
		if sub == nil {
			logger.Error("subject does not exist", "subject_id", *subjectID)
			os.Exit(1)
		}
	}

	subjects, err := st.GetAllSubjects(ctx)
	if err != nil {
		logger.Error("subject catalog not readable", "error", err.Error())
		os.Exit(1)
	}

	rep := report{Timestamp: time.Now().UTC()}
	for _, sub := range subjects {
		if *subjectID != 0 && sub.ID != *subjectID {
			continue
		}
		rep.Total++

		id := sub.ID
		records, err := st.GetTrainingData(ctx, &id, *year)
		if err != nil {
			logger.Error("training data fetch failed", "subject", sub.SubjectCode, "error", err.Error())
			rep.Failed++
			rep.Subjects = append(rep.Subjects, subjectOutcome{
				SubjectID: sub.ID, SubjectCode: sub.SubjectCode, SubjectName: sub.SubjectName,
				Skipped: err.Error(),
			})
			continue
		}

		outcome := subjectOutcome{
			SubjectID: sub.ID, SubjectCode: sub.SubjectCode, SubjectName: sub.SubjectName,
			TrainingRecords: len(records),
		}

		if len(records) < *minRecords {
			logger.Warn("subject has insufficient data",
				"subject", sub.SubjectCode, "records", len(records), "min", *minRecords)
			outcome.Skipped = fmt.Sprintf("insufficient data: %d records", len(records))
			rep.Skipped++
			rep.Subjects = append(rep.Subjects, outcome)
			continue
		}

		if *checkOnly {
			logger.Info("subject trainable", "subject", sub.SubjectCode, "records", len(records))
			rep.Subjects = append(rep.Subjects, outcome)
			continue
		}

		logger.Info("training subject", "subject", sub.SubjectCode, "records", len(records))
		result := tr.Train(ctx, records, &id)
		outcome.Result = &result
		outcome.Trained = result.Success

		if result.Success {
			rep.Successful++
			logger.Info("subject trained",
				"subject", sub.SubjectCode,
				"best_model", result.BestModel,
				"mae", result.ModelPerformance.MAE,
				"r2", result.ModelPerformance.R2,
			)
		} else {
			rep.Failed++
			logger.Error("subject training failed",
				"subject", sub.SubjectCode, "error", result.Error, "code", result.ErrorCode)
		}
		rep.Subjects = append(rep.Subjects, outcome)
	}

	logger.Info("batch training finished",
		"total", rep.Total, "successful", rep.Successful,
		"failed", rep.Failed, "skipped", rep.Skipped)

	if *reportPath != "" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err == nil {
			err = os.WriteFile(*reportPath, data, 0o644)
		}
		if err != nil {
			logger.Error("report not written", "path", *reportPath, "error", err.Error())
			os.Exit(1)
		}
		logger.Info("report written", "path", *reportPath)
	}

	if rep.Failed > 0 {
		os.Exit(1)
	}
}
