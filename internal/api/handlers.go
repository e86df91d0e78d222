package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/agent"
	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/vision"
)

const modelCallTimeout = 30 * time.Second

type runRequest struct {
	ReferencePath string `json:"reference_path"`
	Instructions  string `json:"instructions"`
	Continuous    bool   `json:"continuous"`
	MaxIterations int    `json:"max_iterations"`
}

type runResponse struct {
	TaskID string      `json:"task_id"`
	State  agent.State `json:"state"`
}

type stateResponse struct {
	State agent.State `json:"state"`
}

type modelsResponse struct {
	Models []string `json:"models"`
}

type pingResponse struct {
	Reply string `json:"reply"`
}

type roiRequest struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Snapshot())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ReferencePath == "" {
		writeError(w, http.StatusBadRequest, agent.ErrNoReference)
		return
	}
	if req.MaxIterations < 0 {
		writeError(w, http.StatusBadRequest, errors.New("max_iterations must not be negative"))
		return
	}
	ref, err := vision.LoadImage(req.ReferencePath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	task, err := s.agent.Start(r.Context(), agent.RunOptions{
		Reference:     ref,
		ReferencePath: req.ReferencePath,
		Instructions:  req.Instructions,
		Continuous:    req.Continuous,
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		s.fail(w, "Run refused.", err)
		return
	}
	s.logger.Info("Run started.", zap.String("task_id", task.ID.String()), zap.Bool("continuous", req.Continuous))
	writeJSON(w, http.StatusAccepted, runResponse{TaskID: task.ID.String(), State: s.agent.Snapshot().State})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.agent.Stop()
	writeJSON(w, http.StatusOK, stateResponse{State: s.agent.Snapshot().State})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, s.agent.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, s.agent.Resume)
}

func (s *Server) transition(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		s.fail(w, "Transition refused.", err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: s.agent.Snapshot().State})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Rollback(r.Context()); err != nil {
		s.fail(w, "Rollback failed.", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), modelCallTimeout)
	defer cancel()
	models, err := s.agent.ListModels(ctx)
	if err != nil {
		s.fail(w, "Model listing failed.", err)
		return
	}
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, modelsResponse{Models: models})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), modelCallTimeout)
	defer cancel()
	reply, err := s.agent.TestConnection(ctx)
	if err != nil {
		s.fail(w, "Connection test failed.", err)
		return
	}
	writeJSON(w, http.StatusOK, pingResponse{Reply: reply})
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	p := s.agent.Profile()
	if p == nil {
		writeError(w, http.StatusNotFound, errors.New("not calibrated"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetROI(w http.ResponseWriter, r *http.Request) {
	var req roiRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	roi := calibration.ROI{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height}
	s.calibrate(w, func() (*calibration.Profile, error) {
		return calibration.RecordROI(s.calibrationPath, roi)
	})
}

func (s *Server) handleReloadCalibration(w http.ResponseWriter, r *http.Request) {
	s.calibrate(w, func() (*calibration.Profile, error) {
		return calibration.LoadFromControllerConfig(s.calibrationPath)
	})
}

func (s *Server) calibrate(w http.ResponseWriter, fn func() (*calibration.Profile, error)) {
	if err := s.agent.Calibrate(fn); err != nil {
		s.fail(w, "Calibration failed.", err)
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Profile())
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Warn(msg, zap.Error(err), zap.Int("status", status))
	}
	writeError(w, status, err)
}
