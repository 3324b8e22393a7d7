// Package server exposes the simulator session over an HTTP JSON API.
//
// The five operations mirror the facade: assemble, step, step_back,
// reset, and run; these accept POST only. A sixth route, timeline, returns
// the reconstructed per-instruction timeline and accepts any method. The
// simulator itself is single-threaded; a mutex serializes concurrent
// requests so every operation stays atomic.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/pipesim/asm"
	"github.com/sarchlab/pipesim/session"
)

// Server wraps one simulator session behind HTTP handlers.
type Server struct {
	mu  sync.Mutex
	sim *session.Simulator
	log *logrus.Logger
}

// New creates a server around a fresh session. A nil logger falls back
// to the logrus standard logger.
func New(logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		sim: session.New(),
		log: logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/assemble", s.handleAssemble)
	mux.HandleFunc("/api/step", s.handleStep)
	mux.HandleFunc("/api/step_back", s.handleStepBack)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/run", s.handleRun)
	mux.HandleFunc("/api/timeline", s.handleTimeline)
	return mux
}

type assembleRequest struct {
	Code string `json:"code"`
}

type assembleResponse struct {
	Success     bool                       `json:"success"`
	MachineCode []session.MachineCodeEntry `json:"machine_code,omitempty"`
	Labels      map[string]uint16          `json:"labels,omitempty"`
	CPUState    *session.CPUState          `json:"cpu_state,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Line        int                        `json:"line,omitempty"`
}

type stepResponse struct {
	Success     bool              `json:"success"`
	Running     bool              `json:"running"`
	CanStepBack bool              `json:"can_step_back"`
	CPUState    *session.CPUState `json:"cpu_state,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type resetResponse struct {
	Success  bool              `json:"success"`
	CPUState *session.CPUState `json:"cpu_state"`
}

type runRequest struct {
	MaxCycles int `json:"max_cycles"`
}

type runResponse struct {
	Success        bool              `json:"success"`
	CyclesExecuted uint64            `json:"cycles_executed"`
	Halted         bool              `json:"halted"`
	CanStepBack    bool              `json:"can_step_back"`
	CPUState       *session.CPUState `json:"cpu_state,omitempty"`
	Error          string            `json:"error,omitempty"`
}

type timelineResponse struct {
	Success  bool                  `json:"success"`
	Timeline []session.TimelineRow `json:"timeline"`
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	var req assembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, assembleResponse{Success: false, Error: "invalid JSON"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.sim.Assemble(req.Code)
	if err != nil {
		resp := assembleResponse{Success: false, Error: err.Error()}
		var asmErr *asm.Error
		if errors.As(err, &asmErr) {
			resp.Error = fmt.Sprintf("%s: %s", asmErr.Kind, asmErr.Detail)
			resp.Line = asmErr.Line
		}
		s.log.WithFields(logrus.Fields{
			"op":   "assemble",
			"line": resp.Line,
		}).Warnf("assembly failed: %v", err)
		writeJSON(w, resp)
		return
	}

	s.log.WithFields(logrus.Fields{
		"op":           "assemble",
		"instructions": len(result.MachineCode),
	}).Info("program loaded")
	writeJSON(w, assembleResponse{
		Success:     true,
		MachineCode: result.MachineCode,
		Labels:      result.Labels,
		CPUState:    result.State,
	})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.sim.Step()
	if err != nil {
		writeJSON(w, stepResponse{Success: false, Error: err.Error()})
		return
	}

	s.log.WithFields(logrus.Fields{
		"op":      "step",
		"cycle":   result.State.Cycle,
		"running": result.Running,
	}).Debug("stepped")
	writeJSON(w, stepResponse{
		Success:     true,
		Running:     result.Running,
		CanStepBack: result.CanStepBack,
		CPUState:    result.State,
	})
}

func (s *Server) handleStepBack(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.sim.StepBack()
	if err != nil {
		writeJSON(w, stepResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, stepResponse{
		Success:     true,
		Running:     result.Running,
		CanStepBack: result.CanStepBack,
		CPUState:    result.State,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.sim.Reset()
	s.log.WithField("op", "reset").Info("state cleared")
	writeJSON(w, resetResponse{Success: true, CPUState: state})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, runResponse{Success: false, Error: "invalid JSON"})
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.sim.Run(req.MaxCycles)
	if err != nil {
		writeJSON(w, runResponse{Success: false, Error: err.Error()})
		return
	}

	s.log.WithFields(logrus.Fields{
		"op":     "run",
		"cycles": result.CyclesExecuted,
		"halted": result.Halted,
	}).Info("run finished")
	writeJSON(w, runResponse{
		Success:        true,
		CyclesExecuted: result.CyclesExecuted,
		Halted:         result.Halted,
		CanStepBack:    result.CanStepBack,
		CPUState:       result.State,
	})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, timelineResponse{Success: true, Timeline: s.sim.Timeline()})
}

func (s *Server) requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("encoding response: %v", err)
	}
}
