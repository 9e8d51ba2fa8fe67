// internal/server/handlers.go
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/filetidy/filetidy/internal/suggest"
	"github.com/filetidy/filetidy/internal/tasks"
	"github.com/filetidy/filetidy/internal/validator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		AgentManager: s.agentMgr.Stats(),
		Queue:        s.queue.Stats(),
		UptimeMs:     time.Since(s.startTime).Milliseconds(),
	}
	if s.notifier != nil {
		resp.Banner = s.notifier.BannerState()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	task := tasks.NewTask(tasks.Kind(req.Kind), tasks.Priority(req.Priority), req.TimeoutMs, req.MaxRetries, req.EstimatedMemoryMB)
	task.Metadata = req.Metadata

	switch task.Kind {
	case tasks.KindFileAnalysis:
		task.FileAnalysis = &tasks.FileAnalysisPayload{Path: req.Path, Model: req.Model, Prompt: req.Prompt}
	case tasks.KindBatchProcessing:
		task.BatchProcessing = &tasks.BatchProcessingPayload{Paths: req.Paths, Model: req.Model, Prompt: req.Prompt}
	case tasks.KindHealthCheck:
		task.HealthCheck = &tasks.HealthCheckPayload{Model: req.Model}
	}

	if err := s.agentMgr.Submit(task); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleExecuteSuggestions(w http.ResponseWriter, r *http.Request) {
	var req ExecuteSuggestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	suggestions := make([]suggest.Suggestion, 0, len(req.Suggestions))
	for _, dto := range req.Suggestions {
		suggestions = append(suggestions, suggest.Suggestion{
			ID: dto.ID, SourcePath: dto.SourcePath, TargetName: dto.TargetName,
			TargetPath: dto.TargetPath, Confidence: dto.Confidence,
		})
	}

	opts := suggest.FilterOptions{
		MinConfidence: req.MinConfidence,
		Selective:     req.Selective,
		Policy:        suggest.GroupPolicy(req.GroupPolicy),
		OperationType: validator.OperationType(""),
	}
	if len(req.IncludeIDs) > 0 {
		opts.IncludeIDs = toSet(req.IncludeIDs)
	}
	if len(req.ExcludeIDs) > 0 {
		opts.ExcludeIDs = toSet(req.ExcludeIDs)
	}

	maxBatchSize := req.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = s.fileCfg.MaxBatchSize
	}
	maxSelectiveBatchSize := req.MaxSelectiveBatchSize
	if maxSelectiveBatchSize <= 0 {
		maxSelectiveBatchSize = s.fileCfg.MaxSelectiveBatchSize
	}

	result, err := s.pipeline.Run(suggestions, opts, maxBatchSize, maxSelectiveBatchSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, WebSocketBufferSize)}
	s.hub.register <- client

	go client.writePump()
	client.readPump()
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
