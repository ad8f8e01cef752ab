package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"forge-router/internal/cache"
	"forge-router/internal/workflow"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealthCheck implements GET /health_check: a bare liveness probe,
// no auth required.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`"ok"`))
}

type addNodeRequest struct {
	URL string `json:"url"`
}

// handleAddNode implements POST /cluster/nodes: idempotently registers a
// backend node and wakes the dispatcher, since a newly added idle node may
// unblock the pending queue.
func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	s.fleet.Add(req.URL)
	s.dispatcher.Trigger()
	writeJSON(w, http.StatusOK, map[string]string{"url": req.URL, "status": "added"})
}

// handleRemoveNode implements POST /cluster/nodes/delete: removes a node
// unless it is currently Busy.
func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	if !s.fleet.Remove(req.URL) {
		writeError(w, http.StatusConflict, "node is busy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": req.URL, "status": "removed"})
}

type nodeView struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// handleListNodes implements GET /cluster/nodes.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	views := s.fleet.Iter()
	out := make([]nodeView, 0, len(views))
	for _, v := range views {
		out = append(out, nodeView{URL: v.URL, Status: string(v.Status)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": out})
}

type createDownloadRequest struct {
	URL          string `json:"url"`
	TargetFolder string `json:"target_folder"`
}

type downloadResponse struct {
	FileID string `json:"file_id"`
	Status string `json:"status"`
}

// handleCreateDownload implements POST /download: requests the asset be
// cached under target_folder, returning immediately with its current
// status (the caller polls GET /download/{file_id} for completion).
func (s *Server) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	var req createDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	handle, err := s.cache.Request(req.URL, req.TargetFolder)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := cache.StatusPending
	if handle.Ready {
		status = cache.StatusCompleted
	}
	writeJSON(w, http.StatusOK, downloadResponse{FileID: handle.FileID, Status: string(status)})
}

// handleGetDownload implements GET /download/{file_id}.
func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	task, ok := s.cache.Get(fileID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown download id")
		return
	}
	writeJSON(w, http.StatusOK, downloadResponse{FileID: task.FileID, Status: string(task.Status)})
}

type createWorkflowResponse struct {
	ID string `json:"id"`
}

// handleCreateWorkflow implements POST /workflow: decodes the tagged
// WorkflowPayload variant and admits it to the pending queue, returning
// 429 if the queue is full.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := workflow.ParsePayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.record.Add(payload)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, "No node available")
		return
	}

	s.dispatcher.Trigger()
	writeJSON(w, http.StatusOK, createWorkflowResponse{ID: task.ID})
}

// handleGetWorkflow implements GET /workflow/{id}.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.record.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workflow id")
		return
	}
	writeJSON(w, http.StatusOK, task.Result())
}

// handleGetPreview implements GET /preview/{id}: identical to
// handleGetWorkflow except Done artifacts are stripped to an empty list,
// so an unauthenticated preview client sees progress but never final
// bytes.
func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.record.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workflow id")
		return
	}
	writeJSON(w, http.StatusOK, task.Result().Stripped())
}
