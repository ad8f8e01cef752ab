package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"forge-router/internal/cache"
)

// RunExecutor drives one task against node to completion: it resolves the
// payload's assets, opens the backend's WebSocket, posts the graph, and
// relays progress and results into the task's Result until a terminal
// state is reached.
func RunExecutor(ctx context.Context, task *Task, node string, c *cache.Cache, logger *slog.Logger) {
	graph, samplerNodeID, outputNodeID, err := task.Payload.Translate(ctx, c)
	if err != nil {
		logger.Warn("asset resolution failed", "task", task.ID, "node", node, "error", err)
		task.setResult(Result{Status: ResultError, Error: ErrDownloadFailed.Error()})
		return
	}

	wsURL, err := backendWebSocketURL(node, task.ID)
	if err != nil {
		task.setResult(Result{Status: ResultError, Error: "failed to connect to websocket"})
		return
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		logger.Warn("websocket connect failed", "task", task.ID, "node", node, "error", err)
		task.setResult(Result{Status: ResultError, Error: "failed to connect to websocket"})
		return
	}
	defer conn.Close()

	promptID, err := postGraph(ctx, node, task.ID, graph)
	if err != nil {
		logger.Warn("prompt post failed", "task", task.ID, "node", node, "error", err)
		task.setResult(Result{Status: ResultError, Error: err.Error()})
		return
	}

	runMessageLoop(conn, task, promptID, samplerNodeID, outputNodeID, logger)
}

func backendWebSocketURL(node, clientID string) (string, error) {
	u, err := url.Parse(node)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func postGraph(ctx context.Context, node, clientID string, graph Graph) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: graph, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backend rejected prompt: status %d", resp.StatusCode)
	}

	var out promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.PromptID == "" {
		return "", fmt.Errorf("invalid prompt response")
	}
	return out.PromptID, nil
}

// runMessageLoop owns the executor's per-run state: the currently
// executing node id (never reset, by design — see DESIGN.md) and the
// accumulated output byte chunks.
func runMessageLoop(conn *websocket.Conn, task *Task, promptID, samplerNodeID, outputNodeID string, logger *slog.Logger) {
	var currentNodeID string
	var results [][]byte
	running := Result{Status: ResultRunning}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			logger.Warn("websocket read error", "task", task.ID, "error", err)
			if _, ok := err.(*websocket.CloseError); ok {
				return
			}
			continue
		}

		switch msgType {
		case websocket.TextMessage:
			var env wsEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				logger.Warn("malformed websocket message", "task", task.ID, "error", err)
				continue
			}

			switch env.Type {
			case "status", "execution_cached":
				// ignored

			case "execution_start":
				var scoped wsPromptScoped
				json.Unmarshal(env.Data, &scoped)
				if scoped.PromptID != promptID {
					continue
				}
				running = Result{Status: ResultRunning, Progress: 0, Data: nil}
				task.setResult(running)

			case "executing":
				var ex wsExecuting
				json.Unmarshal(env.Data, &ex)
				if ex.PromptID != promptID {
					continue
				}
				currentNodeID = ex.Node

			case "progress":
				var p wsProgress
				json.Unmarshal(env.Data, &p)
				if p.PromptID != promptID || p.Node != samplerNodeID || p.Max == 0 {
					continue
				}
				running.Progress = float64(p.Value) / float64(p.Max)
				task.setResult(running)

			case "execution_success":
				var scoped wsPromptScoped
				json.Unmarshal(env.Data, &scoped)
				if scoped.PromptID != promptID {
					continue
				}
				task.setResult(Result{Status: ResultDone, Data: results})
				return

			case "execution_error":
				var exErr wsExecutionError
				json.Unmarshal(env.Data, &exErr)
				if exErr.PromptID != promptID {
					continue
				}
				task.setResult(Result{Status: ResultError, Error: exErr.ExceptionMessage})
				return
			}

		case websocket.BinaryMessage:
			if len(data) < 8 {
				continue
			}
			payload := data[8:]
			switch currentNodeID {
			case samplerNodeID:
				running.Data = [][]byte{payload}
				task.setResult(running)
			case outputNodeID:
				results = append(results, payload)
			}
		}
	}
}
