package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hearthbeam/hearth-core/internal/command"
)

// submitRequest is the body for single command submission.
type submitRequest struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Priority   int            `json:"priority"`
	MaxRetries *int           `json:"max_retries,omitempty"`
}

// bulkRequest is the body for bulk submission. Each entry targets its
// own device.
type bulkRequest struct {
	Commands []struct {
		DeviceID string `json:"device_id"`
		submitRequest
	} `json:"commands"`
}

// handleSubmitCommand accepts a command for the device in the URL.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.scopedDevice(w, r)
	if !ok {
		return
	}

	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, err := s.engine.Submit(r.Context(), command.Request{
		DeviceID:   dev.ID,
		Name:       body.Name,
		Parameters: body.Parameters,
		Priority:   body.Priority,
		MaxRetries: body.MaxRetries,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

// handleSubmitBulk fans a batch of commands out to the engine. Each
// entry succeeds or fails independently; the response carries one
// result per entry in submission order.
func (s *Server) handleSubmitBulk(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	var body bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body.Commands) == 0 {
		writeBadRequest(w, "commands array is empty")
		return
	}

	reqs := make([]command.Request, len(body.Commands))
	for i, entry := range body.Commands {
		reqs[i] = command.Request{
			DeviceID:   entry.DeviceID,
			Name:       entry.Name,
			Parameters: entry.Parameters,
			Priority:   entry.Priority,
			MaxRetries: entry.MaxRetries,
		}
	}

	// Scope check before submission: every target device must belong
	// to a home the token covers.
	for i, req := range reqs {
		dev, err := s.registry.GetDevice(r.Context(), req.DeviceID)
		if err != nil {
			continue // engine reports not-found per entry
		}
		if !claims.HasHome(dev.HomeID) {
			writeForbidden(w, "device "+reqs[i].DeviceID+" not in token scope")
			return
		}
	}

	results := s.engine.SubmitBulk(r.Context(), reqs)

	type bulkEntry struct {
		Command *command.Command `json:"command,omitempty"`
		Error   string           `json:"error,omitempty"`
	}
	out := make([]bulkEntry, len(results))
	accepted := 0
	for i, res := range results {
		out[i].Command = res.Command
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}
		accepted++
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"results":  out,
		"accepted": accepted,
		"rejected": len(results) - accepted,
	})
}

// handleGetCommand returns a command from the durable log.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.scopedCommand(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleCancelCommand cancels a pending command.
func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.scopedCommand(w, r)
	if !ok {
		return
	}

	cancelled, err := s.engine.Cancel(r.Context(), cmd.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

// handleRetryCommand re-enqueues a failed command.
func (s *Server) handleRetryCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.scopedCommand(w, r)
	if !ok {
		return
	}

	retried, err := s.engine.Retry(r.Context(), cmd.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, retried)
}

// handleListDeviceCommands returns a device's recent commands, newest
// first.
//
// Query parameters:
//   - limit: maximum entries (default 50)
func (s *Server) handleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.scopedDevice(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	commands, err := s.engine.ListByDevice(r.Context(), dev.ID, limit)
	if err != nil {
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands, "count": len(commands)})
}

// scopedCommand loads the command named by the {id} URL parameter and
// verifies the caller can see its target device.
func (s *Server) scopedCommand(w http.ResponseWriter, r *http.Request) (*command.Command, bool) {
	claims, ok := claimsFrom(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return nil, false
	}

	id := chi.URLParam(r, "id")
	cmd, err := s.engine.GetCommand(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}

	dev, err := s.registry.GetDevice(r.Context(), cmd.DeviceID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if !claims.HasHome(dev.HomeID) {
		writeForbidden(w, "device not in token scope")
		return nil, false
	}
	return cmd, true
}
