package hubapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greese/imaginary-home-sub000/internal/audit"
	"github.com/greese/imaginary-home-sub000/internal/location"
	"github.com/greese/imaginary-home-sub000/internal/pending"
	"github.com/greese/imaginary-home-sub000/internal/relay"
	"github.com/greese/imaginary-home-sub000/internal/signature"
)

// handleCreateLocation registers a new, unpaired location.
func (s *Server) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body", err.Error())
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required", "")
		return
	}

	loc, err := s.pairing.CreateLocation(r.Context(), req.Name)
	if err != nil {
		s.logger.Error("creating location", "error", err)
		writeInternalError(w, "failed to create location")
		return
	}

	s.recordAudit(r, audit.ActionLocationCreated, audit.EntityLocation, loc.ID,
		"admin", map[string]any{"name": req.Name})
	writeJSON(w, http.StatusCreated, loc)
}

// handleLocationAction dispatches action requests against a location.
//
// The only action currently defined is "initializePairing", which issues a
// fresh one-time pairing code for an unpaired location.
func (s *Server) handleLocationAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body", err.Error())
		return
	}

	switch req.Action {
	case "initializePairing":
		code, err := s.pairing.ReadyForPairing(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, location.ErrLocationNotFound):
				writeNotFound(w, "location not found")
			case errors.Is(err, location.ErrAlreadyPaired):
				writeBadRequest(w, "location already paired", "")
			default:
				s.logger.Error("issuing pairing code", "location_id", id, "error", err)
				writeInternalError(w, "failed to initialise pairing")
			}
			return
		}

		s.recordAudit(r, audit.ActionPairingInitialised, audit.EntityLocation, id, "admin", nil)
		writeJSON(w, http.StatusOK, map[string]string{"pairingCode": code})

	default:
		writeBadRequest(w, "unrecognised action", "supported actions: initializePairing")
	}
}

// handleClaimRelay completes the pairing handshake: it claims the pairing
// code the envelope was signed with, creates the relay, and returns the
// relay's credentials. The plaintext secret appears in this response only.
func (s *Server) handleClaimRelay(w http.ResponseWriter, r *http.Request) {
	code, _ := r.Context().Value(ctxKeyPairingCode).(string)

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body", err.Error())
		return
	}
	if req.Name == "" {
		req.Name = "controller"
	}

	result, err := s.pairing.PairRelay(r.Context(), code, req.Name)
	if err != nil {
		if errors.Is(err, location.ErrPairingFailed) {
			writeError(w, http.StatusBadRequest, ErrCodePairingFailed,
				"pairing failed", "the pairing code is not claimable")
			return
		}
		s.logger.Error("claiming pairing code", "error", err)
		writeInternalError(w, "failed to complete pairing")
		return
	}

	s.recordAudit(r, audit.ActionRelayPaired, audit.EntityRelay, result.RelayID,
		result.RelayID, map[string]any{"locationId": result.LocationID, "name": req.Name})
	writeJSON(w, http.StatusCreated, map[string]string{
		"apiKeyId":     result.RelayID,
		"apiKeySecret": result.Secret,
		"locationId":   result.LocationID,
	})
}

// relayUpdateRequest is the periodic state push from a controller.
type relayUpdateRequest struct {
	Action string `json:"action"`
	Relay  struct {
		Devices []deviceReport `json:"devices"`
	} `json:"relay"`
}

// deviceReport is one device snapshot within a relay update.
type deviceReport struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	State json.RawMessage `json:"state"`
}

// handleRelayUpdate stores the pushed device snapshots and answers with the
// pending-command indicator header. The body is intentionally empty so a
// controller with nothing to fetch pays only for headers.
func (s *Server) handleRelayUpdate(w http.ResponseWriter, r *http.Request) {
	relayID := chi.URLParam(r, "id")

	var req relayUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body", err.Error())
		return
	}
	if req.Action != "update" {
		writeBadRequest(w, "unrecognised action", "supported actions: update")
		return
	}

	now := time.Now().UTC()
	devices := make([]relay.Device, 0, len(req.Relay.Devices))
	for _, d := range req.Relay.Devices {
		devices = append(devices, relay.Device{
			ID:         d.ID,
			RelayID:    relayID,
			Name:       d.Name,
			State:      d.State,
			ReportedAt: now,
		})
	}

	if err := s.relays.ReportDevices(r.Context(), relayID, devices); err != nil {
		s.logger.Error("storing device report", "relay_id", relayID, "error", err)
		writeInternalError(w, "failed to store device report")
		return
	}

	if !s.setHasCommandsHeader(w, r, relayID) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFetchCommands returns every WAITING command for the relay, marking
// each one SENT as it is selected. A command is therefore delivered at most
// once; one that cannot be transitioned stays queued for the next fetch.
func (s *Server) handleFetchCommands(w http.ResponseWriter, r *http.Request) {
	relayID := chi.URLParam(r, "id")

	commands, err := s.pending.CommandsToSend(r.Context(), relayID, true)
	if err != nil {
		s.logger.Error("selecting pending commands", "relay_id", relayID, "error", err)
		writeInternalError(w, "failed to fetch commands")
		return
	}
	s.metrics.commandsSent.Add(float64(len(commands)))

	if !s.setHasCommandsHeader(w, r, relayID) {
		return
	}
	if commands == nil {
		commands = []pending.Command{}
	}
	writeJSON(w, http.StatusOK, commands)
}

// handleProbeCommands answers a HEAD probe with only the indicator header.
func (s *Server) handleProbeCommands(w http.ResponseWriter, r *http.Request) {
	relayID := chi.URLParam(r, "id")

	if !s.setHasCommandsHeader(w, r, relayID) {
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleCommandResults records controller-reported execution outcomes.
func (s *Server) handleCommandResults(w http.ResponseWriter, r *http.Request) {
	relayID := chi.URLParam(r, "id")

	var results []pending.Result
	if err := json.NewDecoder(r.Body).Decode(&results); err != nil {
		writeBadRequest(w, "invalid request body", err.Error())
		return
	}

	for _, result := range results {
		if err := s.pending.RecordResult(r.Context(), result); err != nil {
			if errors.Is(err, pending.ErrCommandNotFound) {
				s.logger.Warn("result for unknown command",
					"relay_id", relayID,
					"command_id", result.CommandID,
				)
				continue
			}
			s.logger.Error("recording command result",
				"relay_id", relayID,
				"command_id", result.CommandID,
				"error", err,
			)
			writeInternalError(w, "failed to record results")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExchangeToken mints a fresh bearer token for the authenticated relay.
// The previous token stops verifying as soon as the new one is stored.
func (s *Server) handleExchangeToken(w http.ResponseWriter, r *http.Request) {
	relayID, _ := r.Context().Value(ctxKeyRelayID).(string)

	token, err := s.relays.ExchangeToken(r.Context(), relayID)
	if err != nil {
		s.logger.Error("exchanging token", "relay_id", relayID, "error", err)
		writeInternalError(w, "failed to exchange token")
		return
	}

	s.recordAudit(r, audit.ActionTokenExchanged, audit.EntityRelay, relayID, relayID, nil)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// queueCommandsRequest is the platform's command submission.
type queueCommandsRequest struct {
	DeviceIDs      []string          `json:"deviceIds"`
	Commands       []json.RawMessage `json:"commands"`
	TimeoutSeconds int               `json:"timeoutSeconds"`
}

// defaultCommandTimeout bounds execution of commands submitted without one.
const defaultCommandTimeout = 5 * time.Minute

// handleQueueCommands creates pending commands for a set of target devices.
//
// Devices are grouped by owning relay; each relay receives its own copy of
// every command, all sharing one group id.
func (s *Server) handleQueueCommands(w http.ResponseWriter, r *http.Request) {
	var req queueCommandsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body", err.Error())
		return
	}
	if len(req.Commands) == 0 {
		writeBadRequest(w, "commands are required", "")
		return
	}

	timeout := defaultCommandTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	commands, err := s.pending.Queue(r.Context(), timeout, req.Commands, req.DeviceIDs)
	if err != nil {
		switch {
		case errors.Is(err, pending.ErrNoDevices):
			writeBadRequest(w, "deviceIds are required", "")
		case errors.Is(err, relay.ErrDeviceNotFound):
			writeNotFound(w, "unknown target device")
		default:
			s.logger.Error("queueing commands", "error", err)
			writeInternalError(w, "failed to queue commands")
		}
		return
	}
	s.metrics.commandsQueued.Add(float64(len(commands)))

	s.recordAudit(r, audit.ActionCommandsQueued, audit.EntityCommandGroup, commands[0].GroupID,
		"admin", map[string]any{"queued": len(commands)})
	writeJSON(w, http.StatusCreated, map[string]any{
		"groupId": commands[0].GroupID,
		"queued":  len(commands),
	})
}

// handleListAudit returns audit trail entries, most recent first. Filters
// and pagination come from query parameters.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid limit", err.Error())
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "invalid offset", err.Error())
			return
		}
		filter.Offset = offset
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit events", "error", err)
		writeInternalError(w, "failed to list audit events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// recordAudit appends an audit trail entry. Failures are logged, never
// surfaced: the audited operation has already succeeded.
func (s *Server) recordAudit(r *http.Request, action, entityType, entityID, principal string, details map[string]any) {
	if s.audit == nil {
		return
	}
	event := &audit.Event{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Principal:  principal,
		Details:    details,
	}
	if err := s.audit.Record(r.Context(), event); err != nil {
		s.logger.Warn("recording audit event", "action", action, "error", err)
	}
}

// setHasCommandsHeader stamps the pending-command indicator onto a response.
// Returns false after writing an error response on lookup failure.
func (s *Server) setHasCommandsHeader(w http.ResponseWriter, r *http.Request, relayID string) bool {
	has, err := s.pending.HasCommands(r.Context(), relayID)
	if err != nil {
		s.logger.Error("checking pending commands", "relay_id", relayID, "error", err)
		writeInternalError(w, "failed to check pending commands")
		return false
	}
	w.Header().Set(signature.HeaderHasCommands, strconv.FormatBool(has))
	return true
}
