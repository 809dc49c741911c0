package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hearthbeam/hearth-core/internal/auth"
	"github.com/hearthbeam/hearth-core/internal/device"
)

// handleListDevices returns the devices visible to the caller's home
// scope, with an optional protocol filter.
//
// Query parameters:
//   - protocol: filter by protocol (zigbee, zwave, http)
//   - home_id: restrict to one home (must be in scope)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := claimsFrom(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	homeIDs := claims.HomeIDs
	if homeID := r.URL.Query().Get("home_id"); homeID != "" {
		if !claims.HasHome(homeID) {
			writeForbidden(w, "home not in token scope")
			return
		}
		homeIDs = []string{homeID}
	}

	protocol := device.Protocol(r.URL.Query().Get("protocol"))

	var devices []device.Device
	for _, homeID := range homeIDs {
		homeDevices, err := s.registry.GetDevicesByHome(ctx, homeID)
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		for _, d := range homeDevices {
			if protocol != "" && d.Protocol != protocol {
				continue
			}
			devices = append(devices, d)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID. The device's home must
// be in the caller's scope.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.scopedDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceStats returns registry counts by protocol and status.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleDeviceHistory returns recent state changes for a device,
// newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50, capped at 200)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.scopedDevice(w, r)
	if !ok {
		return
	}
	if s.history == nil {
		writeNotFound(w, "state history not enabled")
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

	entries, err := s.history.GetHistory(r.Context(), dev.ID, limit)
	if err != nil {
		writeInternalError(w, "failed to load state history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// handlePairDevice runs the device's protocol pairing flow and marks
// the device paired on success.
func (s *Server) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.scopedDevice(w, r)
	if !ok {
		return
	}

	drv, err := s.drivers.ForDevice(dev)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := drv.Pair(r.Context(), dev); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.registry.SetPaired(r.Context(), dev.ID, true); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": dev.ID, "paired": true})
}

// handleUnpairDevice removes the device from its protocol network.
func (s *Server) handleUnpairDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.scopedDevice(w, r)
	if !ok {
		return
	}

	drv, err := s.drivers.ForDevice(dev)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := drv.Unpair(r.Context(), dev); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.registry.SetPaired(r.Context(), dev.ID, false); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": dev.ID, "paired": false})
}

// handleDiscover opens the protocol's discovery window and returns the
// candidate devices found.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	protocol := device.Protocol(chi.URLParam(r, "protocol"))

	drv, err := s.drivers.ForProtocol(protocol)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	candidates, err := drv.Discover(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates, "count": len(candidates)})
}

// scopedDevice loads the device named by the {id} URL parameter and
// verifies the caller's home scope covers it. On failure it writes the
// response and returns ok=false.
func (s *Server) scopedDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	claims, ok := claimsFrom(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return nil, false
	}

	id := chi.URLParam(r, "id")
	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	if !claims.HasHome(dev.HomeID) {
		writeForbidden(w, auth.ErrHomeForbidden.Error())
		return nil, false
	}
	return dev, true
}
