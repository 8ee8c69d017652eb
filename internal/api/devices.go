package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/exhibit-core/internal/audit"
	"github.com/nerrad567/exhibit-core/internal/device"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// commandTimeout bounds one command, including the write confirmation.
const commandTimeout = 5 * time.Second

// actionRequest is the body of the action endpoints.
type actionRequest struct {
	Action     protocol.Action `json:"action"`
	Brightness *int            `json:"brightness,omitempty"`
}

// customDeviceRequest is the body of POST /custom-devices.
type customDeviceRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	OnHex  string `json:"on_hex"`
	OffHex string `json:"off_hex"`
	Icon   string `json:"icon,omitempty"`
	Group  string `json:"group,omitempty"`
}

// handleListDevices returns every device, or the devices of one type when
// the type query parameter is set.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []device.Device
	if t := r.URL.Query().Get("type"); t != "" {
		dt := protocol.DeviceType(t)
		if !dt.Valid() {
			writeBadRequest(w, "unknown device type: "+t)
			return
		}
		devices = s.registry.GetDevices(dt)
	} else {
		devices = s.registry.GetAllDevices()
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.GetDevice(chi.URLParam(r, "id"))
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeviceAction sends one action to one device and returns the device
// once the controller write is confirmed.
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}

	var params map[string]any
	if req.Brightness != nil {
		params = map[string]any{"brightness": *req.Brightness}
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	d, err := s.registry.ControlDevice(ctx, id, req.Action, params)
	s.recordCommand(r, string(req.Action), audit.TargetDevice, id, err, params)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleTypeAction sends all_on or all_off to every device of a type.
func (s *Server) handleTypeAction(w http.ResponseWriter, r *http.Request) {
	t := protocol.DeviceType(chi.URLParam(r, "type"))
	if !t.Valid() {
		writeBadRequest(w, "unknown device type: "+string(t))
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	res, err := s.registry.ControlAllDevices(ctx, t, req.Action)
	var details map[string]any
	if res != nil {
		details = map[string]any{"strategy": res.Strategy, "devices": len(res.Devices)}
	}
	s.recordCommand(r, string(req.Action), audit.TargetDeviceType, string(t), err, details)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRefreshDevices sends the status query. Device state follows from
// the controller's replies.
func (s *Server) handleRefreshDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := s.registry.RefreshDeviceStatus(ctx)
	s.recordCommand(r, "refresh", audit.TargetDevice, "", err, nil)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queried"})
}

// handleCreateCustomDevice registers a user-defined device.
func (s *Server) handleCreateCustomDevice(w http.ResponseWriter, r *http.Request) {
	var req customDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.registry.AddCustomDevice(r.Context(), device.CustomDevice{
		ID:     req.ID,
		Name:   req.Name,
		OnHex:  req.OnHex,
		OffHex: req.OffHex,
		Icon:   req.Icon,
		Group:  req.Group,
	})
	targetID := req.ID
	if d != nil {
		targetID = d.ID
	}
	s.recordCommand(r, "create", audit.TargetCustom, targetID, err, nil)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleDeleteCustomDevice removes a user-defined device. Catalogue devices
// cannot be removed.
func (s *Server) handleDeleteCustomDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.registry.RemoveCustomDevice(r.Context(), id)
	s.recordCommand(r, "delete", audit.TargetCustom, id, err, nil)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
