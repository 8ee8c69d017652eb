package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/exhibit-core/internal/device"
	"github.com/nerrad567/exhibit-core/internal/link"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeLinkUnavailable = "link_unavailable"
	ErrCodeProtocolError   = "protocol_error"
	ErrCodeTimeout         = "timeout"
	ErrCodeInternal        = "internal_error"
)

// errorClass maps one family of domain errors onto a response.
type errorClass struct {
	status int
	code   string
	match  []error
}

// errorClasses is checked in order; the first class with a match wins.
var errorClasses = []errorClass{
	{http.StatusNotFound, ErrCodeNotFound, []error{device.ErrDeviceNotFound}},
	{http.StatusConflict, ErrCodeConflict, []error{device.ErrDeviceExists, device.ErrCatalogDevice}},
	{http.StatusBadRequest, ErrCodeBadRequest, []error{
		device.ErrEmptyDeviceSet,
		device.ErrUnsupportedAction,
		device.ErrInvalidName,
		device.ErrInvalidDevice,
		protocol.ErrUnknownAction,
		protocol.ErrUnknownDeviceType,
		protocol.ErrInvalidParam,
		link.ErrInvalidAddress,
	}},
	{http.StatusGatewayTimeout, ErrCodeTimeout, []error{link.ErrSendCancelled}},
	{http.StatusUnprocessableEntity, ErrCodeProtocolError, []error{
		device.ErrInvalidPayload,
		protocol.ErrInvalidHex,
		protocol.ErrInvalidDeviceID,
		protocol.ErrInvalidFrame,
	}},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeOperationError answers with the class of err. Link failures are 503;
// anything unrecognised is a 500 without the error text.
func writeOperationError(w http.ResponseWriter, err error) {
	for _, class := range errorClasses {
		for _, target := range class.match {
			if errors.Is(err, target) {
				writeError(w, class.status, class.code, err.Error())
				return
			}
		}
	}
	if link.IsLinkError(err) {
		writeError(w, http.StatusServiceUnavailable, ErrCodeLinkUnavailable, err.Error())
		return
	}
	writeInternalError(w, "internal server error")
}
