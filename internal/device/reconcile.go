package device

import (
	"sync"

	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// responsePowerKey is the data field a controller may use to report the
// power state in a binary response.
const responsePowerKey = "power_on"

// frameStream reassembles controller frames from link reads.
type frameStream struct {
	mu  sync.Mutex
	buf protocol.FrameBuffer
}

// feed returns the complete frames in data and how many bytes were skipped
// as noise.
func (s *frameStream) feed(data []byte) ([][]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.buf.Discarded()
	frames := s.buf.Feed(data)
	return frames, s.buf.Discarded() - before
}

func (s *frameStream) reset() {
	s.mu.Lock()
	s.buf.Reset()
	s.mu.Unlock()
}

// HandleEvent reconciles device state from a link event.
//
//   - LinkDisconnected marks every device Offline. Power flags are kept.
//   - LinkConnected issues a status refresh in the background. It marks
//     nothing Online by itself.
//   - DataReceived applies controller reports carried as hex-string or
//     binary response frames. Reads are reassembled first, so a report may
//     span several reads and one read may carry several reports. Anything
//     else is skipped.
//
// HandleEvent runs on the event bus dispatcher and never blocks on the link.
func (r *Registry) HandleEvent(e events.Event) {
	switch e.Type {
	case events.LinkDisconnected:
		r.stream.reset()
		r.markAllOffline()
	case events.LinkConnected:
		r.stream.reset()
		r.refreshAsync()
	case events.DataReceived:
		data, ok := e.Data.([]byte)
		if !ok || len(data) == 0 {
			return
		}
		r.handleData(data)
	}
}

// markAllOffline moves every device that is not already Offline to Offline.
func (r *Registry) markAllOffline() {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := 0
	for _, id := range r.order {
		if r.applyLocked(r.devices[id], StatusOffline, nil, SourceLink, false) {
			marked++
		}
	}
	if marked > 0 {
		r.log().Info("link down, devices marked offline", "count", marked)
	}
}

func (r *Registry) handleData(data []byte) {
	frames, skipped := r.stream.feed(data)
	if skipped > 0 {
		r.log().Debug("skipping unrecognised controller data", "bytes", skipped)
	}
	for _, frame := range frames {
		if hf, err := protocol.ParseHexFrameBytes(frame); err == nil {
			r.applyHexReport(hf)
			continue
		}
		if resp, err := protocol.DecodeResponse(frame); err == nil {
			r.applyResponse(resp)
		}
	}
}

// applyHexReport applies a hex-string frame echoed or reported by the controller.
func (r *Registry) applyHexReport(frame protocol.HexFrame) {
	if frame.Kind == protocol.HexFrameStatus {
		return
	}

	var power *bool
	switch frame.Action {
	case protocol.ActionTurnOn, protocol.ActionAllOn:
		on := true
		power = &on
	case protocol.ActionTurnOff, protocol.ActionAllOff:
		off := false
		power = &off
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, num := range frame.DeviceNumbers {
		d := r.resolveNumberLocked(num)
		if d == nil {
			r.log().Debug("controller report for unattributable device", "number", num)
			continue
		}
		r.applyLocked(d, StatusOnline, power, SourceController, false)
	}
}

// applyResponse applies a binary response frame.
func (r *Registry) applyResponse(resp protocol.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.resolveNumberLocked(resp.DeviceNumber)
	if d == nil {
		r.log().Debug("controller response for unattributable device", "number", resp.DeviceNumber)
		return
	}

	switch resp.Status {
	case protocol.StatusSuccess:
		var power *bool
		if v, ok := resp.Data[responsePowerKey].(bool); ok {
			power = &v
		}
		r.applyLocked(d, StatusOnline, power, SourceController, false)
	case protocol.StatusError:
		r.applyLocked(d, StatusError, nil, SourceController, false)
		r.log().Warn("controller reported device error", "device_id", d.ID, "message", resp.Message)
	case protocol.StatusTimeout:
		r.applyLocked(d, StatusOffline, nil, SourceController, false)
	case protocol.StatusInvalid:
		r.log().Warn("controller rejected command", "device_id", d.ID, "message", resp.Message)
	}
}

// resolveNumberLocked maps a wire number back to a catalogue device. Numbers
// are shared across device types, so the device last addressed with that
// number wins; without one, the number must be unique in the catalogue.
func (r *Registry) resolveNumberLocked(num uint16) *Device {
	if id, ok := r.lastAddressed[num]; ok {
		if d, ok := r.devices[id]; ok {
			return d
		}
	}
	if ids := r.byNumber[num]; len(ids) == 1 {
		return r.devices[ids[0]]
	}
	return nil
}
