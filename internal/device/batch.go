package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/exhibit-core/internal/protocol"
)

// ControlAllDevices switches every device of type t on or off.
//
// When every target is a catalogue device a single combined frame
// addresses them all. Otherwise one frame per device is sent in catalogue
// order. Either way the batch is all or nothing: every frame is encoded
// before the first send, and state is updated only after every send was
// confirmed. A failed send leaves every target untouched.
//
// Parameters:
//   - ctx: Bounds the wait for each write confirmation
//   - t: Device type to address
//   - action: AllOn or AllOff (TurnOn and TurnOff are accepted as aliases)
//
// Returns:
//   - *BatchResult: Strategy used and the updated devices
//   - error: ErrEmptyDeviceSet without sending anything, ErrUnsupportedAction,
//     a protocol encode error or the Sender's error
func (r *Registry) ControlAllDevices(ctx context.Context, t protocol.DeviceType, action protocol.Action) (*BatchResult, error) {
	failure := OperationFailure{Operation: OperationControlAll, DeviceType: t, Action: action}

	powerOn, err := batchPower(action)
	if err != nil {
		r.fail(failure, err)
		return nil, err
	}

	targets := r.GetDevices(t)
	if len(targets) == 0 {
		err := fmt.Errorf("%w: %q", ErrEmptyDeviceSet, t)
		r.fail(failure, err)
		return nil, err
	}

	ids := make([]string, len(targets))
	for i := range targets {
		ids[i] = targets[i].ID
	}
	unlock := r.commands.lock(ids...)
	defer unlock()

	strategy, frames, err := planBatch(targets, powerOn)
	if err != nil {
		r.fail(failure, err)
		return nil, err
	}

	for i, frame := range frames {
		if err := r.sender.Send(ctx, frame); err != nil {
			r.log().Warn("batch command failed",
				"type", t, "action", action, "strategy", strategy,
				"frame", i+1, "frames", len(frames), "error", err)
			r.fail(failure, err)
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	result := &BatchResult{
		Type:     t,
		Action:   action,
		Strategy: strategy,
		Frames:   len(frames),
		Devices:  make([]Device, 0, len(targets)),
	}
	for _, target := range targets {
		d, ok := r.devices[target.ID]
		if !ok {
			continue // Removed while the batch was in flight
		}
		r.noteAddressedLocked(d)
		r.applyLocked(d, StatusOnline, &powerOn, SourceCommand, true)
		result.Devices = append(result.Devices, *d.DeepCopy())
	}

	r.log().Info("batch command confirmed",
		"type", t, "action", action, "strategy", strategy, "devices", len(result.Devices))
	return result, nil
}

// batchPower maps a batch action to the power flag it leaves behind.
func batchPower(action protocol.Action) (bool, error) {
	switch action {
	case protocol.ActionAllOn, protocol.ActionTurnOn:
		return true, nil
	case protocol.ActionAllOff, protocol.ActionTurnOff:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q is not a batch action", ErrUnsupportedAction, action)
	}
}

// planBatch encodes every frame a batch needs.
func planBatch(targets []Device, powerOn bool) (BatchStrategy, [][]byte, error) {
	combined := true
	for i := range targets {
		if targets[i].IsCustom() {
			combined = false
			break
		}
	}

	if combined {
		action := protocol.ActionAllOff
		if powerOn {
			action = protocol.ActionAllOn
		}
		ids := make([]string, len(targets))
		for i := range targets {
			ids[i] = targets[i].ID
		}
		s, err := protocol.EncodeBatchHex(ids, action)
		if err != nil {
			return "", nil, err
		}
		frame, err := protocol.HexToBytes(s)
		if err != nil {
			return "", nil, err
		}
		return BatchCombined, [][]byte{frame}, nil
	}

	action := protocol.ActionTurnOff
	if powerOn {
		action = protocol.ActionTurnOn
	}
	frames := make([][]byte, 0, len(targets))
	for i := range targets {
		d := &targets[i]
		frame, err := deviceFrame(d, action, powerOn, nil)
		if err != nil {
			return "", nil, fmt.Errorf("device %s: %w", d.ID, err)
		}
		frames = append(frames, frame)
	}
	return BatchSequential, frames, nil
}
