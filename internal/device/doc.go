// Package device provides the Device Registry for exhibit-core.
//
// The Registry is the in-memory catalogue of every device the operator
// console can drive: the fixed catalogue loaded at startup plus any
// user-defined devices the operator has added. It turns (device, action)
// pairs into hex-string frames, hands them to the controller link and only
// after the link confirms the write applies the optimistic state update.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────────┐
//	│                            Device Registry                             │
//	│                                                                        │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌──────────────────┐    │
//	│  │     Registry     │   │ Batch Coordinator│   │  Reconciliation  │    │
//	│  │  (registry.go)   │──▶│    (batch.go)    │   │  (reconcile.go)  │    │
//	│  │ • reads, control │   │ • combined frame │   │ • link events    │    │
//	│  │ • status refresh │   │ • sequential     │   │ • inbound frames │    │
//	│  └──────────────────┘   └──────────────────┘   └──────────────────┘    │
//	│           │                       │                      ▲             │
//	└───────────│───────────────────────│──────────────────────│─────────────┘
//	            ▼                       ▼                      │
//	┌──────────────────────────────────────────┐   ┌─────────────────────────┐
//	│        Sender (link.Manager.Send)        │   │   Event bus (link.*)    │
//	└──────────────────────────────────────────┘   └─────────────────────────┘
//
// # State ownership
//
// A device's Status and PowerOn flag change only inside the Registry, under
// its single lock, and only in response to a confirmed send, a link state
// transition or a report from the controller. Every change is published as
// an events.DeviceUpdated event while the lock is held, so observers see
// changes in the order they were applied.
//
// # Usage
//
//	reg, err := device.NewRegistry(device.Config{RefreshInterval: 5 * time.Second}, linkMgr, bus)
//	if err != nil {
//	    return err
//	}
//	unsubscribe := reg.Attach(bus)
//	defer unsubscribe()
//
//	dev, err := reg.ControlDevice(ctx, "light_001", protocol.ActionTurnOn, nil)
//	if errors.Is(err, link.ErrNotConnected) {
//	    // device state is unchanged
//	}
package device
