package bolt

import "github.com/smallorange/bolt/internal/sysfs"

// DeviceView is an immutable snapshot of a Device, safe to hand to an IPC
// layer without exposing the mutable record underneath.
type DeviceView struct {
	UID        string
	ObjectPath string
	Name       string
	Vendor     string
	Status     Status
	Policy     Policy
	Stored     bool
	ParentUID  string
	Generation int
	LinkSpeed  sysfs.LinkSpeed
	NHIStable  *bool
}

func newDeviceView(d *Device) DeviceView {
	var nhiStable *bool
	if stable, known := d.NHIStable(); known {
		nhiStable = &stable
	}

	return DeviceView{
		NHIStable:  nhiStable,
		UID:        d.UID(),
		ObjectPath: d.ObjectPath(),
		Name:       d.Name(),
		Vendor:     d.Vendor(),
		Status:     d.Status(),
		Policy:     d.Policy(),
		Stored:     d.Stored(),
		ParentUID:  d.ParentUID(),
		Generation: d.Generation(),
		LinkSpeed:  d.LinkSpeed(),
	}
}

// Sink receives device lifecycle notifications from the manager for
// external consumption (the HTTP/websocket introspection surface). A nil
// Sink is a valid no-op choice for callers that don't care.
type Sink interface {
	// Export assigns (or reassigns) an externally addressable path to a
	// device and announces it.
	Export(view DeviceView)
	// Unexport announces that a device's object path is no longer valid.
	Unexport(uid string)
	// Emit announces a state change for an already-exported device.
	Emit(view DeviceView)
	// List returns a snapshot of every currently exported device.
	List() []DeviceView
}

// nopSink discards every notification. Used when a manager is constructed
// without an IPC sink, e.g. in tests.
type nopSink struct{}

func (nopSink) Export(DeviceView)   {}
func (nopSink) Unexport(string)     {}
func (nopSink) Emit(DeviceView)     {}
func (nopSink) List() []DeviceView  { return nil }
