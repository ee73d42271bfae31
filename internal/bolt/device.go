package bolt

import (
	"strings"
	"sync"

	"github.com/smallorange/bolt/internal/sysfs"
)

// Status is a device's connection/authorization state.
type Status int

const (
	// StatusDisconnected means the device is currently unplugged.
	StatusDisconnected Status = iota
	// StatusConnected means the device is plugged in but not authorized.
	StatusConnected
	// StatusAuthError means the kernel rejected an authorization attempt.
	// Recoverable only by disconnect/reconnect.
	StatusAuthError
	// StatusAuthConnected means the device is authorized (no link encryption).
	StatusAuthConnected
	// StatusAuthConnectedSecure means the device is authorized with a secure key.
	StatusAuthConnectedSecure
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusAuthError:
		return "auth-error"
	case StatusAuthConnected:
		return "authorized"
	case StatusAuthConnectedSecure:
		return "authorized-secure"
	default:
		return "unknown"
	}
}

// IsAuthorized reports whether s is one of the authorized variants.
func (s Status) IsAuthorized() bool {
	return s == StatusAuthConnected || s == StatusAuthConnectedSecure
}

// Policy governs whether a device is authorized autonomously.
type Policy int

const (
	// PolicyDefault leaves the device unauthorized until a user acts.
	PolicyDefault Policy = iota
	// PolicyManual records the device but never authorizes it automatically.
	PolicyManual
	// PolicyAuto authorizes the device as soon as its parent is authorized.
	PolicyAuto
)

func (p Policy) String() string {
	switch p {
	case PolicyDefault:
		return "default"
	case PolicyManual:
		return "manual"
	case PolicyAuto:
		return "auto"
	default:
		return "unknown"
	}
}

func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(s) {
	case "default", "":
		return PolicyDefault, true
	case "manual":
		return PolicyManual, true
	case "auto":
		return PolicyAuto, true
	default:
		return PolicyDefault, false
	}
}

// Device is the manager's in-memory record for one physical Thunderbolt
// controller or peripheral. All fields are only ever mutated by the
// manager's single event loop goroutine; the mutex here guards the rare
// concurrent read from a Sink snapshot or CLI query racing a transition.
type Device struct {
	mu sync.RWMutex

	uid     string
	syspath string
	name    string
	vendor  string

	status Status
	policy Policy
	stored bool
	isHost bool

	key []byte

	generation int
	linkspeed  sysfs.LinkSpeed

	parentUID  string
	objectPath string

	// nhiStable is only meaningful for Host devices: whether their NHI
	// controller keeps a stable unique_id across reboots. nil means unknown
	// (not a Host, or the controller's PCI id wasn't in the stability
	// table).
	nhiStable *bool
}

// NewForUdev constructs a fresh Connected (or already-authorized) record
// from a live sysfs snapshot, per the "Created: materialized from a kernel
// add event" lifecycle branch.
func NewForUdev(uid string, ident sysfs.Identity, info sysfs.Info, isHost bool) *Device {
	d := &Device{
		uid:        uid,
		syspath:    info.Syspath,
		name:       ident.Name,
		vendor:     ident.Vendor,
		policy:     PolicyDefault,
		stored:     false,
		isHost:     isHost,
		generation: info.Generation,
		linkspeed:  info.LinkSpeed,
		parentUID:  info.ParentUID,
	}
	d.status = statusFromAuthorized(info.Authorized)
	return d
}

// NewFromStore reconstructs a Disconnected device from a persisted record,
// per the "Created: loaded from the store at startup" lifecycle branch.
func NewFromStore(uid, name, vendor string, policy Policy, key []byte) *Device {
	return &Device{
		uid:    uid,
		name:   name,
		vendor: vendor,
		policy: policy,
		key:    key,
		stored: true,
		status: StatusDisconnected,
	}
}

func statusFromAuthorized(authorized int) Status {
	if authorized > 0 {
		return StatusAuthConnected
	}
	return StatusConnected
}

// UID returns the device's immutable unique identifier.
func (d *Device) UID() string {
	return d.uid
}

// Syspath returns the device's current sysfs path, empty when disconnected.
func (d *Device) Syspath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.syspath
}

// Status returns the device's current status.
func (d *Device) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Policy returns the device's authorization policy.
func (d *Device) Policy() Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policy
}

// SetPolicy updates the device's authorization policy. Setting PolicyAuto
// also marks the device as stored, preserving invariant 5.
func (d *Device) SetPolicy(p Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policy = p
	if p == PolicyAuto {
		d.stored = true
	}
}

// Stored reports whether a persistent record exists for this device.
func (d *Device) Stored() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stored
}

// SetStored marks the device as persisted or not.
func (d *Device) SetStored(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stored = v
}

// IsHost reports whether this record is a Host controller (the root of a
// domain), exempting it from the parent-authorization invariant.
func (d *Device) IsHost() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isHost
}

// Name returns the human-readable device name.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// Vendor returns the human-readable vendor string.
func (d *Device) Vendor() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.vendor
}

// ParentUID returns the uid of the immediate upstream device, if known.
func (d *Device) ParentUID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.parentUID
}

// Key returns the secure-authorization key material, if any.
func (d *Device) Key() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key
}

// ObjectPath returns the IPC handle assigned to this device, or "" if
// unexported.
func (d *Device) ObjectPath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.objectPath
}

// SetObjectPath records the IPC handle assigned on export, or clears it on
// unexport when called with "".
func (d *Device) SetObjectPath(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objectPath = path
}

// SetNHIStability records whether this Host's NHI controller keeps a
// stable unique_id across reboots, per the NHI PCI-id stability table.
func (d *Device) SetNHIStability(stable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nhiStable = &stable
}

// NHIStable reports the Host's NHI stability, if known.
func (d *Device) NHIStable() (stable bool, known bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.nhiStable == nil {
		return false, false
	}
	return *d.nhiStable, true
}

// LinkSpeed returns the most recently observed link speed.
func (d *Device) LinkSpeed() sysfs.LinkSpeed {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.linkspeed
}

// Generation returns the Thunderbolt generation reported by sysfs.
func (d *Device) Generation() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

// UpdateFromUdev refreshes status, link speed and syspath from a live sysfs
// snapshot and returns the resulting status. Used on the "changed" path.
func (d *Device) UpdateFromUdev(info sysfs.Info) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.syspath = info.Syspath
	d.linkspeed = info.LinkSpeed
	d.generation = info.Generation
	if info.ParentUID != "" {
		d.parentUID = info.ParentUID
	}
	d.status = statusFromAuthorized(info.Authorized)
	return d.status
}

// Connected transitions Disconnected -> Connected (or directly to an
// authorized variant if sysfs already reports the device as authorized).
// Used on the "attached" path, i.e. a stored device reappearing. isHost is
// taken from the live sysfs node, since a record loaded from the store
// carries no topology information of its own.
func (d *Device) Connected(info sysfs.Info, isHost bool) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.syspath = info.Syspath
	d.linkspeed = info.LinkSpeed
	d.generation = info.Generation
	d.isHost = isHost
	if info.ParentUID != "" {
		d.parentUID = info.ParentUID
	}
	d.status = statusFromAuthorized(info.Authorized)
	return d.status
}

// Disconnected transitions to Disconnected, preserving uid, policy, stored
// and parentUID, and clearing syspath per invariant 2.
func (d *Device) Disconnected() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = StatusDisconnected
	d.syspath = ""
}

// SetAuthResult records the outcome of an authorization attempt.
func (d *Device) SetAuthResult(secure bool, err error) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		d.status = StatusAuthError
	} else if secure {
		d.status = StatusAuthConnectedSecure
	} else {
		d.status = StatusAuthConnected
	}
	return d.status
}
