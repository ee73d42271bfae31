// Package bolt implements the in-memory device table and authorization
// decision engine: the core of the daemon. A Manager owns one goroutine
// that serializes every state transition, so nothing in this package needs
// a lock wider than a single Device's own mutex.
package bolt

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smallorange/bolt/internal/pci"
	"github.com/smallorange/bolt/internal/revert"
	"github.com/smallorange/bolt/internal/sysfs"
)

// RawEvent is one kernel/udev notification about a thunderbolt device node.
type RawEvent struct {
	Action string // "add", "change" or "remove"
	Node   sysfs.Node
}

const (
	ActionAdd    = "add"
	ActionChange = "change"
	ActionRemove = "remove"
)

// EventSource is the manager's view of the udev monitor: enumerate what's
// already connected at startup, then stream subsequent hotplug events.
type EventSource interface {
	Enumerate() ([]sysfs.Node, error)
	Events() <-chan RawEvent
	Close() error
}

// Authorizer performs the actual privileged sysfs write that flips a
// device's "authorized" attribute. Kept separate from EventSource so tests
// can substitute a fake that never touches a filesystem.
type Authorizer interface {
	Authorize(uid string, secure bool, key []byte) error
}

// Config bundles everything a Manager needs to run.
type Config struct {
	Store      Store
	Sink       Sink
	Events     EventSource
	Authorizer Authorizer
	Log        logrus.FieldLogger
	DMI        sysfs.DMI
	Workers    int
}

// Manager is the daemon's single source of truth for connected and
// remembered devices. All mutation happens on the run() goroutine; other
// goroutines (the idle queue, the IPC layer) only ever read through the
// table interface or submit work via channels.
type Manager struct {
	mu      sync.RWMutex
	devices map[string]*Device
	domains map[string]sysfs.Node

	store  Store
	sink   Sink
	events EventSource
	authz  Authorizer
	log    logrus.FieldLogger
	dmi    sysfs.DMI

	authq  *idleQueue
	pcidb  *pci.DB

	authResults chan authResult
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewManager constructs a Manager. Start must be called before it does
// anything.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Events == nil {
		return nil, fmt.Errorf("bolt: Config.Events is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("bolt: Config.Store is required")
	}
	if cfg.Authorizer == nil {
		return nil, fmt.Errorf("bolt: Config.Authorizer is required")
	}

	sink := cfg.Sink
	if sink == nil {
		sink = nopSink{}
	}

	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	m := &Manager{
		devices:     make(map[string]*Device),
		domains:     make(map[string]sysfs.Node),
		store:       cfg.Store,
		sink:        sink,
		events:      cfg.Events,
		authz:       cfg.Authorizer,
		log:         log,
		dmi:         cfg.DMI,
		pcidb:       pci.NewDB(),
		authResults: make(chan authResult, workers),
	}
	m.authq = newIdleQueue(workers, m.runAuthJob, m.authResults)
	return m, nil
}

// runAuthJob performs the privileged write for one authorization attempt.
// Called from a worker goroutine; never touches the device table directly.
func (m *Manager) runAuthJob(job authJob) authResult {
	err := m.authz.Authorize(job.uid, job.secure, job.key)
	return authResult{uid: job.uid, secure: job.secure, err: err}
}

// Start enumerates currently connected devices, reconciles them against the
// store, and launches the event loop goroutine. ctx governs the loop's
// lifetime; Close() also stops it.
func (m *Manager) Start(ctx context.Context) error {
	rev := revert.New()
	defer rev.Fail()

	if err := m.initialize(ctx); err != nil {
		return fmt.Errorf("bolt: initialize: %w", err)
	}

	m.authq.start()
	rev.Add(m.authq.stop)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(runCtx)

	rev.Success()
	return nil
}

// Close stops the event loop and the authorization worker pool, and closes
// the event source. Safe to call once after Start.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.authq.stop()
	return m.events.Close()
}

// initialize loads persisted records, enumerates live sysfs nodes, and
// reconciles the two into the initial device table, mirroring the startup
// sequence of the reference daemon: stored records first (so a device that
// happens to already be connected is recognized rather than double
// created), then live nodes layered on top.
func (m *Manager) initialize(ctx context.Context) error {
	uids, err := m.store.ListUIDs(ctx)
	if err != nil {
		return fmt.Errorf("loading stored uids: %w", err)
	}

	for _, uid := range uids {
		rec, err := m.store.Get(ctx, uid)
		if err != nil {
			m.log.WithError(err).WithField("uid", uid).Warn("dropping unreadable stored record")
			continue
		}
		m.devices[uid] = NewFromStore(rec.UID, rec.Name, rec.Vendor, rec.Policy, rec.Key)
	}

	nodes, err := m.events.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}

	for _, n := range nodes {
		if sysfs.ClassifyNode(n) == sysfs.KindDomain || sysfs.ClassifyNode(n) == sysfs.KindOther {
			continue
		}
		// Route through the same known-uid check a live add/change event
		// uses, so a node that matches a stored-but-Disconnected record is
		// attached to it instead of creating a duplicate.
		if err := m.handleAddOrChange(ctx, n); err != nil {
			m.log.WithError(err).WithField("syspath", n.Syspath()).Warn("failed to materialize device at startup")
		}
	}

	return nil
}

// run is the single event loop goroutine: every device table mutation
// happens here, so no further locking is needed across the devices map
// itself (Device's own mutex still guards concurrent reads from Sink/CLI).
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-m.events.Events():
			if !ok {
				return
			}
			m.handleRawEvent(ctx, ev)

		case res := <-m.authResults:
			m.handleAuthResult(res)
		}
	}
}

func (m *Manager) handleRawEvent(ctx context.Context, ev RawEvent) {
	kind := sysfs.ClassifyNode(ev.Node)
	if kind == sysfs.KindDomain || kind == sysfs.KindOther {
		// Domain-level events carry no device identity of their own; the
		// reference daemon logs these and takes no further action.
		m.log.WithField("syspath", ev.Node.Syspath()).Debug("ignoring domain/non-thunderbolt event")
		return
	}

	switch ev.Action {
	case ActionAdd, ActionChange:
		if err := m.handleAddOrChange(ctx, ev.Node); err != nil {
			m.log.WithError(err).WithField("syspath", ev.Node.Syspath()).Warn("failed to process device event")
		}
	case ActionRemove:
		m.handleRemove(ev.Node)
	default:
		m.log.WithField("action", ev.Action).Warn("unrecognized udev action")
	}
}

// handleAddOrChange implements the add/change branch of the reference
// daemon's handle_uevent_udev: look the device up by its live unique_id. An
// unknown uid is a brand new device; a known but currently Disconnected
// device is reappearing ("attached"); anything else is an attribute refresh
// on an already-connected device ("changed").
func (m *Manager) handleAddOrChange(ctx context.Context, n sysfs.Node) error {
	uid, ok := n.SysattrValue("unique_id")
	if !ok {
		return fmt.Errorf("%s: no unique_id attribute", n.Syspath())
	}

	m.mu.RLock()
	existing, known := m.devices[uid]
	m.mu.RUnlock()

	if !known {
		return m.handleAdd(ctx, n)
	}

	info, err := sysfs.ReadInfo(n)
	if err != nil {
		return fmt.Errorf("%s: %w", uid, err)
	}

	isHost := sysfs.ClassifyNode(n) == sysfs.KindHost
	m.rememberDomain(uid, n)

	var status Status
	if existing.Status() == StatusDisconnected {
		status = existing.Connected(info, isHost)
		m.log.WithField("uid", uid).Info("device attached")
	} else {
		status = existing.UpdateFromUdev(info)
		m.log.WithField("uid", uid).Debug("device attributes changed")
	}

	m.sink.Emit(newDeviceView(existing))
	if !status.IsAuthorized() {
		m.maybeAuthorize(existing)
	}
	return nil
}

// handleAdd materializes a brand-new device record from a live sysfs node.
func (m *Manager) handleAdd(ctx context.Context, n sysfs.Node) error {
	uid, ok := n.SysattrValue("unique_id")
	if !ok {
		return fmt.Errorf("%s: no unique_id attribute", n.Syspath())
	}

	info, err := sysfs.ReadInfo(n)
	if err != nil {
		return fmt.Errorf("%s: %w", uid, err)
	}

	isHost := sysfs.ClassifyNode(n) == sysfs.KindHost

	var ident sysfs.Identity
	if isHost {
		ident, err = sysfs.ReadHostIdentity(n, m.dmi)
	} else {
		ident, err = sysfs.ReadIdentity(n)
	}
	if err != nil {
		m.log.WithError(err).WithField("uid", uid).Warn("could not resolve device identity, continuing with blank fields")
	}

	d := NewForUdev(uid, ident, info, isHost)
	d.SetObjectPath(fmt.Sprintf("/devices/%s", uid))
	m.rememberDomain(uid, n)

	if isHost {
		if idStr, ok := sysfs.ReadNHIDeviceID(n); ok {
			if pciID, err := pci.ParsePCIID(idStr); err == nil {
				if stable, err := sysfs.NHIStable(pciID); err == nil {
					d.SetNHIStability(stable)
				} else {
					m.log.WithField("uid", uid).Debug("unrecognized NHI controller, uid stability unknown")
				}
			}

			entry := m.log.WithField("uid", uid)
			if vendorStr, ok := sysfs.ReadNHIVendorID(n); ok {
				if name, ok := m.pcidb.VendorName(vendorStr); ok {
					entry = entry.WithField("nhi_vendor", name)
				}
				if name, ok := m.pcidb.DeviceName(vendorStr, idStr); ok {
					entry = entry.WithField("nhi_device", name)
				}
			}
			entry.Debug("resolved NHI controller identity")
		}
	}

	m.mu.Lock()
	m.devices[uid] = d
	m.mu.Unlock()

	m.log.WithField("uid", uid).WithField("name", d.Name()).Info("device added")
	m.sink.Export(newDeviceView(d))

	if !d.Status().IsAuthorized() {
		m.maybeAuthorize(d)
	}
	return nil
}

// handleRemove implements the remove branch of handle_uevent_udev: the uid
// attribute is typically gone by the time the remove event fires, so the
// lookup goes by syspath instead. A stored device is kept and marked
// Disconnected ("detached"); an unstored one is dropped entirely
// ("removed").
func (m *Manager) handleRemove(n sysfs.Node) {
	syspath := n.Syspath()

	m.mu.RLock()
	var found *Device
	for _, d := range m.devices {
		if d.Syspath() == syspath {
			found = d
			break
		}
	}
	m.mu.RUnlock()

	if found == nil {
		m.log.WithField("syspath", syspath).Debug("remove event for untracked device")
		return
	}

	uid := found.UID()
	if found.Stored() {
		found.Disconnected()
		m.log.WithField("uid", uid).Info("device detached")
		m.sink.Emit(newDeviceView(found))
		return
	}

	m.mu.Lock()
	delete(m.devices, uid)
	delete(m.domains, uid)
	m.mu.Unlock()

	m.log.WithField("uid", uid).Info("device removed")
	m.sink.Unexport(uid)
}

// rememberDomain caches the domain node ascending from n against uid, so a
// later successful authorization (which arrives asynchronously off the idle
// queue, long after n itself may have gone stale) can still find a live
// node to write boot_acl against.
func (m *Manager) rememberDomain(uid string, n sysfs.Node) {
	domain, _, ok := sysfs.FindDomainAncestor(n)
	if !ok {
		return
	}
	m.mu.Lock()
	m.domains[uid] = domain
	m.mu.Unlock()
}

func (m *Manager) domainFor(uid string) (sysfs.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	domain, ok := m.domains[uid]
	return domain, ok
}

// recordBootAuthorization appends uid to its domain's boot_acl, so the
// firmware authorizes it automatically on the next boot without the daemon
// having to re-authorize it after every cold start. Best-effort: a failure
// here doesn't undo the authorization the kernel already granted, it only
// means this device won't auto-connect pre-boot until the next successful
// authorization retries the append.
func (m *Manager) recordBootAuthorization(uid string) {
	domain, ok := m.domainFor(uid)
	if !ok {
		return
	}

	acl, err := sysfs.ReadBootACL(domain)
	if err != nil {
		m.log.WithError(err).WithField("uid", uid).Warn("failed to read boot ACL")
		return
	}

	for _, existing := range acl {
		if existing == uid {
			return
		}
	}

	if err := sysfs.WriteBootACL(domain, append(acl, uid)); err != nil {
		m.log.WithError(err).WithField("uid", uid).Warn("failed to update boot ACL")
	}
}

// deviceByUID and allDevices implement the table interface for topology.go.
func (m *Manager) deviceByUID(uid string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[uid]
	return d, ok
}

func (m *Manager) allDevices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Snapshot returns a point-in-time view of every device in the table,
// sorted by the caller if needed (the IPC layer sorts with
// fvbommel/sortorder before serving a list).
func (m *Manager) Snapshot() []DeviceView {
	devices := m.allDevices()
	out := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, newDeviceView(d))
	}
	return out
}

// Device returns one device's snapshot, if known.
func (m *Manager) Device(uid string) (DeviceView, bool) {
	d, ok := m.deviceByUID(uid)
	if !ok {
		return DeviceView{}, false
	}
	return newDeviceView(d), true
}

// Enroll sets uid's policy and persists the record, per the "enroll"
// operation: the UI/CLI entry point for turning a Connected-but-unstored
// device into a remembered one.
func (m *Manager) Enroll(ctx context.Context, uid string, policy Policy) error {
	d, ok := m.deviceByUID(uid)
	if !ok {
		return fmt.Errorf("bolt: unknown device %s", uid)
	}

	d.SetPolicy(policy)
	d.SetStored(true)

	if err := m.store.Put(ctx, StoredDevice{
		UID:    d.UID(),
		Name:   d.Name(),
		Vendor: d.Vendor(),
		Policy: d.Policy(),
		Key:    d.Key(),
	}); err != nil {
		return fmt.Errorf("bolt: enroll %s: %w", uid, err)
	}

	m.sink.Emit(newDeviceView(d))

	if policy == PolicyAuto && !d.Status().IsAuthorized() {
		m.maybeAuthorize(d)
	}
	return nil
}

// Forget removes uid's persisted record. If the device is currently
// connected it remains in the table, now unstored; a subsequent
// disconnect will drop it entirely. A device that is already disconnected
// is dropped from the table and unexported at once.
func (m *Manager) Forget(ctx context.Context, uid string) error {
	d, ok := m.deviceByUID(uid)
	if !ok {
		return fmt.Errorf("bolt: unknown device %s", uid)
	}

	if err := m.store.Delete(ctx, uid); err != nil {
		return fmt.Errorf("bolt: forget %s: %w", uid, err)
	}

	d.SetStored(false)
	d.SetPolicy(PolicyDefault)

	if d.Status() == StatusDisconnected {
		m.mu.Lock()
		delete(m.devices, uid)
		delete(m.domains, uid)
		m.mu.Unlock()
		m.sink.Unexport(uid)
		return nil
	}

	m.sink.Emit(newDeviceView(d))
	return nil
}
