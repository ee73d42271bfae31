// Package udevmon wires the bolt manager's EventSource to a live udev
// connection: an initial enumeration plus two parallel netlink monitors, one
// on the "kernel" source (logged only, never drives state) and one on the
// "udev" source (post-settle, drives every add/change/remove transition).
// This mirrors bolt_manager_initialize/setup_monitor from the reference
// daemon one-for-one.
package udevmon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jochenvg/go-udev"
	"github.com/sirupsen/logrus"

	"github.com/smallorange/bolt/internal/bolt"
	"github.com/smallorange/bolt/internal/sysfs"
)

// defaultReceiveBufferBytes matches the reference daemon's netlink socket
// receive buffer: thunderbolt hotplug can burst many devices at once (a
// dock with several downstream peripherals) and the default buffer drops
// events under load. Used when New is called with bufferBytes <= 0.
const defaultReceiveBufferBytes = 128 * 1024 * 1024

const subsystem = "thunderbolt"

// Monitor adapts a pair of udev netlink monitors to bolt.EventSource.
type Monitor struct {
	udev udev.Udev

	kernelMon *udev.Monitor
	udevMon   *udev.Monitor

	events chan bolt.RawEvent
	log    logrus.FieldLogger

	syspathsMu sync.RWMutex
	syspaths   map[string]string // uid -> current syspath, for Authorize lookups

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens both netlink monitors and starts forwarding udev-sourced events.
// Call Enumerate once, immediately after New, to pick up devices that were
// already connected before the monitors came up. bufferBytes sets the
// netlink socket receive buffer size on both monitors; <= 0 uses
// defaultReceiveBufferBytes.
func New(ctx context.Context, log logrus.FieldLogger, bufferBytes int) (*Monitor, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if bufferBytes <= 0 {
		bufferBytes = defaultReceiveBufferBytes
	}

	u := udev.Udev{}

	kernelMon := u.NewMonitorFromNetlink("kernel")
	if kernelMon == nil {
		return nil, fmt.Errorf("udevmon: failed to open kernel netlink monitor")
	}
	if err := kernelMon.FilterAddMatchSubsystemDevtype(subsystem, ""); err != nil {
		return nil, fmt.Errorf("udevmon: filter kernel monitor: %w", err)
	}

	udevMon := u.NewMonitorFromNetlink("udev")
	if udevMon == nil {
		return nil, fmt.Errorf("udevmon: failed to open udev netlink monitor")
	}
	if err := udevMon.FilterAddMatchSubsystemDevtype(subsystem, ""); err != nil {
		return nil, fmt.Errorf("udevmon: filter udev monitor: %w", err)
	}

	for _, m := range []*udev.Monitor{kernelMon, udevMon} {
		if err := m.SetReceiveBufferSize(bufferBytes); err != nil {
			log.WithError(err).Warn("udevmon: could not raise netlink receive buffer, continuing with default")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	kernelCh, err := kernelMon.DeviceChan(runCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("udevmon: kernel monitor device channel: %w", err)
	}

	udevCh, err := udevMon.DeviceChan(runCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("udevmon: udev monitor device channel: %w", err)
	}

	m := &Monitor{
		udev:      u,
		kernelMon: kernelMon,
		udevMon:   udevMon,
		events:    make(chan bolt.RawEvent, 32),
		log:       log,
		syspaths:  make(map[string]string),
		cancel:    cancel,
	}

	m.wg.Add(2)
	go m.forwardKernel(kernelCh)
	go m.forwardUdev(udevCh)

	return m, nil
}

// forwardKernel drains the kernel-sourced monitor. Per the reference
// daemon, these events never touch device state: udevd hasn't finished
// running its rules yet, so attributes like unique_id may not exist.
func (m *Monitor) forwardKernel(ch <-chan *udev.Device) {
	defer m.wg.Done()
	for dev := range ch {
		m.log.WithField("syspath", dev.Syspath()).WithField("action", dev.Action()).
			Debug("kernel uevent (not acted on)")
	}
}

func (m *Monitor) forwardUdev(ch <-chan *udev.Device) {
	defer m.wg.Done()
	for dev := range ch {
		m.trackSyspath(dev)

		select {
		case m.events <- bolt.RawEvent{Action: dev.Action(), Node: sysfs.NewUdevNode(dev)}:
		default:
			m.log.WithField("syspath", dev.Syspath()).Warn("udevmon: event channel full, dropping event")
		}
	}
}

// trackSyspath keeps a uid -> syspath cache current, so Authorize (called
// asynchronously, potentially after further hotplug activity) can still
// find the right sysfs node by uid alone.
func (m *Monitor) trackSyspath(dev *udev.Device) {
	uid := dev.SysattrValue("unique_id")

	m.syspathsMu.Lock()
	defer m.syspathsMu.Unlock()

	if dev.Action() == "remove" {
		if uid != "" {
			delete(m.syspaths, uid)
		}
		return
	}
	if uid != "" {
		m.syspaths[uid] = dev.Syspath()
	}
}

// Enumerate lists every thunderbolt device node currently present, for
// startup reconciliation.
func (m *Monitor) Enumerate() ([]sysfs.Node, error) {
	e := m.udev.NewEnumerate()
	if err := e.AddMatchSubsystem(subsystem); err != nil {
		return nil, fmt.Errorf("udevmon: enumerate: %w", err)
	}
	if err := e.AddMatchIsInitialized(); err != nil {
		return nil, fmt.Errorf("udevmon: enumerate: %w", err)
	}

	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("udevmon: enumerate: %w", err)
	}

	out := make([]sysfs.Node, 0, len(devices))
	for _, dev := range devices {
		m.trackSyspath(dev)
		out = append(out, sysfs.NewUdevNode(dev))
	}
	return out, nil
}

// Authorize implements bolt.Authorizer by writing directly to the cached
// sysfs node for uid. For a secure authorization the key is written first;
// the kernel then expects "authorized" set to "2" rather than "1".
func (m *Monitor) Authorize(uid string, secure bool, key []byte) error {
	m.syspathsMu.RLock()
	syspath, ok := m.syspaths[uid]
	m.syspathsMu.RUnlock()
	if !ok {
		return fmt.Errorf("udevmon: authorize %s: device not present", uid)
	}

	if secure && len(key) > 0 {
		if err := writeSysattr(syspath, "key", string(key)); err != nil {
			return fmt.Errorf("udevmon: authorize %s: writing key: %w", uid, err)
		}
	}

	value := "1"
	if secure {
		value = "2"
	}
	if err := writeSysattr(syspath, "authorized", value); err != nil {
		return fmt.Errorf("udevmon: authorize %s: %w", uid, err)
	}
	return nil
}

func writeSysattr(syspath, attr, value string) error {
	path := filepath.Join(syspath, attr)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(value)
	return err
}

// Events returns the channel of udev-sourced (post-settle) events.
func (m *Monitor) Events() <-chan bolt.RawEvent {
	return m.events
}

// Close stops both monitor goroutines and closes the event channel.
func (m *Monitor) Close() error {
	m.cancel()
	m.wg.Wait()
	close(m.events)
	return nil
}
