package bolt

import (
	"fmt"
	"strings"
)

// table is the minimal read surface topology.go needs over the manager's
// device collection: a lookup by uid and a full enumeration. *Manager
// satisfies this directly; tests back it with a plain map.
type table interface {
	deviceByUID(uid string) (*Device, bool)
	allDevices() []*Device
}

// parentOf returns d's parent record, recomputed from its current syspath
// rather than a cached pointer — there are no persisted parent pointers in
// the table. A Host device's sysfs parent is always an untracked Domain
// node, so it structurally has no parent: (nil, nil). A non-host device is
// expected to have one; if its syspath doesn't resolve against anything
// currently in the table, that's a genuine topology inconsistency and
// parentOf reports it as a TopologyError rather than silently treating it
// the same as "no parent".
func parentOf(t table, d *Device) (*Device, error) {
	if d.IsHost() {
		return nil, nil
	}

	uid, ok := parentUIDFromSyspath(t, d.Syspath())
	if !ok {
		return nil, &TopologyError{UID: d.UID(), Err: fmt.Errorf("no parent device found for syspath %s", d.Syspath())}
	}

	parent, ok := t.deviceByUID(uid)
	if !ok {
		return nil, &TopologyError{UID: d.UID(), Err: fmt.Errorf("parent uid %s not present in table", uid)}
	}
	return parent, nil
}

// childrenOf returns every device whose parent, recomputed from its
// current syspath, is target. Linear scan, same as the C manager's
// bolt_manager_get_children: the device count on any single host is small
// enough that an index would be premature. A child whose parent lookup
// errors is skipped, same as a child with no parent at all — it simply
// isn't counted as target's.
func childrenOf(t table, target *Device) []*Device {
	var out []*Device
	for _, other := range t.allDevices() {
		if other.UID() == target.UID() {
			continue
		}
		parent, err := parentOf(t, other)
		if err != nil || parent == nil {
			continue
		}
		if parent.UID() == target.UID() {
			out = append(out, other)
		}
	}
	return out
}

// parentUIDFromSyspath derives a device's immediate parent by stripping the
// trailing path segment off its syspath and looking up the remainder
// against every device currently in the table, matching
// bolt_manager_get_parent in the C manager (bolt-manager.c:516-537): no
// cached parent pointer, the lookup is recomputed against live syspaths
// every time.
func parentUIDFromSyspath(t table, syspath string) (string, bool) {
	parent := strings.TrimSuffix(syspath, "/")
	i := strings.LastIndex(parent, "/")
	if i < 0 {
		return "", false
	}
	parent = parent[:i]

	for _, d := range t.allDevices() {
		if d.Syspath() == parent {
			return d.UID(), true
		}
	}
	return "", false
}
