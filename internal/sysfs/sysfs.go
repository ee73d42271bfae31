// Package sysfs implements pure, side-effect-free reads (and the one
// sanctioned write, boot_acl) over a Thunderbolt sysfs device node. None of
// the functions here hold any daemon state; they operate purely on the
// Node handed to them, which makes them trivial to exercise against a fake
// in tests without a real kernel or udev database.
package sysfs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Node is the minimal read surface the sysfs reader needs from a device
// handle. The production implementation backs this with a *udev.Device
// (see sysfs_linux.go); tests back it with an in-memory fake.
type Node interface {
	Syspath() string
	Sysname() string
	Subsystem() string
	Devtype() string
	SysattrValue(attr string) (string, bool)
	Parent() (Node, bool)
	// CTime returns the node's sysfs inode change time, in seconds since
	// the epoch, or 0 if unavailable.
	CTime() int64
}

// Writer is implemented by nodes that can persist a sysfs attribute write,
// i.e. the "authorized" and "boot_acl" attributes.
type Writer interface {
	WriteSysattr(attr, value string) error
}

// Kind classifies a device node.
type Kind int

const (
	KindOther Kind = iota
	KindDomain
	KindHost
	KindPeripheral
)

func (k Kind) String() string {
	switch k {
	case KindDomain:
		return "domain"
	case KindHost:
		return "host"
	case KindPeripheral:
		return "peripheral"
	default:
		return "other"
	}
}

// ErrNotThunderbolt is returned when a node that was expected to be a
// thunderbolt device node turns out not to be one.
var ErrNotThunderbolt = errors.New("sysfs: not a thunderbolt device node")

// ClassifyNode returns the node's Kind. A Domain is subsystem=thunderbolt,
// devtype=thunderbolt_domain. A thunderbolt_device node is a Host when its
// immediate parent is a Domain, and a Peripheral otherwise.
func ClassifyNode(n Node) Kind {
	if n.Subsystem() != "thunderbolt" {
		return KindOther
	}

	switch n.Devtype() {
	case "thunderbolt_domain":
		return KindDomain
	case "thunderbolt_device":
		if parent, ok := n.Parent(); ok && ClassifyNode(parent) == KindDomain {
			return KindHost
		}
		return KindPeripheral
	default:
		return KindOther
	}
}

// FindDomainAncestor ascends parent links from n until it finds a Domain
// node, returning that domain and the last non-domain node encountered
// (the "host", i.e. the domain's immediate child). It returns ok=false if
// no domain ancestor exists.
func FindDomainAncestor(n Node) (domain Node, host Node, ok bool) {
	cur := n
	for {
		parent, hasParent := cur.Parent()
		if !hasParent {
			return nil, nil, false
		}

		if ClassifyNode(parent) == KindDomain {
			return parent, cur, true
		}

		cur = parent
	}
}

// Identity is a device's human-readable vendor/name pair.
type Identity struct {
	Vendor string
	Name   string
}

func readAttrPreferName(n Node, attr string) (string, bool) {
	if v, ok := n.SysattrValue(attr + "_name"); ok && v != "" {
		return v, true
	}
	return n.SysattrValue(attr)
}

// ReadIdentity reads a peripheral (or DROM-equipped host) identity,
// preferring "<attr>_name" over "<attr>" for both vendor and device.
func ReadIdentity(n Node) (Identity, error) {
	vendor, ok := readAttrPreferName(n, "vendor")
	if !ok {
		return Identity{}, fmt.Errorf("sysfs: %s: could not read vendor", n.Syspath())
	}

	name, ok := readAttrPreferName(n, "device")
	if !ok {
		return Identity{}, fmt.Errorf("sysfs: %s: could not read device name", n.Syspath())
	}

	return Identity{Vendor: vendor, Name: name}, nil
}

// DMI is the minimal read surface for the SMBIOS/DMI fallback source, be it
// a sysfs node at /sys/devices/virtual/dmi/id or a decoded SMBIOS table.
type DMI interface {
	SysVendor() (string, bool)
	ProductName() (string, bool)
	ProductVersion() (string, bool)
}

// ReadHostIdentity reads a Host controller's identity. It first tries the
// normal DROM-backed identity (present on controllers with a Device ROM),
// then falls back to the supplied DMI source, special-casing Lenovo which
// publishes its model under product_version rather than product_name.
func ReadHostIdentity(n Node, dmi DMI) (Identity, error) {
	if ident, err := ReadIdentity(n); err == nil {
		return ident, nil
	}

	if dmi == nil {
		return Identity{}, fmt.Errorf("sysfs: %s: no DROM identity and no DMI source", n.Syspath())
	}

	vendor, ok := dmi.SysVendor()
	if !ok {
		return Identity{}, fmt.Errorf("sysfs: %s: could not read dmi sys_vendor", n.Syspath())
	}

	var name string
	if strings.EqualFold(vendor, "lenovo") {
		vendor = "Lenovo"
		name, ok = dmi.ProductVersion()
	} else {
		name, ok = dmi.ProductName()
	}
	if !ok {
		return Identity{}, fmt.Errorf("sysfs: %s: could not read dmi product identity", n.Syspath())
	}

	return Identity{Vendor: vendor, Name: name}, nil
}

// Security is a domain's security level.
type Security int

const (
	SecurityUnknown Security = iota
	SecurityNone
	SecurityUser
	SecuritySecure
	SecurityDpOnly
	SecurityUsbOnly
)

func parseSecurity(s string) Security {
	switch s {
	case "none":
		return SecurityNone
	case "user":
		return SecurityUser
	case "secure":
		return SecuritySecure
	case "dponly":
		return SecurityDpOnly
	case "usbonly":
		return SecurityUsbOnly
	default:
		return SecurityUnknown
	}
}

// ReadSecurityLevel reads the "security" attribute of n's containing
// domain (or n itself, if n is already a domain).
func ReadSecurityLevel(n Node) (Security, error) {
	domain := n
	if ClassifyNode(n) != KindDomain {
		d, _, ok := FindDomainAncestor(n)
		if !ok {
			return SecurityUnknown, errors.New("sysfs: failed to determine domain device")
		}
		domain = d
	}

	v, ok := domain.SysattrValue("security")
	if !ok {
		return SecurityUnknown, nil
	}

	return parseSecurity(v), nil
}

// LinkSpeed is the receive/transmit lane count and per-lane speed.
type LinkSpeed struct {
	RxLanes uint32
	RxSpeed uint32
	TxLanes uint32
	TxSpeed uint32
}

func readAttrAsUint(n Node, attr string) uint32 {
	v, ok := n.SysattrValue(attr)
	if !ok {
		return 0
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || i < 0 {
		return 0
	}
	return uint32(i)
}

// ReadLinkSpeed reads the four link-speed attributes, each defaulting to 0
// when absent or unparsable.
func ReadLinkSpeed(n Node) LinkSpeed {
	return LinkSpeed{
		RxLanes: readAttrAsUint(n, "rx_lanes"),
		RxSpeed: readAttrAsUint(n, "rx_speed"),
		TxLanes: readAttrAsUint(n, "tx_lanes"),
		TxSpeed: readAttrAsUint(n, "tx_speed"),
	}
}

// Info is a point-in-time snapshot of a device's sysfs-reported state.
// Fields are -1 when unknown, per spec.
type Info struct {
	Authorized int
	KeySize    int
	Boot       int
	Generation int
	Ctime      int64
	Syspath    string
	ParentUID  string
	LinkSpeed  LinkSpeed
}

// ReadInfo reads a full info snapshot for n. It fails only when the
// "authorized" attribute cannot be read; every other field degrades to its
// unknown sentinel.
func ReadInfo(n Node) (Info, error) {
	info := Info{KeySize: -1, Ctime: -1, Generation: -1}

	authStr, ok := n.SysattrValue("authorized")
	if !ok {
		return Info{}, fmt.Errorf("sysfs: %s: %w: could not read 'authorized'", n.Syspath(), ErrAttrUnreadable)
	}
	auth, err := strconv.Atoi(strings.TrimSpace(authStr))
	if err != nil {
		return Info{}, fmt.Errorf("sysfs: %s: %w: malformed 'authorized': %v", n.Syspath(), ErrAttrUnreadable, err)
	}
	info.Authorized = auth

	if keyStr, ok := n.SysattrValue("key"); ok {
		info.KeySize = len(keyStr)
	}

	info.Boot = -1
	if bootStr, ok := n.SysattrValue("boot"); ok {
		if b, err := strconv.Atoi(strings.TrimSpace(bootStr)); err == nil {
			info.Boot = b
		}
	}

	if ct := n.CTime(); ct > 0 {
		info.Ctime = ct
	}
	info.Syspath = n.Syspath()

	if parent, ok := n.Parent(); ok {
		if uid, ok := parent.SysattrValue("unique_id"); ok {
			info.ParentUID = uid
		}
	}

	if genStr, ok := n.SysattrValue("generation"); ok {
		if g, err := strconv.Atoi(strings.TrimSpace(genStr)); err == nil && g > 0 {
			info.Generation = g
		}
	}

	info.LinkSpeed = ReadLinkSpeed(n)

	return info, nil
}

// ErrAttrUnreadable is wrapped into the error ReadInfo returns when the
// mandatory "authorized" attribute cannot be read.
var ErrAttrUnreadable = errors.New("sysfs attribute unreadable")

// ReadBootACL reads the domain's boot_acl attribute and splits it on comma.
// A missing or empty attribute yields a nil slice.
func ReadBootACL(domain Node) ([]string, error) {
	v, ok := domain.SysattrValue("boot_acl")
	if !ok {
		return nil, nil
	}
	if v == "" {
		return nil, nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// WriteBootACL joins acl with commas and writes it back to the domain's
// boot_acl attribute.
func WriteBootACL(domain Node, acl []string) error {
	w, ok := domain.(Writer)
	if !ok {
		return fmt.Errorf("sysfs: %s: node does not support attribute writes", domain.Syspath())
	}
	return w.WriteSysattr("boot_acl", strings.Join(acl, ","))
}

// ReadNHIDeviceID reads the PCI device id of a Host node's NHI controller,
// i.e. the "device" attribute of the host's direct parent in sysfs (the PCI
// function the thunderbolt_device node hangs off).
func ReadNHIDeviceID(n Node) (string, bool) {
	parent, ok := n.Parent()
	if !ok {
		return "", false
	}
	return parent.SysattrValue("device")
}

// ReadNHIVendorID reads the PCI vendor id of a Host node's NHI controller,
// the counterpart of ReadNHIDeviceID used to resolve a human-readable
// vendor/device name for diagnostic logging.
func ReadNHIVendorID(n Node) (string, bool) {
	parent, ok := n.Parent()
	if !ok {
		return "", false
	}
	return parent.SysattrValue("vendor")
}

// ErrNHINotFound is returned by NHIStable for an unrecognized PCI id.
var ErrNHINotFound = errors.New("sysfs: unknown NHI PCI id")

// nhiTable records, per PCI device id, whether the NHI's UUID survives a
// reboot. Unstable controllers require the manager to treat host uids as
// ephemeral across restarts.
var nhiTable = map[uint32]bool{
	0x157d: true,  // WIN_RIDGE_2C_NHI
	0x15bf: true,  // ALPINE_RIDGE_LP_NHI
	0x15d2: true,  // ALPINE_RIDGE_C_4C_NHI
	0x15d9: true,  // ALPINE_RIDGE_C_2C_NHI
	0x15dc: true,  // ALPINE_RIDGE_LP_USBONLY_NHI
	0x15dd: true,  // ALPINE_RIDGE_USBONLY_NHI
	0x15de: true,  // ALPINE_RIDGE_C_USBONLY_NHI
	0x15e8: true,  // TITAN_RIDGE_2C_NHI
	0x15eb: true,  // TITAN_RIDGE_4C_NHI
	0x8a0d: false, // ICL_NHI1
	0x8a17: false, // ICL_NHI0
	0x9a1b: false, // TGL_NHI0
	0x9a1d: false, // TGL_NHI1
}

// NHIStable reports whether the host controller identified by pciID keeps
// a stable UUID across reboots.
func NHIStable(pciID uint32) (bool, error) {
	stable, ok := nhiTable[pciID]
	if !ok {
		return false, fmt.Errorf("%w: 0x%04x", ErrNHINotFound, pciID)
	}
	return stable, nil
}
