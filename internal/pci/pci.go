// Package pci normalises PCI bus addresses and resolves vendor/device ids
// to human-readable names, for the NHI (Native Host Interface) controller a
// Host device sits behind.
package pci

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

// NormaliseAddress expands a PCI address to its full "dddd:bb:dd.f" form
// and lowercases its hex components. An address already missing its domain
// (e.g. "00:00.0", as reported by some sysfs attributes) is assumed to be
// on domain 0000.
func NormaliseAddress(addr string) string {
	if addr == "" {
		return ""
	}

	parts := strings.Split(addr, ":")

	var domain, rest string
	switch len(parts) {
	case 3:
		domain, rest = parts[0], parts[1]+":"+parts[2]
	case 2:
		domain, rest = "0000", parts[0]+":"+parts[1]
	default:
		return strings.ToLower(addr)
	}

	return strings.ToLower(domain + ":" + rest)
}

// DB resolves PCI vendor/device ids to their human-readable names, backed
// by the system's pci.ids database.
type DB struct {
	mu  sync.Mutex
	db  *pcidb.PCIDB
	err error
}

// NewDB loads the PCI id database once, lazily, on first use.
func NewDB() *DB {
	return &DB{}
}

func (d *DB) ensure() (*pcidb.PCIDB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil && d.err == nil {
		d.db, d.err = pcidb.New()
	}
	return d.db, d.err
}

// VendorName resolves a 4-hex-digit vendor id (with or without a "0x"
// prefix) to its registered name. Returns ok=false if the database is
// unavailable or the id is unknown.
func (d *DB) VendorName(vendorID string) (string, bool) {
	db, err := d.ensure()
	if err != nil || db == nil {
		return "", false
	}

	id := normalizeHexID(vendorID)
	v, ok := db.Vendors[id]
	if !ok {
		return "", false
	}
	return v.Name, true
}

// DeviceName resolves a vendor/device id pair to the device's registered
// name.
func (d *DB) DeviceName(vendorID, deviceID string) (string, bool) {
	db, err := d.ensure()
	if err != nil || db == nil {
		return "", false
	}

	v, ok := db.Vendors[normalizeHexID(vendorID)]
	if !ok {
		return "", false
	}
	for _, p := range v.Products {
		if p.ID == normalizeHexID(deviceID) {
			return p.Name, true
		}
	}
	return "", false
}

func normalizeHexID(id string) string {
	id = strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X"))
	return id
}

// ParsePCIID parses a "0x157d"-style sysfs attribute into a uint32, for the
// NHI stability table lookup.
func ParsePCIID(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("pci: malformed id %q: %w", s, err)
	}
	return uint32(v), nil
}
