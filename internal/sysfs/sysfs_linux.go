package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/digitalocean/go-smbios/smbios"
	"github.com/jochenvg/go-udev"
)

// UdevNode adapts a *udev.Device to the Node/Writer interfaces.
type UdevNode struct {
	dev *udev.Device
}

// NewUdevNode wraps a live udev device handle.
func NewUdevNode(dev *udev.Device) *UdevNode {
	return &UdevNode{dev: dev}
}

func (n *UdevNode) Syspath() string  { return n.dev.Syspath() }
func (n *UdevNode) Sysname() string  { return n.dev.Sysname() }
func (n *UdevNode) Subsystem() string { return n.dev.Subsystem() }
func (n *UdevNode) Devtype() string  { return n.dev.Devtype() }

func (n *UdevNode) SysattrValue(attr string) (string, bool) {
	v := n.dev.SysattrValue(attr)
	if v == "" {
		return "", false
	}
	return v, true
}

func (n *UdevNode) Parent() (Node, bool) {
	p := n.dev.Parent()
	if p == nil {
		return nil, false
	}
	return &UdevNode{dev: p}, true
}

func (n *UdevNode) CTime() int64 {
	sb, err := os.Lstat(n.dev.Syspath())
	if err != nil {
		return 0
	}
	stat, ok := sb.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	sec := stat.Ctim.Sec
	if sec < 0 {
		return 0
	}
	return sec
}

// WriteSysattr writes value directly to the attr file under the device's
// syspath. go-udev has no write primitive for sysfs attributes, so the
// authorization and boot_acl writes go through the filesystem directly,
// exactly as the kernel documents them.
func (n *UdevNode) WriteSysattr(attr, value string) error {
	path := filepath.Join(n.dev.Syspath(), attr)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("sysfs: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(value); err != nil {
		return fmt.Errorf("sysfs: write %s: %w", path, err)
	}
	return nil
}

// DMIDir is the fixed sysfs location of the SMBIOS/DMI identity block.
const DMIDir = "/sys/devices/virtual/dmi/id"

// dmiSysfs reads the DMI fallback identity directly from sysfs files.
type dmiSysfs struct {
	dir string
}

// NewDMISysfs returns a DMI source backed by /sys/devices/virtual/dmi/id.
func NewDMISysfs() DMI {
	return &dmiSysfs{dir: DMIDir}
}

func readTrimmed(path string) (string, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func (d *dmiSysfs) SysVendor() (string, bool)      { return readTrimmed(filepath.Join(d.dir, "sys_vendor")) }
func (d *dmiSysfs) ProductName() (string, bool)    { return readTrimmed(filepath.Join(d.dir, "product_name")) }
func (d *dmiSysfs) ProductVersion() (string, bool) { return readTrimmed(filepath.Join(d.dir, "product_version")) }

// smbiosDMI is the secondary DMI source: a direct SMBIOS table decode,
// used when /sys/devices/virtual/dmi/id is unavailable (e.g. certain
// containerised hosts that still expose thunderbolt sysfs nodes via a
// passthrough but not the virtual DMI tree).
type smbiosDMI struct {
	manufacturer string
	productName  string
	version      string
	ok           bool
}

// smbiosSystemInformationType is the SMBIOS structure type for "System
// Information" (DSP0134 §7.2), which carries Manufacturer/Product
// Name/Version as indexed strings.
const smbiosSystemInformationType = 1

// NewSMBIOSDMI decodes the live SMBIOS table and extracts the System
// Information structure.
func NewSMBIOSDMI() (DMI, error) {
	rc, _, err := smbios.Stream()
	if err != nil {
		return nil, fmt.Errorf("sysfs: smbios stream: %w", err)
	}
	defer rc.Close()

	decoder := smbios.NewDecoder(rc)
	structures, err := decoder.Decode()
	if err != nil {
		return nil, fmt.Errorf("sysfs: smbios decode: %w", err)
	}

	out := &smbiosDMI{}
	for _, s := range structures {
		if s.Header.Type != smbiosSystemInformationType {
			continue
		}
		out.manufacturer = smbiosString(s, 0)
		out.productName = smbiosString(s, 1)
		out.version = smbiosString(s, 2)
		out.ok = true
		break
	}

	if !out.ok {
		return nil, fmt.Errorf("sysfs: smbios: no System Information structure")
	}
	return out, nil
}

func smbiosString(s *smbios.Structure, formattedOffset int) string {
	if formattedOffset >= len(s.Formatted) {
		return ""
	}
	idx := int(s.Formatted[formattedOffset])
	if idx == 0 || idx > len(s.Strings) {
		return ""
	}
	return strings.TrimSpace(s.Strings[idx-1])
}

func (d *smbiosDMI) SysVendor() (string, bool) {
	return d.manufacturer, d.manufacturer != ""
}

func (d *smbiosDMI) ProductName() (string, bool) {
	return d.productName, d.productName != ""
}

func (d *smbiosDMI) ProductVersion() (string, bool) {
	return d.version, d.version != ""
}

// fallbackDMI tries primary first, field by field, and falls back to
// secondary — used to compose the direct sysfs DMI source with a live
// SMBIOS table decode for hosts where /sys/devices/virtual/dmi/id is
// unreadable (e.g. certain containerised passthrough setups that still
// expose thunderbolt sysfs nodes) but SMBIOS is still available.
type fallbackDMI struct {
	primary, secondary DMI
}

// NewFallbackDMI composes NewDMISysfs with NewSMBIOSDMI: sysfs is
// preferred since it's a cheap, unprivileged read; SMBIOS is tried only
// when a given sysfs field comes back unreadable. If the SMBIOS table
// itself can't be decoded at all (no System Information structure, no
// /dev/mem access), the sysfs source is used alone.
func NewFallbackDMI() DMI {
	primary := NewDMISysfs()
	secondary, err := NewSMBIOSDMI()
	if err != nil {
		return primary
	}
	return &fallbackDMI{primary: primary, secondary: secondary}
}

func (d *fallbackDMI) SysVendor() (string, bool) {
	if v, ok := d.primary.SysVendor(); ok {
		return v, true
	}
	return d.secondary.SysVendor()
}

func (d *fallbackDMI) ProductName() (string, bool) {
	if v, ok := d.primary.ProductName(); ok {
		return v, true
	}
	return d.secondary.ProductName()
}

func (d *fallbackDMI) ProductVersion() (string, bool) {
	if v, ok := d.primary.ProductVersion(); ok {
		return v, true
	}
	return d.secondary.ProductVersion()
}

// ReadIOMMU reports whether the IOMMU-backed DMA protection flag is set on
// the device's domain.
func ReadIOMMU(n Node) (bool, error) {
	v, ok := n.SysattrValue(iommuAttr)
	if !ok {
		return false, nil
	}
	return v != "0" && v != "", nil
}

const iommuAttr = "iommu_dma_protection"
