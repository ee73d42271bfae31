package sysfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	syspath   string
	sysname   string
	subsystem string
	devtype   string
	attrs     map[string]string
	parent    *fakeNode
	ctime     int64
	written   map[string]string
}

func (n *fakeNode) Syspath() string   { return n.syspath }
func (n *fakeNode) Sysname() string   { return n.sysname }
func (n *fakeNode) Subsystem() string { return n.subsystem }
func (n *fakeNode) Devtype() string   { return n.devtype }
func (n *fakeNode) CTime() int64      { return n.ctime }

func (n *fakeNode) SysattrValue(attr string) (string, bool) {
	v, ok := n.attrs[attr]
	return v, ok
}

func (n *fakeNode) Parent() (Node, bool) {
	if n.parent == nil {
		return nil, false
	}
	return n.parent, true
}

func (n *fakeNode) WriteSysattr(attr, value string) error {
	if n.written == nil {
		n.written = map[string]string{}
	}
	n.written[attr] = value
	return nil
}

type fakeDMI struct {
	vendor, product, version string
}

func (d fakeDMI) SysVendor() (string, bool)      { return d.vendor, d.vendor != "" }
func (d fakeDMI) ProductName() (string, bool)    { return d.product, d.product != "" }
func (d fakeDMI) ProductVersion() (string, bool) { return d.version, d.version != "" }

func domainNode() *fakeNode {
	return &fakeNode{
		syspath:   "/sys/bus/thunderbolt/devices/domain0",
		sysname:   "domain0",
		subsystem: "thunderbolt",
		devtype:   "thunderbolt_domain",
		attrs:     map[string]string{"security": "user"},
	}
}

func TestClassifyNode(t *testing.T) {
	domain := domainNode()
	host := &fakeNode{
		syspath: "0-0", sysname: "0-0", subsystem: "thunderbolt",
		devtype: "thunderbolt_device", parent: domain,
		attrs: map[string]string{"unique_id": "host-uid"},
	}
	peripheral := &fakeNode{
		syspath: "0-1", sysname: "0-1", subsystem: "thunderbolt",
		devtype: "thunderbolt_device", parent: host,
		attrs: map[string]string{"unique_id": "peripheral-uid"},
	}
	other := &fakeNode{subsystem: "usb", devtype: "usb_device"}

	assert.Equal(t, KindDomain, ClassifyNode(domain))
	assert.Equal(t, KindHost, ClassifyNode(host))
	assert.Equal(t, KindPeripheral, ClassifyNode(peripheral))
	assert.Equal(t, KindOther, ClassifyNode(other))
}

func TestFindDomainAncestor(t *testing.T) {
	domain := domainNode()
	host := &fakeNode{devtype: "thunderbolt_device", subsystem: "thunderbolt", parent: domain}
	peripheral := &fakeNode{devtype: "thunderbolt_device", subsystem: "thunderbolt", parent: host}

	d, h, ok := FindDomainAncestor(peripheral)
	require.True(t, ok)
	assert.Same(t, domain, d)
	assert.Same(t, host, h)

	_, _, ok = FindDomainAncestor(domain)
	assert.False(t, ok, "a domain has no domain ancestor of its own")
}

func TestReadIdentity_PrefersNameAttr(t *testing.T) {
	n := &fakeNode{attrs: map[string]string{
		"vendor":      "0x8086",
		"vendor_name": "Intel",
		"device":      "0x1234",
		"device_name": "JHL7540",
	}}

	ident, err := ReadIdentity(n)
	require.NoError(t, err)
	assert.Equal(t, Identity{Vendor: "Intel", Name: "JHL7540"}, ident)
}

func TestReadIdentity_MissingVendor(t *testing.T) {
	n := &fakeNode{attrs: map[string]string{"device": "0x1234"}}
	_, err := ReadIdentity(n)
	assert.Error(t, err)
}

func TestReadHostIdentity_FallsBackToDMI(t *testing.T) {
	n := &fakeNode{syspath: "0-0", attrs: map[string]string{}}
	dmi := fakeDMI{vendor: "Dell Inc.", product: "XPS 13"}

	ident, err := ReadHostIdentity(n, dmi)
	require.NoError(t, err)
	assert.Equal(t, Identity{Vendor: "Dell Inc.", Name: "XPS 13"}, ident)
}

func TestReadHostIdentity_LenovoUsesProductVersion(t *testing.T) {
	n := &fakeNode{syspath: "0-0", attrs: map[string]string{}}
	dmi := fakeDMI{vendor: "LENOVO", product: "should-not-be-used", version: "ThinkPad X1 Carbon"}

	ident, err := ReadHostIdentity(n, dmi)
	require.NoError(t, err)
	assert.Equal(t, "Lenovo", ident.Vendor)
	assert.Equal(t, "ThinkPad X1 Carbon", ident.Name)
}

func TestReadHostIdentity_PrefersDROM(t *testing.T) {
	n := &fakeNode{attrs: map[string]string{"vendor": "0x8086", "device": "NHI"}}
	dmi := fakeDMI{vendor: "Dell Inc.", product: "XPS 13"}

	ident, err := ReadHostIdentity(n, dmi)
	require.NoError(t, err)
	assert.Equal(t, Identity{Vendor: "0x8086", Name: "NHI"}, ident)
}

func TestFallbackDMI_PrefersPrimary(t *testing.T) {
	primary := fakeDMI{vendor: "Dell Inc.", product: "XPS 13", version: "v1"}
	secondary := fakeDMI{vendor: "should-not-be-used", product: "should-not-be-used", version: "should-not-be-used"}
	dmi := &fallbackDMI{primary: primary, secondary: secondary}

	vendor, ok := dmi.SysVendor()
	require.True(t, ok)
	assert.Equal(t, "Dell Inc.", vendor)

	name, ok := dmi.ProductName()
	require.True(t, ok)
	assert.Equal(t, "XPS 13", name)
}

func TestFallbackDMI_FallsBackPerField(t *testing.T) {
	primary := fakeDMI{vendor: "", product: "XPS 13", version: ""}
	secondary := fakeDMI{vendor: "Dell Inc.", product: "should-not-be-used", version: "v1"}
	dmi := &fallbackDMI{primary: primary, secondary: secondary}

	vendor, ok := dmi.SysVendor()
	require.True(t, ok)
	assert.Equal(t, "Dell Inc.", vendor, "empty primary field falls back to secondary")

	name, ok := dmi.ProductName()
	require.True(t, ok)
	assert.Equal(t, "XPS 13", name, "non-empty primary field is never overridden")

	version, ok := dmi.ProductVersion()
	require.True(t, ok)
	assert.Equal(t, "v1", version)
}

func TestReadSecurityLevel(t *testing.T) {
	domain := domainNode()
	peripheral := &fakeNode{devtype: "thunderbolt_device", subsystem: "thunderbolt", parent: domain}

	s, err := ReadSecurityLevel(peripheral)
	require.NoError(t, err)
	assert.Equal(t, SecurityUser, s)

	s, err = ReadSecurityLevel(domain)
	require.NoError(t, err)
	assert.Equal(t, SecurityUser, s)
}

func TestReadSecurityLevel_NoDomain(t *testing.T) {
	orphan := &fakeNode{devtype: "thunderbolt_device", subsystem: "thunderbolt"}
	_, err := ReadSecurityLevel(orphan)
	assert.Error(t, err)
}

func TestReadLinkSpeed_DefaultsToZero(t *testing.T) {
	n := &fakeNode{attrs: map[string]string{"rx_lanes": "2", "rx_speed": "20"}}
	speed := ReadLinkSpeed(n)
	assert.Equal(t, LinkSpeed{RxLanes: 2, RxSpeed: 20, TxLanes: 0, TxSpeed: 0}, speed)
}

func TestReadInfo_RequiresAuthorized(t *testing.T) {
	n := &fakeNode{syspath: "0-1", attrs: map[string]string{}}
	_, err := ReadInfo(n)
	assert.ErrorIs(t, err, ErrAttrUnreadable)
}

func TestReadInfo_Full(t *testing.T) {
	parent := &fakeNode{attrs: map[string]string{"unique_id": "parent-uid"}}
	n := &fakeNode{
		syspath: "/sys/bus/thunderbolt/devices/0-1",
		parent:  parent,
		ctime:   1700000000,
		attrs: map[string]string{
			"authorized": "1",
			"key":        "0123456789abcdef0123456789abcdef",
			"boot":       "1",
			"generation": "3",
			"rx_lanes":   "2",
		},
	}

	info, err := ReadInfo(n)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Authorized)
	assert.Equal(t, 32, info.KeySize)
	assert.Equal(t, 1, info.Boot)
	assert.Equal(t, 3, info.Generation)
	assert.Equal(t, int64(1700000000), info.Ctime)
	assert.Equal(t, "parent-uid", info.ParentUID)
	assert.EqualValues(t, 2, info.LinkSpeed.RxLanes)
}

func TestBootACLRoundTrip(t *testing.T) {
	domain := domainNode()
	acl := []string{"uuid-1", "uuid-2", "uuid-3"}

	err := WriteBootACL(domain, acl)
	require.NoError(t, err)

	domain.attrs["boot_acl"] = domain.written["boot_acl"]

	got, err := ReadBootACL(domain)
	require.NoError(t, err)
	assert.Equal(t, acl, got)
}

func TestReadBootACL_EmptyYieldsNil(t *testing.T) {
	domain := domainNode()
	domain.attrs["boot_acl"] = ""

	got, err := ReadBootACL(domain)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadNHIDeviceID(t *testing.T) {
	parent := &fakeNode{attrs: map[string]string{"device": "0x157d"}}
	host := &fakeNode{parent: parent}

	id, ok := ReadNHIDeviceID(host)
	require.True(t, ok)
	assert.Equal(t, "0x157d", id)

	orphan := &fakeNode{}
	_, ok = ReadNHIDeviceID(orphan)
	assert.False(t, ok)
}

func TestReadNHIVendorID(t *testing.T) {
	parent := &fakeNode{attrs: map[string]string{"vendor": "0x8086"}}
	host := &fakeNode{parent: parent}

	id, ok := ReadNHIVendorID(host)
	require.True(t, ok)
	assert.Equal(t, "0x8086", id)

	orphan := &fakeNode{}
	_, ok = ReadNHIVendorID(orphan)
	assert.False(t, ok)
}

func TestNHIStable(t *testing.T) {
	stable, err := NHIStable(0x157d)
	require.NoError(t, err)
	assert.True(t, stable)

	stable, err = NHIStable(0x8a0d)
	require.NoError(t, err)
	assert.False(t, stable)

	_, err = NHIStable(0xffff)
	assert.ErrorIs(t, err, ErrNHINotFound)
}
