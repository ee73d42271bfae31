package bolt

import (
	"context"
	"sync"

	"github.com/smallorange/bolt/internal/sysfs"
)

// fakeNode is a minimal in-memory sysfs.Node/Writer for manager tests.
type fakeNode struct {
	syspath   string
	sysname   string
	subsystem string
	devtype   string
	attrs     map[string]string
	parent    *fakeNode
}

func (n *fakeNode) Syspath() string   { return n.syspath }
func (n *fakeNode) Sysname() string   { return n.sysname }
func (n *fakeNode) Subsystem() string { return n.subsystem }
func (n *fakeNode) Devtype() string   { return n.devtype }
func (n *fakeNode) CTime() int64      { return 0 }

func (n *fakeNode) SysattrValue(attr string) (string, bool) {
	v, ok := n.attrs[attr]
	return v, ok
}

func (n *fakeNode) Parent() (sysfs.Node, bool) {
	if n.parent == nil {
		return nil, false
	}
	return n.parent, true
}

func (n *fakeNode) WriteSysattr(attr, value string) error {
	n.attrs[attr] = value
	return nil
}

func newDomainNode() *fakeNode {
	return &fakeNode{
		syspath: "/sys/bus/thunderbolt/devices/domain0", sysname: "domain0",
		subsystem: "thunderbolt", devtype: "thunderbolt_domain",
		attrs: map[string]string{"security": "user"},
	}
}

func newHostNode(uid string, authorized int, domain *fakeNode) *fakeNode {
	return &fakeNode{
		syspath: "/sys/bus/thunderbolt/devices/0-0", sysname: "0-0",
		subsystem: "thunderbolt", devtype: "thunderbolt_device", parent: domain,
		attrs: map[string]string{
			"unique_id":   uid,
			"authorized":  itoa(authorized),
			"vendor_name": "Intel",
			"device_name": "JHL7540",
			"generation":  "3",
		},
	}
}

func newPeripheralNode(uid, syspath string, authorized int, parent *fakeNode) *fakeNode {
	return &fakeNode{
		syspath: syspath, sysname: "0-1",
		subsystem: "thunderbolt", devtype: "thunderbolt_device", parent: parent,
		attrs: map[string]string{
			"unique_id":   uid,
			"authorized":  itoa(authorized),
			"vendor_name": "Apple",
			"device_name": "Thunderbolt Dock",
			"generation":  "3",
		},
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	return "1"
}

// fakeEventSource gives tests direct control over enumeration and the event
// stream.
type fakeEventSource struct {
	initial []sysfs.Node
	events  chan RawEvent
	closed  bool
}

func newFakeEventSource(initial ...sysfs.Node) *fakeEventSource {
	return &fakeEventSource{initial: initial, events: make(chan RawEvent, 16)}
}

func (f *fakeEventSource) Enumerate() ([]sysfs.Node, error) { return f.initial, nil }
func (f *fakeEventSource) Events() <-chan RawEvent          { return f.events }
func (f *fakeEventSource) Close() error                     { f.closed = true; return nil }

func (f *fakeEventSource) send(action string, n sysfs.Node) {
	f.events <- RawEvent{Action: action, Node: n}
}

// fakeAuthorizer records every uid it is asked to authorize and succeeds
// unless that uid is marked in fail.
type fakeAuthorizer struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func newFakeAuthorizer() *fakeAuthorizer {
	return &fakeAuthorizer{fail: map[string]bool{}}
}

func (a *fakeAuthorizer) Authorize(uid string, secure bool, key []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, uid)
	if a.fail[uid] {
		return &AuthError{UID: uid, Err: context.DeadlineExceeded}
	}
	return nil
}

func (a *fakeAuthorizer) authorizedUIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.seen))
	copy(out, a.seen)
	return out
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]StoredDevice
}

func newFakeStore(recs ...StoredDevice) *fakeStore {
	s := &fakeStore{records: map[string]StoredDevice{}}
	for _, r := range recs {
		s.records[r.UID] = r
	}
	return s
}

func (s *fakeStore) ListUIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for uid := range s.records {
		out = append(out, uid)
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, uid string) (StoredDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[uid]
	if !ok {
		return StoredDevice{}, &StoreError{UID: uid, Kind: StoreNotFound, Err: context.Canceled}
	}
	return rec, nil
}

func (s *fakeStore) Put(ctx context.Context, rec StoredDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UID] = rec
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, uid)
	return nil
}

// fakeSink records every notification it receives.
type fakeSink struct {
	mu   sync.Mutex
	seen []DeviceView
}

func newFakeSink() *fakeSink { return &fakeSink{} }

func (s *fakeSink) Export(v DeviceView) { s.mu.Lock(); defer s.mu.Unlock(); s.seen = append(s.seen, v) }
func (s *fakeSink) Unexport(string)     {}
func (s *fakeSink) Emit(v DeviceView)   { s.mu.Lock(); defer s.mu.Unlock(); s.seen = append(s.seen, v) }
func (s *fakeSink) List() []DeviceView  { return nil }
