package bolt

// authJob is one unit of work handed to the idle queue: authorize uid,
// optionally with a secure key.
type authJob struct {
	uid    string
	secure bool
	key    []byte
}

// authResult is posted back to the manager's event loop once a worker
// finishes an authorization write, so the table mutation that follows it
// (SetAuthResult, re-evaluating children) happens on the single loop
// goroutine rather than on the worker.
type authResult struct {
	uid    string
	secure bool
	err    error
}

// maybeAuthorize dispatches d to the idle queue if, and only if, every
// precondition holds: not already authorized, policy is Auto, the device is
// stored, and (for non-host devices) its parent is already authorized. Host
// devices are the root of their domain and are exempt from the parent
// check, matching the "host or parent-authorized" exception to invariant 4.
func (m *Manager) maybeAuthorize(d *Device) {
	if d.Status().IsAuthorized() {
		return
	}
	if d.Policy() != PolicyAuto {
		return
	}
	if !d.Stored() {
		return
	}
	if d.Status() != StatusConnected {
		// Disconnected or already in AuthError: nothing to dispatch. A
		// fresh connect/reconnect will re-evaluate.
		return
	}

	if !d.IsHost() {
		parent, err := parentOf(m, d)
		if err != nil {
			m.log.WithError(err).WithField("uid", d.UID()).Warn("refusing authorization: topology lookup failed")
			return
		}
		if parent == nil {
			m.log.WithField("uid", d.UID()).Warn("refusing authorization: parent device not found")
			return
		}
		if !parent.Status().IsAuthorized() {
			m.log.WithField("uid", d.UID()).Debug("deferring authorization until parent is authorized")
			return
		}
	}

	secure := len(d.Key()) > 0
	m.authq.submit(authJob{uid: d.UID(), secure: secure, key: d.Key()})
}

// handleAuthResult applies a completed authorization attempt to its device
// and, on success, re-evaluates every child that may have been waiting on
// it, per the parent-before-child ordering invariant.
func (m *Manager) handleAuthResult(res authResult) {
	d, ok := m.deviceByUID(res.uid)
	if !ok {
		// Device vanished (unplugged) while authorization was in flight.
		return
	}

	status := d.SetAuthResult(res.secure, res.err)
	m.sink.Emit(newDeviceView(d))

	if res.err != nil {
		m.log.WithError(res.err).WithField("uid", res.uid).Warn("authorization failed")
		return
	}

	m.log.WithField("uid", res.uid).WithField("status", status.String()).Info("device authorized")
	m.recordBootAuthorization(res.uid)

	for _, child := range childrenOf(m, d) {
		m.maybeAuthorize(child)
	}
}
