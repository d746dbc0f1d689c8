package hci

import (
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/adv"
	"github.com/rigado/btcontrol/linux/hci/cmd"
	"github.com/rigado/btcontrol/linux/hci/evt"
)

func (h *Channel) handleInquiryComplete(b []byte) error {
	status, err := evt.InquiryComplete(b).StatusWErr()
	if err != nil {
		return err
	}
	if status != 0 {
		h.log.Warnf("inquiry complete: %v", ErrCommand(status))
	}

	h.muInq.Lock()
	if h.inquiry != nil {
		close(h.inquiry)
		h.inquiry = nil
	}
	h.muInq.Unlock()
	return nil
}

func (h *Channel) inquiryActive() bool {
	h.muInq.Lock()
	defer h.muInq.Unlock()
	return h.inquiry != nil
}

func (h *Channel) handleInquiryResult(b []byte) error {
	e := evt.InquiryResult(b)
	n, err := e.NumResponsesWErr()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		raw, err := e.BDADDRWErr(i)
		if err != nil {
			return err
		}
		h.discoveredClassic(raw, "")
	}
	return nil
}

func (h *Channel) handleInquiryResultWithRSSI(b []byte) error {
	e := evt.InquiryResultWithRSSI(b)
	n, err := e.NumResponsesWErr()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		raw, err := e.BDADDRWErr(i)
		if err != nil {
			return err
		}
		h.discoveredClassic(raw, "")
	}
	return nil
}

func (h *Channel) handleExtendedInquiryResult(b []byte) error {
	e := evt.ExtendedInquiryResult(b)
	raw, err := e.BDADDRWErr()
	if err != nil {
		return err
	}
	data, err := e.DataWErr()
	if err != nil {
		return err
	}
	name, _ := adv.Name(data)
	h.discoveredClassic(raw, name)
	return nil
}

func (h *Channel) discoveredClassic(raw []byte, name string) {
	if !h.inquiryActive() {
		return
	}
	a, err := btcontrol.AddressFromWire(raw, btcontrol.Classic)
	if err != nil {
		h.log.Warnf("inquiry result: %v", err)
		return
	}
	h.listener.Discovered(false, a, name)
}

func (h *Channel) handleConnectionComplete(b []byte) error {
	e := evt.ConnectionComplete(b)
	status, err := e.StatusWErr()
	if err != nil {
		return err
	}
	handle, err := e.ConnectionHandleWErr()
	if err != nil {
		return err
	}
	raw, err := e.BDADDRWErr()
	if err != nil {
		return err
	}
	lt, err := e.LinkTypeWErr()
	if err != nil {
		return err
	}
	if lt != LinkTypeACL {
		return nil
	}
	a, err := btcontrol.AddressFromWire(raw, btcontrol.Classic)
	if err != nil {
		return err
	}

	h.log.Debugf("connection complete %v handle %d status 0x%02x", a, handle, status)
	if status != 0 {
		handle = InvalidHandle
	}
	h.listener.ConnectionComplete(Connection{Status: status, Handle: handle, Addr: a, Role: RoleMaster})
	if status == 0 && h.cfg.Exclusive {
		h.sendAsync(&cmd.ReadRemoteSupportedFeatures{ConnectionHandle: handle})
	}
	return nil
}

func (h *Channel) handleDisconnectionComplete(b []byte) error {
	e := evt.DisconnectionComplete(b)
	status, err := e.StatusWErr()
	if err != nil {
		return err
	}
	handle, err := e.ConnectionHandleWErr()
	if err != nil {
		return err
	}
	reason, err := e.ReasonWErr()
	if err != nil {
		return err
	}
	if status != 0 {
		h.log.Warnf("disconnect handle %d failed: %v", handle, ErrCommand(status))
		return nil
	}
	h.log.Debugf("disconnection complete handle %d reason 0x%02x", handle, reason)
	h.listener.DisconnectionComplete(handle, reason)
	return nil
}

func (h *Channel) handleRemoteNameRequestComplete(b []byte) error {
	e := evt.RemoteNameRequestComplete(b)
	status, err := e.StatusWErr()
	if err != nil {
		return err
	}
	raw, err := e.BDADDRWErr()
	if err != nil {
		return err
	}
	a, err := btcontrol.AddressFromWire(raw, btcontrol.Classic)
	if err != nil {
		return err
	}
	if status != 0 {
		h.log.Debugf("remote name of %v: %v", a, ErrCommand(status))
		return nil
	}
	name, err := e.RemoteNameWErr()
	if err != nil {
		return err
	}
	h.listener.RemoteName(a, name)
	return nil
}

func (h *Channel) handleReadRemoteSupportedFeaturesComplete(b []byte) error {
	e := evt.ReadRemoteSupportedFeaturesComplete(b)
	status, err := e.StatusWErr()
	if err != nil {
		return err
	}
	handle, err := e.ConnectionHandleWErr()
	if err != nil {
		return err
	}
	if status != 0 {
		h.log.Debugf("remote features of handle %d: %v", handle, ErrCommand(status))
		return nil
	}
	f, err := e.FeaturesWErr()
	if err != nil {
		return err
	}
	h.listener.Features(handle, f)
	return nil
}

func (h *Channel) handleIOCapabilityResponse(b []byte) error {
	e := evt.IOCapabilityResponse(b)
	raw, err := e.BDADDRWErr()
	if err != nil {
		return err
	}
	a, err := btcontrol.AddressFromWire(raw, btcontrol.Classic)
	if err != nil {
		return err
	}
	io, err := e.IOCapabilityWErr()
	if err != nil {
		return err
	}
	oob, err := e.OOBDataPresentWErr()
	if err != nil {
		return err
	}
	auth, err := e.AuthenticationRequirementsWErr()
	if err != nil {
		return err
	}
	h.listener.Capabilities(a, io, oob, auth)
	return nil
}

func (h *Channel) handleLEConnectionComplete(b []byte) error {
	e := evt.LEConnectionComplete(b)
	status, err := e.StatusWErr()
	if err != nil {
		return err
	}
	handle, err := e.ConnectionHandleWErr()
	if err != nil {
		return err
	}
	role, err := e.RoleWErr()
	if err != nil {
		return err
	}
	pt, err := e.PeerAddressTypeWErr()
	if err != nil {
		return err
	}
	raw, err := e.PeerAddressWErr()
	if err != nil {
		return err
	}
	a, err := btcontrol.AddressFromWire(raw, btcontrol.KindFromHCI(pt))
	if err != nil {
		return err
	}
	c := Connection{Status: status, Handle: handle, Addr: a, Role: role}
	if c.Interval, err = e.ConnIntervalWErr(); err != nil {
		return err
	}
	if c.Latency, err = e.ConnLatencyWErr(); err != nil {
		return err
	}
	if c.Timeout, err = e.SupervisionTimeoutWErr(); err != nil {
		return err
	}

	h.log.Debugf("le connection complete %v handle %d status 0x%02x", a, handle, status)
	if status != 0 {
		c.Handle = InvalidHandle
	}
	h.listener.ConnectionComplete(c)
	if status == 0 && h.cfg.Exclusive {
		h.sendAsync(&cmd.LEReadRemoteUsedFeatures{ConnectionHandle: handle})
	}
	return nil
}

func (h *Channel) handleLEConnectionUpdateComplete(b []byte) error {
	e := evt.LEConnectionUpdateComplete(b)
	status, err := e.StatusWErr()
	if err != nil {
		return err
	}
	c := Connection{Status: status}
	if c.Handle, err = e.ConnectionHandleWErr(); err != nil {
		return err
	}
	if status != 0 {
		h.log.Debugf("connection update of handle %d: %v", c.Handle, ErrCommand(status))
		return nil
	}
	if c.Interval, err = e.ConnIntervalWErr(); err != nil {
		return err
	}
	if c.Latency, err = e.ConnLatencyWErr(); err != nil {
		return err
	}
	if c.Timeout, err = e.SupervisionTimeoutWErr(); err != nil {
		return err
	}
	h.listener.ConnectionUpdate(c)
	return nil
}

func (h *Channel) handleLEReadRemoteUsedFeaturesComplete(b []byte) error {
	e := evt.LEReadRemoteUsedFeaturesComplete(b)
	status, err := e.StatusWErr()
	if err != nil {
		return err
	}
	handle, err := e.ConnectionHandleWErr()
	if err != nil {
		return err
	}
	if status != 0 {
		h.log.Debugf("le features of handle %d: %v", handle, ErrCommand(status))
		return nil
	}
	f, err := e.FeaturesWErr()
	if err != nil {
		return err
	}
	h.listener.Features(handle, f)
	return nil
}

// leFilter holds the state of the LE scan in progress.
type leFilter struct {
	limited bool
	seen    map[btcontrol.Address]bool
}

// accept applies limited discovery. A scan response carries no flags, so it
// passes when its advertiser did.
func (f *leFilter) accept(a btcontrol.Address, data []byte) bool {
	if !f.limited {
		return true
	}
	if flags, ok := adv.Flags(data); ok {
		if flags&adv.FlagLimitedDiscoverable != 0 {
			f.seen[a] = true
			return true
		}
		return false
	}
	return f.seen[a]
}

func (h *Channel) handleLEAdvertisingReport(b []byte) error {
	h.muLE.Lock()
	f := h.leFilter
	h.muLE.Unlock()
	if f == nil {
		return nil
	}

	e := evt.LEAdvertisingReport(b)
	n, err := e.NumReportsWErr()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		at, err := e.AddressTypeWErr(i)
		if err != nil {
			return err
		}
		raw, err := e.AddressWErr(i)
		if err != nil {
			return err
		}
		data, err := e.DataWErr(i)
		if err != nil {
			return err
		}
		a, err := btcontrol.AddressFromWire(raw, btcontrol.KindFromHCI(at))
		if err != nil {
			h.log.Debugf("advertising report: %v", err)
			continue
		}
		if !f.accept(a, data) {
			continue
		}
		name, typ := adv.Name(data)
		if typ == 0 || name == "" {
			continue
		}
		h.listener.Discovered(true, a, name)
	}
	return nil
}
