package hci

import (
	"time"

	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/hci/cmd"
)

// inquiry may overrun its nominal length a little
const inquiryGrace = 2 * time.Second

// ScanClassic queues a BR/EDR inquiry of duration d. It reports false when
// the channel is closed or a scan is already in flight.
func (h *Channel) ScanClassic(d time.Duration, limited bool) bool {
	if !h.IsOpen() {
		return false
	}
	return h.scan.Load(ScanRequest{Duration: d, Limited: limited})
}

// ScanLowEnergy queues an LE scan of duration d; passive scans send no scan
// requests.
func (h *Channel) ScanLowEnergy(d time.Duration, limited, passive bool) bool {
	if !h.IsOpen() {
		return false
	}
	return h.scan.Load(ScanRequest{LowEnergy: true, Duration: d, Limited: limited, Passive: passive})
}

// IsScanning reports whether a scan is queued or running.
func (h *Channel) IsScanning() bool {
	return h.scan.InFlight()
}

func (h *Channel) runScan(r ScanRequest) {
	ses, err := h.current()
	if err != nil {
		h.log.Warnf("scan: %v", err)
		return
	}
	start := time.Now()
	if r.LowEnergy {
		err = h.scanLowEnergy(ses, r)
	} else {
		err = h.scanClassic(ses, r)
	}
	if err != nil {
		h.log.Warnf("scan: %v", err)
		return
	}
	h.log.Debugf("scan done after %v", time.Since(start))
}

// wait sleeps for d; it returns early once the channel is closing.
func (ses *session) wait(d time.Duration, until <-chan struct{}) {
	select {
	case <-time.After(d):
	case <-until:
	case <-ses.closing:
	case <-ses.done:
	}
}

func (h *Channel) scanClassic(ses *session, r ScanRequest) error {
	n := int(r.Duration / inquiryUnit)
	switch {
	case n < 1:
		n = 1
	case n > inquiryLengthMax:
		n = inquiryLengthMax
	}
	lap := GIAC
	if r.Limited {
		lap = LIAC
	}

	done := make(chan struct{})
	h.muInq.Lock()
	h.inquiry = done
	h.muInq.Unlock()
	defer func() {
		h.muInq.Lock()
		if h.inquiry == done {
			h.inquiry = nil
		}
		h.muInq.Unlock()
	}()

	if _, err := h.Send(&cmd.Inquiry{LAP: lap, InquiryLength: uint8(n)}); err != nil {
		return err
	}
	ses.wait(time.Duration(n)*inquiryUnit+inquiryGrace, done)

	select {
	case <-done:
		return nil
	default:
	}
	if !ses.alive() {
		return nil
	}
	_, err := h.Send(&cmd.InquiryCancel{})
	return err
}

func (h *Channel) scanLowEnergy(ses *session, r ScanRequest) error {
	if _, err := h.Send(&cmd.LESetScanEnable{LEScanEnable: 0}); err != nil && !btcontrol.Is(err, ErrDisallowed) {
		h.log.Debugf("le scan disable: %v", err)
	}
	sp := h.params.scan(r.Passive)
	if _, err := h.Send(&sp); err != nil {
		return err
	}

	h.muLE.Lock()
	h.leFilter = &leFilter{limited: r.Limited, seen: map[btcontrol.Address]bool{}}
	h.muLE.Unlock()
	defer func() {
		h.muLE.Lock()
		h.leFilter = nil
		h.muLE.Unlock()
	}()

	if _, err := h.Send(&cmd.LESetScanEnable{LEScanEnable: 1, FilterDuplicates: 1}); err != nil {
		return err
	}
	ses.wait(r.Duration, nil)
	if !ses.alive() {
		return nil
	}
	_, err := h.Send(&cmd.LESetScanEnable{LEScanEnable: 0})
	return err
}
