package hci

import "github.com/rigado/btcontrol/linux/hci/cmd"

// SetConnParams overrides the default LE connection parameters.
func (h *Channel) SetConnParams(param cmd.LECreateConnection) error {
	if err := ValidateConnParams(param); err != nil {
		return err
	}
	h.params.Lock()
	h.params.connParams = param
	h.params.Unlock()
	return nil
}

// SetScanParams overrides the default LE scanning parameters. The scan type
// is still chosen per scan.
func (h *Channel) SetScanParams(param cmd.LESetScanParameters) error {
	if err := ValidateScanParams(param); err != nil {
		return err
	}
	h.params.Lock()
	h.params.scanParams = param
	h.params.Unlock()
	return nil
}
