package matrix

import (
	"context"
	"fmt"
)

// FullStatus combines the six HTTP status queries and, when the Telnet
// session is up, the text status dump.
//
// A failed query leaves its section nil and records the error under the
// section name in Errors.
type FullStatus struct {
	Video   *VideoStatus      `json:"video,omitempty"`
	Outputs *OutputReport     `json:"outputs,omitempty"`
	Inputs  *InputReport      `json:"inputs,omitempty"`
	CEC     *CECStatus        `json:"cec,omitempty"`
	System  *SystemStatus     `json:"system,omitempty"`
	Device  *DeviceInfo       `json:"device,omitempty"`
	Telnet  *MatrixStatus     `json:"telnet,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Section names used in FullStatus.Errors.
const (
	SectionVideo   = "video"
	SectionOutputs = "outputs"
	SectionInputs  = "inputs"
	SectionCEC     = "cec"
	SectionSystem  = "system"
	SectionDevice  = "device"
	SectionTelnet  = "telnet"
)

// query sends a status command and decodes the reply into T.
func query[T any](ctx context.Context, c *Controller, comhead string) (*T, error) {
	resp, err := c.send(ctx, NewRequest(comhead, nil))
	if err != nil {
		return nil, err
	}
	var v T
	if err := resp.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", comhead, err)
	}
	return &v, nil
}

// GetVideoStatus returns routing, power and port names.
func (c *Controller) GetVideoStatus(ctx context.Context) (*VideoStatus, error) {
	return query[VideoStatus](ctx, c, ComheadVideoStatus)
}

// GetOutputStatus returns per-output settings and cable presence.
func (c *Controller) GetOutputStatus(ctx context.Context) (*OutputReport, error) {
	return query[OutputReport](ctx, c, ComheadOutputStatus)
}

// GetInputStatus returns per-input EDID and activity.
func (c *Controller) GetInputStatus(ctx context.Context) (*InputReport, error) {
	return query[InputReport](ctx, c, ComheadInputStatus)
}

// GetCECStatus returns the CEC enable bits and refreshes the CEC cache.
func (c *Controller) GetCECStatus(ctx context.Context) (*CECStatus, error) {
	st, err := query[CECStatus](ctx, c, ComheadCECStatus)
	if err != nil {
		return nil, err
	}
	c.cache.Update(st.Bits())
	return st, nil
}

// GetSystemStatus returns beeper, panel lock and LCD settings.
func (c *Controller) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	return query[SystemStatus](ctx, c, ComheadSystemStatus)
}

// GetDeviceStatus returns model, firmware and network identity.
func (c *Controller) GetDeviceStatus(ctx context.Context) (*DeviceInfo, error) {
	return query[DeviceInfo](ctx, c, ComheadDeviceStatus)
}

// GetFullStatus runs every status query in turn. Only a missing HTTP
// channel fails the call; individual failures degrade their section.
func (c *Controller) GetFullStatus(ctx context.Context) (*FullStatus, error) {
	if _, err := c.httpChannel(); err != nil {
		return nil, err
	}

	fs := &FullStatus{Errors: make(map[string]string)}
	record := func(section string, err error) {
		if err != nil {
			fs.Errors[section] = err.Error()
		}
	}

	var err error
	fs.Video, err = c.GetVideoStatus(ctx)
	record(SectionVideo, err)
	fs.Outputs, err = c.GetOutputStatus(ctx)
	record(SectionOutputs, err)
	fs.Inputs, err = c.GetInputStatus(ctx)
	record(SectionInputs, err)
	fs.CEC, err = c.GetCECStatus(ctx)
	record(SectionCEC, err)
	fs.System, err = c.GetSystemStatus(ctx)
	record(SectionSystem, err)
	fs.Device, err = c.GetDeviceStatus(ctx)
	record(SectionDevice, err)

	if sess := c.telnet(); sess != nil {
		fs.Telnet, err = sess.GetFullStatus(ctx)
		record(SectionTelnet, err)
	}

	if len(fs.Errors) == 0 {
		fs.Errors = nil
	}
	return fs, nil
}

// Merged folds the HTTP sections over the Telnet snapshot into one
// MatrixStatus. The Telnet snapshot is copied, never modified. Input cable
// presence is only known when the Telnet snapshot is present.
func (fs *FullStatus) Merged() *MatrixStatus {
	st := fs.Telnet.Clone()
	if st == nil {
		st = &MatrixStatus{
			Inputs:  make(map[int]InputStatus),
			Outputs: make(map[int]OutputStatus),
			Routing: make(map[int]int),
		}
	}

	if v := fs.Video; v != nil {
		st.Power = v.Power == onOffOn
		for out, in := range v.Routing() {
			if !ValidPort(in) {
				continue
			}
			st.Routing[out] = in
			o := st.output(out)
			o.Source = in
			st.Outputs[out] = o
		}
		for i, name := range v.InputNames {
			if i < PortCount && name != "" {
				in := st.input(i + 1)
				in.Name = name
				st.Inputs[i+1] = in
			}
		}
		for i, name := range v.OutputNames {
			if i < PortCount && name != "" {
				o := st.output(i + 1)
				o.Name = name
				st.Outputs[i+1] = o
			}
		}
	}

	if r := fs.Outputs; r != nil {
		for i := 0; i < PortCount; i++ {
			if i >= len(r.Connected) && i >= len(r.Stream) && i >= len(r.ARC) && i >= len(r.AudioMute) {
				continue
			}
			o := st.output(i + 1)
			if i < len(r.Connected) {
				o.Connected = r.Connected[i] == onOffOn
			}
			if i < len(r.Stream) {
				o.StreamEnabled = r.Stream[i] == onOffOn
			}
			if i < len(r.ARC) {
				o.ARC = r.ARC[i] == onOffOn
			}
			if i < len(r.AudioMute) {
				o.AudioMute = r.AudioMute[i] == onOffOn
			}
			st.Outputs[i+1] = o
		}
	}

	if s := fs.System; s != nil {
		st.Beep = s.Beep == onOffOn
		st.PanelLock = s.PanelLock == onOffOn
		st.LCDTimeout = s.LCDTimeout
	}

	if d := fs.Device; d != nil {
		if d.MAC != "" {
			st.MACAddress = d.MAC
		}
		if d.Version != "" {
			st.Firmware = d.Version
		}
	}

	return st
}

// GetTelnetStatus returns the parsed text status dump. It needs the Telnet
// session.
func (c *Controller) GetTelnetStatus(ctx context.Context) (*MatrixStatus, error) {
	sess := c.telnet()
	if sess == nil {
		return nil, fmt.Errorf("%w: telnet session", ErrNotConnected)
	}
	return sess.GetFullStatus(ctx)
}

// GetCableStatus reports cable presence on one port.
//
// Telnet answers for both directions. Without Telnet, outputs fall back to
// the HTTP output report; inputs have no HTTP equivalent and are reported
// as CableUnknown.
func (c *Controller) GetCableStatus(ctx context.Context, port int, isOutput bool) (CableState, error) {
	if err := checkPort(port); err != nil {
		return CableUnknown, err
	}

	if sess := c.telnet(); sess != nil {
		state, err := sess.GetCableStatus(ctx, port, isOutput)
		if err == nil {
			return state, nil
		}
		c.logWarn("telnet cable query failed", "id", c.cfg.ID, "port", port, "error", err)
	}

	if !isOutput {
		return CableUnknown, nil
	}

	report, err := c.GetOutputStatus(ctx)
	if err != nil {
		return CableUnknown, err
	}
	if port > len(report.Connected) {
		return CableUnknown, nil
	}
	if report.Connected[port-1] == onOffOn {
		return CableConnected, nil
	}
	return CableDisconnected, nil
}
