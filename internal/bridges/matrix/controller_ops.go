package matrix

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Setting ranges accepted by the device.
const (
	MinPreset      = 1
	MaxPreset      = 8
	MaxNameLength  = 16
	MaxEDIDMode    = 15
	MaxHDCPMode    = 4
	MaxHDRMode     = 2
	MaxScalerMode  = 3
	MaxLCDTimeout  = 3600
	onOffOn        = 1
	onOffOff       = 0
	directionInput = "input"
	directionOut   = "output"
)

// SwitchInput routes input to output.
//
// Ports are validated before any I/O. On success an update event carries
// {"input": input, "output": output}.
func (c *Controller) SwitchInput(ctx context.Context, input, output int) error {
	if err := checkPort(input); err != nil {
		return err
	}
	if err := checkPort(output); err != nil {
		return err
	}
	req := NewRequest(ComheadVideoSwitch, map[string]any{"source": []int{output, input}})
	return c.mutate(ctx, req, map[string]any{"input": input, "output": output})
}

// SwitchAllOutputs routes input to every output.
func (c *Controller) SwitchAllOutputs(ctx context.Context, input int) error {
	if err := checkPort(input); err != nil {
		return err
	}
	req := NewRequest(ComheadVideoSwitch, map[string]any{"source": []int{switchAllOutputsPort, input}})
	return c.mutate(ctx, req, map[string]any{"input": input, "output": "all"})
}

// RecallPreset applies a routing preset stored on the device.
func (c *Controller) RecallPreset(ctx context.Context, preset int) error {
	if err := checkPreset(preset); err != nil {
		return err
	}
	req := NewRequest(ComheadPresetRecall, map[string]any{"preset": preset})
	return c.mutate(ctx, req, map[string]any{"preset": preset, "action": "recall"})
}

// SavePreset stores the current routing into a device preset.
func (c *Controller) SavePreset(ctx context.Context, preset int) error {
	if err := checkPreset(preset); err != nil {
		return err
	}
	req := NewRequest(ComheadPresetSave, map[string]any{"preset": preset})
	return c.mutate(ctx, req, map[string]any{"preset": preset, "action": "save"})
}

func checkPreset(p int) error {
	if p < MinPreset || p > MaxPreset {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidPreset, p, MinPreset, MaxPreset)
	}
	return nil
}

// SetPower switches the matrix on or to standby.
func (c *Controller) SetPower(ctx context.Context, on bool) error {
	req := NewRequest(ComheadPower, map[string]any{"power": onOff(on)})
	return c.mutate(ctx, req, map[string]any{"power": on})
}

// SetName renames an input or output port.
func (c *Controller) SetName(ctx context.Context, port int, isOutput bool, name string) error {
	if err := checkPort(port); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name must be 1..%d characters", ErrInvalidValue, MaxNameLength)
	}
	comhead := ComheadInputName
	if isOutput {
		comhead = ComheadOutputName
	}
	req := NewRequest(comhead, map[string]any{"port": port, "name": name})
	return c.mutate(ctx, req, map[string]any{"port": port, "direction": portDirection(isOutput), "name": name})
}

// SetEDID selects the EDID an input presents to its source.
func (c *Controller) SetEDID(ctx context.Context, input, mode int) error {
	return c.setPortValue(ctx, ComheadEDID, input, false, "edid", mode, MaxEDIDMode)
}

// SetHDCP selects the HDCP mode of an output.
func (c *Controller) SetHDCP(ctx context.Context, output, mode int) error {
	return c.setPortValue(ctx, ComheadHDCP, output, true, "hdcp", mode, MaxHDCPMode)
}

// SetHDR selects the HDR handling of an output.
func (c *Controller) SetHDR(ctx context.Context, output, mode int) error {
	return c.setPortValue(ctx, ComheadHDR, output, true, "hdr", mode, MaxHDRMode)
}

// SetScaler selects the scaler mode of an output.
func (c *Controller) SetScaler(ctx context.Context, output, mode int) error {
	return c.setPortValue(ctx, ComheadScaler, output, true, "scaler", mode, MaxScalerMode)
}

// SetARC enables or disables the audio return channel of an output.
func (c *Controller) SetARC(ctx context.Context, output int, enabled bool) error {
	return c.setPortValue(ctx, ComheadARC, output, true, "arc", onOff(enabled), onOffOn)
}

// SetAudioMute mutes or unmutes an output.
func (c *Controller) SetAudioMute(ctx context.Context, output int, muted bool) error {
	return c.setPortValue(ctx, ComheadAudioMute, output, true, "mute", onOff(muted), onOffOn)
}

func (c *Controller) setPortValue(ctx context.Context, comhead string, port int, isOutput bool, field string, value, maxValue int) error {
	if err := checkPort(port); err != nil {
		return err
	}
	if value < 0 || value > maxValue {
		return fmt.Errorf("%w: %s %d (want 0..%d)", ErrInvalidValue, field, value, maxValue)
	}
	req := NewRequest(comhead, map[string]any{"port": port, field: value})
	return c.mutate(ctx, req, map[string]any{"port": port, "direction": portDirection(isOutput), field: value})
}

// SetBeep enables or disables the front-panel beeper.
func (c *Controller) SetBeep(ctx context.Context, enabled bool) error {
	req := NewRequest(ComheadBeep, map[string]any{"beep": onOff(enabled)})
	return c.mutate(ctx, req, map[string]any{"beep": enabled})
}

// SetPanelLock locks or unlocks the front-panel buttons.
func (c *Controller) SetPanelLock(ctx context.Context, locked bool) error {
	req := NewRequest(ComheadPanelLock, map[string]any{"lock": onOff(locked)})
	return c.mutate(ctx, req, map[string]any{"panel_lock": locked})
}

// SetLCDTimeout sets the front-panel display timeout in seconds. Zero keeps
// the display on.
func (c *Controller) SetLCDTimeout(ctx context.Context, seconds int) error {
	if seconds < 0 || seconds > MaxLCDTimeout {
		return fmt.Errorf("%w: lcd timeout %d (want 0..%d)", ErrInvalidValue, seconds, MaxLCDTimeout)
	}
	req := NewRequest(ComheadLCDTimeout, map[string]any{"lcdtime": seconds})
	return c.mutate(ctx, req, map[string]any{"lcd_timeout": seconds})
}

// Reboot restarts the device. The caller should expect both transports to
// drop shortly afterwards.
func (c *Controller) Reboot(ctx context.Context) error {
	req := NewRequest(ComheadReboot, nil)
	if err := c.mutate(ctx, req, map[string]any{"reboot": true}); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}

// SendCEC sends a CEC command to the device attached to a port.
//
// CEC control is enabled on the port first if needed. The command goes over
// Telnet when the session is up and preferred; any Telnet failure falls back
// to the HTTP index command and is only logged.
//
// Parameters:
//   - ctx: Context for cancellation
//   - name: Command name from the CEC table (e.g. "POWER_ON", "volume-up")
//   - port: Port number 1..8
//   - isOutput: true for the display on an output, false for a source
func (c *Controller) SendCEC(ctx context.Context, name string, port int, isOutput bool) error {
	cmd, err := LookupCECCommand(name)
	if err != nil {
		return err
	}
	if err := checkPort(port); err != nil {
		return err
	}
	if _, err := c.httpChannel(); err != nil {
		return err
	}

	c.ensureCECEnabled(ctx, port, isOutput)

	update := map[string]any{
		"cec":       cmd.Name,
		"port":      port,
		"direction": portDirection(isOutput),
	}

	if sess := c.telnet(); sess != nil && c.cfg.PreferTelnet {
		err := sess.SendCEC(ctx, cmd, port, isOutput)
		if err == nil {
			update["transport"] = "telnet"
			c.emit(EventUpdate, update)
			return nil
		}
		c.logWarn("telnet cec failed, falling back to http",
			"id", c.cfg.ID, "command", cmd.Name, "port", port, "error", err)
	}

	obj := cecObjectInput
	if isOutput {
		obj = cecObjectOutput
	}
	req := NewRequest(ComheadCECCommand, map[string]any{
		"object": obj,
		"port":   port,
		"index":  cmd.Index,
	})
	update["transport"] = "http"
	return c.mutate(ctx, req, update)
}

// ensureCECEnabled makes sure CEC control is on for one port before a
// command is sent. It never fails the caller: a failed refresh or write is
// logged and the command goes out anyway.
//
// The check and the write are separate steps, so two concurrent calls for
// the same disabled port may both write.
func (c *Controller) ensureCECEnabled(ctx context.Context, port int, isOutput bool) {
	if !c.cache.Fresh() {
		if err := c.refreshCECCache(ctx); err != nil {
			c.logWarn("cec cache refresh failed, sending without enable check",
				"id", c.cfg.ID, "port", port, "error", err)
			return
		}
	}
	if c.cache.Enabled(port, isOutput) {
		return
	}
	if err := c.writeCECEnable(ctx, port, isOutput, true); err != nil {
		c.logWarn("cec enable failed, sending anyway",
			"id", c.cfg.ID, "port", port, "error", err)
		return
	}
	c.logDebug("cec enabled on port", "id", c.cfg.ID, "port", port,
		"direction", portDirection(isOutput))
}

// SetCECEnabled turns CEC control on or off for one port.
//
// The enable bits are reloaded from the device first, then written back
// with only the target bit changed.
func (c *Controller) SetCECEnabled(ctx context.Context, port int, isOutput, enabled bool) error {
	if err := checkPort(port); err != nil {
		return err
	}
	if err := c.refreshCECCache(ctx); err != nil {
		return fmt.Errorf("refreshing cec state: %w", err)
	}
	if c.cache.Enabled(port, isOutput) == enabled {
		return nil
	}
	if err := c.writeCECEnable(ctx, port, isOutput, enabled); err != nil {
		c.emitError(ComheadCECIndex, err)
		return err
	}
	c.emit(EventUpdate, map[string]any{
		"port":        port,
		"direction":   portDirection(isOutput),
		"cec_enabled": enabled,
	})
	return nil
}

// writeCECEnable sends the cached 16 bits with one bit changed and records
// the bit on success.
func (c *Controller) writeCECEnable(ctx context.Context, port int, isOutput, enabled bool) error {
	inputs, outputs := c.cache.WithPort(port, isOutput, enabled)
	req := NewRequest(ComheadCECIndex, map[string]any{
		"cec_in_index":  bitsToInts(inputs),
		"cec_out_index": bitsToInts(outputs),
	})
	if _, err := c.send(ctx, req); err != nil {
		return err
	}
	c.cache.SetPort(port, isOutput, enabled)
	return nil
}

func (c *Controller) refreshCECCache(ctx context.Context) error {
	_, err := c.GetCECStatus(ctx)
	return err
}

func onOff(b bool) int {
	if b {
		return onOffOn
	}
	return onOffOff
}

func portDirection(isOutput bool) string {
	if isOutput {
		return directionOut
	}
	return directionInput
}
