package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var errUnknownCommand = errors.New("matrix: unknown command")

// Commands lists the command names Execute accepts.
var Commands = []string{
	"switch", "switch_all", "preset_recall", "preset_save", "power",
	"cec", "cec_enable", "set_name", "set_edid", "set_hdcp", "set_hdr",
	"set_scaler", "set_arc", "set_mute", "beep", "panel_lock",
	"lcd_timeout", "reboot",
}

// Queries lists the read actions Query accepts.
var Queries = []string{
	"full_status", "telnet_status", "cable_status", "cec_status", "controller_status",
}

// Execute runs one named command from the bridge vocabulary with its JSON
// decoded parameters. It is the shared entry point for MQTT commands and
// the local HTTP API.
//
//nolint:gocyclo // flat dispatch over the command vocabulary
func (c *Controller) Execute(ctx context.Context, command string, parameters map[string]any) error {
	p := params(parameters)

	switch command {
	case "switch":
		input, output, err := p.intPair("input", "output")
		if err != nil {
			return err
		}
		return c.SwitchInput(ctx, input, output)
	case "switch_all":
		input, err := p.int("input")
		if err != nil {
			return err
		}
		return c.SwitchAllOutputs(ctx, input)
	case "preset_recall", "preset_save":
		preset, err := p.int("preset")
		if err != nil {
			return err
		}
		if command == "preset_save" {
			return c.SavePreset(ctx, preset)
		}
		return c.RecallPreset(ctx, preset)
	case "power":
		on, err := p.bool("on")
		if err != nil {
			return err
		}
		return c.SetPower(ctx, on)
	case "cec":
		name, err := p.string("command")
		if err != nil {
			return err
		}
		port, isOutput, err := p.port()
		if err != nil {
			return err
		}
		return c.SendCEC(ctx, name, port, isOutput)
	case "cec_enable":
		port, isOutput, err := p.port()
		if err != nil {
			return err
		}
		enabled, err := p.bool("enabled")
		if err != nil {
			return err
		}
		return c.SetCECEnabled(ctx, port, isOutput, enabled)
	case "set_name":
		port, isOutput, err := p.port()
		if err != nil {
			return err
		}
		name, err := p.string("name")
		if err != nil {
			return err
		}
		return c.SetName(ctx, port, isOutput, name)
	case "set_edid", "set_hdcp", "set_hdr", "set_scaler":
		port, mode, err := p.intPair("port", "mode")
		if err != nil {
			return err
		}
		switch command {
		case "set_edid":
			return c.SetEDID(ctx, port, mode)
		case "set_hdcp":
			return c.SetHDCP(ctx, port, mode)
		case "set_hdr":
			return c.SetHDR(ctx, port, mode)
		default:
			return c.SetScaler(ctx, port, mode)
		}
	case "set_arc":
		port, err := p.int("port")
		if err != nil {
			return err
		}
		enabled, err := p.bool("enabled")
		if err != nil {
			return err
		}
		return c.SetARC(ctx, port, enabled)
	case "set_mute":
		port, err := p.int("port")
		if err != nil {
			return err
		}
		muted, err := p.bool("muted")
		if err != nil {
			return err
		}
		return c.SetAudioMute(ctx, port, muted)
	case "beep":
		enabled, err := p.bool("enabled")
		if err != nil {
			return err
		}
		return c.SetBeep(ctx, enabled)
	case "panel_lock":
		locked, err := p.bool("locked")
		if err != nil {
			return err
		}
		return c.SetPanelLock(ctx, locked)
	case "lcd_timeout":
		seconds, err := p.int("seconds")
		if err != nil {
			return err
		}
		return c.SetLCDTimeout(ctx, seconds)
	case "reboot":
		return c.Reboot(ctx)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, command)
	}
}

// Query serves one named read action and returns its JSON-encodable result.
func (c *Controller) Query(ctx context.Context, action string, parameters map[string]any) (any, error) {
	p := params(parameters)

	switch action {
	case "full_status":
		fs, err := c.GetFullStatus(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sections": fs, "merged": fs.Merged()}, nil
	case "telnet_status":
		return c.GetTelnetStatus(ctx)
	case "cable_status":
		port, isOutput, err := p.port()
		if err != nil {
			return nil, err
		}
		state, err := c.GetCableStatus(ctx, port, isOutput)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"port":      port,
			"direction": portDirection(isOutput),
			"cable":     state,
		}, nil
	case "cec_status":
		return c.GetCECStatus(ctx)
	case "controller_status":
		return c.Status(), nil
	default:
		return nil, fmt.Errorf("%w: action %q", errUnknownCommand, action)
	}
}

// ErrorCode maps an error onto the ack/response error vocabulary.
func ErrorCode(err error) string {
	var devErr *DeviceError
	switch {
	case errors.Is(err, errUnknownCommand), errors.Is(err, ErrUnknownCECCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidPort), errors.Is(err, ErrInvalidPreset), errors.Is(err, ErrInvalidValue):
		return ErrCodeInvalidParameters
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, ErrNotConnected):
		return ErrCodeNotConnected
	case errors.As(err, &devErr), errors.Is(err, ErrCommandRejected):
		return ErrCodeDeviceRejected
	case errors.Is(err, ErrInvalidResponse):
		return ErrCodeProtocolError
	default:
		return ErrCodeDeviceUnreachable
	}
}

// params reads typed values out of a decoded JSON parameter map.
type params map[string]any

func (p params) int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidValue, key)
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%w: %q must be an integer", ErrInvalidValue, key)
		}
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		i, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %w", ErrInvalidValue, key, err)
		}
		return i, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %w", ErrInvalidValue, key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: %q has type %T", ErrInvalidValue, key, v)
	}
}

func (p params) intPair(a, b string) (int, int, error) {
	x, err := p.int(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := p.int(b)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func (p params) bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok {
		return false, fmt.Errorf("%w: missing %q", ErrInvalidValue, key)
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("%w: %q: %w", ErrInvalidValue, key, err)
		}
		return b, nil
	case float64:
		return x != 0, nil
	default:
		return false, fmt.Errorf("%w: %q has type %T", ErrInvalidValue, key, v)
	}
}

func (p params) string(key string) (string, error) {
	s, ok := p[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidValue, key)
	}
	return s, nil
}

// port reads "port" and "direction" ("input"/"in" or "output"/"out").
func (p params) port() (int, bool, error) {
	port, err := p.int("port")
	if err != nil {
		return 0, false, err
	}
	dir, err := p.string("direction")
	if err != nil {
		return 0, false, err
	}
	switch strings.ToLower(dir) {
	case directionOut, "out":
		return port, true, nil
	case directionInput, "in":
		return port, false, nil
	default:
		return 0, false, fmt.Errorf("%w: direction %q", ErrInvalidValue, dir)
	}
}
