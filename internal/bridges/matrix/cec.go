package matrix

import (
	"fmt"
	"strings"
)

// Port bounds for the 8×8 matrix.
const (
	// MinPort is the first input/output port number.
	MinPort = 1

	// MaxPort is the last input/output port number.
	MaxPort = 8

	// PortCount is the number of inputs (and outputs).
	PortCount = MaxPort - MinPort + 1
)

// CECCommand is one row of the CEC command table.
type CECCommand struct {
	// Name is the symbolic command name (e.g. "POWER_ON").
	Name string

	// Index is the HTTP "cec command" index (1-19).
	Index int

	// Token is the Telnet command word (e.g. "on").
	Token string
}

// cecCommands is the command table shared by both transports.
// Order matches the HTTP index.
var cecCommands = [...]CECCommand{
	{Name: "POWER_ON", Index: 1, Token: "on"},
	{Name: "POWER_OFF", Index: 2, Token: "off"},
	{Name: "UP", Index: 3, Token: "up"},
	{Name: "LEFT", Index: 4, Token: "left"},
	{Name: "SELECT", Index: 5, Token: "enter"},
	{Name: "RIGHT", Index: 6, Token: "right"},
	{Name: "MENU", Index: 7, Token: "menu"},
	{Name: "DOWN", Index: 8, Token: "down"},
	{Name: "BACK", Index: 9, Token: "back"},
	{Name: "PREVIOUS", Index: 10, Token: "prev"},
	{Name: "PLAY", Index: 11, Token: "play"},
	{Name: "NEXT", Index: 12, Token: "next"},
	{Name: "REWIND", Index: 13, Token: "rew"},
	{Name: "PAUSE", Index: 14, Token: "pause"},
	{Name: "FAST_FORWARD", Index: 15, Token: "ff"},
	{Name: "STOP", Index: 16, Token: "stop"},
	{Name: "MUTE", Index: 17, Token: "mute"},
	{Name: "VOLUME_DOWN", Index: 18, Token: "vol-"},
	{Name: "VOLUME_UP", Index: 19, Token: "vol+"},
}

var (
	cecByName  = make(map[string]CECCommand, len(cecCommands))
	cecByToken = make(map[string]CECCommand, len(cecCommands))
)

func init() {
	for _, c := range cecCommands {
		cecByName[c.Name] = c
		cecByToken[c.Token] = c
	}
}

// CECCommands returns a copy of the command table in index order.
func CECCommands() []CECCommand {
	out := make([]CECCommand, len(cecCommands))
	copy(out, cecCommands[:])
	return out
}

// LookupCECCommand finds a command by symbolic name. Matching ignores case
// and accepts '-' or ' ' in place of '_'.
func LookupCECCommand(name string) (CECCommand, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	c, ok := cecByName[key]
	if !ok {
		return CECCommand{}, fmt.Errorf("%w: %q", ErrUnknownCECCommand, name)
	}
	return c, nil
}

// CECCommandByIndex finds a command by its HTTP index.
func CECCommandByIndex(index int) (CECCommand, error) {
	if index < 1 || index > len(cecCommands) {
		return CECCommand{}, fmt.Errorf("%w: index %d", ErrUnknownCECCommand, index)
	}
	return cecCommands[index-1], nil
}

// CECCommandByToken finds a command by its Telnet token.
func CECCommandByToken(token string) (CECCommand, error) {
	c, ok := cecByToken[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return CECCommand{}, fmt.Errorf("%w: token %q", ErrUnknownCECCommand, token)
	}
	return c, nil
}

// ValidPort reports whether p is a valid input/output port.
func ValidPort(p int) bool {
	return p >= MinPort && p <= MaxPort
}

func checkPort(p int) error {
	if !ValidPort(p) {
		return fmt.Errorf("%w: %d", ErrInvalidPort, p)
	}
	return nil
}

// direction returns the wire word for the port side.
func direction(isOutput bool) string {
	if isOutput {
		return "out"
	}
	return "in"
}
