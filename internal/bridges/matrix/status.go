package matrix

import (
	"regexp"
	"strconv"
	"strings"
)

// InputStatus describes one input port as reported by the text status dump.
type InputStatus struct {
	Port int `json:"port"`

	// Connected is cable presence. Only the Telnet dump reports it.
	Connected bool   `json:"connected"`
	Name      string `json:"name,omitempty"`
	EDID      string `json:"edid,omitempty"`
}

// OutputStatus describes one output port as reported by the text status dump.
type OutputStatus struct {
	Port          int    `json:"port"`
	Connected     bool   `json:"connected"`
	Name          string `json:"name,omitempty"`
	Source        int    `json:"source,omitempty"`
	HDCP          string `json:"hdcp,omitempty"`
	StreamEnabled bool   `json:"stream_enabled"`
	VideoMode     string `json:"video_mode,omitempty"`
	HDRMode       string `json:"hdr_mode,omitempty"`
	ARC           bool   `json:"arc"`
	AudioMute     bool   `json:"audio_mute"`
}

// MatrixStatus is a snapshot parsed from the Telnet "status" reply.
//
// Ports that the dump does not mention are absent from Inputs and Outputs;
// callers must treat absence as unknown rather than disconnected.
type MatrixStatus struct {
	Power      bool                 `json:"power"`
	Beep       bool                 `json:"beep"`
	PanelLock  bool                 `json:"panel_lock"`
	LCDTimeout int                  `json:"lcd_timeout"`
	Inputs     map[int]InputStatus  `json:"inputs"`
	Outputs    map[int]OutputStatus `json:"outputs"`
	Routing    map[int]int          `json:"routing"`
	MACAddress string               `json:"mac_address,omitempty"`
	Firmware   string               `json:"firmware,omitempty"`
}

var (
	rePowerOn     = regexp.MustCompile(`(?i)\bpower on\b`)
	rePowerOff    = regexp.MustCompile(`(?i)\bpower off\b`)
	reBeepOn      = regexp.MustCompile(`(?i)\bbeep on\b`)
	reBeepOff     = regexp.MustCompile(`(?i)\bbeep off\b`)
	rePanelLock   = regexp.MustCompile(`(?i)panel (?:button )?lock\s*:?\s*(on|off)`)
	reLCDTimeout  = regexp.MustCompile(`(?i)lcd on (\d+) seconds`)
	reCable       = regexp.MustCompile(`(?i)hdmi (input|output) (\d+):\s*(connect|disconnect)`)
	reRouting     = regexp.MustCompile(`(?i)output\s*(\d+)\s*->\s*input\s*(\d+)`)
	reOutHDCP     = regexp.MustCompile(`(?i)output (\d+) hdcp:\s*([^\r\n]+)`)
	reOutStream   = regexp.MustCompile(`(?i)output (\d+) stream:\s*(\w+)`)
	reOutVideo    = regexp.MustCompile(`(?i)output (\d+) (?:video mode|scaler mode|scaler):\s*([^\r\n]+)`)
	reOutHDR      = regexp.MustCompile(`(?i)output (\d+) hdr:\s*([^\r\n]+)`)
	reOutARC      = regexp.MustCompile(`(?i)output (\d+) arc:\s*(\w+)`)
	reOutMute     = regexp.MustCompile(`(?i)output (\d+) audio mute:\s*(\w+)`)
	reInEDID      = regexp.MustCompile(`(?i)input (\d+) edid:\s*([^\r\n]+)`)
	rePortName    = regexp.MustCompile(`(?i)(input|output) (\d+) name:\s*([^\r\n]+)`)
	reMACAddress  = regexp.MustCompile(`(?i)mac address:\s*([0-9a-f]{2}(?:[:.-]?[0-9a-f]{2}){5})`)
	reFirmwareVer = regexp.MustCompile(`(?i)(?:firmware|fw|software)?\s*version\s*:?\s*v?(\d+(?:\.\d+)+)`)
)

// ParseStatus turns the multi-line reply to the Telnet "status" command into
// a MatrixStatus.
//
// Every field is extracted independently, so the order in which the
// firmware emits lines does not matter. Fields that do not appear keep their
// zero value, except OutputStatus.StreamEnabled which defaults to true.
func ParseStatus(text string) *MatrixStatus {
	st := &MatrixStatus{
		Inputs:  make(map[int]InputStatus),
		Outputs: make(map[int]OutputStatus),
		Routing: make(map[int]int),
	}

	switch {
	case rePowerOn.MatchString(text):
		st.Power = true
	case rePowerOff.MatchString(text):
		st.Power = false
	}
	switch {
	case reBeepOn.MatchString(text):
		st.Beep = true
	case reBeepOff.MatchString(text):
		st.Beep = false
	}
	if m := rePanelLock.FindStringSubmatch(text); m != nil {
		st.PanelLock = strings.EqualFold(m[1], "on")
	}
	if m := reLCDTimeout.FindStringSubmatch(text); m != nil {
		st.LCDTimeout, _ = strconv.Atoi(m[1])
	}
	if m := reMACAddress.FindStringSubmatch(text); m != nil {
		st.MACAddress = strings.ToLower(m[1])
	}
	if m := reFirmwareVer.FindStringSubmatch(text); m != nil {
		st.Firmware = m[1]
	}

	for _, m := range reCable.FindAllStringSubmatch(text, -1) {
		port, ok := parsePort(m[2])
		if !ok {
			continue
		}
		connected := strings.EqualFold(m[3], "connect")
		if strings.EqualFold(m[1], "input") {
			in := st.input(port)
			in.Connected = connected
			st.Inputs[port] = in
		} else {
			out := st.output(port)
			out.Connected = connected
			st.Outputs[port] = out
		}
	}

	for _, m := range reRouting.FindAllStringSubmatch(text, -1) {
		output, ok := parsePort(m[1])
		if !ok {
			continue
		}
		input, ok := parsePort(m[2])
		if !ok {
			continue
		}
		st.Routing[output] = input
		out := st.output(output)
		out.Source = input
		st.Outputs[output] = out
	}

	st.eachOutput(text, reOutHDCP, func(o *OutputStatus, v string) { o.HDCP = v })
	st.eachOutput(text, reOutStream, func(o *OutputStatus, v string) { o.StreamEnabled = parseOnOff(v, true) })
	st.eachOutput(text, reOutVideo, func(o *OutputStatus, v string) { o.VideoMode = v })
	st.eachOutput(text, reOutHDR, func(o *OutputStatus, v string) { o.HDRMode = v })
	st.eachOutput(text, reOutARC, func(o *OutputStatus, v string) { o.ARC = parseOnOff(v, false) })
	st.eachOutput(text, reOutMute, func(o *OutputStatus, v string) { o.AudioMute = parseOnOff(v, false) })

	for _, m := range reInEDID.FindAllStringSubmatch(text, -1) {
		port, ok := parsePort(m[1])
		if !ok {
			continue
		}
		in := st.input(port)
		in.EDID = strings.TrimSpace(m[2])
		st.Inputs[port] = in
	}

	for _, m := range rePortName.FindAllStringSubmatch(text, -1) {
		port, ok := parsePort(m[2])
		if !ok {
			continue
		}
		name := strings.TrimSpace(m[3])
		if strings.EqualFold(m[1], "input") {
			in := st.input(port)
			in.Name = name
			st.Inputs[port] = in
		} else {
			out := st.output(port)
			out.Name = name
			st.Outputs[port] = out
		}
	}

	return st
}

// input returns the current entry for port, or a defaulted one.
func (st *MatrixStatus) input(port int) InputStatus {
	if in, ok := st.Inputs[port]; ok {
		return in
	}
	return InputStatus{Port: port}
}

// output returns the current entry for port, or a defaulted one.
func (st *MatrixStatus) output(port int) OutputStatus {
	if out, ok := st.Outputs[port]; ok {
		return out
	}
	return OutputStatus{Port: port, StreamEnabled: true}
}

func (st *MatrixStatus) eachOutput(text string, re *regexp.Regexp, set func(*OutputStatus, string)) {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		port, ok := parsePort(m[1])
		if !ok {
			continue
		}
		out := st.output(port)
		set(&out, strings.TrimSpace(m[2]))
		st.Outputs[port] = out
	}
}

// Clone returns a deep copy, so callers can merge views without mutating a
// snapshot another goroutine may hold.
func (st *MatrixStatus) Clone() *MatrixStatus {
	if st == nil {
		return nil
	}
	cp := *st
	cp.Inputs = make(map[int]InputStatus, len(st.Inputs))
	for k, v := range st.Inputs {
		cp.Inputs[k] = v
	}
	cp.Outputs = make(map[int]OutputStatus, len(st.Outputs))
	for k, v := range st.Outputs {
		cp.Outputs[k] = v
	}
	cp.Routing = make(map[int]int, len(st.Routing))
	for k, v := range st.Routing {
		cp.Routing[k] = v
	}
	return &cp
}

func parsePort(s string) (int, bool) {
	p, err := strconv.Atoi(s)
	if err != nil || !ValidPort(p) {
		return 0, false
	}
	return p, true
}

func parseOnOff(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "enable", "enabled", "yes", "1", "true":
		return true
	case "off", "disable", "disabled", "no", "0", "false":
		return false
	default:
		return def
	}
}
