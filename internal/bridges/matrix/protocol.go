package matrix

import (
	"encoding/json"
	"fmt"
)

// Comhead values understood by the device's /cgi-bin/instr endpoint.
const (
	ComheadLogin         = "login"
	ComheadVideoSwitch   = "video switch"
	ComheadPresetRecall  = "preset set"
	ComheadPresetSave    = "preset save"
	ComheadPower         = "set poweronoff"
	ComheadVideoStatus   = "get video status"
	ComheadOutputStatus  = "get output status"
	ComheadInputStatus   = "get input status"
	ComheadCECStatus     = "get cec status"
	ComheadSystemStatus  = "get system status"
	ComheadDeviceStatus  = "get status"
	ComheadCECCommand    = "cec command"
	ComheadCECIndex      = "set cec index"
	ComheadInputName     = "set input name"
	ComheadOutputName    = "set output name"
	ComheadEDID          = "set edid"
	ComheadHDCP          = "set output hdcp"
	ComheadHDR           = "set output hdr"
	ComheadScaler        = "set output scaler"
	ComheadARC           = "set output arc"
	ComheadAudioMute     = "set output audio mute"
	ComheadBeep          = "set beep"
	ComheadPanelLock     = "set panel lock"
	ComheadLCDTimeout    = "set lcd time"
	ComheadReboot        = "reboot"
	instrPath            = "/cgi-bin/instr"
	resultOK             = 1
	cecObjectInput       = 0
	cecObjectOutput      = 1
	switchAllOutputsPort = 0
)

// Request is one JSON command object. It always carries "comhead" and
// "language".
type Request map[string]any

// NewRequest builds a request for comhead with the given extra fields.
func NewRequest(comhead string, fields map[string]any) Request {
	r := Request{
		"comhead":  comhead,
		"language": 0,
	}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// Comhead returns the request's comhead.
func (r Request) Comhead() string {
	s, _ := r["comhead"].(string)
	return s
}

// Response is the decoded reply envelope. Result is nil when the reply
// carries no "result" field (status queries).
type Response struct {
	Comhead string          `json:"comhead"`
	Result  *int            `json:"result,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// OK reports whether the reply signals success. Replies without a result
// field are treated as successful data replies.
func (r *Response) OK() bool {
	return r != nil && (r.Result == nil || *r.Result == resultOK)
}

// Decode unmarshals the full reply into a command-family struct.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Raw) == 0 {
		return fmt.Errorf("%w: empty reply", ErrInvalidResponse)
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

// decodeResponse parses a text/plain body that contains a JSON object.
func decodeResponse(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	resp.Raw = append(json.RawMessage(nil), body...)
	return &resp, nil
}

// VideoStatus is the reply to "get video status".
type VideoStatus struct {
	Power       int      `json:"power"`
	AllSource   []int    `json:"allsource"`
	InputNames  []string `json:"allinputname"`
	OutputNames []string `json:"alloutputname"`
}

// Routing returns output -> input for every reported output.
func (v *VideoStatus) Routing() map[int]int {
	out := make(map[int]int, len(v.AllSource))
	for i, in := range v.AllSource {
		if i >= PortCount {
			break
		}
		out[i+1] = in
	}
	return out
}

// OutputReport is the reply to "get output status".
type OutputReport struct {
	Connected  []int    `json:"allconnect"`
	HDCP       []int    `json:"allhdcp"`
	Stream     []int    `json:"allout"`
	Scaler     []int    `json:"allscaler"`
	HDR        []int    `json:"allhdr"`
	ARC        []int    `json:"allarc"`
	AudioMute  []int    `json:"allaudiomute"`
	Names      []string `json:"name"`
	Resolution []string `json:"allresolution"`
}

// InputReport is the reply to "get input status".
type InputReport struct {
	EDID   []int    `json:"edid"`
	Active []int    `json:"inactive"`
	Names  []string `json:"inname"`
}

// CECStatus is the reply to "get cec status".
type CECStatus struct {
	InputIndex  []int `json:"cec_in_index"`
	OutputIndex []int `json:"cec_out_index"`
}

// Bits returns the enable bitmaps.
func (c *CECStatus) Bits() (inputs, outputs [PortCount]bool) {
	return intsToBits(c.InputIndex), intsToBits(c.OutputIndex)
}

// SystemStatus is the reply to "get system status".
type SystemStatus struct {
	Beep       int `json:"beep"`
	PanelLock  int `json:"lock"`
	LCDTimeout int `json:"lcdtime"`
	Baudrate   int `json:"baudrate"`
}

// DeviceInfo is the reply to "get status".
type DeviceInfo struct {
	Model    string `json:"model"`
	Version  string `json:"version"`
	Hostname string `json:"hostname"`
	IP       string `json:"ipaddress"`
	MAC      string `json:"macaddress"`
	Power    int    `json:"power"`
}
