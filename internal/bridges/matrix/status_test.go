package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStatusDump = `HDMI Matrix 8x8
Firmware Version: 2.1.0
Power ON
Beep OFF
Panel button lock: off
LCD on 30 seconds
HDMI input 1: connect
HDMI input 2: disconnect
HDMI output 1: connect
HDMI output 2: disconnect
Output 1 -> Input 3
Output 2 -> Input 3
Output 9 -> Input 1
Output 1 hdcp: HDCP 2.2
Output 1 stream: off
Output 1 scaler mode: 4K->1080p
Output 1 hdr: bypass
Output 1 arc: on
Output 1 audio mute: on
Input 1 edid: 4K2K60_444 2CH
Input 1 name: Apple TV
Output 2 name: Lounge TV
Mac address: 00:1A:2B:3C:4D:5E
`

func TestParseStatus(t *testing.T) {
	st := ParseStatus(sampleStatusDump)

	assert.True(t, st.Power)
	assert.False(t, st.Beep)
	assert.False(t, st.PanelLock)
	assert.Equal(t, 30, st.LCDTimeout)
	assert.Equal(t, "00:1a:2b:3c:4d:5e", st.MACAddress)
	assert.Equal(t, "2.1.0", st.Firmware)

	assert.Equal(t, map[int]int{1: 3, 2: 3}, st.Routing, "out-of-range output ignored")

	require.Contains(t, st.Inputs, 1)
	assert.True(t, st.Inputs[1].Connected)
	assert.Equal(t, "Apple TV", st.Inputs[1].Name)
	assert.Equal(t, "4K2K60_444 2CH", st.Inputs[1].EDID)
	require.Contains(t, st.Inputs, 2)
	assert.False(t, st.Inputs[2].Connected)
	assert.NotContains(t, st.Inputs, 3, "unmentioned ports stay absent")

	out1 := st.Outputs[1]
	assert.Equal(t, 1, out1.Port)
	assert.True(t, out1.Connected)
	assert.Equal(t, 3, out1.Source)
	assert.Equal(t, "HDCP 2.2", out1.HDCP)
	assert.False(t, out1.StreamEnabled)
	assert.Equal(t, "4K->1080p", out1.VideoMode)
	assert.Equal(t, "bypass", out1.HDRMode)
	assert.True(t, out1.ARC)
	assert.True(t, out1.AudioMute)

	out2 := st.Outputs[2]
	assert.False(t, out2.Connected)
	assert.True(t, out2.StreamEnabled, "stream defaults to enabled")
	assert.Equal(t, "Lounge TV", out2.Name)
}

func TestParseStatus_LineOrderIrrelevant(t *testing.T) {
	a := ParseStatus("Output 4 -> Input 2\nHDMI output 4: connect\nPower OFF\n")
	b := ParseStatus("Power OFF\nHDMI output 4: connect\nOutput 4 -> Input 2\n")
	assert.Equal(t, a, b)
	assert.False(t, a.Power)
	assert.Equal(t, 2, a.Outputs[4].Source)
}

func TestParseStatus_Empty(t *testing.T) {
	st := ParseStatus("")
	assert.NotNil(t, st.Inputs)
	assert.NotNil(t, st.Outputs)
	assert.NotNil(t, st.Routing)
	assert.Empty(t, st.Routing)
	assert.Empty(t, st.MACAddress)
}

func TestMatrixStatus_Clone(t *testing.T) {
	st := ParseStatus(sampleStatusDump)
	cp := st.Clone()

	cp.Routing[1] = 8
	cp.Outputs[1] = OutputStatus{Port: 1}
	cp.Inputs[5] = InputStatus{Port: 5}

	assert.Equal(t, 3, st.Routing[1])
	assert.Equal(t, "HDCP 2.2", st.Outputs[1].HDCP)
	assert.NotContains(t, st.Inputs, 5)

	var nilStatus *MatrixStatus
	assert.Nil(t, nilStatus.Clone())
}

func TestParseCableReply(t *testing.T) {
	assert.Equal(t, CableConnected, parseCableReply("HDMI input 3: connect\r\n"))
	assert.Equal(t, CableConnected, parseCableReply("output 2 connected"))
	assert.Equal(t, CableDisconnected, parseCableReply("HDMI output 2: disconnect\r\n"))
	assert.Equal(t, CableUnknown, parseCableReply("E01"))

	text, err := CableDisconnected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "disconnected", string(text))
	assert.Equal(t, "unknown", CableUnknown.String())
}

func TestHeuristicCompletion(t *testing.T) {
	c := DefaultCompletion

	tests := []struct {
		name string
		cmd  string
		resp string
		want bool
	}{
		{name: "empty reply", cmd: "status", resp: "  \r\n", want: false},
		{name: "device error ends any reply", cmd: "r foo", resp: "E02\r\n", want: true},
		{name: "device error after text", cmd: "s beep 1", resp: "beep on\r\nE00", want: true},
		{name: "status waits for mac", cmd: "status", resp: "Power ON\r\nOutput 1 -> Input 2\r\n", want: false},
		{name: "status complete", cmd: "status", resp: "Power ON\r\nMac address: 00:1a:2b:3c:4d:5e\r\n", want: true},
		{name: "status complete bare mac", cmd: "status", resp: "Power ON\r\nMac address: 001A2B3C4D5E\r\n", want: true},
		{name: "status complete dotted mac", cmd: "status", resp: "Power ON\r\nMAC address: 00.1A.2B.3C.4D.5E\n", want: true},
		{name: "status mac line unfinished", cmd: "status", resp: "Power ON\r\nMac address: 00:1a:2b", want: false},
		{name: "link waits for state", cmd: "r link in 1", resp: "HDMI input 1:", want: false},
		{name: "link connected", cmd: "r link out 2", resp: "HDMI output 2: connected", want: true},
		{name: "link disconnected", cmd: "r link in 4", resp: "HDMI input 4: disconnected\r\n", want: true},
		{name: "link complete", cmd: "r link in 1", resp: "HDMI input 1: disconnect", want: true},
		{name: "read waits for full line", cmd: "r beep", resp: "beep: on", want: false},
		{name: "read complete", cmd: "r beep", resp: "beep: on\r\n", want: true},
		{name: "set short echo", cmd: "s beep 1", resp: "o", want: false},
		{name: "set echo", cmd: "s beep 1", resp: "beep on", want: true},
		{name: "cec echo", cmd: "s cec hdmi out 2 on", resp: "cec on\r\n", want: true},
		{name: "other needs newline", cmd: "help", resp: "usage", want: false},
		{name: "other complete", cmd: "help", resp: "usage\r\n", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Complete(tt.cmd, tt.resp))
		})
	}
}

func TestDeviceErrorCode(t *testing.T) {
	assert.Equal(t, "E01", deviceErrorCode("E01\r\n"))
	assert.Equal(t, "E00", deviceErrorCode("some text\nE00"))
	assert.Equal(t, "", deviceErrorCode("E03"))
	assert.Equal(t, "", deviceErrorCode("output E01 ok"))
}
