package xbee

import "fmt"

// FrameType is the API identifier byte following the length field.
type FrameType byte

// API identifiers understood by XBee 802.15.4 modules.
const (
	Tx64Request                 FrameType = 0x00
	Tx16Request                 FrameType = 0x01
	ATCommand                   FrameType = 0x08
	ATCommandQueueRegisterValue FrameType = 0x09
	RemoteATCommand             FrameType = 0x17
	Rx64Indicator               FrameType = 0x80
	Rx16Indicator               FrameType = 0x81
	DIOADCRx64Indicator         FrameType = 0x82
	DIOADCRx16Indicator         FrameType = 0x83
	ATCommandResponse           FrameType = 0x88
	TxStatus                    FrameType = 0x89
	ModemStatus                 FrameType = 0x8A
	RemoteCommandResponse       FrameType = 0x97
)

var frameTypeNames = map[FrameType]string{
	Tx64Request:                 "Tx64Request",
	Tx16Request:                 "Tx16Request",
	ATCommand:                   "ATCommand",
	ATCommandQueueRegisterValue: "ATCommandQueueRegisterValue",
	RemoteATCommand:             "RemoteATCommand",
	Rx64Indicator:               "Rx64Indicator",
	Rx16Indicator:               "Rx16Indicator",
	DIOADCRx64Indicator:         "DIOADCRx64Indicator",
	DIOADCRx16Indicator:         "DIOADCRx16Indicator",
	ATCommandResponse:           "ATCommandResponse",
	TxStatus:                    "TxStatus",
	ModemStatus:                 "ModemStatus",
	RemoteCommandResponse:       "RemoteCommandResponse",
}

func (t FrameType) String() string {
	if name, ok := frameTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FrameType(0x%02X)", byte(t))
}

// PacketOption is the options bit field of a received packet.
type PacketOption byte

// Receive option bits.
const (
	OptionAcknowledged PacketOption = 0x01
	OptionBroadcast    PacketOption = 0x02
	OptionBroadcastPAN PacketOption = 0x04
)

// Has reports whether every bit in o is set.
func (p PacketOption) Has(o PacketOption) bool {
	return p&o == o
}

// Byte offsets inside a raw frame (start delimiter at 0).
const (
	typeOffset          = 3
	frameIDOffset       = 4
	sourceAddressOffset = 5
	rssiOffset          = 7
	optionsOffset       = 8
	channelMaskOffset   = 9
	digitalSampleOffset = 11
	analogSampleOffset  = 13
)

// Channel counts of the sample indicator.
const (
	NumDigitalChannels = 9
	NumAnalogChannels  = 6
)

// Frame is a decoded API frame.
type Frame interface {
	Type() FrameType
}

// IOSampleFrame is a DIO/ADC sample indicator with a 16-bit source address.
//
// Exactly one analog sample is carried in the current radio profile.
// DigitalSamples is only populated when DigitalChannels is non-empty and
// holds one 0/1 entry per digital line (index = channel number).
type IOSampleFrame struct {
	FrameID         byte
	SourceAddress   uint16
	RSSI            byte
	Options         PacketOption
	DigitalChannels []int
	AnalogChannels  []int
	DigitalSamples  []byte
	AnalogSamples   []uint16
}

// Type implements Frame.
func (*IOSampleFrame) Type() FrameType { return DIOADCRx16Indicator }

// Decode parses a complete raw frame (as emitted by the Assembler).
//
// The second return value is false for frame types that have no decoder and
// for frames too short to hold their fixed fields. Neither case is an error.
// Decode does not validate the checksum; callers only pass Valid outcomes.
func Decode(raw []byte) (Frame, bool) {
	if len(raw) <= typeOffset {
		return nil, false
	}

	switch FrameType(raw[typeOffset]) {
	case DIOADCRx16Indicator:
		f, ok := decodeIOSample(raw)
		if !ok {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

// decodeIOSample decodes the 0x83 frame.
//
// The sample words sit at different offsets depending on whether digital
// lines are enabled: with digital lines the digital word comes first and
// the analog word follows it; without, the analog word takes the digital
// word's position.
func decodeIOSample(raw []byte) (*IOSampleFrame, bool) {
	if len(raw) < digitalSampleOffset+2 {
		return nil, false
	}

	maskHi := raw[channelMaskOffset]
	maskLo := raw[channelMaskOffset+1]

	f := &IOSampleFrame{
		FrameID:         raw[frameIDOffset],
		SourceAddress:   word(raw[sourceAddressOffset], raw[sourceAddressOffset+1]),
		RSSI:            raw[rssiOffset],
		Options:         PacketOption(raw[optionsOffset]),
		DigitalChannels: digitalChannels(maskHi, maskLo),
		AnalogChannels:  analogChannels(maskHi),
	}

	analogAt := digitalSampleOffset
	if len(f.DigitalChannels) > 0 {
		if len(raw) < analogSampleOffset+2 {
			return nil, false
		}
		f.DigitalSamples = digitalSamples(raw[digitalSampleOffset], raw[digitalSampleOffset+1])
		analogAt = analogSampleOffset
	}

	f.AnalogSamples = []uint16{word(raw[analogAt], raw[analogAt+1])}
	return f, true
}

// digitalChannels returns the enabled digital lines.
// Mask layout: [na A5 A4 A3 A2 A1 A0 D8][D7 D6 D5 D4 D3 D2 D1 D0].
func digitalChannels(msb, lsb byte) []int {
	mask := word(msb, lsb)
	var channels []int
	for i := range NumDigitalChannels {
		if mask&(1<<i) != 0 {
			channels = append(channels, i)
		}
	}
	return channels
}

// analogChannels returns the enabled analog lines from the high mask byte.
// Bit 0 of that byte is D8 and is not part of the analog mask.
func analogChannels(msb byte) []int {
	mask := msb >> 1
	var channels []int
	for i := range NumAnalogChannels {
		if mask&(1<<i) != 0 {
			channels = append(channels, i)
		}
	}
	return channels
}

func digitalSamples(msb, lsb byte) []byte {
	bits := word(msb, lsb)
	samples := make([]byte, NumDigitalChannels)
	for i := range NumDigitalChannels {
		if bits&(1<<i) != 0 {
			samples[i] = 1
		}
	}
	return samples
}
