// Package xbee turns the byte stream of an XBee coordinator in API mode into
// decoded frames.
//
// The package manages:
//   - Reassembly of length-delimited API frames from arbitrarily chunked reads
//   - Trailer checksum validation
//   - Decoding of the DIO/ADC sample indicator frame (16-bit source address)
//   - A serial read loop that reports frames, dropped frames and raw reads
//
// # Wire format
//
//	[0x7E][len_hi][len_lo][type][payload...][checksum]
//
// len counts bytes from type through the byte preceding the checksum.
// The checksum is 0xFF minus the low byte of the sum of those bytes.
//
// # Error model
//
// Malformed input is never an error: a short buffer waits for more data, a
// bad checksum is reported as a dropped frame, and unknown frame types are
// ignored.
//
// # Usage
//
//	port, err := xbee.OpenPort("/dev/ttyUSB0", 9600)
//	if err != nil {
//	    return err
//	}
//	dev := xbee.NewDevice(port, xbee.DeviceOptions{Logger: log})
//	dev.SetOnFrame(func(f xbee.Frame) { ... })
//	dev.Start()
//	defer dev.Close()
package xbee
