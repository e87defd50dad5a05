package desk

import "bytes"

// heightMarker precedes the height payload in a status notification:
// f2 f2 <type=0x01> <len=0x03>, then two bytes of big-endian millimeters.
var heightMarker = []byte{0xf2, 0xf2, 0x01, 0x03}

// DecodeHeight extracts the height in millimeters from a notification
// payload. Notifications can carry multiple frames and the height frame is
// not always first, so we hunt for the marker anywhere in the payload.
// Returns ok=false if the payload holds no (complete) height frame.
func DecodeHeight(payload []byte) (mm int, ok bool) {
	i := bytes.Index(payload, heightMarker)
	if i < 0 || i+len(heightMarker)+2 > len(payload) {
		return 0, false
	}
	hi := int(payload[i+len(heightMarker)])
	lo := int(payload[i+len(heightMarker)+1])
	return hi<<8 | lo, true
}
