package keysynth

import "fmt"

const (
	SOF0 = 0xAA
	SOF1 = 0x55

	CmdKeyDown = 0x20
	CmdKeyUp   = 0x21
	CmdClick   = 0x22
	CmdMove    = 0x23

	// maxPayload keeps LEN (payload + CMD byte) within one byte.
	maxPayload = 254
)

// Frame is one command for the HID bridge firmware.
type Frame struct {
	Cmd     byte
	Payload []byte
}

// Encode builds the on-wire representation:
//
//	[SOF0][SOF1][LEN][CMD][payload...][CKS]
//
// LEN counts CMD plus payload. CKS is the XOR of LEN, CMD and every payload byte.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > maxPayload {
		return nil, fmt.Errorf("keysynth: frame payload too long (%d bytes)", len(f.Payload))
	}
	length := byte(len(f.Payload) + 1) // +1 for CMD byte
	cks := length ^ f.Cmd
	for _, b := range f.Payload {
		cks ^= b
	}

	out := make([]byte, 0, len(f.Payload)+5)
	out = append(out, SOF0, SOF1, length, f.Cmd)
	out = append(out, f.Payload...)
	out = append(out, cks)
	return out, nil
}

func keyFrame(cmd byte, key Key) (Frame, error) {
	usage, ok := hidUsage[key]
	if !ok {
		return Frame{}, fmt.Errorf("keysynth: unknown key %q", key)
	}
	return Frame{Cmd: cmd, Payload: []byte{usage}}, nil
}

func clickFrame(b Button) (Frame, error) {
	mask, ok := buttonMask[b]
	if !ok {
		return Frame{}, fmt.Errorf("keysynth: unknown mouse button %q", b)
	}
	return Frame{Cmd: CmdClick, Payload: []byte{mask}}, nil
}

// moveFrame carries dx, dy as signed bytes, matching a HID mouse report.
func moveFrame(dx, dy int) (Frame, error) {
	if dx < -127 || dx > 127 || dy < -127 || dy > 127 {
		return Frame{}, fmt.Errorf("keysynth: move (%d,%d) out of range [-127,127]", dx, dy)
	}
	return Frame{Cmd: CmdMove, Payload: []byte{byte(int8(dx)), byte(int8(dy))}}, nil
}
