package desk

import "testing"

func TestDecodeHeight(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantMM  int
		wantOK  bool
	}{
		{
			name:    "height frame alone",
			payload: []byte{0xf2, 0xf2, 0x01, 0x03, 0x03, 0xbb, 0xbe, 0x7e},
			wantMM:  955,
			wantOK:  true,
		},
		{
			name:    "height frame after other frame",
			payload: []byte{0xf2, 0xf2, 0x25, 0x00, 0x25, 0x7e, 0xf2, 0xf2, 0x01, 0x03, 0x03, 0x20, 0x24, 0x7e},
			wantMM:  800,
			wantOK:  true,
		},
		{
			name:    "no height frame",
			payload: []byte{0xf2, 0xf2, 0x25, 0x00, 0x25, 0x7e},
			wantOK:  false,
		},
		{
			name:    "marker but truncated payload",
			payload: []byte{0xf2, 0xf2, 0x01, 0x03, 0x03},
			wantOK:  false,
		},
		{
			name:   "empty payload",
			wantOK: false,
		},
		{
			name:    "zero height",
			payload: []byte{0xf2, 0xf2, 0x01, 0x03, 0x00, 0x00, 0x04, 0x7e},
			wantMM:  0,
			wantOK:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mm, ok := DecodeHeight(tt.payload)
			if ok != tt.wantOK {
				t.Fatalf("DecodeHeight() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && mm != tt.wantMM {
				t.Errorf("DecodeHeight() = %d mm, want %d mm", mm, tt.wantMM)
			}
		})
	}
}

func TestParseCommandsDefaults(t *testing.T) {
	cmds, err := ParseCommands(RawCommands{})
	if err != nil {
		t.Fatalf("ParseCommands() with defaults failed: %v", err)
	}
	for name, frame := range map[string][]byte{
		"moveUp":      cmds.MoveUp,
		"moveDown":    cmds.MoveDown,
		"stop":        cmds.Stop,
		"fetchHeight": cmds.FetchHeight,
	} {
		if len(frame) == 0 {
			t.Errorf("default %s frame is empty", name)
		}
	}
}

func TestParseCommandsBadHex(t *testing.T) {
	bad := "not-hex"
	_, err := ParseCommands(RawCommands{Stop: &bad})
	if err == nil {
		t.Fatal("ParseCommands() accepted invalid hex")
	}
}
