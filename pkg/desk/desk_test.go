package desk

import (
	"bytes"
	"errors"
	"testing"
)

type fakeConn struct {
	written [][]byte
	err     error
}

func (f *fakeConn) WriteCommand(cmd []byte) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, append([]byte(nil), cmd...))
	return nil
}

func (f *fakeConn) Close() error { return nil }

func mustCommands(t *testing.T) Commands {
	t.Helper()
	cmds, err := ParseCommands(RawCommands{})
	if err != nil {
		t.Fatalf("ParseCommands() failed: %v", err)
	}
	return cmds
}

func TestControllerMove(t *testing.T) {
	conn := &fakeConn{}
	cmds := mustCommands(t)
	c := NewController(conn, cmds)

	if err := c.Move(Up); err != nil {
		t.Fatalf("Move(Up) failed: %v", err)
	}
	if err := c.Move(Down); err != nil {
		t.Fatalf("Move(Down) failed: %v", err)
	}

	if len(conn.written) != 2 {
		t.Fatalf("wrote %d frames, want 2", len(conn.written))
	}
	if !bytes.Equal(conn.written[0], cmds.MoveUp) {
		t.Errorf("Move(Up) wrote % x, want % x", conn.written[0], cmds.MoveUp)
	}
	if !bytes.Equal(conn.written[1], cmds.MoveDown) {
		t.Errorf("Move(Down) wrote % x, want % x", conn.written[1], cmds.MoveDown)
	}
}

func TestControllerStopIdempotent(t *testing.T) {
	conn := &fakeConn{}
	cmds := mustCommands(t)
	c := NewController(conn, cmds)

	if err := c.Stop(); err != nil {
		t.Fatalf("first Stop() failed: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
	for i, frame := range conn.written {
		if !bytes.Equal(frame, cmds.Stop) {
			t.Errorf("write %d = % x, want stop frame % x", i, frame, cmds.Stop)
		}
	}
}

func TestControllerTransportError(t *testing.T) {
	wantErr := errors.New("disconnected")
	c := NewController(&fakeConn{err: wantErr}, mustCommands(t))

	if err := c.Move(Up); !errors.Is(err, wantErr) {
		t.Errorf("Move() error = %v, want wrapped %v", err, wantErr)
	}
	if err := c.RequestHeight(); !errors.Is(err, wantErr) {
		t.Errorf("RequestHeight() error = %v, want wrapped %v", err, wantErr)
	}
}
