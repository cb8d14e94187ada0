package serial

import "testing"

func TestEncodeDataEscapesIAC(t *testing.T) {
	in := []byte{0x41, 0xFF, 0x42}
	out := EncodeData(in)
	want := []byte{0x41, 0xFF, 0xFF, 0x42}
	if string(out) != string(want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestEncodeDataNoEscapeNeeded(t *testing.T) {
	in := []byte("plain data")
	out := EncodeData(in)
	if string(out) != string(in) {
		t.Fatalf("got %q want %q", out, in)
	}
}

func TestDecodeDataAndEscapedIAC(t *testing.T) {
	var d Decoder
	data, cmds := d.Decode([]byte{0x41, 0xFF, 0xFF, 0x42})
	if string(data) != "A\xFFB" {
		t.Fatalf("got %v", data)
	}
	if len(cmds) != 0 {
		t.Fatalf("unexpected commands: %v", cmds)
	}
}

func TestDecodeSetModemRoundTrip(t *testing.T) {
	var d Decoder
	frame := EncodeSetModem(ModemBits{DTR: true, RTS: false})
	_, cmds := d.Decode(frame)
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands (dtr, rts), got %d", len(cmds))
	}
	if cmds[0].Kind != CmdSetModem || !cmds[0].Bits.DTR {
		t.Fatalf("dtr command wrong: %+v", cmds[0])
	}
	if cmds[1].Kind != CmdSetModem || cmds[1].Bits.RTS {
		t.Fatalf("rts command wrong: %+v", cmds[1])
	}
}

func TestDecodeSetBreakRoundTrip(t *testing.T) {
	var d Decoder
	_, cmds := d.Decode(EncodeSetBreak(true))
	if len(cmds) != 1 || cmds[0].Kind != CmdSetBreak || !cmds[0].Break {
		t.Fatalf("got %+v", cmds)
	}
}

func TestDecodeSetBaudRoundTrip(t *testing.T) {
	var d Decoder
	_, cmds := d.Decode(EncodeSetBaud(115200))
	if len(cmds) != 1 || cmds[0].Kind != CmdSetBaud || cmds[0].Baud != 115200 {
		t.Fatalf("got %+v", cmds)
	}
}

func TestDecodeHandlesSplitSubnegotiation(t *testing.T) {
	var d Decoder
	frame := EncodeSetBreak(true)
	mid := len(frame) / 2
	data1, cmds1 := d.Decode(frame[:mid])
	if len(data1) != 0 || len(cmds1) != 0 {
		t.Fatalf("expected nothing decoded from partial frame, got data=%v cmds=%v", data1, cmds1)
	}
	_, cmds2 := d.Decode(frame[mid:])
	if len(cmds2) != 1 || cmds2[0].Kind != CmdSetBreak {
		t.Fatalf("expected break command after completing frame, got %+v", cmds2)
	}
}

func TestDecodeMixedDataAndCommand(t *testing.T) {
	var d Decoder
	var buf []byte
	buf = append(buf, []byte("abc")...)
	buf = append(buf, EncodeSetBreak(true)...)
	buf = append(buf, []byte("def")...)

	data, cmds := d.Decode(buf)
	if string(data) != "abcdef" {
		t.Fatalf("data = %q", data)
	}
	if len(cmds) != 1 || cmds[0].Kind != CmdSetBreak {
		t.Fatalf("cmds = %+v", cmds)
	}
}
