package main

import "testing"

func TestFrameAttrs(t *testing.T) {
	hdr := func(etype0, etype1 byte) []byte {
		return []byte{
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, // Broadcast destination.
			0x02, 0x57, 0x57, 0x44, 0x00, 0x01,
			etype0, etype1,
		}
	}
	if _, err := frameAttrs(hdr(0x08, 0x00)[:10]); err != errFrameShort {
		t.Error("short frame:", err)
	}
	if _, err := frameAttrs(hdr(0x08, 0x06)); err != errNotIPv4 {
		t.Error("ARP frame:", err)
	}
	if _, err := frameAttrs(hdr(0x08, 0x00)); err != errFrameShort {
		t.Error("truncated IPv4 frame:", err)
	}
	ipv4 := append(hdr(0x08, 0x00),
		0x45, 0, 0, 28, 0, 1, 0, 0, 64, 17, 0, 0,
		0, 0, 0, 0,
		255, 255, 255, 255,
	)
	attrs, err := frameAttrs(ipv4)
	if err != nil {
		t.Fatal(err)
	}
	if len(attrs) != 2 {
		t.Errorf("got %d attributes, want 2", len(attrs))
	}
}
