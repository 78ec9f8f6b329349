package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/soypat/seqs/eth"

	"github.com/soypat/wwd/whd"
)

var (
	errFrameShort = errors.New("frame too small")
	errNotIPv4    = errors.New("frame not IPv4")
)

// frameAttrs decodes the headers of an Ethernet frame for logging.
func frameAttrs(pkt []byte) ([]slog.Attr, error) {
	if len(pkt) < eth.SizeEthernetHeader {
		return nil, errFrameShort
	}
	ethHdr := eth.DecodeEthernetHeader(pkt)
	attrs := []slog.Attr{slog.String("eth", ethHdr.String())}
	if ethHdr.AssertType() != eth.EtherTypeIPv4 {
		return attrs, errNotIPv4
	}
	if len(pkt) < eth.SizeEthernetHeader+eth.SizeIPv4Header {
		return attrs, errFrameShort
	}
	ipHdr, _ := eth.DecodeIPv4Header(pkt[eth.SizeEthernetHeader:])
	attrs = append(attrs, slog.String("ipv4", ipHdr.String()))
	return attrs, nil
}

// logFrames returns a transmit hook that logs outgoing frames at debug level.
func logFrames(logger *slog.Logger) func(itf whd.Interface, frame []byte) {
	return func(itf whd.Interface, frame []byte) {
		attrs, err := frameAttrs(frame)
		attrs = append(attrs, slog.String("itf", itf.String()), slog.Int("len", len(frame)))
		if err != nil {
			attrs = append(attrs, slog.String("decode", err.Error()))
		}
		logger.LogAttrs(context.Background(), slog.LevelDebug, "wwdsim:tx", attrs...)
	}
}
