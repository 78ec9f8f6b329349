package main

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"

	"github.com/soypat/wwd"
)

const backoffMax = 500 * time.Millisecond

// netStack runs a user space IP stack over the host's station interface.
type netStack struct {
	host   *wwd.Host
	stack  *stacks.PortStack
	dhcp   *stacks.DHCPClient
	logger *slog.Logger
}

func newNetStack(host *wwd.Host, logger *slog.Logger) (*netStack, error) {
	mac, err := host.HardwareAddr6()
	if err != nil {
		return nil, err
	}
	stack := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: 1, // DHCP.
		MaxOpenPortsTCP: 1,
		MTU:             uint16(host.MTU()),
		Logger:          logger,
	})
	host.RecvEthHandle(stack.RecvEth)
	return &netStack{
		host:   host,
		stack:  stack,
		dhcp:   stacks.NewDHCPClient(stack, dhcp.DefaultClientPort),
		logger: logger,
	}, nil
}

func (ns *netStack) Addr() netip.Addr { return ns.stack.Addr() }

// Run moves frames from the stack to the host until ctx is done.
func (ns *netStack) Run(ctx context.Context) {
	const maxRetriesBeforeDropping = 3
	var buf [2048]byte
	stalled := 0
	for ctx.Err() == nil {
		n, err := ns.stack.HandleEth(buf[:ns.host.MTU()])
		if err != nil {
			ns.logger.Error("nicloop:HandleEth", slog.String("err", err.Error()))
		}
		if n == 0 {
			// Exponential backoff.
			stalled++
			sleep := time.Duration(1) << min(stalled, 20)
			if sleep > backoffMax {
				sleep = backoffMax
			}
			time.Sleep(sleep)
			continue
		}
		stalled = 0
		for retries := 0; retries < maxRetriesBeforeDropping; retries++ {
			err = ns.host.SendEth(buf[:n])
			if err == nil {
				break
			}
		}
		if err != nil {
			ns.logger.Warn("nicloop:dropped outgoing frame", slog.String("err", err.Error()))
		}
	}
}

// DHCP requests an address and assigns it to the stack.
func (ns *netStack) DHCP(ctx context.Context, hostname string) error {
	if !ns.host.Joined() {
		return errors.New("dhcp: not joined to a network")
	}
	err := ns.dhcp.BeginRequest(stacks.DHCPRequestConfig{
		Xid:      uint32(time.Now().Nanosecond()),
		Hostname: hostname,
	})
	if err != nil {
		return errors.Join(errors.New("dhcp begin request"), err)
	}
	for !ns.dhcp.IsDone() {
		select {
		case <-ctx.Done():
			return errors.Join(errors.New("dhcp did not complete"), ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
	ip := ns.dhcp.Offer()
	ns.logger.Info("DHCP complete",
		slog.String("ourIP", ip.String()),
		slog.String("router", ns.dhcp.Router().String()),
		slog.Duration("lease", ns.dhcp.IPLeaseTime()),
	)
	ns.stack.SetAddr(ip)
	return nil
}
