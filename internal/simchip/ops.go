package simchip

import (
	"log/slog"

	"github.com/soypat/wwd"
	"github.com/soypat/wwd/whd"
)

// Scan starts delivering the configured networks as escan events.
func (c *Chip) Scan(callback whd.CallbackKind, typ whd.ScanType) error {
	if callback != whd.CallbackScanResult {
		return errCallback
	}
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return errNotStarted
	} else if c.scan.active {
		c.mu.Unlock()
		return errBusy
	}
	c.scan = scanState{active: true, callback: callback}
	c.mu.Unlock()
	c.debug("simchip:scan", slog.Int("networks", len(c.cfg.Networks)), slog.Bool("passive", typ == whd.ScanTypePassive))
	c.kick()
	return nil
}

// AbortScan ends an ongoing scan at once. No completion event is delivered
// for an aborted scan.
func (c *Chip) AbortScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scan.active {
		c.debug("simchip:scan aborted", slog.Int("delivered", c.scan.next))
	}
	c.scan = scanState{}
	return nil
}

func (c *Chip) processScan(hal wwd.HAL) {
	for i := 0; i < c.cfg.ScanBatch; i++ {
		c.mu.Lock()
		if !c.scan.active {
			c.mu.Unlock()
			return
		}
		if c.scan.next >= len(c.cfg.Networks) {
			c.scan = scanState{}
			c.mu.Unlock()
			hal.DispatchEvent(whd.HandlerScanResult, whd.AsyncEvent{EventType: whd.EvESCAN_RESULT, Status: whd.EStatusSuccess}, nil)
			return
		}
		r := c.cfg.Networks[c.scan.next].Result
		c.scan.next++
		c.escan = whd.AppendScanResult(c.escan[:0], &r)
		payload := c.escan
		c.mu.Unlock()
		hal.DispatchEvent(whd.HandlerScanResult, whd.AsyncEvent{EventType: whd.EvESCAN_RESULT, Status: whd.EStatusPartial}, payload)
	}
}

// Join associates with the network named ssid. It blocks until the join
// events have been delivered or the operation times out.
func (c *Chip) Join(ssid whd.SSID, security whd.Security, key []byte) error {
	return c.do(operation{kind: opJoin, ssid: ssid, security: security, key: key})
}

// Leave disassociates the station interface.
func (c *Chip) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return errNotStarted
	}
	c.joined = -1
	return nil
}

func (c *Chip) StartAP(ssid whd.SSID, security whd.Security, key []byte, channel uint8) error {
	return c.do(operation{kind: opStartAP, ssid: ssid, security: security, key: key, channel: channel})
}

func (c *Chip) StopAP() error {
	return c.do(operation{kind: opStopAP})
}

// do queues op for the processing task and waits for its outcome.
func (c *Chip) do(op operation) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return errNotStarted
	} else if c.op.kind != opNone {
		c.mu.Unlock()
		return errBusy
	}
	hal := c.hal
	op.seq = c.op.seq + 1
	op.key = append([]byte(nil), op.key...)
	hal.InitSemaphore(&c.opDone)
	c.op = op
	c.mu.Unlock()

	c.kick()
	err := hal.GetSemaphore(&c.opDone, c.cfg.OperationTimeoutMS, false)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.op.seq != op.seq {
		return errBusy
	}
	if err != nil {
		c.op.kind = opNone
		return err
	}
	return c.op.err
}

func (c *Chip) processOperation(hal wwd.HAL) {
	c.mu.Lock()
	op := c.op
	c.mu.Unlock()
	var err error
	switch op.kind {
	case opNone:
		return
	case opJoin:
		err = c.join(hal, &op)
	case opStartAP:
		ev := whd.AsyncEvent{Interface: whd.InterfaceAP}
		for _, ev.EventType = range [...]whd.AsyncEventType{whd.EvIF, whd.EvSET_SSID} {
			hal.DispatchEvent(whd.HandlerAPSTAEvent, ev, nil)
		}
		c.mu.Lock()
		c.apUp = true
		c.mu.Unlock()
		c.info("simchip:ap up", slog.String("ssid", op.ssid.String()), slog.Int("channel", int(op.channel)))
	case opStopAP:
		hal.DispatchEvent(whd.HandlerAPSTAEvent, whd.AsyncEvent{EventType: whd.EvLINK, Interface: whd.InterfaceAP}, nil)
		c.mu.Lock()
		c.apUp = false
		c.mu.Unlock()
	}
	c.mu.Lock()
	if c.op.seq != op.seq || c.op.kind == opNone {
		// Waiter gave up.
		c.mu.Unlock()
		return
	}
	c.op.kind = opNone
	c.op.err = err
	c.mu.Unlock()
	hal.SetSemaphore(&c.opDone, false)
}

// join delivers the event sequence of a join attempt to the host.
func (c *Chip) join(hal wwd.HAL, op *operation) error {
	sta := func(typ whd.AsyncEventType, status whd.EStatus, flags uint16) {
		hal.DispatchEvent(whd.HandlerJoinEvents, whd.AsyncEvent{EventType: typ, Status: status, Flags: flags}, nil)
	}
	idx := -1
	for i := range c.cfg.Networks {
		if c.cfg.Networks[i].Result.SSID.Equal(op.ssid) {
			idx = i
			break
		}
	}
	if idx < 0 {
		sta(whd.EvSET_SSID, whd.EStatusNoNetworks, 0)
		return errNoNetwork
	}
	nw := &c.cfg.Networks[idx]
	if nw.Result.Security.NeedsKey() && string(op.key) != nw.Key {
		sta(whd.EvAUTH, whd.EStatusFail, 0)
		sta(whd.EvSET_SSID, whd.EStatusFail, 0)
		return errAuth
	}
	start := hal.Now()
	sta(whd.EvAUTH, whd.EStatusSuccess, 0)
	sta(whd.EvASSOC, whd.EStatusSuccess, 0)
	sta(whd.EvLINK, whd.EStatusSuccess, 1)
	if nw.Result.Security.NeedsKey() {
		sta(whd.EvPSK_SUP, whd.EStatusUnsolicited, 0)
	}
	sta(whd.EvSET_SSID, whd.EStatusSuccess, 0)
	c.mu.Lock()
	c.joined = idx
	c.mu.Unlock()
	c.info("simchip:joined", slog.String("ssid", op.ssid.String()), slog.Uint64("took_ms", uint64(hal.Now()-start)))
	return nil
}
