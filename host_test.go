package wwd_test

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soypat/wwd"
	"github.com/soypat/wwd/internal/simchip"
	"github.com/soypat/wwd/rtos"
	"github.com/soypat/wwd/whd"
)

func network(name string, last byte, sec whd.Security, key string) simchip.Network {
	ssid, _ := whd.MakeSSID(name)
	return simchip.Network{
		Result: whd.ScanResult{
			SSID:           ssid,
			BSSID:          [6]byte{0x02, 0xaa, 0, 0, 0, last},
			SignalStrength: -40 - int16(last),
			MaxDataRate:    54000,
			Security:       sec,
			Band:           whd.Band2_4GHz,
			Channel:        1 + last%11,
		},
		Key: key,
	}
}

type testHost struct {
	*wwd.Host
	chip *simchip.Chip
	out  bytes.Buffer
}

func newTestHost(t *testing.T, nets []simchip.Network, onSend func(whd.Interface, []byte)) *testHost {
	t.Helper()
	chipcfg := simchip.DefaultConfig()
	chipcfg.Networks = nets
	chipcfg.OnSend = onSend
	th := &testHost{chip: simchip.New(chipcfg)}
	cfg := wwd.DefaultConfig()
	cfg.SPI = th.chip.PortConfig()
	cfg.ScanOutput = &th.out
	h, err := wwd.NewHost(th.chip, cfg)
	if err != nil {
		t.Fatal(err)
	}
	th.Host = h
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "driver start", h.Running)
	return th
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

// idleHost returns a host whose polling task is not running.
func idleHost(t *testing.T, mod func(*wwd.Config)) *wwd.Host {
	t.Helper()
	cfg := wwd.DefaultConfig()
	if mod != nil {
		mod(&cfg)
	}
	h, err := wwd.NewHost(simchip.New(simchip.DefaultConfig()), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestHostStartProbesBus(t *testing.T) {
	th := newTestHost(t, nil, nil)
	// Test register read, then write and read back of two registers.
	if n := th.chip.BusTransactions(); n != 5 {
		t.Errorf("got %d bus transactions, want 5", n)
	}
	delay := uint32(uint64(th.chip.PortConfig().CSToDataDelayNS) * rtos.TickRate / 1e9)
	edges := th.chip.Bus().Edges()
	if len(edges) == 0 {
		t.Fatal("no chip select edges recorded")
	}
	for i, e := range edges {
		if e.Level || !e.Clocked {
			continue
		}
		if e.FirstClock-e.Time < delay {
			t.Errorf("edge %d: first clock %d ticks after select, want at least %d", i, e.FirstClock-e.Time, delay)
		}
	}
}

func TestHostScan(t *testing.T) {
	a := network("alpha", 1, whd.SecurityWPA2AESPSK, "alphapass")
	b := network("beta", 2, whd.SecurityOpen, "")
	aDup := a
	aDup.Result.SignalStrength = -90
	th := newTestHost(t, []simchip.Network{a, b, aDup}, nil)

	n, err := th.ScanNetworks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("got %d networks, want 2", n)
	}
	nets := th.Networks()
	if nets[0].SSID.String() != "alpha" || nets[1].SSID.String() != "beta" {
		t.Error("networks not in scan order")
	}
	if nets[0].SignalStrength != a.Result.SignalStrength {
		t.Error("duplicate overwrote first result")
	}
	if nets[0].Security != whd.SecurityWPA2AESPSK || nets[1].Security != whd.SecurityOpen {
		t.Error("security lost in escan round trip")
	}
	if i, ok := th.NetworkIndex("beta"); !ok || i != 1 {
		t.Errorf("beta at %d,%v", i, ok)
	}
	out := th.out.String()
	if !strings.Contains(out, "Scan completed in") || !strings.Contains(out, "alpha") {
		t.Errorf("unexpected scan output:\n%s", out)
	}

	// A second scan starts from an empty table.
	n, err = th.ScanNetworks(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("rescan got %d, %v", n, err)
	}
}

func TestHostScanAbortsWhenFull(t *testing.T) {
	var nets []simchip.Network
	for i := 0; i < whd.MaxScanResults+10; i++ {
		nets = append(nets, network("net", byte(i), whd.SecurityOpen, ""))
	}
	th := newTestHost(t, nets, nil)
	n, err := th.ScanNetworks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != whd.MaxScanResults {
		t.Errorf("got %d networks, want %d", n, whd.MaxScanResults)
	}
	if !strings.Contains(th.out.String(), "Scan aborted after") {
		t.Error("scan not reported as aborted")
	}
	// Chip must have stopped scanning: a new scan is accepted.
	_, err = th.ScanNetworks(context.Background())
	if err != nil {
		t.Fatal("scan after abort:", err)
	}
}

func TestHostJoin(t *testing.T) {
	secure := network("secure", 1, whd.SecurityWPA2AESPSK, "correct horse")
	open := network("open", 2, whd.SecurityOpen, "")
	th := newTestHost(t, []simchip.Network{secure, open}, nil)
	if _, err := th.ScanNetworks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := th.JoinIndex(5, nil); err == nil {
		t.Error("joined out of range index")
	}
	if err := th.JoinName("missing", nil); err == nil {
		t.Error("joined absent network")
	}
	if err := th.JoinName("secure", []byte(strings.Repeat("k", whd.MaxKeyLength+1))); err == nil {
		t.Error("accepted overlong key")
	}
	if err := th.JoinName("secure", []byte("wrong key!")); err == nil {
		t.Fatal("joined with wrong key")
	}
	if th.Joined() || th.NetFlags()&net.FlagRunning != 0 {
		t.Fatal("link up after failed join")
	}
	if err := th.JoinName("secure", []byte("correct horse")); err != nil {
		t.Fatal(err)
	}
	if !th.Joined() || th.NetFlags() != net.FlagUp|net.FlagRunning {
		t.Errorf("bad flags after join: %v", th.NetFlags())
	}
	if err := th.ReadyToTransceive(); err != nil {
		t.Error(err)
	}
	if err := th.Leave(); err != nil {
		t.Fatal(err)
	}
	if th.NetFlags() != 0 || th.ReadyToTransceive() == nil {
		t.Error("link still up after leave")
	}
	if err := th.JoinIndex(1, []byte("ignored for open networks")); err != nil {
		t.Fatal(err)
	}
}

func TestHostEthernet(t *testing.T) {
	var mu sync.Mutex
	var sent []byte
	th := newTestHost(t, []simchip.Network{network("lan", 1, whd.SecurityOpen, "")}, func(itf whd.Interface, frame []byte) {
		mu.Lock()
		sent = append([]byte(nil), frame...)
		mu.Unlock()
	})
	frame := []byte("\xff\xff\xff\xff\xff\xff\x02\x00\x00\x00\x00\x01\x08\x06payload")
	if err := th.SendEth(frame); err == nil {
		t.Error("sent frame before joining")
	}
	th.ScanNetworks(context.Background())
	if err := th.JoinName("lan", nil); err != nil {
		t.Fatal(err)
	}
	if err := th.SendEth(frame); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	got := sent
	mu.Unlock()
	if !bytes.Equal(got, frame) {
		t.Errorf("sent %q, want %q", got, frame)
	}

	received := make(chan []byte, 1)
	th.RecvEthHandle(func(pkt []byte) error {
		received <- append([]byte(nil), pkt...)
		return nil
	})
	if err := th.chip.Inject(frame); err != nil {
		t.Fatal(err)
	}
	select {
	case pkt := <-received:
		if !bytes.Equal(pkt, frame) {
			t.Errorf("received %q, want %q", pkt, frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
	waitFor(t, "buffers returned", func() bool { return th.Buffers().Pool().InUse() == 0 })
}

func TestHostAccessPoint(t *testing.T) {
	th := newTestHost(t, nil, nil)
	if err := th.StartAP("wwd-ap", "short"); err == nil {
		t.Error("accepted short passphrase")
	}
	if err := th.StartAP("wwd-ap", "password1"); err != nil {
		t.Fatal(err)
	}
	if !th.APUp() {
		t.Error("access point not up")
	}
	if err := th.StopAP(); err != nil {
		t.Fatal(err)
	}
	if th.APUp() {
		t.Error("access point still up")
	}
	if err := th.StartAP("wwd-open", ""); err != nil {
		t.Fatal(err)
	}
}

func TestHostHardwareAddr(t *testing.T) {
	th := newTestHost(t, nil, nil)
	mac, err := th.HardwareAddr6()
	if err != nil {
		t.Fatal(err)
	}
	if mac != simchip.DefaultConfig().MAC {
		t.Errorf("got %x", mac)
	}
	want := [6]byte{0x02, 1, 2, 3, 4, 5}
	if err := th.SetHardwareAddr(want); err != nil {
		t.Fatal(err)
	}
	if mac, _ = th.HardwareAddr6(); mac != want {
		t.Errorf("got %x after set, want %x", mac, want)
	}
}

func TestHostStopReleasesDriver(t *testing.T) {
	th := newTestHost(t, nil, nil)
	if err := th.Stop(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "driver stop", func() bool { return !th.Running() })
	if _, err := th.ScanNetworks(context.Background()); err == nil {
		t.Error("scan accepted on stopped host")
	}
	if err := th.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "driver restart", th.Running)
}

func TestSemaphores(t *testing.T) {
	clk := &rtos.ManualClock{}
	clk.SetStep(rtos.MillisToTicks(1))
	h := idleHost(t, func(c *wwd.Config) { c.Clock = clk })
	var s rtos.Semaphore
	h.InitSemaphore(&s)
	if err := h.GetSemaphore(&s, 0, false); err != whd.ErrTimeout {
		t.Fatal("zero timeout on unset semaphore, got", err)
	}
	if err := h.GetSemaphore(&s, 10, false); err != whd.ErrTimeout {
		t.Fatal("expected timeout, got", err)
	}
	h.SetSemaphore(&s, false)
	if err := h.GetSemaphore(&s, 0, false); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < wwd.SemaphoreMax; i++ {
		h.SetSemaphore(&s, true)
	}
	mustPanic(t, "semaphore overflow", func() { h.SetSemaphore(&s, false) })
	if s.Count() != wwd.SemaphoreMax {
		t.Errorf("count %d after overflow", s.Count())
	}
}

func TestTransportSemaphoreNotifies(t *testing.T) {
	h := idleHost(t, func(c *wwd.Config) { c.QueueSize = 3 })
	var s rtos.Semaphore
	h.BindTransportSemaphore(&s)
	h.SetSemaphore(&s, false)
	h.SetSemaphore(&s, false)
	if h.QueueOverflows() != 0 {
		t.Fatal("unexpected overflow")
	}
	// Queue of 3 slots holds 2 notifications.
	h.SetSemaphore(&s, false)
	if h.QueueOverflows() != 1 {
		t.Errorf("got %d overflows, want 1", h.QueueOverflows())
	}
	if s.Count() != 3 {
		t.Error("semaphore count lost on queue overflow")
	}
}

func TestInterruptRequiresEnable(t *testing.T) {
	h := idleHost(t, func(c *wwd.Config) { c.QueueSize = 2 })
	var s rtos.Semaphore
	h.BindTransportSemaphore(&s)
	h.Interrupt()
	if s.Count() != 0 {
		t.Fatal("interrupt delivered while disabled")
	}
	h.BusEnableInterrupt()
	h.Interrupt()
	if s.Count() != 1 {
		t.Fatal("interrupt not delivered")
	}
	h.BusDisableInterrupt()
	h.Interrupt()
	if s.Count() != 1 || h.QueueOverflows() != 0 {
		t.Fatal("interrupt delivered after disable")
	}
}

func TestFatalRequests(t *testing.T) {
	h := idleHost(t, nil)
	mustPanic(t, "create thread", func() { h.CreateThread("wwd", func() {}) })
	mustPanic(t, "create thread with arg", func() { h.CreateThreadWithArg("wwd", func(uint32) {}, 1) })
	mustPanic(t, "finish thread", h.FinishThread)
	mustPanic(t, "null event handler", func() { h.DispatchEvent(whd.HandlerNull, whd.AsyncEvent{}, nil) })
	mustPanic(t, "null scan callback", func() { h.DispatchScanResult(whd.CallbackNull, nil, whd.ScanAborted) })
	if h.JoinThread("wwd") != nil || h.DeleteTerminatedThread("wwd") != nil {
		t.Error("thread join and delete must succeed")
	}
	if h.IsInInterruptContext() {
		t.Error("host code never runs in interrupt context")
	}
}

func TestPlatformPower(t *testing.T) {
	var levels []bool
	h := idleHost(t, func(c *wwd.Config) { c.Power = func(on bool) { levels = append(levels, on) } })
	h.ResetWifi(true)
	h.ResetWifi(false)
	h.PowerWifi(true)
	if len(levels) != 3 || levels[0] || !levels[1] || !levels[2] {
		t.Errorf("unexpected power sequence %v", levels)
	}
	if err := h.BusInit(); err == nil {
		t.Error("bus init succeeded without lines bound")
	}
	if err := h.SPITransfer(whd.BusRead, make([]byte, 8)); err == nil {
		t.Error("transfer succeeded without lines bound")
	}
}

func TestHostBuffers(t *testing.T) {
	h := idleHost(t, nil)
	if _, err := h.BufferGet(whd.BufferTx, h.MTU()+1, false); err != whd.ErrBufferUnavailablePermanent {
		t.Fatal("expected permanent failure above MTU, got", err)
	}
	p, err := h.BufferGet(whd.BufferRx, 100, false)
	if err != nil {
		t.Fatal(err)
	}
	if h.BufferSize(p) != 100 {
		t.Error("bad size")
	}
	// Delivered with no receive handler installed: the frame is dropped
	// and the stack reference released.
	h.ProcessEthernetData(p, whd.InterfaceSTA)
	h.BufferRelease(p, whd.BufferRx)
	if err := h.BufferCheckLeaked(); err != nil {
		t.Fatal(err)
	}
	mustPanic(t, "double release", func() { h.BufferRelease(p, whd.BufferRx) })
}

func TestNow(t *testing.T) {
	clk := &rtos.ManualClock{}
	h := idleHost(t, func(c *wwd.Config) { c.Clock = clk })
	clk.Advance(rtos.MillisToTicks(1500))
	if h.Now() != 1500 {
		t.Errorf("got %d ms, want 1500", h.Now())
	}
}
