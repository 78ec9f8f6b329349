package scan

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/soypat/wwd/rtos"
	"github.com/soypat/wwd/whd"
)

func network(name string, last byte, rssi int16) whd.ScanResult {
	ssid, _ := whd.MakeSSID(name)
	return whd.ScanResult{
		SSID:           ssid,
		BSSID:          [6]byte{0x02, 0, 0, 0, 0, last},
		SignalStrength: rssi,
		MaxDataRate:    54000,
		Security:       whd.SecurityWPA2AESPSK,
		Band:           whd.Band2_4GHz,
		Channel:        6,
	}
}

func newTestAggregator(t *testing.T, capacity int) (*Aggregator, *rtos.ManualClock) {
	t.Helper()
	clk := &rtos.ManualClock{}
	ag, err := New(Config{Capacity: capacity, Clock: clk})
	if err != nil {
		t.Fatal(err)
	}
	return ag, clk
}

func TestScanDedup(t *testing.T) {
	ag, clk := newTestAggregator(t, whd.MaxScanResults)
	if err := ag.Start(nil); err != nil {
		t.Fatal(err)
	}
	if ag.State() != Scanning {
		t.Fatal("not scanning after start")
	}
	a := network("A", 1, -40)
	b := network("B", 2, -60)
	aDup := a
	aDup.SignalStrength = -80
	for _, r := range []whd.ScanResult{a, b, aDup} {
		ag.Add(&r)
	}
	clk.Advance(rtos.MillisToTicks(1200))
	ag.Complete(whd.ScanCompletedSuccessfully)

	if ag.State() != Idle {
		t.Fatal("not idle after complete")
	}
	if ag.Len() != 2 {
		t.Fatalf("got %d entries, want 2", ag.Len())
	}
	got0, _ := ag.Result(0)
	got1, _ := ag.Result(1)
	if got0.SSID.String() != "A" || got1.SSID.String() != "B" {
		t.Error("entries not in callback order")
	}
	if got0.SignalStrength != -40 {
		t.Error("duplicate must not refresh signal strength by default")
	}
	if ag.Elapsed() != 1200*time.Millisecond {
		t.Errorf("elapsed %s, want 1.2s", ag.Elapsed())
	}
	if ag.Aborted() || ag.Status() != whd.ScanCompletedSuccessfully {
		t.Error("bad final status")
	}
	select {
	case <-ag.Done():
	default:
		t.Error("done not closed after complete")
	}
}

func TestScanDistinctBSSID(t *testing.T) {
	ag, _ := newTestAggregator(t, 10)
	ag.Start(nil)
	a := network("same", 1, -40)
	b := network("same", 2, -40)
	ag.Add(&a)
	ag.Add(&b)
	ag.Complete(whd.ScanCompletedSuccessfully)
	if ag.Len() != 2 {
		t.Fatalf("got %d entries, want 2", ag.Len())
	}
}

func TestScanRefreshDuplicates(t *testing.T) {
	ag, err := New(Config{Capacity: 4, RefreshDuplicates: true, Clock: &rtos.ManualClock{}})
	if err != nil {
		t.Fatal(err)
	}
	ag.Start(nil)
	a := network("A", 1, -40)
	ag.Add(&a)
	a.SignalStrength = -20
	if ag.Add(&a) {
		t.Error("duplicate reported as added")
	}
	got, _ := ag.Result(0)
	if ag.Len() != 1 || got.SignalStrength != -20 {
		t.Error("duplicate not refreshed")
	}
}

func TestScanCapacityAbort(t *testing.T) {
	const capacity = whd.MaxScanResults
	ag, _ := newTestAggregator(t, capacity)
	aborts := 0
	ag.Start(func() error {
		aborts++
		// Driver may report completion from within the abort.
		ag.Complete(whd.ScanAborted)
		return nil
	})
	for i := 0; i < capacity+1; i++ {
		r := network("net", byte(i), -50)
		added := ag.Add(&r)
		if i < capacity-1 && ag.State() != Scanning {
			t.Fatalf("left scanning state early at %d", i)
		}
		if i == capacity-1 && (!added || ag.State() != Idle) {
			t.Fatal("capacity-th insertion must abort and go idle")
		}
		if i == capacity && added {
			t.Fatal("result accepted after abort")
		}
	}
	if aborts != 1 {
		t.Errorf("abort called %d times, want 1", aborts)
	}
	if ag.Len() != capacity || !ag.Aborted() || ag.Status() != whd.ScanAborted {
		t.Error("bad state after capacity abort")
	}
	// Late complete from the driver is ignored.
	ag.Complete(whd.ScanCompletedSuccessfully)
	if ag.Status() != whd.ScanAborted {
		t.Error("late complete overwrote status")
	}
}

func TestScanRestartClears(t *testing.T) {
	ag, _ := newTestAggregator(t, 4)
	ag.Start(nil)
	a := network("A", 1, -40)
	ag.Add(&a)
	if err := ag.Start(nil); err != ErrScanInProgress {
		t.Fatal("expected scan in progress, got", err)
	}
	ag.Complete(whd.ScanCompletedSuccessfully)
	ag.Start(nil)
	if ag.Len() != 0 {
		t.Fatal("table not reset at scan start")
	}
	ag.Add(&a)
	if ag.Len() != 1 {
		t.Fatal("table not usable after restart")
	}
}

func TestScanStopAndWait(t *testing.T) {
	ag, _ := newTestAggregator(t, 4)
	stopped := make(chan struct{})
	ag.Start(func() error { close(stopped); return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := ag.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatal("expected wait to time out, got", err)
	}
	go ag.Stop()
	if err := ag.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ag.State() != Idle || !ag.Aborted() {
		t.Error("stop did not end scan")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("stop did not abort driver scan")
	}
}

func TestIndexByName(t *testing.T) {
	ag, _ := newTestAggregator(t, 4)
	ag.Start(nil)
	for i, name := range []string{"alpha", "beta", "gamma"} {
		r := network(name, byte(i), -40)
		ag.Add(&r)
	}
	ag.Complete(whd.ScanCompletedSuccessfully)
	if i, ok := ag.IndexByName("beta"); !ok || i != 1 {
		t.Errorf("got %d,%v want 1,true", i, ok)
	}
	if _, ok := ag.IndexByName("bet"); ok {
		t.Error("prefix must not match")
	}
	if _, ok := ag.IndexByName("delta"); ok {
		t.Error("absent name found")
	}
}

func TestWriteTable(t *testing.T) {
	r := network("home", 0xab, -47)
	var buf bytes.Buffer
	err := WriteSummary(&buf, whd.ScanCompletedSuccessfully, 2500*time.Millisecond, []whd.ScanResult{r})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Scan completed in 2500 milliseconds",
		"  0 Infra 02:00:00:00:00:AB  -47  54.0    6  WPA2 AES   PSK",
		"home",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
