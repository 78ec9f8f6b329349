package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/soypat/wwd"
	"github.com/soypat/wwd/internal/simchip"
	"github.com/soypat/wwd/whd"
)

type fakeTarget struct {
	lines  []string
	closed bool
	err    error
}

func (ft *fakeTarget) Send(line string) error {
	if ft.err != nil {
		return ft.err
	}
	ft.lines = append(ft.lines, line)
	return nil
}

func (ft *fakeTarget) Close() error {
	ft.closed = true
	return nil
}

type dialRecord struct {
	host, port string
}

func newTestConsole(ft *fakeTarget, dialErr error) (*console, *bytes.Buffer, *[]dialRecord) {
	var out bytes.Buffer
	var dials []dialRecord
	con := newConsole(&out, func(host, port string) (target, error) {
		dials = append(dials, dialRecord{host, port})
		if dialErr != nil {
			return nil, dialErr
		}
		return ft, nil
	})
	return con, &out, &dials
}

func TestConsoleConnectArguments(t *testing.T) {
	for _, test := range []struct {
		line string
		want dialRecord
	}{
		{line: "c", want: dialRecord{"localhost", "10234"}},
		{line: "connect 5000", want: dialRecord{"localhost", "5000"}},
		{line: "c /dev/ttyACM0 115200", want: dialRecord{"/dev/ttyACM0", "115200"}},
	} {
		ft := &fakeTarget{}
		con, _, dials := newTestConsole(ft, nil)
		con.Handle(test.line)
		if len(*dials) != 1 || (*dials)[0] != test.want {
			t.Errorf("%q: dialed %v, want %v", test.line, *dials, test.want)
		}
		if con.state != stateConnected {
			t.Errorf("%q: state %s", test.line, con.state)
		}
	}
}

func TestConsoleJoinSequence(t *testing.T) {
	ft := &fakeTarget{}
	con, out, _ := newTestConsole(ft, nil)
	if con.Handle("scan") {
		t.Fatal("unexpected quit")
	}
	if !strings.Contains(out.String(), "Not connected") {
		t.Error("expected connect hint, got", out.String())
	}
	con.Handle("c")
	con.Handle("   ")
	con.Handle("scan")
	con.Handle("join")
	if con.state != stateIndex {
		t.Fatalf("after join state is %s", con.state)
	}
	con.Handle("1")
	if con.state != statePassword {
		t.Fatalf("after index state is %s", con.state)
	}
	con.Handle(`"correct horse"`)
	if con.state != stateConnected {
		t.Fatalf("after key state is %s", con.state)
	}
	want := []string{"scan", "join", "1", `"correct horse"`}
	if strings.Join(ft.lines, "|") != strings.Join(want, "|") {
		t.Errorf("forwarded %q, want %q", ft.lines, want)
	}
	con.Handle("d")
	if con.state != stateDisconnected || !ft.closed {
		t.Error("disconnect did not close target")
	}
}

func TestConsoleHelpAndQuit(t *testing.T) {
	ft := &fakeTarget{}
	con, out, _ := newTestConsole(ft, nil)
	con.Handle("c")
	for _, line := range []string{"h", "?", "help"} {
		out.Reset()
		if con.Handle(line) {
			t.Fatal("help quit the console")
		}
		if !strings.Contains(out.String(), "Controller:") {
			t.Errorf("%q did not print help", line)
		}
	}
	if len(ft.lines) != 0 {
		t.Error("help was forwarded to target")
	}
	if !con.Handle("quit") {
		t.Error("quit did not exit")
	}
	if !ft.closed {
		t.Error("quit did not close target")
	}
}

func TestConsoleFailures(t *testing.T) {
	con, out, _ := newTestConsole(nil, errBadBaud)
	con.Handle("c /dev/null nope")
	if con.state != stateDisconnected || !strings.Contains(out.String(), "failed") {
		t.Error("dial failure not reported")
	}

	ft := &fakeTarget{err: errors.New("broken pipe")}
	con, out, _ = newTestConsole(ft, nil)
	con.Handle("c")
	con.Handle("scan")
	if con.state != stateDisconnected || !strings.Contains(out.String(), "Failed to send") {
		t.Error("send failure did not disconnect")
	}

	con.Handle(`c "unterminated`)
	if !strings.Contains(out.String(), "parse:") {
		t.Error("tokenizer error not reported")
	}
	if _, err := parseBaud("0"); err != errBadBaud {
		t.Error("zero baud accepted")
	}
}

func TestHostTarget(t *testing.T) {
	ssid, _ := whd.MakeSSID("lab")
	chipcfg := simchip.DefaultConfig()
	chipcfg.Networks = []simchip.Network{{
		Result: whd.ScanResult{
			SSID:     ssid,
			BSSID:    [6]byte{2, 0, 0, 0, 0, 9},
			Security: whd.SecurityWPA2AESPSK,
			Band:     whd.Band2_4GHz,
			Channel:  11,
		},
		Key: "labpassword",
	}}
	chip := simchip.New(chipcfg)
	var out bytes.Buffer
	cfg := wwd.DefaultConfig()
	cfg.SPI = chip.PortConfig()
	cfg.ScanOutput = &out
	host, err := wwd.NewHost(chip, cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		host.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	host.Start()
	for deadline := time.Now().Add(2 * time.Second); !host.Running(); time.Sleep(time.Millisecond) {
		if time.Now().After(deadline) {
			t.Fatal("host did not start")
		}
	}

	tgt := &hostTarget{host: host, out: &out, timeout: 2 * time.Second}
	for _, line := range []string{"scan", "join", "0", "labpassword", "status"} {
		tgt.Send(line)
	}
	got := out.String()
	for _, want := range []string{"lab", "1 networks", "joined 0", "joined=true"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "error:") {
		t.Errorf("unexpected error output:\n%s", got)
	}

	out.Reset()
	tgt.Send("bogus")
	tgt.Send("dhcp")
	tgt.Send("publish")
	tgt.Send("ap x y z w")
	got = out.String()
	for _, want := range []error{errUnknownCommand, errNoStack, errNoBroker, errUsage} {
		if !strings.Contains(got, want.Error()) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	out.Reset()
	tgt.Send("mac 02:00:00:00:00:42")
	tgt.Send("mac")
	if !strings.Contains(out.String(), "02:00:00:00:00:42") {
		t.Errorf("mac not updated:\n%s", out.String())
	}
	tgt.Send("leave")
	if host.Joined() {
		t.Error("still joined after leave")
	}

	// Scan prints the count even when publishing to the broker fails.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	broker := l.Addr().String()
	l.Close()
	tgt.pub = newPublisher(broker, "wwdsim-test", "wwd/scan", slog.New(slog.NewTextHandler(io.Discard, nil)))
	out.Reset()
	tgt.Send("scan")
	got = out.String()
	if !strings.Contains(got, "1 networks") || !strings.Contains(got, "error:") {
		t.Errorf("want count and publish error:\n%s", got)
	}
}
