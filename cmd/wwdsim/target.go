package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/shlex"
	"github.com/tarm/serial"

	"github.com/soypat/wwd"
)

var (
	errUnknownCommand = errors.New("unknown command, see help")
	errUsage          = errors.New("bad arguments")
	errNoStack        = errors.New("network stack disabled")
	errNoBroker       = errors.New("no MQTT broker configured")
)

type joinStep uint8

const (
	joinIdle joinStep = iota
	joinIndex
	joinKey
)

// hostTarget is the controller application of the simulated host.
type hostTarget struct {
	host    *wwd.Host
	stack   *netStack
	pub     *publisher
	out     io.Writer
	timeout time.Duration

	step    joinStep
	pending string
}

func (t *hostTarget) Close() error {
	t.step = joinIdle
	return nil
}

func (t *hostTarget) Send(line string) error {
	err := t.exec(line)
	if err != nil {
		fmt.Fprintln(t.out, "error:", err)
	}
	return nil
}

func (t *hostTarget) exec(line string) error {
	switch t.step {
	case joinIndex:
		t.pending = line
		t.step = joinKey
		return nil
	case joinKey:
		t.step = joinIdle
		return t.join(t.pending, line)
	}
	args, err := shlex.Split(line)
	if err != nil {
		return err
	} else if len(args) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	switch args[0] {
	case "scan":
		n, err := t.host.ScanNetworks(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "%d networks\n", n)
		if t.pub != nil {
			return t.pub.Publish(ctx, t.host.Networks())
		}
	case "join":
		t.step = joinIndex
	case "leave":
		return t.host.Leave()
	case "ap":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		key := ""
		if len(args) == 3 {
			key = args[2]
		}
		return t.host.StartAP(args[1], key)
	case "stopap":
		return t.host.StopAP()
	case "mac":
		return t.mac(args[1:])
	case "status":
		t.status()
	case "dhcp":
		if t.stack == nil {
			return errNoStack
		}
		hostname := "wwdsim"
		if len(args) > 1 {
			hostname = args[1]
		}
		return t.stack.DHCP(ctx, hostname)
	case "publish":
		if t.pub == nil {
			return errNoBroker
		}
		return t.pub.Publish(ctx, t.host.Networks())
	default:
		return errUnknownCommand
	}
	return nil
}

// join accepts either a scan table index or a network name.
func (t *hostTarget) join(which, key string) error {
	var err error
	if i, converr := strconv.Atoi(which); converr == nil {
		err = t.host.JoinIndex(i, []byte(key))
	} else {
		err = t.host.JoinName(which, []byte(key))
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(t.out, "joined", which)
	return nil
}

func (t *hostTarget) mac(args []string) error {
	switch len(args) {
	case 0:
		mac, err := t.host.HardwareAddr6()
		if err != nil {
			return err
		}
		fmt.Fprintln(t.out, net.HardwareAddr(mac[:]))
		return nil
	case 1:
		hw, err := net.ParseMAC(args[0])
		if err != nil {
			return err
		} else if len(hw) != 6 {
			return errUsage
		}
		return t.host.SetHardwareAddr([6]byte(hw))
	}
	return errUsage
}

func (t *hostTarget) status() {
	bufs := t.host.Buffers()
	fmt.Fprintf(t.out, "running=%v joined=%v ap=%v flags=%v buffers=%d overflows=%d",
		t.host.Running(), t.host.Joined(), t.host.APUp(), t.host.NetFlags(),
		bufs.Pool().InUse(), t.host.QueueOverflows())
	if t.stack != nil {
		fmt.Fprintf(t.out, " addr=%s", t.stack.Addr())
	}
	fmt.Fprintln(t.out)
}

// serialTarget forwards lines to a controller attached to a serial port.
type serialTarget struct {
	port   *serial.Port
	closed atomic.Bool
	wg     sync.WaitGroup
}

func openSerialTarget(name string, baud int, out io.Writer) (*serialTarget, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	st := &serialTarget{port: port}
	st.wg.Add(1)
	go st.copyOutput(out)
	return st, nil
}

// copyOutput prints controller output until the port is closed. Read
// timeouts surface as io.EOF and are not terminal.
func (st *serialTarget) copyOutput(out io.Writer) {
	defer st.wg.Done()
	var buf [256]byte
	for !st.closed.Load() {
		n, err := st.port.Read(buf[:])
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return
		}
	}
}

func (st *serialTarget) Send(line string) error {
	_, err := st.port.Write(append([]byte(line), '\n'))
	return err
}

func (st *serialTarget) Close() error {
	st.closed.Store(true)
	err := st.port.Close()
	st.wg.Wait()
	return err
}
