package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/shlex"
)

type consoleState uint8

const (
	stateDisconnected consoleState = iota
	stateConnected
	stateIndex
	statePassword
)

func (s consoleState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnected:
		return "connected"
	case stateIndex:
		return "index"
	case statePassword:
		return "password"
	}
	return "unknown"
}

const (
	defaultTargetHost = "localhost"
	defaultTargetPort = "10234"
)

// target receives console lines once connected.
type target interface {
	Send(line string) error
	Close() error
}

// dialer opens a target. host is either "localhost" for the simulated
// host or a serial device name, port is a port number or baud rate.
type dialer func(host, port string) (target, error)

// console is the line oriented controller front end. Lines are tokenized
// with shell quoting rules so SSIDs and keys may contain spaces.
type console struct {
	out   io.Writer
	dial  dialer
	state consoleState
	tgt   target
}

func newConsole(out io.Writer, dial dialer) *console {
	return &console{out: out, dial: dial}
}

// Handle processes one input line. It returns true when the console should exit.
func (c *console) Handle(line string) (quit bool) {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintln(c.out, "parse:", err)
		return false
	}
	if len(args) == 0 {
		return false // Blank lines are not sent.
	}
	switch args[0] {
	case "q", "quit":
		if len(args) == 1 {
			c.disconnect()
			return true
		}
	case "h", "?", "help":
		if len(args) == 1 {
			c.printHelp()
			return false
		}
	}
	switch c.state {
	case stateDisconnected:
		c.handleDisconnected(args)
	case stateConnected:
		c.handleConnected(line, args)
	case stateIndex:
		if c.send(line) {
			c.state = statePassword
			fmt.Fprintln(c.out, "Enter security key:")
		}
	case statePassword:
		if c.send(line) {
			c.state = stateConnected
		}
	}
	return false
}

func (c *console) handleDisconnected(args []string) {
	if args[0] != "c" && args[0] != "connect" {
		fmt.Fprintln(c.out, "Not connected - connect first, type '?' or 'h' for help")
		return
	}
	host, port := defaultTargetHost, defaultTargetPort
	switch len(args) {
	case 1:
	case 2:
		// A lone argument is the port of localhost.
		port = args[1]
	default:
		host, port = args[1], args[2]
	}
	fmt.Fprintf(c.out, "Connecting to %s:%s... ", host, port)
	tgt, err := c.dial(host, port)
	if err != nil {
		fmt.Fprintln(c.out, "failed:", err)
		return
	}
	fmt.Fprintln(c.out, "connected")
	c.tgt = tgt
	c.state = stateConnected
}

func (c *console) handleConnected(line string, args []string) {
	if args[0] == "d" || args[0] == "disconnect" {
		c.disconnect()
		return
	}
	if !c.send(line) {
		return
	}
	if len(args) == 1 && args[0] == "join" {
		c.state = stateIndex
		fmt.Fprintln(c.out, "Enter scan result index of network to join:")
	}
}

// send forwards line to the target and drops the connection on failure.
func (c *console) send(line string) bool {
	err := c.tgt.Send(line)
	if err != nil {
		fmt.Fprintln(c.out, "Failed to send string, disconnecting:", err)
		c.disconnect()
		return false
	}
	return true
}

func (c *console) disconnect() {
	if c.tgt != nil {
		c.tgt.Close()
		c.tgt = nil
	}
	c.state = stateDisconnected
}

func (c *console) printHelp() {
	fmt.Fprint(c.out, `Controller:
 c|connect [HOST|localhost] [PORT] : connect to specified device
    A default host of 'localhost' and a default port of 10234 are used
    if not specified. If only one argument is passed it is assumed to
    be the port and the host is assumed to be 'localhost'. 'localhost'
    is the simulated host, any other host is opened as a serial device
    with PORT as the baud rate.
 join : join a network
 d|disconnect : disconnect current connection
 h|?|help : print this help message
 q|quit : quit
 Anything else will be sent as a string to the controller
`)
}

var errBadBaud = errors.New("baud rate must be a positive integer")

func parseBaud(port string) (int, error) {
	baud, err := strconv.Atoi(port)
	if err != nil || baud <= 0 {
		return 0, errBadBaud
	}
	return baud, nil
}
