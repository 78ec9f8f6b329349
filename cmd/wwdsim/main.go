// Command wwdsim runs the host bridge against a simulated chipset and
// drives it from an interactive controller console.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/soypat/wwd"
	"github.com/soypat/wwd/internal/boardcfg"
	"github.com/soypat/wwd/internal/simchip"
)

type flags struct {
	board    string
	serial   string
	mqtt     string
	topic    string
	timeout  time.Duration
	nostack  bool
	loglevel int
}

func main() {
	var f flags
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "wwdsim - host bridge controller console over a simulated chipset.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	flag.StringVar(&f.board, "board", "", "YAML board description. Empty uses defaults with no visible networks.")
	flag.StringVar(&f.serial, "serial", "", "Serial device a bare connect command opens instead of the simulated host.")
	flag.StringVar(&f.mqtt, "mqtt", "", "MQTT broker host:port scan tables are published to.")
	flag.StringVar(&f.topic, "topic", "wwd/scan", "MQTT topic of published scan tables.")
	flag.DurationVar(&f.timeout, "timeout", 10*time.Second, "Timeout of controller commands.")
	flag.BoolVar(&f.nostack, "nostack", false, "Disable the IP stack on the station interface.")
	flag.IntVar(&f.loglevel, "v", int(slog.LevelInfo), "Log level. -5 traces bus activity.")
	flag.Parse()
	if err := run(context.Background(), f, os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, f flags, in io.Reader, out io.Writer) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(f.loglevel),
	}))
	board := &boardcfg.Config{}
	if f.board != "" {
		var err error
		board, err = boardcfg.Load(f.board)
		if err != nil {
			return err
		}
	} else {
		boardcfg.Normalize(board)
	}

	chipcfg := board.ChipConfig()
	chipcfg.Logger = logger
	chipcfg.OnSend = logFrames(logger)
	chip := simchip.New(chipcfg)
	cfg := board.HostConfig()
	cfg.SPI = chip.PortConfig()
	cfg.ScanOutput = out
	cfg.Logger = logger
	host, err := wwd.NewHost(chip, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	hostDone := make(chan error, 1)
	go func() { hostDone <- host.Run(ctx) }()
	err = host.Start()
	if err != nil {
		return err
	}
	for start := time.Now(); !host.Running(); time.Sleep(time.Millisecond) {
		if time.Since(start) > f.timeout {
			return fmt.Errorf("host did not start within %s", f.timeout)
		}
	}

	tgt := &hostTarget{host: host, out: out, timeout: f.timeout}
	if !f.nostack {
		tgt.stack, err = newNetStack(host, logger)
		if err != nil {
			return err
		}
		go tgt.stack.Run(ctx)
	}
	if f.mqtt != "" {
		tgt.pub = newPublisher(f.mqtt, "wwdsim-"+board.Board.Name, f.topic, logger)
	}

	con := newConsole(out, func(h, port string) (target, error) {
		if h == defaultTargetHost && f.serial == "" {
			return tgt, nil
		}
		if h == defaultTargetHost {
			h = f.serial
			if port == defaultTargetPort {
				port = "115200"
			}
		}
		baud, err := parseBaud(port)
		if err != nil {
			return nil, err
		}
		return openSerialTarget(h, baud, out)
	})
	fmt.Fprintln(out, "----- wwd host controller -----")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if con.Handle(scanner.Text()) {
			break
		}
	}

	cancel()
	<-hostDone
	return scanner.Err()
}
