// Command spitrace decodes Saleae logic analyzer captures of the chipset
// SPI bus into command transactions and checks bus spacing.
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"

	"github.com/soypat/wwd/whd"
)

// frame is one chip select period of a capture.
type frame struct {
	Start float64 // seconds since capture start.
	Data  []byte
}

type command struct {
	Write   bool
	AutoInc bool
	Fn      whd.Function
	Addr    uint32
	Size    uint32
}

func (cmd command) String() string {
	return fmt.Sprintf("addr=%#7x  fn=%9s  sz=%4v write=%5v autoinc=%5v",
		cmd.Addr, cmd.Fn.String(), cmd.Size, cmd.Write, cmd.AutoInc)
}

type transaction struct {
	Num   int // Consecutive identical transactions folded into this one.
	Cmd   command
	Data  []byte
	Start float64
	Valid bool
}

type decoder struct {
	Order     binary.ByteOrder
	OmitRead  bool
	OmitWrite bool
	// MinGap is the minimum time between the start of consecutive transactions.
	MinGap time.Duration
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "spitrace - Decode Saleae digital captures of the chipset SPI bus.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	sdio := flag.String("f-sd", "digital_1.bin", "Input filename: SPI SDO/SDI data.")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI clock data.")
	output := flag.String("o", "", "Output filename. Empty writes to standard output.")
	order := flag.String("order", "le", "Command word byte order: 'le' or 'be'.")
	omitRead := flag.Bool("omit-read", false, "Omit read transactions in output.")
	omitWrite := flag.Bool("omit-write", false, "Omit write transactions in output.")
	minGap := flag.Duration("min-gap", 0, "Report consecutive transactions starting closer than this.")
	flag.Parse()

	dec := decoder{OmitRead: *omitRead, OmitWrite: *omitWrite, MinGap: *minGap}
	switch *order {
	case "le":
		dec.Order = binary.LittleEndian
	case "be":
		dec.Order = binary.BigEndian
	default:
		log.Fatal("invalid ordering ", *order)
	}
	if dec.OmitRead && dec.OmitWrite {
		log.Fatal("cannot omit both read and write transactions")
	}
	start := time.Now()
	frames, err := readCapture(*sdio, *clk, *enable)
	if err != nil {
		log.Fatal(err)
	}
	var w io.Writer = os.Stdout
	if *output != "" {
		fp, err := os.Create(*output)
		if err != nil {
			log.Fatal(err)
		}
		defer fp.Close()
		w = fp
	}
	if err := dec.report(w, frames); err != nil {
		log.Fatal(err)
	}
	log.Println("finished in", time.Since(start))
}

func readCapture(fsdio, fclk, fenable string) ([]frame, error) {
	sdio, err := opendigital(fsdio)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	// The bus is half duplex: one data line carries both directions.
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, sdio, sdio)
	frames := make([]frame, len(txs))
	for i := range txs {
		frames[i] = frame{Start: txs[i].StartTime(), Data: txs[i].SDO}
	}
	return frames, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

func (dec *decoder) parse(f frame) transaction {
	if len(f.Data) < whd.CMD_LEN {
		return transaction{Num: 1, Data: f.Data, Start: f.Start}
	}
	var cmd command
	cmd.Write, cmd.AutoInc, cmd.Fn, cmd.Addr, cmd.Size = whd.ParseCmdWord(dec.Order.Uint32(f.Data))
	return transaction{Num: 1, Cmd: cmd, Data: f.Data[whd.CMD_LEN:], Start: f.Start, Valid: true}
}

// decode folds consecutive identical frames into one transaction.
func (dec *decoder) decode(frames []frame) []transaction {
	var txs []transaction
	for i := 0; i < len(frames); i++ {
		tx := dec.parse(frames[i])
		for j := i + 1; j < len(frames); j++ {
			next := dec.parse(frames[j])
			if next.Valid != tx.Valid || next.Cmd != tx.Cmd || !bytes.Equal(next.Data, tx.Data) {
				break
			}
			tx.Num++
			i = j
		}
		txs = append(txs, tx)
	}
	return txs
}

// gaps returns the indices of frames that start less than MinGap after
// their predecessor.
func (dec *decoder) gaps(frames []frame) []int {
	if dec.MinGap <= 0 {
		return nil
	}
	limit := dec.MinGap.Seconds()
	var idx []int
	for i := 1; i < len(frames); i++ {
		if frames[i].Start-frames[i-1].Start < limit {
			idx = append(idx, i)
		}
	}
	return idx
}

// probeResult reports whether the capture contains a read of the bus test
// register and whether it returned the test pattern.
func (dec *decoder) probeResult(txs []transaction) (found, ok bool) {
	for _, tx := range txs {
		if !tx.Valid || tx.Cmd.Write || tx.Cmd.Fn != whd.FuncBus || tx.Cmd.Addr != whd.SPI_READ_TEST_REGISTER {
			continue
		}
		if len(tx.Data) >= 4 && dec.Order.Uint32(tx.Data) == whd.TEST_PATTERN {
			return true, true
		}
		found = true
	}
	return found, false
}

func (dec *decoder) report(w io.Writer, frames []frame) error {
	const fmtMsg = "cmd×%2d %s data=%#x"
	txs := dec.decode(frames)
	for _, tx := range txs {
		if !tx.Valid {
			fmt.Fprintf(w, "t=%f invalid data=%#x\n", tx.Start, tx.Data)
			continue
		}
		if (dec.OmitRead && !tx.Cmd.Write) || (dec.OmitWrite && tx.Cmd.Write) {
			continue
		}
		var err error
		if tx.Cmd.Size < uint32(len(tx.Data)) {
			// Anything after the space is not part of the command.
			fmt.Fprintf(w, fmtMsg, tx.Num, tx.Cmd.String(), tx.Data[:tx.Cmd.Size])
			_, err = fmt.Fprintf(w, " %x\n", tx.Data[tx.Cmd.Size:])
		} else {
			_, err = fmt.Fprintf(w, fmtMsg+"\n", tx.Num, tx.Cmd.String(), tx.Data)
		}
		if err != nil {
			return err
		}
	}
	for _, i := range dec.gaps(frames) {
		fmt.Fprintf(w, "gap: frame %d at t=%f starts %s after previous\n", i, frames[i].Start,
			time.Duration((frames[i].Start-frames[i-1].Start)*float64(time.Second)))
	}
	switch found, ok := dec.probeResult(txs); {
	case ok:
		_, err := fmt.Fprintln(w, "probe: test pattern ok")
		return err
	case found:
		_, err := fmt.Fprintln(w, "probe: test register read did not return test pattern")
		return err
	}
	return nil
}
