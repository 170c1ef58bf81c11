package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/tinyrange/rvvm"
)

const (
	regData   = 0 // THR on write, RBR on read
	regStatus = 5 // LSR
	lsrTHRE   = 0x20
)

// console is a transmit-only 16550-style UART.
type console struct {
	mu  *sync.Mutex
	out io.Writer
	tx  *int
}

func (c *console) Name() string { return "ns16550a" }

func (c *console) Read(offset uint64, data []byte) error {
	switch offset {
	case regStatus:
		data[0] = lsrTHRE
	default:
		data[0] = 0
	}
	return nil
}

func (c *console) Write(offset uint64, data []byte) error {
	if offset != regData {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.out.Write(data[:1]); err != nil {
		return err
	}
	*c.tx++
	return nil
}

func (c *console) Remove() {
	slog.Debug("console removed", "bytes", *c.tx)
}

func parseAddr(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}

// flushConsole copies guest output to stdout. Escape sequences are only
// passed through to a terminal.
func flushConsole(buf *bytes.Buffer) error {
	out := buf.String()
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		out = ansi.Strip(out)
	}
	_, err := io.WriteString(os.Stdout, out)
	return err
}

func run() error {
	configPath := flag.String("config", "", "YAML machine config")
	backend := flag.String("backend", "", "runtime backend (auto, soft, native)")
	library := flag.String("library", "", "path to librvvm for the native backend")
	addrFlag := flag.String("addr", "0x10000000", "UART base address")
	message := flag.String("message", "hello from the guest bus\n", "bytes the guest writes to the UART")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := rvvm.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = rvvm.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *library != "" {
		cfg.Library = *library
	}

	addr, err := parseAddr(*addrFlag)
	if err != nil {
		return fmt.Errorf("parse -addr: %w", err)
	}

	inst, err := rvvm.NewInstance(cfg)
	if err != nil {
		return err
	}
	defer inst.Close()
	slog.Info("created machine", "backend", inst.Backend(), "mem_base", fmt.Sprintf("0x%x", inst.MemBase()))

	var output bytes.Buffer
	tx := new(int)
	dev, err := rvvm.NewDevice[console](addr, 8, rvvm.OpSize(1, 1), console{mu: new(sync.Mutex), out: &output, tx: tx})
	if err != nil {
		return err
	}
	name := dev.Name()
	h, err := rvvm.Attach(inst, dev)
	if err != nil {
		dev.Close()
		return err
	}
	slog.Info("attached", "device", name, "handle", h)

	// A second device on the same region is refused and stays ours.
	dup, err := rvvm.NewDevice[console](addr+4, 8, rvvm.OpSize(1, 1), console{mu: new(sync.Mutex), out: io.Discard, tx: new(int)})
	if err != nil {
		return err
	}
	if _, err := rvvm.Attach(inst, dup); errors.Is(err, rvvm.ErrRegionOverlap) {
		slog.Info("overlapping attach rejected", "error", err)
	}
	dup.Close()

	for i := 0; i < len(*message); i++ {
		status := []byte{0}
		if err := inst.Load(addr+regStatus, status); err != nil {
			if errors.Is(err, rvvm.ErrUnsupported) {
				slog.Info("backend cannot drive guest accesses from the host", "backend", inst.Backend())
				break
			}
			return err
		}
		if status[0]&lsrTHRE == 0 {
			continue
		}
		if err := inst.Store(addr+regData, []byte{(*message)[i]}); err != nil {
			return err
		}
	}

	if err := rvvm.Detach(inst, h); err != nil {
		return err
	}
	slog.Info("detached", "transmitted", *tx)
	return flushConsole(&output)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rvvm-attach: %v\n", err)
		os.Exit(1)
	}
}
