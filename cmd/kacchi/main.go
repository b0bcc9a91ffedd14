// kacchi boots the kacchiOS teaching kernel in-process and serves its serial
// console on the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kacchi-os/kacchi/internal/cli"
	kio "github.com/kacchi-os/kacchi/internal/io"
	"github.com/kacchi-os/kacchi/internal/runtime/kernel"
)

const toolName = "kacchi"

func main() {
	var (
		showVersion bool
		jsonOutput  bool
		configFile  string
		selfTest    bool
		watch       bool
		verbose     bool
		debug       bool
	)

	flag.BoolVar(&showVersion, "version", false, "show version information")
	flag.BoolVar(&jsonOutput, "json", false, "output version in JSON format")
	flag.StringVar(&configFile, "config", "", "kernel configuration file (.json, .yaml or .yml)")
	flag.BoolVar(&selfTest, "selftest", true, "run the kernel self-tests at boot")
	flag.BoolVar(&watch, "watch", false, "reboot the kernel when the configuration file changes")
	flag.BoolVar(&verbose, "verbose", false, "enable verbose logging")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Boot the kacchiOS kernel and open its console.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		cli.PrintVersion(os.Stdout, toolName, jsonOutput)
		return
	}

	logger := cli.NewLogger(os.Stderr, verbose, debug)

	if watch && configFile == "" {
		cli.ExitWithError("-watch needs -config")
	}

	config, err := cli.LoadKernelConfig(configFile)
	if err != nil {
		cli.ExitWithError("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, configFile, watch, selfTest, logger); err != nil {
		cli.HandleError(err, logger)
	}
}

func run(ctx context.Context, config *kernel.KernelConfig, configFile string, watch, selfTest bool, logger *cli.Logger) error {
	restore := func() error { return nil }
	if fd := int(os.Stdin.Fd()); kio.IsTerminal(fd) {
		r, err := kio.MakeRaw(fd)
		if err != nil {
			logger.Warn("raw console unavailable: %v", err)
		} else {
			restore = r
		}
	}
	defer restore()

	// The console blocks in a read, so an interrupt cannot unwind it.
	// Put the terminal back and leave directly.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			restore()
			fmt.Fprintln(os.Stderr)
			os.Exit(130)
		case <-done:
		}
	}()

	serial := kio.NewSerial(os.Stdin, os.Stdout)

	k, err := kernel.NewKernel(config, serial, logger)
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	if err := boot(k, serial, selfTest); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cw *cli.ConfigWatcher
	if watch {
		if cw, err = cli.NewConfigWatcher(configFile, logger); err != nil {
			return fmt.Errorf("failed to watch %s: %w", configFile, err)
		}
		defer cw.Close()
	}

	reboot := make(chan *kernel.KernelConfig, 1)
	shell := NewShell(k, serial, logger, reboot)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return shell.Run(gctx)
	})

	if cw != nil {
		g.Go(func() error {
			return cw.Run(gctx, func(path string) {
				cfg, err := cli.LoadKernelConfig(path)
				if err != nil {
					logger.Warn("ignoring configuration change: %v", err)
					return
				}
				logger.Info("configuration %s changed, reboot queued", path)
				select {
				case <-reboot:
				default:
				}
				reboot <- cfg
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := serial.Stats()
	logger.Info("console closed: %d bytes in, %d bytes out", stats.BytesRead, stats.BytesWritten)
	return nil
}

// boot runs the self-tests and prints the welcome banner.
func boot(k *kernel.Kernel, serial *kio.Serial, selfTest bool) error {
	if selfTest {
		if err := kernel.RunSelfTests(k, serial); err != nil {
			return err
		}
	}

	serial.PutString("\n")
	serial.PutString("========================================\n")
	serial.PutString("    kacchiOS - Minimal Baremetal OS\n")
	serial.PutString("========================================\n")
	serial.PutString("Hello from kacchiOS!\n")
	serial.PutString("Running null process...\n\n")
	return nil
}
