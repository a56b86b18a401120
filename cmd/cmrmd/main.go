// Command cmrmd is the cellular-modem resource manager daemon (spec §4.9
// "Daemon bootstrap"): it loads configuration, wires the HAL/upload/
// customization/dump/escalation plugins, opens the CLA client socket and
// the host-bridge connection, and runs the CTRL and CLA event loops.
//
// Grounded on sibench's main.go: a docopt-go usage string bound into an
// Arguments struct, a dieOnError helper for startup failures, and a
// startServer-style dispatch — generalized here to a single long-running
// daemon instead of sibench's server/run mode split.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/softiron/cmrmd/internal/bridge"
	"github.com/softiron/cmrmd/internal/cla"
	"github.com/softiron/cmrmd/internal/config"
	"github.com/softiron/cmrmd/internal/ctrl"
	"github.com/softiron/cmrmd/internal/escalation"
	"github.com/softiron/cmrmd/internal/hal"
	"github.com/softiron/cmrmd/internal/logging"
	"github.com/softiron/cmrmd/internal/store"
	"github.com/softiron/cmrmd/internal/wakelock"
	"github.com/softiron/cmrmd/internal/watchdog"
	"github.com/softiron/cmrmd/internal/wire"
)

// Arguments holds the CLI flags docopt parses into.
type Arguments struct {
	Config    string
	FwPath    string
	Tlv       []string
	SysfsRoot string
	Verbose   bool
}

func usage() string {
	return `Cellular Modem Resource Manager daemon.
Usage:
  cmrmd [-v] [--config FILE] [--fw-path PATH] [--sysfs-root DIR] [--tlv TLV] ...
  cmrmd -h | --help

Options:
  -h, --help                Show full usage
  -v, --verbose              Turn on debug output.
  --config FILE              Path to the YAML configuration file.          [default: /etc/cmrmd/config.yaml]
  --fw-path PATH             Firmware image path to package on boot.       [default: /lib/firmware/modem.bin]
  --sysfs-root DIR           Root directory of the modem's control nodes.  [default: /sys/class/cmrm/modem0]
  --tlv TLV                  A customization TLV to send after first boot (repeatable).
`
}

func dieOnError(err error, format string, a ...interface{}) {
	if err != nil {
		fmt.Fprintf(os.Stderr, format, a...)
		fmt.Fprintf(os.Stderr, ": %v\n", err)
		os.Exit(1)
	}
}

func main() {
	opts, err := docopt.ParseDoc(usage())
	dieOnError(err, "error parsing arguments")

	var args Arguments
	err = opts.Bind(&args)
	dieOnError(err, "failure binding arguments")

	if args.Verbose {
		logging.SetLevel(logging.LevelDebug)
	}

	cfg, err := config.Load(args.Config)
	dieOnError(err, "failure loading configuration")

	log := logging.For("main")
	log.Info("starting daemon", "instance_id", cfg.InstanceID, "client_socket", cfg.ClientSocket)

	st, err := store.Open(cfg.StatePath, cfg.InstanceID)
	dieOnError(err, "failure opening persisted state")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, st, args); err != nil {
		log.Error("daemon exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, st *store.Store, args Arguments) error {
	log := logging.For("main")

	bridgeClient := bridge.New(bridge.NetDialer{Address: cfg.BridgeSocket}, 5*time.Second)
	go bridgeClient.Run(ctx)

	lock := wakelock.New(bridgeClient)
	go lock.Run(ctx)

	sanityMode, err := st.SanityMode()
	if err != nil {
		return fmt.Errorf("main: reading sanity mode: %w", err)
	}

	esc := escalation.New(escalation.Config{
		WarmCount:        cfg.Escalation.WarmReset,
		ColdCount:        cfg.Escalation.ColdReset,
		RebootCount:      cfg.Escalation.Reboot,
		StabilityTimeout: cfg.StabilityTimeout(),
	}, st, time.Now)

	modem := hal.NewSysfs(args.SysfsRoot)

	claInstance := cla.New(nil, lock, 5*time.Second, 2*time.Second, sanityMode)
	c := ctrl.New(modem, modem, modem, modem, esc, claInstance, lock, bridgeClient, args.FwPath, args.Tlv)
	claInstance.SetCtrl(c)

	wd := watchdog.New(modemPinger{modem}, lock, cfg.PingPeriod(), func(reason string) {
		log.Error("watchdog fatal", "reason", reason)
		os.Exit(1)
	})
	c.WatchdogHook = func(arm bool) {
		if arm {
			_ = wd.StartRequest(ctx, 0, cfg.WatchdogTimeout())
		} else {
			_ = wd.StopRequest(ctx, 0)
		}
	}

	go wd.Run(ctx)
	go c.Run(ctx)
	go claInstance.Run(ctx)

	if !cfg.Cla.EnableFmmo {
		// Pre-acquire on behalf of the one implicit holder spec §6 describes.
		_ = claInstance.PreAcquire(ctx)
	}

	return serveClients(ctx, cfg.ClientSocket, claInstance)
}

// modemPinger is the daemon's watchdog Pinger. Its Ping does nothing: it
// writes no control node, and nothing in the daemon calls Watchdog.Pong,
// so no ping is answered (real AT-protocol ping/pong is out of scope,
// spec §12).
type modemPinger struct{ m *hal.Sysfs }

func (p modemPinger) Ping(id int32) {}

func serveClients(ctx context.Context, sockPath string, c *cla.Cla) error {
	_ = os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("main: listening on %s: %w", sockPath, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log := logging.For("main")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			log.Warn("accept failed", "err", err)
			continue
		}
		go serveClient(ctx, c, conn)
	}
}

type connSender struct{ conn net.Conn }

func (s connSender) Send(f wire.Frame) error {
	body, err := wire.Encode(f)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(body)
	return err
}

func (s connSender) Close() error { return s.conn.Close() }

func serveClient(ctx context.Context, c *cla.Cla, conn net.Conn) {
	log := logging.For("main")
	id, err := c.Connect(ctx, connSender{conn})
	if err != nil {
		conn.Close()
		return
	}
	defer func() {
		_ = c.Disconnect(ctx, id)
		conn.Close()
	}()

	for {
		raw, err := wire.ReadFrame(conn)
		if err != nil {
			log.Debug("client read ended", "client", id, "err", err)
			return
		}
		f, err := wire.Decode(raw)
		if err != nil {
			log.Warn("malformed client frame", "client", id, "err", err)
			return
		}
		if err := c.HandleFrame(ctx, id, f); err != nil {
			return
		}
	}
}
