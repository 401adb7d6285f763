package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli"
	"github.com/user/pal-beacon/beacon"
	"github.com/user/pal-beacon/bridge"
	"github.com/user/pal-beacon/config"
	"github.com/user/pal-beacon/kotlin"
	"github.com/user/pal-beacon/logger"
	"github.com/user/pal-beacon/native"
	"github.com/user/pal-beacon/proximity"
	"github.com/user/pal-beacon/wire/air"
)

func main() {
	app := cli.NewApp()
	app.Name = "palbeacon"
	app.Usage = "broadcast and detect short pairing identifiers over BLE advertising"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "Path to config.yaml (default $PAL_BEACON_DIR/config.yaml)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "TRACE, DEBUG, INFO, WARN or ERROR (overrides config)",
		},
	}
	simulateFlag := cli.BoolFlag{
		Name:  "simulate",
		Usage: "Use the simulated Android Bluetooth stack instead of the host adapter",
	}
	sidFlag := cli.StringFlag{
		Name:  "sid",
		Usage: "Identifier to broadcast (default: a fresh 12 character session id)",
	}
	app.Commands = []cli.Command{
		{
			Name:   "advertise",
			Usage:  "Broadcast a session identifier until interrupted",
			Flags:  []cli.Flag{sidFlag, simulateFlag},
			Action: advertiseCommand,
		},
		{
			Name:  "scan",
			Usage: "Report identifiers broadcast close to this computer",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "expect",
					Usage: "Exit once this identifier has been verified nearby",
				},
			},
			Action: scanCommand,
		},
		{
			Name:   "serve",
			Usage:  "Serve the ble_channel method channel as JSON lines on stdin/stdout",
			Flags:  []cli.Flag{simulateFlag},
			Action: serveCommand,
		},
		{
			Name:  "demo",
			Usage: "Walk a simulated phone towards a simulated scanner until it is verified",
			Flags: []cli.Flag{
				sidFlag,
				cli.DurationFlag{
					Name:  "step",
					Value: time.Second,
					Usage: "Time spent at each distance",
				},
			},
			Action: demoCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.GlobalString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level := c.GlobalString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	logger.SetLevel(cfg.Level())
	return cfg, nil
}

func platformFor(cfg *config.Config, simulate bool) beacon.Platform {
	if simulate {
		return kotlin.NewPlatform(cfg.SimulatedAdapter())
	}
	return native.NewRadio(nil)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func sidOrNew(c *cli.Context) string {
	if sid := c.String("sid"); sid != "" {
		return sid
	}
	return beacon.NewSessionIdentifier()
}

func waitStarted(ctx context.Context, session *beacon.Session, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = beacon.DefaultStartTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()
	state, err := session.Wait(ctx)
	if err != nil {
		return err
	}
	if state != beacon.StateActive {
		return fmt.Errorf("advertising ended in state %s", state)
	}
	return nil
}

func advertiseCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	session := beacon.NewSession(platformFor(cfg, c.Bool("simulate")), cfg.Session())
	defer session.Close()

	sid := sidOrNew(c)
	if err := session.Start(sid); err != nil {
		return err
	}
	if err := waitStarted(ctx, session, cfg.StartTimeout); err != nil {
		return err
	}
	raw, err := beacon.NewEncoder(cfg.CompanyID).AdvertisingData(sid)
	if err != nil {
		return err
	}
	fmt.Printf("📡 Advertising SID=%s, press Ctrl-C to stop\n", sid)
	fmt.Printf("   AdvData (%d bytes): % X\n", len(raw), raw)

	<-ctx.Done()
	if err := session.Stop(); err != nil {
		return err
	}
	fmt.Println("🛑 Stopped")
	return nil
}

func scanCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	expect := c.String("expect")
	verifier := cfg.Verifier()
	if expect != "" {
		verifier.Expect(expect, expect)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watcher := proximity.NewWatcher(cfg.Watcher(), func(sid string) {
		fmt.Printf("📶 Nearby SID=%s\n", sid)
		if expect == "" {
			return
		}
		if _, ok := verifier.HandleSID(sid); ok {
			fmt.Printf("✅ Verified %s\n", expect)
			cancel()
		}
	})
	return watcher.Run(ctx, native.NewRadio(nil))
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	session := beacon.NewSession(platformFor(cfg, c.Bool("simulate")), cfg.Session())
	defer session.Close()
	return bridge.NewServer(session).Serve(ctx, os.Stdin, os.Stdout)
}

func demoCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	adapter := cfg.SimulatedAdapter()
	advertiser := adapter.GetBluetoothLeAdvertiser()
	if advertiser == nil {
		return beacon.ErrUnsupported
	}
	channel := air.NewChannel(air.DefaultConfig())
	channel.SetDistance(4)
	advertiser.SetBroadcastListener(channel.Transmit)

	sid := sidOrNew(c)
	pairing := uuid.NewString()[:8]
	verifier := cfg.Verifier()
	verifier.Expect(pairing, sid)

	verified := make(chan string, 1)
	watcher := proximity.NewWatcher(cfg.Watcher(), func(seen string) {
		if id, ok := verifier.HandleSID(seen); ok {
			select {
			case verified <- id:
			default:
			}
		}
	})
	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()
	go watcher.Run(scanCtx, channel)

	session := beacon.NewSession(kotlin.NewPlatform(adapter), cfg.Session())
	defer session.Close()
	if err := session.Start(sid); err != nil {
		return err
	}
	if err := waitStarted(ctx, session, cfg.StartTimeout); err != nil {
		return err
	}
	fmt.Printf("📱 %s advertising SID=%s for pairing %s\n", adapter.GetName(), sid, pairing)

	for _, distance := range []float64{4, 2, 1, 0.5, 0.3} {
		channel.SetDistance(distance)
		fmt.Printf("🚶 Phone is %.1fm away\n", channel.Distance())
		select {
		case id := <-verified:
			fmt.Printf("✅ Pairing %s verified at %.1fm\n", id, channel.Distance())
			return session.Stop()
		case <-time.After(c.Duration("step")):
		case <-ctx.Done():
			return session.Stop()
		}
	}
	session.Stop()
	return cli.NewExitError("phone never verified nearby", 2)
}
