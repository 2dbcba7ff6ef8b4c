package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"periph.io/x/conn/v3/physic"

	"it8951ctl/internal/capture"
	"it8951ctl/internal/config"
	"it8951ctl/internal/it8951"
	appLog "it8951ctl/internal/log"
	"it8951ctl/internal/panel"
	"it8951ctl/internal/schedule"
	"it8951ctl/internal/web"
)

const version = "0.1.0"

// flagConfig holds global CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

const usage = `usage: it8951ctl [-config path] [-listen addr] [-debug] <command> [args]

commands:
  info                     print controller identity, VCOM and temperature
  vcom [-persist] [mV]     read or set VCOM (negative mV)
  temp [celsius|cancel]    read, force or release the temperature  clear [mode]             whiten the panel (default INIT)
  show [-mode M] <file>    display an image file
  show-url [-mode M] <url> display a headless Chromium screenshot
  sleep                    put the controller to sleep
  wake                     wake the controller
  serve                    run the HTTP API and scheduled redraw
`

func main() {
	flags := parseFlags()
	if flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level, _ := appLog.ParseLevel(conf.LogLevel)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)
	appLog.Debug("effective config",
		"spi_port", conf.SPI.Port,
		"max_hz", conf.SPI.MaxHz,
		"cs", conf.Pins.CS,
		"hrdy", conf.Pins.HRDY,
		"rst", conf.Pins.RST,
		"vcom_mv", conf.VCOMmV,
		"display_mode", conf.DisplayMode,
		"bits", conf.BitsPerPixel,
		"refresh", conf.Refresh,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flag.Args()); err != nil {
		appLog.Error("command failed", err, "command", flag.Arg(0))
		cancel()
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address for serve (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Log every bus command")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}

	flag.Parse()

	return cfg
}

func run(ctx context.Context, conf *config.Config, args []string) error {
	cmd, rest := args[0], args[1:]

	// Argument errors are reported before the hardware is touched.
	var handler func(context.Context, *app) error
	switch cmd {
	case "info":
		handler = cmdInfo
	case "vcom":
		a, err := parseVCOMArgs(rest)
		if err != nil {
			return err
		}
		handler = a.run
	case "temp":
		a, err := parseTempArgs(rest)
		if err != nil {
			return err
		}
		handler = a.run
	case "clear":
		mode := it8951.ModeINIT
		if len(rest) > 0 {
			m, err := it8951.ParseDisplayMode(rest[0])
			if err != nil {
				return err
			}
			mode = m
		}
		handler = func(_ context.Context, a *app) error { return a.session.Clear(mode) }
	case "show", "show-url":
		a, err := parseShowArgs(cmd, rest, conf)
		if err != nil {
			return err
		}
		handler = a.run
	case "sleep":
		handler = func(_ context.Context, a *app) error { return a.session.Sleep() }
	case "wake":
		handler = func(_ context.Context, a *app) error { return a.session.Wake() }
	case "serve":
		handler = cmdServe
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	a, err := openApp(conf)
	if err != nil {
		return err
	}
	defer a.close()
	return handler(ctx, a)
}

// app bundles the opened controller for one command.
type app struct {
	conf    *config.Config
	drv     *it8951.Driver
	report  it8951.InitReport
	session *panel.Session
}

func openApp(conf *config.Config) (*app, error) {
	appLog.Info("it8951ctl starting", "version", version)
	drv, err := it8951.Open(it8951.Wiring{
		Port: conf.SPI.Port,
		CS:   conf.Pins.CS,
		HRDY: conf.Pins.HRDY,
		RST:  conf.Pins.RST,
	}, &it8951.Opts{
		MaxHz:          physic.Frequency(conf.SPI.MaxHz) * physic.Hertz,
		ReadyTimeout:   conf.ReadyTimeout,
		DisplayTimeout: conf.DisplayTimeout,
	})
	if err != nil {
		return nil, err
	}
	rep, err := drv.Init(conf.VCOMmV)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("init %s: %w", drv, err)
	}
	s := panel.New(drv, panel.Options{
		Rotation: conf.Rotation,
		Bits:     conf.BitsPerPixel,
		Dither:   conf.Dither,
	})
	return &app{conf: conf, drv: drv, report: rep, session: s}, nil
}

func (a *app) close() {
	if err := a.drv.Close(); err != nil {
		appLog.Warn("close failed", "err", err)
	}
}

func cmdInfo(_ context.Context, a *app) error {
	info := a.drv.Info()
	fmt.Printf("panel:    %dx%d\n", info.Width, info.Height)
	fmt.Printf("buffer:   0x%08X\n", info.BufferAddr)
	fmt.Printf("firmware: %s\n", info.FirmwareVersion)
	fmt.Printf("lut:      %s\n", info.LUTVersion)
	fmt.Printf("vcom:     %d mV\n", a.report.VCOM)
	t, err := a.session.Temperature()
	if err != nil {
		return err
	}
	fmt.Printf("temp:     %d C (forced %d)\n", t.Real, t.Forced)
	return nil
}

type vcomArgs struct {
	set     bool
	mV      int
	persist bool
}

// parseVCOMArgs scans by hand since the value itself starts with '-'.
func parseVCOMArgs(args []string) (vcomArgs, error) {
	var a vcomArgs
	var values []string
	for _, arg := range args {
		switch arg {
		case "-persist", "--persist":
			a.persist = true
		default:
			values = append(values, arg)
		}
	}
	switch len(values) {
	case 0:
		if a.persist {
			return a, errors.New("vcom: -persist needs a value")
		}
	case 1:
		v, err := strconv.Atoi(values[0])
		if err != nil {
			return a, fmt.Errorf("vcom: %w", err)
		}
		if v >= 0 {
			return a, fmt.Errorf("vcom: %d mV is not negative", v)
		}
		a.set, a.mV = true, v
	default:
		return a, errors.New("vcom: too many arguments")
	}
	return a, nil
}

func (v vcomArgs) run(_ context.Context, a *app) error {
	if !v.set {
		mV, err := a.session.VCOM()
		if err != nil {
			return err
		}
		fmt.Printf("%d\n", mV)
		return nil
	}
	got, err := a.session.SetVCOM(v.mV, v.persist)
	if err != nil {
		return err
	}
	fmt.Printf("%d\n", got)
	if got != v.mV {
		return fmt.Errorf("vcom: controller reports %d mV after writing %d mV", got, v.mV)
	}
	return nil
}

type tempArgs struct {
	force   bool
	cancel  bool
	celsius int16
}

func parseTempArgs(args []string) (tempArgs, error) {
	var a tempArgs
	switch len(args) {
	case 0:
	case 1:
		if args[0] == "cancel" {
			a.cancel = true
			break
		}
		v, err := strconv.ParseInt(args[0], 10, 8)
		if err != nil {
			return a, fmt.Errorf("temp: %w", err)
		}
		a.force, a.celsius = true, int16(v)
	default:
		return a, errors.New("temp: too many arguments")
	}
	return a, nil
}

func (t tempArgs) run(_ context.Context, a *app) error {
	switch {
	case t.cancel:
		return a.session.CancelForcedTemperature()
	case t.force:
		return a.session.ForceTemperature(t.celsius)
	}
	v, err := a.session.Temperature()
	if err != nil {
		return err
	}
	fmt.Printf("%d %d\n", v.Real, v.Forced)
	return nil
}

type showArgs struct {
	url    bool
	target string
	mode   it8951.DisplayMode
	wait   string
	settle time.Duration
}

func parseShowArgs(cmd string, args []string, conf *config.Config) (showArgs, error) {
	a := showArgs{url: cmd == "show-url"}
	def, err := conf.Mode()
	if err != nil {
		return a, err
	}
	var mode string
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVar(&mode, "mode", def.String(), "Display mode")
	if a.url {
		fs.StringVar(&a.wait, "wait", "", "CSS selector to wait for before capturing")
		fs.DurationVar(&a.settle, "settle", 0, "Extra delay after load")
	}
	if err := fs.Parse(args); err != nil {
		return a, err
	}
	if fs.NArg() != 1 {
		return a, fmt.Errorf("%s: expected exactly one target", cmd)
	}
	a.target = fs.Arg(0)
	if a.mode, err = it8951.ParseDisplayMode(mode); err != nil {
		return a, err
	}
	return a, nil
}

func (s showArgs) run(ctx context.Context, a *app) error {
	var (
		img image.Image
		err error
	)
	if s.url {
		p := a.drv.Panel()
		w, h := int(p.W), int(p.H)
		if a.conf.Rotation%180 != 0 {
			w, h = h, w
		}
		img, err = capture.Screenshot(ctx, capture.Options{
			URL:          s.target,
			Width:        w,
			Height:       h,
			WaitSelector: s.wait,
			Settle:       s.settle,
		})
	} else {
		img, err = imaging.Open(s.target, imaging.AutoOrientation(true))
	}
	if err != nil {
		return err
	}
	if err := a.session.Show(img, s.mode); err != nil {
		return err
	}
	return a.drv.WaitDisplayReady()
}

// cmdServe runs the HTTP API and the periodic redraw until ctx is cancelled,
// then leaves the controller asleep.
func cmdServe(ctx context.Context, a *app) error {
	srv := web.NewServer(a.conf, a.session)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.conf.Refresh != "" {
		sched, err := schedule.New(a.conf.Refresh, "redraw", a.session.Redraw)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil {
				appLog.Warn("scheduler stop", "err", err)
			}
		}()
	}

	err := srv.Serve(ctx)
	if err != nil {
		appLog.Error("HTTP server failed", err)
	}
	cancel()
	wg.Wait()

	if serr := a.session.Sleep(); serr != nil {
		appLog.Warn("sleep on exit failed", "err", serr)
	}
	appLog.Info("it8951ctl exiting")
	return err
}
