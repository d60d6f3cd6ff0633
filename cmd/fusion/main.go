// Command fusion runs the LiDAR/radar tracking filter over a recorded text
// file, a PCAP capture or a live serial sensor bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/sensorfusion/internal/db"
	"github.com/banshee-data/sensorfusion/internal/monitoring"
	"github.com/banshee-data/sensorfusion/internal/serialmux"
	"github.com/banshee-data/sensorfusion/internal/units"
	"github.com/banshee-data/sensorfusion/internal/version"
)

// options holds the parsed command line.
type options struct {
	Input         string
	PCAP          string
	UDPPort       int
	Serial        string
	Baud          int
	SerialInit    []string
	Dev           bool
	ConfigPath    string
	DBPath        string
	MigrationsDir string
	Listen        string
	Plot          string
	Units         string
	Realtime      bool
	Speed         float64
	Debug         bool
	LogFile       string
	ShowVersion   bool
}

// source names the selected input for logs and the run record.
func (o options) source() string {
	switch {
	case o.PCAP != "":
		return "pcap:" + o.PCAP
	case o.Serial != "":
		return "serial:" + o.Serial
	case o.Dev:
		return "dev:" + o.Input
	default:
		return "file:" + o.Input
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	var serialInit string

	fs := flag.NewFlagSet("fusion", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.Input, "input", "", "Text measurement file (L/R records, one per line)")
	fs.StringVar(&o.PCAP, "pcap", "", "PCAP capture of UDP datagrams carrying text records")
	fs.IntVar(&o.UDPPort, "udp-port", 0, "UDP destination port to replay from -pcap (0 = any)")
	fs.StringVar(&o.Serial, "serial", "", "Serial device of a live sensor bridge")
	fs.IntVar(&o.Baud, "baud", serialmux.DefaultBaudRate, "Serial baud rate")
	fs.StringVar(&serialInit, "serial-init", "", "Comma-separated commands sent to the bridge on start")
	fs.BoolVar(&o.Dev, "dev", false, "Replay -input through a mock serial port")
	fs.StringVar(&o.ConfigPath, "config", "", "Fusion config JSON (built-in defaults when empty)")
	fs.StringVar(&o.DBPath, "db", "", "SQLite database for run persistence (disabled when empty)")
	fs.StringVar(&o.MigrationsDir, "migrations", db.DefaultMigrationsDir, "Directory of database migrations")
	fs.StringVar(&o.Listen, "listen", "", "HTTP listen address; keeps serving after input ends")
	fs.StringVar(&o.Plot, "plot", "", "Write a trajectory plot to this file (png, svg, pdf)")
	fs.StringVar(&o.Units, "units", units.MPS, "Speed units for the API (mps, mph, kmph, kph)")
	fs.BoolVar(&o.Realtime, "realtime", false, "Pace file replay by record timestamps")
	fs.Float64Var(&o.Speed, "speed", 1.0, "Replay speed multiplier for -realtime")
	fs.BoolVar(&o.Debug, "debug", false, "Enable per-measurement debug logging")
	fs.StringVar(&o.LogFile, "log-file", "", "Also write logs to this rotating file")
	fs.BoolVar(&o.ShowVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	for _, c := range strings.Split(serialInit, ",") {
		if c = strings.TrimSpace(c); c != "" {
			o.SerialInit = append(o.SerialInit, c)
		}
	}
	if o.ShowVersion {
		return o, nil
	}
	return o, o.validate()
}

func (o options) validate() error {
	sources := 0
	for _, set := range []bool{o.Input != "" && !o.Dev, o.PCAP != "", o.Serial != "", o.Dev} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return errors.New("exactly one of -input, -pcap, -serial or -dev is required")
	}
	if o.Dev && o.Input == "" {
		return errors.New("-dev replays the file given by -input")
	}
	if o.UDPPort < 0 || o.UDPPort > 65535 {
		return fmt.Errorf("invalid -udp-port %d", o.UDPPort)
	}
	if _, err := units.Parse(o.Units); err != nil {
		return err
	}
	if o.Realtime && !(o.Speed > 0) {
		return fmt.Errorf("-speed must be positive, got %v", o.Speed)
	}
	return nil
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("fusion: %v", err)
	}
	if o.ShowVersion {
		fmt.Println(version.String())
		return
	}

	if o.LogFile != "" {
		closer := monitoring.TeeToFile(monitoring.DefaultLogFileOptions(o.LogFile))
		defer closer.Close()
	}
	monitoring.SetDebug(o.Debug)
	log.Printf("%s starting, source %s", version.String(), o.source())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdout); err != nil {
		log.Printf("fusion: %v", err)
		stop()
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}
