// Command roverctl is an interactive operator console for a rover daemon,
// grounded on internal/ui/cli.go's bufio-driven command loop: a welcome
// banner, a help table, and a switch dispatching whitespace-split commands
// until "exit".
//
// roverctl speaks to a supervisor in-process: it builds its own supervisor
// in this binary rather than talking to a running cmd/rover over a network
// RPC, since no transport is in scope for the rover-autonomy surface. It
// does not connect to a separately running cmd/rover.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/rovernav/internal/caster"
	"github.com/bramburn/rovernav/internal/config"
	"github.com/bramburn/rovernav/internal/motor"
	"github.com/bramburn/rovernav/internal/motorsink"
	"github.com/bramburn/rovernav/internal/navigator"
	"github.com/bramburn/rovernav/internal/navlog"
	"github.com/bramburn/rovernav/internal/nmea"
	"github.com/bramburn/rovernav/internal/position"
	"github.com/bramburn/rovernav/internal/supervisor"
	"github.com/bramburn/rovernav/internal/waypoint"
)

// console wraps a Supervisor with the bufio read-eval-print loop.
type console struct {
	sup     *supervisor.Supervisor
	reader  *bufio.Reader
	running bool
}

func newConsole(sup *supervisor.Supervisor) *console {
	return &console{sup: sup, reader: bufio.NewReader(os.Stdin)}
}

func (c *console) start() {
	c.running = true
	c.showWelcome()
	c.mainLoop()
}

func (c *console) showWelcome() {
	fmt.Println("\nrovernav operator console")
	fmt.Println("-------------------------")
	c.showHelp()
}

func (c *console) showHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  status                    - show position, navigation, and system status")
	fmt.Println("  add <lat> <lon> [name]    - queue a waypoint, auto-starting navigation unless the path is complete")
	fmt.Println("  goto <lat> <lon>          - replace the queue with a single target")
	fmt.Println("  clear                     - empty the waypoint queue")
	fmt.Println("  start                     - start navigation over the queued waypoints")
	fmt.Println("  pause                     - pause the navigator")
	fmt.Println("  resume                    - resume the navigator, clearing the error budget")
	fmt.Println("  cancel                    - stop navigation, preserving the queue")
	fmt.Println("  speed <0..1>              - set the forward speed cap")
	fmt.Println("  estop                     - emergency stop")
	fmt.Println("  clearestop                - clear the emergency stop latch")
	fmt.Println("  help                      - show this help message")
	fmt.Println("  exit                      - quit the console")
}

func (c *console) mainLoop() {
	for c.running {
		fmt.Print("\n> ")
		line, err := c.reader.ReadString('\n')
		if err != nil {
			c.running = false
			return
		}
		line = strings.TrimSpace(line)
		if line == "exit" {
			fmt.Println("Exiting...")
			c.running = false
			return
		}
		c.handle(line)
	}
}

func (c *console) handle(line string) {
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		c.showHelp()
	case "status":
		c.status()
	case "add":
		c.add(args)
	case "goto":
		c.goTo(args)
	case "clear":
		c.sup.ClearWaypoints()
		fmt.Println("queue cleared")
	case "start":
		c.sup.StartNavigation()
		fmt.Println("navigation started")
	case "pause":
		c.sup.Pause()
		fmt.Println("paused")
	case "resume":
		c.sup.Resume()
		fmt.Println("resumed")
	case "cancel":
		c.sup.Cancel()
		fmt.Println("cancelled")
	case "speed":
		c.speed(args)
	case "estop":
		c.sup.EmergencyStop()
		fmt.Println("emergency stop latched")
	case "clearestop":
		c.sup.ClearEmergency()
		fmt.Println("emergency stop cleared, navigator resumed")
	default:
		fmt.Printf("unknown command %q, type help\n", cmd)
	}
}

func (c *console) status() {
	if sample, ok := c.sup.GetPosition(); ok {
		fmt.Printf("position: lat=%.7f lon=%.7f fix=%s sats=%d hdop=%.1f\n",
			sample.Latitude, sample.Longitude, sample.FixQuality, sample.Satellites, sample.HDOP)
	} else {
		fmt.Println("position: no current fix")
	}

	nav := c.sup.GetNavigationStatus()
	fmt.Printf("navigation: phase=%s status=%s mode=%s distance=%.2fm bearing=%.1fdeg remaining=%d loops=%d\n",
		nav.Phase, nav.Status, nav.Mode, nav.DistanceM, nav.BearingDeg, nav.RemainingWaypoints, nav.LoopCount)
	if nav.Status == navigator.StatusError {
		fmt.Printf("  error: %s: %s\n", nav.ErrorTag, nav.ErrorMessage)
	}

	sys := c.sup.GetSystemStatus()
	fmt.Printf("system: run=%s gps=%v ntrip=%v link=%s errorBudget=%d\n",
		sys.RunID, sys.GPSConnected, sys.NtripConnected, linkStateString(sys), sys.ErrorBudget)
	fmt.Printf("parser: checksumFailures=%d malformed=%d unknownFixQuality=%d stalls=%d\n",
		sys.ParserCounters.ChecksumFailures, sys.ParserCounters.Malformed,
		sys.ParserCounters.UnknownFixQuality, sys.ParserCounters.Stalls)
}

func linkStateString(sys supervisor.SystemStatus) string {
	if !sys.NtripConnected && sys.LinkMetrics == (caster.MetricsSnapshot{}) {
		return "n/a"
	}
	return fmt.Sprintf("disconnects/min=%d bytes/min=%d lastHandshake=%s",
		sys.LinkMetrics.DisconnectsPerMin, sys.LinkMetrics.BytesDownstreamPerMin, sys.LinkMetrics.LastHandshakeLatency)
}

func (c *console) add(args []string) {
	lat, lon, ok := parseLatLon(args)
	if !ok {
		fmt.Println("usage: add <lat> <lon> [name]")
		return
	}
	name := ""
	if len(args) > 2 {
		name = strings.Join(args[2:], " ")
	}
	idx := c.sup.AddWaypoint(waypoint.Waypoint{Latitude: lat, Longitude: lon, Name: name})
	fmt.Printf("queued waypoint %d\n", idx)
}

func (c *console) goTo(args []string) {
	lat, lon, ok := parseLatLon(args)
	if !ok {
		fmt.Println("usage: goto <lat> <lon>")
		return
	}
	c.sup.Goto(waypoint.Waypoint{Latitude: lat, Longitude: lon})
	fmt.Println("navigating directly to target")
}

func (c *console) speed(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: speed <0..1>")
		return
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		fmt.Println("invalid speed:", err)
		return
	}
	c.sup.SetSpeed(v)
	fmt.Printf("speed cap set to %.2f\n", v)
}

func parseLatLon(args []string) (lat, lon float64, ok bool) {
	if len(args) < 2 {
		return 0, 0, false
	}
	var err error
	lat, err = strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// main wires a standalone supervisor for the console to drive, with the
// same store, queue, navigator, translator and parser types cmd/rover uses.
// It opens no serial receiver and no correction link, so nothing feeds the
// position store.
func main() {
	cfg := config.Default()
	log := logrus.New()

	store := position.NewStore()
	queue := waypoint.New()
	nav := navigator.New(store, queue, cfg.Nav, log)
	sink, err := motorsink.New(motorsink.KindSimulated, log)
	if err != nil {
		log.Fatalf("motor sink: %v", err)
	}
	translator := motor.NewTranslator(cfg.Motor, cfg.Nav.MaxSpeed, sink)
	parser := nmea.NewStream(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var linkIface supervisor.Link
	sup := supervisor.New(cfg, store, queue, nav, translator, linkIface, parser, log)

	go sup.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		os.Exit(0)
	}()

	newConsole(sup).start()
	cancel()
}
