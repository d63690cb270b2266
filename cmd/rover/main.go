// Command rover is the rover daemon: it opens the GNSS receiver and
// correction link, wires C1-C7 together, and runs until signaled.
//
// Grounded on main_rtk.go's flag-parse / connect / goroutine-per-I/O-context
// / signal-driven-shutdown shape, generalized from one fixed NTRIP+GNSS pair
// into the full C1-C7 wiring SPEC_FULL.md names.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
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
	"github.com/bramburn/rovernav/internal/receiver"
	"github.com/bramburn/rovernav/internal/supervisor"
	"github.com/bramburn/rovernav/internal/waypoint"
)

func main() {
	cfg := config.Default()

	receiverPort := flag.String("receiver-port", cfg.Receiver.Port, "GNSS receiver serial device (prompts if empty)")
	receiverBaud := flag.Int("receiver-baud", cfg.Receiver.Baud, "GNSS receiver baud rate")
	casterHost := flag.String("caster-host", "", "correction caster host")
	casterPort := flag.Int("caster-port", cfg.Caster.Port, "correction caster port")
	casterMount := flag.String("caster-mountpoint", "", "correction caster mountpoint")
	casterUser := flag.String("caster-user", "", "correction caster username")
	casterPass := flag.String("caster-pass", "", "correction caster password")
	motorSinkName := flag.String("motor-sink", "simulated", "motor sink backend: simulated|logging")
	flag.Parse()

	cfg.Receiver.Port = *receiverPort
	cfg.Receiver.Baud = *receiverBaud
	cfg.Caster.Host = *casterHost
	cfg.Caster.Port = *casterPort
	cfg.Caster.Mountpoint = *casterMount
	cfg.Caster.User = *casterUser
	cfg.Caster.Pass = *casterPass

	log := logrus.New()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if cfg.Receiver.Port == "" {
		ports, err := receiver.ListPorts()
		if err != nil {
			log.Fatalf("list serial ports: %v", err)
		}
		if len(ports) == 0 {
			log.Fatal("no serial ports found, pass --receiver-port explicitly")
		}
		cfg.Receiver.Port = selectPort(ports)
	}

	log.Infof("opening GNSS receiver on %s at %d baud", cfg.Receiver.Port, cfg.Receiver.Baud)
	recv, err := receiver.Open(cfg.Receiver.Port, cfg.Receiver.Baud)
	if err != nil {
		log.Fatalf("open receiver: %v", err)
	}

	sinkKind := motorsink.KindSimulated
	if *motorSinkName == "logging" {
		sinkKind = motorsink.KindLogging
	}
	sink, err := motorsink.New(sinkKind, log)
	if err != nil {
		log.Fatalf("motor sink: %v", err)
	}

	store := position.NewStore()
	queue := waypoint.New()
	nav := navigator.New(store, queue, cfg.Nav, log)
	translator := motor.NewTranslator(cfg.Motor, cfg.Nav.MaxSpeed, sink)
	stream := nmea.NewStream(log)

	var linkIface supervisor.Link
	var linkCancel context.CancelFunc
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Caster.Host != "" {
		link := caster.New(cfg.Caster, store, recv, log)
		linkIface = link
		var linkCtx context.Context
		linkCtx, linkCancel = context.WithCancel(ctx)
		go link.Run(linkCtx)
	}

	sup := supervisor.New(cfg, store, queue, nav, translator, linkIface, stream, log,
		func() error {
			if linkCancel != nil {
				linkCancel()
			}
			return nil
		},
		recv.Close,
	)

	streamDone := make(chan struct{})
	go func() {
		if err := stream.Run(recv, streamDone,
			func(sample position.Sample) { store.Put(sample) },
			func() { navlog.Degraded(log, "nmea", "stream stalled") },
			func() { log.Info("nmea: stream recovered") },
		); err != nil {
			log.WithError(err).Warn("nmea stream reader exited")
		}
	}()

	go translator.RunWatchdog(ctx.Done())
	go sup.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	close(streamDone)
	cancel()
	if err := sup.Shutdown(); err != nil {
		log.WithError(err).Warn("shutdown encountered errors")
	}
}

// selectPort prompts the operator to choose among the detected serial
// ports, grounded on the teacher's main_rtk.go selectPort helper.
func selectPort(ports []string) string {
	if len(ports) == 1 {
		fmt.Printf("Only one serial port found. Using %s\n", ports[0])
		return ports[0]
	}

	fmt.Println("Available serial ports:")
	for i, p := range ports {
		fmt.Printf("%d: %s\n", i+1, p)
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Select a port by number: ")
		line, _ := reader.ReadString('\n')
		var choice int
		if _, err := fmt.Sscanf(line, "%d", &choice); err == nil && choice > 0 && choice <= len(ports) {
			return ports[choice-1]
		}
		fmt.Println("Invalid selection, try again.")
	}
}
