// Command agent is the field-device reporting agent. It reads (or
// simulates) sensor values, attaches a capture image, and pushes
// periodic reports to the fleet server.
//
// Usage:
//
//	trapsight-agent --server http://ctrl:8000 --device-id trap-1 --name "North Field"
//	trapsight-agent --server http://ctrl:8000 --device-id trap-1 --name "North Field" --once
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/trapsight/trapsight/pkg/buildinfo"
	"github.com/trapsight/trapsight/pkg/reporter"
)

// fallbackImage is a minimal JPEG used when no capture file is given.
var fallbackImage = []byte{
	0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00,
	0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0xFF, 0xD9,
}

func main() {
	serverURL := flag.String("server", "", "fleet server URL (or set TRAPSIGHT_SERVER)")
	deviceID := flag.String("device-id", "", "device identity (or set TRAPSIGHT_DEVICE_ID)")
	name := flag.String("name", "", "human-readable device name")
	location := flag.String("location", "", "location label")
	lat := flag.Float64("lat", 0, "device latitude")
	lon := flag.Float64("lon", 0, "device longitude")
	imagePath := flag.String("image", "", "capture image to attach (synthetic if unset)")
	interval := flag.Duration("interval", 60*time.Second, "report interval")
	once := flag.Bool("once", false, "send a single report and exit")
	version := flag.Bool("version", false, "print version and exit")

	flag.Parse()

	if *version {
		fmt.Println(buildinfo.String())
		os.Exit(0)
	}

	logger := log.New(os.Stderr, "[agent] ", log.LstdFlags)

	server := envOrFlag(*serverURL, "TRAPSIGHT_SERVER")
	device := envOrFlag(*deviceID, "TRAPSIGHT_DEVICE_ID")
	if server == "" || device == "" {
		fmt.Fprintln(os.Stderr, "Usage: trapsight-agent --server URL --device-id ID [--name NAME] [--once]")
		os.Exit(1)
	}
	deviceName := *name
	if deviceName == "" {
		deviceName = device
	}

	image := fallbackImage
	imageName := "capture.jpg"
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			logger.Fatalf("read image: %v", err)
		}
		image = data
		imageName = filepath.Base(*imagePath)
	}

	source := simulatedSource(*lat, *lon, image, imageName)

	rep := reporter.New(reporter.Config{
		ServerURL:  server,
		DeviceID:   device,
		DeviceName: deviceName,
		Location:   *location,
		Source:     source,
		Interval:   *interval,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Printf("%s", buildinfo.String())
	logger.Printf("Server: %s", server)
	logger.Printf("Device: %s (%s)", device, deviceName)

	if *once {
		reading, err := source(ctx)
		if err != nil {
			logger.Fatalf("read sensors: %v", err)
		}
		if err := rep.Send(ctx, reading); err != nil {
			logger.Fatalf("send report: %v", err)
		}
		logger.Printf("report sent")
		return
	}

	logger.Printf("Agent started, reporting every %s", *interval)
	rep.Run(ctx)
	logger.Printf("Agent stopped")
}

// simulatedSource fabricates plausible sensor values around the given
// position. Real deployments replace this with hardware reads.
func simulatedSource(lat, lon float64, image []byte, imageName string) reporter.Source {
	return func(context.Context) (reporter.Reading, error) {
		temp := 15 + rand.Float64()*15
		hum := 40 + rand.Float64()*40
		conf := 0.5 + rand.Float64()*0.5
		return reporter.Reading{
			Count:       rand.Intn(6),
			Temperature: &temp,
			Humidity:    &hum,
			Latitude:    lat + (rand.Float64()-0.5)*1e-4,
			Longitude:   lon + (rand.Float64()-0.5)*1e-4,
			Confidence:  &conf,
			ImageName:   imageName,
			ImageType:   "image/jpeg",
			Image:       image,
		}, nil
	}
}

func envOrFlag(flagVal, envKey string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv(envKey)
}
