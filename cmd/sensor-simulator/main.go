package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/common/version"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/simulator"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/transport/mqtt"
)

const programName = "sensor-simulator"

func main() {
	var (
		broker      string
		topic       string
		devices     string
		interval    time.Duration
		seed        int64
		offset      int
		qos         int
		showVersion bool
	)

	klog.InitFlags(nil)
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&topic, "topic", "sensors/"+common.DeviceIDPlaceholder+"/readings", "Topic pattern readings are published to")
	flag.StringVar(&devices, "devices", "sim-1", "Comma-separated device ids to simulate")
	flag.DurationVar(&interval, "interval", time.Second, "Time between readings per device")
	flag.Int64Var(&seed, "seed", 42, "Base random seed; device i uses seed+i")
	flag.IntVar(&offset, "offset", 0, "Starting tick within the smoke cycle")
	flag.IntVar(&qos, "qos", 1, "MQTT QoS for published readings")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.Print(programName))
		os.Exit(0)
	}

	var generators []*simulator.Generator
	start := time.Now().UTC()
	for i, id := range strings.Split(devices, ",") {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		generators = append(generators, simulator.New(simulator.Config{
			DeviceID: id,
			Seed:     seed + int64(i),
			Start:    start,
			Interval: interval,
			Offset:   offset,
		}))
	}
	if len(generators) == 0 {
		klog.ErrorS(nil, "No devices to simulate")
		os.Exit(1)
	}

	client, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   broker,
		ClientID: programName + "-" + uuid.NewString()[:8],
	})
	if err != nil {
		klog.ErrorS(err, "Failed to connect to broker")
		os.Exit(1)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	klog.InfoS("Simulating devices", "devices", len(generators), "interval", interval, "broker", broker)
	native := client.Native()
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		for _, g := range generators {
			r := g.Next()
			payload, err := json.Marshal(r)
			if err != nil {
				klog.ErrorS(err, "Failed to marshal reading", "device", r.DeviceID)
				continue
			}
			t := mqtt.FormatTopic(topic, r.DeviceID)
			token := native.Publish(t, byte(qos), false, payload)
			if token.WaitTimeout(interval) && token.Error() != nil {
				klog.ErrorS(token.Error(), "Failed to publish reading", "device", r.DeviceID)
				continue
			}
			klog.V(3).InfoS("Published reading", "device", r.DeviceID, "topic", t,
				"pm25", r.PM25, "co", r.CO, "mq2", *r.MQ2Raw)
		}
	}, interval)

	klog.InfoS("Simulator stopped", "ticks", generators[0].Tick())
}
