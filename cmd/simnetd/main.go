// Command simnetd is the CLI entrypoint for the network simulator: it wires
// YAML config, the core engine.Store, the optional Prometheus endpoint, and
// the optional MQTT mirror bridge, and exposes the engine's operations as
// cobra subcommands.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kedarnhegde/network-simulator/internal/config"
	"github.com/kedarnhegde/network-simulator/internal/engine"
)

// ANSI color tags for log lines.
const (
	colReset   = "\033[0m"
	colGreen   = "\033[32m"
	colYellow  = "\033[33m"
	colBlue    = "\033[34m"
	colMagenta = "\033[35m"
	colCyan    = "\033[36m"
	colRed     = "\033[31m"
)

func tag(name, color string) string { return color + "[" + name + "]" + colReset }

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := rootCmd().Execute(); err != nil {
		log.Fatalf("simnetd: %s err=%v", tag("error", colRed), err)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "simnetd",
		Short: "Discrete-event IoT/MQTT network simulator",
	}
	root.AddCommand(
		runCmd(),
		nodeCmd(),
		trafficCmd(),
		routeCmd(),
		mqttCmd(),
		resetCmd(),
	)
	return root
}

// buildStore loads config and constructs a fresh, paused Store wired with
// its capability callbacks and optional bridge — the common setup every
// subcommand needs.
func buildStore() (*engine.Store, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("config: %w", err)
	}

	phy := make(map[string]engine.PHYProfile, len(cfg.PHY))
	for name, p := range cfg.PHY {
		phy[name] = engine.PHYProfile{
			Range:       p.Range,
			DataRateBps: p.DataRateBps,
			IdleEnergy:  p.IdleEnergy,
			SleepEnergy: p.SleepEnergy,
		}
	}

	store := engine.NewStore(engine.Config{
		TickStepS:        cfg.Tick.StepMs / 1000.0,
		MAC: engine.MACConfig{
			SlotMs:          cfg.MAC.SlotMs,
			QueueCapacity:   cfg.MAC.QueueCapacity,
			CWMin:           cfg.MAC.CWMin,
			CWMax:           cfg.MAC.CWMax,
			RetryLimit:      cfg.MAC.RetryLimit,
			BaseLossProb:    cfg.MAC.BaseLossProb,
			CollisionLosses: *cfg.MAC.CollisionLosses,
			Seed:            cfg.MAC.Seed,
		},
		RouteAdIntervalS: cfg.Network.RouteAdIntervalS,
		MQTTIntervalS:    cfg.MQTT.ProcessIntervalMs / 1000.0,
		AckTimeoutS:      cfg.MQTT.AckTimeoutS,
		MaxRetries:       cfg.MQTT.MaxRetries,
		KeepAliveS:       cfg.MQTT.KeepAliveS,
		DisconnectMult:   cfg.MQTT.DisconnectMultiplier,
		MaxReconnects:    cfg.MQTT.MaxReconnectAttempts,
		PublisherAcks:    *cfg.MQTT.PublisherAcks,
		Bounds: engine.Bounds{
			MinX: cfg.World.MinX, MinY: cfg.World.MinY,
			MaxX: cfg.World.MaxX, MaxY: cfg.World.MaxY,
		},
		PHY: phy,
	})

	store.OnEvent(func(evt string) {
		log.Printf("simnetd: %s", tag(evt, colYellow))
	})

	if cfg.Bridge.Enabled {
		bridge := engine.NewBridge(engine.BridgeConfig{
			Enabled:          cfg.Bridge.Enabled,
			Broker:           cfg.Bridge.BrokerURL,
			ClientID:         cfg.Bridge.ClientID,
			KeepAliveSecs:    cfg.Bridge.KeepAliveSecs,
			ConnectTimeoutMs: 5000,
		})
		if err := bridge.Connect(); err != nil {
			log.Printf("simnetd: %s err=%v", tag("bridge_error", colRed), err)
		} else {
			store.SetBridge(bridge)
		}
	}

	return store, cfg, nil
}

func runCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler loop and block until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := buildStore()
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Addr
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigc := make(chan os.Signal, 2)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

			if cfg.Metrics.Enabled {
				reg := prometheus.NewRegistry()
				reg.MustRegister(engine.NewCollector(store))
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					log.Printf("simnetd: %s addr=%s", tag("metrics", colCyan), metricsAddr)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Printf("simnetd: %s err=%v", tag("metrics_error", colRed), err)
					}
				}()
				defer srv.Close()
			}

			store.Start()
			sched := engine.NewScheduler(store, cfg.Tick.StepMs/1000.0, time.Duration(cfg.Tick.StepMs)*time.Millisecond)
			go sched.Run(ctx)

			var lastDelivered int64
			statsTicker := time.NewTicker(1 * time.Second)
			defer statsTicker.Stop()
			for {
				select {
				case sig := <-sigc:
					log.Printf("simnetd: %s signal=%v", tag("shutdown", colYellow), sig)
					return nil
				case <-statsTicker.C:
					m := store.Metrics()
					delta := m.Delivered - lastDelivered
					lastDelivered = m.Delivered
					log.Printf("simnetd: %s now=%.1f pdr=%.3f avg_latency_ms=%.2f delivered=%d (+%d) duplicates=%d",
						tag("stats", colCyan), m.Now, m.PDR, m.AvgLatencyMs, m.Delivered, delta, m.Duplicates)
				}
			}
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "override the configured Prometheus listen address")
	return cmd
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node", Short: "Node lifecycle operations"}
	cmd.AddCommand(nodeAddCmd(), nodeRmCmd(), nodeLsCmd(), nodeRelocateBrokerCmd())
	return cmd
}

func nodeAddCmd() *cobra.Command {
	var role, phy, mobility string
	var x, y, speed, sleepRatio float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a node and print its assigned ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			id := store.AddNodeWithMobility(engine.Role(role), engine.PHYKind(phy), x, y, engine.MobilityKind(mobility), speed, sleepRatio)
			log.Printf("simnetd: %s id=%d role=%s phy=%s pos=(%.1f,%.1f) mobility=%s", tag("node_add", colGreen), id, role, phy, x, y, mobility)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(engine.RoleSensor), "sensor|publisher|subscriber|broker|mobile")
	cmd.Flags().StringVar(&phy, "phy", string(engine.PHYWiFi), "WiFi|BLE")
	cmd.Flags().Float64Var(&x, "x", 0, "initial X position")
	cmd.Flags().Float64Var(&y, "y", 0, "initial Y position")
	cmd.Flags().StringVar(&mobility, "mobility", "", "none|waypoint|grid")
	cmd.Flags().Float64Var(&speed, "speed", 0, "mobility speed, units/s")
	cmd.Flags().Float64Var(&sleepRatio, "sleep-ratio", 0, "fraction of each 1s duty cycle spent asleep")
	return cmd
}

func nodeRmCmd() *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Remove a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			store.RemoveNode(id)
			log.Printf("simnetd: %s id=%d", tag("node_rm", colGreen), id)
			return nil
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "node ID to remove")
	return cmd
}

func nodeLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			for _, n := range store.ListNodes() {
				log.Printf("simnetd: %s id=%d role=%s phy=%s pos=(%.1f,%.1f) energy=%.2f awake=%v broker=%v",
					tag("node", colGreen), n.ID, n.Role, n.PHY, n.X, n.Y, n.Energy, n.Awake, n.IsBroker)
			}
			return nil
		},
	}
	return cmd
}

func nodeRelocateBrokerCmd() *cobra.Command {
	var id int
	var x, y float64
	cmd := &cobra.Command{
		Use:   "relocate-broker",
		Short: "Move a broker node and re-evaluate client reachability immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			store.RelocateBroker(id, x, y)
			log.Printf("simnetd: %s id=%d pos=(%.1f,%.1f)", tag("broker_relocate", colGreen), id, x, y)
			return nil
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "broker node ID")
	cmd.Flags().Float64Var(&x, "x", 0, "new X position")
	cmd.Flags().Float64Var(&y, "y", 0, "new Y position")
	return cmd
}

func trafficCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "traffic", Short: "Traffic injection operations"}
	cmd.AddCommand(trafficSendCmd())
	return cmd
}

func trafficSendCmd() *cobra.Command {
	var src, dst, n, size int
	var phy string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Enqueue n packets from src to dst",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			accepted := store.Enqueue(src, dst, n, size, engine.PHYKind(phy))
			log.Printf("simnetd: %s src=%d dst=%d requested=%d accepted=%d", tag("traffic_send", colMagenta), src, dst, n, accepted)
			return nil
		},
	}
	cmd.Flags().IntVar(&src, "src", 0, "source node ID")
	cmd.Flags().IntVar(&dst, "dst", 0, "destination node ID")
	cmd.Flags().IntVar(&n, "n", 1, "packet count")
	cmd.Flags().IntVar(&size, "size", 64, "packet size, bytes")
	cmd.Flags().StringVar(&phy, "phy", string(engine.PHYWiFi), "WiFi|BLE")
	return cmd
}

func routeCmd() *cobra.Command {
	var node int
	var all bool
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show routing table(s)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			if all {
				for _, t := range store.GetAllRoutingTables() {
					printRoutes(t)
				}
				return nil
			}
			printRoutes(store.GetRoutingTable(node))
			return nil
		},
	}
	cmd.Flags().IntVar(&node, "node", 0, "node ID")
	cmd.Flags().BoolVar(&all, "all", false, "show every node's routing table")
	return cmd
}

func printRoutes(t engine.RoutingTableView) {
	for _, r := range t.Routes {
		log.Printf("simnetd: %s node=%d dest=%d next_hop=%d metric=%d seq=%d",
			tag("route", colBlue), t.NodeID, r.Dest, r.NextHop, r.Metric, r.Seq)
	}
}

func mqttCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mqtt", Short: "MQTT pub/sub operations"}
	cmd.AddCommand(mqttSubCmd(), mqttPubCmd(), mqttStatsCmd(), mqttResetCmd())
	return cmd
}

func mqttSubCmd() *cobra.Command {
	var client int
	var topic string
	var qos int
	cmd := &cobra.Command{
		Use:   "sub",
		Short: "Subscribe a client to a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			ok := store.Subscribe(client, topic, qos)
			log.Printf("simnetd: %s client=%d topic=%s qos=%d ok=%v", tag("mqtt_sub", colCyan), client, topic, qos, ok)
			return nil
		},
	}
	cmd.Flags().IntVar(&client, "client", 0, "client node ID")
	cmd.Flags().StringVar(&topic, "topic", "", "topic filter")
	cmd.Flags().IntVar(&qos, "qos", 0, "subscription QoS, 0 or 1")
	return cmd
}

func mqttPubCmd() *cobra.Command {
	var client int
	var topic, payload string
	var qos int
	var retained bool
	cmd := &cobra.Command{
		Use:   "pub",
		Short: "Publish a message from a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			msgID, ok := store.Publish(client, topic, []byte(payload), qos, retained)
			log.Printf("simnetd: %s client=%d topic=%s qos=%d retained=%v msg_id=%d ok=%v",
				tag("mqtt_pub", colCyan), client, topic, qos, retained, msgID, ok)
			return nil
		},
	}
	cmd.Flags().IntVar(&client, "client", 0, "publisher node ID")
	cmd.Flags().StringVar(&topic, "topic", "", "topic")
	cmd.Flags().StringVar(&payload, "payload", "", "message payload")
	cmd.Flags().IntVar(&qos, "qos", 0, "publish QoS, 0 or 1")
	cmd.Flags().BoolVar(&retained, "retained", false, "retain this message on its topic")
	return cmd
}

func mqttStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print broker/client MQTT stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			stats := store.MqttStats()
			for id, b := range stats.Brokers {
				log.Printf("simnetd: %s broker=%d received=%d qos0=%d qos1=%d dup_sent=%d acks=%d",
					tag("mqtt_stats", colCyan), id, b.MessagesReceived, b.QoS0Messages, b.QoS1Messages, b.DuplicatesSent, b.AcksReceived)
			}
			for id, c := range stats.Clients {
				log.Printf("simnetd: %s client=%d published=%d received=%d dup=%d reconnects=%d disconnects=%d",
					tag("mqtt_stats", colCyan), id, c.MessagesPublished, c.MessagesReceived, c.DuplicatesReceived, c.Reconnects, c.Disconnects)
			}
			return nil
		},
	}
	return cmd
}

func mqttResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear broker/client MQTT state without touching nodes or routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			store.MqttReset()
			log.Printf("simnetd: %s", tag("mqtt_reset", colRed))
			return nil
		},
	}
	return cmd
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the simulation to empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := buildStore()
			if err != nil {
				return err
			}
			store.Reset()
			log.Printf("simnetd: %s", tag("reset", colRed))
			return nil
		},
	}
	return cmd
}
