package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/Vigne-hub/nadamq/host/config"
	"github.com/Vigne-hub/nadamq/host/logging"
	"github.com/Vigne-hub/nadamq/host/node"
	"github.com/Vigne-hub/nadamq/host/reader"
	"github.com/Vigne-hub/nadamq/host/serial"
	"github.com/Vigne-hub/nadamq/protocol"
)

var (
	configPath = flag.String("config", "", "Path to a TOML config file")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	baud       = flag.Int("baud", 0, "Baud rate (overrides config, ignored for USB CDC)")
	timeout    = flag.Duration("timeout", 0, "Packet read timeout (overrides config)")
	readOnce   = flag.Bool("read-once", false, "Read one packet, print it and exit")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		logging.Error("%v", err)
		os.Exit(1)
	}
	if cfg.Log.Debug || *verbose {
		logging.EnableDebug()
	}

	pterm.DefaultHeader.Println(fmt.Sprintf("NadaMQ Host - protocol v%s", protocol.Version))

	serialCfg := &serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeoutMS,
	}

	if *readOnce {
		if err := readOnePacket(serialCfg, cfg); err != nil {
			logging.Error("%v", err)
			os.Exit(1)
		}
		return
	}

	peer := node.New(
		node.WithTimeout(cfg.ReadTimeout()),
		node.WithParserOptions(protocol.WithMaxPayload(cfg.Protocol.MaxPayload)),
	)

	logging.Info("Connecting to peer on %s...", serialCfg.Device)
	if err := peer.ConnectWithConfig(serialCfg); err != nil {
		logging.Error("Failed to connect: %v", err)
		os.Exit(1)
	}
	defer peer.Close()

	if identity, err := peer.Identify(); err != nil {
		logging.Warn("Peer did not identify: %v", err)
	} else {
		logging.Info("Peer identified as %q", identity.ID)
	}

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")

		switch cmd {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return

		case "help", "?":
			printHelp()

		case "id":
			identity, err := peer.Identify()
			if err != nil {
				logging.Error("%v", err)
				continue
			}
			fmt.Printf("Peer id: %s\n", identity.ID)

		case "send":
			if err := sendData(peer, arg); err != nil {
				logging.Error("%v", err)
			}

		case "listen":
			p, err := peer.Receive(cfg.ReadTimeout())
			if err != nil {
				logging.Error("%v", err)
				continue
			}
			printPacket(p)

		case "stats":
			stats := peer.Stats()
			fmt.Printf("sent=%d received=%d failed=%d dropped=%d\n",
				stats.Sent, stats.Received, stats.Failed, stats.Dropped)

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", cmd)
		}
	}

	if err := scanner.Err(); err != nil {
		logging.Error("Error reading input: %v", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return config.Config{}, err
		}
	}

	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}
	if *timeout != 0 {
		cfg.Read.TimeoutMS = int(timeout.Milliseconds())
	}
	return cfg, cfg.Validate()
}

func readOnePacket(serialCfg *serial.Config, cfg config.Config) error {
	port, err := serial.Open(serialCfg)
	if err != nil {
		return err
	}
	defer port.Close()

	logging.Info("Waiting up to %v for a packet on %s...", cfg.ReadTimeout(), serialCfg.Device)
	p, err := reader.ReadPacket(reader.FromReader(port, 256), cfg.ReadTimeout(),
		reader.WithPollInterval(cfg.PollInterval()),
		reader.WithParserOptions(protocol.WithMaxPayload(cfg.Protocol.MaxPayload)))
	if err != nil {
		return err
	}

	printPacket(p)
	return nil
}

func sendData(peer *node.Node, text string) error {
	start := time.Now()
	resp, err := peer.SendData([]byte(text))
	if err != nil {
		return err
	}

	if resp == nil {
		fmt.Printf("ACK after %v\n", time.Since(start).Round(time.Microsecond))
		return nil
	}
	printPacket(resp)
	return nil
}

func printPacket(p *protocol.Packet) {
	fmt.Println(p)
	if payload, err := p.Payload(); err == nil && len(payload) > 0 {
		fmt.Printf("  payload: %q\n", payload)
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help           - Show this help message")
	fmt.Println("  id             - Ask the peer for its identity")
	fmt.Println("  send <text>    - Send a DATA packet and wait for the reply")
	fmt.Println("  listen         - Wait for one unsolicited packet")
	fmt.Println("  stats          - Print transport counters")
	fmt.Println("  quit/exit/q    - Exit the program")
	fmt.Println()
}
