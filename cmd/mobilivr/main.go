// Command mobilivr runs one fabric node: the RPC transport, federation
// node, FastAGI server, dialog runtime, call history store, and SMS
// send/receive endpoints described by SPEC_FULL.md, wired together the
// way cmd/flowpbx's main.go wires flowpbx's SIP server and HTTP API —
// sequential fail-fast construction, structured logging, signal-driven
// graceful shutdown.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/mobilivr/fabric/internal/agiclient"
	"github.com/mobilivr/fabric/internal/callhistory"
	"github.com/mobilivr/fabric/internal/config"
	"github.com/mobilivr/fabric/internal/dialog"
	"github.com/mobilivr/fabric/internal/fastagi"
	"github.com/mobilivr/fabric/internal/federation"
	"github.com/mobilivr/fabric/internal/metrics"
	"github.com/mobilivr/fabric/internal/nodeid"
	"github.com/mobilivr/fabric/internal/outbound"
	"github.com/mobilivr/fabric/internal/rpc"
	"github.com/mobilivr/fabric/internal/sms"
)

// metricsAddr is the fixed listen address for the Prometheus scrape
// endpoint. Unlike the teacher's internal/metrics.Collector, which no
// binary in that repository ever mounts, this one is wired to a real
// HTTP route from the start.
const metricsAddr = ":9090"

// outboundRateLimit bounds the RPC transport's outbound send rate
// (spec.md §5's resilience posture), grounded on
// internal/api/middleware/ratelimit.go's token-bucket constants.
const outboundRateLimit = 200

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	udpPort, seeds, rest, err := parseArgs(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(rest, nil)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	selfID := nodeid.MustNew()
	selfIP, err := advertiseAddress(cfg)
	if err != nil {
		return fmt.Errorf("determining advertise address: %w", err)
	}

	logger.Info("starting fabric node",
		"node_id", selfID.String(),
		"udp_port", udpPort,
		"fastagi_port", cfg.FastAGIPort,
		"advertise_ip", selfIP,
		"data_dir", cfg.DataDir,
	)

	limiter := rate.NewLimiter(rate.Limit(outboundRateLimit), outboundRateLimit*2)
	transport, err := rpc.New(fmt.Sprintf(":%d", udpPort), selfID, logger, limiter)
	if err != nil {
		return fmt.Errorf("starting rpc transport: %w", err)
	}

	store, err := callhistory.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening call history store: %w", err)
	}
	defer store.Close()

	node := federation.New(transport, selfID, selfIP, &configResourceProvider{cfg: cfg}, logger)

	fastAGIListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.FastAGIPort))
	if err != nil {
		return fmt.Errorf("listening fastagi: %w", err)
	}
	fastAGISrv := fastagi.NewServer(fastAGIListener, node, logger)

	sampleDialog, err := buildSampleDialog()
	if err != nil {
		return fmt.Errorf("building sample dialog: %w", err)
	}
	engine := dialog.NewEngine(sampleDialog, logger, "", cfg.DataDir)

	node.SetIVREventHandler(fastAGISrv.LocalIVRHandler(func(sess *agiclient.Session, event federation.Event) {
		runDialogSession(context.Background(), engine, sess, sampleDialog.Name, store, logger)
	}))

	var smsClient *sms.Client
	if cfg.SMSSendEnabled {
		smsClient = sms.NewClient(sms.SendConfig{
			Host:     cfg.SMSSendHost,
			Port:     cfg.SMSSendPort,
			Username: cfg.SMSSendUsername,
			Password: cfg.SMSSendPassword,
		})
	}

	dialer := outbound.New(node, fastAGISrv.Pending(), selfIP, fastAGISrv.Port(), logger)
	node.SetSMSEventHandler(smsEventHandler(smsClient, dialer, engine, sampleDialog.Name, store, logger))

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	errCh := make(chan error, 2)

	go func() {
		if err := fastAGISrv.Serve(appCtx); err != nil {
			errCh <- fmt.Errorf("fastagi server: %w", err)
		}
	}()

	var smsReceiveSrv *http.Server
	if cfg.SMSReceiveEnabled {
		smsReceiveSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.SMSReceivePort),
			Handler: sms.NewServer(node, logger),
		}
		go func() {
			logger.Info("sms receive server listening", "addr", smsReceiveSrv.Addr)
			if err := smsReceiveSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("sms receive server: %w", err)
			}
		}()
	}

	collector := metrics.NewCollector(node, node, node, store, time.Now())
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)
	metricsSrv := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info("metrics server listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	publishOwnedResources(node, cfg)
	if cfg.IncomingEnabled {
		node.PublishHandlerIVR("", "")
	}
	node.PublishHandlerSMS()

	if err := node.Join(appCtx, seeds); err != nil {
		return fmt.Errorf("joining federation: %w", err)
	}
	logger.Info("node joined federation", "seeds", len(seeds))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("component failed, shutting down", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := node.Shutdown(shutdownCtx); err != nil {
		logger.Error("federation shutdown error", "error", err)
	}
	if smsReceiveSrv != nil {
		if err := smsReceiveSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("sms receive server shutdown error", "error", err)
		}
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	return nil
}

// publishOwnedResources advertises the lendable resources cfg enables —
// the outgoing-call gateway as the "ivr" resource, the Kannel sendsms
// gateway as the "sms" resource — per spec.md §4.4/§6.
func publishOwnedResources(node *federation.Node, cfg *config.Config) {
	if cfg.OutgoingEnabled {
		node.PublishResource("ivr", "")
	}
	if cfg.SMSSendEnabled {
		node.PublishResource("sms", "")
	}
}

// callbackKeyword is the inbound SMS body that triggers an outbound
// callback dial, a minimal stand-in for whatever richer command
// vocabulary a real deployment's dialog would define.
const callbackKeyword = "call me"

// smsEventHandler builds the federation.SMSEventHandler for a locally
// routed inbound SMS event (spec.md §4.4: "spawn a worker per message").
// A message body of callbackKeyword places an outbound call back to the
// sender through whichever node currently owns the ivr resource,
// exercising the claim -> pbxmanager.Originate -> FastAGI-redial path
// outbound.Dialer implements; any other message is just acknowledged
// (when an outbound gateway is configured) or logged.
func smsEventHandler(client *sms.Client, dialer *outbound.Dialer, engine *dialog.Engine, dialogName string, store *callhistory.Store, logger *slog.Logger) federation.SMSEventHandler {
	return func(ctx context.Context, event federation.Event) error {
		message := event.Extra["message"]
		logger.Info("handling inbound sms", "caller_id", event.CallerID, "message", message)

		if strings.EqualFold(strings.TrimSpace(message), callbackKeyword) {
			sess, err := dialer.Dial(ctx, "SIP/"+event.CallerID, event.CallerID)
			if err != nil {
				logger.Warn("sms-triggered callback failed", "caller_id", event.CallerID, "error", err)
				return err
			}
			runDialogSession(ctx, engine, sess, dialogName, store, logger)
			return nil
		}

		if client == nil {
			return nil
		}
		return client.Send(ctx, "message received", event.CallerID)
	}
}

// configResourceProvider satisfies federation.ResourceProvider, handing
// back the direct-access credentials for a resource type this node owns,
// read from cfg's IVR [outgoing] / SMS [sendsms] sections.
type configResourceProvider struct {
	cfg *config.Config
}

func (p *configResourceProvider) ResourceCredentials(resourceType string) (map[string]string, error) {
	switch resourceType {
	case "ivr":
		if !p.cfg.OutgoingEnabled {
			return nil, fmt.Errorf("resource %q not owned by this node", resourceType)
		}
		return map[string]string{
			"host":     p.cfg.ManagerHost,
			"port":     strconv.Itoa(p.cfg.ManagerPort),
			"username": p.cfg.ManagerUsername,
			"secret":   p.cfg.ManagerSecret,
		}, nil
	case "sms":
		if !p.cfg.SMSSendEnabled {
			return nil, fmt.Errorf("resource %q not owned by this node", resourceType)
		}
		return map[string]string{
			"host":     p.cfg.SMSSendHost,
			"port":     strconv.Itoa(p.cfg.SMSSendPort),
			"username": p.cfg.SMSSendUsername,
			"password": p.cfg.SMSSendPassword,
		}, nil
	default:
		return nil, fmt.Errorf("unknown resource type %q", resourceType)
	}
}

// runDialogSession drives sess through the dialog engine to completion
// and persists the resulting call history, the way C7's Run contract and
// internal/callhistory's repository-style store are meant to compose.
func runDialogSession(ctx context.Context, engine *dialog.Engine, sess *agiclient.Session, dialogName string, store *callhistory.Store, logger *slog.Logger) {
	defer sess.Close()

	if err := sess.Answer(); err != nil {
		logger.Warn("answering call", "error", err)
		return
	}

	history, err := engine.Run(ctx, sess)
	completed := err == nil
	if err != nil {
		logger.Warn("dialog run ended with error", "error", err, "channel", sess.Channel())
	}

	if history != nil {
		if err := store.RecordCall(ctx, sess.UniqueID(), dialogName, sess.CallerID(), sess.Channel(), history, completed); err != nil {
			logger.Error("recording call history", "error", err)
		}
	}

	status := "FAILURE"
	if completed {
		status = "SUCCESS"
	}
	if err := sess.Hangup(status); err != nil {
		logger.Debug("hangup", "error", err)
	}
}

// buildSampleDialog constructs the default dialog programmatically.
// spec.md §9's redesign notes replace the original's filesystem-loaded
// dialog definitions with named callback registration at construction
// time, and carry no on-disk dialog file format at all — so the node's
// one built-in dialog is assembled here with the public Dialog/Node API
// rather than parsed from a file. A deployment that wants a different
// script links its own nodes through the same API and passes that
// *dialog.Dialog to NewEngine in place of this one.
func buildSampleDialog() (*dialog.Dialog, error) {
	exitDest, err := dialog.ParseDestination("Exit")
	if err != nil {
		return nil, err
	}
	greetingDest, err := dialog.ParseDestination("Greeting")
	if err != nil {
		return nil, err
	}

	d := dialog.NewDialog("default", "Greeting")

	d.AddNode(&dialog.Node{
		Name: "Greeting",
		Input: &dialog.InputSettings{
			Mode:        dialog.InputDTMF,
			MaxTimeMs:   5000,
			MaxVisits:   3,
			ValidDigits: "12",
		},
		AudioItems: []dialog.AudioItem{
			{Source: dialog.AudioText, Value: "Welcome. Press 1 for sales, 2 to leave the system."},
		},
		OptionItems: map[string]dialog.Destination{
			"1": {Kind: dialog.DestNamed, NodeName: "Sales"},
			"2": exitDest,
		},
		ErrorPolicy: &dialog.ErrorPolicy{
			Unknown: greetingDest,
			Timeout: greetingDest,
			Reroute: exitDest,
		},
	})

	d.AddNode(&dialog.Node{
		Name: "Sales",
		AudioItems: []dialog.AudioItem{
			{Source: dialog.AudioText, Value: "Thanks, connecting you now."},
		},
		DefaultGoto: exitDest,
	})

	d.AddNode(&dialog.Node{
		Name: "Exit",
		AudioItems: []dialog.AudioItem{
			{Source: dialog.AudioText, Value: "Goodbye."},
		},
		Exit: true,
	})

	return d, nil
}

// advertiseAddress resolves the IP this node hands peers for FastAGI
// and SMS callback traffic: cfg's explicit override if set, else the
// first non-loopback IPv4 address on the host, else 127.0.0.1.
func advertiseAddress(cfg *config.Config) (string, error) {
	if cfg.AdvertiseIP != "" {
		return cfg.AdvertiseIP, nil
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "127.0.0.1", nil
}

// parseArgs implements spec.md §6's CLI surface:
//
//	<program> <udp-port> [<seed-ip> <seed-port>]
//	<program> <udp-port> <seed-file>
//
// Up to three leading non-flag tokens are taken as positional arguments;
// anything after them (or after the first token that looks like a flag)
// is passed through to config.Load unchanged.
func parseArgs(args []string) (udpPort int, seeds []string, rest []string, err error) {
	var positional []string
	i := 0
	for ; i < len(args) && len(positional) < 3; i++ {
		if strings.HasPrefix(args[i], "-") {
			break
		}
		positional = append(positional, args[i])
	}
	rest = args[i:]

	if len(positional) == 0 {
		return 0, nil, nil, fmt.Errorf("usage: %s <udp-port> [<seed-ip> <seed-port> | <seed-file>] [flags]", progName())
	}

	udpPort, err = strconv.Atoi(positional[0])
	if err != nil {
		return 0, nil, nil, fmt.Errorf("invalid udp-port %q: %w", positional[0], err)
	}

	switch len(positional) {
	case 1:
		return udpPort, nil, rest, nil
	case 2:
		seeds, err = readSeedFile(positional[1])
		if err != nil {
			return 0, nil, nil, err
		}
		return udpPort, seeds, rest, nil
	case 3:
		seedPort, err := strconv.Atoi(positional[2])
		if err != nil {
			return 0, nil, nil, fmt.Errorf("invalid seed port %q: %w", positional[2], err)
		}
		return udpPort, []string{net.JoinHostPort(positional[1], strconv.Itoa(seedPort))}, rest, nil
	default:
		return 0, nil, nil, errors.New("too many positional arguments")
	}
}

// readSeedFile reads one "ip port" pair per line, blank lines and
// lines beginning with "#" ignored.
func readSeedFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed file %s: %w", path, err)
	}
	defer f.Close()

	var seeds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("seed file %s: malformed line %q", path, line)
		}
		if _, err := strconv.Atoi(fields[1]); err != nil {
			return nil, fmt.Errorf("seed file %s: invalid port in line %q", path, line)
		}
		seeds = append(seeds, net.JoinHostPort(fields[0], fields[1]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	return seeds, nil
}

func progName() string {
	if len(os.Args) == 0 {
		return "mobilivr"
	}
	return os.Args[0]
}
