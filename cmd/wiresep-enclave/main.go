package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/wiresep/enclave/internal/bootstrap"
	"github.com/wiresep/enclave/internal/dispatch"
	"github.com/wiresep/enclave/internal/wiremsg"
)

var version = "dev"

// fileLink adapts an inherited descriptor, wrapped as an *os.File, to
// dispatch.IfnLink: every frame addressed to an Interface sibling is
// simply written to its descriptor.
type fileLink struct {
	f *os.File
}

func (l *fileLink) SendFrame(f wiremsg.Frame) error {
	_, err := l.f.Write(f.Marshal())
	return err
}

// ifnEvent and proxyEvent are what the two kinds of reader goroutines
// hand to the single dispatch loop below — a fan-in that turns concurrent
// descriptor I/O into the same one-event-at-a-time processing a readiness
// loop gives for free on a single thread.
type ifnEvent struct {
	ifnID   uint32
	peerID  uint32
	typ     wiremsg.Type
	payload []byte
}

type proxyEvent struct {
	ifnID   uint32
	local   netip.AddrPort
	foreign netip.AddrPort
	typ     wiremsg.Type
	payload []byte
}

func main() {
	var (
		masterFD    = flag.Int("master-fd", -1, "inherited master control descriptor")
		proxyFD     = flag.Int("proxy-fd", -1, "inherited proxy descriptor")
		ifnFDs      = flag.String("ifn-fds", "", "comma-separated inherited interface descriptors, in SIFN order")
		chrootDir   = flag.String("chroot", "/var/empty", "directory to chroot into after reading configuration")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
		showVersion = flag.Bool("version", false, "show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("wiresep-enclave %s\n", version)
		os.Exit(0)
	}

	var level slog.Level
	switch strings.ToLower(*logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *masterFD < 0 || *proxyFD < 0 {
		log.Error("master-fd and proxy-fd are required")
		os.Exit(1)
	}

	var ifnFDList []int
	if *ifnFDs != "" {
		for _, s := range strings.Split(*ifnFDs, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				log.Error("invalid interface descriptor list", "value", *ifnFDs, "error", err)
				os.Exit(1)
			}
			ifnFDList = append(ifnFDList, n)
		}
	}

	// The master descriptor is the only input the Enclave trusts enough to
	// read configuration from; everything else arrives only after this
	// point, once the registry is populated and descriptors are verified.
	masterFile := os.NewFile(uintptr(*masterFD), "master")
	cfg, err := bootstrap.ReceiveConfig(masterFile, log)
	if err != nil {
		log.Error("failed to receive configuration from master", "error", err)
		os.Exit(1)
	}
	if int(cfg.IfnCount) != len(ifnFDList) {
		log.Error("interface descriptor count does not match SINIT", "sinit", cfg.IfnCount, "fds", len(ifnFDList))
		os.Exit(1)
	}

	ds := bootstrap.DescriptorSet{MasterFD: *masterFD, ProxyFD: *proxyFD, IfnFDs: ifnFDList}
	if err := bootstrap.CheckOpen(ds, bootstrap.DescriptorIsOpen, bootstrap.OpenDescriptorCount, 3); err != nil {
		log.Error("descriptor table did not match expectations", "error", err)
		os.Exit(1)
	}

	lim := bootstrap.Limits{
		DataBytes:  bootstrap.HeapEstimate(len(ifnFDList), cfg.Registry.TotalPeers()),
		MaxCore:    0,
		NoFile:     uint64(3 + 2 + len(ifnFDList) + 1),
		StackBytes: 8 << 20,
	}
	if err := bootstrap.ApplyLimits(lim); err != nil {
		log.Error("failed to apply resource limits", "error", err)
		os.Exit(1)
	}

	flags := bootstrap.WatchSignals()

	if err := bootstrap.Isolate(log, cfg.Identity, *chrootDir); err != nil {
		log.Error("failed to drop privileges", "error", err)
		os.Exit(1)
	}

	d := dispatch.New(cfg.Registry, log)

	proxyFile := os.NewFile(uintptr(*proxyFD), "proxy")
	ifnFiles := make([]*os.File, len(ifnFDList))
	for i, fd := range ifnFDList {
		f := os.NewFile(uintptr(fd), fmt.Sprintf("ifn%d", i))
		ifnFiles[i] = f
		d.RegisterLink(uint32(i), &fileLink{f: f})
	}

	ifnEvents := make(chan ifnEvent, 64)
	proxyEvents := make(chan proxyEvent, 64)

	for i, f := range ifnFiles {
		go readInterfaceLink(uint32(i), f, ifnEvents, log)
	}
	go readProxyLink(proxyFile, proxyEvents, log)

	log.Info("enclave ready", "interfaces", len(ifnFiles), "peers", cfg.Registry.TotalPeers())

	for {
		select {
		case <-flags.Terminate:
			log.Info("terminating")
			return

		case <-flags.Stats:
			log.Info("stats", "interfaces", len(ifnFiles), "peers", cfg.Registry.TotalPeers())

		case ev := <-ifnEvents:
			if err := d.HandleInterfaceMessage(ev.ifnID, ev.peerID, ev.typ, ev.payload); err != nil {
				log.Warn("interface message rejected", "interface", ev.ifnID, "peer", ev.peerID, "error", err)
			}

		case ev := <-proxyEvents:
			if err := d.HandleProxyMessage(ev.ifnID, ev.local, ev.foreign, ev.typ, ev.payload); err != nil {
				log.Warn("proxy message rejected", "interface", ev.ifnID, "error", err)
			}
		}
	}
}

// readInterfaceLink turns one Interface sibling's descriptor into a stream
// of ifnEvents: MSGWGINIT, MSGWGRESP, and MSGREQWGINIT frames, each
// wrapped as a PeerFrame naming the peer they concern.
func readInterfaceLink(ifnID uint32, f *os.File, out chan<- ifnEvent, log *slog.Logger) {
	for {
		frame, err := wiremsg.ReadFrame(f)
		if err != nil {
			log.Warn("interface link closed", "interface", ifnID, "error", err)
			return
		}
		pf, err := wiremsg.UnmarshalPeerFrame(frame.Payload)
		if err != nil {
			log.Warn("malformed interface frame", "interface", ifnID, "error", err)
			continue
		}
		out <- ifnEvent{ifnID: ifnID, peerID: pf.PeerID, typ: frame.Type, payload: pf.Payload}
	}
}

// readProxyLink turns the Proxy descriptor into a stream of proxyEvents:
// handshake messages whose peer is not yet known, each wrapped as a
// ProxyFrame naming the interface and socket addresses it arrived on.
func readProxyLink(f *os.File, out chan<- proxyEvent, log *slog.Logger) {
	for {
		frame, err := wiremsg.ReadFrame(f)
		if err != nil {
			log.Warn("proxy link closed", "error", err)
			return
		}
		pf, err := wiremsg.UnmarshalProxyFrame(frame.Payload)
		if err != nil {
			log.Warn("malformed proxy frame", "error", err)
			continue
		}
		out <- proxyEvent{
			ifnID:   pf.IfnID,
			local:   pf.LocalAddr,
			foreign: pf.ForeignAddr,
			typ:     frame.Type,
			payload: pf.Payload,
		}
	}
}
