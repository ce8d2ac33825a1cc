package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/arbiter"
	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/hci"
)

// context is the context struct required by kong's command line parser.
type context struct{}

type dumpCmd struct {
	Kind string `flag:"" required:"" short:"k" enum:"cmd,evt,iso" help:"Packet kind to decode: cmd, evt, or iso"`
	Hex  string `arg:"" help:"Hex-encoded packet bytes, as would cross the HCI transport"`
}

type metricsCmd struct {
	MaxBufLen   int `flag:"" default:"251" help:"max_buf_len to configure the demo arbiter with"`
	MaxBufCount int `flag:"" default:"8" help:"max_buf_count to configure the demo arbiter with"`
	Handle      int `flag:"" default:"0x60" help:"Connection handle to track on the demo arbiter"`
	AudioPkts   int `flag:"" default:"0" help:"Number of synthetic audio packets to push before gathering metrics"`
}

var cli struct {
	Dump    dumpCmd    `cmd:"" help:"Decode and dump a raw HCI command, event, or ISO data packet"`
	Metrics metricsCmd `cmd:"" help:"Run a demo arbiter and print its Prometheus metrics in text exposition format"`
}

func (d *dumpCmd) Run(ctx *context) error {
	data, err := hex.DecodeString(d.Hex)
	if err != nil {
		return fmt.Errorf("decode hex argument: %w", err)
	}

	switch d.Kind {
	case "cmd":
		v, err := hci.DecodeCommand(data)
		if err != nil {
			return fmt.Errorf("decode command: %w", err)
		}
		spew.Dump(v)
	case "evt":
		v, err := hci.DecodeEvent(data)
		if err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		spew.Dump(v)
	case "iso":
		v, err := hci.DecodeIsoData(data)
		if err != nil {
			return fmt.Errorf("decode iso data: %w", err)
		}
		spew.Dump(v)
	default:
		return fmt.Errorf("unrecognized kind %q", d.Kind)
	}
	return nil
}

// discardSink is a pipeline.Module that drops everything it receives; the
// metrics subcommand only cares about the arbiter's own Collector output,
// not where packets end up.
type discardSink struct{}

func (discardSink) OutCmd([]byte) {}
func (discardSink) OutAcl([]byte) {}
func (discardSink) OutSco([]byte) {}
func (discardSink) OutIso([]byte) {}
func (discardSink) InEvt([]byte)  {}
func (discardSink) InAcl([]byte)  {}
func (discardSink) InSco([]byte)  {}
func (discardSink) InIso([]byte)  {}

func (m *metricsCmd) Run(ctx *context) error {
	a := arbiter.New(discardSink{}, m.MaxBufLen, m.MaxBufCount)
	defer a.Close()

	handle := uint16(m.Handle)
	a.AddConnection(handle)

	for i := 0; i < m.AudioPkts; i++ {
		a.PushAudio(hci.NewIsoData(handle, uint16(i), []byte{0x00}))
	}
	// Give the sender goroutine a moment to drain into discardSink and
	// update in-transit/sent counters before gathering.
	time.Sleep(10 * time.Millisecond)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(a); err != nil {
		return fmt.Errorf("register arbiter collector: %w", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			log.Fatalf("serialize metrics: %v", err)
		}
	}
	return nil
}
