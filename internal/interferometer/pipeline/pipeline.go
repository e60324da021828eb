package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
	"github.com/banshee-data/visibility.report/internal/interferometer/l2frames"
	"github.com/banshee-data/visibility.report/internal/interferometer/l3correlate"
	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
	"github.com/banshee-data/visibility.report/internal/monitoring"
	"github.com/banshee-data/visibility.report/internal/timeutil"
)

// ErrAlreadyRun is returned when Run is called a second time.
var ErrAlreadyRun = errors.New("pipeline already run")

// Config contains configuration for a Pipeline run.
type Config struct {
	Channels         int                        // C
	Bins             int                        // F
	Depth            int                        // accumulation depth N
	EvictionAge      int64                      // see l2frames.ReassemblerConfig
	EvictionInterval int                        // see l2frames.ReassemblerConfig
	PendingHighWater int                        // see l2frames.ReassemblerConfig
	MaxPackets       int                        // cap on packets read (0 = all)
	Partial          l4accumulate.PartialPolicy // end-of-stream partial cycle handling
	Gains            l3correlate.GainTable      // nil = unity
	HandoffQueue     int                        // >0 reads packets on a producer goroutine
	ProgressInterval int64                      // packets between progress reports (0 = off)
	Clock            timeutil.Clock             // nil = real clock
}

// frameAssembler is the L2 surface the pipeline drives.
type frameAssembler interface {
	Ingest(pkt l1packets.Packet) (l2frames.IngestResult, error)
	Flush() []*l2frames.Frame
	Pending() int
	Stats() l2frames.ReassemblerStats
}

// Pipeline runs one packet stream through all layers into a Sink.
type Pipeline struct {
	cfg        Config
	source     Source
	sink       Sink
	assembler  frameAssembler
	correlator *l3correlate.Correlator
	acc        *l4accumulate.Accumulator
	progress   *monitoring.ProgressReporter

	requested   int
	packetsRead int64
	writeIndex  int
	ran         bool
}

// New validates the configuration and builds the layer chain.
func New(cfg Config, source Source, sink Sink) (*Pipeline, error) {
	if source == nil || sink == nil {
		return nil, fmt.Errorf("pipeline requires a source and a sink")
	}
	if cfg.MaxPackets < 0 || cfg.HandoffQueue < 0 {
		return nil, fmt.Errorf("max packets and handoff queue must be non-negative")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	reassembler, err := l2frames.NewReassembler(l2frames.ReassemblerConfig{
		Channels:         cfg.Channels,
		Bins:             cfg.Bins,
		EvictionAge:      cfg.EvictionAge,
		EvictionInterval: cfg.EvictionInterval,
		PendingHighWater: cfg.PendingHighWater,
	})
	if err != nil {
		return nil, fmt.Errorf("reassembler: %w", err)
	}
	correlator, err := l3correlate.NewCorrelator(cfg.Channels, cfg.Bins, cfg.Gains)
	if err != nil {
		return nil, fmt.Errorf("correlator: %w", err)
	}
	acc, err := l4accumulate.New(l4accumulate.Config{
		Depth:    cfg.Depth,
		Products: l3correlate.NumProducts(cfg.Channels),
		Bins:     cfg.Bins,
		Partial:  cfg.Partial,
	})
	if err != nil {
		return nil, fmt.Errorf("accumulator: %w", err)
	}

	return &Pipeline{
		cfg:        cfg,
		source:     source,
		sink:       sink,
		assembler:  reassembler,
		correlator: correlator,
		acc:        acc,
		progress:   monitoring.NewProgressReporter(cfg.Clock, cfg.ProgressInterval, cfg.PendingHighWater),
	}, nil
}

// Run streams min(MaxPackets, NumPackets) packets through the layers and
// truncates the sink to the number of records written. It stops on context
// cancellation, source or sink errors, or a structural mismatch, which is
// returned wrapped as l2frames.ErrStructuralMismatch. Run may be called once.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	if p.ran {
		return Summary{}, ErrAlreadyRun
	}
	p.ran = true
	p.progress.Restart()

	available := p.source.NumPackets()
	p.requested = available
	if p.cfg.MaxPackets > 0 && p.cfg.MaxPackets < available {
		p.requested = p.cfg.MaxPackets
	}
	diagf("run start: %d of %d packets, C=%d F=%d N=%d", p.requested, available, p.cfg.Channels, p.cfg.Bins, p.cfg.Depth)

	var err error
	if p.cfg.HandoffQueue > 0 {
		err = p.runHandoff(ctx)
	} else {
		err = p.runSequential(ctx)
	}
	if err == nil {
		err = p.finish(ctx)
	}

	sum := p.summary(available)
	if err != nil {
		opsf("run stopped after %d packets: %v", p.packetsRead, err)
		return sum, err
	}
	diagf("run complete:\n%s", sum)
	return sum, nil
}

func (p *Pipeline) runSequential(ctx context.Context) error {
	for i := 0; i < p.requested; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, err := p.source.ReadPacket(ctx, i)
		if errors.Is(err, io.EOF) {
			opsf("source exhausted at packet %d of %d", i, p.requested)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read packet %d: %w", i, err)
		}
		if err := p.ingest(ctx, pkt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runHandoff(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan l1packets.Packet, p.cfg.HandoffQueue)

	g.Go(func() error {
		defer close(queue)
		for i := 0; i < p.requested; i++ {
			pkt, err := p.source.ReadPacket(gctx, i)
			if errors.Is(err, io.EOF) {
				opsf("source exhausted at packet %d of %d", i, p.requested)
				return nil
			}
			if err != nil {
				return fmt.Errorf("read packet %d: %w", i, err)
			}
			select {
			case queue <- pkt:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for pkt := range queue {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.ingest(gctx, pkt); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (p *Pipeline) ingest(ctx context.Context, pkt l1packets.Packet) error {
	res, err := p.assembler.Ingest(pkt)
	if err != nil {
		return fmt.Errorf("packet %d: %w", p.packetsRead, err)
	}
	p.packetsRead++

	if res.Outcome == l2frames.OutcomeCompleted {
		if err := p.emitFrame(ctx, res.Frame); err != nil {
			return err
		}
	}

	if snap := p.snapshot(); p.progress.Due(snap) {
		p.progress.Report(snap)
	}
	return nil
}

// emitFrame correlates a completed frame and accumulates it, writing a
// record when a cycle closes.
func (p *Pipeline) emitFrame(ctx context.Context, f *l2frames.Frame) error {
	tri, err := p.correlator.Correlate(f)
	if err != nil {
		return fmt.Errorf("correlate frame %08X: %w", f.FrameNumber, err)
	}
	rec, err := p.acc.Add(tri, f.FrameNumber, f.SequenceIndex, f.Timestamp())
	if err != nil {
		return fmt.Errorf("accumulate frame %08X: %w", f.FrameNumber, err)
	}
	if rec == nil {
		return nil
	}
	return p.write(ctx, rec)
}

func (p *Pipeline) write(ctx context.Context, rec *l4accumulate.Record) error {
	if err := p.sink.WriteRecord(ctx, p.writeIndex, rec); err != nil {
		return fmt.Errorf("write record %d: %w", p.writeIndex, err)
	}
	p.writeIndex++
	return nil
}

// finish drains the mailbox and the accumulator, then truncates the sink.
func (p *Pipeline) finish(ctx context.Context) error {
	for _, f := range p.assembler.Flush() {
		if err := p.emitFrame(ctx, f); err != nil {
			return err
		}
	}
	if rec, ok := p.acc.Finish(); ok {
		if err := p.write(ctx, rec); err != nil {
			return err
		}
	}
	if err := p.sink.Truncate(ctx, p.writeIndex); err != nil {
		return fmt.Errorf("truncate sink to %d: %w", p.writeIndex, err)
	}
	return nil
}

func (p *Pipeline) snapshot() monitoring.Progress {
	st := p.assembler.Stats()
	return monitoring.Progress{
		PacketsRead:      p.packetsRead,
		PacketsTotal:     int64(p.requested),
		FramesCompleted:  st.FramesCompleted,
		Records:          int64(p.writeIndex),
		IncompleteFrames: st.IncompleteFrames,
		ForgottenPackets: st.ForgottenPackets,
		Pending:          p.assembler.Pending(),
	}
}

func (p *Pipeline) summary(available int) Summary {
	return Summary{
		Channels:         p.cfg.Channels,
		Depth:            p.cfg.Depth,
		PacketsAvailable: available,
		PacketsRequested: p.requested,
		PacketsRead:      p.packetsRead,
		Truncated:        p.cfg.MaxPackets > 0,
		RecordsWritten:   p.writeIndex,
		Elapsed:          p.progress.Elapsed(),
		Frames:           p.assembler.Stats(),
		Accumulation:     p.acc.Stats(),
	}
}
