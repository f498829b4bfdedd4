package pbf

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/destel/rill"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmrelate/internal/config"
	"github.com/wegman-software/osmrelate/internal/logger"
	"github.com/wegman-software/osmrelate/internal/relations"
)

// Driver runs the two-pass relation assembly of spec.md §4 over one or
// more .osm.pbf files, using a relations.Collector as the engine.
// Grounded on the teacher's internal/pbf/extractor.go two-pass shape
// (pass one over the file, then pass two with parallel decode feeding a
// single consumer), generalized from node-coordinate indexing to relation
// member matching.
type Driver struct {
	cfg       *config.Config
	Collector *relations.Collector

	fed atomic.Int64
}

// NewDriver creates a Driver. hooks drives the Collector (see
// relations.Hooks); cfg's Want* flags say which kinds it tracks.
func NewDriver(cfg *config.Config, hooks relations.Hooks) *Driver {
	c := relations.NewCollector(hooks, cfg.WantNodes, cfg.WantWays, cfg.WantRelations)
	if cfg.PurgeThreshold > 0 {
		c.PurgeThreshold = cfg.PurgeThreshold
	}
	return &Driver{cfg: cfg, Collector: c}
}

// Run executes pass one (ReadRelations, across every configured file)
// then pass two (feeding every node/way/relation through the collector),
// and finally flushes the collector.
func (d *Driver) Run(ctx context.Context) error {
	log := logger.Get()

	src := &multiFileSource{ctx: ctx, paths: d.cfg.InputFiles}
	if err := d.Collector.ReadRelations(src); err != nil {
		return fmt.Errorf("pbf: pass one: %w", err)
	}
	log.Info("pass one complete", zap.Int("files", len(d.cfg.InputFiles)))

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	ticker := NewProgressTicker(progressCtx, func() {
		log.Info("pass two progress",
			zap.Int64("objects_fed", d.fed.Load()),
			zap.Uint64("collector_mem_bytes", d.Collector.UsedMemory()))
	})
	go ticker.Run()

	start := len(d.cfg.InputFiles) > 1 && d.cfg.Shard
	var err error
	if start {
		err = d.passTwoSharded(ctx)
	} else {
		err = d.passTwoSequential(ctx)
	}
	stopProgress()
	if err != nil {
		return fmt.Errorf("pbf: pass two: %w", err)
	}

	d.Collector.Flush()
	return nil
}

func (d *Driver) feedObject(obj osm.Object) {
	d.fed.Add(1)
	switch o := obj.(type) {
	case *osm.Node:
		d.Collector.AddNode(o)
	case *osm.Way:
		d.Collector.AddWay(o)
	case *osm.Relation:
		d.Collector.AddRelation(o)
	}
}

// passTwoSequential reads each configured file in order, feeding objects
// to the collector from the calling goroutine only.
func (d *Driver) passTwoSequential(ctx context.Context) error {
	for _, path := range d.cfg.InputFiles {
		if err := d.feedFile(ctx, path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func (d *Driver) feedFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := osmpbf.New(ctx, f, runtime.NumCPU())
	defer scanner.Close()

	for scanner.Scan() {
		d.feedObject(scanner.Object())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// passTwoSharded decodes every configured file concurrently, one
// goroutine per file, each publishing batches wrapped in rill.Try onto
// its own channel (the ordered-concurrent-decode idiom this package
// borrows from m4o.io/pbf's blob decoder). A single fan-in goroutine
// drains all of them and is the only caller that ever touches the
// collector, preserving spec.md §5's single-threaded-core rule even
// though decoding itself runs in parallel.
func (d *Driver) passTwoSharded(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	streams := make([]<-chan rill.Try[[]osm.Object], len(d.cfg.InputFiles))
	for i, path := range d.cfg.InputFiles {
		streams[i] = decodeFile(g, gctx, path)
	}
	merged := mergeStreams(g, streams)

	var firstErr error
	for batch := range merged {
		if batch.Error != nil {
			if firstErr == nil {
				firstErr = batch.Error
			}
			continue
		}
		for _, obj := range batch.Value {
			d.feedObject(obj)
		}
	}
	if err := g.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// decodeFile scans one file on its own errgroup goroutine, sending each
// decoded object as a single-element batch wrapped in rill.Try so errors
// travel on the same channel as data.
func decodeFile(g *errgroup.Group, ctx context.Context, path string) <-chan rill.Try[[]osm.Object] {
	out := make(chan rill.Try[[]osm.Object], 64)
	g.Go(func() error {
		defer close(out)

		f, err := os.Open(path)
		if err != nil {
			out <- rill.Try[[]osm.Object]{Error: err}
			return nil
		}
		defer f.Close()

		scanner := osmpbf.New(ctx, f, runtime.NumCPU())
		defer scanner.Close()

		for scanner.Scan() {
			select {
			case out <- rill.Try[[]osm.Object]{Value: []osm.Object{scanner.Object()}}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			out <- rill.Try[[]osm.Object]{Error: err}
		}
		return nil
	})
	return out
}

// mergeStreams fans several decode streams into one, each forwarding
// goroutine itself run under g so decode errors surface through g.Wait.
func mergeStreams(g *errgroup.Group, streams []<-chan rill.Try[[]osm.Object]) <-chan rill.Try[[]osm.Object] {
	out := make(chan rill.Try[[]osm.Object])

	for _, s := range streams {
		s := s
		g.Go(func() error {
			for v := range s {
				out <- v
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(out)
	}()
	return out
}

// multiFileSource chains several .osm.pbf files into one ObjectSource, so
// Collector.ReadRelations can see every relation across all of them in a
// single pass-one call.
type multiFileSource struct {
	ctx   context.Context
	paths []string

	idx     int
	f       *os.File
	scanner *osmpbf.Scanner
	err     error
}

func (s *multiFileSource) Scan() bool {
	for {
		if s.scanner == nil {
			if s.idx >= len(s.paths) {
				return false
			}
			f, err := os.Open(s.paths[s.idx])
			if err != nil {
				s.err = err
				return false
			}
			s.idx++
			s.f = f
			s.scanner = osmpbf.New(s.ctx, f, runtime.NumCPU())
		}

		if s.scanner.Scan() {
			return true
		}
		if err := s.scanner.Err(); err != nil && err != io.EOF {
			s.err = err
			return false
		}
		s.scanner.Close()
		s.f.Close()
		s.scanner = nil
	}
}

func (s *multiFileSource) Object() osm.Object { return s.scanner.Object() }
func (s *multiFileSource) Err() error         { return s.err }
