package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/osmrelate/internal/diskcoords"
	"github.com/wegman-software/osmrelate/internal/geometry"
	"github.com/wegman-software/osmrelate/internal/logger"
	"github.com/wegman-software/osmrelate/internal/membersdb"
	"github.com/wegman-software/osmrelate/internal/metrics"
	"github.com/wegman-software/osmrelate/internal/pbf"
	"github.com/wegman-software/osmrelate/internal/relations"
	"github.com/wegman-software/osmrelate/internal/relationsdb"
	"github.com/wegman-software/osmrelate/internal/style"
)

var (
	styleFile      string
	stashAPI       bool
	shard          bool
	wantNodes      bool
	wantWays       bool
	wantRelations  bool
	assembleGeom   bool
	geomOutput     string
	purgeThreshold int
	coordCacheSize int64
)

var relationsCmd = &cobra.Command{
	Use:   "relations [files...]",
	Short: "Assemble relations out of one or more .osm.pbf files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.InputFiles = args
		cfg.StyleFile = styleFile
		cfg.StashAPI = stashAPI
		cfg.Shard = shard
		cfg.WantNodes = wantNodes
		cfg.WantWays = wantWays
		cfg.WantRelations = wantRelations
		cfg.AssembleGeometry = assembleGeom
		cfg.GeometryOutput = geomOutput
		cfg.PurgeThreshold = purgeThreshold

		if cfg.AssembleGeometry {
			cfg.WantNodes = true
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		if cfg.StashAPI {
			return runStashAPI(cmd.Context())
		}
		return runCollector(cmd.Context())
	},
}

func init() {
	relationsCmd.Flags().StringVar(&styleFile, "style-file", "", "YAML file selecting which relations/members to keep")
	relationsCmd.Flags().BoolVar(&stashAPI, "stash-api", false, "Use the handle-based relationsdb/membersdb pair instead of the two-pass Collector")
	relationsCmd.Flags().BoolVar(&shard, "shard", false, "Decode multiple input files concurrently, feeding a single collector")
	relationsCmd.Flags().BoolVar(&wantNodes, "want-nodes", false, "Track nodes as relation members (collector path; --stash-api tracks every kind)")
	relationsCmd.Flags().BoolVar(&wantWays, "want-ways", true, "Track ways as relation members (collector path; --stash-api tracks every kind)")
	relationsCmd.Flags().BoolVar(&wantRelations, "want-relations", false, "Track relations as relation members (collector path; --stash-api tracks every kind)")
	relationsCmd.Flags().BoolVar(&assembleGeom, "assemble-geometry", false, "Build a best-effort single-ring WKB sketch for each completed relation")
	relationsCmd.Flags().StringVar(&geomOutput, "geometry-output", "", "Path of the memory-mapped node coordinate cache used by --assemble-geometry (default: a file in the system temp dir); sketches are only logged, not written to a file")
	relationsCmd.Flags().IntVar(&purgeThreshold, "purge-threshold", 0, "Completed relations allowed to accumulate before the members arena compacts (0 = collector default)")
	relationsCmd.Flags().Int64Var(&coordCacheSize, "coord-cache-capacity", 8_000_000_000, "Node id capacity of the memory-mapped coordinate cache")

	rootCmd.AddCommand(relationsCmd)
}

func runCollector(ctx context.Context) error {
	log := logger.Get()

	filterCfg := style.DefaultConfig()
	if cfg.StyleFile != "" {
		var err error
		filterCfg, err = style.LoadConfig(cfg.StyleFile)
		if err != nil {
			return err
		}
	}
	filter, err := style.Compile(filterCfg)
	if err != nil {
		return fmt.Errorf("compiling style: %w", err)
	}

	hooks := &relationHooks{filter: filter, log: log}

	if cfg.AssembleGeometry {
		path := cfg.GeometryOutput
		if path == "" {
			path = os.TempDir() + "/osmrelate-coords.bin"
		}
		coords, err := diskcoords.Create(path, coordCacheSize)
		if err != nil {
			return fmt.Errorf("creating coordinate cache: %w", err)
		}
		defer coords.Close()
		hooks.coords = coords
		hooks.assembler = geometry.NewAssembler(coords)
	}

	driver := pbf.NewDriver(cfg, hooks)
	hooks.collector = driver.Collector

	mc := metrics.NewCollector(cfg.MetricsInterval, log)
	mc.MemoryProbe = driver.Collector.UsedMemory
	go mc.Start(ctx)

	if err := driver.Run(ctx); err != nil {
		return err
	}

	incomplete := driver.Collector.GetIncompleteRelations()
	log.Info("run complete",
		zap.Int("completed", hooks.completed),
		zap.Int("incomplete", len(incomplete)),
	)
	for _, r := range incomplete {
		log.Warn("relation never completed", zap.Int64("relation_id", int64(r.ID)))
	}
	return nil
}

// relationHooks wires relations.Hooks to the style filter, optional
// geometry assembly and logging, the way a real CLI consumer of
// internal/relations would.
type relationHooks struct {
	relations.BaseHooks

	filter    *style.Filter
	log       *zap.Logger
	collector *relations.Collector

	coords    *diskcoords.Cache
	assembler *geometry.Assembler

	completed int
}

func (h *relationHooks) KeepRelation(r *osm.Relation) bool {
	return h.filter.KeepRelation(r.Tags)
}

func (h *relationHooks) KeepMember(rm *relations.RelationMeta, m *osm.Member) bool {
	return h.filter.KeepMember(m.Role)
}

func (h *relationHooks) NodeNotInAnyRelation(n *osm.Node) {
	if h.coords != nil {
		h.coords.Put(int64(n.ID), n.Lat, n.Lon)
	}
}

func (h *relationHooks) CompleteRelation(rm *relations.RelationMeta) {
	h.completed++
	rel := h.collector.GetRelation(rm)

	if h.assembler == nil {
		h.log.Debug("relation complete", zap.Int64("relation_id", int64(rel.ID)))
		return
	}

	var ways []geometry.WayNodes
	for i, m := range rel.Members {
		if m.Type != osm.TypeWay || m.Ref == 0 {
			continue
		}
		obj := h.collector.GetMember(rm, i)
		w, ok := obj.(*osm.Way)
		if !ok || w == nil {
			continue
		}
		nodeIDs := make([]osm.NodeID, len(w.Nodes))
		for j, wn := range w.Nodes {
			nodeIDs[j] = wn.ID
		}
		ways = append(ways, geometry.WayNodes{Role: m.Role, Nodes: nodeIDs})
	}

	sk := h.assembler.Assemble(rel, ways)
	if sk.Unassembled {
		h.log.Debug("relation complete, geometry not assembled",
			zap.Int64("relation_id", int64(rel.ID)), zap.String("reason", sk.Reason))
		return
	}
	h.log.Info("relation complete with geometry",
		zap.Int64("relation_id", int64(rel.ID)), zap.Int("wkb_bytes", len(sk.WKB)))
}

func wayID(w *osm.Way) int64           { return int64(w.ID) }
func nodeID(n *osm.Node) int64         { return int64(n.ID) }
func relationID(r *osm.Relation) int64 { return int64(r.ID) }

// runStashAPI drives relationsdb/membersdb directly instead of letting a
// Collector own the loop: pass one decides which relations to keep and
// tracks their members, pass two is a single scan feeding every object to
// whichever membersdb.Database matches its kind.
func runStashAPI(ctx context.Context) error {
	log := logger.Get()

	filterCfg := style.DefaultConfig()
	if cfg.StyleFile != "" {
		var err error
		filterCfg, err = style.LoadConfig(cfg.StyleFile)
		if err != nil {
			return err
		}
	}
	filter, err := style.Compile(filterCfg)
	if err != nil {
		return fmt.Errorf("compiling style: %w", err)
	}

	rdb := relationsdb.New()

	mc := metrics.NewCollector(cfg.MetricsInterval, log)
	mc.MemoryProbe = rdb.UsedMemory
	go mc.Start(ctx)

	nodes := membersdb.New[osm.Node](rdb, nodeID)
	ways := membersdb.New[osm.Way](rdb, wayID)
	rels := membersdb.New[osm.Relation](rdb, relationID)

	for _, path := range cfg.InputFiles {
		if err := scanStashPassOne(ctx, path, filter, rdb, nodes, ways, rels); err != nil {
			return fmt.Errorf("pass one: %w", err)
		}
	}
	nodes.Prepare()
	ways.Prepare()
	rels.Prepare()

	for _, path := range cfg.InputFiles {
		if err := scanStashPassTwo(ctx, path, rdb, nodes, ways, rels); err != nil {
			return fmt.Errorf("pass two: %w", err)
		}
	}

	incomplete := rdb.GetIncomplete()
	for _, r := range incomplete {
		log.Warn("relation never completed", zap.Int64("relation_id", int64(r.ID)))
	}
	log.Info("stash-api run complete",
		zap.Int("completed", rdb.Size()-len(incomplete)),
		zap.Int("incomplete", len(incomplete)))
	return nil
}

func scanStashPassOne(
	ctx context.Context,
	path string,
	filter *style.Filter,
	rdb *relationsdb.Database,
	nodes *membersdb.Database[osm.Node],
	ways *membersdb.Database[osm.Way],
	rels *membersdb.Database[osm.Relation],
) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := osmpbf.New(ctx, f, 1)
	defer scanner.Close()

	for scanner.Scan() {
		r, ok := scanner.Object().(*osm.Relation)
		if !ok || !filter.KeepRelation(r.Tags) {
			continue
		}
		kept := false
		for _, m := range r.Members {
			if filter.KeepMember(m.Role) {
				kept = true
				break
			}
		}
		if !kept {
			continue
		}
		h := rdb.Add(r)
		for i, m := range r.Members {
			if !filter.KeepMember(m.Role) {
				continue
			}
			switch m.Type {
			case osm.TypeNode:
				nodes.Track(h, m.Ref, i)
			case osm.TypeWay:
				ways.Track(h, m.Ref, i)
			case osm.TypeRelation:
				rels.Track(h, m.Ref, i)
			}
		}
	}
	return scanner.Err()
}

func scanStashPassTwo(
	ctx context.Context,
	path string,
	rdb *relationsdb.Database,
	nodes *membersdb.Database[osm.Node],
	ways *membersdb.Database[osm.Way],
	rels *membersdb.Database[osm.Relation],
) error {
	log := logger.Get()
	onComplete := func(h relationsdb.Handle) {
		log.Debug("relation complete", zap.Int64("relation_id", int64(rdb.Get(h).Relation.ID)))
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := osmpbf.New(ctx, f, 1)
	defer scanner.Close()

	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			nodes.Add(*o, onComplete)
		case *osm.Way:
			ways.Add(*o, onComplete)
		case *osm.Relation:
			rels.Add(*o, onComplete)
		}
	}
	return scanner.Err()
}
