// Package standalone runs the ordered boot sequence that assembles a
// single-process instance: directories, metadata store, storage tier,
// catalog, frontend, server wiring, and finally the ordered component
// start. Construction is strictly separated from starting so a
// configuration problem surfaces before anything listens or writes.
package standalone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/catalog"
	"github.com/engramdb/engram/pkg/config"
	"github.com/engramdb/engram/pkg/datanode"
	"github.com/engramdb/engram/pkg/frontend"
	"github.com/engramdb/engram/pkg/metastore"
	"github.com/engramdb/engram/pkg/metrics"
	"github.com/engramdb/engram/pkg/plugins"
	"github.com/engramdb/engram/pkg/procedure"
)

type bootStage struct {
	stage Stage
	run   func(ctx context.Context) error
}

// Orchestrator owns the boot sequence and the components it produces.
type Orchestrator struct {
	opts    config.MixOptions
	plugins *plugins.Plugins

	boot []bootStage

	kv   metastore.KVBackend
	proc *procedure.Manager
	dn   *datanode.Datanode
	cat  *catalog.Manager
	fe   *frontend.Instance
}

// New builds an orchestrator for the projected options. Nothing runs until
// Run.
func New(opts config.MixOptions, p *plugins.Plugins) *Orchestrator {
	if p == nil {
		p = plugins.New()
	}
	o := &Orchestrator{opts: opts, plugins: p}
	o.boot = []bootStage{
		{StageDirectoryEnsure, o.ensureDirectories},
		{StageMetadataBootstrap, o.bootstrapMetadata},
		{StageStorageBuild, o.buildStorage},
		{StageCatalogInit, o.initCatalog},
		{StageFrontendBuild, o.buildFrontend},
		{StageServerWiring, o.wireServers},
		{StageStart, o.startComponents},
	}
	return o
}

// Run executes the boot stages in order. The first failure aborts the
// sequence and is returned as a StageError; later stages never run.
func (o *Orchestrator) Run(ctx context.Context) error {
	for _, s := range o.boot {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: s.stage, Err: err}
		}
		started := time.Now()
		if err := s.run(ctx); err != nil {
			return &StageError{Stage: s.stage, Err: err}
		}
		elapsed := time.Since(started)
		metrics.BootStageDuration.WithLabelValues(string(s.stage)).Observe(elapsed.Seconds())
		logger.Info("boot stage complete", "stage", string(s.stage), "elapsed", elapsed)
	}
	logger.Info("standalone instance ready",
		"http", o.opts.Frontend.HTTP.Addr,
		"grpc", o.opts.Frontend.GRPC.Addr)
	return nil
}

func (o *Orchestrator) ensureDirectories(ctx context.Context) error {
	dirs := []string{
		o.opts.DataHome,
		metastore.MetadataDir(o.opts.DataHome),
	}
	walDir := o.opts.Datanode.WAL.Dir
	if walDir == "" {
		walDir = filepath.Join(o.opts.DataHome, "wal")
	}
	dirs = append(dirs, walDir)

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (o *Orchestrator) bootstrapMetadata(ctx context.Context) error {
	kv, proc, err := metastore.Bootstrap(ctx,
		metastore.MetadataDir(o.opts.DataHome), o.opts.Metadata, o.opts.Procedure)
	if err != nil {
		return err
	}
	o.kv, o.proc = kv, proc
	return nil
}

func (o *Orchestrator) buildStorage(ctx context.Context) error {
	dn, err := datanode.Builder{Opts: o.opts.Datanode, KV: o.kv}.Build(ctx)
	if err != nil {
		return err
	}
	o.dn = dn
	return nil
}

func (o *Orchestrator) initCatalog(ctx context.Context) error {
	o.cat = catalog.NewManager(o.kv, nil, nil)
	return o.cat.InitMetadataTables(ctx)
}

func (o *Orchestrator) buildFrontend(ctx context.Context) error {
	if err := plugins.SetupFrontend(o.plugins, o.opts.Frontend.UserProvider); err != nil {
		return err
	}
	fe, err := frontend.NewStandalone(o.plugins, o.kv, o.proc, o.cat,
		o.dn.RegionServer(), o.opts.Frontend)
	if err != nil {
		return err
	}
	o.fe = fe
	return nil
}

func (o *Orchestrator) wireServers(ctx context.Context) error {
	return o.fe.BuildServers(ctx)
}

// startComponents starts storage first, then the procedure manager, then
// the frontend, so nothing serves queries before the tiers below it exist.
func (o *Orchestrator) startComponents(ctx context.Context) error {
	if err := o.dn.Start(ctx); err != nil {
		return fmt.Errorf("datanode: %w", err)
	}
	if err := o.proc.Start(ctx); err != nil {
		return fmt.Errorf("procedure manager: %w", err)
	}
	if err := o.fe.Start(ctx); err != nil {
		return fmt.Errorf("frontend: %w", err)
	}
	return nil
}

// Shutdown stops the components in reverse start order and closes the
// metadata store last.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var firstErr error
	record := func(name string, err error) {
		if err != nil {
			logger.Error("shutdown step failed", "component", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if o.fe != nil {
		record("frontend", o.fe.Shutdown(ctx))
	}
	if o.proc != nil {
		o.proc.Wait()
	}
	if o.dn != nil {
		record("datanode", o.dn.Shutdown(ctx))
	}
	if o.kv != nil {
		record("metadata store", o.kv.Close())
	}
	logger.Info("standalone instance stopped")
	return firstErr
}

// Frontend returns the built frontend instance, nil before its stage ran.
func (o *Orchestrator) Frontend() *frontend.Instance { return o.fe }

// Datanode returns the built datanode, nil before its stage ran.
func (o *Orchestrator) Datanode() *datanode.Datanode { return o.dn }
