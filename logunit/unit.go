// Package logunit is the facade that owns every other component
// (segmentlog, trimmap, cache, gc) and implements the request handler
// table of spec.md §4.F as a static dispatch table, matching
// original_source's LogUnitServer. It is the only package here that
// knows about all the others.
package logunit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chn0318/logunit/cache"
	"github.com/chn0318/logunit/config"
	"github.com/chn0318/logunit/gc"
	"github.com/chn0318/logunit/logaddr"
	"github.com/chn0318/logunit/logdata"
	"github.com/chn0318/logunit/segmentlog"
	"github.com/chn0318/logunit/trimmap"
)

// Unit is one log unit node: the global log, one lazily-created
// segmentlog.Log per stream, the write-through cache fronting both,
// the trim map, and the GC engine.
type Unit struct {
	cfg *config.Config
	log *zap.Logger

	globalLog segmentlog.Log

	streamMu   sync.Mutex
	streamLogs map[logaddr.StreamID]segmentlog.Log

	cache *cache.Cache
	trim  *trimmap.TrimMap
	gc    *gc.Loop

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a Unit from cfg and starts its GC loop under an
// internal errgroup. Call Shutdown to stop it.
func New(cfg *config.Config, log *zap.Logger) (*Unit, error) {
	u := &Unit{cfg: cfg, log: log}
	if err := u.reboot(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	u.group = g
	gc.RunGroup(gctx, g, u.gc)

	return u, nil
}

// reboot (re)builds the global log, the stream-log map, the cache and
// the GC loop from cfg, releasing anything the previous incarnation
// held. Grounded on LogUnitServer.reboot() in original_source, which
// does the same thing on every construction and again after a Reset.
func (u *Unit) reboot() error {
	if u.cache != nil {
		u.cache.InvalidateAll()
	}
	if u.globalLog != nil {
		u.globalLog.Close()
	}
	u.streamMu.Lock()
	for _, l := range u.streamLogs {
		l.Close()
	}
	u.streamMu.Unlock()

	var globalLog segmentlog.Log
	var err error
	if u.cfg.Memory {
		u.log.Warn("log unit opened in-memory mode; all data will be lost on exit",
			zap.Int64("max_cache_bytes", u.cfg.MaxCacheBytes))
		globalLog = segmentlog.NewMemoryLog()
	} else {
		globalLog, err = segmentlog.OpenFileLog(filepath.Join(u.cfg.LogPath, "log"), u.segmentOptions())
		if err != nil {
			return fmt.Errorf("logunit: opening global log: %w", err)
		}
	}
	u.globalLog = globalLog
	u.streamLogs = make(map[logaddr.StreamID]segmentlog.Log)

	u.trim = trimmap.New()
	u.cache = cache.New(u.cfg.MaxCacheBytes, u.load, u.write, u.onEvict)
	u.gc = gc.New(u.cache, u.trim, u.log, u.cfg.GCInterval)
	return nil
}

func (u *Unit) segmentOptions() segmentlog.Options {
	opts := segmentlog.Options{
		SegmentSize: u.cfg.SegmentSize,
		NoVerify:    u.cfg.NoVerify,
	}
	if u.cfg.QuickcheckTestMode {
		opts.MaxFileSize = segmentlog.QuickcheckMaxFileSize
	}
	return opts
}

// logFor returns the segmentlog.Log for addr, lazily creating a
// stream's log directory on first use. Grounded on
// LogUnitServer.getLog's streamLogs.computeIfAbsent, generalized to an
// explicit double-checked lock since Go has no computeIfAbsent.
func (u *Unit) logFor(addr logaddr.LogAddress) (segmentlog.Log, error) {
	stream, ok := addr.Stream()
	if !ok {
		return u.globalLog, nil
	}

	u.streamMu.Lock()
	if l, ok := u.streamLogs[stream]; ok {
		u.streamMu.Unlock()
		return l, nil
	}
	u.streamMu.Unlock()

	var l segmentlog.Log
	var err error
	if u.cfg.Memory {
		l = segmentlog.NewMemoryLog()
	} else {
		dir := filepath.Join(u.cfg.LogPath, "log", stream.String())
		l, err = segmentlog.OpenFileLog(dir, u.segmentOptions())
		if err != nil {
			return nil, fmt.Errorf("logunit: opening log for stream %s: %w", stream, err)
		}
	}

	u.streamMu.Lock()
	defer u.streamMu.Unlock()
	if existing, ok := u.streamLogs[stream]; ok {
		l.Close()
		return existing, nil
	}
	u.streamLogs[stream] = l
	return l, nil
}

// load is the cache's Loader: on a miss, read through to the
// appropriate segmentlog.Log.
func (u *Unit) load(addr logaddr.LogAddress) (*logdata.LogData, error) {
	l, err := u.logFor(addr)
	if err != nil {
		return nil, err
	}
	entry, err := l.Read(addr.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	u.log.Debug("log read", zap.String("address", addr.String()))
	return entry, nil
}

// write is the cache's Writer: durably append entry before admitting
// it, translating the segment log's ErrOverwrite into this package's
// sentinel.
func (u *Unit) write(addr logaddr.LogAddress, entry *logdata.LogData) error {
	l, err := u.logFor(addr)
	if err != nil {
		return err
	}
	if err := l.Append(addr.Address, entry); err != nil {
		if err == segmentlog.ErrOverwrite {
			return ErrOverwrite
		}
		return fmt.Errorf("logunit: writing %s: %w", addr, err)
	}
	return nil
}

// onEvict is the cache's EvictionListener: release the evicted entry's
// payload buffer. Grounded on LogUnitServer.handleEviction, which does
// exactly this (entry.getData().release()).
func (u *Unit) onEvict(addr logaddr.LogAddress, entry *logdata.LogData) {
	u.log.Debug("eviction", zap.String("address", addr.String()))
	entry.Release()
}

// Reset deletes all on-disk segment files (no-op in memory mode) and
// rebuilds the unit from scratch. Grounded on
// LogUnitServer.reset()/reboot() in original_source; supplemented into
// this module because spec.md's distillation dropped it, but an
// operator "wipe this log unit" action is a natural part of any
// complete implementation.
func (u *Unit) Reset(ctx context.Context) error {
	u.log.Info("resetting log unit")
	if !u.cfg.Memory {
		logDir := filepath.Join(u.cfg.LogPath, "log")
		if err := os.RemoveAll(logDir); err != nil {
			return fmt.Errorf("logunit: reset: removing %s: %w", logDir, err)
		}
	}
	if err := u.reboot(); err != nil {
		return err
	}

	// reboot built a new GC loop over the new cache; stop the loop
	// still sweeping the old cache and run the new one in its place.
	if u.cancel != nil {
		u.cancel()
		u.group.Wait()
	}
	gctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	g, gctx := errgroup.WithContext(gctx)
	u.group = g
	gc.RunGroup(gctx, g, u.gc)
	return nil
}

// Shutdown cancels the GC loop, waits for it to exit, and invalidates
// the cache (releasing every resident RefBuf) before closing the
// segment logs. Grounded on LogUnitServer.shutdown() in
// original_source (scheduler.shutdownNow() + dataCache.invalidateAll());
// supplemented here since spec.md's distillation left it implicit in
// "process lifecycle... out of scope" even though the Unit itself still
// needs a clean-exit path.
func (u *Unit) Shutdown(ctx context.Context) error {
	u.log.Info("shutting down log unit")
	if u.cancel != nil {
		u.cancel()
	}
	var gcErr error
	if u.group != nil {
		gcErr = u.group.Wait()
	}

	u.cache.InvalidateAll()

	var first error
	if u.globalLog != nil {
		if err := u.globalLog.Close(); err != nil && first == nil {
			first = err
		}
	}
	u.streamMu.Lock()
	for _, l := range u.streamLogs {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	u.streamMu.Unlock()

	if first != nil {
		return first
	}
	return gcErr
}
