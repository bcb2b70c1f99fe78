package builder

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nsauth/datasrc/internal/config"
	"github.com/nsauth/datasrc/internal/datasrc"
)

// Hook, when non-nil, is invoked on every NOOP command instead of the
// default no-op handling. It exists purely as a test seam for
// exercising the queue/wake-channel plumbing without a real
// reconfigure; a non-nil error return is treated as a state
// -consistency violation and is fatal, matching the builder's
// treatment of any other internal invariant failure.
type Hook func() error

// segmentKey names one mapped client instance within the generation
// protocol's expected-segment bookkeeping.
type segmentKey struct {
	class datasrc.RRClass
	name  string
}

// pendingGen is the generation a RECONFIGURE built but could not yet
// promote because one or more mapped instances in the new map still
// need a SEGMENT_INFO_UPDATE before they can serve traffic.
type pendingGen struct {
	generation int64
	classMap   datasrc.ClientListMap
	expected   map[segmentKey]struct{}
}

// Builder is the single-threaded worker that owns the published
// ClientListMap and all client-list construction and segment-reset
// state. Exactly one goroutine should ever call Run.
type Builder struct {
	log *slog.Logger

	queue *queue
	wake  *wakeChannel

	pub *datasrc.Publisher

	// currentGeneration, pending, and deferredReleases make up the
	// generation-versioned reconfiguration protocol. -1 means no
	// generation has ever been published.
	currentGeneration int64
	pending           *pendingGen
	deferredReleases  map[int64][]Callback

	Hook Hook
}

// New returns a Builder publishing through pub.
func New(pub *datasrc.Publisher, log *slog.Logger) (*Builder, error) {
	wc, err := newWakeChannel()
	if err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		log:               log,
		queue:             newQueue(),
		wake:              wc,
		pub:               pub,
		currentGeneration: -1,
		deferredReleases:  map[int64][]Callback{},
	}, nil
}

// WakeFD exposes the wake channel's read end for registration with the
// caller's event loop.
func (b *Builder) WakeFD() uintptr { return b.wake.ReadFD() }

// DrainWake blocks until one queued callback is ready and runs it.
// Call this from the main loop when WakeFD is readable; it returns
// false once the wake channel has been closed.
func (b *Builder) DrainWake() bool { return b.wake.Next() }

// RunWakeLoop repeatedly calls DrainWake until the wake channel is
// closed. Intended for callers that dedicate a goroutine to callback
// delivery rather than integrating WakeFD into an external poller.
func (b *Builder) RunWakeLoop() {
	for b.DrainWake() {
	}
}

// Close releases the wake channel's pipe. Call once Run has returned.
func (b *Builder) Close() error { return b.wake.Close() }

// Submit enqueues cmd for the builder goroutine. Safe to call from any
// goroutine.
func (b *Builder) Submit(cmd Command) { b.queue.push(cmd) }

// Run drains the queue until a SHUTDOWN command is handled, dispatching
// each command in order on the calling goroutine. Callers should run
// this in its own goroutine.
//
// RELEASE_SEGMENTS is special-cased: unlike every other command, it
// may defer its own callback (storing it for a later generation
// promotion to fire) or, on a malformed payload, schedule none at all.
// Every other command always gets exactly one callback scheduled here.
func (b *Builder) Run() {
	for {
		cmd, ok := b.queue.pop()
		if !ok {
			return
		}

		if cmd.ID == ReleaseSegments {
			b.handleReleaseSegments(cmd)
		} else {
			value, err := b.handle(cmd)
			if cmd.Callback != nil {
				cb := cmd.Callback
				b.wake.post(func() { cb(value, err) })
			}
		}

		if cmd.ID == Shutdown {
			b.queue.close()
			return
		}
	}
}

// handle dispatches every command except RELEASE_SEGMENTS, which Run
// manages directly. It is the only place that mutates
// currentGeneration, pending, and deferredReleases, so none of that
// state needs its own lock: it is only ever touched from this
// goroutine.
//
// An *InternalCommandError raised by any command is caught here,
// logged, and passed on to the caller's callback unchanged; the loop
// continues either way, matching spec.md's "caught at the top of
// handle, the error is logged, and the loop continues."
func (b *Builder) handle(cmd Command) (*config.Value, error) {
	value, err := b.dispatch(cmd)
	var cmdErr *datasrc.InternalCommandError
	if errors.As(err, &cmdErr) {
		b.log.Error("command failed", "command", cmd.ID, "error", cmdErr)
	}
	return value, err
}

func (b *Builder) dispatch(cmd Command) (*config.Value, error) {
	switch cmd.ID {
	case Noop:
		if b.Hook != nil {
			if err := b.Hook(); err != nil {
				panic(fmt.Sprintf("builder: NOOP hook invariant violated: %v", err))
			}
		}
		return config.Bool(true), nil

	case Shutdown:
		return nil, nil

	case Reconfigure:
		return b.handleReconfigure(cmd.Params)

	case LoadZone:
		return nil, b.handleLoadZone(cmd.Params)

	case UpdateZone:
		return nil, b.handleUpdateZone(cmd.Params)

	case SegmentInfoUpdate:
		return b.handleSegmentInfoUpdate(cmd.Params)

	default:
		return nil, &datasrc.InvalidCommandID{ID: int(cmd.ID)}
	}
}

// handleReconfigure implements the generation-versioned reconfiguration
// protocol:
//
//  1. The payload must be {"classes": {...}, "_generation_id": N} with
//     N > currentGeneration and, if a generation is already pending,
//     N > pending.generation. A malformed payload or a stale/
//     non-monotonic generation id is swallowed: the previous map (and
//     any existing pending generation) is left untouched, no error is
//     raised, and the callback fires with no argument.
//  2. The new ClientListMap is built off to the side, all-or-nothing:
//     any single class's construction failure discards the whole
//     scratch map.
//  3. The set of mapped instances in the new map that still need a
//     SEGMENT_INFO_UPDATE is computed.
//  4. If that set is empty, the generation is promoted immediately:
//     swap, bump currentGeneration, flush deferred RELEASE_SEGMENTS
//     callbacks, callback argument false (not waiting).
//  5. Otherwise the generation becomes pending (replacing any older
//     pending generation outright) and the callback argument is true
//     (waiting on mapped segments).
func (b *Builder) handleReconfigure(params *config.Value) (*config.Value, error) {
	classesV, genID, ok := reconfigureEnvelope(params)
	if !ok {
		b.log.Warn("reconfigure payload malformed, keeping previous generation")
		return nil, nil
	}
	if genID <= b.currentGeneration || (b.pending != nil && genID <= b.pending.generation) {
		b.log.Warn("reconfigure generation not monotonic, keeping previous generation",
			"generation", genID, "current", b.currentGeneration)
		return nil, nil
	}

	next, err := buildClientMap(classesV)
	if err != nil {
		b.log.Warn("reconfigure rejected, keeping previous generation", "generation", genID, "error", err)
		return nil, nil
	}

	expected := expectedSegments(next)
	if len(expected) == 0 {
		b.pub.Lock()
		b.pub.SwapLocked(next)
		b.pub.Unlock()
		b.currentGeneration = genID
		b.pending = nil
		b.flushDeferredReleases()
		b.log.Info("reconfigure installed", "generation", genID)
		return config.Bool(false), nil
	}

	b.pending = &pendingGen{generation: genID, classMap: next, expected: expected}
	b.log.Info("reconfigure pending mapped segments", "generation", genID, "waiting", len(expected))
	return config.Bool(true), nil
}

// reconfigureEnvelope decodes {"classes": {...}, "_generation_id": N}.
func reconfigureEnvelope(params *config.Value) (classes *config.Value, genID int64, ok bool) {
	classesV := params.Get("classes")
	if classesV == nil {
		return nil, 0, false
	}
	if _, err := classesV.AsMap(); err != nil {
		return nil, 0, false
	}
	genID, err := params.GetInt("_generation_id")
	if err != nil || genID < 0 {
		return nil, 0, false
	}
	return classesV, genID, true
}

// buildClientMap constructs a full ClientListMap from a RECONFIGURE
// classes payload shaped {"IN": [...], "CH": [...], ...}. Any single
// class's construction failure discards the whole scratch map: there
// is no partial-generation state.
func buildClientMap(classesV *config.Value) (datasrc.ClientListMap, error) {
	classes, err := classesV.AsMap()
	if err != nil {
		return nil, &datasrc.ConfigError{Msg: "reconfigure classes", Err: err}
	}

	scratch := datasrc.ClientListMap{}
	for className, listV := range classes {
		class, err := datasrc.ParseRRClass(className)
		if err != nil {
			return nil, &datasrc.ConfigError{Msg: "class name", Err: err}
		}
		cl, err := datasrc.Configure(class, listV, true)
		if err != nil {
			return nil, &datasrc.ConfigError{Msg: fmt.Sprintf("class %s", class), Err: err}
		}
		scratch[class] = cl
	}
	return scratch, nil
}

// expectedSegments collects every mapped instance in m, keyed by
// (class, name), the set SEGMENT_INFO_UPDATE must clear before the
// generation m belongs to can be promoted.
func expectedSegments(m datasrc.ClientListMap) map[segmentKey]struct{} {
	expected := map[segmentKey]struct{}{}
	for class, cl := range m {
		for _, ci := range cl.MappedInstances() {
			expected[segmentKey{class: class, name: ci.Name}] = struct{}{}
		}
	}
	return expected
}

// promotePending swaps in a fully-ready pending generation: every
// mapped instance it named has been reset. Called only once
// pending.expected has emptied.
func (b *Builder) promotePending() {
	b.pub.Lock()
	b.pub.SwapLocked(b.pending.classMap)
	b.pub.Unlock()
	b.currentGeneration = b.pending.generation
	b.log.Info("reconfigure installed", "generation", b.currentGeneration)
	b.pending = nil
	b.flushDeferredReleases()
}

// handleLoadZone reloads a single zone in place within the currently
// published map: "IN", "example.com.". It does not create a new
// generation. CACHE_DISABLED is a silent no-op success (nothing to
// load into); CACHE_NOT_WRITABLE is raised to the caller, since
// LOADZONE has no "try again once mapped" fallback the way
// UPDATEZONE's incremental path does.
func (b *Builder) handleLoadZone(params *config.Value) error {
	class, origin, err := classAndOrigin(params)
	if err != nil {
		return err
	}

	current := b.pub.Snapshot()
	cl, ok := current[class]
	if !ok {
		return datasrc.NewInternalCommandError("loadzone", fmt.Errorf("class %s not configured", class))
	}

	status, w, err := cl.GetCachedZoneWriter(origin, false, "")
	switch status {
	case datasrc.WriterCreated:
		return installZone(b.pub, w)
	case datasrc.CacheDisabled:
		return nil
	case datasrc.CacheNotWritable:
		return datasrc.NewInternalCommandError("loadzone", err)
	case datasrc.ZoneNotFound:
		return datasrc.NewInternalCommandError("loadzone", err)
	default:
		return datasrc.NewInternalCommandError("loadzone", fmt.Errorf("%s/%s: not cached by any configured instance", origin, class))
	}
}

// handleUpdateZone mirrors LOADZONE but names its source datasource
// explicitly instead of taking the first match, the way incremental
// zone-transfer updates target a specific backend. Unlike LOADZONE,
// CACHE_NOT_WRITABLE is also a silent no-op success here: an
// incremental update racing a mapped instance's not-yet-ready segment
// is expected to be retried by the caller, not treated as a failure.
func (b *Builder) handleUpdateZone(params *config.Value) error {
	class, origin, err := classAndOrigin(params)
	if err != nil {
		return err
	}
	dsName, err := params.GetString("datasource")
	if err != nil {
		return datasrc.NewInternalCommandError("updatezone", err)
	}

	current := b.pub.Snapshot()
	cl, ok := current[class]
	if !ok {
		return datasrc.NewInternalCommandError("updatezone", fmt.Errorf("class %s not configured", class))
	}

	status, w, err := cl.GetCachedZoneWriter(origin, false, dsName)
	switch status {
	case datasrc.WriterCreated:
		return installZone(b.pub, w)
	case datasrc.CacheDisabled:
		return nil
	case datasrc.CacheNotWritable:
		return nil
	case datasrc.ZoneNotFound:
		return datasrc.NewInternalCommandError("updatezone", err)
	default:
		return datasrc.NewInternalCommandError("updatezone", fmt.Errorf("%s/%s: not cached by %q", origin, class, dsName))
	}
}

// installZone runs the three-phase ZoneWriter protocol: Load runs
// off-line (no lock held), then Install and Cleanup run together under
// the map mutex. Cleanup also runs if Load fails.
func installZone(pub *datasrc.Publisher, w datasrc.ZoneWriter) error {
	if err := w.Load(); err != nil {
		w.Cleanup()
		return datasrc.NewInternalCommandError("load zone", err)
	}
	pub.Lock()
	w.Install()
	w.Cleanup()
	pub.Unlock()
	return nil
}

// handleSegmentInfoUpdate implements the other half of the generation
// protocol: a mapped instance reporting that its segment has been
// (re)built and is ready for the generation that named it.
//
//  1. If there is no pending generation, or generation-id does not
//     match it, the update is stale or premature: ignore it silently
//     (no error, no callback argument).
//  2. If (data-source-class, data-source-name) is not in the pending
//     generation's expected set, the caller is confused about what it
//     is updating: this is a fatal invariant violation.
//  3. Unless inuse-only is set, reset the named instance's segment
//     into READ_ONLY mode with segment-params, under the map mutex
//     (the mode is always hardcoded; callers never choose it here).
//  4. Remove the (class, name) pair from the expected set.
//  5. Once the expected set has emptied, promote the pending
//     generation.
func (b *Builder) handleSegmentInfoUpdate(params *config.Value) (*config.Value, error) {
	className, err := params.GetString("data-source-class")
	if err != nil {
		return nil, datasrc.NewInternalCommandError("segment-info-update", err)
	}
	class, err := datasrc.ParseRRClass(className)
	if err != nil {
		return nil, err
	}
	dsName, err := params.GetString("data-source-name")
	if err != nil {
		return nil, datasrc.NewInternalCommandError("segment-info-update", err)
	}
	genID, err := params.GetInt("generation-id")
	if err != nil {
		return nil, datasrc.NewInternalCommandError("segment-info-update", err)
	}
	inuseOnly, err := params.GetBool("inuse-only", false)
	if err != nil {
		return nil, datasrc.NewInternalCommandError("segment-info-update", err)
	}

	if b.pending == nil || genID != b.pending.generation {
		b.log.Warn("segment-info-update ignored: no matching pending generation",
			"generation", genID, "class", class, "datasource", dsName)
		return nil, nil
	}

	key := segmentKey{class: class, name: dsName}
	if _, ok := b.pending.expected[key]; !ok {
		panic(fmt.Sprintf("builder: segment-info-update for %s/%s is not part of pending generation %d",
			class, dsName, b.pending.generation))
	}

	if !inuseOnly {
		cl, ok := b.pending.classMap[class]
		if !ok {
			panic(fmt.Sprintf("builder: pending generation %d has no class %s for expected segment %s",
				b.pending.generation, class, dsName))
		}
		b.pub.Lock()
		resetErr := cl.ResetMemorySegment(dsName, datasrc.SegmentReadOnly, params.Get("segment-params"))
		b.pub.Unlock()
		if resetErr != nil {
			return nil, resetErr
		}
	}

	delete(b.pending.expected, key)
	if len(b.pending.expected) == 0 {
		b.promotePending()
	}
	return nil, nil
}

// flushDeferredReleases posts to the wake channel, and discards, every
// deferred-release callback whose generation has become strictly older than the
// current one. A callback deferred for exactly currentGeneration stays
// deferred until a later promotion moves currentGeneration past it.
func (b *Builder) flushDeferredReleases() {
	for gen, cbs := range b.deferredReleases {
		if gen < b.currentGeneration {
			for _, cb := range cbs {
				cb := cb
				b.wake.post(func() { cb(nil, nil) })
			}
			delete(b.deferredReleases, gen)
		}
	}
}

// handleReleaseSegments delivers a RELEASE_SEGMENTS callback once the
// named generation is no longer current; it frees no segment resources
// itself:
//
//   - If generation-id equals currentGeneration, the segments it names
//     are still in use; the callback is stored and fires once a later
//     RECONFIGURE/SEGMENT_INFO_UPDATE promotion moves currentGeneration
//     past it, in FIFO order with any other deferrals for the same
//     generation.
//   - Otherwise (older or newer than currentGeneration) there is
//     nothing to wait for: the callback is scheduled immediately.
//   - A malformed payload is logged as an error and, unlike every
//     other command, the callback is never scheduled at all; no error
//     value reaches the submitter.
func (b *Builder) handleReleaseSegments(cmd Command) {
	gen, err := cmd.Params.GetInt("generation-id")
	if err != nil {
		b.log.Error("release-segments: malformed payload", "error", err)
		return
	}

	if gen == b.currentGeneration {
		if cmd.Callback != nil {
			b.deferredReleases[gen] = append(b.deferredReleases[gen], cmd.Callback)
		}
		return
	}

	b.log.Info("segments released", "generation", gen)
	if cmd.Callback != nil {
		cb := cmd.Callback
		b.wake.post(func() { cb(nil, nil) })
	}
}

// classFromParams looks up "class". A missing "class" field is the
// caller's protocol violation, not a recoverable data-plane failure:
// the original aborts on it, preserved here as an assertion-class
// failure, so it panics rather than returning an error. A present
// but non-string "class" fails with the bare *config.TypeError,
// matching §7's "raised to caller" row rather than being folded into
// InternalCommandError, whose own scope never covers malformed
// parameter shapes.
func classFromParams(params *config.Value) (datasrc.RRClass, error) {
	classV := params.Get("class")
	if classV == nil {
		panic(`builder: params missing required "class" field`)
	}
	classStr, err := classV.AsString()
	if err != nil {
		return 0, err
	}
	class, err := datasrc.ParseRRClass(classStr)
	if err != nil {
		return 0, err
	}
	return class, nil
}

// classAndOrigin extends classFromParams with "origin", under the
// same missing-panics/wrong-type-TypeError split.
func classAndOrigin(params *config.Value) (datasrc.RRClass, string, error) {
	class, err := classFromParams(params)
	if err != nil {
		return 0, "", err
	}
	originV := params.Get("origin")
	if originV == nil {
		panic(`builder: params missing required "origin" field`)
	}
	originStr, err := originV.AsString()
	if err != nil {
		return 0, "", err
	}
	origin, err := datasrc.NormalizeOrigin(originStr)
	if err != nil {
		return 0, "", err
	}
	return class, origin, nil
}
