package build

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/uxforge/bundlebuild/internal/artifact"
	"github.com/uxforge/bundlebuild/internal/cache"
	"github.com/uxforge/bundlebuild/internal/compiler"
	bberrors "github.com/uxforge/bundlebuild/internal/errors"
	"github.com/uxforge/bundlebuild/internal/installer"
	"github.com/uxforge/bundlebuild/internal/logfields"
	"github.com/uxforge/bundlebuild/internal/metrics"
	"github.com/uxforge/bundlebuild/internal/observability"
	"github.com/uxforge/bundlebuild/internal/provision"
	"github.com/uxforge/bundlebuild/internal/typecheck"
)

const (
	// MaxPasses bounds the compile loop. Strategies that keep requesting
	// rebuilds stop here with the last successful output.
	MaxPasses = 5

	// maxTypeErrors caps the diagnostics carried on an Output; the rest
	// collapse into a "+N more" line.
	maxTypeErrors = 40
)

// Options configures a new Orchestrator. Cache, Store, Provisioner,
// Installer, Backend, and Checker are required; the rest have defaults.
type Options struct {
	Cache       ResultCache
	Store       ArtifactStore
	Provisioner Provisioner
	Manifests   ManifestLoader
	Installer   installer.Installer
	Backend     compiler.Backend
	Checker     typecheck.Checker
	Recorder    metrics.Recorder

	// DevBypass makes result-cache reads always miss. Writes still land,
	// so dev builds keep the cache warm for everyone else.
	DevBypass bool

	// InstallTimeout and TypecheckTimeout bound the respective stages.
	// Zero means no stage deadline beyond the caller's context.
	InstallTimeout   time.Duration
	TypecheckTimeout time.Duration
}

// Orchestrator executes builds: provision, install, compile, type-check,
// promote, cache. Identical concurrent requests coalesce onto one
// execution and share its Output. Safe for concurrent use.
type Orchestrator struct {
	cache       ResultCache
	store       ArtifactStore
	provisioner Provisioner
	manifests   ManifestLoader
	installer   installer.Installer
	backend     compiler.Backend
	checker     typecheck.Checker
	recorder    metrics.Recorder

	devBypass        bool
	installTimeout   time.Duration
	typecheckTimeout time.Duration

	group singleflight.Group
}

// New assembles an Orchestrator from its collaborators.
func New(opts Options) *Orchestrator {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Manifests == nil {
		opts.Manifests = DefaultManifestLoader{}
	}
	return &Orchestrator{
		cache:            opts.Cache,
		store:            opts.Store,
		provisioner:      opts.Provisioner,
		manifests:        opts.Manifests,
		installer:        opts.Installer,
		backend:          opts.Backend,
		checker:          opts.Checker,
		recorder:         opts.Recorder,
		devBypass:        opts.DevBypass,
		installTimeout:   opts.InstallTimeout,
		typecheckTimeout: opts.TypecheckTimeout,
	}
}

// Run executes one build request under strategy s. Concurrent calls with
// the same lock key (kind + canonical path + options suffix) coalesce: one
// executes, the rest block and receive the same Output. Run never returns
// an error; every failure is a terminal Output with Success=false.
func Run[S any](ctx context.Context, o *Orchestrator, s Strategy[S], req Request) *Output {
	lockKey := lockKeyFor(s.Kind(), req, s.OptionsSuffix(req))

	executed := false
	v, _, _ := o.group.Do(lockKey, func() (any, error) {
		executed = true
		return execute(ctx, o, s, req, lockKey), nil
	})
	if !executed {
		o.recorder.IncCoalesced()
		observability.DebugContext(ctx, "Coalesced onto in-flight build", logfields.CacheKey(lockKey))
	}
	return v.(*Output)
}

// execute wraps one build in panic recovery and build-level metrics. A
// panic anywhere in the pipeline becomes an unknown-category Output; the
// deferred cleanups in doBuild have already run by the time the recover
// fires.
func execute[S any](ctx context.Context, o *Orchestrator, s Strategy[S], req Request, lockKey string) (out *Output) {
	buildID := uuid.NewString()
	ctx = observability.WithKind(observability.WithBuildID(ctx, buildID), s.Kind())
	log := NewLog()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := bberrors.Unknown(fmt.Errorf("panic: %v", r))
			observability.ErrorContext(ctx, "Build panicked", logfields.Error(err))
			out = &Output{
				Kind:          s.Kind(),
				CacheKey:      lockKey,
				Error:         err.Error(),
				ErrorCategory: bberrors.CategoryOf(err),
				BuildLog:      log.String(),
			}
		}
		o.recorder.ObserveBuildDuration(time.Since(start))
		outcome := "failed"
		if out.Success {
			outcome = "success"
		}
		o.recorder.IncBuildOutcome(outcome)
	}()

	return doBuild(ctx, o, s, req, lockKey, buildID, log)
}

func doBuild[S any](ctx context.Context, o *Orchestrator, s Strategy[S], req Request, lockKey, buildID string, log *Log) *Output {
	emit := func(state State, msg string) {
		if req.OnProgress != nil {
			req.OnProgress(Event{State: state, Message: msg, Log: log.String()})
		}
	}
	fail := func(key artifact.Key, err error) *Output {
		observability.ErrorContext(ctx, "Build failed", logfields.Error(err))
		result := metrics.ResultFatal
		if ctx.Err() != nil {
			result = metrics.ResultCanceled
		}
		o.recorder.IncStageResult("build", result)
		emit(StateError, err.Error())
		return &Output{
			Kind:          s.Kind(),
			ArtifactKey:   key,
			CacheKey:      lockKey,
			Error:         err.Error(),
			ErrorCategory: bberrors.CategoryOf(err),
			BuildLog:      log.String(),
		}
	}

	emit(StateProvisioning, "resolving source")
	provCtx := observability.WithStage(ctx, "provision")
	provStart := time.Now()

	canonical := provision.Canonicalize(req.SourcePath)
	commit, err := o.provisioner.ResolveCommit(provCtx, req.WorkspaceRoot, req.SourcePath, req.VersionSpec)
	if err != nil {
		return fail(artifact.Key{}, bberrors.CommitUnresolvable(canonical, req.VersionSpec, err))
	}
	key := artifact.Key{Kind: s.Kind(), CanonicalPath: canonical, Commit: commit}

	// The probe runs after commit resolution so a moved HEAD cannot
	// satisfy from an older commit's entry.
	if cached, ok := o.probeCache(ctx, lockKey, key); ok {
		observability.InfoContext(ctx, "Result cache hit",
			logfields.CacheKey(lockKey), logfields.Commit(commit))
		emit(StateReady, "cached")
		return cached
	}

	src, err := o.provisioner.Provision(provCtx, req.WorkspaceRoot, req.SourcePath, req.VersionSpec, func(msg string) {
		log.Logf("%s", msg)
	})
	if err != nil {
		return fail(key, bberrors.ProvisionFailed(canonical, err))
	}
	defer func() { _ = src.Cleanup() }()

	ws, err := o.store.CreateWorkspace(key)
	if err != nil {
		return fail(key, bberrors.WorkspaceError("create", err))
	}
	defer func() { _ = ws.Cleanup() }()
	o.recorder.ObserveStageDuration("provision", time.Since(provStart))

	raw, manifestPath, err := o.manifests.Load(src.Path)
	if err != nil {
		return fail(key, bberrors.ManifestLoadError(src.Path, err))
	}
	man, err := s.ValidateManifest(raw, manifestPath)
	if err != nil {
		var pe *bberrors.PipelineError
		if !stderrors.As(err, &pe) {
			err = bberrors.ManifestInvalid(manifestPath, err.Error())
		}
		return fail(key, err)
	}

	emit(StateInstalling, "installing dependencies")
	installCtx := observability.WithStage(ctx, "install")
	if o.installTimeout > 0 {
		var cancel context.CancelFunc
		installCtx, cancel = context.WithTimeout(installCtx, o.installTimeout)
		defer cancel()
	}
	installStart := time.Now()

	deps := s.MergeDependencies(man)
	depsKey := cache.DepsKey(canonical, commit)

	// The side cache ignores the dev bypass: install fingerprints are
	// reusable regardless of result-cache policy.
	prevHash, _, cerr := o.cache.Get(ctx, depsKey, false)
	if cerr != nil {
		observability.WarnContext(ctx, "Side cache read failed", logfields.Error(cerr))
		prevHash = ""
	}

	inst, err := o.installer.Install(installCtx, installer.Request{
		Dir:               ws.DepsDir,
		Dependencies:      deps,
		PreviousHash:      prevHash,
		CanonicalPath:     canonical,
		ConsumerKey:       lockKey,
		UserWorkspacePath: req.WorkspaceRoot,
		Log:               log,
	})
	if err != nil {
		return fail(key, bberrors.InstallFailed(canonical, err))
	}
	o.recorder.ObserveStageDuration("install", time.Since(installStart))

	// Persist the fingerprint immediately: even if a later stage fails,
	// the next build of this commit skips the install.
	if err := o.cache.Set(ctx, depsKey, inst.Hash); err != nil {
		observability.WarnContext(ctx, "Side cache write failed", logfields.Error(err))
	}

	c := &Context[S]{
		BuildID:       buildID,
		Request:       req,
		ResolvedPath:  src.Path,
		CanonicalPath: canonical,
		Commit:        commit,
		Workspace:     ws,
		ArtifactKey:   key,
		Manifest:      man,
		DepsHash:      inst.Hash,
		SideInfo:      inst.SideInfo,
		Log:           log,
	}

	// Type checking starts now and runs concurrently with the compile
	// loop; its verdict is consumed after the loop settles.
	checkCtx, cancelCheck := context.WithCancel(observability.WithStage(ctx, "typecheck"))
	defer cancelCheck()
	if o.typecheckTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(checkCtx, o.typecheckTimeout)
		defer cancel()
	}

	type checkResult struct {
		diags []typecheck.Diagnostic
		err   error
	}
	checkCh := make(chan checkResult, 1)
	go func() {
		t0 := time.Now()
		diags, err := o.checker.Check(checkCtx, typecheck.Params{
			SourcePath:     src.Path,
			NodeModulesDir: inst.SideInfo.NodeModulesDir,
			ShimsEnabled:   s.SupportsShims(req),
			Log:            log,
		})
		o.recorder.ObserveStageDuration("typecheck", time.Since(t0))
		checkCh <- checkResult{diags: diags, err: err}
	}()

	emit(StateBuilding, "compiling")
	last, err := compileLoop(observability.WithStage(ctx, "compile"), o, s, c, req, ws)
	if err != nil {
		// Join the checker before the deferred cleanups tear down the
		// provisioned source it may still be reading.
		cancelCheck()
		<-checkCh
		return fail(key, err)
	}

	emit(StateTypeChecking, "type checking")

	// An auxiliary build, when the strategy declares one, overlaps the
	// type-check join. Every exit below joins the goroutine first so
	// cleanup never races an in-flight write into the workspace.
	type auxResult struct {
		artifacts Artifacts
		err       error
	}
	auxCtx, cancelAux := context.WithCancel(ctx)
	defer cancelAux()
	var auxCh chan auxResult
	if aux, ok := any(s).(AuxiliaryBuilder[S]); ok {
		auxCh = make(chan auxResult, 1)
		go func() {
			a, err := aux.BuildAuxiliary(auxCtx, c, last, req)
			auxCh <- auxResult{artifacts: a, err: err}
		}()
	}
	var auxRes auxResult
	joinAux := func() {
		if auxCh != nil {
			auxRes = <-auxCh
			auxCh = nil
		}
	}

	check := <-checkCh
	if check.err != nil {
		cancelAux()
		joinAux()
		return fail(key, bberrors.TypeCheckerError(check.err))
	}
	if len(check.diags) > 0 {
		cancelAux()
		joinAux()
		out := fail(key, bberrors.TypeCheckFailed(len(check.diags)))
		out.TypeErrors = formatTypeErrors(check.diags)
		return out
	}

	joinAux()
	if auxRes.err != nil {
		return fail(key, bberrors.AuxiliaryBuildFailed(s.Kind(), auxRes.err))
	}
	auxArtifacts := auxRes.artifacts

	artifacts, err := s.ProcessResult(c, last, req)
	if err != nil {
		return fail(key, bberrors.Wrap(err, bberrors.CategoryCompile, bberrors.SeverityFatal, "process build result"))
	}
	if len(auxArtifacts) > 0 {
		if artifacts == nil {
			artifacts = Artifacts{}
		}
		if err := mergo.Merge(&artifacts, auxArtifacts, mergo.WithOverride); err != nil {
			return fail(key, bberrors.AuxiliaryBuildFailed(s.Kind(), err))
		}
	}

	stable, err := o.store.Promote(ws.BuildDir, key)
	if err != nil {
		return fail(key, bberrors.PromotionFailed(ws.BuildDir, err))
	}

	out := &Output{
		Success:     true,
		Kind:        s.Kind(),
		ArtifactKey: key,
		StableDir:   stable,
		Manifest:    man,
		Artifacts:   artifacts,
		CacheKey:    lockKey,
		BuildLog:    log.String(),
	}

	// Only successful outputs are cached; failures always re-execute.
	if data, err := json.Marshal(out); err == nil {
		if err := o.cache.Set(ctx, lockKey, string(data)); err != nil {
			observability.WarnContext(ctx, "Result cache write failed", logfields.Error(err))
		}
	}

	o.recorder.IncStageResult("build", metrics.ResultSuccess)
	observability.InfoContext(ctx, "Build complete",
		logfields.Commit(commit), logfields.Path(stable))
	emit(StateReady, "build complete")
	return out
}

// compileLoop runs up to MaxPasses backend invocations. The first pass
// failing is fatal; a later pass failing keeps the previous pass's output
// and stops with a warning.
func compileLoop[S any](ctx context.Context, o *Orchestrator, s Strategy[S], c *Context[S], req Request, ws Workspace) (*compiler.Result, error) {
	platform := s.PlatformConfig(req)
	var last *compiler.Result

	for pass := 1; pass <= MaxPasses; pass++ {
		c.Pass = pass
		c.LastResult = last
		passCtx := observability.WithPass(ctx, pass)

		entry := c.Manifest.Entry
		if prep, ok := any(s).(EntryPreparer[S]); ok {
			prepared, err := prep.PrepareEntry(c, req)
			if err != nil {
				return nil, bberrors.CompileFailed(pass, fmt.Errorf("prepare entry: %w", err))
			}
			entry = prepared
		}
		c.Entry = resolveEntry(c.ResolvedPath, entry)

		opts := compiler.Options{
			EntryPoints: []string{c.Entry},
			Outdir:      ws.BuildDir,
			Platform:    platform,
			Plugins:     s.Plugins(c, req),
			Externals:   s.Externals(c, req),
			BannerJS:    s.BannerJS(c, req),
			Sourcemap:   req.Sourcemap,
			NodePaths:   c.SideInfo.NodePaths,
			Extra:       s.ExtraOptions(c, req),
		}

		t0 := time.Now()
		result, err := o.backend.Compile(passCtx, opts)
		o.recorder.ObservePassDuration(s.Kind(), time.Since(t0), err == nil)

		if err != nil {
			if pass == 1 {
				return nil, bberrors.CompileFailed(pass, err)
			}
			// Later passes only refine the pass-1 output, so their
			// failure degrades rather than discards the build.
			c.Log.Logf("compile pass %d failed, keeping pass %d output: %v", pass, pass-1, err)
			observability.WarnContext(passCtx, "Compile pass failed, keeping previous output",
				logfields.Pass(pass), logfields.Error(err))
			o.recorder.IncStageResult("compile", metrics.ResultWarning)
			// The kept output is the previous pass's; Pass reflects that
			// for ProcessResult and the pass-count metric.
			c.Pass = pass - 1
			break
		}
		last = result

		reb, ok := any(s).(Rebuilder[S])
		if !ok || !reb.ShouldRebuild(c, last, req) {
			break
		}
		if pass == MaxPasses {
			c.Log.Logf("rebuild requested after pass %d but pass limit reached", pass)
			observability.WarnContext(passCtx, "Pass limit reached with rebuild pending",
				logfields.Pass(pass))
		}
	}

	o.recorder.ObserveCompilePasses(c.Pass)
	return last, nil
}

// probeCache checks the result cache for a trustworthy prior Output. A hit
// is trusted only when its commit matches the freshly resolved one and the
// stable artifact still exists on disk; anything else is a rebuild.
func (o *Orchestrator) probeCache(ctx context.Context, lockKey string, key artifact.Key) (*Output, bool) {
	if o.devBypass {
		o.recorder.IncCacheResult(metrics.CacheBypass)
		return nil, false
	}

	raw, found, err := o.cache.Get(ctx, lockKey, false)
	if err != nil {
		observability.WarnContext(ctx, "Result cache read failed", logfields.Error(err))
		o.recorder.IncCacheResult(metrics.CacheMiss)
		return nil, false
	}
	if !found {
		o.recorder.IncCacheResult(metrics.CacheMiss)
		return nil, false
	}

	var out Output
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		observability.WarnContext(ctx, "Unparsable result cache entry",
			logfields.CacheKey(lockKey), logfields.Error(err))
		o.recorder.IncCacheResult(metrics.CacheMiss)
		return nil, false
	}

	if out.ArtifactKey.Commit != key.Commit || !o.store.StableExists(out.ArtifactKey) {
		observability.DebugContext(ctx, "Stale result cache entry, rebuilding",
			logfields.CacheKey(lockKey))
		o.recorder.IncCacheResult(metrics.CacheStale)
		return nil, false
	}

	// The store owns the stable layout; serve its current path rather
	// than whatever path the entry was written with.
	out.StableDir = o.store.StablePath(out.ArtifactKey)
	o.recorder.IncCacheResult(metrics.CacheHit)
	return &out, true
}

// resolveEntry anchors a manifest-relative entry at the provisioned
// source; strategy-generated absolute entries pass through unchanged.
func resolveEntry(sourceDir, entry string) string {
	if filepath.IsAbs(entry) {
		return entry
	}
	return filepath.Join(sourceDir, filepath.FromSlash(entry))
}

func formatTypeErrors(diags []typecheck.Diagnostic) []string {
	out := make([]string, 0, min(len(diags), maxTypeErrors)+1)
	for i, d := range diags {
		if i == maxTypeErrors {
			out = append(out, fmt.Sprintf("+%d more", len(diags)-maxTypeErrors))
			break
		}
		out = append(out, d.String())
	}
	return out
}
