package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxforge/bundlebuild/internal/artifact"
	"github.com/uxforge/bundlebuild/internal/cache"
	"github.com/uxforge/bundlebuild/internal/compiler"
	bberrors "github.com/uxforge/bundlebuild/internal/errors"
	"github.com/uxforge/bundlebuild/internal/installer"
	"github.com/uxforge/bundlebuild/internal/manifest"
	"github.com/uxforge/bundlebuild/internal/metrics"
	"github.com/uxforge/bundlebuild/internal/typecheck"
)

const testManifestYAML = `name: widget
entry: src/index.ts
dependencies:
  left-pad: "^1.0.0"
`

const testCommit = "aaaabbbbccccddddeeeeffff0000111122223333"

// --- fakes ---

type fakeProvisioner struct {
	commit       string
	resolveErr   error
	provisionErr error
	cleanups     atomic.Int32
}

func (p *fakeProvisioner) ResolveCommit(_ context.Context, _, _, _ string) (string, error) {
	if p.resolveErr != nil {
		return "", p.resolveErr
	}
	return p.commit, nil
}

func (p *fakeProvisioner) Provision(_ context.Context, _, _, _ string, onProgress func(string)) (Source, error) {
	if p.provisionErr != nil {
		return Source{}, p.provisionErr
	}
	if onProgress != nil {
		onProgress("checked out " + p.commit)
	}
	return Source{
		Path:    "/provisioned/src",
		Commit:  p.commit,
		Cleanup: func() error { p.cleanups.Add(1); return nil },
	}, nil
}

type fakeStore struct {
	mu         sync.Mutex
	stable     map[string]bool
	cleanups   atomic.Int32
	promoteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{stable: make(map[string]bool)}
}

func (s *fakeStore) StablePath(key artifact.Key) string {
	return "/stable/" + key.String()
}

func (s *fakeStore) StableExists(key artifact.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stable[key.String()]
}

func (s *fakeStore) markStable(key artifact.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stable[key.String()] = true
}

func (s *fakeStore) CreateWorkspace(artifact.Key) (Workspace, error) {
	return Workspace{
		BuildDir:       "/ws/build",
		DepsDir:        "/ws/deps",
		NodeModulesDir: "/ws/deps/node_modules",
		Cleanup:        func() error { s.cleanups.Add(1); return nil },
	}, nil
}

func (s *fakeStore) Promote(_ string, key artifact.Key) (string, error) {
	if s.promoteErr != nil {
		return "", s.promoteErr
	}
	s.markStable(key)
	return s.StablePath(key), nil
}

type memCache struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemCache() *memCache {
	return &memCache{m: make(map[string]string)}
}

func (c *memCache) Get(_ context.Context, key string, bypass bool) (string, bool, error) {
	if bypass {
		return "", false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *memCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

type fakeManifests struct {
	raw string
	err error
}

func (f fakeManifests) Load(string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte(f.raw), "bundle.yaml", nil
}

type fakeInstaller struct {
	mu        sync.Mutex
	calls     atomic.Int32
	err       error
	hash      string
	prevHash  string
	sideInfos installer.SideInfo
}

func (i *fakeInstaller) Install(_ context.Context, req installer.Request) (*installer.Result, error) {
	i.calls.Add(1)
	i.mu.Lock()
	i.prevHash = req.PreviousHash
	i.mu.Unlock()
	if i.err != nil {
		return nil, i.err
	}
	return &installer.Result{Hash: i.hash, SideInfo: i.sideInfos}, nil
}

func (i *fakeInstaller) lastPrevHash() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.prevHash
}

type fakeBackend struct {
	calls     atomic.Int32
	failOn    map[int]error
	panicOn   int
	onCompile func()
}

func (b *fakeBackend) Compile(_ context.Context, opts compiler.Options) (*compiler.Result, error) {
	n := int(b.calls.Add(1))
	if b.onCompile != nil {
		b.onCompile()
	}
	if b.panicOn == n {
		panic("backend exploded")
	}
	if err := b.failOn[n]; err != nil {
		return nil, err
	}
	return &compiler.Result{
		Metafile: fmt.Sprintf(`{"pass":%d}`, n),
		Outputs:  []compiler.OutputFile{{Path: "bundle.js", Bytes: int64(n)}},
	}, nil
}

type fakeChecker struct {
	calls    atomic.Int32
	diags    []typecheck.Diagnostic
	err      error
	block    bool
	finished atomic.Bool
}

func (c *fakeChecker) Check(ctx context.Context, _ typecheck.Params) ([]typecheck.Diagnostic, error) {
	c.calls.Add(1)
	defer c.finished.Store(true)
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.diags, c.err
}

type countRecorder struct {
	metrics.NoopRecorder
	mu           sync.Mutex
	coalesced    atomic.Int32
	cacheResults map[metrics.CacheResultLabel]int
	passes       []int
	stageResults []string
}

func newCountRecorder() *countRecorder {
	return &countRecorder{cacheResults: make(map[metrics.CacheResultLabel]int)}
}

func (r *countRecorder) IncCoalesced() { r.coalesced.Add(1) }

func (r *countRecorder) IncStageResult(stage string, result metrics.ResultLabel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageResults = append(r.stageResults, stage+":"+string(result))
}

func (r *countRecorder) stageResult(stage string, result metrics.ResultLabel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sr := range r.stageResults {
		if sr == stage+":"+string(result) {
			n++
		}
	}
	return n
}

func (r *countRecorder) IncCacheResult(result metrics.CacheResultLabel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheResults[result]++
}

func (r *countRecorder) ObserveCompilePasses(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, n)
}

func (r *countRecorder) cacheResult(result metrics.CacheResultLabel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cacheResults[result]
}

// --- strategies ---

type testState struct{}

type testStrategy struct{}

func (testStrategy) Kind() string { return "widget" }

func (testStrategy) OptionsSuffix(req Request) string { return req.OptionsFingerprint() }

func (testStrategy) ValidateManifest(raw []byte, path string) (*manifest.Manifest, error) {
	m, err := manifest.Decode(raw)
	if err != nil {
		return nil, err
	}
	if m.Entry == "" {
		return nil, bberrors.ManifestInvalid(path, "entry is required")
	}
	return m, nil
}

func (testStrategy) MergeDependencies(m *manifest.Manifest) map[string]string {
	return m.Dependencies
}

func (testStrategy) PlatformConfig(Request) compiler.PlatformConfig {
	return compiler.PlatformConfig{Platform: "browser", Format: "iife"}
}

func (testStrategy) Plugins(*Context[testState], Request) []compiler.Plugin { return nil }

func (testStrategy) Externals(*Context[testState], Request) []string { return nil }

func (testStrategy) BannerJS(*Context[testState], Request) string { return "" }

func (testStrategy) ExtraOptions(*Context[testState], Request) map[string]any { return nil }

func (testStrategy) SupportsShims(Request) bool { return false }

func (testStrategy) ProcessResult(c *Context[testState], res *compiler.Result, _ Request) (Artifacts, error) {
	return Artifacts{"entry": c.Entry, "files": len(res.Outputs)}, nil
}

type rebuildStrategy struct {
	testStrategy
	rebuildUntil int
}

func (s rebuildStrategy) ShouldRebuild(c *Context[testState], _ *compiler.Result, _ Request) bool {
	return c.Pass < s.rebuildUntil
}

type auxStrategy struct {
	testStrategy
	artifacts Artifacts
	err       error
}

func (s auxStrategy) BuildAuxiliary(context.Context, *Context[testState], *compiler.Result, Request) (Artifacts, error) {
	return s.artifacts, s.err
}

type blockingAuxStrategy struct {
	testStrategy
	release  chan struct{}
	finished atomic.Bool
}

func (s *blockingAuxStrategy) BuildAuxiliary(ctx context.Context, _ *Context[testState], _ *compiler.Result, _ Request) (Artifacts, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	s.finished.Store(true)
	return nil, ctx.Err()
}

// --- rig ---

type rig struct {
	provisioner *fakeProvisioner
	store       *fakeStore
	cache       *memCache
	installer   *fakeInstaller
	backend     *fakeBackend
	checker     *fakeChecker
	recorder    *countRecorder
	opts        Options
}

func newRig() *rig {
	r := &rig{
		provisioner: &fakeProvisioner{commit: testCommit},
		store:       newFakeStore(),
		cache:       newMemCache(),
		installer:   &fakeInstaller{hash: "deps-hash-1"},
		backend:     &fakeBackend{},
		checker:     &fakeChecker{},
		recorder:    newCountRecorder(),
	}
	r.opts = Options{
		Cache:       r.cache,
		Store:       r.store,
		Provisioner: r.provisioner,
		Manifests:   fakeManifests{raw: testManifestYAML},
		Installer:   r.installer,
		Backend:     r.backend,
		Checker:     r.checker,
		Recorder:    r.recorder,
	}
	return r
}

func testRequest() Request {
	return Request{
		WorkspaceRoot: "/workspace",
		SourcePath:    "widgets/alpha",
		Sourcemap:     true,
	}
}

// --- tests ---

func TestRunSuccess(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.True(t, out.Success, "build should succeed: %s", out.Error)
	assert.Equal(t, "widget", out.Kind)
	assert.Equal(t, testCommit, out.ArtifactKey.Commit)
	assert.Equal(t, "widgets/alpha", out.ArtifactKey.CanonicalPath)
	assert.NotEmpty(t, out.StableDir)
	assert.Equal(t, 1, out.Artifacts["files"])

	// Success lands in the result cache.
	raw, ok := r.cache.get(out.CacheKey)
	require.True(t, ok)
	var cached Output
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, out.ArtifactKey, cached.ArtifactKey)

	// Deps fingerprint lands in the side cache.
	hash, ok := r.cache.get(cache.DepsKey("widgets/alpha", testCommit))
	require.True(t, ok)
	assert.Equal(t, "deps-hash-1", hash)

	assert.Equal(t, int32(1), r.provisioner.cleanups.Load())
	assert.Equal(t, int32(1), r.store.cleanups.Load())
	assert.Equal(t, int32(1), r.checker.calls.Load())
	assert.Equal(t, 1, r.recorder.stageResult("build", metrics.ResultSuccess))
}

func TestRunCoalescesIdenticalRequests(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	entered := make(chan struct{})
	release := make(chan struct{})
	r.backend.onCompile = func() {
		close(entered)
		<-release
	}

	const callers = 5
	outputs := make([]*Output, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs[i] = Run[testState](context.Background(), o, testStrategy{}, testRequest())
		}(i)
	}

	<-entered
	// Give the remaining callers time to queue on the lock key.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), r.backend.calls.Load(), "only one execution should run")
	assert.Equal(t, int32(1), r.installer.calls.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, outputs[0], outputs[i], "coalesced callers share the executor's output")
	}
	assert.Equal(t, int32(callers-1), r.recorder.coalesced.Load())
}

func TestDistinctOptionsDoNotCoalesce(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	reqA := testRequest()
	reqB := testRequest()
	reqB.Options = map[string]string{"minify": "true"}

	outA := Run[testState](context.Background(), o, testStrategy{}, reqA)
	outB := Run[testState](context.Background(), o, testStrategy{}, reqB)

	require.True(t, outA.Success)
	require.True(t, outB.Success)
	assert.NotEqual(t, outA.CacheKey, outB.CacheKey)
	assert.Equal(t, int32(2), r.backend.calls.Load())
}

func TestCacheHitRequiresStableArtifact(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	// First build populates cache and stable storage.
	first := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.True(t, first.Success)
	require.Equal(t, int32(1), r.backend.calls.Load())

	// Second build is served from cache without touching the backend.
	second := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.True(t, second.Success)
	assert.Equal(t, int32(1), r.backend.calls.Load())
	assert.Equal(t, 1, r.recorder.cacheResult(metrics.CacheHit))

	// Losing the stable artifact invalidates the cache entry.
	r.store.mu.Lock()
	r.store.stable = make(map[string]bool)
	r.store.mu.Unlock()

	third := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.True(t, third.Success)
	assert.Equal(t, int32(2), r.backend.calls.Load(), "stale entry must rebuild")
	assert.Equal(t, 1, r.recorder.cacheResult(metrics.CacheStale))
}

func TestCacheHitServesStorePath(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	first := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.True(t, first.Success)

	// Rewrite the cached entry with a stale stable path, as after a
	// store relocation.
	raw, ok := r.cache.get(first.CacheKey)
	require.True(t, ok)
	var entry Output
	require.NoError(t, json.Unmarshal([]byte(raw), &entry))
	entry.StableDir = "/old/layout/" + entry.ArtifactKey.String()
	mutated, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, r.cache.Set(context.Background(), first.CacheKey, string(mutated)))

	second := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.True(t, second.Success)
	assert.Equal(t, int32(1), r.backend.calls.Load(), "served from cache")
	assert.Equal(t, r.store.StablePath(first.ArtifactKey), second.StableDir,
		"a hit reports the store's current stable path")
}

func TestCacheEntryForOldCommitIsStale(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	first := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.True(t, first.Success)

	// The workspace moved on; the cached entry points at the old commit.
	r.provisioner.commit = "9999888877776666555544443333222211110000"

	second := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.True(t, second.Success)
	assert.Equal(t, int32(2), r.backend.calls.Load())
	assert.Equal(t, 1, r.recorder.cacheResult(metrics.CacheStale))
	assert.Equal(t, r.provisioner.commit, second.ArtifactKey.Commit)
}

func TestUnparsableCacheEntryIsMiss(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	req := testRequest()
	lockKey := lockKeyFor("widget", req, req.OptionsFingerprint())
	require.NoError(t, r.cache.Set(context.Background(), lockKey, "{not json"))

	out := Run[testState](context.Background(), o, testStrategy{}, req)
	require.True(t, out.Success)
	assert.Equal(t, int32(1), r.backend.calls.Load())
}

func TestDevBypassSkipsReadsButStillWrites(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	first := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.True(t, first.Success)

	r.opts.DevBypass = true
	bypassed := New(r.opts)

	second := Run[testState](context.Background(), bypassed, testStrategy{}, testRequest())
	require.True(t, second.Success)
	assert.Equal(t, int32(2), r.backend.calls.Load(), "bypass must re-execute despite valid cache entry")
	assert.Equal(t, 1, r.recorder.cacheResult(metrics.CacheBypass))

	// The write side is unaffected: the cache still holds a fresh entry.
	_, ok := r.cache.get(second.CacheKey)
	assert.True(t, ok)
}

func TestFirstPassFailureIsFatal(t *testing.T) {
	r := newRig()
	r.backend.failOn = map[int]error{1: errors.New("syntax error in index.ts")}
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryCompile, out.ErrorCategory)
	assert.Contains(t, out.Error, "syntax error")

	// Nothing promoted, nothing cached, everything cleaned up.
	_, ok := r.cache.get(out.CacheKey)
	assert.False(t, ok, "failures are never cached")
	assert.Equal(t, int32(1), r.provisioner.cleanups.Load())
	assert.Equal(t, int32(1), r.store.cleanups.Load())
	assert.Equal(t, 1, r.recorder.stageResult("build", metrics.ResultFatal))
}

func TestCompileFailureAwaitsChecker(t *testing.T) {
	r := newRig()
	r.backend.failOn = map[int]error{1: errors.New("syntax error")}
	r.checker.block = true
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryCompile, out.ErrorCategory)
	assert.True(t, r.checker.finished.Load(),
		"checker must be joined before the provisioned source is cleaned up")
	assert.Equal(t, int32(1), r.provisioner.cleanups.Load())
	assert.Equal(t, int32(1), r.store.cleanups.Load())
}

func TestTypecheckFailureAwaitsAuxiliaryBuild(t *testing.T) {
	r := newRig()
	r.checker.diags = []typecheck.Diagnostic{{
		File: "src/index.ts", Line: 1, Column: 1,
		Code: "TS2304", Message: "cannot find name 'foo'",
	}}
	o := New(r.opts)
	s := &blockingAuxStrategy{release: make(chan struct{})}

	out := Run[testState](context.Background(), o, s, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryTypeCheck, out.ErrorCategory)
	assert.True(t, s.finished.Load(),
		"auxiliary build must be joined before the workspace is cleaned up")
	assert.Equal(t, int32(1), r.store.cleanups.Load())
}

func TestLaterPassFailureKeepsPreviousOutput(t *testing.T) {
	r := newRig()
	r.backend.failOn = map[int]error{2: errors.New("plugin crashed")}
	o := New(r.opts)

	out := Run[testState](context.Background(), o, rebuildStrategy{rebuildUntil: 3}, testRequest())

	require.True(t, out.Success, "pass 2 failure degrades, it does not fail the build: %s", out.Error)
	assert.Equal(t, int32(2), r.backend.calls.Load())
	assert.Contains(t, out.BuildLog, "keeping pass 1 output")
	assert.Equal(t, 1, r.recorder.stageResult("compile", metrics.ResultWarning))

	// The pass-count metric reports the pass whose output was kept.
	require.Len(t, r.recorder.passes, 1)
	assert.Equal(t, 1, r.recorder.passes[0])
}

func TestCompileLoopStopsAtPassLimit(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	out := Run[testState](context.Background(), o, rebuildStrategy{rebuildUntil: 100}, testRequest())

	require.True(t, out.Success)
	assert.Equal(t, int32(MaxPasses), r.backend.calls.Load())
	assert.Contains(t, out.BuildLog, "pass limit reached")
	require.Len(t, r.recorder.passes, 1)
	assert.Equal(t, MaxPasses, r.recorder.passes[0])
}

func TestTypeErrorsTruncated(t *testing.T) {
	r := newRig()
	for i := 0; i < 45; i++ {
		r.checker.diags = append(r.checker.diags, typecheck.Diagnostic{
			File: "src/index.ts", Line: i + 1, Column: 1,
			Code: "TS2322", Message: fmt.Sprintf("type mismatch %d", i),
		})
	}
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryTypeCheck, out.ErrorCategory)
	require.Len(t, out.TypeErrors, maxTypeErrors+1)
	assert.Equal(t, "+5 more", out.TypeErrors[maxTypeErrors])
	assert.Contains(t, out.TypeErrors[0], "TS2322")
}

func TestCheckerRunFailureIsFatal(t *testing.T) {
	r := newRig()
	r.checker.err = errors.New("tsc binary not found")
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryTypeCheck, out.ErrorCategory)
	assert.Empty(t, out.TypeErrors)
}

func TestAuxiliaryArtifactsMergeWithOverride(t *testing.T) {
	r := newRig()
	o := New(r.opts)
	s := auxStrategy{artifacts: Artifacts{"assets": map[string]any{"logo.svg": "sha-1"}, "files": 9}}

	out := Run[testState](context.Background(), o, s, testRequest())

	require.True(t, out.Success, out.Error)
	assert.Equal(t, map[string]any{"logo.svg": "sha-1"}, out.Artifacts["assets"])
	// Scalar conflicts resolve in the auxiliary build's favor.
	assert.Equal(t, 9, out.Artifacts["files"])
}

func TestAuxiliaryBuildFailureIsFatal(t *testing.T) {
	r := newRig()
	o := New(r.opts)
	s := auxStrategy{err: errors.New("asset pipeline broke")}

	out := Run[testState](context.Background(), o, s, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryCompile, out.ErrorCategory)
	assert.Equal(t, int32(1), r.provisioner.cleanups.Load())
	assert.Equal(t, int32(1), r.store.cleanups.Load())
}

func TestDepsFingerprintSurvivesCompileFailure(t *testing.T) {
	r := newRig()
	r.backend.failOn = map[int]error{1: errors.New("nope")}
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.False(t, out.Success)

	hash, ok := r.cache.get(cache.DepsKey("widgets/alpha", testCommit))
	require.True(t, ok, "fingerprint is written before the compile stage")
	assert.Equal(t, "deps-hash-1", hash)
}

func TestInstallerReceivesPreviousFingerprint(t *testing.T) {
	r := newRig()
	require.NoError(t, r.cache.Set(context.Background(),
		cache.DepsKey("widgets/alpha", testCommit), "prior-hash"))
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())
	require.True(t, out.Success)
	assert.Equal(t, "prior-hash", r.installer.lastPrevHash())
}

func TestInstallFailure(t *testing.T) {
	r := newRig()
	r.installer.err = errors.New("registry unreachable")
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryInstall, out.ErrorCategory)
	assert.Equal(t, int32(0), r.backend.calls.Load())
	assert.Equal(t, int32(1), r.provisioner.cleanups.Load())
	assert.Equal(t, int32(1), r.store.cleanups.Load())
}

func TestManifestValidationFailure(t *testing.T) {
	r := newRig()
	r.opts.Manifests = fakeManifests{raw: "name: widget\n"} // no entry
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryManifest, out.ErrorCategory)
	assert.Equal(t, int32(0), r.installer.calls.Load())
}

func TestCommitResolutionFailure(t *testing.T) {
	r := newRig()
	r.provisioner.resolveErr = errors.New("unknown revision")
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryProvision, out.ErrorCategory)
	assert.Equal(t, int32(0), r.provisioner.cleanups.Load(), "nothing was provisioned")
}

func TestPromotionFailure(t *testing.T) {
	r := newRig()
	r.store.promoteErr = errors.New("rename: cross-device link")
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryPromotion, out.ErrorCategory)
	_, ok := r.cache.get(out.CacheKey)
	assert.False(t, ok)
}

func TestPanicBecomesUnknownFailure(t *testing.T) {
	r := newRig()
	r.backend.panicOn = 1
	o := New(r.opts)

	out := Run[testState](context.Background(), o, testStrategy{}, testRequest())

	require.False(t, out.Success)
	assert.Equal(t, bberrors.CategoryUnknown, out.ErrorCategory)
	assert.Contains(t, out.Error, "panic")
	assert.Contains(t, out.BuildLog, "checked out", "the output carries the log up to the panic")
	assert.Equal(t, int32(1), r.provisioner.cleanups.Load(), "deferred cleanups run before recovery")
	assert.Equal(t, int32(1), r.store.cleanups.Load())
}

func TestProgressStateSequence(t *testing.T) {
	r := newRig()
	o := New(r.opts)

	var mu sync.Mutex
	var states []State
	req := testRequest()
	req.OnProgress = func(e Event) {
		mu.Lock()
		states = append(states, e.State)
		mu.Unlock()
	}

	out := Run[testState](context.Background(), o, testStrategy{}, req)
	require.True(t, out.Success)

	assert.Equal(t, []State{
		StateProvisioning,
		StateInstalling,
		StateBuilding,
		StateTypeChecking,
		StateReady,
	}, states)
}

func TestProgressEndsInErrorOnFailure(t *testing.T) {
	r := newRig()
	r.backend.failOn = map[int]error{1: errors.New("boom")}
	o := New(r.opts)

	var states []State
	req := testRequest()
	req.OnProgress = func(e Event) { states = append(states, e.State) }

	out := Run[testState](context.Background(), o, testStrategy{}, req)
	require.False(t, out.Success)
	require.NotEmpty(t, states)
	assert.Equal(t, StateError, states[len(states)-1])
}
