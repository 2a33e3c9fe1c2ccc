package build

import (
	"context"

	"github.com/uxforge/bundlebuild/internal/artifact"
	"github.com/uxforge/bundlebuild/internal/manifest"
	"github.com/uxforge/bundlebuild/internal/provision"
)

type provisionerAdapter struct {
	svc *provision.Service
}

// ProvisionerFromService wraps the git-backed provisioning service.
func ProvisionerFromService(svc *provision.Service) Provisioner {
	return provisionerAdapter{svc: svc}
}

func (a provisionerAdapter) ResolveCommit(ctx context.Context, root, sourcePath, version string) (string, error) {
	return a.svc.ResolveCommit(ctx, root, sourcePath, version)
}

func (a provisionerAdapter) Provision(ctx context.Context, root, sourcePath, version string, onProgress func(string)) (Source, error) {
	p, err := a.svc.Provision(ctx, root, sourcePath, version, onProgress)
	if err != nil {
		return Source{}, err
	}
	return Source{Path: p.Path, Commit: p.Commit, Cleanup: p.Cleanup}, nil
}

type storeAdapter struct {
	fs *artifact.FSStore
}

// StoreFromFS wraps the filesystem artifact store.
func StoreFromFS(fs *artifact.FSStore) ArtifactStore {
	return storeAdapter{fs: fs}
}

func (a storeAdapter) StablePath(key artifact.Key) string {
	return a.fs.StablePath(key)
}

func (a storeAdapter) StableExists(key artifact.Key) bool {
	return a.fs.StableExists(key)
}

func (a storeAdapter) CreateWorkspace(key artifact.Key) (Workspace, error) {
	ws, err := a.fs.CreateWorkspace(key)
	if err != nil {
		return Workspace{}, err
	}
	return Workspace{
		BuildDir:       ws.BuildDir,
		DepsDir:        ws.DepsDir,
		NodeModulesDir: ws.NodeModulesDir,
		Cleanup:        ws.Cleanup,
	}, nil
}

func (a storeAdapter) Promote(buildDir string, key artifact.Key) (string, error) {
	return a.fs.Promote(buildDir, key)
}

// DefaultManifestLoader probes the standard manifest filenames.
type DefaultManifestLoader struct{}

func (DefaultManifestLoader) Load(dir string) ([]byte, string, error) {
	return manifest.Load(dir)
}
