package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("udonasm.manifest")

// ResolvedDep represents a dependency that has been resolved to a local path.
type ResolvedDep struct {
	Name      string    // dependency name
	LocalPath string    // local filesystem path
	Namespace string    // prefix applied when linking
	Artifact  string    // absolute path of the program file to link
	Manifest  *Manifest // the dependency's own manifest (may be nil)

	dep Dependency
}

// Resolver manages dependency resolution.
type Resolver struct {
	manifest *Manifest
	lock     *LockFile
}

// NewResolver creates a new dependency resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve resolves all dependencies and returns them in link order:
// transitive dependencies before their dependents, siblings by name.
func (r *Resolver) Resolve() ([]ResolvedDep, error) {
	lock, err := ReadLock(r.manifest.LockFilePath())
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	r.lock = lock

	if len(r.manifest.Dependencies) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(r.manifest.DepsDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating deps dir: %w", err)
	}

	resolved := make(map[string]*ResolvedDep)
	order, err := r.resolveAll(r.manifest.Dir, r.manifest.Dependencies, resolved)
	if err != nil {
		return nil, err
	}

	namespaces := make(map[string]string)
	for _, rd := range order {
		if other, ok := namespaces[rd.Namespace]; ok {
			return nil, fmt.Errorf("dependencies %q and %q both resolve to namespace %q; add namespace = \"...\" to one of them", other, rd.Name, rd.Namespace)
		}
		namespaces[rd.Namespace] = rd.Name
	}

	if err := r.writeLock(order); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	return order, nil
}

func (r *Resolver) resolveAll(base string, deps map[string]Dependency, resolved map[string]*ResolvedDep) ([]ResolvedDep, error) {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	var order []ResolvedDep
	for _, name := range names {
		if _, ok := resolved[name]; ok {
			continue
		}

		rd, err := r.resolveOne(base, name, deps[name])
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		resolved[name] = rd

		if rd.Manifest != nil && len(rd.Manifest.Dependencies) > 0 {
			transitive, err := r.resolveAll(rd.LocalPath, rd.Manifest.Dependencies, resolved)
			if err != nil {
				return nil, err
			}
			order = append(order, transitive...)
		}

		order = append(order, *rd)
	}

	return order, nil
}

// resolveNamespace determines the effective namespace for a dependency:
//  1. Consumer override (dep.Namespace)
//  2. Producer manifest (depManifest.Project.Namespace)
//  3. PascalCase of the dependency name
func resolveNamespace(name string, dep Dependency, depManifest *Manifest) (string, error) {
	var ns string
	switch {
	case dep.Namespace != "":
		ns = dep.Namespace
	case depManifest != nil && depManifest.Project.Namespace != "":
		ns = depManifest.Project.Namespace
	default:
		ns = ToPascalCase(name)
	}

	if err := ValidateNamespace(ns); err != nil {
		return "", fmt.Errorf("dependency %q: %w; add namespace = \"...\" override in [dependencies]", name, err)
	}
	return ns, nil
}

// resolveArtifact picks the program file a dependency contributes.
func resolveArtifact(root string, dep Dependency, depManifest *Manifest) (string, error) {
	var p string
	switch {
	case dep.Artifact != "":
		p = dep.Artifact
	case depManifest != nil && depManifest.Output.Image != "":
		p = depManifest.Output.Image
	case depManifest != nil:
		p = depManifest.Output.Path
	default:
		return "", fmt.Errorf("no artifact = \"...\" given and no %s found in %s", FileName, root)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("artifact not found: %w", err)
	}
	return p, nil
}

func (r *Resolver) resolveOne(base, name string, dep Dependency) (*ResolvedDep, error) {
	var localPath string

	switch {
	case dep.Path != "":
		localPath = dep.Path
		if !filepath.IsAbs(localPath) {
			localPath = filepath.Join(base, localPath)
		}
		abs, err := filepath.Abs(localPath)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", dep.Path, err)
		}
		localPath = abs
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("local dependency %q not found at %s: %w", name, localPath, err)
		}

	case dep.Git != "":
		localPath = filepath.Join(r.manifest.DepsDir(), name)
		if err := r.syncGit(name, dep, localPath); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("dependency %q has no git or path specified", name)
	}

	var depManifest *Manifest
	if _, err := os.Stat(filepath.Join(localPath, FileName)); err == nil {
		m, err := Load(localPath)
		if err != nil {
			return nil, err
		}
		depManifest = m
	}

	ns, err := resolveNamespace(name, dep, depManifest)
	if err != nil {
		return nil, err
	}
	artifact, err := resolveArtifact(localPath, dep, depManifest)
	if err != nil {
		return nil, err
	}

	log.Debugf("resolved %s -> %s (namespace %s)", name, artifact, ns)
	return &ResolvedDep{
		Name:      name,
		LocalPath: localPath,
		Namespace: ns,
		Artifact:  artifact,
		Manifest:  depManifest,
		dep:       dep,
	}, nil
}

// syncGit brings a git dependency to the requested tag, or to the commit
// recorded in the lock file when the tag has not changed.
func (r *Resolver) syncGit(name string, dep Dependency, dir string) error {
	locked := r.lock.FindLockedDep(name)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Infof("cloning %s from %s", name, dep.Git)
		if err := gitClone(dep.Git, dir); err != nil {
			return err
		}
	} else if locked == nil || locked.Tag != dep.Tag || locked.Git != dep.Git {
		log.Infof("fetching %s", name)
		if err := gitFetch(dir); err != nil {
			return err
		}
	}

	ref := dep.Tag
	if locked != nil && locked.Tag == dep.Tag && locked.Git == dep.Git && locked.Commit != "" {
		ref = locked.Commit
	}
	if ref != "" {
		if err := gitCheckout(dir, ref); err != nil {
			return err
		}
	}

	if clean, err := gitIsClean(dir); err == nil && !clean {
		log.Warningf("dependency %s has local modifications in %s", name, dir)
	}
	return nil
}

func (r *Resolver) writeLock(order []ResolvedDep) error {
	lf := &LockFile{}
	for _, rd := range order {
		ld := LockedDep{
			Name:      rd.Name,
			Namespace: rd.Namespace,
		}
		if rel, err := filepath.Rel(rd.LocalPath, rd.Artifact); err == nil {
			ld.Artifact = filepath.ToSlash(rel)
		}
		if rd.dep.Git != "" {
			ld.Git = rd.dep.Git
			ld.Tag = rd.dep.Tag
			if commit, err := gitCurrentCommit(rd.LocalPath); err == nil {
				ld.Commit = commit
			}
		} else {
			ld.Path = rd.dep.Path
		}
		lf.Deps = append(lf.Deps, ld)
	}
	lf.sort()

	if err := os.MkdirAll(filepath.Dir(r.manifest.LockFilePath()), 0755); err != nil {
		return err
	}
	return WriteLock(r.manifest.LockFilePath(), lf)
}
