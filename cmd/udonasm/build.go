package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/manifest"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/assembly"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/image"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/link"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/registry"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/store"
)

// cacheFormat is mixed into every cache key; bump it when output for the
// same inputs changes.
const cacheFormat = "udonasm/1"

// input is one program file and the namespace it links under.
type input struct {
	Path      string
	Namespace string
}

// buildOptions is everything a build depends on.
type buildOptions struct {
	Name         string
	Host         input
	Libraries    []input
	RegistryFile string
	Conventions  []manifest.Convention
	UpdateOrder  int // negative keeps the host program's
	Optimize     bool
	OutputPath   string
	ImagePath    string
	CachePath    string // empty disables the cache
}

// buildResult is what a build produced.
type buildResult struct {
	Text        string
	Image       []byte
	Cached      bool
	BuildID     string
	Diagnostics []assembly.Diagnostic
	Threaded    int
}

// optionsFromManifest derives build options from a project manifest and
// its resolved dependencies.
func optionsFromManifest(m *manifest.Manifest, deps []manifest.ResolvedDep) (*buildOptions, error) {
	opts := &buildOptions{
		Name:         m.Project.Name,
		Host:         input{Path: m.EntryPath()},
		RegistryFile: m.RegistryPath(),
		Conventions:  m.Conventions,
		UpdateOrder:  -1,
		Optimize:     m.Optimize(),
		OutputPath:   m.OutputPath(),
		ImagePath:    m.ImagePath(),
	}
	if m.Output.UpdateOrder != nil {
		opts.UpdateOrder = *m.Output.UpdateOrder
	}
	if !m.Cache.Disabled {
		opts.CachePath = m.CachePath()
	}
	if opts.Name == "" {
		opts.Name = baseName(opts.Host.Path)
	}

	for _, d := range deps {
		opts.Libraries = append(opts.Libraries, input{Path: d.Artifact, Namespace: d.Namespace})
	}

	libs, err := m.LibraryPaths()
	if err != nil {
		return nil, err
	}
	for _, p := range libs {
		ns := manifest.LibraryNamespace(p)
		if err := manifest.ValidateNamespace(ns); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		opts.Libraries = append(opts.Libraries, input{Path: p, Namespace: ns})
	}
	return opts, nil
}

// optionsFromArgs builds options for a manifest-less invocation: the first
// path is the host, the rest are libraries namespaced by file name.
func optionsFromArgs(paths []string) (*buildOptions, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input files")
	}
	opts := &buildOptions{
		Name:        baseName(paths[0]),
		Host:        input{Path: paths[0]},
		UpdateOrder: -1,
		Optimize:    true,
		OutputPath:  strings.TrimSuffix(paths[0], filepath.Ext(paths[0])) + ".out.uasm",
	}
	for _, p := range paths[1:] {
		ns := manifest.LibraryNamespace(p)
		if err := manifest.ValidateNamespace(ns); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		opts.Libraries = append(opts.Libraries, input{Path: p, Namespace: ns})
	}
	return opts, nil
}

func baseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

// loadProgram reads a program from assembly text or an image, picking the
// reader by content.
func loadProgram(data []byte, path string, reg *registry.Registry) (*assembly.Program, error) {
	if image.IsImage(data) {
		img, err := image.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return img.Program(reg)
	}
	d, err := assembly.ReadText(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p, err := assembly.Rebuild(d, reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func newLinker(opts *buildOptions) (*link.Linker, error) {
	var extra []link.ConventionDetector
	for _, c := range opts.Conventions {
		kind, err := link.ParseConvention(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("convention %s: %w", c.Name, err)
		}
		extra = append(extra, link.AnchorDetector{Label: c.Name, Anchors: c.Anchors, Convention: kind})
	}
	l := link.New(extra...)
	l.Optimize = opts.Optimize
	return l, nil
}

// cacheKey hashes every input file together with the options that shape
// the output.
func cacheKey(opts *buildOptions, files map[string][]byte) store.Hash {
	parts := [][]byte{
		[]byte(cacheFormat),
		[]byte(opts.Name),
		[]byte(strconv.Itoa(opts.UpdateOrder)),
		[]byte(strconv.FormatBool(opts.Optimize)),
		[]byte(strconv.FormatBool(opts.ImagePath != "")),
		files[opts.RegistryFile],
		files[opts.Host.Path],
	}
	for _, c := range opts.Conventions {
		parts = append(parts, []byte(c.Name+"="+c.Kind+":"+strings.Join(c.Anchors, ",")))
	}
	for _, lib := range opts.Libraries {
		parts = append(parts, []byte(lib.Namespace), files[lib.Path])
	}
	return store.Key(parts...)
}

func readInputs(opts *buildOptions) (map[string][]byte, error) {
	files := make(map[string][]byte)
	paths := []string{opts.Host.Path}
	if opts.RegistryFile != "" {
		paths = append(paths, opts.RegistryFile)
	}
	for _, lib := range opts.Libraries {
		paths = append(paths, lib.Path)
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		files[p] = data
	}
	return files, nil
}

// build links and assembles the inputs, consulting the cache first.
func build(opts *buildOptions) (*buildResult, error) {
	files, err := readInputs(opts)
	if err != nil {
		return nil, err
	}

	var cache *store.Store
	var key store.Hash
	if opts.CachePath != "" {
		cache, err = store.Open(opts.CachePath)
		if err != nil {
			log.Warningf("cache unavailable: %v", err)
		} else {
			defer cache.Close()
			key = cacheKey(opts, files)
			if a, err := cache.Lookup(key); err == nil {
				log.Infof("cache hit %s (build %s)", key, a.BuildID)
				return &buildResult{Text: a.Text, Image: a.Image, Cached: true, BuildID: a.BuildID}, nil
			} else if !errors.Is(err, store.ErrNotFound) {
				log.Warningf("cache lookup: %v", err)
			}
		}
	}

	reg := registry.Default()
	if opts.RegistryFile != "" {
		if err := reg.LoadFile(opts.RegistryFile); err != nil {
			return nil, err
		}
	}

	host, err := loadProgram(files[opts.Host.Path], opts.Host.Path, reg)
	if err != nil {
		return nil, err
	}
	var libs []link.Library
	for _, in := range opts.Libraries {
		p, err := loadProgram(files[in.Path], in.Path, reg)
		if err != nil {
			return nil, err
		}
		libs = append(libs, link.Library{Namespace: in.Namespace, Program: p})
	}

	linker, err := newLinker(opts)
	if err != nil {
		return nil, err
	}
	res, err := linker.Link(host, libs...)
	if err != nil {
		return nil, err
	}
	for i, c := range res.Conventions {
		log.Debugf("%s: %s convention", opts.Libraries[i].Path, c)
	}

	if opts.UpdateOrder >= 0 {
		host.Code().SetUpdateOrder(opts.UpdateOrder)
	}
	text, err := host.Assemble()
	if err != nil {
		return nil, err
	}

	out := &buildResult{
		Text:        text,
		Diagnostics: host.Diagnostics(),
		Threaded:    res.Threaded,
	}
	if opts.ImagePath != "" {
		img, err := image.FromProgram(opts.Name, host)
		if err != nil {
			return nil, err
		}
		if out.Image, err = image.Marshal(img); err != nil {
			return nil, err
		}
	}

	if cache != nil {
		if out.BuildID, err = cache.Put(key, opts.Name, out.Text, out.Image); err != nil {
			log.Warningf("cache store: %v", err)
		}
	}
	return out, nil
}

// writeOutputs writes the text and, if requested, the image.
func writeOutputs(opts *buildOptions, res *buildResult) error {
	if err := writeFile(opts.OutputPath, []byte(res.Text)); err != nil {
		return err
	}
	if opts.ImagePath != "" && res.Image != nil {
		if err := writeFile(opts.ImagePath, res.Image); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
