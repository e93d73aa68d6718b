package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ReefSnax/SplatsvilleVRChat-sub001/manifest"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/assembly"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/image"
	"github.com/ReefSnax/SplatsvilleVRChat-sub001/pkg/link"
)

const hostText = `.data_start
  count: %SystemInt32, null
  flag: %SystemBoolean, null
.data_end
.code_start
  .export _start
  _start:
    PUSH, flag
    JUMP_IF_FALSE, 0xFFFFFFFC
    PUSH, count
    POP
    JUMP, 0xFFFFFFFC
.code_end
`

const utilText = `.data_start
  n: %SystemInt32, null
.data_end
.code_start
  .export Run
  Run:
    PUSH, n
    POP
    JUMP, 0xFFFFFFFC
.code_end
`

const anchoredText = `.data_start
  __refl_typeid: %SystemInt64, null
  x: %SystemInt32, null
.data_end
.code_start
  .export _start
  _start:
    PUSH, x
    POP
.code_end
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func projectOptions(t *testing.T, dir string) *buildOptions {
	t.Helper()
	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	deps, err := manifest.NewResolver(m).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	opts, err := optionsFromManifest(m, deps)
	if err != nil {
		t.Fatalf("optionsFromManifest: %v", err)
	}
	return opts
}

func TestBuildProject(t *testing.T) {
	dir := writeProject(t, map[string]string{
		manifest.FileName: `
[project]
name = "demo"

[output]
image = "build/demo.uimg"
update-order = 2
`,
		"src/main.uasm": hostText,
		"src/util.uasm": utilText,
	})
	opts := projectOptions(t, dir)

	if len(opts.Libraries) != 1 || opts.Libraries[0].Namespace != "Util" {
		t.Fatalf("libraries = %+v", opts.Libraries)
	}

	res, err := build(opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Cached {
		t.Error("first build should not be cached")
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v", res.Diagnostics)
	}
	for _, want := range []string{"  .update_order 2\n", "  _Util_x_Run:\n", "Util_n: %SystemInt32, null"} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("output missing %q:\n%s", want, res.Text)
		}
	}
	if err := writeOutputs(opts, res); err != nil {
		t.Fatalf("writeOutputs: %v", err)
	}

	text, err := os.ReadFile(filepath.Join(dir, "build", "demo.uasm"))
	if err != nil || string(text) != res.Text {
		t.Fatalf("written text mismatch: %v", err)
	}
	img, err := image.ReadFile(filepath.Join(dir, "build", "demo.uimg"))
	if err != nil {
		t.Fatalf("ReadFile image: %v", err)
	}
	p, err := img.Program(nil)
	if err != nil {
		t.Fatalf("image Program: %v", err)
	}
	if _, ok := p.Method("_Util_x_Run"); !ok {
		t.Error("image should contain the linked library method")
	}

	again, err := build(opts)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !again.Cached || again.Text != res.Text || !bytes.Equal(again.Image, res.Image) {
		t.Errorf("second build should be served from cache unchanged (cached=%v)", again.Cached)
	}
	if again.BuildID != res.BuildID {
		t.Errorf("build id = %q, want %q", again.BuildID, res.BuildID)
	}
}

func TestBuildCacheKeyTracksInputs(t *testing.T) {
	dir := writeProject(t, map[string]string{
		manifest.FileName: "[project]\nname = \"demo\"\n",
		"src/main.uasm":   hostText,
	})
	opts := projectOptions(t, dir)

	first, err := build(opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	opts.UpdateOrder = 7
	second, err := build(opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if second.Cached {
		t.Error("changing the update order must miss the cache")
	}
	if first.Text == second.Text {
		t.Error("update order should change the output")
	}
}

func TestBuildDeterministicWithoutCache(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"main.uasm":  hostText,
		"util.uasm":  utilText,
		"extra.uasm": utilText,
	})
	opts, err := optionsFromArgs([]string{
		filepath.Join(dir, "main.uasm"),
		filepath.Join(dir, "util.uasm"),
		filepath.Join(dir, "extra.uasm"),
	})
	if err != nil {
		t.Fatalf("optionsFromArgs: %v", err)
	}
	if opts.CachePath != "" {
		t.Error("argument builds should not use a cache")
	}
	if opts.OutputPath != filepath.Join(dir, "main.out.uasm") {
		t.Errorf("OutputPath = %q", opts.OutputPath)
	}

	a, err := build(opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b, err := build(opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if a.Text != b.Text {
		t.Error("builds of the same inputs should be byte-identical")
	}
	if !strings.Contains(a.Text, "_Extra_x_Run:") || !strings.Contains(a.Text, "_Util_x_Run:") {
		t.Errorf("both libraries should be linked:\n%s", a.Text)
	}

	d, err := assembly.ReadText(strings.NewReader(a.Text))
	if err != nil {
		t.Fatalf("output should read back: %v", err)
	}
	if _, err := assembly.Rebuild(d, nil); err != nil {
		t.Errorf("output should rebuild: %v", err)
	}
}

func TestBuildKeepsHostUpdateOrder(t *testing.T) {
	ordered := strings.Replace(hostText, ".code_start\n", ".code_start\n  .update_order 7\n", 1)
	dir := writeProject(t, map[string]string{
		"main.uasm": ordered,
		"util.uasm": utilText,
	})
	opts, err := optionsFromArgs([]string{filepath.Join(dir, "main.uasm"), filepath.Join(dir, "util.uasm")})
	if err != nil {
		t.Fatalf("optionsFromArgs: %v", err)
	}
	res, err := build(opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(res.Text, "  .update_order 7\n") {
		t.Errorf("host update order dropped:\n%s", res.Text)
	}

	opts.UpdateOrder = 0
	res, err = build(opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(res.Text, ".update_order") {
		t.Errorf("an explicit update order of 0 should clear it:\n%s", res.Text)
	}

	proj := writeProject(t, map[string]string{
		manifest.FileName: "[project]\nname = \"ordered\"\n",
		"src/main.uasm":   ordered,
	})
	popts := projectOptions(t, proj)
	if popts.UpdateOrder != -1 {
		t.Errorf("UpdateOrder = %d, want -1 when the manifest leaves it unset", popts.UpdateOrder)
	}
	res, err = build(popts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(res.Text, "  .update_order 7\n") {
		t.Errorf("manifest build dropped the host update order:\n%s", res.Text)
	}
}

func TestBuildConventions(t *testing.T) {
	dir := writeProject(t, map[string]string{
		manifest.FileName: `
[cache]
disabled = true
`,
		"src/main.uasm": anchoredText,
	})
	opts := projectOptions(t, dir)
	if opts.CachePath != "" {
		t.Error("[cache] disabled should clear the cache path")
	}
	if _, err := build(opts); !errors.Is(err, link.ErrUnknownConvention) {
		t.Fatalf("build error = %v, want ErrUnknownConvention", err)
	}

	opts.Conventions = []manifest.Convention{{Name: "sharp", Anchors: []string{"__refl_typeid"}, Kind: "legacy"}}
	res, err := build(opts)
	if err != nil {
		t.Fatalf("build with convention: %v", err)
	}
	if !strings.Contains(res.Text, "PUSH, __end_address") {
		t.Errorf("anchored host should be retrofitted:\n%s", res.Text)
	}

	opts.Conventions[0].Kind = "fastcall"
	if _, err := build(opts); err == nil {
		t.Error("an unknown convention kind should fail")
	}
}

func TestLoadProgramImage(t *testing.T) {
	d, err := assembly.ReadText(strings.NewReader(utilText))
	if err != nil {
		t.Fatal(err)
	}
	data, err := image.Marshal(image.FromDisassembly("util", d))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	p, err := loadProgram(data, "util.uimg", nil)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	if _, ok := p.Method("Run"); !ok {
		t.Error("image program should define Run")
	}
	if _, err := loadProgram([]byte("garbage"), "bad.uasm", nil); err == nil {
		t.Error("malformed text should fail")
	}
}
