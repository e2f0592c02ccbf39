package resolve_test

import (
	"testing"

	. "github.com/onsi/gomega"

	diag "github.com/toejough/covers/covergen/run/0_diag"
	load "github.com/toejough/covers/covergen/run/2_load"
	parse "github.com/toejough/covers/covergen/run/3_parse"
	resolve "github.com/toejough/covers/covergen/run/4_resolve"
)

const appPkg = "example.com/app"

func TestValidate_FreeFunction(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	reg := registryOf(t, appPkg, pkgSource{path: appPkg, local: true, files: map[string]string{
		"app/greet.go": `package app

//covers:mocked mockFoo
func foo(name string) string { return "hi " + name }

func mockFoo(name string) string { return "mock " + name }
`,
	}})

	resolutions, err := reg.Validate()
	g.Expect(err).NotTo(HaveOccurred())

	decl := mockPoint(t, reg, "foo")
	g.Expect(resolutions[decl].Scope).To(Equal(resolve.Scope{Kind: resolve.KindFree, Package: appPkg}))
	g.Expect(resolutions[decl].Form).To(Equal(resolve.FormFunction))
	g.Expect(resolutions[decl].Path).To(Equal(resolve.ResolvedPath{Package: appPkg, Name: "mockFoo"}))
	g.Expect(resolutions[decl].Target.Name).To(Equal("mockFoo"))
}

func TestValidate_UnboundMockPoint(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	reg := registryOf(t, appPkg, pkgSource{path: appPkg, local: true, files: map[string]string{
		"app/greet.go": "package app\n\n//covers:mocked\nfunc foo() {}\n",
	}})

	resolutions, err := reg.Validate()
	g.Expect(err).NotTo(HaveOccurred())

	resolution := resolutions[mockPoint(t, reg, "foo")]
	g.Expect(resolution.Form).To(Equal(resolve.FormUnbound))
	g.Expect(resolution.Target).To(BeNil())
}

func TestValidate_InstanceMethodForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src      string
		wantForm resolve.Form
		wantPath resolve.ResolvedPath
	}{
		{
			name: "method of the same type",
			src: `package app

type Shape struct{ w, h float64 }

//covers:mocked fakeArea
func (s *Shape) Area() float64 { return s.w * s.h }

func (s *Shape) fakeArea() float64 { return 1 }
`,
			wantForm: resolve.FormSameType,
			wantPath: resolve.ResolvedPath{Package: appPkg, Type: "Shape", Name: "fakeArea"},
		},
		{
			name: "function taking the receiver",
			src: `package app

type Shape struct{ w, h float64 }

//covers:mocked mockArea
func (s *Shape) Area() float64 { return s.w * s.h }

func mockArea(s *Shape) float64 { return 1 }
`,
			wantForm: resolve.FormFunction,
			wantPath: resolve.ResolvedPath{Package: appPkg, Name: "mockArea"},
		},
		{
			name: "type-qualified method of another type",
			src: `package app

type Shape struct{ w, h float64 }

type fakes struct{}

//covers:mocked fakes.Area
func (s Shape) Area() float64 { return s.w * s.h }

func (fakes) Area(self Shape) float64 { return 1 }
`,
			wantForm: resolve.FormOtherType,
			wantPath: resolve.ResolvedPath{Package: appPkg, Type: "fakes", Name: "Area"},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			reg := registryOf(t, appPkg, pkgSource{path: appPkg, local: true, files: map[string]string{
				"app/shape.go": testCase.src,
			}})

			resolutions, err := reg.Validate()
			g.Expect(err).NotTo(HaveOccurred())

			resolution := resolutions[mockPoint(t, reg, "Area")]
			g.Expect(resolution.Scope).To(Equal(resolve.Scope{Kind: resolve.KindTypeImpl, Package: appPkg, Type: "Shape"}))
			g.Expect(resolution.Form).To(Equal(testCase.wantForm))
			g.Expect(resolution.Path).To(Equal(testCase.wantPath))
		})
	}
}

func TestValidate_StaticMethodNeedsScopeHint(t *testing.T) {
	t.Parallel()

	src := func(directive string) string {
		return "package app\n\ntype Config struct{}\n\n" + directive +
			"\nfunc (Config) Default() string { return \"real\" }\n\nfunc mockDefault() string { return \"mock\" }\n"
	}

	t.Run("without hint", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		reg := registryOf(t, appPkg, pkgSource{path: appPkg, local: true, files: map[string]string{
			"app/config.go": src("//covers:mocked mockDefault"),
		}})

		_, err := reg.Validate()
		g.Expect(err).To(MatchError(diag.ErrMissingScopeHint))
		g.Expect(err.Error()).To(ContainSubstring("Config.Default (impl Config (static))"))
	})

	t.Run("with hint", func(t *testing.T) {
		t.Parallel()
		g := NewWithT(t)

		reg := registryOf(t, appPkg, pkgSource{path: appPkg, local: true, files: map[string]string{
			"app/config.go": src("//covers:mocked mockDefault scope=impl"),
		}})

		resolutions, err := reg.Validate()
		g.Expect(err).NotTo(HaveOccurred())

		resolution := resolutions[mockPoint(t, reg, "Default")]
		g.Expect(resolution.Scope).To(Equal(resolve.Scope{
			Kind: resolve.KindTypeImpl, Package: appPkg, Type: "Config", Static: true,
		}))
		g.Expect(resolution.Form).To(Equal(resolve.FormFunction))
	})
}

func TestValidate_CrossPackageTargets(t *testing.T) {
	t.Parallel()

	mocks := pkgSource{path: "example.com/app/mocks", files: map[string]string{
		"app/mocks/mocks.go": `package mocks

func Greet(name string) string { return "mock" }

func greet(name string) string { return "hidden" }
`,
	}}

	tests := []struct {
		name      string
		directive string
		wantErr   error
		wantForm  resolve.Form
		wantPath  resolve.ResolvedPath
	}{
		{
			name:      "package function",
			directive: "//covers:mocked mocks.Greet",
			wantForm:  resolve.FormFunction,
			wantPath:  resolve.ResolvedPath{Package: mocks.path, Name: "Greet", Qualifier: "mocks"},
		},
		{
			name:      "unexported function",
			directive: "//covers:mocked mocks.greet",
			wantErr:   diag.ErrUnresolvedTarget,
		},
		{
			name:      "missing function",
			directive: "//covers:mocked mocks.Missing",
			wantErr:   diag.ErrUnresolvedTarget,
		},
		{
			name:      "unknown qualifier",
			directive: "//covers:mocked stubs.Greet",
			wantErr:   diag.ErrUnresolvedTarget,
		},
		{
			name:      "too many segments",
			directive: "//covers:mocked a.b.c.d",
			wantErr:   diag.ErrUnresolvedTarget,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			reg := registryOf(t, appPkg,
				pkgSource{path: appPkg, local: true, files: map[string]string{
					"app/greet.go": "package app\n\nimport \"example.com/app/mocks\"\n\nvar _ = mocks.Greet\n\n" +
						testCase.directive + "\nfunc Greet(name string) string { return name }\n",
				}},
				mocks,
			)

			resolutions, err := reg.Validate()
			if testCase.wantErr != nil {
				g.Expect(err).To(MatchError(testCase.wantErr))
				return
			}

			g.Expect(err).NotTo(HaveOccurred())

			resolution := resolutions[mockPoint(t, reg, "Greet")]
			g.Expect(resolution.Form).To(Equal(testCase.wantForm))
			g.Expect(resolution.Path).To(Equal(testCase.wantPath))
		})
	}
}

func TestValidate_MethodOfTypeInAnotherPackage(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	reg := registryOf(t, appPkg,
		pkgSource{path: appPkg, local: true, files: map[string]string{
			"app/shape.go": `package app

import fakes "example.com/app/mocks"

var _ fakes.Fake

type Shape struct{ w, h float64 }

//covers:mocked fakes.Fake.Area
func (s *Shape) Area() float64 { return s.w * s.h }
`,
		}},
		pkgSource{path: "example.com/app/mocks", files: map[string]string{
			"app/mocks/mocks.go": `package mocks

type Fake struct{}

func (Fake) Area(self any) float64 { return 1 }
`,
		}},
	)

	resolutions, err := reg.Validate()
	g.Expect(err).NotTo(HaveOccurred())

	resolution := resolutions[mockPoint(t, reg, "Area")]
	g.Expect(resolution.Form).To(Equal(resolve.FormOtherType))
	g.Expect(resolution.Path).To(Equal(resolve.ResolvedPath{
		Package: "example.com/app/mocks", Type: "Fake", Name: "Area", Qualifier: "fakes",
	}))
}

func TestValidate_RejectsTargetImportingTheMockPoint(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	reg := registryOf(t, appPkg,
		pkgSource{path: appPkg, local: true, files: map[string]string{
			"app/shape.go": `package app

import fakes "example.com/app/mocks"

var _ fakes.Fake

type Shape struct{ w, h float64 }

//covers:mocked fakes.Fake.Area
func (s *Shape) Area() float64 { return s.w * s.h }
`,
		}},
		pkgSource{path: "example.com/app/mocks", files: map[string]string{
			"app/mocks/mocks.go": `package mocks

import "example.com/app"

type Fake struct{}

func (Fake) Area(s *app.Shape) float64 { return 1 }
`,
		}},
	)

	_, err := reg.Validate()

	g.Expect(err).To(MatchError(diag.ErrUnresolvedTarget))
	g.Expect(err.Error()).To(ContainSubstring("example.com/app/mocks imports example.com/app"))
}

func TestValidate_SignatureMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{
			name: "arity",
			src:  "//covers:mocked mockFoo\nfunc foo(a, b int) int { return a }\n\nfunc mockFoo(a int) int { return a }\n",
		},
		{
			name: "variadic position",
			src:  "//covers:mocked mockFoo\nfunc foo(a ...int) int { return 0 }\n\nfunc mockFoo(a []int) int { return 0 }\n",
		},
		{
			name: "substitute lacks receiver",
			src: "type S struct{}\n\n//covers:mocked mockM\nfunc (s S) M(n int) int { return n }\n\n" +
				"func mockM(n, m int) int { return n }\n",
		},
		{
			name: "substitute expects receiver",
			src:  "//covers:mocked mockFoo\nfunc foo(n int) int { return n }\n\nfunc mockFoo(self int) int { return 0 }\n",
		},
		{
			name: "binds to itself",
			src:  "//covers:mocked foo\nfunc foo() {}\n",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			reg := registryOf(t, appPkg, pkgSource{path: appPkg, local: true, files: map[string]string{
				"app/app.go": "package app\n\n" + testCase.src,
			}})

			_, err := reg.Validate()
			g.Expect(err).To(MatchError(diag.ErrSignatureMismatch))
		})
	}
}

func TestValidate_ForwardReferenceAcrossPackages(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	// the target package is collected after the mock point's package
	reg := registryOf(t, appPkg,
		pkgSource{path: appPkg, local: true, files: map[string]string{
			"app/a.go": "package app\n\nimport \"example.com/app/util\"\n\nvar _ = util.Stub\n\n" +
				"//covers:mocked util.Stub\nfunc Run() error { return nil }\n",
		}},
		pkgSource{path: "example.com/app/util", local: true, files: map[string]string{
			"app/util/stub.go": "package util\n\nfunc Stub() error { return nil }\n",
		}},
	)

	resolutions, err := reg.Validate()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(resolutions[mockPoint(t, reg, "Run")].Path.Package).To(Equal("example.com/app/util"))
}

func TestValidate_AggregatesEveryFailure(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	reg := registryOf(t, appPkg, pkgSource{path: appPkg, local: true, files: map[string]string{
		"app/app.go": `package app

type T struct{}

//covers:mocked missing
func foo() {}

//covers:mocked other
func (T) Bar() {}
`,
	}})

	_, err := reg.Validate()
	g.Expect(err).To(HaveOccurred())

	errs := diag.List(err)
	g.Expect(errs).To(HaveLen(2))
	g.Expect(errs[0]).To(MatchError(diag.ErrUnresolvedTarget))
	g.Expect(errs[1]).To(MatchError(diag.ErrMissingScopeHint))
}

func TestRegistry_SealLifecycle(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	reg := resolve.NewRegistry(appPkg)
	pkg := &load.Package{PkgPath: appPkg, Name: "app"}

	_, err := reg.Validate()
	g.Expect(err).To(HaveOccurred())

	g.Expect(reg.AddPackage(pkg, nil, true)).To(Succeed())
	reg.Seal()

	g.Expect(reg.AddPackage(&load.Package{PkgPath: "example.com/other"}, nil, false)).NotTo(Succeed())

	_, err = reg.Validate()
	g.Expect(err).NotTo(HaveOccurred())
}

func TestRegistry_PendingImports(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	reg := resolve.NewRegistry(appPkg)
	addSource(t, reg, pkgSource{path: appPkg, local: true, files: map[string]string{
		"app/a.go": `package app

import (
	"strings"

	stubs "example.com/app/internal/fakes"
	"example.com/app/mocks/v2"
)

var _ = strings.ToUpper
var _ = stubs.A
var _ = mocks.B

type Local struct{}

//covers:mocked stubs.A
func a() {}

//covers:mocked mocks.B
func b() {}

//covers:mocked Local.c
func (Local) C() {}

//covers:mocked d
func d() {}
`,
	}})

	g.Expect(reg.PendingImports()).To(Equal([]string{"example.com/app/internal/fakes", "example.com/app/mocks/v2"}))
}

func TestRegistry_Occupants(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	reg := registryOf(t, appPkg, pkgSource{path: appPkg, local: true, files: map[string]string{
		"app/a.go": `package app

type Store struct {
	items []string
	Logger
}

type Logger struct{}

var cache int

//covers:mocked name=Get
func (s *Store) _Get() {}
`,
	}})

	g.Expect(reg.Occupants(appPkg, "", "cache")).To(HaveLen(1))
	g.Expect(reg.Occupants(appPkg, "Store", "items")).To(HaveLen(1))
	g.Expect(reg.Occupants(appPkg, "Store", "Logger")).To(HaveLen(1))
	g.Expect(reg.Occupants(appPkg, "Store", "_Get")).To(ConsistOf(mockPoint(t, reg, "Get")))
	g.Expect(reg.Occupants(appPkg, "Store", "Get")).To(ConsistOf(mockPoint(t, reg, "Get")))
	g.Expect(reg.Occupants(appPkg, "", "Get")).To(BeEmpty())
}

func TestScope_String(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(resolve.Scope{Kind: resolve.KindFree}.String()).To(Equal("free"))
	g.Expect(resolve.Scope{Kind: resolve.KindModule, Package: "example.com/x"}.String()).To(Equal("module example.com/x"))
	g.Expect(resolve.Scope{Kind: resolve.KindTypeImpl, Type: "Store"}.String()).To(Equal("impl Store"))
	g.Expect(resolve.Scope{Kind: resolve.KindTypeImpl, Type: "Store", Static: true}.String()).
		To(Equal("impl Store (static)"))
}

func TestClassify_ModuleScope(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	decl, err := parse.New().Signature("example.com/app/util", "//covers:mocked\nfunc Run() {}")
	g.Expect(err).NotTo(HaveOccurred())

	scope, err := resolve.Classify(decl, appPkg)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(scope).To(Equal(resolve.Scope{Kind: resolve.KindModule, Package: "example.com/app/util"}))
}

type pkgSource struct {
	path  string
	local bool
	files map[string]string
}

func addSource(t *testing.T, reg *resolve.Registry, src pkgSource) {
	t.Helper()

	sources := make(map[string][]byte, len(src.files))
	for path, text := range src.files {
		sources[path] = []byte(text)
	}

	pkg, err := load.ParsePackage(src.path, "", sources)
	if err != nil {
		t.Fatalf("failed to parse %s: %v", src.path, err)
	}

	var decls []*parse.Declaration

	for _, file := range pkg.Files {
		parsed, err := parse.New().File(src.path, file)
		if err != nil {
			t.Fatalf("failed to parse declarations of %s: %v", file.Path, err)
		}

		decls = append(decls, parsed...)
	}

	err = reg.AddPackage(pkg, decls, src.local)
	if err != nil {
		t.Fatalf("failed to add %s: %v", src.path, err)
	}
}

func mockPoint(t *testing.T, reg *resolve.Registry, name string) *parse.Declaration {
	t.Helper()

	for _, decl := range reg.MockPoints() {
		if decl.Name == name {
			return decl
		}
	}

	t.Fatalf("no mock point named %s", name)

	return nil
}

func registryOf(t *testing.T, root string, sources ...pkgSource) *resolve.Registry {
	t.Helper()

	reg := resolve.NewRegistry(root)
	for _, src := range sources {
		addSource(t, reg, src)
	}

	reg.Seal()

	return reg
}
