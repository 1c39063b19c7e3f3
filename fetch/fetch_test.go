package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyanchen/lazypkg"
	"github.com/chenyanchen/lazypkg/bundle"
	"github.com/chenyanchen/lazypkg/jsmod"
)

var testBundles = map[string]bundle.Bundle{
	"base": {
		Name:        "base",
		Modules:     map[string]string{".": `exports.greet = function (n) { return 'hello ' + n; };`},
		Stylesheets: []lazypkg.Stylesheet{{Media: "all", CSS: "body{margin:0}"}},
	},
	"app": {
		Name:    "app",
		Deps:    []string{"base"},
		Modules: map[string]string{".": `module.exports = { text: require('base').greet('app') };`},
	},
}

func packageServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /packages/{names}", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		var payload bundle.Payload
		for _, name := range bundle.SplitNames(r.PathValue("names")) {
			b, ok := testBundles[name]
			if !ok {
				http.Error(w, "unknown package "+name, http.StatusNotFound)
				return
			}
			payload.Packages = append(payload.Packages, b)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRuntime(t *testing.T, base string) (*lazypkg.Runtime, *Backend) {
	t.Helper()
	client, err := New(base)
	require.NoError(t, err)
	backend := client.Backend()
	rt := lazypkg.New(
		lazypkg.WithBackend(backend),
		lazypkg.WithGlobal(jsmod.NewGlobal()),
	)
	backend.Bind(rt)
	return rt, backend
}

func defineAvailable(t *testing.T, rt *lazypkg.Runtime) {
	t.Helper()
	require.NoError(t, rt.Define("base", nil, nil))
	require.NoError(t, rt.Define("app", []string{"base"}, nil))
	require.NoError(t, rt.MarkAvailable("base", "app"))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestInlineFetchBeforeReady(t *testing.T) {
	srv := packageServer(t, nil)
	rt, backend := newRuntime(t, srv.URL+"/")
	defineAvailable(t, rt)

	var got any
	require.NoError(t, rt.Ensure([]string{"app"}, func(exports []any) error {
		got = jsmod.Export(exports[0])
		return nil
	}))
	require.NoError(t, rt.Loop().Drain(20))

	assert.Equal(t, map[string]any{"text": "hello app"}, got)

	scripts := backend.Document().Scripts()
	require.Len(t, scripts, 1)
	assert.Equal(t, ModeInline, scripts[0].Mode)
	assert.True(t, strings.HasPrefix(scripts[0].URL, srv.URL+"/packages/app;base?t="), scripts[0].URL)
	assert.Equal(t, []lazypkg.Stylesheet{{Media: "all", CSS: "body{margin:0}"}}, backend.Document().Stylesheets())
}

func TestAsyncFetchAfterReady(t *testing.T) {
	srv := packageServer(t, nil)
	rt, backend := newRuntime(t, srv.URL)
	defineAvailable(t, rt)
	require.NoError(t, rt.DocumentReady())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = rt.Loop().Run(ctx) }()

	done := make(chan any, 1)
	require.NoError(t, rt.Loop().Do(ctx, func() error {
		return rt.Ensure([]string{"app"}, func(exports []any) error {
			done <- jsmod.Export(exports[0])
			return nil
		})
	}))

	select {
	case got := <-done:
		assert.Equal(t, map[string]any{"text": "hello app"}, got)
	case <-ctx.Done():
		t.Fatal("ensure callback did not run")
	}
	scripts := backend.Document().Scripts()
	require.Len(t, scripts, 1)
	assert.Equal(t, ModeAsync, scripts[0].Mode)
}

func TestUnknownBundleIsDefined(t *testing.T) {
	srv := packageServer(t, nil)
	rt, backend := newRuntime(t, srv.URL)
	require.NoError(t, rt.Define("app", []string{"base"}, nil))
	require.NoError(t, rt.MarkAvailable("app"))

	payload, err := backend.client.Get(backend.client.URL([]string{"base"}, 0))
	require.NoError(t, err)
	require.NoError(t, backend.deliver(payload))
	require.NoError(t, rt.Loop().Drain(20))

	state, ok := rt.State("base")
	require.True(t, ok)
	assert.Equal(t, lazypkg.StateDone, state)
}

func TestDeliverContinuesPastFailingBundle(t *testing.T) {
	srv := packageServer(t, nil)
	rt, backend := newRuntime(t, srv.URL)
	require.NoError(t, rt.Define("done", nil, &lazypkg.Resources{}))
	require.NoError(t, rt.Define("base", nil, nil))
	require.NoError(t, rt.MarkAvailable("base"))

	err := backend.deliver(bundle.Payload{Packages: []bundle.Bundle{
		{Name: "broken", Modules: map[string]string{".": "exports.x = ;"}},
		{Name: "done"},
		testBundles["base"],
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile module broken/.")
	var already lazypkg.AlreadyImplementedError
	require.True(t, errors.As(err, &already))
	assert.Equal(t, "done", already.Name)

	require.NoError(t, rt.Loop().Drain(20))
	state, ok := rt.State("base")
	require.True(t, ok)
	assert.Equal(t, lazypkg.StateDone, state)
	_, known := rt.Package("broken")
	assert.False(t, known)
}

func TestFetchErrorSurfacesFromTick(t *testing.T) {
	srv := packageServer(t, nil)
	rt, _ := newRuntime(t, srv.URL)
	require.NoError(t, rt.Define("ghost", nil, nil))
	require.NoError(t, rt.MarkAvailable("ghost"))

	require.NoError(t, rt.Ensure([]string{"ghost"}, nil))
	err := rt.Loop().Drain(20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestGetSharesInFlightRequests(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /packages/{names}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		entered <- struct{}{}
		<-release
		_ = json.NewEncoder(w).Encode(bundle.Payload{Packages: []bundle.Bundle{testBundles["base"]}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)
	u := client.URL([]string{"base"}, 7)

	var wg sync.WaitGroup
	results := make([]bundle.Payload, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = client.Get(u)
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = client.Get(u)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, results[0], results[1])
}

func TestResourcesCompileModules(t *testing.T) {
	client, err := New("http://localhost")
	require.NoError(t, err)

	res, err := client.Resources(testBundles["base"])
	require.NoError(t, err)
	assert.Contains(t, res.Modules, lazypkg.MainModule)
	assert.Len(t, res.Stylesheets, 1)

	_, err = client.Resources(bundle.Bundle{Name: "bad", Modules: map[string]string{".": "function ("}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile module bad/.")
}
