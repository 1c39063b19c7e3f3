package jsmod

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chenyanchen/kv"
	"github.com/chenyanchen/kv/cachekv"
	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyanchen/lazypkg"
)

func mustCompile(t *testing.T, name, src string, opts ...Option) lazypkg.Factory {
	t.Helper()
	f, err := Compile(name, src, opts...)
	require.NoError(t, err)
	return f
}

func TestCompileExportsAndRequire(t *testing.T) {
	vm := NewGlobal()
	rt := lazypkg.New(lazypkg.WithGlobal(vm))

	require.NoError(t, rt.Define("util", nil, &lazypkg.Resources{Modules: map[string]lazypkg.Factory{
		lazypkg.MainModule: mustCompile(t, "util", `exports.twice = function (n) { return n * 2; };`),
		"config":           lazypkg.Value(map[string]any{"factor": 21}),
	}}))
	require.NoError(t, rt.Define("app", []string{"util"}, &lazypkg.Resources{Modules: map[string]lazypkg.Factory{
		lazypkg.MainModule: mustCompile(t, "app", `
var util = require('util');
var cfg = require('util/config');
var helper = require('./lib/helper');
module.exports = { answer: util.twice(cfg.factor), helper: helper.name, id: module.id };
`),
		"lib/helper": mustCompile(t, "app/lib/helper", `exports.name = 'helper';`),
	}}))
	require.NoError(t, rt.Loop().Drain(10))

	v, err := rt.Require("app", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": int64(42), "helper": "helper", "id": "."}, Export(v))

	again, err := rt.Require("app", "")
	require.NoError(t, err)
	assert.Same(t, v.(*goja.Object), again.(*goja.Object))
}

func TestRequireErrorBecomesException(t *testing.T) {
	vm := NewGlobal()
	rt := lazypkg.New(lazypkg.WithGlobal(vm))
	require.NoError(t, rt.Define("app", nil, &lazypkg.Resources{Modules: map[string]lazypkg.Factory{
		lazypkg.MainModule: mustCompile(t, "app", `
var caught = null;
try { require('./missing'); } catch (e) { caught = String(e); }
exports.caught = caught;
require('nope');
`),
	}}))

	err := rt.Loop().Drain(10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package not registered: nope")

	pkg, ok := rt.Package("app")
	require.True(t, ok)
	assert.Equal(t, lazypkg.StateDone, pkg.State)
}

func TestRequireEnsure(t *testing.T) {
	vm := NewGlobal()
	rt := lazypkg.New(lazypkg.WithGlobal(vm))
	require.NoError(t, rt.Define("lazy", nil, nil))

	require.NoError(t, rt.Define("app", nil, &lazypkg.Resources{Modules: map[string]lazypkg.Factory{
		lazypkg.MainModule: mustCompile(t, "app", `
exports.loaded = null;
require.ensure(['lazy'], function (lazy) { exports.loaded = lazy.value; });
`),
	}}))
	require.NoError(t, rt.Loop().Drain(10))

	v, err := rt.Require("app", "")
	require.NoError(t, err)
	assert.Nil(t, Export(v).(map[string]any)["loaded"])

	require.NoError(t, rt.Implement("lazy", &lazypkg.Resources{Modules: map[string]lazypkg.Factory{
		lazypkg.MainModule: mustCompile(t, "lazy", `exports.value = 'ready';`),
	}}))
	require.NoError(t, rt.Loop().Drain(10))
	assert.Equal(t, "ready", Export(v).(map[string]any)["loaded"])
}

func TestRequireEnsureRejectsNonFunctionCallback(t *testing.T) {
	vm := NewGlobal()
	rt := lazypkg.New(lazypkg.WithGlobal(vm))
	require.NoError(t, rt.Define("lazy", nil, nil))
	require.NoError(t, rt.Define("ok", nil, &lazypkg.Resources{Modules: map[string]lazypkg.Factory{
		lazypkg.MainModule: mustCompile(t, "ok", `require.ensure(['lazy']);`),
	}}))
	require.NoError(t, rt.Define("bad", nil, &lazypkg.Resources{Modules: map[string]lazypkg.Factory{
		lazypkg.MainModule: mustCompile(t, "bad", `require.ensure(['lazy'], 42);`),
	}}))

	err := rt.Loop().Drain(10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute module bad/.")
	assert.Contains(t, err.Error(), "callback must be a function")
	assert.NotContains(t, err.Error(), "execute module ok/.")
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := Compile("broken", "exports.x = ;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile module broken")
}

func TestFactoryNeedsGojaGlobal(t *testing.T) {
	rt := lazypkg.New()
	require.NoError(t, rt.Define("app", nil, &lazypkg.Resources{Modules: map[string]lazypkg.Factory{
		lazypkg.MainModule: mustCompile(t, "app", `exports.x = 1;`),
	}}))
	err := rt.Loop().Drain(10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want *goja.Runtime")
}

func TestProgramCache(t *testing.T) {
	cache, err := cachekv.NewLRU[string, *goja.Program](16, nil, time.Minute)
	require.NoError(t, err)

	_, err = Compile("a", "exports.x = 1;", WithProgramCache(cache))
	require.NoError(t, err)

	program, err := loadOrCompile(applyOptions([]Option{WithProgramCache(cache)}), "b", "exports.x = 1;")
	require.NoError(t, err)
	cached, err := cache.Get(context.Background(), digest("exports.x = 1;"))
	require.NoError(t, err)
	assert.Same(t, cached, program)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (*goja.Program, error) {
	return nil, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, *goja.Program) error {
	return errors.New("cache down")
}

func (failingCache) Del(context.Context, string) error {
	return nil
}

var _ kv.KV[string, *goja.Program] = failingCache{}

func TestProgramCacheFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)

	f, err := Compile("app", "exports.x = 1;", WithProgramCache(failingCache{}), WithLogger(logger))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Contains(t, buf.String(), "load cached program failed")
	assert.Contains(t, buf.String(), "cache program failed")
	assert.Contains(t, buf.String(), "cache down")
}
