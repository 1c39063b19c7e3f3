package jsmod

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/chenyanchen/kv"
	"github.com/dop251/goja"

	"github.com/chenyanchen/lazypkg"
)

// ProgramCache stores compiled programs keyed by source digest.
type ProgramCache = kv.KV[string, *goja.Program]

type compileConfig struct {
	cache  ProgramCache
	logger *log.Logger
}

// Option configures Compile.
type Option func(*compileConfig)

// WithProgramCache reuses compiled programs across identical sources.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *compileConfig) {
		cfg.cache = cache
	}
}

// WithLogger reports program cache failures.
func WithLogger(logger *log.Logger) Option {
	return func(cfg *compileConfig) {
		cfg.logger = logger
	}
}

func applyOptions(opts []Option) compileConfig {
	cfg := compileConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = log.New(io.Discard)
	}
	return cfg
}

// NewGlobal returns a runtime suitable as the shared execution context. Go struct
// fields are exposed to scripts by their json tag.
func NewGlobal() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return vm
}

// Compile compiles src into a factory. name is only used in stack traces.
func Compile(name string, src string, opts ...Option) (lazypkg.Factory, error) {
	cfg := applyOptions(opts)
	program, err := loadOrCompile(cfg, name, src)
	if err != nil {
		return nil, fmt.Errorf("compile module %s: %w", name, err)
	}
	return func(scope lazypkg.Scope, _ map[string]any, module *lazypkg.Module, global any) error {
		vm, ok := global.(*goja.Runtime)
		if !ok {
			return fmt.Errorf("run module %s: global is %T, want *goja.Runtime", name, global)
		}
		return run(vm, program, scope, module)
	}, nil
}

// loadOrCompile treats a failing cache as a miss; the program still compiles.
func loadOrCompile(cfg compileConfig, name string, src string) (*goja.Program, error) {
	key := digest(src)
	if cfg.cache != nil {
		program, err := cfg.cache.Get(context.Background(), key)
		if err == nil && program != nil {
			return program, nil
		}
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			cfg.logger.Warn("load cached program failed", "module", name, "err", err)
		}
	}
	program, err := goja.Compile(name, wrap(src), false)
	if err != nil {
		return nil, err
	}
	if cfg.cache != nil {
		if err := cfg.cache.Set(context.Background(), key, program); err != nil {
			cfg.logger.Warn("cache program failed", "module", name, "err", err)
		}
	}
	return program, nil
}

func digest(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

func wrap(src string) string {
	return "(function (require, exports, module, global) {\n" + src + "\n})"
}

func run(vm *goja.Runtime, program *goja.Program, scope lazypkg.Scope, module *lazypkg.Module) error {
	value, err := vm.RunProgram(program)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return fmt.Errorf("module wrapper is not a function")
	}

	exportsObj := vm.NewObject()
	moduleObj := vm.NewObject()
	_ = moduleObj.Set("id", module.ID)
	_ = moduleObj.Set("exports", exportsObj)

	requireObj := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := scope.Require(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return toValue(vm, v)
	}).ToObject(vm)
	_ = requireObj.Set("ensure", func(call goja.FunctionCall) goja.Value {
		names, err := stringList(call.Argument(0))
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		var cb goja.Callable
		if arg := call.Argument(1); !goja.IsUndefined(arg) {
			fn, ok := goja.AssertFunction(arg)
			if !ok {
				panic(vm.NewTypeError("ensure: callback must be a function, got %s", arg.String()))
			}
			cb = fn
		}
		err = scope.Ensure(names, func(exports []any) error {
			if cb == nil {
				return nil
			}
			args := make([]goja.Value, len(exports))
			for i, v := range exports {
				args[i] = toValue(vm, v)
			}
			_, err := cb(goja.Undefined(), args...)
			return err
		})
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	if _, err := fn(goja.Undefined(), requireObj, exportsObj, moduleObj, vm.GlobalObject()); err != nil {
		return err
	}
	module.Exports = moduleObj.Get("exports")
	return nil
}

func toValue(vm *goja.Runtime, v any) goja.Value {
	if v == nil {
		return goja.Null()
	}
	if value, ok := v.(goja.Value); ok {
		return value
	}
	return vm.ToValue(v)
}

func stringList(v goja.Value) ([]string, error) {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	raw, ok := v.Export().([]any)
	if !ok {
		return nil, fmt.Errorf("ensure: package names must be an array, got %s", v.ExportType())
	}
	names := make([]string, 0, len(raw))
	for _, item := range raw {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("ensure: package name must be a string, got %T", item)
		}
		names = append(names, name)
	}
	return names, nil
}

// Export unwraps a goja value returned by Require into plain Go values.
func Export(v any) any {
	if value, ok := v.(goja.Value); ok {
		return value.Export()
	}
	return v
}
