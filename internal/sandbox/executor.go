// Package sandbox executes LLM-generated solver code inside a yaegi
// interpreter. Interpreting beats compiling here: no toolchain on the host,
// no binary to manage, and the capability surface is whatever symbols we
// grant the interpreter, checked against an import allowlist before a single
// statement runs.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

// Mode selects the capability set granted to generated code. The two modes
// are mutually exclusive per step and must match the prompt the code was
// generated from, or execution fails on name resolution.
type Mode string

const (
	// ModeMaterialized is for code operating on pre-loaded data: computation
	// packages only, no network and no filesystem.
	ModeMaterialized Mode = "materialized"
	// ModeSelfFetch additionally grants HTTP-client and URL packages; the
	// bundle carries only URLs and the code downloads its own data.
	ModeSelfFetch Mode = "selffetch"
)

// Sentinel errors callers branch on.
var (
	ErrNoSolve      = errors.New("generated code does not define Solve")
	ErrBadSignature = errors.New("Solve has the wrong signature")
)

// ExecutionError wraps a failure raised inside the solver itself.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return "solver execution: " + e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }

var computeImports = map[string]bool{
	"bytes":           true,
	"encoding/base64": true,
	"encoding/csv":    true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
}

var fetchImports = map[string]bool{
	"bufio":         true,
	"compress/gzip": true,
	"io":            true,
	"net/http":      true,
	"net/url":       true,
}

// Executor runs synthesized solver code.
type Executor struct {
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an executor. timeout bounds one Execute call end to end.
func New(timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Executor{timeout: timeout, logger: logger}
}

// Execute evaluates code, which must define
//
//	func Solve(data map[string]interface{}) (interface{}, error)
//
// and calls it with the bundle. The mode's import allowlist is enforced
// before evaluation.
func (e *Executor) Execute(ctx context.Context, mode Mode, code string, data map[string]interface{}) (interface{}, error) {
	full := wrapCode(code)

	if err := validateImports(full, mode); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load interpreter symbols: %w", err)
	}

	if _, err := i.Eval(full); err != nil {
		return nil, fmt.Errorf("evaluate solver code: %w", err)
	}

	v, err := i.Eval("main.Solve")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSolve, err)
	}
	solve, ok := v.Interface().(func(map[string]interface{}) (interface{}, error))
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrBadSignature, v.Interface())
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := solve(data)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, &ExecutionError{Err: out.err}
		}
		e.logger.Debug("solver returned", zap.Any("result", out.result))
		return out.result, nil
	case <-ctx.Done():
		// The interpreter goroutine cannot be killed; it is abandoned. The
		// chain-level deadline keeps a stuck chain from living forever.
		return nil, fmt.Errorf("solver execution timed out: %w", ctx.Err())
	}
}

// Allowed reports whether mode permits importing pkg.
func Allowed(mode Mode, pkg string) bool {
	if computeImports[pkg] {
		return true
	}
	return mode == ModeSelfFetch && fetchImports[pkg]
}

func validateImports(code string, mode Mode) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "solver.go", code, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse solver code: %w", err)
	}

	var forbidden []string
	for _, imp := range f.Imports {
		pkg := strings.Trim(imp.Path.Value, `"`)
		if !Allowed(mode, pkg) {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports in %s mode: %s", mode, strings.Join(forbidden, ", "))
	}
	return nil
}

// wrapCode prepends a package clause when the model omitted one.
func wrapCode(code string) string {
	trimmed := strings.TrimSpace(code)
	if strings.HasPrefix(trimmed, "package ") {
		return trimmed
	}
	return "package main\n\n" + trimmed
}
