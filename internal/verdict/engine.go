package verdict

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Engine chains the fast check and the compiler.
type Engine struct {
	fast     *FastChecker
	compiler Compiler
	log      zerolog.Logger
}

// NewEngine creates an engine. A nil fast checker uses default options.
func NewEngine(fast *FastChecker, compiler Compiler, log zerolog.Logger) *Engine {
	if fast == nil {
		fast = NewFastChecker(DefaultFastOptions())
	}
	return &Engine{fast: fast, compiler: compiler, log: log}
}

// Preflight checks the compiler environment when the compiler supports it.
func (e *Engine) Preflight() error {
	if e.compiler == nil {
		return fmt.Errorf("%w: no compiler configured", ErrCompilerUnavailable)
	}
	if p, ok := e.compiler.(Preflighter); ok {
		return p.Preflight()
	}
	return nil
}

// Judge produces exactly one verdict for source. The compiler is only run
// when the fast check passes, and only the compiler can accept.
func (e *Engine) Judge(ctx context.Context, source string) Verdict {
	if diag, ok := e.fast.Check(source); !ok {
		e.log.Debug().Str("diagnostic", diag).Msg("fast check rejected candidate")
		return Syntax(diag)
	}

	res, err := e.compiler.Check(ctx, source)
	if err != nil {
		fault := SystemFault{ExitCode: -1, Cause: err.Error()}
		var perr *ProcessError
		if errors.As(err, &perr) {
			fault.Command = perr.Command
			fault.ExitCode = perr.ExitCode
			fault.TimedOut = perr.TimedOut
			return SystemError(fault, perr.Elapsed)
		}
		return SystemError(fault, 0)
	}

	if res.Clean() {
		return Accept(res.Elapsed)
	}

	diag := res.Output
	if strings.TrimSpace(diag) == "" {
		diag = fmt.Sprintf("compiler exited with status %d", res.ExitCode)
	}
	return Semantic(diag, res.Elapsed)
}
