package patch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chazu/flicker/pkg/transform"
	zygo "github.com/glycerine/zygomys/zygo"
)

// EvalTimeout is the default limit for a single Lisp evaluation.
const EvalTimeout = 5 * time.Second

// EvalError is a parse or runtime error in a Lisp patch.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// EvalErrors is the error returned when user code fails.
type EvalErrors []EvalError

func (es EvalErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Evaluator runs Lisp patches. Each evaluation gets a fresh sandbox; a
// result that arrives after a newer evaluation started is discarded.
type Evaluator struct {
	Timeout time.Duration

	mu         sync.Mutex
	generation uint64
}

// NewEvaluator returns an evaluator with the default timeout.
func NewEvaluator() *Evaluator {
	return &Evaluator{Timeout: EvalTimeout}
}

type evalResult struct {
	patch *Patch
	err   error
}

// Evaluate runs source and returns the patch its calls built. Errors in
// the program are returned as EvalErrors; timeouts, cancellation and
// supersession as plain errors.
func (ev *Evaluator) Evaluate(ctx context.Context, source string, reg *transform.Registry) (*Patch, error) {
	if reg == nil {
		return nil, fmt.Errorf("lisp patches need a transform registry")
	}

	ev.mu.Lock()
	ev.generation++
	gen := ev.generation
	ev.mu.Unlock()

	ch := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()
		p, err := evaluate(source, reg)
		ch <- evalResult{patch: p, err: err}
	}()

	return ev.wait(ctx, ch, gen)
}

// wait returns the evaluation result unless the timeout or ctx ends first.
// The evaluating goroutine may still be running afterwards; the generation
// check discards whatever it produces.
func (ev *Evaluator) wait(ctx context.Context, ch <-chan evalResult, gen uint64) (*Patch, error) {
	timeout := ev.Timeout
	if timeout <= 0 {
		timeout = EvalTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		ev.mu.Lock()
		current := ev.generation
		ev.mu.Unlock()
		if gen != current {
			return nil, fmt.Errorf("evaluation superseded by newer request")
		}
		return res.patch, res.err

	case <-timer.C:
		return nil, fmt.Errorf("evaluation timed out after %s", timeout)

	case <-ctx.Done():
		return nil, fmt.Errorf("evaluation cancelled: %w", ctx.Err())
	}
}

func evaluate(source string, reg *transform.Registry) (*Patch, error) {
	if strings.TrimSpace(source) == "" {
		return &Patch{}, nil
	}

	env := zygo.NewZlispSandbox()
	defer env.Stop()

	b := newLispBuilder(reg)
	b.register(env)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err)
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err)
	}
	return b.patch(), nil
}

// linePattern matches zygomys messages such as "Error on line N: ...".
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches "line N: ...".
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

func parseZygomysError(err error) EvalErrors {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return EvalErrors{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}
	return EvalErrors{{Message: strings.TrimSpace(msg)}}
}
