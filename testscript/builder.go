package testscript

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/sandbox"
)

// testNode collects the results of one test while its callback runs.
type testNode struct {
	name         string
	err          string
	expectations []ExpectResult
	children     []*testNode
}

func (n *testNode) result() TestResult {
	r := TestResult{
		Name:         n.name,
		Outcome:      OutcomePassed,
		Error:        n.err,
		Expectations: append([]ExpectResult{}, n.expectations...),
	}
	for _, e := range n.expectations {
		if e.Status != OutcomePassed {
			r.Outcome = OutcomeFailed
		}
	}
	for _, c := range n.children {
		child := c.result()
		if child.Outcome != OutcomePassed {
			r.Outcome = OutcomeFailed
		}
		r.Children = append(r.Children, child)
	}
	if n.err != "" {
		r.Outcome = OutcomeError
	}
	return r
}

// builder accumulates the result of exactly one run. It is only touched from
// host functions the guest calls, which never run concurrently.
type builder struct {
	logger *zap.Logger
	env    *envStore

	root     testNode
	current  []*testNode
	subjects []any
}

func newBuilder(logger *zap.Logger, env Environment) *builder {
	return &builder{
		logger: logger,
		env:    newEnvStore(env),
	}
}

// namespace returns the host API the guest script sees.
func (b *builder) namespace() sandbox.Namespace {
	ms := sandbox.MatcherSet{
		Expect:   b.expect,
		Matchers: make(map[string]sandbox.HostFunc),
	}
	for name, fn := range matchers() {
		ms.Matchers[name] = b.matcher(name, fn)
	}

	return sandbox.Namespace{
		"test":   sandbox.HostFunc(b.test),
		"expect": ms,
		"env": sandbox.Namespace{
			"get":        sandbox.HostFunc(b.envGet),
			"getResolve": sandbox.HostFunc(b.envGetResolve),
			"set":        sandbox.HostFunc(b.envSet),
			"unset":      sandbox.HostFunc(b.envUnset),
			"resolve":    sandbox.HostFunc(b.envResolve),
		},
	}
}

func (b *builder) result() RunResult {
	r := RunResult{
		Tests:        make([]TestResult, 0, len(b.root.children)),
		Expectations: append([]ExpectResult(nil), b.root.expectations...),
		Envs:         b.env.snapshot(),
	}
	for _, c := range b.root.children {
		r.Tests = append(r.Tests, c.result())
	}
	return r
}

func (b *builder) parent() *testNode {
	if len(b.current) == 0 {
		return &b.root
	}
	return b.current[len(b.current)-1]
}

// test registers a test and runs its callback immediately. A guest exception
// thrown by the callback fails only that test; an interrupt aborts the run.
func (b *builder) test(args []any) (any, error) {
	name, err := stringArg(args, 0, "test name")
	if err != nil {
		return nil, err
	}
	fn, ok := argAt(args, 1).(sandbox.GuestFunc)
	if !ok {
		return nil, fmt.Errorf("test %q: second argument must be a function", name)
	}

	node := &testNode{name: name}
	parent := b.parent()
	parent.children = append(parent.children, node)

	b.current = append(b.current, node)
	_, err = fn()
	b.current = b.current[:len(b.current)-1]

	if err != nil {
		if errors.Is(err, sandbox.ErrInterrupted) {
			return nil, err
		}
		node.err = err.Error()
		b.logger.Debug("test callback failed", zap.String("test", name), zap.Error(err))
	}
	return nil, nil
}

func (b *builder) expect(args []any) (any, error) {
	b.subjects = append(b.subjects, argAt(args, 0))
	return int64(len(b.subjects) - 1), nil
}

// matcher adapts fn to the (handle, negated, args...) calling convention of
// a matcher set. Outcomes are recorded, never thrown.
func (b *builder) matcher(name string, fn matcherFunc) sandbox.HostFunc {
	return func(args []any) (any, error) {
		handle, ok := integer(argAt(args, 0))
		if !ok || handle < 0 || handle >= len(b.subjects) {
			return nil, fmt.Errorf("%s: invalid expectation handle", name)
		}
		negated, _ := argAt(args, 1).(bool)
		var rest []any
		if len(args) > 2 {
			rest = args[2:]
		}

		pass, msg, negMsg, err := fn(b.subjects[handle], rest)
		res := ExpectResult{Status: OutcomePassed}
		switch {
		case err != nil:
			res = ExpectResult{Status: OutcomeError, Message: err.Error()}
		case negated:
			res.Message = negMsg
			if pass {
				res.Status = OutcomeFailed
			}
		default:
			res.Message = msg
			if !pass {
				res.Status = OutcomeFailed
			}
		}

		parent := b.parent()
		parent.expectations = append(parent.expectations, res)
		return nil, nil
	}
}

func (b *builder) envGet(args []any) (any, error) {
	key, err := stringArg(args, 0, "key")
	if err != nil {
		return nil, err
	}
	if v, ok := b.env.get(key); ok {
		return v, nil
	}
	return sandbox.Undefined, nil
}

func (b *builder) envGetResolve(args []any) (any, error) {
	key, err := stringArg(args, 0, "key")
	if err != nil {
		return nil, err
	}
	if v, ok := b.env.get(key); ok {
		return b.env.resolve(v), nil
	}
	return sandbox.Undefined, nil
}

func (b *builder) envSet(args []any) (any, error) {
	key, err := stringArg(args, 0, "key")
	if err != nil {
		return nil, err
	}
	value, err := stringArg(args, 1, "value")
	if err != nil {
		return nil, err
	}
	b.env.set(key, value)
	return nil, nil
}

func (b *builder) envUnset(args []any) (any, error) {
	key, err := stringArg(args, 0, "key")
	if err != nil {
		return nil, err
	}
	b.env.unset(key)
	return nil, nil
}

func (b *builder) envResolve(args []any) (any, error) {
	text, err := stringArg(args, 0, "value")
	if err != nil {
		return nil, err
	}
	return b.env.resolve(text), nil
}

func stringArg(args []any, i int, what string) (string, error) {
	s, ok := argAt(args, i).(string)
	if !ok {
		return "", fmt.Errorf("expected %s to be a string", what)
	}
	return s, nil
}

// MatcherNames lists the matchers every expect(...) chain exposes.
func MatcherNames() []string {
	names := make([]string, 0, len(matchers()))
	for name := range matchers() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
