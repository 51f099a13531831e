package selector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cloud-cost-allocation/core/selector"
	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/logging"
)

func TestProgramEval(t *testing.T) {
	tags := map[string]string{
		"env":            "prod",
		"team":           "data",
		"cost-center":    "42",
		"kubernetes.io/": "yes",
	}

	tests := []struct {
		selector string
		expected bool
	}{
		{"", true},
		{"   ", true},
		{"env == 'prod'", true},
		{"env == \"dev\"", false},
		{"env != 'dev'", true},
		{"'env' in globals()", true},
		{"'owner' in globals()", false},
		{"not 'owner' in globals()", true},
		{"'owner' not in globals()", true},
		{"'owner' in globals() and owner == 'me'", false},
		{"'env' in globals() and env == 'prod'", true},
		{"env == 'dev' or team == 'data'", true},
		{"env == 'dev' or (team == 'data' and env == 'prod')", true},
		{"not (env == 'prod')", false},
		{"team in ('core', 'data')", true},
		{"team in ['core']", false},
		{"team not in ('core',)", true},
		{"'ro' in env", true},
		{"cost_center == '42'", true},
		{"kubernetes_io_ == 'yes'", true},
		{"True", true},
		{"False or env", true},
		{"env == 'prod' and True and not False", true},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			program, err := selector.Compile(tt.selector)
			require.NoError(t, err)
			matched, err := program.Eval(tags)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, matched)
		})
	}
}

func TestProgramErrors(t *testing.T) {
	tests := []struct {
		selector  string
		kind      selector.ErrorKind
		atCompile bool
	}{
		{"env = 'prod'", selector.ErrSyntax, true},
		{"env == 'prod", selector.ErrSyntax, true},
		{"(env == 'prod'", selector.ErrSyntax, true},
		{"env == 'prod' and", selector.ErrSyntax, true},
		{"env == 'a' == 'b'", selector.ErrSyntax, true},
		{"__import__('os').system('ls')", selector.ErrSyntax, true},
		{"env; team", selector.ErrSyntax, true},
		{"owner == 'me'", selector.ErrUnknownIdentifier, false},
		{"True in globals()", selector.ErrType, false},
		{"env in True", selector.ErrType, false},
	}

	tags := map[string]string{"env": "prod"}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			program, err := selector.Compile(tt.selector)
			if !tt.atCompile {
				require.NoError(t, err)
				_, err = program.Eval(tags)
			}
			require.Error(t, err)
			var selErr *selector.Error
			require.ErrorAs(t, err, &selErr)
			assert.Equal(t, tt.kind, selErr.Kind)
		})
	}
}

func TestSynthesize(t *testing.T) {
	expr := selector.Synthesize("consumer-service", "it's")
	assert.Equal(t, `'consumer_service' in globals() and consumer_service == 'it\'s'`, expr)

	program, err := selector.Compile(expr)
	require.NoError(t, err)

	matched, err := program.Eval(map[string]string{"consumer-service": "it's"})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = program.Eval(map[string]string{"other": "x"})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestSanitizeIdentifier(t *testing.T) {
	assert.Equal(t, "a_b_c", selector.SanitizeIdentifier("a-b.c"))
	assert.Equal(t, "_nv", selector.SanitizeIdentifier("Env"))
	assert.Equal(t, "caf_", selector.SanitizeIdentifier("café"))
}

func TestEvaluatorDeduplicatesFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	previous := logging.Logger
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(previous) })

	evaluator := selector.NewEvaluator()
	scope := selector.Scope{ProviderService: "k8s", ProviderInstance: "k8s", Date: "2024-01-01"}
	other := selector.Scope{ProviderService: "db", ProviderInstance: "db", Date: "2024-01-01"}

	a := &types.Record{Tags: map[string]string{"env": "prod"}}
	b := &types.Record{Tags: map[string]string{"env": "dev"}}

	for i := 0; i < 3; i++ {
		assert.False(t, evaluator.Match("owner == 'me'", a, scope))
		assert.False(t, evaluator.Match("owner == 'me'", b, scope))
	}
	assert.False(t, evaluator.Match("owner == 'me'", a, other))
	assert.False(t, evaluator.Match("env =", a, scope))
	assert.True(t, evaluator.Match("env == 'prod'", a, scope))

	distinct, total := evaluator.Failures()
	assert.Equal(t, 3, distinct)
	assert.Equal(t, 8, total)
	assert.Equal(t, 3, logs.FilterMessage("Provider tag selector evaluation failed").Len())

	evaluator.Flush()
	repeated := logs.FilterMessage("Provider tag selector evaluation failed repeatedly").All()
	require.Len(t, repeated, 1)
	assert.Equal(t, int64(6), repeated[0].ContextMap()["occurrences"])
}

func TestEvaluatorEmptySelectorMatches(t *testing.T) {
	evaluator := selector.NewEvaluator()
	assert.True(t, evaluator.Match("", &types.Record{}, selector.Scope{}))
}
