package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKubeignore(t *testing.T) {
	ki := ParseKubeignore(`
# system namespaces
kube-system/*
kube-public

*/Secret/*
prod/Pod/canary-*
`)
	require.Equal(t, 4, ki.Len())

	tests := map[string]struct {
		namespace, kind, name string
		want                  bool
	}{
		"namespace wildcard":        {"kube-system", "Pod", "coredns-abc", true},
		"bare namespace pattern":    {"kube-public", "ConfigMap", "info", true},
		"kind everywhere":           {"staging", "Secret", "tls-cert", true},
		"name prefix":               {"prod", "Pod", "canary-7f9", true},
		"name prefix wrong ns":      {"staging", "Pod", "canary-7f9", false},
		"unrelated resource":        {"prod", "Deployment", "api", false},
		"kind is case sensitive":    {"staging", "secret", "tls-cert", false},
		"partial segment no match":  {"kube-system-x", "Pod", "p", false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ki.Ignored(tc.namespace, tc.kind, tc.name))
		})
	}
}

func TestKubeignore_Empty(t *testing.T) {
	assert.False(t, ParseKubeignore("").Ignored("any", "Pod", "p"))
	assert.False(t, ParseKubeignore("# only comments\n\n").Ignored("any", "Pod", "p"))

	var nilFilter *Kubeignore
	assert.False(t, nilFilter.Ignored("any", "Pod", "p"))
}

func TestLoadKubeignore_Missing(t *testing.T) {
	ki, err := LoadKubeignore(t.TempDir() + "/kubeignore")
	require.NoError(t, err)
	assert.Zero(t, ki.Len())
}

func TestKubeignore_MalformedPattern(t *testing.T) {
	// A malformed glob never matches but does not break other patterns.
	ki := ParseKubeignore("prod/[unclosed/x\nkube-system/*")
	assert.False(t, ki.Ignored("prod", "[unclosed", "x"))
	assert.True(t, ki.Ignored("kube-system", "Pod", "p"))
}
