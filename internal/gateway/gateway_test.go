package gateway_test

import (
	"testing"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DispatchesByProvider(t *testing.T) {
	vnp := newTestVNPay(t, false)
	sep := newTestSePay(t, false)
	reg := gateway.NewRegistry(vnp, sep)

	g, err := reg.For(model.ProviderVNPay)
	require.NoError(t, err)
	assert.Same(t, vnp, g)

	g, err = reg.For(model.ProviderSePay)
	require.NoError(t, err)
	assert.Same(t, sep, g)

	_, err = reg.For(model.ProviderFree)
	assert.ErrorIs(t, err, gateway.ErrUnsupportedProvider)
}

func TestNormalizeIPv4(t *testing.T) {
	cases := map[string]string{
		"1.2.3.4":                 "1.2.3.4",
		"1.2.3.4:5678":            "1.2.3.4",
		"::1":                     "127.0.0.1",
		"[::1]:8080":              "127.0.0.1",
		"::ffff:10.0.0.5":         "10.0.0.5",
		"[::ffff:10.0.0.5]:443":   "10.0.0.5",
		" 203.0.113.9, 10.0.0.1 ": "203.0.113.9",
		"2001:db8::1":             "2001:db8::1",
		"":                        "127.0.0.1",
		"garbage":                 "127.0.0.1",
	}
	for in, want := range cases {
		assert.Equal(t, want, gateway.NormalizeIPv4(in), in)
	}
}
