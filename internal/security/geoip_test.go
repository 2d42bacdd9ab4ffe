package security

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeGeoAPI(t *testing.T, countryByIP map[string]string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		ip := r.URL.Path[1:]
		country, ok := countryByIP[ip]
		if !ok {
			fmt.Fprint(w, `{"status":"fail"}`)
			return
		}
		fmt.Fprintf(w, `{"status":"success","countryCode":"%s"}`, country)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGeoChecker_DisabledAllowsAll(t *testing.T) {
	checker, err := NewGeoChecker(GeoConfig{})
	require.NoError(t, err)
	assert.True(t, checker.Allowed(context.Background(), "203.0.113.5"))
}

func TestGeoChecker_CountryFilter(t *testing.T) {
	api, _ := newFakeGeoAPI(t, map[string]string{
		"203.0.113.5": "CN",
		"198.51.100.7": "US",
	})
	checker, err := NewGeoChecker(GeoConfig{
		Enabled:          true,
		AllowedCountries: []string{"CN"},
		APIURL:           api.URL + "/",
	})
	require.NoError(t, err)

	assert.True(t, checker.Allowed(context.Background(), "203.0.113.5"))
	assert.False(t, checker.Allowed(context.Background(), "198.51.100.7"))
}

func TestGeoChecker_LookupFailureAllows(t *testing.T) {
	api, _ := newFakeGeoAPI(t, nil)
	checker, err := NewGeoChecker(GeoConfig{
		Enabled:          true,
		AllowedCountries: []string{"CN"},
		APIURL:           api.URL + "/",
	})
	require.NoError(t, err)

	// 接口返回 fail 时放行
	assert.True(t, checker.Allowed(context.Background(), "203.0.113.5"))
}

func TestGeoChecker_PrivateIPSkipsLookup(t *testing.T) {
	api, calls := newFakeGeoAPI(t, nil)
	checker, err := NewGeoChecker(GeoConfig{
		Enabled:          true,
		AllowedCountries: []string{"CN"},
		APIURL:           api.URL + "/",
	})
	require.NoError(t, err)

	assert.True(t, checker.Allowed(context.Background(), "127.0.0.1"))
	assert.True(t, checker.Allowed(context.Background(), "192.168.1.10"))
	assert.Equal(t, int64(0), calls.Load())
}

func TestGeoChecker_CachesLookups(t *testing.T) {
	api, calls := newFakeGeoAPI(t, map[string]string{"203.0.113.5": "CN"})
	checker, err := NewGeoChecker(GeoConfig{
		Enabled:          true,
		AllowedCountries: []string{"CN"},
		APIURL:           api.URL + "/",
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.True(t, checker.Allowed(context.Background(), "203.0.113.5"))
	}
	assert.Equal(t, int64(1), calls.Load())
}
