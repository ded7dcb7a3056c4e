package geoip_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pulsekit/internal/pkg/geoip"
	"pulsekit/internal/testsupport"
)

func TestCountryCode(t *testing.T) {
	geoip.InitLogger(testsupport.GetLogger())

	t.Run("resolves to unknown without a database", func(t *testing.T) {
		assert.Equal(t, "", geoip.CountryCode("203.0.113.9"))
	})

	t.Run("resolves invalid addresses to unknown", func(t *testing.T) {
		assert.Equal(t, "", geoip.CountryCode("not-an-ip"))
		assert.Equal(t, "", geoip.CountryCode(""))
	})
}
