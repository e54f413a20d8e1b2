package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		raw  string
		host string
		want string
	}{
		{"http://m.site.com/hotel/x.html?a=1#b", "www.site.com", "https://www.site.com/hotel/x.html"},
		{"https://www.booking.com/hotel/de/adlon.de.html?aid=1&label=x", BookingHost, "https://www.booking.com/hotel/de/adlon.de.html"},
		{"booking.com/hotel/it/roma.html", BookingHost, "https://www.booking.com/hotel/it/roma.html"},
		{"/hotel/fr/louvre.html?checkin=2025-01-01", BookingHost, "https://www.booking.com/hotel/fr/louvre.html"},
		{"HTTPS://DE.Booking.com//hotel/de/./x.html", BookingHost, "https://www.booking.com/hotel/de/x.html"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Canonicalize(tt.raw, tt.host)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	_, err := Canonicalize("https://www.expedia.com/hotel/x.html", BookingHost)
	assert.ErrorIs(t, err, ErrForeignHost)

	_, err = Canonicalize("https://notbooking.com/hotel/x.html", BookingHost)
	assert.ErrorIs(t, err, ErrForeignHost)

	_, err = Canonicalize("  ", BookingHost)
	assert.Error(t, err)
}

func TestLooksLikePropertyURL(t *testing.T) {
	assert.True(t, LooksLikePropertyURL("https://www.booking.com/hotel/de/adlon.html"))
	assert.True(t, LooksLikePropertyURL("https://www.booking.com/hotel/de/adlon.en-gb.html"))
	assert.False(t, LooksLikePropertyURL("https://www.booking.com/searchresults.html"))

	cc, name, ok := propertyPathParts("https://www.booking.com/hotel/de/adlon-kempinski.en-gb.html")
	require.True(t, ok)
	assert.Equal(t, "de", cc)
	assert.Equal(t, "adlon-kempinski", name)
}
