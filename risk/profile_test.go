package risk

import (
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestFetchProfile(t *testing.T) {
	// Ensure a tuned market returns its dedicated profile.
	profile := FetchProfile("BTC")
	assert.Equal(t, profile.MaxStopPercent, 1.50/100)

	// Ensure unknown markets fall back to the default profile.
	profile = FetchProfile("DOGE")
	assert.Equal(t, profile, DefaultProfile)
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"valid profile", Profile{MinStopPercent: 0.003, MaxStopPercent: 0.02}, false},
		{"negative minimum", Profile{MinStopPercent: -0.01, MaxStopPercent: 0.02}, true},
		{"zero maximum", Profile{MinStopPercent: 0.003}, true},
		{"inverted guardrails", Profile{MinStopPercent: 0.05, MaxStopPercent: 0.02}, true},
	}

	for _, test := range tests {
		err := test.profile.Validate()
		if (err != nil) != test.wantErr {
			t.Errorf("%s: unexpected validation result: %v", test.name, err)
		}
	}

	// Ensure the registered profiles themselves validate.
	for market := range profiles {
		profile := FetchProfile(market)
		assert.NoError(t, profile.Validate())
	}
}
