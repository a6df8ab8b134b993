package proxy

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

func testSecret() Secret {
	return Secret{
		EndpointHost: "pr.example.net",
		Port:         7777,
		CustomerID:   "cust-abc",
		Password:     "s3cret+pass/word",
	}
}

func TestValidateRejectsPreEncodedPassword(t *testing.T) {
	t.Parallel()

	secret := testSecret()
	secret.Password = "s3cret%2Bpass"
	err := secret.Validate()
	if err == nil {
		t.Fatal("expected rejection of pre-encoded password")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidateAcceptsRawReservedCharacters(t *testing.T) {
	t.Parallel()

	secret := testSecret()
	secret.Password = "pw+with/reserved:chars@!"
	if err := secret.Validate(); err != nil {
		t.Fatalf("raw reserved characters must be accepted: %v", err)
	}
}

func TestBuildURLEncodesPasswordExactlyOnce(t *testing.T) {
	t.Parallel()

	secret := testSecret()
	secret.Password = "pa+ss wo%rd"

	raw := secret.BuildURL("abcd1")
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse built url: %v", err)
	}
	decoded, ok := parsed.User.Password()
	if !ok {
		t.Fatal("password missing from url")
	}
	// Round trip: decode(encode(p)) == p.
	if decoded != secret.Password {
		t.Fatalf("decoded password %q != original %q", decoded, secret.Password)
	}
	// The rendered URL must not contain the raw password (it has reserved
	// characters, so at least one escape is required).
	if strings.Contains(raw, "pa+ss wo%rd") {
		t.Fatal("password not encoded in rendered url")
	}
}

func TestBuildURLUsernameCarriesSessionAndGeo(t *testing.T) {
	t.Parallel()

	secret := testSecret()
	secret.GeoEnabled = true
	secret.Country = "US"

	parsed, err := url.Parse(secret.BuildURL("f00d42"))
	if err != nil {
		t.Fatalf("parse built url: %v", err)
	}
	username := parsed.User.Username()
	for _, want := range []string{"customer-cust-abc", "cc-us", "sessid-f00d42"} {
		if !strings.Contains(username, want) {
			t.Fatalf("username %q missing %q", username, want)
		}
	}
}

func TestValidateRequiresCountryWhenGeoEnabled(t *testing.T) {
	t.Parallel()

	secret := testSecret()
	secret.GeoEnabled = true
	if err := secret.Validate(); err == nil {
		t.Fatal("expected country requirement")
	}
}
