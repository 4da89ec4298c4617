package mediator

import (
	"bytes"
	"strings"
	"testing"
)

func TestLinkOfferRoundTrip(t *testing.T) {
	c := NewClient(
		WithIdentity("MYIDENT1"),
		WithDeviceGroupKey(bytes.Repeat([]byte{7}, 32)),
	)
	offer, err := c.NewLinkOffer()
	if err != nil {
		t.Fatal(err)
	}

	uri := offer.URI()
	if !strings.HasPrefix(uri, "mdmesh://join/") {
		t.Fatalf("uri = %q", uri)
	}

	got, err := ParseLinkURI(uri)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != offer.SessionID {
		t.Errorf("session = %s, want %s", got.SessionID, offer.SessionID)
	}
	if got.Identity != "MYIDENT1" {
		t.Errorf("identity = %q", got.Identity)
	}
	if !bytes.Equal(got.DeviceGroupKey, offer.DeviceGroupKey) {
		t.Error("device group key mangled")
	}
}

func TestParseLinkURIErrors(t *testing.T) {
	for _, uri := range []string{
		"",
		"https://join/x",
		"mdmesh://other/00000000-0000-0000-0000-000000000000",
		"mdmesh://join/not-a-uuid",
		"mdmesh://join/00000000-0000-0000-0000-000000000000?identity=A&dgk=short",
		"mdmesh://join/00000000-0000-0000-0000-000000000000?dgk=" + strings.Repeat("A", 43),
	} {
		if _, err := ParseLinkURI(uri); err == nil {
			t.Errorf("ParseLinkURI(%q): want error", uri)
		}
	}
}
