package caldav

import (
	"strings"
	"testing"
)

const principalResponse = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/remote.php/dav/</d:href>
    <d:propstat>
      <d:prop>
        <d:current-user-principal>
          <d:href>/remote.php/dav/principals/users/alice/</d:href>
        </d:current-user-principal>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

// Same document, different prefix convention.
const principalResponseAltPrefix = `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/dav/</D:href>
    <D:propstat>
      <D:prop>
        <D:current-user-principal>
          <D:href>/dav/principals/bob/</D:href>
        </D:current-user-principal>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

func TestParsePrincipal(t *testing.T) {
	t.Run("extracts principal href", func(t *testing.T) {
		got := ParsePrincipal([]byte(principalResponse))
		if got != "/remote.php/dav/principals/users/alice/" {
			t.Errorf("unexpected principal: %q", got)
		}
	})

	t.Run("tolerates different namespace prefixes", func(t *testing.T) {
		got := ParsePrincipal([]byte(principalResponseAltPrefix))
		if got != "/dav/principals/bob/" {
			t.Errorf("unexpected principal: %q", got)
		}
	})

	t.Run("malformed input yields empty string", func(t *testing.T) {
		if got := ParsePrincipal([]byte("not xml at all")); got != "" {
			t.Errorf("expected empty principal, got %q", got)
		}
	})

	t.Run("missing property yields empty string", func(t *testing.T) {
		raw := `<d:multistatus xmlns:d="DAV:"><d:response><d:href>/</d:href></d:response></d:multistatus>`
		if got := ParsePrincipal([]byte(raw)); got != "" {
			t.Errorf("expected empty principal, got %q", got)
		}
	})
}

func TestParseCalendarHomeSet(t *testing.T) {
	raw := `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/remote.php/dav/principals/users/alice/</d:href>
    <d:propstat>
      <d:prop>
        <c:calendar-home-set>
          <d:href>/remote.php/dav/calendars/alice/</d:href>
        </c:calendar-home-set>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	got := ParseCalendarHomeSet([]byte(raw))
	if got != "/remote.php/dav/calendars/alice/" {
		t.Errorf("unexpected home set: %q", got)
	}
}

const calendarListResponse = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav" xmlns:cs="http://calendarserver.org/ns/" xmlns:x1="http://apple.com/ns/ical/">
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/></d:resourcetype>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/personal/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
        <d:displayname>Personal</d:displayname>
        <x1:calendar-color>#0082C9FF</x1:calendar-color>
        <cs:getctag>ctag-1</cs:getctag>
        <d:sync-token>http://sabre.io/ns/sync/5</d:sync-token>
        <d:current-user-privilege-set>
          <d:privilege><d:read/></d:privilege>
          <d:privilege><d:write/></d:privilege>
        </d:current-user-privilege-set>
        <c:supported-calendar-component-set>
          <c:comp name="VEVENT"/>
          <c:comp name="VTODO"/>
        </c:supported-calendar-component-set>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/shared/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
        <d:displayname>Shared</d:displayname>
        <cs:getctag>ctag-2</cs:getctag>
        <d:current-user-privilege-set>
          <d:privilege><d:read/></d:privilege>
        </d:current-user-privilege-set>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/calendars/alice/inbox/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/></d:resourcetype>
        <d:displayname>Inbox</d:displayname>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func TestParseCalendars(t *testing.T) {
	cals := ParseCalendars([]byte(calendarListResponse))

	if len(cals) != 2 {
		t.Fatalf("expected 2 calendars (non-calendar collections filtered), got %d", len(cals))
	}

	personal := cals[0]
	if personal.Name != "Personal" {
		t.Errorf("unexpected name: %q", personal.Name)
	}
	if personal.Color != "#0082C9" {
		t.Errorf("expected alpha channel stripped, got %q", personal.Color)
	}
	if personal.CTag != "ctag-1" {
		t.Errorf("unexpected ctag: %q", personal.CTag)
	}
	if personal.SyncToken != "http://sabre.io/ns/sync/5" {
		t.Errorf("unexpected sync token: %q", personal.SyncToken)
	}
	if personal.ReadOnly {
		t.Error("calendar with write privilege should not be read-only")
	}
	if !personal.SupportsEvents {
		t.Error("calendar with VEVENT comp should support events")
	}

	shared := cals[1]
	if shared.Name != "Shared" {
		t.Errorf("unexpected name: %q", shared.Name)
	}
	if !shared.ReadOnly {
		t.Error("calendar without write privilege should be read-only")
	}
	if !shared.SupportsEvents {
		t.Error("calendar without a component set should default to supporting events")
	}
}

func TestParseCollectionState(t *testing.T) {
	raw := `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:cs="http://calendarserver.org/ns/">
  <d:response>
    <d:href>/cal/personal/</d:href>
    <d:propstat>
      <d:prop>
        <cs:getctag>ctag-9</cs:getctag>
        <d:sync-token>token-9</d:sync-token>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	state := ParseCollectionState([]byte(raw))
	if state.CTag != "ctag-9" {
		t.Errorf("unexpected ctag: %q", state.CTag)
	}
	if state.SyncToken != "token-9" {
		t.Errorf("unexpected sync token: %q", state.SyncToken)
	}

	if got := ParseCTag([]byte(raw)); got != "ctag-9" {
		t.Errorf("ParseCTag: %q", got)
	}
}

func TestParseEventEntries(t *testing.T) {
	raw := `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/cal/personal/ev1.ics</d:href>
    <d:propstat>
      <d:prop>
        <d:getetag>"etag-1"</d:getetag>
        <c:calendar-data>BEGIN:VCALENDAR
BEGIN:VEVENT
UID:ev1
END:VEVENT
END:VCALENDAR</c:calendar-data>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/cal/personal/ev2.ics</d:href>
    <d:propstat>
      <d:prop>
        <d:getetag>W/"etag-2"</d:getetag>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	entries := ParseEventEntries([]byte(raw))
	if len(entries) != 1 {
		t.Fatalf("expected entries without calendar-data to be skipped, got %d", len(entries))
	}
	if entries[0].Href != "/cal/personal/ev1.ics" {
		t.Errorf("unexpected href: %q", entries[0].Href)
	}
	if entries[0].ETag != "etag-1" {
		t.Errorf("expected quotes stripped from etag, got %q", entries[0].ETag)
	}
}

func TestParseSyncCollection(t *testing.T) {
	raw := `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/cal/personal/changed.ics</d:href>
    <d:propstat>
      <d:prop>
        <d:getetag>"new-etag"</d:getetag>
        <c:calendar-data>BEGIN:VCALENDAR
BEGIN:VEVENT
UID:changed
END:VEVENT
END:VCALENDAR</c:calendar-data>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/cal/personal/gone.ics</d:href>
    <d:status>HTTP/1.1 404 Not Found</d:status>
  </d:response>
  <d:sync-token>http://sabre.io/ns/sync/6</d:sync-token>
</d:multistatus>`

	resp := ParseSyncCollection([]byte(raw))

	if resp.SyncToken != "http://sabre.io/ns/sync/6" {
		t.Errorf("expected top-level sync token, got %q", resp.SyncToken)
	}
	if len(resp.Changed) != 1 || resp.Changed[0].Href != "/cal/personal/changed.ics" {
		t.Fatalf("unexpected changed set: %+v", resp.Changed)
	}
	if resp.Changed[0].ETag != "new-etag" {
		t.Errorf("unexpected etag: %q", resp.Changed[0].ETag)
	}
	if len(resp.Deleted) != 1 || resp.Deleted[0] != "/cal/personal/gone.ics" {
		t.Fatalf("unexpected deleted set: %+v", resp.Deleted)
	}
}

func TestReportSyncCollectionBody(t *testing.T) {
	initial := reportSyncCollection("")
	if !strings.Contains(initial, "<D:sync-token/>") {
		t.Errorf("expected empty token to request an initial sync, got:\n%s", initial)
	}
	if !strings.Contains(initial, "<D:sync-level>1</D:sync-level>") {
		t.Errorf("missing sync-level element:\n%s", initial)
	}
	if !strings.Contains(initial, "<D:getetag/>") || !strings.Contains(initial, "<C:calendar-data/>") {
		t.Errorf("body must request etag and payload per entry:\n%s", initial)
	}

	followUp := reportSyncCollection(`http://sabre.io/ns/sync/6?a=1&b="x"`)
	want := "<D:sync-token>http://sabre.io/ns/sync/6?a=1&amp;b=&quot;x&quot;</D:sync-token>"
	if !strings.Contains(followUp, want) {
		t.Errorf("expected escaped token element %q in:\n%s", want, followUp)
	}
}

func TestNormalizeColor(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"strips alpha channel", "#0082C9FF", "#0082C9"},
		{"six digit passthrough", "#0082C9", "#0082C9"},
		{"uppercases", "#0082c9", "#0082C9"},
		{"rejects garbage", "notacolor", ""},
		{"rejects short hex", "#FFF", ""},
		{"rejects empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeColor(tt.input); got != tt.want {
				t.Errorf("NormalizeColor(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
