package caldav

import (
	"encoding/xml"
	"regexp"
	"strings"
)

// The decoder turns multi-status XML replies into typed values. Every parse
// function is pure and total: malformed input yields zero values, never an
// error, so a missing property and a broken reply look the same to callers,
// which treat "no data" as the safe default. Struct tags carry only local
// element names, so namespace prefix conventions (D:, d:, ns0:, none) are
// irrelevant.

// CalendarDesc describes one calendar collection found on the server.
type CalendarDesc struct {
	Href           string
	Name           string
	Color          string
	CTag           string
	SyncToken      string
	ReadOnly       bool
	SupportsEvents bool
}

// CollectionState is the pair of version stamps for a whole collection.
type CollectionState struct {
	CTag      string
	SyncToken string
}

// EventEntry is one calendar object from an event listing.
type EventEntry struct {
	Href string
	ETag string
	Data string
}

// SyncCollectionResponse is the decoded result of a sync-collection REPORT:
// entries changed or removed since the request's sync-token, plus the fresh
// collection-wide token.
type SyncCollectionResponse struct {
	SyncToken string
	Changed   []EventEntry
	Deleted   []string
}

type multistatus struct {
	XMLName   xml.Name     `xml:"multistatus"`
	SyncToken string       `xml:"sync-token"`
	Responses []msResponse `xml:"response"`
}

type msResponse struct {
	Href      string       `xml:"href"`
	Status    string       `xml:"status"`
	Propstats []msPropstat `xml:"propstat"`
}

type msPropstat struct {
	Status string `xml:"status"`
	Prop   msProp `xml:"prop"`
}

type msProp struct {
	DisplayName          string        `xml:"displayname"`
	ResourceType         *resourceType `xml:"resourcetype"`
	CalendarColor        string        `xml:"calendar-color"`
	GetCTag              string        `xml:"getctag"`
	SyncToken            string        `xml:"sync-token"`
	GetETag              string        `xml:"getetag"`
	CalendarData         string        `xml:"calendar-data"`
	CurrentUserPrincipal *hrefProp     `xml:"current-user-principal"`
	CalendarHomeSet      *hrefProp     `xml:"calendar-home-set"`
	PrivilegeSet         *privilegeSet `xml:"current-user-privilege-set"`
	SupportedSet         *componentSet `xml:"supported-calendar-component-set"`
}

type hrefProp struct {
	Href string `xml:"href"`
}

type resourceType struct {
	Calendar *struct{} `xml:"calendar"`
}

type privilegeSet struct {
	Privileges []privilege `xml:"privilege"`
}

type privilege struct {
	Write        *struct{} `xml:"write"`
	WriteContent *struct{} `xml:"write-content"`
	All          *struct{} `xml:"all"`
}

type componentSet struct {
	Comps []componentName `xml:"comp"`
}

type componentName struct {
	Name string `xml:"name,attr"`
}

func parseMultistatus(raw []byte) *multistatus {
	var ms multistatus
	if err := xml.Unmarshal(raw, &ms); err != nil {
		return nil
	}
	return &ms
}

// okProp returns the prop of the first propstat with a 200 status.
func (r *msResponse) okProp() *msProp {
	for i := range r.Propstats {
		if strings.Contains(r.Propstats[i].Status, "200") {
			return &r.Propstats[i].Prop
		}
	}
	return nil
}

func (r *msResponse) notFound() bool {
	if strings.Contains(r.Status, "404") {
		return true
	}
	if r.okProp() != nil {
		return false
	}
	for i := range r.Propstats {
		if strings.Contains(r.Propstats[i].Status, "404") {
			return true
		}
	}
	return false
}

// ParsePrincipal extracts the current-user-principal href.
func ParsePrincipal(raw []byte) string {
	ms := parseMultistatus(raw)
	if ms == nil {
		return ""
	}
	for i := range ms.Responses {
		prop := ms.Responses[i].okProp()
		if prop != nil && prop.CurrentUserPrincipal != nil {
			return strings.TrimSpace(prop.CurrentUserPrincipal.Href)
		}
	}
	return ""
}

// ParseCalendarHomeSet extracts the calendar-home-set href.
func ParseCalendarHomeSet(raw []byte) string {
	ms := parseMultistatus(raw)
	if ms == nil {
		return ""
	}
	for i := range ms.Responses {
		prop := ms.Responses[i].okProp()
		if prop != nil && prop.CalendarHomeSet != nil {
			return strings.TrimSpace(prop.CalendarHomeSet.Href)
		}
	}
	return ""
}

// ParseCalendars extracts the calendar collections from a depth-1 listing.
// Only resources whose resourcetype includes calendar qualify.
func ParseCalendars(raw []byte) []CalendarDesc {
	ms := parseMultistatus(raw)
	if ms == nil {
		return nil
	}

	var cals []CalendarDesc
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		prop := resp.okProp()
		if prop == nil || prop.ResourceType == nil || prop.ResourceType.Calendar == nil {
			continue
		}

		cals = append(cals, CalendarDesc{
			Href:           strings.TrimSpace(resp.Href),
			Name:           prop.DisplayName,
			Color:          NormalizeColor(prop.CalendarColor),
			CTag:           prop.GetCTag,
			SyncToken:      prop.SyncToken,
			ReadOnly:       isReadOnly(prop.PrivilegeSet),
			SupportsEvents: supportsEvents(prop.SupportedSet),
		})
	}
	return cals
}

// ParseCTag extracts a bare change-tag from a depth-0 property reply.
func ParseCTag(raw []byte) string {
	return ParseCollectionState(raw).CTag
}

// ParseCollectionState extracts the {change-tag, sync-token} pair.
func ParseCollectionState(raw []byte) CollectionState {
	ms := parseMultistatus(raw)
	if ms == nil {
		return CollectionState{}
	}
	for i := range ms.Responses {
		prop := ms.Responses[i].okProp()
		if prop == nil {
			continue
		}
		if prop.GetCTag != "" || prop.SyncToken != "" {
			return CollectionState{CTag: prop.GetCTag, SyncToken: prop.SyncToken}
		}
	}
	return CollectionState{}
}

// ParseEventEntries extracts per-event payloads and etags from a
// calendar-query or multiget reply. Entries without calendar-data (the
// collection itself, tombstones) are skipped.
func ParseEventEntries(raw []byte) []EventEntry {
	ms := parseMultistatus(raw)
	if ms == nil {
		return nil
	}

	var entries []EventEntry
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		prop := resp.okProp()
		if prop == nil || strings.TrimSpace(prop.CalendarData) == "" {
			continue
		}
		entries = append(entries, EventEntry{
			Href: strings.TrimSpace(resp.Href),
			ETag: trimETag(prop.GetETag),
			Data: prop.CalendarData,
		})
	}
	return entries
}

// ParseSyncCollection decodes an incremental sync-collection reply. Each
// entry is classified as added/changed (propstat 200) or deleted (404 at
// the response or propstat level). The fresh token comes from the top-level
// sync-token element only, never a per-entry one.
func ParseSyncCollection(raw []byte) SyncCollectionResponse {
	ms := parseMultistatus(raw)
	if ms == nil {
		return SyncCollectionResponse{}
	}

	out := SyncCollectionResponse{SyncToken: strings.TrimSpace(ms.SyncToken)}
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		if resp.notFound() {
			out.Deleted = append(out.Deleted, strings.TrimSpace(resp.Href))
			continue
		}
		prop := resp.okProp()
		if prop == nil {
			continue
		}
		out.Changed = append(out.Changed, EventEntry{
			Href: strings.TrimSpace(resp.Href),
			ETag: trimETag(prop.GetETag),
			Data: prop.CalendarData,
		})
	}
	return out
}

var colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{6})([0-9a-fA-F]{2})?$`)

// NormalizeColor canonicalizes a vendor calendar color. Eight-hex-digit
// values carry an alpha channel that is stripped; anything that is not a
// hex color yields "".
func NormalizeColor(color string) string {
	m := colorPattern.FindStringSubmatch(strings.TrimSpace(color))
	if m == nil {
		return ""
	}
	return "#" + strings.ToUpper(m[1])
}

// isReadOnly reports whether the privilege set denies writing. A reply
// without a privilege set is treated as writable; only an explicit set
// lacking any write privilege marks the calendar read-only.
func isReadOnly(set *privilegeSet) bool {
	if set == nil {
		return false
	}
	for _, p := range set.Privileges {
		if p.Write != nil || p.WriteContent != nil || p.All != nil {
			return false
		}
	}
	return true
}

// supportsEvents reports whether VEVENT is in the supported component set.
// Servers that omit the property are assumed to support events.
func supportsEvents(set *componentSet) bool {
	if set == nil {
		return true
	}
	for _, c := range set.Comps {
		if strings.EqualFold(c.Name, "VEVENT") {
			return true
		}
	}
	return false
}
