package caldav

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// candidatePaths are tried in priority order when locating the principal:
// the standards well-known path, the Nextcloud DAV root, then legacy
// fallbacks.
var candidatePaths = []string{
	"/.well-known/caldav",
	"/remote.php/dav",
	"/remote.php/caldav",
	"/dav",
	"/",
}

// DiscoveryResult is the resolved calendar topology of one server.
type DiscoveryResult struct {
	PrincipalURL    string
	CalendarHomeURL string
	// CandidatePath records which endpoint path produced the principal.
	CandidatePath string
	Calendars     []CalendarDesc
}

// Discover walks the candidate endpoint paths to find the current user
// principal, resolves the calendar home set from it, and enumerates the
// calendars within. It runs once per account, not per sync cycle.
//
// An authentication failure aborts the walk immediately: trying further
// paths cannot fix bad credentials. Network and path failures fall through
// to the next candidate.
func Discover(ctx context.Context, t *Transport) (*DiscoveryResult, error) {
	principal, candidate, err := findPrincipal(ctx, t)
	if err != nil {
		return nil, err
	}

	raw, err := t.Propfind(ctx, principal, 0, propfindHomeSet)
	if err != nil {
		return nil, fmt.Errorf("calendar home set lookup failed: %w", err)
	}
	home := ParseCalendarHomeSet(raw)
	if home == "" {
		return nil, fmt.Errorf("%w: principal %s has no calendar home set", ErrDiscoveryFailed, principal)
	}
	home = t.Resolve(home)

	raw, err = t.Propfind(ctx, home, 1, propfindCalendars)
	if err != nil {
		return nil, fmt.Errorf("calendar listing failed: %w", err)
	}

	cals := ParseCalendars(raw)
	for i := range cals {
		cals[i].Href = t.Resolve(cals[i].Href)
	}

	return &DiscoveryResult{
		PrincipalURL:    t.Resolve(principal),
		CalendarHomeURL: home,
		CandidatePath:   candidate,
		Calendars:       cals,
	}, nil
}

func findPrincipal(ctx context.Context, t *Transport) (href, candidate string, err error) {
	var lastErr error
	for _, path := range candidatePaths {
		raw, err := t.Propfind(ctx, path, 0, propfindPrincipal)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				return "", "", err
			}
			lastErr = err
			continue
		}
		if principal := ParsePrincipal(raw); principal != "" {
			log.Printf("discovery: principal found via %s", path)
			return principal, path, nil
		}
		// 2xx without a principal property; try the next candidate.
	}
	if lastErr != nil {
		return "", "", fmt.Errorf("%w: %w", ErrDiscoveryFailed, lastErr)
	}
	return "", "", ErrDiscoveryFailed
}
