// Package orphans removes namespaced databases whose owning application no
// longer exists.
package orphans

import (
	"context"
	"fmt"
	"regexp"
)

// App identifies one live application.
type App struct {
	UserID string
	AppID  string
}

// LiveSet is the orchestrator's view of which applications exist. It is
// built fresh for every run and never cached.
type LiveSet struct {
	pairs map[App]struct{}
	// appOnly holds IDs from payloads that carry no user ID. Such an appId
	// keeps its databases alive for every user.
	appOnly map[string]struct{}
}

// NewLiveSet builds a LiveSet from full pairs and app-only IDs.
func NewLiveSet(apps []App, appOnlyIDs []string) LiveSet {
	s := LiveSet{
		pairs:   make(map[App]struct{}, len(apps)),
		appOnly: make(map[string]struct{}, len(appOnlyIDs)),
	}
	for _, a := range apps {
		s.pairs[a] = struct{}{}
	}
	for _, id := range appOnlyIDs {
		s.appOnly[id] = struct{}{}
	}
	return s
}

// Len is the number of entries in the set.
func (s LiveSet) Len() int { return len(s.pairs) + len(s.appOnly) }

// Contains reports whether (userID, appID) is live.
func (s LiveSet) Contains(userID, appID string) bool {
	if _, ok := s.appOnly[appID]; ok {
		return true
	}
	_, ok := s.pairs[App{UserID: userID, AppID: appID}]
	return ok
}

// LiveSource fetches the live application set.
type LiveSource interface {
	ListLiveApplications(ctx context.Context) (LiveSet, error)
}

// DatabaseServer is the administrative surface of the shared database
// server.
type DatabaseServer interface {
	ListDatabases(ctx context.Context) ([]string, error)
	DropDatabase(ctx context.Context, name string) error
}

// IDs are canonical decimals; db_u01_a1 is not the database of user 1.
var dbNamePattern = regexp.MustCompile(`^db_u(0|[1-9][0-9]*)_a(0|[1-9][0-9]*)$`)

// DatabaseName returns the namespaced database name for an application.
func DatabaseName(userID, appID string) string {
	return fmt.Sprintf("db_u%s_a%s", userID, appID)
}

// ParseDatabaseName extracts the owner from a namespaced database name. ok is
// false for anything that does not match the namespace pattern exactly.
func ParseDatabaseName(name string) (userID, appID string, ok bool) {
	m := dbNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
