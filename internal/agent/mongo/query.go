package mongo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	DefaultFindLimit = 50
	MaxFindLimit     = 200
	MaxFindSkip      = 10000
)

var (
	// ErrInvalidQuery marks caller mistakes: bad collection name, bad JSON,
	// out-of-range paging.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrForbiddenCollection is returned for system.* collections.
	ErrForbiddenCollection = errors.New("access to system.* collections is forbidden")
)

var collectionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,119}$`)

// ValidateCollection checks a caller-supplied collection name.
func ValidateCollection(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidQuery)
	}
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("%w: collection name may only contain letters, digits, '_', '-', '.' (max 120)", ErrInvalidQuery)
	}
	if strings.HasPrefix(name, "system.") {
		return ErrForbiddenCollection
	}
	return nil
}

// FindQuery is a read-only query against one collection. Filter, Projection
// and Sort are Extended JSON objects; empty means none.
type FindQuery struct {
	Collection string
	Filter     string
	Projection string
	Sort       string
	Limit      int
	Skip       int
}

// compiledQuery is a FindQuery with its JSON parsed.
type compiledQuery struct {
	collection string
	filter     bson.D
	projection bson.D
	sort       bson.D
	limit      int64
	skip       int64
}

func (q FindQuery) compile() (compiledQuery, error) {
	if err := ValidateCollection(q.Collection); err != nil {
		return compiledQuery{}, err
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultFindLimit
	}
	if limit < 1 || limit > MaxFindLimit {
		return compiledQuery{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxFindLimit)
	}
	if q.Skip < 0 || q.Skip > MaxFindSkip {
		return compiledQuery{}, fmt.Errorf("%w: skip must be between 0 and %d", ErrInvalidQuery, MaxFindSkip)
	}

	c := compiledQuery{
		collection: strings.TrimSpace(q.Collection),
		filter:     bson.D{},
		limit:      int64(limit),
		skip:       int64(q.Skip),
	}
	var err error
	if c.filter, err = parseDoc("filter", q.Filter, bson.D{}); err != nil {
		return compiledQuery{}, err
	}
	if c.projection, err = parseDoc("projection", q.Projection, nil); err != nil {
		return compiledQuery{}, err
	}
	if c.sort, err = parseDoc("sort", q.Sort, nil); err != nil {
		return compiledQuery{}, err
	}
	return c, nil
}

// parseDoc decodes relaxed Extended JSON into an ordered document.
func parseDoc(field, raw string, def bson.D) (bson.D, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &d); err != nil {
		return nil, fmt.Errorf("%w: %s is not a JSON object: %v", ErrInvalidQuery, field, err)
	}
	return d, nil
}

// documentID interprets id as an ObjectID when it parses as one.
func documentID(id string) any {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}
