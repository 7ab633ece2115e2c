// Package mongo talks to the shared database server: administrative
// list/drop for the orphan reconciler and a read-only explorer for an app's
// namespaced database.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/funai-studio/runtime-agent/internal/agent/orphans"
)

const (
	DefaultPort       = 27017
	DefaultAuthSource = "admin"

	// queryTimeout bounds a single explorer query.
	queryTimeout = 3 * time.Second
)

// ErrNotNamespaced is returned by DropDatabase for names outside the
// db_u{userId}_a{appId} namespace.
var ErrNotNamespaced = errors.New("database is not a namespaced application database")

// Config locates and authenticates against the database server.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	AuthSource string
	// ConnectTimeout bounds server selection. Defaults to 5s.
	ConnectTimeout time.Duration
}

// Server is a connection to the shared database server.
type Server struct {
	client *mongo.Client
}

// Connect creates a client. The driver dials lazily; use Ping to verify
// reachability.
func Connect(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		return nil, errors.New("mongo: host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := options.Client().
		ApplyURI("mongodb://" + net.JoinHostPort(cfg.Host, strconv.Itoa(port))).
		SetServerSelectionTimeout(timeout).
		SetAppName("rtagent")
	if cfg.Username != "" && cfg.Password != "" {
		src := cfg.AuthSource
		if src == "" {
			src = DefaultAuthSource
		}
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: src,
		})
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return &Server{client: client}, nil
}

// Close disconnects the client.
func (s *Server) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the server is reachable with the configured credentials.
func (s *Server) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	return nil
}

// ListDatabases returns every database name on the server.
func (s *Server) ListDatabases(ctx context.Context) ([]string, error) {
	names, err := s.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	return names, nil
}

// DropDatabase drops a namespaced application database. Other names are
// refused.
func (s *Server) DropDatabase(ctx context.Context, name string) error {
	if _, _, ok := orphans.ParseDatabaseName(name); !ok {
		return fmt.Errorf("drop %q: %w", name, ErrNotNamespaced)
	}
	if err := s.client.Database(name).Drop(ctx); err != nil {
		return fmt.Errorf("drop %q: %w", name, err)
	}
	return nil
}

// ListCollections returns the sorted collection names of the app's
// database.
func (s *Server) ListCollections(ctx context.Context, userID, appID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	names, err := s.client.Database(orphans.DatabaseName(userID, appID)).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// FindResult is one page of documents rendered as relaxed Extended JSON.
type FindResult struct {
	Database   string
	Collection string
	Limit      int
	Skip       int
	Items      []json.RawMessage
}

// Find runs a read-only query against a collection of the app's database.
// Validation failures wrap ErrInvalidQuery or ErrForbiddenCollection.
func (s *Server) Find(ctx context.Context, userID, appID string, q FindQuery) (FindResult, error) {
	cq, err := q.compile()
	if err != nil {
		return FindResult{}, err
	}
	dbName := orphans.DatabaseName(userID, appID)
	res := FindResult{
		Database:   dbName,
		Collection: cq.collection,
		Limit:      int(cq.limit),
		Skip:       int(cq.skip),
		Items:      []json.RawMessage{},
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	opts := options.Find().SetLimit(cq.limit).SetSkip(cq.skip)
	if cq.projection != nil {
		opts.SetProjection(cq.projection)
	}
	if cq.sort != nil {
		opts.SetSort(cq.sort)
	}
	cur, err := s.client.Database(dbName).Collection(cq.collection).Find(ctx, cq.filter, opts)
	if err != nil {
		return res, fmt.Errorf("find: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		doc, err := bson.MarshalExtJSON(cur.Current, false, false)
		if err != nil {
			return res, fmt.Errorf("encode document: %w", err)
		}
		res.Items = append(res.Items, json.RawMessage(doc))
	}
	if err := cur.Err(); err != nil {
		return res, fmt.Errorf("find: %w", err)
	}
	return res, nil
}

// FindByID returns one document by _id, or nil when there is none. id is
// treated as an ObjectID when it parses as one.
func (s *Server) FindByID(ctx context.Context, userID, appID, collection, id string) (json.RawMessage, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	raw, err := s.client.Database(orphans.DatabaseName(userID, appID)).
		Collection(collection).
		FindOne(ctx, bson.D{{Key: "_id", Value: documentID(id)}}).
		Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find one: %w", err)
	}
	doc, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}
