package database

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"github.com/ortelius/patchgraph/model"
	"go.uber.org/zap"
)

// ConnectionConfig holds everything needed to reach ArangoDB.
type ConnectionConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// InitialInterval and MaxInterval tune the connect backoff.
	// MaxElapsed of zero retries forever.
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

// ArangoStore implements GraphStore on ArangoDB.
type ArangoStore struct {
	Database arangodb.Database

	mu          sync.RWMutex
	collections map[string]arangodb.Collection
	logger      *zap.Logger
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// ConnectArango connects to the server with exponential backoff, creates the
// configured database when it is missing and returns a store bound to it.
func ConnectArango(ctx context.Context, cfg ConnectionConfig, logger *zap.Logger) (*ArangoStore, error) {
	var client arangodb.Client

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = cfg.MaxElapsed

	err := backoff.RetryNotify(func() error {
		logger.Info("Attempting to connect to ArangoDB", zap.String("url", cfg.URL))
		endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, cfg.User, cfg.Password))

		client = arangodb.NewClient(conn)

		versionInfo, err := client.Version(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil
	}, bo, func(err error, wait time.Duration) {
		logger.Sugar().Warnf("Retrying connection to ArangoDB in %s: %v", wait, err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ArangoDB at %s: %w", cfg.URL, err)
	}

	db, err := ensureDatabase(ctx, client, cfg.Database)
	if err != nil {
		return nil, err
	}

	return NewArangoStore(db, logger), nil
}

func ensureDatabase(ctx context.Context, client arangodb.Client, name string) (arangodb.Database, error) {
	exists := false
	dblist, err := client.Databases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	for _, dbinfo := range dblist {
		if dbinfo.Name() == name {
			exists = true
			break
		}
	}

	if exists {
		var options arangodb.GetDatabaseOptions
		db, err := client.GetDatabase(ctx, name, &options)
		if err != nil {
			return nil, fmt.Errorf("failed to get database %s: %w", name, err)
		}
		return db, nil
	}

	db, err := client.CreateDatabase(ctx, name, nil)
	if err != nil {
		// another process may have created it between the list and the create
		if shared.IsConflict(err) {
			var options arangodb.GetDatabaseOptions
			return client.GetDatabase(ctx, name, &options)
		}
		return nil, fmt.Errorf("failed to create database %s: %w", name, err)
	}
	return db, nil
}

// NewArangoStore wraps an already opened database.
func NewArangoStore(db arangodb.Database, logger *zap.Logger) *ArangoStore {
	return &ArangoStore{
		Database:    db,
		collections: make(map[string]arangodb.Collection),
		logger:      logger,
	}
}

// translate maps driver errors onto the graph error taxonomy.
func translate(err error, id string) error {
	switch {
	case err == nil:
		return nil
	case shared.IsConflict(err):
		return WrapError(ErrCodeDuplicateKey, "document key already exists", fmt.Errorf("%s: %w", id, err))
	case shared.IsNotFound(err):
		return WrapError(ErrCodeNotFound, "document not found", fmt.Errorf("%s: %w", id, err))
	}
	return err
}

func (s *ArangoStore) collection(ctx context.Context, name string) (arangodb.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	var options arangodb.GetCollectionOptions
	col, err := s.Database.GetCollection(ctx, name, &options)
	if err != nil {
		return nil, translate(err, name)
	}

	s.mu.Lock()
	s.collections[name] = col
	s.mu.Unlock()
	return col, nil
}

// CollectionExists implements GraphStore.
func (s *ArangoStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	return s.Database.CollectionExists(ctx, name)
}

// CollectionKind implements KindInspector.
func (s *ArangoStore) CollectionKind(ctx context.Context, name string) (CollectionKind, error) {
	col, err := s.collection(ctx, name)
	if err != nil {
		return "", err
	}
	props, err := col.Properties(ctx)
	if err != nil {
		return "", translate(err, name)
	}
	if props.Type == arangodb.CollectionTypeEdge {
		return KindEdge, nil
	}
	return KindDocument, nil
}

// CreateCollection implements GraphStore.
func (s *ArangoStore) CreateCollection(ctx context.Context, name string, kind CollectionKind) error {
	var props *arangodb.CreateCollectionPropertiesV2
	if kind == KindEdge {
		edgeType := arangodb.CollectionTypeEdge
		props = &arangodb.CreateCollectionPropertiesV2{
			Type: &edgeType,
		}
	}

	col, err := s.Database.CreateCollectionV2(ctx, name, props)
	if err != nil {
		return translate(err, name)
	}

	s.mu.Lock()
	s.collections[name] = col
	s.mu.Unlock()
	return nil
}

// DocumentExists implements GraphStore.
func (s *ArangoStore) DocumentExists(ctx context.Context, collection, key string) (bool, error) {
	col, err := s.collection(ctx, collection)
	if err != nil {
		return false, err
	}
	return col.DocumentExists(ctx, key)
}

// InsertDocument implements GraphStore. A non-empty key is written as _key.
func (s *ArangoStore) InsertDocument(ctx context.Context, collection, key string, fields any) (string, error) {
	col, err := s.collection(ctx, collection)
	if err != nil {
		return "", err
	}

	doc := fields
	if key != "" {
		if doc, err = withKey(fields, key); err != nil {
			return "", err
		}
	}

	meta, err := col.CreateDocument(ctx, doc)
	if err != nil {
		return "", translate(err, DocumentID(collection, key))
	}
	return meta.Key, nil
}

// InsertEdge implements GraphStore.
func (s *ArangoStore) InsertEdge(ctx context.Context, collection string, edge model.EdgeDocument) (string, error) {
	col, err := s.collection(ctx, collection)
	if err != nil {
		return "", err
	}

	meta, err := col.CreateDocument(ctx, edge)
	if err != nil {
		return "", translate(err, DocumentID(collection, edge.Key))
	}
	return meta.Key, nil
}

// ReadDocument implements GraphStore.
func (s *ArangoStore) ReadDocument(ctx context.Context, collection, key string, out any) error {
	col, err := s.collection(ctx, collection)
	if err != nil {
		return err
	}
	_, err = col.ReadDocument(ctx, key, out)
	return translate(err, DocumentID(collection, key))
}

// EnsureIndex implements Indexer. Existing indexes with the same name are left alone.
func (s *ArangoStore) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	col, err := s.collection(ctx, spec.Collection)
	if err != nil {
		return err
	}

	if indexes, err := col.Indexes(ctx); err == nil {
		for _, index := range indexes {
			if spec.Name == index.Name {
				return nil
			}
		}
	}

	unique := spec.Unique
	sparse := spec.Sparse
	indexOptions := arangodb.CreatePersistentIndexOptions{
		Unique: &unique,
		Sparse: &sparse,
		Name:   spec.Name,
	}

	if _, created, err := col.EnsurePersistentIndex(ctx, spec.Fields, &indexOptions); err != nil {
		return fmt.Errorf("error creating index %s on %s: %w", spec.Name, spec.Collection, err)
	} else if created {
		s.logger.Sugar().Infof("Created index: %s on %s%v", spec.Name, spec.Collection, spec.Fields)
	}
	return nil
}

// withKey returns a copy of fields carrying _key. Types without a known key
// field are round-tripped through JSON into a map.
func withKey(fields any, key string) (any, error) {
	switch doc := fields.(type) {
	case map[string]any:
		cp := make(map[string]any, len(doc)+1)
		for k, v := range doc {
			cp[k] = v
		}
		cp["_key"] = key
		return cp, nil
	case *model.PatchDocument:
		cp := *doc
		cp.Key = key
		return &cp, nil
	case *model.ProductDocument:
		cp := *doc
		cp.Key = key
		return &cp, nil
	case *model.VulnerabilityDocument:
		cp := *doc
		cp.Key = key
		return &cp, nil
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, WrapError(ErrCodeInvalidRecord, "document is not JSON-encodable", err).WithContext("key", key)
	}
	var cp map[string]any
	if err := json.Unmarshal(raw, &cp); err != nil || cp == nil {
		return nil, WrapError(ErrCodeInvalidRecord, "document must encode as a JSON object", err).WithContext("key", key)
	}
	cp["_key"] = key
	return cp, nil
}

var (
	_ GraphStore = (*ArangoStore)(nil)
	_ Indexer       = (*ArangoStore)(nil)
	_ KindInspector = (*ArangoStore)(nil)
)
