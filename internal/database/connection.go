package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudstore/cloudstore-go/internal/utils"
	"github.com/cloudstore/cloudstore-go/pkg/logger"
	"github.com/cloudstore/cloudstore-go/pkg/metrics"
)

// State is the lifecycle position of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// engine is the storage behind a Connection.
type engine interface {
	name() string
	insert(ctx context.Context, collection string, docs []Document) error
	findOne(ctx context.Context, collection, id string) (Document, error)
	find(ctx context.Context, q findQuery) (findPage, error)
	update(ctx context.Context, collection, id string, patch map[string]any, upsert bool, now string) (Document, error)
	delete(ctx context.Context, collection, id string) (bool, error)
	createIndex(ctx context.Context, collection, name string, fields []string, unique bool) error
	listCollections(ctx context.Context) ([]string, error)
	close(ctx context.Context) error
}

// findQuery selects documents with sequence in (afterSeq, untilSeq]. A zero
// untilSeq asks the engine to pin the current high-water mark.
type findQuery struct {
	collection string
	where      map[string]any
	afterSeq   int64
	untilSeq   int64
	limit      int
}

type findPage struct {
	docs     []Document
	total    int
	lastSeq  int64
	untilSeq int64
	hasMore  bool
}

const defaultConnectTimeout = 10 * time.Second

// Connection is a handle to a CloudStore database. It is safe for concurrent
// use. Every operation after Close fails with ErrConnectionClosed.
type Connection struct {
	dsn DSN

	mu     sync.RWMutex
	state  State
	engine engine

	docLocks keyedMutex
	now      func() time.Time
}

// Connect opens a connection described by connString
// (scheme://host:port/database). Schemes cloudstore and memory use the
// in-process engine; mongodb and mongodb+srv use MongoDB.
func Connect(ctx context.Context, connString string) (*Connection, error) {
	d, err := ParseConnectionString(connString)
	if err != nil {
		return nil, err
	}
	c := &Connection{dsn: d, state: StateDisconnected, now: time.Now}

	switch d.Scheme {
	case "cloudstore", "memory":
		c.engine = openMemoryEngine(d)
	case "mongodb", "mongodb+srv":
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
			defer cancel()
		}
		e, err := openMongoEngine(ctx, d)
		if err != nil {
			return nil, err
		}
		c.engine = e
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConnectionString, d.Scheme)
	}
	c.state = StateConnected
	logger.Debugf("database: connected to %s/%s (%s engine)", d.Address(), d.Database, c.engine.name())
	return c, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// DSN returns the parsed connection string.
func (c *Connection) DSN() DSN { return c.dsn }

// acquire holds the state read lock for the duration of an operation so Close
// waits for in-flight work.
func (c *Connection) acquire() (engine, func(), error) {
	c.mu.RLock()
	if c.state != StateConnected {
		c.mu.RUnlock()
		return nil, nil, ErrConnectionClosed
	}
	return c.engine, c.mu.RUnlock, nil
}

func (c *Connection) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrConstraintViolation):
		result = "constraint"
	default:
		result = "error"
	}
	metrics.DatabaseOperations.WithLabelValues(c.engine.name(), op, result).Inc()
}

func validCollection(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: collection name required", ErrValidation)
	}
	return nil
}

// Insert stores data as a new document and returns its generated ID.
func (c *Connection) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	ids, err := c.insertDocs(ctx, "insert", collection, []map[string]any{data})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// BulkInsert stores every entry and returns their IDs in input order. A
// constraint violation anywhere in the batch stores nothing.
func (c *Connection) BulkInsert(ctx context.Context, collection string, documents []map[string]any) ([]string, error) {
	if len(documents) == 0 {
		return []string{}, nil
	}
	return c.insertDocs(ctx, "bulk_insert", collection, documents)
}

func (c *Connection) insertDocs(ctx context.Context, op, collection string, data []map[string]any) ([]string, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	e, release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	now := timestamp(c.now())
	docs := make([]Document, len(data))
	ids := make([]string, len(data))
	for i, d := range data {
		ids[i] = utils.GenerateID("doc")
		docs[i] = Document{ID: ids[i], Collection: collection, Data: cloneData(d), Version: 1, CreatedAt: now, UpdatedAt: now}
	}
	err = e.insert(ctx, collection, docs)
	c.observe(op, err)
	if err != nil {
		return nil, fmt.Errorf("%s into %s: %w", op, collection, err)
	}
	return ids, nil
}

// Find returns up to maxResults documents of collection whose top-level
// fields equal every entry of where, in insertion order. Pass the Cursor of
// a previous result to continue; pages never repeat or skip documents that
// existed when the first page was read.
func (c *Connection) Find(ctx context.Context, collection string, where map[string]any, maxResults int, cursor string) (QueryResult, error) {
	if err := validCollection(collection); err != nil {
		return QueryResult{}, err
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if where == nil {
		where = map[string]any{}
	}
	fp, err := queryFingerprint(collection, where)
	if err != nil {
		return QueryResult{}, fmt.Errorf("%w: filter: %v", ErrValidation, err)
	}
	q := findQuery{collection: collection, where: where, limit: maxResults}
	if cursor != "" {
		st, err := decodeCursor(cursor, fp)
		if err != nil {
			return QueryResult{}, err
		}
		q.afterSeq, q.untilSeq = st.After, st.Until
	}

	e, release, err := c.acquire()
	if err != nil {
		return QueryResult{}, err
	}
	defer release()

	page, err := e.find(ctx, q)
	c.observe("find", err)
	if err != nil {
		return QueryResult{}, fmt.Errorf("find in %s: %w", collection, err)
	}
	res := QueryResult{Documents: page.docs, TotalCount: page.total, HasMore: page.hasMore}
	if res.Documents == nil {
		res.Documents = []Document{}
	}
	if page.hasMore {
		res.Cursor = encodeCursor(cursorState{After: page.lastSeq, Until: page.untilSeq, Query: fp})
	}
	return res, nil
}

// FindOne returns the document with the given ID or ErrNotFound.
func (c *Connection) FindOne(ctx context.Context, collection, id string) (Document, error) {
	if err := validCollection(collection); err != nil {
		return Document{}, err
	}
	e, release, err := c.acquire()
	if err != nil {
		return Document{}, err
	}
	defer release()
	d, err := e.findOne(ctx, collection, id)
	c.observe("find_one", err)
	if err != nil {
		return Document{}, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	return d, nil
}

// UpdateOne merges data into the document and bumps its version. When the
// document is absent it is created if upsert is set, else ErrNotFound.
// Updates to the same document through one Connection run one at a time.
func (c *Connection) UpdateOne(ctx context.Context, collection, id string, data map[string]any, upsert bool) (Document, error) {
	if err := validCollection(collection); err != nil {
		return Document{}, err
	}
	if id == "" {
		return Document{}, fmt.Errorf("%w: document id required", ErrValidation)
	}
	e, release, err := c.acquire()
	if err != nil {
		return Document{}, err
	}
	defer release()

	unlock := c.docLocks.lock(collection + "\x00" + id)
	defer unlock()

	d, err := e.update(ctx, collection, id, data, upsert, timestamp(c.now()))
	c.observe("update_one", err)
	if err != nil {
		return Document{}, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return d, nil
}

// DeleteOne removes the document and reports whether it existed.
func (c *Connection) DeleteOne(ctx context.Context, collection, id string) (bool, error) {
	if err := validCollection(collection); err != nil {
		return false, err
	}
	e, release, err := c.acquire()
	if err != nil {
		return false, err
	}
	defer release()
	ok, err := e.delete(ctx, collection, id)
	c.observe("delete_one", err)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return ok, nil
}

// IndexName returns the name CreateIndex gives an index over fields.
func IndexName(fields []string) string {
	return "idx_" + strings.Join(fields, "_")
}

// CreateIndex indexes fields of collection and returns the index name. With
// unique set, later writes producing a duplicate value tuple fail with
// ErrConstraintViolation; so does creation if stored data already collides.
func (c *Connection) CreateIndex(ctx context.Context, collection string, fields []string, unique bool) (string, error) {
	if err := validCollection(collection); err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: at least one field required", ErrValidation)
	}
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return "", fmt.Errorf("%w: empty field name", ErrValidation)
		}
	}
	e, release, err := c.acquire()
	if err != nil {
		return "", err
	}
	defer release()
	name := IndexName(fields)
	err = e.createIndex(ctx, collection, name, fields, unique)
	c.observe("create_index", err)
	if err != nil {
		return "", fmt.Errorf("create index %s on %s: %w", name, collection, err)
	}
	return name, nil
}

// ListCollections returns the collection names known to the database.
func (c *Connection) ListCollections(ctx context.Context) ([]string, error) {
	e, release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	names, err := e.listCollections(ctx)
	c.observe("list_collections", err)
	return names, err
}

// Close releases the connection. It waits for in-flight operations and is
// safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	logger.Debugf("database: closing %s/%s", c.dsn.Address(), c.dsn.Database)
	return c.engine.close(ctx)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
