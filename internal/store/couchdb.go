package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	_ "github.com/go-kivik/couchdb/v4" // registers the "couch" driver
	kivik "github.com/go-kivik/kivik/v4"

	"taskfabric.dev/internal/task"
)

// IndexName is the compound index assignOne's cursor query relies on.
const IndexName = "taskfabric-status-task-priority-ldt"

// CouchDBStore is a TaskStore backed by a single CouchDB database. The
// document's "_rev" field is used verbatim as the fence: CouchDB itself
// rejects a Put or Delete against a stale revision with a 409, which is
// exactly the compare-and-set primitive TaskStore needs.
type CouchDBStore struct {
	client   *kivik.Client
	database *kivik.DB
	dbName   string
}

// NewCouchDBStore connects to url and opens (creating if necessary) the
// named database.
func NewCouchDBStore(ctx context.Context, url, dbName string) (*CouchDBStore, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("store: connect to couchdb: %w", err)
	}

	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("store: check database %q: %w", dbName, err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, fmt.Errorf("store: create database %q: %w", dbName, err)
		}
	}

	db := client.DB(dbName)
	if err := db.Err(); err != nil {
		return nil, fmt.Errorf("store: open database %q: %w", dbName, err)
	}

	return &CouchDBStore{client: client, database: db, dbName: dbName}, nil
}

// EnsureIndexes creates the compound index assignOne's cursor query uses.
// It is idempotent: CouchDB no-ops when an identical index already exists.
func (s *CouchDBStore) EnsureIndexes(ctx context.Context) error {
	indexDef := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []string{"status", "task", "priority", "ldt"},
		},
		"name": IndexName,
		"type": "json",
	}
	if err := s.database.CreateIndex(ctx, "", IndexName, indexDef); err != nil {
		return classify(err, "create index")
	}
	return nil
}

// Close releases the underlying client's connections.
func (s *CouchDBStore) Close() error {
	return s.client.Close()
}

func (s *CouchDBStore) FindOne(ctx context.Context, id string) (*task.Task, error) {
	row := s.database.Get(ctx, id)
	if err := row.Err(); err != nil {
		return nil, classify(err, "get "+id)
	}
	var t task.Task
	if err := row.ScanDoc(&t); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return &t, nil
}

func (s *CouchDBStore) InsertIfAbsent(ctx context.Context, t *task.Task) (string, error) {
	doc := toDoc(t)
	delete(doc, "_rev")
	rev, err := s.database.Put(ctx, t.ID, doc)
	if err != nil {
		return "", classify(err, "insert "+t.ID)
	}
	return rev, nil
}

func (s *CouchDBStore) ReplaceIfMatch(ctx context.Context, t *task.Task, fence string) (string, error) {
	doc := toDoc(t)
	doc["_rev"] = fence
	rev, err := s.database.Put(ctx, t.ID, doc)
	if err != nil {
		return "", classify(err, "replace "+t.ID)
	}
	return rev, nil
}

func (s *CouchDBStore) DeleteIfMatch(ctx context.Context, id string, fence string) error {
	_, err := s.database.Delete(ctx, id, fence)
	if err != nil {
		return classify(err, "delete "+id)
	}
	return nil
}

func (s *CouchDBStore) FindMany(ctx context.Context, q Query) ([]*task.Task, error) {
	selector := map[string]interface{}{}
	if q.Status != "" {
		selector["status"] = string(q.Status)
	}
	if q.TaskName != "" {
		selector["task"] = q.TaskName
	}

	params := map[string]interface{}{"selector": selector}
	if len(q.Sort) > 0 {
		sort := make([]map[string]string, 0, len(q.Sort))
		for _, sk := range q.Sort {
			dir := "asc"
			if sk.Descending {
				dir = "desc"
			}
			sort = append(sort, map[string]string{sk.Field: dir})
		}
		params["sort"] = sort
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	}
	params["use_index"] = IndexName

	rows := s.database.Find(ctx, selector, kivik.Params(params))
	defer rows.Close()

	var results []*task.Task
	for rows.Next() {
		var t task.Task
		if err := rows.ScanDoc(&t); err != nil {
			return nil, fmt.Errorf("store: decode row: %w", err)
		}
		results = append(results, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "find")
	}
	return results, nil
}

func toDoc(t *task.Task) map[string]interface{} {
	raw, _ := json.Marshal(t)
	var doc map[string]interface{}
	_ = json.Unmarshal(raw, &doc)
	return doc
}

// classify maps a kivik error onto the TaskStore error taxonomy: 409 becomes
// ErrConflict, 404 becomes ErrNotFound, everything else becomes
// ErrUnavailable. This is the same status-code switch
// db/couchdb_generic.go's CouchDBError helpers perform, just returning
// package-level sentinels instead of a bespoke error type.
func classify(err error, op string) error {
	switch kivik.HTTPStatus(err) {
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return &ErrUnavailable{Err: fmt.Errorf("%s: %w", op, err)}
	}
}
