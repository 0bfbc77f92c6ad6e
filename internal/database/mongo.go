package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// countersCollection holds one sequence counter per collection.
const countersCollection = "_cloudstore_counters"

// mongoDoc is the stored form of a Document: the document plus its insertion sequence.
type mongoDoc struct {
	Document `bson:",inline"`
	Seq      int64 `bson:"seq"`
}

// mongoEngine stores each collection as a MongoDB collection. Documents keep
// their string ID in _id and data under "data".
type mongoEngine struct {
	client *mongo.Client
	db     *mongo.Database
}

func openMongoEngine(ctx context.Context, d DSN) (*mongoEngine, error) {
	timeout := defaultConnectTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	client, err := ConnectMongo(ctx, d.uri(), timeout)
	if err != nil {
		return nil, err
	}
	return &mongoEngine{client: client, db: client.Database(d.Database)}, nil
}

func (m *mongoEngine) name() string { return "mongo" }

// nextSeq reserves n sequence numbers for collection and returns the first.
func (m *mongoEngine) nextSeq(ctx context.Context, collection string, n int) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := m.db.Collection(countersCollection).
		FindOneAndUpdate(ctx, bson.M{"_id": collection}, bson.M{"$inc": bson.M{"seq": int64(n)}}, opts).
		Decode(&out)
	if err != nil {
		return 0, fmt.Errorf("reserve sequence: %w", err)
	}
	return out.Seq - int64(n) + 1, nil
}

func (m *mongoEngine) currentSeq(ctx context.Context, collection string) (int64, error) {
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := m.db.Collection(countersCollection).FindOne(ctx, bson.M{"_id": collection}).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return out.Seq, nil
}

func (m *mongoEngine) insert(ctx context.Context, collection string, docs []Document) error {
	first, err := m.nextSeq(ctx, collection, len(docs))
	if err != nil {
		return err
	}
	rows := make([]interface{}, len(docs))
	for i, d := range docs {
		rows[i] = mongoDoc{Document: d, Seq: first + int64(i)}
	}
	_, err = m.db.Collection(collection).InsertMany(ctx, rows, options.InsertMany().SetOrdered(true))
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		// ordered insert: everything before the first failed write is ours
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) {
			if n := firstFailedWrite(bwe); n > 0 {
				ids := make([]string, n)
				for i := range ids {
					ids[i] = docs[i].ID
				}
				_, _ = m.db.Collection(collection).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
			}
		}
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	return err
}

func firstFailedWrite(bwe mongo.BulkWriteException) int {
	n := -1
	for _, we := range bwe.WriteErrors {
		if n < 0 || we.Index < n {
			n = we.Index
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

func (m *mongoEngine) findOne(ctx context.Context, collection, id string) (Document, error) {
	var d mongoDoc
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return normalize(d.Document), nil
}

func mongoFilter(where map[string]any) bson.M {
	f := bson.M{}
	for k, v := range where {
		if k == "_id" {
			f["_id"] = v
			continue
		}
		f["data."+k] = v
	}
	return f
}

func (m *mongoEngine) find(ctx context.Context, q findQuery) (findPage, error) {
	until := q.untilSeq
	if until == 0 {
		cur, err := m.currentSeq(ctx, q.collection)
		if err != nil {
			return findPage{}, err
		}
		until = cur
	}
	page := findPage{untilSeq: until}
	col := m.db.Collection(q.collection)

	filter := mongoFilter(q.where)
	filter["seq"] = bson.M{"$lte": until}
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return findPage{}, err
	}
	page.total = int(total)

	filter["seq"] = bson.M{"$gt": q.afterSeq, "$lte": until}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(int64(q.limit) + 1)
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return findPage{}, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		if len(page.docs) == q.limit {
			page.hasMore = true
			break
		}
		var d mongoDoc
		if err := cur.Decode(&d); err != nil {
			return findPage{}, err
		}
		page.docs = append(page.docs, normalize(d.Document))
		page.lastSeq = d.Seq
	}
	return page, cur.Err()
}

func (m *mongoEngine) update(ctx context.Context, collection, id string, patch map[string]any, upsert bool, now string) (Document, error) {
	set := bson.M{"updatedAt": now}
	for k, v := range patch {
		set["data."+k] = v
	}
	change := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if upsert {
		seq, err := m.nextSeq(ctx, collection, 1)
		if err != nil {
			return Document{}, err
		}
		onInsert := bson.M{"collection": collection, "createdAt": now, "seq": seq}
		if len(patch) == 0 {
			onInsert["data"] = bson.M{}
		}
		change["$setOnInsert"] = onInsert
		opts.SetUpsert(true)
	}

	var (
		d   mongoDoc
		err error
	)
	// a concurrent upsert of the same id can fail with a duplicate _id; the
	// second try then finds the document and updates it
	for try := 0; try < 2; try++ {
		err = m.db.Collection(collection).FindOneAndUpdate(ctx, bson.M{"_id": id}, change, opts).Decode(&d)
		if !upsert || !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	switch {
	case err == nil:
		return normalize(d.Document), nil
	case mongo.IsDuplicateKeyError(err):
		return Document{}, fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	case errors.Is(err, mongo.ErrNoDocuments):
		return Document{}, ErrNotFound
	}
	return Document{}, err
}

func (m *mongoEngine) delete(ctx context.Context, collection, id string) (bool, error) {
	res, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (m *mongoEngine) createIndex(ctx context.Context, collection, name string, fields []string, unique bool) error {
	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: "data." + f, Value: 1})
	}
	model := mongo.IndexModel{Keys: keys, Options: options.Index().SetName(name).SetUnique(unique)}
	if _, err := m.db.Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
		}
		return err
	}
	return nil
}

func (m *mongoEngine) listCollections(ctx context.Context) ([]string, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if !strings.HasPrefix(n, "_cloudstore_") {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mongoEngine) close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// normalize turns driver-specific containers back into plain maps and slices.
func normalize(d Document) Document {
	d.Data = normalizeMap(d.Data)
	return d
}

func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case bson.D:
		return normalizeMap(t.Map())
	default:
		return v
	}
}
