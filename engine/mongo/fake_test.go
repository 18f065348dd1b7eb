package mongo

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeCollection is an in-memory stand-in for a Mongo collection. It stores
// documents as bson.M maps, round-tripped through the bson codec so struct
// tags behave as they would against a real server, and interprets the subset
// of query operators the broker issues.
type fakeCollection struct {
	mu   sync.Mutex
	docs []bson.M
}

func newFakeCollections() collections {
	return collections{
		processes:           &fakeCollection{},
		workflowTypes:       &fakeCollection{},
		activityTypes:       &fakeCollection{},
		scheduledDecisions:  &fakeCollection{},
		scheduledActivities: &fakeCollection{},
		runningDecisions:    &fakeCollection{},
		runningActivities:   &fakeCollection{},
	}
}

func toM(doc any) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeM(m bson.M, val any) error {
	data, err := bson.Marshal(m)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, val)
}

func asTime(v any) (time.Time, bool) {
	switch v := v.(type) {
	case time.Time:
		return v, true
	case primitive.DateTime:
		return v.Time(), true
	}
	return time.Time{}, false
}

func valuesEqual(a, b any) bool {
	if at, ok := asTime(a); ok {
		bt, bok := asTime(b)
		return bok && at.Equal(bt)
	}
	return a == b
}

func matchField(doc bson.M, key string, want any) bool {
	got, ok := doc[key]
	if cond, isOp := want.(bson.M); isOp {
		if lt, has := cond["$lt"]; has {
			gt, gok := asTime(got)
			lt2, lok := asTime(lt)
			return ok && gok && lok && gt.Before(lt2)
		}
		return false
	}
	if arr, isArr := got.(primitive.A); isArr {
		for _, el := range arr {
			if valuesEqual(el, want) {
				return true
			}
		}
		return false
	}
	return ok && valuesEqual(got, want)
}

func matches(doc bson.M, filter any) bool {
	f, ok := filter.(bson.M)
	if !ok {
		return false
	}
	for key, want := range f {
		if key == "$or" {
			ok := false
			for _, sub := range want.(bson.A) {
				if matches(doc, sub) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
			continue
		}
		if !matchField(doc, key, want) {
			return false
		}
	}
	return true
}

func (c *fakeCollection) InsertOne(_ context.Context, doc any) error {
	m, err := toM(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, m)
	return nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter any) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range c.docs {
		if matches(doc, filter) {
			return fakeSingleResult{doc: doc}
		}
	}
	return fakeSingleResult{err: mongodriver.ErrNoDocuments}
}

func (c *fakeCollection) Find(_ context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []bson.M
	for _, doc := range c.docs {
		if matches(doc, filter) {
			matched = append(matched, doc)
		}
	}
	for _, o := range opts {
		if o != nil && o.Sort != nil {
			sort.SliceStable(matched, func(i, j int) bool {
				a, aok := asTime(matched[i]["created_at"])
				b, bok := asTime(matched[j]["created_at"])
				return aok && bok && a.Before(b)
			})
		}
	}
	return &fakeCursor{docs: matched}, nil
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	set, err := toM(update.(bson.M)["$set"])
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range c.docs {
		if matches(doc, filter) {
			for k, v := range set {
				doc[k] = v
			}
			return &mongodriver.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil && *o.Upsert {
			upsert = true
		}
	}
	if !upsert {
		return &mongodriver.UpdateResult{}, nil
	}
	doc := bson.M{}
	for k, v := range filter.(bson.M) {
		doc[k] = v
	}
	for k, v := range set {
		doc[k] = v
	}
	c.docs = append(c.docs, doc)
	return &mongodriver.UpdateResult{UpsertedCount: 1}, nil
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, doc := range c.docs {
		if matches(doc, filter) {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (c *fakeCollection) DeleteMany(_ context.Context, filter any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kept []bson.M
	var deleted int64
	for _, doc := range c.docs {
		if matches(doc, filter) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return deleted, nil
}

func (c *fakeCollection) Indexes() indexView { return fakeIndexView{} }

func (c *fakeCollection) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

type fakeSingleResult struct {
	doc bson.M
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	return decodeM(r.doc, val)
}

type fakeCursor struct {
	docs []bson.M
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error { return decodeM(c.docs[c.pos-1], val) }
func (c *fakeCursor) Err() error           { return nil }
func (c *fakeCursor) Close(context.Context) error {
	c.docs = nil
	return nil
}

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel, _ ...*options.CreateIndexesOptions) (string, error) {
	return "fake", nil
}
