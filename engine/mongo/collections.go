package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Narrow collection seam over the Mongo driver. Tests substitute in-memory
// fakes; the broker only ever issues the operations listed here.
type (
	collection interface {
		InsertOne(ctx context.Context, doc any) error
		FindOne(ctx context.Context, filter any) singleResult
		Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
		UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
		DeleteOne(ctx context.Context, filter any) (int64, error)
		DeleteMany(ctx context.Context, filter any) (int64, error)
		Indexes() indexView
	}

	singleResult interface {
		Decode(val any) error
	}

	cursor interface {
		Next(ctx context.Context) bool
		Decode(val any) error
		Err() error
		Close(ctx context.Context) error
	}

	indexView interface {
		CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
	}

	// collections groups the broker's state, one collection per structure.
	collections struct {
		processes           collection
		workflowTypes       collection
		activityTypes       collection
		scheduledDecisions  collection
		scheduledActivities collection
		runningDecisions    collection
		runningActivities   collection
	}
)

const (
	processesCollection           = "processes"
	workflowTypesCollection       = "workflow_types"
	activityTypesCollection       = "activity_types"
	scheduledDecisionsCollection  = "scheduled_decisions"
	scheduledActivitiesCollection = "scheduled_activities"
	runningDecisionsCollection    = "running_decisions"
	runningActivitiesCollection   = "running_activities"
)

func newCollections(db *mongodriver.Database) collections {
	wrap := func(name string) collection {
		return mongoCollection{coll: db.Collection(name)}
	}
	return collections{
		processes:           wrap(processesCollection),
		workflowTypes:       wrap(workflowTypesCollection),
		activityTypes:       wrap(activityTypesCollection),
		scheduledDecisions:  wrap(scheduledDecisionsCollection),
		scheduledActivities: wrap(scheduledActivitiesCollection),
		runningDecisions:    wrap(runningDecisionsCollection),
		runningActivities:   wrap(runningActivitiesCollection),
	}
}

func ensureIndexes(ctx context.Context, colls collections) error {
	byProcess := mongodriver.IndexModel{Keys: bson.D{{Key: "process_id", Value: 1}}}
	for _, coll := range []collection{
		colls.scheduledDecisions,
		colls.scheduledActivities,
		colls.runningDecisions,
		colls.runningActivities,
	} {
		if _, err := coll.Indexes().CreateOne(ctx, byProcess); err != nil {
			return err
		}
	}
	byWorkflow := mongodriver.IndexModel{Keys: bson.D{{Key: "workflow", Value: 1}}}
	if _, err := colls.processes.Indexes().CreateOne(ctx, byWorkflow); err != nil {
		return err
	}
	byTag := mongodriver.IndexModel{Keys: bson.D{{Key: "tags", Value: 1}}}
	_, err := colls.processes.Indexes().CreateOne(ctx, byTag)
	return err
}

// mongoCollection adapts a driver collection to the seam.
type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
