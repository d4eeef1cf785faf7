// toolkit/db/mongodb/collection.go
package mongodb

import (
	"context"

	"github.com/dalemusser/dupkey/unique"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection wraps a driver collection so that duplicate-key failures of
// its writes come back as *unique.ValidationError. Every other result is
// returned exactly as the driver produced it.
type Collection struct {
	coll       *mongo.Collection
	namespace  string
	translator *unique.Translator
}

// NewCollection wraps coll with translator.
func NewCollection(coll *mongo.Collection, translator *unique.Translator) *Collection {
	return &Collection{
		coll:       coll,
		namespace:  Namespace(coll),
		translator: translator,
	}
}

// Namespace returns the "db.collection" name of the wrapped collection.
func (c *Collection) Namespace() string { return c.namespace }

// Unwrap returns the underlying driver collection for reads.
func (c *Collection) Unwrap() *mongo.Collection { return c.coll }

// translate computes the submitted values only when err is a duplicate.
func (c *Collection) translate(ctx context.Context, err error, values unique.ValuesFunc) error {
	return c.translator.InterceptWith(ctx, c.namespace, err, values).Err
}

func docValues(doc any) unique.Values {
	v, _ := unique.FromDocument(doc)
	return v
}


// InsertOne inserts doc.
func (c *Collection) InsertOne(ctx context.Context, doc any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	res, err := c.coll.InsertOne(ctx, doc, opts...)
	return res, c.translate(ctx, err, func(*unique.Violation) unique.Values { return docValues(doc) })
}

// InsertOneAsync runs InsertOne in its own goroutine.
func (c *Collection) InsertOneAsync(ctx context.Context, doc any, opts ...*options.InsertOneOptions) <-chan unique.Result[*mongo.InsertOneResult] {
	return unique.Go(ctx, c.translator, c.namespace, docValues(doc), func(ctx context.Context) (*mongo.InsertOneResult, error) {
		return c.coll.InsertOne(ctx, doc, opts...)
	})
}

// InsertMany inserts docs. The failing document is identified by the
// position the server reports.
func (c *Collection) InsertMany(ctx context.Context, docs []any, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	res, err := c.coll.InsertMany(ctx, docs, opts...)
	return res, c.translate(ctx, err, func(v *unique.Violation) unique.Values {
		if v.Index >= 0 && v.Index < len(docs) {
			return docValues(docs[v.Index])
		}
		return nil
	})
}

// UpdateOne applies update to the first document matching filter.
func (c *Collection) UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, filter, update, opts...)
	return res, c.translate(ctx, err, func(*unique.Violation) unique.Values { return unique.FromUpdateWrite(filter, update) })
}

// UpdateMany applies update to every document matching filter.
func (c *Collection) UpdateMany(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	res, err := c.coll.UpdateMany(ctx, filter, update, opts...)
	return res, c.translate(ctx, err, func(*unique.Violation) unique.Values { return unique.FromUpdateWrite(filter, update) })
}

// ReplaceOne replaces the first document matching filter.
func (c *Collection) ReplaceOne(ctx context.Context, filter, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	res, err := c.coll.ReplaceOne(ctx, filter, replacement, opts...)
	return res, c.translate(ctx, err, func(*unique.Violation) unique.Values { return unique.FromReplaceWrite(filter, replacement) })
}

// FindOneAndUpdate applies update and decodes the resulting document into
// out. A nil out only reports the error. mongo.ErrNoDocuments is returned
// unchanged.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update, out any, opts ...*options.FindOneAndUpdateOptions) error {
	res := c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
	var err error
	if out != nil {
		err = res.Decode(out)
	} else {
		err = res.Err()
	}
	return c.translate(ctx, err, func(*unique.Violation) unique.Values { return unique.FromUpdateWrite(filter, update) })
}

// BulkWrite executes models. The failing model is identified by the
// position the server reports.
func (c *Collection) BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	res, err := c.coll.BulkWrite(ctx, models, opts...)
	return res, c.translate(ctx, err, func(v *unique.Violation) unique.Values {
		if v.Index >= 0 && v.Index < len(models) {
			return unique.FromWriteModel(models[v.Index])
		}
		return nil
	})
}
