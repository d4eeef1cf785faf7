// toolkit/db/mongodb/indexes.go
package mongodb

import (
	"context"
	"fmt"

	"github.com/dalemusser/dupkey/schema"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes a collection schema declares and
// returns their names. Existing indexes with identical definitions are
// left alone by the server.
//
// Unique declarations must already be normalized; EnsureIndexes only reads
// the flag.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection, s *schema.Schema) ([]string, error) {
	models := IndexModels(s)
	if len(models) == 0 {
		return nil, nil
	}
	names, err := coll.Indexes().CreateMany(ctx, models)
	if err != nil {
		return nil, fmt.Errorf("create indexes on %s: %w", Namespace(coll), err)
	}
	return names, nil
}

// IndexModels converts the schema's index specs into driver index models.
func IndexModels(s *schema.Schema) []mongo.IndexModel {
	specs := s.IndexSpecs()
	models := make([]mongo.IndexModel, 0, len(specs))
	for _, spec := range specs {
		keys := make(bson.D, 0, len(spec.Fields))
		for _, f := range spec.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		opts := options.Index()
		if spec.Unique.Enabled {
			opts.SetUnique(true)
		}
		if spec.Sparse {
			opts.SetSparse(true)
		}
		if spec.Name != "" {
			opts.SetName(spec.Name)
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}
	return models
}
