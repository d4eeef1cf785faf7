// toolkit/db/mongodb/introspect.go
package mongodb

import (
	"context"
	"fmt"
	"strings"

	"github.com/dalemusser/dupkey/unique"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Introspector lists collection indexes with the listIndexes command. It
// satisfies unique.Introspector.
type Introspector struct {
	client *mongo.Client
}

// NewIntrospector returns an Introspector using client.
func NewIntrospector(client *mongo.Client) *Introspector {
	return &Introspector{client: client}
}

type indexDoc struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique"`
}

// Indexes returns the index set of namespace ("db.collection").
func (i *Introspector) Indexes(ctx context.Context, namespace string) (unique.IndexSet, error) {
	db, coll, err := SplitNamespace(namespace)
	if err != nil {
		return nil, err
	}

	cur, err := i.client.Database(db).Collection(coll).Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []indexDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	set := make(unique.IndexSet, len(docs))
	for _, d := range docs {
		set[d.Name] = descriptor(d)
	}
	return set, nil
}

// descriptor keeps the key pattern's field order; that is the order the
// server prints dup key values in.
func descriptor(d indexDoc) unique.IndexDescriptor {
	fields := make([]string, 0, len(d.Key))
	for _, e := range d.Key {
		fields = append(fields, e.Key)
	}
	return unique.IndexDescriptor{Name: d.Name, Fields: fields, Unique: d.Unique}
}

// SplitNamespace splits "db.collection" at the first dot. Database names
// cannot contain dots; collection names can.
func SplitNamespace(namespace string) (db, coll string, err error) {
	db, coll, ok := strings.Cut(namespace, ".")
	if !ok || db == "" || coll == "" {
		return "", "", fmt.Errorf("mongodb: invalid namespace %q", namespace)
	}
	return db, coll, nil
}

// Namespace returns the "db.collection" name of coll.
func Namespace(coll *mongo.Collection) string {
	return coll.Database().Name() + "." + coll.Name()
}
