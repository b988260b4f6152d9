// Package mongo implements the MongoDB sinker. Insert/Delete rows carry a
// full BSON document under meta.MongoDocColumn and are applied with
// ReplaceOne(upsert)/DeleteOne; Update rows that carry only an oplog diff
// (no "doc" column in After, see internal/parallel.MongoMerger) are applied
// as a $set of the diff's fields against the document's _id, since they
// cannot be decomposed into a full replace; no field is ever $unset.
package mongo

import (
	"context"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/monitor"
	"github.com/replimux/replimux/internal/parallel"
)

type Sinker struct {
	client *mongo.Client
	log    *logrus.Entry
	mon    *monitor.Monitor
}

func New(client *mongo.Client, log *logrus.Entry, mon *monitor.Monitor) *Sinker {
	return &Sinker{client: client, log: log, mon: mon}
}

func (s *Sinker) collection(schema, tb string) *mongo.Collection {
	return s.client.Database(schema).Collection(tb)
}

func (s *Sinker) SinkDml(ctx context.Context, rows []meta.RowData, batch bool) error {
	for _, row := range rows {
		coll := s.collection(row.Schema, row.Tb)
		var err error
		switch row.RowType {
		case meta.RowInsert:
			err = s.replaceDoc(ctx, coll, row.After)
		case meta.RowDelete:
			err = s.deleteDoc(ctx, coll, row.Before)
		case meta.RowUpdate:
			err = s.applyUpdate(ctx, coll, row)
		}
		if err != nil {
			return errors.Annotatef(err, "mongo sink %s.%s", row.Schema, row.Tb)
		}
	}
	if s.mon != nil {
		s.mon.Add(monitor.Counters{RecordCount: uint64(len(rows))})
	}
	return nil
}

func (s *Sinker) replaceDoc(ctx context.Context, coll *mongo.Collection, cols map[string]meta.ColValue) error {
	v, ok := cols[parallel.MongoDocColumn]
	if !ok || v.Kind != meta.ColMongoDoc {
		return errors.New("insert row missing mongo document payload")
	}
	var doc bson.M
	if err := bson.Unmarshal(v.Doc, &doc); err != nil {
		return errors.Trace(err)
	}
	id, ok := doc["_id"]
	if !ok {
		return errors.New("document missing _id")
	}
	opts := options.Replace().SetUpsert(true)
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts)
	return errors.Trace(err)
}

func (s *Sinker) deleteDoc(ctx context.Context, coll *mongo.Collection, cols map[string]meta.ColValue) error {
	v, ok := cols[parallel.MongoDocColumn]
	if !ok || v.Kind != meta.ColMongoDoc {
		return errors.New("delete row missing mongo document payload")
	}
	var doc bson.M
	if err := bson.Unmarshal(v.Doc, &doc); err != nil {
		return errors.Trace(err)
	}
	id, ok := doc["_id"]
	if !ok {
		return errors.New("document missing _id")
	}
	_, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	return errors.Trace(err)
}

// applyUpdate handles both shapes: an Update row carrying a full After
// document (change-stream "replace"/"update with fullDocument") is applied
// the same way as an insert; one carrying only an oplog diff under
// meta.ColMongoDoc in Before/raw update spec is applied as a partial
// update keyed by the id recorded in Before.
func (s *Sinker) applyUpdate(ctx context.Context, coll *mongo.Collection, row meta.RowData) error {
	if _, hasDoc := row.After[parallel.MongoDocColumn]; hasDoc {
		return s.replaceDoc(ctx, coll, row.After)
	}

	before, ok := row.Before[parallel.MongoDocColumn]
	if !ok || before.Kind != meta.ColMongoDoc {
		return errors.New("update row missing both full document and diff payload")
	}
	var diff bson.M
	if err := bson.Unmarshal(before.Doc, &diff); err != nil {
		return errors.Trace(err)
	}
	id, ok := diff["_id"]
	if !ok {
		return errors.New("diff update missing _id")
	}
	delete(diff, "_id")
	_, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": diff})
	return errors.Trace(err)
}

// SinkDdl and SinkDcl are no-ops: collections are schemaless, and
// index/validator migration is carried by the `struct` subcommand via
// SinkStruct's raw command documents instead when configured.
func (s *Sinker) SinkDdl(ctx context.Context, ddls []meta.DdlData, batch bool) error { return nil }
func (s *Sinker) SinkDcl(ctx context.Context, dcls []meta.DclData, batch bool) error { return nil }

func (s *Sinker) SinkStruct(ctx context.Context, structs []meta.StructData) error {
	for _, st := range structs {
		for _, stmt := range st.Statements {
			var cmd bson.D
			if err := bson.UnmarshalExtJSON([]byte(stmt), true, &cmd); err != nil {
				return errors.Trace(err)
			}
			if err := s.client.Database(st.Schema).RunCommand(ctx, cmd).Err(); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

func (s *Sinker) RefreshMeta(ctx context.Context, ddls []meta.DdlData) error { return nil }

func (s *Sinker) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
