package mongo

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/parallel"
)

func docValue(t *testing.T, doc bson.M) meta.ColValue {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return meta.MongoDocValue(raw)
}

func TestReplaceDocRejectsRowMissingDocumentPayload(t *testing.T) {
	s := &Sinker{log: logrus.NewEntry(logrus.New())}
	err := s.replaceDoc(context.Background(), nil, map[string]meta.ColValue{})
	assert.Error(t, err)
}

func TestReplaceDocRejectsDocumentMissingID(t *testing.T) {
	s := &Sinker{log: logrus.NewEntry(logrus.New())}
	cols := map[string]meta.ColValue{parallel.MongoDocColumn: docValue(t, bson.M{"name": "sprocket"})}
	err := s.replaceDoc(context.Background(), nil, cols)
	assert.Error(t, err)
}

func TestApplyUpdateRejectsRowMissingBothDocAndDiff(t *testing.T) {
	s := &Sinker{log: logrus.NewEntry(logrus.New())}
	row := meta.NewRowData("shop", "widgets", meta.RowUpdate, map[string]meta.ColValue{}, map[string]meta.ColValue{})
	err := s.applyUpdate(context.Background(), nil, row)
	assert.Error(t, err)
}

func TestSinkDmlInsertReplacesDocument(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("insert", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		s := New(mt.Client, logrus.NewEntry(logrus.New()), nil)
		row := meta.NewRowData("shop", "widgets", meta.RowInsert, nil, map[string]meta.ColValue{
			parallel.MongoDocColumn: docValue(t, bson.M{"_id": "1", "name": "sprocket"}),
		})
		require.NoError(t, s.SinkDml(context.Background(), []meta.RowData{row}, true))
	})
}

func TestSinkDmlDeleteRemovesDocument(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("delete", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		s := New(mt.Client, logrus.NewEntry(logrus.New()), nil)
		row := meta.NewRowData("shop", "widgets", meta.RowDelete, map[string]meta.ColValue{
			parallel.MongoDocColumn: docValue(t, bson.M{"_id": "1", "name": "sprocket"}),
		}, nil)
		require.NoError(t, s.SinkDml(context.Background(), []meta.RowData{row}, true))
	})
}

func TestSinkDdlSinkDclAreNoOps(t *testing.T) {
	s := &Sinker{}
	assert.NoError(t, s.SinkDdl(context.Background(), []meta.DdlData{{}}, false))
	assert.NoError(t, s.SinkDcl(context.Background(), []meta.DclData{{}}, false))
	assert.NoError(t, s.RefreshMeta(context.Background(), nil))
}
