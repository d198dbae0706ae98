package triggerlog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/opsql/osc/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullStringsToAny(t *testing.T) {
	vals := []sql.NullString{
		{String: "1", Valid: true},
		{Valid: false},
	}
	out := nullStringsToAny(vals)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0])
	assert.Nil(t, out[1])
}

func TestAckNoOpBelowHighWaterMark(t *testing.T) {
	l := New(nil, nil, nil, Names{DeltaTable: "_orders_chg"})
	l.lastAck = 10

	require.NoError(t, l.Ack(context.Background(), 5))
	assert.Equal(t, int64(10), l.lastAck)
}

func TestAckNoOpAtExactHighWaterMark(t *testing.T) {
	l := New(nil, nil, nil, Names{DeltaTable: "_orders_chg"})
	l.lastAck = 10

	require.NoError(t, l.Ack(context.Background(), 10))
	assert.Equal(t, int64(10), l.lastAck)
}

func TestChangeTypeConstants(t *testing.T) {
	assert.Equal(t, ChangeType(1), ChangeInsert)
	assert.Equal(t, ChangeType(2), ChangeUpdateNew)
	assert.Equal(t, ChangeType(3), ChangeDelete)
}

func TestKeyChangedPredicateSingleColumn(t *testing.T) {
	l := New(nil, nil, &table.TableInfo{KeyColumns: []string{"id"}}, Names{})
	assert.Equal(t, "NEW.`id` <> OLD.`id`", l.keyChangedPredicate())
}

func TestKeyChangedPredicateCompositeKey(t *testing.T) {
	l := New(nil, nil, &table.TableInfo{KeyColumns: []string{"tenant_id", "id"}}, Names{})
	assert.Equal(t, "NEW.`tenant_id` <> OLD.`tenant_id` OR NEW.`id` <> OLD.`id`", l.keyChangedPredicate())
}

func TestTriggerColumnsNewAndOld(t *testing.T) {
	l := New(nil, nil, &table.TableInfo{KeyColumns: []string{"id"}}, Names{})

	newCols, newVals := l.triggerColumns("NEW")
	assert.Equal(t, ", id_new", newCols)
	assert.Equal(t, ", NEW.`id`", newVals)

	oldCols, oldVals := l.triggerColumns("OLD")
	assert.Equal(t, ", id_old", oldCols)
	assert.Equal(t, ", OLD.`id`", oldVals)
}
