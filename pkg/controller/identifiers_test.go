package controller

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNamesBasic(t *testing.T) {
	names, err := newNames("orders", "/tmp")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(names.ShadowTable, "_new"))
	assert.True(t, strings.HasSuffix(names.DeltaTable, "_chg"))
	assert.True(t, strings.HasSuffix(names.TrigIns, "_chg_ins"))
	assert.True(t, strings.HasSuffix(names.TrigUpd, "_chg_upd"))
	assert.True(t, strings.HasSuffix(names.TrigDel, "_chg_del"))
	assert.True(t, strings.HasSuffix(names.OldTable, "_old"))
	assert.NotEmpty(t, names.Nonce)
	assert.Contains(t, names.OutfileDir, names.Stem)
	assert.Contains(t, names.Stem, "orders")
}

func TestNewNamesUniqueAcrossCalls(t *testing.T) {
	a, err := newNames("orders", "/tmp")
	require.NoError(t, err)
	b, err := newNames("orders", "/tmp")
	require.NoError(t, err)

	assert.NotEqual(t, a.Stem, b.Stem)
	assert.NotEqual(t, a.Nonce, b.Nonce)
}

func TestNewNamesRespectsIdentifierLimit(t *testing.T) {
	longName := strings.Repeat("x", 200)
	names, err := newNames(longName, "/tmp")
	require.NoError(t, err)

	for _, id := range []string{names.ShadowTable, names.DeltaTable, names.TrigIns, names.TrigUpd, names.TrigDel, names.OldTable} {
		assert.LessOrEqualf(t, len([]rune(id)), maxIdentifierLen, "identifier %q exceeds %d runes", id, maxIdentifierLen)
	}
}

func TestNewNamesHandlesNonASCII(t *testing.T) {
	names, err := newNames("注文テーブル", "/tmp")
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(names.ShadowTable)), maxIdentifierLen)
}

func TestTruncateRunesNoOpWhenShort(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 10))
}

func TestTruncateRunesZeroOrNegative(t *testing.T) {
	assert.Equal(t, "", truncateRunes("abc", 0))
	assert.Equal(t, "", truncateRunes("abc", -1))
}

func TestTruncateRunesMultiByteSafe(t *testing.T) {
	s := "日本語"
	out := truncateRunes(s, 2)
	assert.Equal(t, 2, len([]rune(out)))
}
