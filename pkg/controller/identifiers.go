package controller

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// maxIdentifierLen is MySQL's identifier length limit, counted in
// characters rather than bytes (spec.md §3: "Names are truncated to
// respect MySQL's 64-character identifier limit").
const maxIdentifierLen = 64

// longestSuffix is the longest of the per-purpose suffixes appended to the
// stem below ("_chg_ins"/"_chg_upd"/"_chg_del"), used to size the budget
// left for the source table name.
const longestSuffix = "_chg_del"

// Names holds the session-scoped identifiers generated for one run
// (spec.md §3): shadow table, delta table, trigger names, the old-table
// name cutover renames the source to, and the outfile directory.
type Names struct {
	Stem        string
	ShadowTable string
	DeltaTable  string
	TrigIns     string
	TrigUpd     string
	TrigDel     string
	OldTable    string
	OutfileDir  string
	Nonce       string
}

// newNames derives a Names for tableName, truncating the table-name
// portion as needed to respect maxIdentifierLen while a random nonce keeps
// the result unique even when truncation collapses two distinct table
// names to the same prefix.
func newNames(tableName, tmpDir string) (Names, error) {
	nonce, err := randomHex(4)
	if err != nil {
		return Names{}, err
	}
	budget := maxIdentifierLen - len(longestSuffix) - len(nonce) - 1 // -1 for the separator before the nonce
	base := "_" + tableName
	base = truncateRunes(base, budget)
	stem := base + "_" + nonce

	return Names{
		Stem:        stem,
		ShadowTable: stem + "_new",
		DeltaTable:  stem + "_chg",
		TrigIns:     stem + "_chg_ins",
		TrigUpd:     stem + "_chg_upd",
		TrigDel:     stem + "_chg_del",
		OldTable:    stem + "_old",
		OutfileDir:  filepath.Join(tmpDir, stem),
		Nonce:       nonce,
	}, nil
}

// truncateRunes truncates s to at most n runes, never splitting a
// multi-byte UTF-8 rune (spec.md scenario E: table names may contain
// arbitrary non-ASCII characters).
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
