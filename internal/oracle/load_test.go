package oracle

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestSnapshot_DecodesMetadataAndCounts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := FileSource{SnapshotPath: write(t, dir, "active_indexers.json", `{
		"metadata": {"last_oracle_update_time": 1700000000},
		"indexers": [
			{"address": "0xA", "status": "eligible"},
			{"address": "0xB", "status": "grace", "eligible_until_readable": "2025-01-02"},
			{"address": "0xC", "status": "ineligible"},
			{"address": "0xD", "status": "eligible"}
		]}`)}

	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	at, ok := snap.Metadata.UpdatedAt()
	require.True(t, ok)
	require.Equal(t, "2023-11-14 22:13:20", at.Format("2006-01-02 15:04:05"))
	require.Equal(t, Counts{Total: 4, Eligible: 2, Grace: 1, Ineligible: 1}, snap.Counts())
	require.Equal(t, "2025-01-02", snap.EligibleUntil("0xb"))
}

func TestMetadata_NonNumericTimeIsUnknown(t *testing.T) {
	t.Parallel()
	for _, body := range []string{
		`{"metadata": {"last_oracle_update_time": "yesterday"}, "indexers": []}`,
		`{"metadata": {}, "indexers": []}`,
		`{"indexers": []}`,
	} {
		dir := t.TempDir()
		snap, err := FileSource{SnapshotPath: write(t, dir, "s.json", body)}.Snapshot(context.Background())
		require.NoError(t, err)
		_, ok := snap.Metadata.UpdatedAt()
		require.False(t, ok, body)
	}
}

func TestMetadata_AcceptsAlias(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	snap, err := FileSource{SnapshotPath: write(t, dir, "s.json", `{"metadata":{"last_update_time":1.5},"indexers":[]}`)}.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Metadata.LastUpdateTime)
	require.InDelta(t, 1.5, *snap.Metadata.LastUpdateTime, 1e-9)
}

func TestMetadata_BadPrimaryFallsBackToAlias(t *testing.T) {
	t.Parallel()
	for _, body := range []string{
		`{"metadata":{"last_oracle_update_time":"x","last_update_time":1700000000},"indexers":[]}`,
		`{"metadata":{"last_oracle_update_time":0,"last_update_time":1700000000},"indexers":[]}`,
		`{"metadata":{"last_oracle_update_time":null,"last_update_time":1700000000},"indexers":[]}`,
	} {
		dir := t.TempDir()
		snap, err := FileSource{SnapshotPath: write(t, dir, "s.json", body)}.Snapshot(context.Background())
		require.NoError(t, err)
		at, ok := snap.Metadata.UpdatedAt()
		require.True(t, ok, body)
		require.Equal(t, int64(1700000000), at.Unix(), body)
	}
}

func TestSnapshot_MissingIndexersIsMalformed(t *testing.T) {
	t.Parallel()
	for _, body := range []string{
		`null`,
		`{}`,
		`{"metadata":{"last_oracle_update_time":1700000000}}`,
		`{"metadata":{},"indexers":null}`,
	} {
		dir := t.TempDir()
		_, err := FileSource{SnapshotPath: write(t, dir, "s.json", body)}.Snapshot(context.Background())
		require.ErrorIs(t, err, ErrMalformed, body)
	}
}

func TestActivity_NullIsEmptyLog(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, body := range []string{`null`, `{}`, `{"status_changes":null}`} {
		l, err := FileSource{ActivityPath: write(t, dir, "a.json", body)}.Activity(context.Background())
		require.NoError(t, err, body)
		require.Empty(t, l.Changes, body)
	}
}

func TestActivity_RejectsUnknownStatus(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := FileSource{ActivityPath: write(t, dir, "a.json", `{"status_changes":[
		{"address":"0xA","previous_status":"eligible","new_status":"suspended"}]}`)}
	_, err := src.Activity(context.Background())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestActivity_MissingFile(t *testing.T) {
	t.Parallel()
	src := FileSource{ActivityPath: filepath.Join(t.TempDir(), "missing.json")}
	_, err := src.Activity(context.Background())
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestActivity_MalformedJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, err := FileSource{ActivityPath: write(t, dir, "a.json", `{"status_changes": [`)}.Activity(context.Background())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestStatusChange_KeyNormalizes(t *testing.T) {
	t.Parallel()
	require.Equal(t, "0xabc", StatusChange{Address: " 0xAbC "}.Key())
}
