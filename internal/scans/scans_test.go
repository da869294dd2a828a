package scans

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rustScan(user string) *Scan {
	return &Scan{
		UserID:     user,
		Disease:    "Coffee Leaf Rust",
		Confidence: 80,
		Severity:   "Medium",
		Stage:      "Progressive",
	}
}

func TestScanValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scan)
		want   error
	}{
		{"no user", func(s *Scan) { s.UserID = " " }, ErrMissingUser},
		{"no disease", func(s *Scan) { s.Disease = "" }, ErrInvalidScan},
		{"no stage", func(s *Scan) { s.Stage = "" }, ErrInvalidScan},
		{"confidence too high", func(s *Scan) { s.Confidence = 101 }, ErrInvalidScan},
		{"negative confidence", func(s *Scan) { s.Confidence = -1 }, ErrInvalidScan},
		{"bad latitude", func(s *Scan) { s.Coordinates = &Coordinates{Latitude: 91} }, ErrInvalidScan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := rustScan("u1")
			tt.mutate(s)
			assert.ErrorIs(t, s.Validate(), tt.want)
		})
	}
	assert.NoError(t, rustScan("u1").Validate())
}

func TestMemoryStoreSaveAssignsIdentity(t *testing.T) {
	st := NewMemoryStore()
	s := rustScan("u1")
	require.NoError(t, st.Save(context.Background(), s))
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.False(t, s.CreatedAt.IsZero())

	fixed := uuid.New()
	s2 := rustScan("u1")
	s2.ID = fixed
	require.NoError(t, st.Save(context.Background(), s2))
	assert.Equal(t, fixed, s2.ID)
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, stage := range []string{"Early", "Severe", "Progressive"} {
		s := rustScan("farmer")
		s.Stage = stage
		s.CreatedAt = base.Add(time.Duration([]int{1, 3, 2}[i]) * time.Hour)
		require.NoError(t, st.Save(ctx, s))
	}
	require.NoError(t, st.Save(ctx, rustScan("someone-else")))

	got, err := st.List(ctx, "farmer")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"Severe", "Progressive", "Early"},
		[]string{got[0].Stage, got[1].Stage, got[2].Stage})

	none, err := st.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = st.List(ctx, "")
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestMemoryStoreEqualTimestampsKeepLatestFirst(t *testing.T) {
	st := NewMemoryStore()
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return at }

	for _, stage := range []string{"Early", "Progressive"} {
		s := rustScan("u1")
		s.Stage = stage
		require.NoError(t, st.Save(context.Background(), s))
	}
	got, err := st.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Progressive", got[0].Stage)
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	st := NewMemoryStore()
	err := st.Save(context.Background(), &Scan{UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidScan)
}

func TestOpen(t *testing.T) {
	st, err := Open(context.Background(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	_, err = Open(context.Background(), "mongodb", "")
	require.Error(t, err)

	_, err = Open(context.Background(), DriverPostgres, "")
	require.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("KAPPI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KAPPI_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	st, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	user := "test-" + uuid.NewString()
	older := rustScan(user)
	older.CreatedAt = time.Now().Add(-time.Hour).UTC()
	require.NoError(t, st.Save(ctx, older))

	newer := rustScan(user)
	newer.Coordinates = &Coordinates{Latitude: 14.1, Longitude: 121.2}
	newer.Address = &Address{Barangay: "San Jose", CityMunicipality: "Lipa", Province: "Batangas"}
	require.NoError(t, st.Save(ctx, newer))

	got, err := st.List(ctx, user)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, newer.Address, got[0].Address)
	assert.Equal(t, newer.Coordinates, got[0].Coordinates)
	assert.Nil(t, got[1].Coordinates)
	assert.Nil(t, got[1].Address)

	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	tied := "test-" + uuid.NewString()
	var ids []uuid.UUID
	for range 3 {
		s := rustScan(tied)
		s.CreatedAt = at
		require.NoError(t, st.Save(ctx, s))
		ids = append(ids, s.ID)
	}
	got, err = st.List(ctx, tied)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, []uuid.UUID{got[0].ID, got[1].ID, got[2].ID})
}

func TestPostgresListOrdersTiesByInsertion(t *testing.T) {
	assert.Contains(t, listQuery, "ORDER BY created_at DESC, seq DESC")
	assert.Contains(t, schema, "seq               BIGSERIAL")
	assert.Contains(t, schema, "ADD COLUMN IF NOT EXISTS seq BIGSERIAL")
}
