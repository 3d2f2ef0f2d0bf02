package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/fdclock/internal/models"
)

// assertBackendRoundTrip saves both collections through b, reads them back
// through reopen and checks every field survives. Timestamps are in the
// form the store hands to backends (see StoredTime) and must come back
// equal, not just close.
func assertBackendRoundTrip(t *testing.T, b Backend, reopen func(t *testing.T) Backend) {
	t.Helper()
	ctx := context.Background()

	in := StoredTime(time.Date(2024, 5, 1, 8, 0, 0, 123456789, time.UTC))
	out := in.Add(8*time.Hour + 987*time.Microsecond)
	identities := []models.Identity{
		{
			ID:          uuid.New(),
			ExternalID:  "z-last-alphabetically",
			DisplayName: "Zed",
			Embedding:   []float32{0.6, -0.8, 1e-6, 0, -1},
			EnrolledAt:  in.Add(-24 * time.Hour),
			LastInAt:    &in,
			LastOutAt:   &out,
		},
		{
			ID:          uuid.New(),
			ExternalID:  "a-first-alphabetically",
			DisplayName: "Ann",
			Embedding:   []float32{0.1, -0.2, 0.3, -0.4, 0.5},
			EnrolledAt:  in,
		},
	}
	events := []models.AttendanceEvent{
		{ID: uuid.New(), IdentityID: identities[0].ID, IdentityName: "Zed", Timestamp: in, Kind: models.EventKindEnter, Confidence: 0.91},
		{ID: uuid.New(), IdentityID: identities[0].ID, IdentityName: "Zed", Timestamp: out, Kind: models.EventKindExit, Confidence: 1},
	}

	require.NoError(t, b.SaveIdentities(ctx, identities))
	require.NoError(t, b.SaveEvents(ctx, events))

	r := reopen(t)

	gotIDs, err := r.LoadIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, gotIDs, len(identities))
	for i := range identities {
		assert.Equal(t, identities[i].ID, gotIDs[i].ID)
		assert.Equal(t, identities[i].ExternalID, gotIDs[i].ExternalID)
		assert.Equal(t, identities[i].DisplayName, gotIDs[i].DisplayName)
		assert.Equal(t, identities[i].Embedding, gotIDs[i].Embedding)
		assert.Equal(t, identities[i].EnrolledAt, gotIDs[i].EnrolledAt)
	}
	require.NotNil(t, gotIDs[0].LastInAt)
	require.NotNil(t, gotIDs[0].LastOutAt)
	assert.Equal(t, in, *gotIDs[0].LastInAt)
	assert.Equal(t, out, *gotIDs[0].LastOutAt)
	assert.Nil(t, gotIDs[1].LastInAt)
	assert.Nil(t, gotIDs[1].LastOutAt)

	gotEvents, err := r.LoadEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, events, gotEvents)

	// A save replaces the whole collection.
	require.NoError(t, b.SaveIdentities(ctx, identities[1:]))
	require.NoError(t, b.SaveEvents(ctx, nil))

	gotIDs, err = reopen(t).LoadIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, gotIDs, 1)
	assert.Equal(t, identities[1].ID, gotIDs[0].ID)

	gotEvents, err = reopen(t).LoadEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, gotEvents)
}

// assertStoreRoundTrip runs the store on top of b and checks that what a
// restarted store loads is identical to what the first one returned.
func assertStoreRoundTrip(t *testing.T, b Backend, reopen func(t *testing.T) Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.SaveIdentities(ctx, nil))
	require.NoError(t, b.SaveEvents(ctx, nil))

	s, err := NewProfileStore(ctx, b, 0)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 999999999, time.UTC) }

	ada, err := s.Enroll(ctx, "1001", "Ada", []float32{0.6, 0.8})
	require.NoError(t, err)
	ev, err := s.AppendEvent(ctx, models.AttendanceEvent{
		IdentityID:   ada.ID,
		IdentityName: ada.DisplayName,
		Kind:         models.EventKindEnter,
		Timestamp:    time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC),
		Confidence:   0.97,
	})
	require.NoError(t, err)
	ts := ev.Timestamp
	ada, err = s.UpdateIdentity(ctx, ada.ID, func(i *models.Identity) error {
		i.LastInAt = &ts
		return nil
	})
	require.NoError(t, err)

	s2, err := NewProfileStore(ctx, reopen(t), 0)
	require.NoError(t, err)

	got, err := s2.GetIdentity(ada.ID)
	require.NoError(t, err)
	assert.Equal(t, ada, got)
	assert.Equal(t, []models.AttendanceEvent{ev}, s2.ListEvents())
	assert.True(t, got.IsCurrentlyIn())
}
