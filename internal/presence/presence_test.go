package presence_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"vaultpad/internal/presence"
	"vaultpad/internal/wire"
)

func strPtr(s string) *string { return &s }

func Test_Register_Returns_Snapshot_And_Sanitised_Entry(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	id := uuid.New()

	snapshot, entry := reg.Register("notes", id, strPtr("  Ada  "), strPtr(" #ff0000 "), 100)

	require.Len(t, snapshot, 1)
	require.Equal(t, id, entry.ClientID)
	require.Equal(t, "Ada", entry.Label)
	require.Equal(t, "#ff0000", entry.Color)
	require.Equal(t, int64(100), entry.LastSeen)
}

func Test_Register_Truncates_Label_And_Color_By_Code_Points(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()

	longLabel := strings.Repeat("界", 80)
	longColor := strings.Repeat("x", 40)

	_, entry := reg.Register("notes", uuid.New(), &longLabel, &longColor, 1)

	require.Equal(t, strings.Repeat("界", 64), entry.Label)
	require.Equal(t, strings.Repeat("x", 32), entry.Color)
}

func Test_Register_Treats_Blank_As_Unset(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()

	_, entry := reg.Register("notes", uuid.New(), strPtr("   "), nil, 1)

	require.Empty(t, entry.Label)
	require.Empty(t, entry.Color)
}

func Test_Register_Replaces_Existing_Entry(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	id := uuid.New()

	reg.Register("notes", id, strPtr("old"), nil, 1)
	snapshot, entry := reg.Register("notes", id, strPtr("new"), nil, 2)

	require.Len(t, snapshot, 1)
	require.Equal(t, "new", entry.Label)
	require.Equal(t, int64(2), entry.LastSeen)
}

func Test_Snapshot_Is_Ordered_By_Client_ID(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()

	a := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	b := uuid.MustParse("00000000-0000-4000-8000-000000000002")
	c := uuid.MustParse("00000000-0000-4000-8000-000000000003")

	reg.Register("notes", c, nil, nil, 1)
	reg.Register("notes", a, nil, nil, 2)
	snapshot, _ := reg.Register("notes", b, nil, nil, 3)

	require.Equal(t, []uuid.UUID{a, b, c},
		[]uuid.UUID{snapshot[0].ClientID, snapshot[1].ClientID, snapshot[2].ClientID})

	require.Equal(t, snapshot, reg.Snapshot("notes"))
}

func Test_Snapshot_Of_Unknown_Slug_Is_Empty(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	reg.Register("notes", uuid.New(), nil, nil, 1)

	require.Empty(t, reg.Snapshot("other"))
}

func Test_Touch_Updates_Last_Seen_Only(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	id := uuid.New()

	reg.Register("notes", id, strPtr("Ada"), nil, 1)
	reg.Touch("notes", id, 99)

	entry, ok := reg.Remove("notes", id)
	require.True(t, ok)
	require.Equal(t, "Ada", entry.Label)
	require.Equal(t, int64(99), entry.LastSeen)
}

func Test_Touch_Ignores_Unknown_Client(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	reg.Touch("notes", uuid.New(), 1)
}

func Test_SetCursor_Stores_Cursor_And_Reports_Missing_Clients(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	id := uuid.New()

	_, ok := reg.SetCursor("notes", id, wire.CursorState{Position: 3}, 1)
	require.False(t, ok, "cursor for an unregistered client is dropped")

	reg.Register("notes", id, nil, nil, 1)

	anchor := 1
	entry, ok := reg.SetCursor("notes", id, wire.CursorState{
		Position:  3,
		Anchor:    &anchor,
		Direction: wire.DirectionBackward,
	}, 2)
	require.True(t, ok)
	require.NotNil(t, entry.Cursor)
	require.Equal(t, 3, entry.Cursor.Position)
	require.Equal(t, wire.DirectionBackward, entry.Cursor.Direction)
	require.Equal(t, int64(2), entry.LastSeen)
}

func Test_SetIme_Snapshots_Phase_And_Range(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	id := uuid.New()
	reg.Register("notes", id, nil, nil, 1)

	preview := "か"
	entry, ok := reg.SetIme("notes", id, wire.ImeEvent{
		Phase: wire.ImeUpdate,
		Range: &wire.TextRange{Start: 2, End: 4},
		Text:  &preview,
	}, 2)
	require.True(t, ok)
	require.NotNil(t, entry.Ime)
	require.Equal(t, wire.ImeUpdate, entry.Ime.Phase)
	require.Equal(t, &wire.TextRange{Start: 2, End: 4}, entry.Ime.Range)
	require.Equal(t, "か", *entry.Ime.Text)
}

func Test_SetIme_Commit_Stores_Replace_Range(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	id := uuid.New()
	reg.Register("notes", id, nil, nil, 1)

	final := "漢字"
	entry, ok := reg.SetIme("notes", id, wire.ImeEvent{
		Phase:        wire.ImeCommit,
		ReplaceRange: &wire.TextRange{Start: 2, End: 4},
		Text:         &final,
	}, 2)
	require.True(t, ok)
	require.Equal(t, wire.ImeCommit, entry.Ime.Phase)
	require.Equal(t, &wire.TextRange{Start: 2, End: 4}, entry.Ime.Range,
		"commit stores its replace_range as the presence range")
}

func Test_SetProfile_Updates_And_Blank_Clears(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	id := uuid.New()
	reg.Register("notes", id, strPtr("Ada"), strPtr("#f00"), 1)

	entry, ok := reg.SetProfile("notes", id, strPtr("Grace"), nil, 2)
	require.True(t, ok)
	require.Equal(t, "Grace", entry.Label)
	require.Equal(t, "#f00", entry.Color, "absent color is left alone")

	entry, ok = reg.SetProfile("notes", id, strPtr("   "), strPtr(""), 3)
	require.True(t, ok)
	require.Empty(t, entry.Label, "blank label clears")
	require.Empty(t, entry.Color, "blank color clears")
}

func Test_SetProfile_Truncates_Like_Register(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	id := uuid.New()
	reg.Register("notes", id, nil, nil, 1)

	long := strings.Repeat("a", 100)
	entry, ok := reg.SetProfile("notes", id, &long, nil, 2)
	require.True(t, ok)
	require.Equal(t, strings.Repeat("a", 64), entry.Label)
}

func Test_Remove_Returns_Entry_And_Drops_Empty_Bucket(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()
	a := uuid.New()
	b := uuid.New()

	reg.Register("notes", a, strPtr("A"), nil, 1)
	reg.Register("notes", b, strPtr("B"), nil, 1)

	removed, ok := reg.Remove("notes", a)
	require.True(t, ok)
	require.Equal(t, a, removed.ClientID)

	snapshot := reg.Snapshot("notes")
	require.Len(t, snapshot, 1)
	require.Equal(t, b, snapshot[0].ClientID)

	_, ok = reg.Remove("notes", b)
	require.True(t, ok)

	// The bucket is gone; presence updates for it report no client.
	_, ok = reg.SetCursor("notes", b, wire.CursorState{}, 3)
	require.False(t, ok)
}

func Test_Remove_Unknown_Client_Reports_False(t *testing.T) {
	t.Parallel()

	reg := presence.NewRegistry()

	_, ok := reg.Remove("notes", uuid.New())
	require.False(t, ok)

	reg.Register("notes", uuid.New(), nil, nil, 1)

	_, ok = reg.Remove("notes", uuid.New())
	require.False(t, ok)
}
