package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Image ")
	require.NoError(t, err)
	assert.Equal(t, KindImage, k)

	_, err = ParseKind("video")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestKindJSON(t *testing.T) {
	data, err := json.Marshal(Session{ID: "s1", Kind: KindChat})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"chat"`)

	var s Session
	require.NoError(t, json.Unmarshal([]byte(`{"id":"s2","kind":"image"}`), &s))
	assert.Equal(t, KindImage, s.Kind)

	_, err = json.Marshal(Session{ID: "s3"})
	assert.Error(t, err, "zero kind must not be encoded")
}

func TestPatchMergeLaterWins(t *testing.T) {
	p := Patch{Title: String("a"), Model: String("m1")}
	p = p.Merge(Patch{Title: String("b")})
	p = p.Merge(Patch{}.SetMessages(nil))

	require.NotNil(t, p.Title)
	assert.Equal(t, "b", *p.Title)
	assert.Equal(t, "m1", *p.Model)
	assert.True(t, p.MessagesSet)
	assert.False(t, p.Empty())
	assert.True(t, Patch{}.Empty())
}

func TestPatchApplyClearsMessages(t *testing.T) {
	s := Session{Title: "old", Messages: []Message{{ID: "m1"}}}
	Patch{Title: String("new")}.Apply(&s)
	assert.Equal(t, "new", s.Title)
	assert.Len(t, s.Messages, 1)

	Patch{}.SetMessages(nil).Apply(&s)
	assert.Empty(t, s.Messages)
}

func TestSessionCloneIsDeep(t *testing.T) {
	p := 40
	s := Session{
		Messages:           []Message{{ID: "m1", Content: "x", Progress: &p}},
		RecommendedPrompts: []string{"a"},
	}
	c := s.Clone()
	c.Messages[0].Content = "y"
	*c.Messages[0].Progress = 90
	c.RecommendedPrompts[0] = "b"

	assert.Equal(t, "x", s.Messages[0].Content)
	assert.Equal(t, 40, *s.Messages[0].Progress)
	assert.Equal(t, "a", s.RecommendedPrompts[0])
	assert.Equal(t, 0, c.MessageIndex("m1"))
	assert.Equal(t, -1, c.MessageIndex("nope"))
}

func TestErrorHelpers(t *testing.T) {
	v := &ValidationError{Field: "session", Reason: "kind", Err: ErrKindMismatch}
	assert.True(t, errors.Is(v, ErrKindMismatch))
	assert.True(t, IsValidation(v))
	assert.False(t, IsAuth(v))
	assert.True(t, IsAuth(&AuthError{Reason: "expired"}))
	assert.True(t, IsNetwork(&NetworkError{Op: "get", Err: errors.New("eof")}))
}

func TestLookupModel(t *testing.T) {
	m, k, ok := LookupModel(DefaultImageModel)
	require.True(t, ok)
	assert.Equal(t, KindImage, k)
	assert.NotEmpty(t, m.Name)

	_, _, ok = LookupModel("acme/unknown")
	assert.False(t, ok)
	assert.Equal(t, DefaultChatModel, DefaultModel(KindChat))
}
