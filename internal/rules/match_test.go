package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fink5984/telefeed/internal/domain"
)

func mustParse(t *testing.T, content string) *Snapshot {
	t.Helper()
	snap, err := Parse([]byte(content), forwardDefaults)
	require.NoError(t, err)
	return snap
}

func textMsg(chat int64, text string) domain.Message {
	return domain.Message{ChatID: chat, MessageID: 1, Text: text}
}

func mediaMsg(chat int64, caption string) domain.Message {
	return domain.Message{ChatID: chat, MessageID: 1, Text: caption, Media: &domain.Media{Kind: domain.MediaPhoto, FileID: "f1"}}
}

func TestMatch_EmptySnapshot(t *testing.T) {
	snap := mustParse(t, "routes: []")
	for _, msg := range []domain.Message{textMsg(1, "x"), mediaMsg(2, ""), {}} {
		assert.Empty(t, Match(msg, snap))
	}
	assert.Empty(t, Match(textMsg(1, "x"), nil))
}

func TestMatch_AllMatchesInFileOrder(t *testing.T) {
	snap := mustParse(t, `
routes:
  - sources: [100]
    dests: [1]
  - sources: [999]
    dests: [2]
  - sources: [100, 101]
    dests: [3]
`)
	got := Match(textMsg(100, "hello"), snap)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 2, got[1].Index)
}

func TestMatch_EmptySourcesMatchNothing(t *testing.T) {
	snap := mustParse(t, "routes:\n  - dests: [1]\n")
	assert.Empty(t, Match(textMsg(0, "hello"), snap))
	assert.Empty(t, Match(textMsg(1, "hello"), snap))
}

func TestMatch_MinLength(t *testing.T) {
	snap := mustParse(t, `
routes:
  - sources: [100]
    dests: [200, 300]
    mode: FORWARD
    filters: {min_length: 5}
`)
	assert.Empty(t, Match(textMsg(100, "hi"), snap))
	assert.Len(t, Match(textMsg(100, "hello world"), snap), 1)
	// code points, not bytes
	assert.Empty(t, Match(textMsg(100, "שלום"), snap))
	assert.Len(t, Match(textMsg(100, "שלום!"), snap), 1)
}

func TestMatch_Keywords(t *testing.T) {
	snap := mustParse(t, `
routes:
  - sources: [100]
    dests: [1]
    filters: {keywords: [urgent, sale]}
`)
	assert.Len(t, Match(textMsg(100, "big sale today"), snap), 1)
	assert.Empty(t, Match(textMsg(100, "nothing here"), snap))
	assert.Empty(t, Match(textMsg(100, "URGENT"), snap))
	assert.Empty(t, Match(mediaMsg(100, ""), snap))
}

func TestMatch_MediaFlags(t *testing.T) {
	snap := mustParse(t, `
routes:
  - sources: [100]
    dests: [1]
    filters: {only_media: true}
  - sources: [100]
    dests: [2]
    filters: {only_text: true}
  - sources: [100]
    dests: [3]
    filters: {only_text: true, only_media: true}
`)
	text := Match(textMsg(100, "plain"), snap)
	require.Len(t, text, 1)
	assert.Equal(t, 1, text[0].Index)

	media := Match(mediaMsg(100, "caption"), snap)
	require.Len(t, media, 1)
	assert.Equal(t, 0, media[0].Index)
}

func TestMatch_PredicatesAreANDed(t *testing.T) {
	snap := mustParse(t, `
routes:
  - sources: [100]
    dests: [1]
    filters: {keywords: [go], min_length: 10, only_media: true}
`)
	assert.Empty(t, Match(mediaMsg(100, "go"), snap))
	assert.Empty(t, Match(textMsg(100, "go go go go go"), snap))
	assert.Len(t, Match(mediaMsg(100, "go go go go go"), snap), 1)
}

// text_only on a route or in defaults means "no media", the same as the
// only_text filter. Text content is not required.
func TestMatch_RouteTextOnlyMeansNoMedia(t *testing.T) {
	snap := mustParse(t, `
routes:
  - sources: [100]
    dests: [1]
    text_only: true
`)
	require.Len(t, snap.Rules, 1)
	assert.Len(t, Match(textMsg(100, ""), snap), 1)
	assert.Len(t, Match(textMsg(100, "plain"), snap), 1)
	assert.Empty(t, Match(mediaMsg(100, "captioned"), snap))
}
