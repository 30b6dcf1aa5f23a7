package answerflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetadataExtractor_ExtractsMarkerWithinSingleFragment(t *testing.T) {
	var e MetadataExtractor
	segments := e.Feed("The answer is here. [meta:docs doc-1,doc-2] Thanks!")

	require.Len(t, segments, 3)
	require.Equal(t, "The answer is here. ", segments[0].Text)
	require.Nil(t, segments[0].Marker)
	require.Equal(t, []string{"doc-1", "doc-2"}, segments[1].Marker.DocIDs)
	require.Equal(t, " Thanks!", segments[2].Text)
}

func TestMetadataExtractor_MarkerSplitAcrossFragments(t *testing.T) {
	var e MetadataExtractor
	segments1 := e.Feed("Some text [meta:do")
	require.Len(t, segments1, 1)
	require.Equal(t, "Some text ", segments1[0].Text)

	segments2 := e.Feed("cs doc-9] more text")
	require.Len(t, segments2, 2)
	require.Equal(t, []string{"doc-9"}, segments2[0].Marker.DocIDs)
	require.Equal(t, " more text", segments2[1].Text)
}

func TestMetadataExtractor_NoMarkerPassesTextThroughUnchanged(t *testing.T) {
	var e MetadataExtractor
	segments := e.Feed("just plain streamed text")
	require.Len(t, segments, 1)
	require.Equal(t, "just plain streamed text", segments[0].Text)
}

func TestMetadataExtractor_EmptyMarkerYieldsNoDocIDs(t *testing.T) {
	var e MetadataExtractor
	segments := e.Feed("[meta:docs]")
	require.Len(t, segments, 1)
	require.Empty(t, segments[0].Marker.DocIDs)
}

// TestMetadataExtractor_TextBeforeMarkerPrecedesItInOrder guards the
// ordering fix in orchestrator.go's onFragment: text that arrived before
// a marker must be emitted as its own answer_chunk before that marker's
// metadata event, never batched with text that arrived after it.
func TestMetadataExtractor_TextBeforeMarkerPrecedesItInOrder(t *testing.T) {
	var e MetadataExtractor
	segments := e.Feed("first [meta:docs doc-1] second [meta:docs doc-2] third")

	require.Len(t, segments, 5)
	require.Equal(t, "first ", segments[0].Text)
	require.Equal(t, []string{"doc-1"}, segments[1].Marker.DocIDs)
	require.Equal(t, " second ", segments[2].Text)
	require.Equal(t, []string{"doc-2"}, segments[3].Marker.DocIDs)
	require.Equal(t, " third", segments[4].Text)
}
