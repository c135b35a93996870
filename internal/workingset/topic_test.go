package workingset

import (
	"strings"
	"testing"

	"github.com/cml-project/cml/internal/types"
)

func entryWithContent(content string) Entry {
	return Entry{Event: &types.Event{Content: content}}
}

func TestTopicTokensExcludesStopwordsAndShortTokens(t *testing.T) {
	e := entryWithContent("the parser is on a loop for it")
	tokens := topicTokens(e)
	if len(tokens) != 2 || !tokens["parser"] || !tokens["loop"] {
		t.Fatalf("expected only parser and loop to survive stopword/length filtering, got %v", tokens)
	}
}

func TestTopicTokensPrefersMetadataTopics(t *testing.T) {
	e := Entry{Event: &types.Event{
		Content:  "irrelevant content here",
		Metadata: types.Metadata{"topics": []interface{}{"Parser", "Retriever"}},
	}}
	tokens := topicTokens(e)
	if !tokens["parser"] || !tokens["retriever"] {
		t.Fatalf("expected lowercased metadata topics, got %v", tokens)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected only metadata topics, got %v", tokens)
	}
}

func TestJaccardTopic(t *testing.T) {
	a := map[string]bool{"parser": true, "retriever": true}
	b := map[string]bool{"retriever": true, "mirror": true}
	got := jaccard(a, b)
	want := 1.0 / 3.0
	if got != want {
		t.Fatalf("jaccard = %v, want %v", got, want)
	}
}

func TestClusterByTopicGroupsSimilarEntries(t *testing.T) {
	entries := []Entry{
		entryWithContent("working on parser internals today"),
		entryWithContent("more parser internals work happening"),
		entryWithContent("completely unrelated database migration task"),
	}
	clusters := clusterByTopic(entries, 0.3)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d: %+v", len(clusters), clusters)
	}
}

func TestCoherenceSingleEntryIsOne(t *testing.T) {
	got := coherence([]Entry{entryWithContent("solo event")})
	if got != 1 {
		t.Fatalf("coherence of single-entry cluster = %v, want 1", got)
	}
}

func TestSummarizeClusterMentionsCount(t *testing.T) {
	cluster := []Entry{
		entryWithContent("parser bug fix"),
		entryWithContent("parser edge case"),
	}
	summary, coverage := summarizeCluster(cluster)
	if !strings.Contains(summary, "from 2 related events") {
		t.Fatalf("expected summary to mention the 2-event count, got %q", summary)
	}
	if coverage <= 0 || coverage > 1 {
		t.Fatalf("coverage out of range: %v", coverage)
	}
}
