package workingset

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var tokenRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// stopwords excludes common English function words from topic token
// sets so Jaccard similarity reflects content overlap, not grammar.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "to": true, "of": true,
	"in": true, "on": true, "for": true, "with": true, "this": true, "that": true,
	"it": true, "as": true, "be": true, "i": true, "you": true, "we": true,
}

// topicTokens extracts the metadata "topics" list if present, falling
// back to lowercased content tokens with stopwords removed.
func topicTokens(e Entry) map[string]bool {
	out := map[string]bool{}
	if raw, ok := e.Event.Metadata["topics"]; ok {
		if list, ok := raw.([]interface{}); ok {
			for _, t := range list {
				if s, ok := t.(string); ok {
					out[strings.ToLower(s)] = true
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	for _, tok := range tokenRe.FindAllString(strings.ToLower(e.Event.Content), -1) {
		if len(tok) < 3 || stopwords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

// jaccard computes |a ∩ b| / |a ∪ b|.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// clusterByTopic greedily takes each unassigned entry as a cluster seed
// and adds every later unassigned entry whose topic token set has Jaccard
// similarity >= minSimilarity to the seed's tokens (similarity to other
// members is not checked), matching spec.md §4.5's "cluster by lexical topic overlap" step.
func clusterByTopic(entries []Entry, minSimilarity float64) [][]Entry {
	type scored struct {
		entry  Entry
		tokens map[string]bool
	}
	items := make([]scored, len(entries))
	for i, e := range entries {
		items[i] = scored{entry: e, tokens: topicTokens(e)}
	}

	assigned := make([]bool, len(items))
	var clusters [][]Entry

	for i := range items {
		if assigned[i] {
			continue
		}
		cluster := []Entry{items[i].entry}
		clusterTokens := items[i].tokens
		assigned[i] = true

		for j := i + 1; j < len(items); j++ {
			if assigned[j] {
				continue
			}
			if jaccard(clusterTokens, items[j].tokens) >= minSimilarity {
				cluster = append(cluster, items[j].entry)
				assigned[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// coherence is the size-adjusted mean pairwise Jaccard similarity across
// a cluster, used as the consolidated memory's confidence multiplier.
func coherence(cluster []Entry) float64 {
	if len(cluster) < 2 {
		return 1
	}
	tokens := make([]map[string]bool, len(cluster))
	for i, e := range cluster {
		tokens[i] = topicTokens(e)
	}
	var sum float64
	var pairs int
	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			sum += jaccard(tokens[i], tokens[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 1
	}
	mean := sum / float64(pairs)
	// Size-adjust: larger, still-coherent clusters are slightly more
	// trustworthy than a bare pairwise mean over two events.
	sizeFactor := 1 - 1/float64(len(cluster)+1)
	return mean*0.7 + sizeFactor*0.3
}

// clusterTopics returns the union of topic tokens across a cluster,
// sorted for deterministic storage and recurrence counting.
func clusterTopics(cluster []Entry) []string {
	set := map[string]bool{}
	for _, e := range cluster {
		for t := range topicTokens(e) {
			set[t] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// summarizeCluster produces a deterministic template summary and a
// coverage estimate (the fraction of the cluster's distinct topic tokens
// the summary mentions).
func summarizeCluster(cluster []Entry) (summary string, coverage float64) {
	topics := clusterTopics(cluster)
	limit := topics
	if len(limit) > 8 {
		limit = limit[:8]
	}
	var b strings.Builder
	b.WriteString("Consolidated from ")
	b.WriteString(strconv.Itoa(len(cluster)))
	b.WriteString(" related events")
	if len(limit) > 0 {
		b.WriteString(" about ")
		b.WriteString(strings.Join(limit, ", "))
	}
	b.WriteString(".")
	summary = b.String()

	if len(topics) == 0 {
		return summary, 1
	}
	return summary, float64(len(limit)) / float64(len(topics))
}
