// Package classifier decides whether a query needs retrieval or can be
// answered with a canned conversational reply. It holds no mutable state.
package classifier

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

type QueryType string

const (
	Conversational QueryType = "conversational"
	Factual        QueryType = "factual"
	Mixed          QueryType = "mixed"
)

// DefaultThreshold is the confidence needed to trust a classification.
const DefaultThreshold = 0.7

type Result struct {
	Type       QueryType `json:"type"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
}

// rule is one entry of the ordered match table. Each matching rule adds one
// hit to its label; weight is the confidence increment per hit.
type rule struct {
	name    string
	matcher *regexp.Regexp
	label   QueryType
	weight  float64
}

const baseConfidence = 0.7

var conversationalPatterns = []string{
	`hello|hi|hey|greetings|good morning|good afternoon|good evening`,
	`how are you|how's it going|what's up`,
	`thank you|thanks|thank you very much|appreciate it`,
	`please|excuse me|sorry|pardon`,
	`goodbye|bye|see you|farewell|take care`,
	`yes|no|ok|okay|sure|alright`,
	`i see|i understand|got it|makes sense`,
	`what do you think|your opinion|how do you feel`,
	`can you help|what can you do|what are your capabilities`,
}

var factualKeywords = []string{
	"what is", "what are", "what was", "what were",
	"how does", "how do", "how did", "how to",
	"why does", "why do", "why did", "why is",
	"when did", "when was", "when will", "when does",
	"where is", "where are", "where was", "where can",
	"who is", "who was", "who are", "which is",

	"explain", "describe", "tell me about", "information about",
	"details about", "facts about", "definition of",
	"meaning of", "examples of", "list of",

	"latest", "recent", "current", "today", "now",
	"news", "updates", "developments", "trends",

	"research", "study", "analysis", "theory",
	"science", "technology", "medicine", "physics",
	"chemistry", "biology", "mathematics", "engineering",
	"computer", "software", "artificial intelligence",
	"machine learning", "quantum", "blockchain",
}

// rules is evaluated top to bottom: conversational patterns first, then
// factual keywords. Factual keywords match on a leading word boundary so
// "now" does not fire inside "know" while "computer" still matches "computers".
var rules = buildRules()

func buildRules() []rule {
	out := make([]rule, 0, len(conversationalPatterns)+len(factualKeywords))
	for _, p := range conversationalPatterns {
		out = append(out, rule{
			name:    p,
			matcher: regexp.MustCompile(`\b(` + p + `)\b`),
			label:   Conversational,
			weight:  0.1,
		})
	}
	for _, kw := range factualKeywords {
		out = append(out, rule{
			name:    kw,
			matcher: regexp.MustCompile(`\b` + regexp.QuoteMeta(kw)),
			label:   Factual,
			weight:  0.05,
		})
	}
	return out
}

// Classify returns the query type, a confidence in [0,1] and a reason.
func Classify(query string) Result {
	q := strings.ToLower(strings.TrimSpace(query))

	if utf8.RuneCountInString(q) <= 2 {
		return Result{Type: Conversational, Confidence: 0.9, Reason: "Very short query, likely conversational"}
	}

	var convHits, factHits []string
	var convWeight, factWeight float64
	for _, r := range rules {
		if !r.matcher.MatchString(q) {
			continue
		}
		switch r.label {
		case Conversational:
			convHits = append(convHits, r.name)
			convWeight = r.weight
		case Factual:
			factHits = append(factHits, r.name)
			factWeight = r.weight
		}
	}

	switch {
	case len(convHits) > 0 && len(factHits) == 0:
		return Result{
			Type:       Conversational,
			Confidence: min(0.95, baseConfidence+convWeight*float64(len(convHits))),
			Reason:     fmt.Sprintf("Matched conversational patterns: %v", head(convHits, 2)),
		}
	case len(factHits) > 0 && len(convHits) == 0:
		return Result{
			Type:       Factual,
			Confidence: min(0.95, baseConfidence+factWeight*float64(len(factHits))),
			Reason:     fmt.Sprintf("Matched factual keywords: %v", head(factHits, 3)),
		}
	case len(factHits) > 0 && len(convHits) > 0:
		// ties go to conversational
		if len(factHits) > len(convHits) {
			return Result{
				Type:       Factual,
				Confidence: 0.6,
				Reason:     fmt.Sprintf("Mixed query with more factual indicators: %v", head(factHits, 2)),
			}
		}
		return Result{
			Type:       Conversational,
			Confidence: 0.6,
			Reason:     fmt.Sprintf("Mixed query with more conversational indicators: %v", head(convHits, 2)),
		}
	}

	words := len(strings.Fields(q))
	hasQuestion := strings.Contains(q, "?")
	switch {
	case words <= 3 && !hasQuestion:
		return Result{Type: Conversational, Confidence: 0.6, Reason: "Short statement, likely conversational"}
	case hasQuestion && words > 3:
		return Result{Type: Factual, Confidence: 0.6, Reason: "Question format with substance, likely factual"}
	default:
		return Result{Type: Conversational, Confidence: 0.5, Reason: "Unclear query, defaulting to conversational"}
	}
}

// ShouldUseRAG trusts confident classifications and falls back to retrieval
// for anything below threshold.
func ShouldUseRAG(query string, threshold float64) (bool, string) {
	r := Classify(query)
	switch {
	case r.Type == Factual && r.Confidence >= threshold:
		return true, fmt.Sprintf("Factual query (confidence: %.2f) - %s", r.Confidence, r.Reason)
	case r.Type == Conversational && r.Confidence >= threshold:
		return false, fmt.Sprintf("Conversational query (confidence: %.2f) - %s", r.Confidence, r.Reason)
	default:
		return true, fmt.Sprintf("Ambiguous query (confidence: %.2f) - Using RAG with simplified search", r.Confidence)
	}
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
