package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantType   QueryType
		confidence float64
	}{
		{"very short", "hi", Conversational, 0.9},
		{"single greeting", "hello", Conversational, 0.8},
		{"two conversational patterns", "hello, thanks a lot", Conversational, 0.9},
		{"conversational capped", "hello thanks bye sorry ok i see", Conversational, 0.95},
		{"single factual keyword", "What is the capital of France?", Factual, 0.75},
		{"several factual keywords", "what is quantum computing research", Factual, 0.85},
		{"factual wins mixed", "hello, what is the latest quantum research", Factual, 0.6},
		{"mixed tie goes conversational", "thanks, explain please", Conversational, 0.6},
		{"short statement", "blue green", Conversational, 0.6},
		{"question with substance", "does the moon have any atmosphere?", Factual, 0.6},
		{"unclear", "the moon has a thin atmosphere apparently", Conversational, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.query)
			assert.Equal(t, tt.wantType, got.Type)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestClassifyHelloIsConfidentlyConversational(t *testing.T) {
	got := Classify("hello")
	assert.Equal(t, Conversational, got.Type)
	assert.GreaterOrEqual(t, got.Confidence, 0.7)

	got = Classify("What is the capital of France?")
	assert.Equal(t, Factual, got.Type)
	assert.GreaterOrEqual(t, got.Confidence, 0.6)
}

func TestFactualKeywordNeedsWordStart(t *testing.T) {
	// "now" must not match inside "know"
	got := Classify("i know")
	assert.Equal(t, Conversational, got.Type)
	assert.Equal(t, "Short statement, likely conversational", got.Reason)
}

func TestShouldUseRAG(t *testing.T) {
	use, reason := ShouldUseRAG("hello", DefaultThreshold)
	assert.False(t, use)
	assert.Contains(t, reason, "Conversational query")

	use, reason = ShouldUseRAG("What is quantum computing?", DefaultThreshold)
	assert.True(t, use)
	assert.Contains(t, reason, "Factual query")

	// below threshold either way defaults to retrieval
	use, reason = ShouldUseRAG("thanks, explain please", DefaultThreshold)
	assert.True(t, use)
	assert.Contains(t, reason, "Ambiguous query")

	use, _ = ShouldUseRAG("does the moon have any atmosphere?", DefaultThreshold)
	assert.True(t, use)
}

func TestConversationalResponse(t *testing.T) {
	assert.Equal(t, GreetingReply(), ConversationalResponse("hi"))
	assert.Equal(t, GreetingReply(), ConversationalResponse("Hey there"))
	assert.Contains(t, ConversationalResponse("good morning"), "Good morning")
	assert.Contains(t, ConversationalResponse("how are you"), "doing well")
	assert.Contains(t, ConversationalResponse("thanks!"), "welcome")
	assert.Contains(t, ConversationalResponse("bye"), "Goodbye")
	assert.Contains(t, ConversationalResponse("what can you do"), "Search the web")
	assert.Contains(t, ConversationalResponse("ok"), "Great!")
	assert.Equal(t, defaultReply, ConversationalResponse("mmm"))
	// "this" contains "hi" but is not a greeting
	assert.Equal(t, defaultReply, ConversationalResponse("this"))
}
