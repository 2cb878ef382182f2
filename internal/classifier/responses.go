package classifier

import (
	"regexp"
	"strings"
)

type category struct {
	name    string
	matcher *regexp.Regexp
	reply   string
}

// Categories are checked in order; the first match wins.
var categories = []category{
	{
		name:    "greeting",
		matcher: regexp.MustCompile(`\b(hello|hi|hey|greetings)\b`),
		reply:   "Hello! I'm your RAG-powered AI assistant. I can help answer questions by searching through real-time web data and my knowledge base. What would you like to know?",
	},
	{
		name:    "good_morning",
		matcher: regexp.MustCompile(`\bgood morning\b`),
		reply:   "Good morning! How can I assist you today?",
	},
	{
		name:    "good_afternoon",
		matcher: regexp.MustCompile(`\bgood afternoon\b`),
		reply:   "Good afternoon! What can I help you with?",
	},
	{
		name:    "good_evening",
		matcher: regexp.MustCompile(`\bgood evening\b`),
		reply:   "Good evening! How may I help you?",
	},
	{
		name:    "wellbeing",
		matcher: regexp.MustCompile(`\b(how are you|how's it going|what's up)\b`),
		reply:   "I'm doing well, thank you for asking! I'm ready to help you with any questions or information you need. What would you like to explore?",
	},
	{
		name:    "thanks",
		matcher: regexp.MustCompile(`\b(thank|thanks|appreciate)`),
		reply:   "You're very welcome! Is there anything else I can help you with?",
	},
	{
		name:    "farewell",
		matcher: regexp.MustCompile(`\b(goodbye|bye|farewell)\b`),
		reply:   "Goodbye! Feel free to come back anytime if you have more questions. Have a great day!",
	},
	{
		name:    "capability",
		matcher: regexp.MustCompile(`\b(what can you do|your capabilities|can you help)\b`),
		reply: "I'm a RAG-powered AI assistant that can help you with a wide range of questions! I can:\n\n" +
			"• Search the web for current information\n" +
			"• Access my knowledge base for established facts\n" +
			"• Provide detailed explanations with source citations\n" +
			"• Help with research, learning, and problem-solving\n\n" +
			"What topic would you like to explore?",
	},
	{
		name:    "acknowledgment",
		matcher: regexp.MustCompile(`\b(yes|ok|okay|sure|alright)\b`),
		reply:   "Great! What would you like to know more about?",
	},
}

const defaultReply = "I understand. Is there something specific you'd like to know about? I can search for current information and provide detailed answers with sources."

// ConversationalResponse returns the canned reply for the query's category.
func ConversationalResponse(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, c := range categories {
		if c.matcher.MatchString(q) {
			return c.reply
		}
	}
	return defaultReply
}

// GreetingReply is the reply used for greetings.
func GreetingReply() string {
	return categories[0].reply
}
