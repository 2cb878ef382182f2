package ai

import "strings"

type TemplateType string

const (
	TemplateRAG      TemplateType = "rag"
	TemplateQA       TemplateType = "qa"
	TemplateSummary  TemplateType = "summary"
	TemplateExpand   TemplateType = "expand"
	TemplateCreative TemplateType = "creative"
)

const ragTemplate = `
You are an expert content generator. Based on the provided context and user query, create high-quality, informative content.

Context Information:
{context}

User Query: {query}

Instructions:
1. Use the provided context to inform your response
2. Create comprehensive, well-structured content
3. Maintain factual accuracy based on the context
4. Write in a clear, engaging style
5. Include relevant details from the context
6. If the context is insufficient, indicate what additional information would be helpful

Content:
`

const summaryTemplate = `
Summarize the following content in a clear, concise manner while preserving key information:

Content: {content}

Summary:
`

const qaTemplate = `
Answer the following question based on the provided context. Be accurate and comprehensive.

Context: {context}

Question: {query}

Answer:
`

const expandTemplate = `
Expand the following content with additional details, examples, and insights:

Original Content: {content}

Additional Context: {context}

Expanded Content:
`

const creativeTemplate = `
Create engaging, creative content based on the following prompt and context:

Context: {context}

Creative Prompt: {query}

Creative Content:
`

// ParseTemplateType maps unknown or empty names to TemplateRAG.
func ParseTemplateType(s string) TemplateType {
	switch t := TemplateType(strings.ToLower(strings.TrimSpace(s))); t {
	case TemplateRAG, TemplateQA, TemplateSummary, TemplateExpand, TemplateCreative:
		return t
	default:
		return TemplateRAG
	}
}

// RenderPrompt fills the template. Summary summarizes the context; expand
// treats the query as the content to expand.
func RenderPrompt(t TemplateType, query, context string) string {
	var r *strings.Replacer
	switch ParseTemplateType(string(t)) {
	case TemplateSummary:
		r = strings.NewReplacer("{content}", context)
		return r.Replace(summaryTemplate)
	case TemplateQA:
		r = strings.NewReplacer("{context}", context, "{query}", query)
		return r.Replace(qaTemplate)
	case TemplateExpand:
		r = strings.NewReplacer("{content}", query, "{context}", context)
		return r.Replace(expandTemplate)
	case TemplateCreative:
		r = strings.NewReplacer("{context}", context, "{query}", query)
		return r.Replace(creativeTemplate)
	default:
		r = strings.NewReplacer("{context}", context, "{query}", query)
		return r.Replace(ragTemplate)
	}
}
