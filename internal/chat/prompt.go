package chat

import "strings"

// systemPreamble anchors the assistant to the documentation domain.
const systemPreamble = `You are an AI assistant for a cloud security documentation site.
Provide helpful, accurate, and concise information about cloud security concepts,
best practices, and technologies. If you're unsure about something, acknowledge
the limitations of your knowledge. Focus on AWS, Azure, GCP, and general cloud
security principles. Avoid giving incorrect information.`

// blendInstruction keeps the model from citing "passages" back at the user.
const blendInstruction = `When referencing the documentation, don't explicitly state that you're using content from the passages.
Instead, naturally incorporate the information into your response. If the passages don't contain
information relevant to the user's question, rely on your general knowledge to provide a response.`

// degradedDisclaimer is appended when the documentation lookup failed.
const degradedDisclaimer = `Note: There was an issue connecting to the document database, so you may not have access to the most up-to-date documentation. Please rely on your general knowledge about cloud security.`

// BuildSystemPrompt assembles the system prompt from the fixed preamble, the
// optimized context block (if any), and the degraded-retrieval disclaimer.
func BuildSystemPrompt(contextText string, degraded bool) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)

	if contextText != "" {
		sb.WriteString("\n\n")
		sb.WriteString(contextText)
		sb.WriteString("\n\n")
		sb.WriteString(blendInstruction)
	}

	if degraded {
		sb.WriteString("\n\n")
		sb.WriteString(degradedDisclaimer)
	}

	return sb.String()
}
