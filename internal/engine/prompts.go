package engine

import (
	"strings"

	"github.com/rs/zerolog"
)

const systemInstruction = "You are an expert web developer. Your task is to generate a complete, single-file HTML document.\n" +
	"The HTML file must include all necessary CSS and JavaScript embedded within it.\n" +
	"Do not include any explanations, comments, or any text outside of the HTML code itself.\n\n"

// buildPrompt composes the generation prompt. Sections always appear in the
// same order: instruction, brief (or existing code plus new brief), checks,
// attachments. Attachments that cannot be decoded are logged and skipped.
func buildPrompt(logger zerolog.Logger, req GenerateRequest) string {
	var sb strings.Builder
	sb.WriteString(systemInstruction)

	if req.Previous != nil {
		sb.WriteString("--- EXISTING HTML CODE ---\n")
		sb.WriteString(*req.Previous)
		sb.WriteString("\n--- END OF EXISTING CODE ---\n\n")
		sb.WriteString("--- NEW BRIEF TO IMPLEMENT ---\n\"")
		sb.WriteString(req.Brief)
		sb.WriteString("\"\n--- END OF NEW BRIEF ---\n\n")
	} else {
		sb.WriteString("Brief: \"")
		sb.WriteString(req.Brief)
		sb.WriteString("\"\n\n")
	}

	if len(req.Checks) > 0 {
		sb.WriteString("Your generated code will be evaluated against the following checks:\n")
		for _, check := range req.Checks {
			sb.WriteString("- ")
			sb.WriteString(check)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(req.Attachments) > 0 {
		sb.WriteString("The following files are attached. Use their content as required by the brief:\n")
		for _, a := range req.Attachments {
			content, err := decodeDataURI(a.URL)
			if err != nil {
				logger.Warn().Err(err).Str("attachment", a.Name).Msg("could not decode attachment, skipping")
				continue
			}
			sb.WriteString("- File Name: ")
			sb.WriteString(a.Name)
			sb.WriteString("\n- Content:\n```\n")
			sb.WriteString(content)
			sb.WriteString("\n```\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
