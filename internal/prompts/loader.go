package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed *.md
var promptFS embed.FS

// PromptTemplate represents a prompt template with metadata
type PromptTemplate struct {
	Name    string
	Content string
}

// Loader handles loading and rendering prompt templates
type Loader struct {
	templates map[string]*PromptTemplate
}

// NewLoader creates a loader with every embedded template parsed.
func NewLoader() (*Loader, error) {
	loader := &Loader{
		templates: make(map[string]*PromptTemplate),
	}

	if err := loader.loadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}

	return loader, nil
}

// loadTemplates loads all markdown prompt templates from embedded filesystem
func (l *Loader) loadTemplates() error {
	entries, err := promptFS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("failed to read prompts directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			content, err := promptFS.ReadFile(entry.Name())
			if err != nil {
				return fmt.Errorf("failed to read prompt file %s: %w", entry.Name(), err)
			}

			templateName := strings.TrimSuffix(entry.Name(), ".md")
			l.templates[templateName] = &PromptTemplate{
				Name:    templateName,
				Content: string(content),
			}
		}
	}

	return nil
}

// GetPrompt returns a prompt template by name
func (l *Loader) GetPrompt(name string) (*PromptTemplate, error) {
	template, exists := l.templates[name]
	if !exists {
		return nil, fmt.Errorf("prompt template '%s' not found", name)
	}

	return template, nil
}

// RenderPrompt renders a prompt template with variable substitution.
// Placeholders without a matching variable are left in place.
func (l *Loader) RenderPrompt(name string, variables map[string]string) (string, error) {
	template, err := l.GetPrompt(name)
	if err != nil {
		return "", err
	}

	content := template.Content

	for key, value := range variables {
		placeholder := fmt.Sprintf("{{%s}}", key)
		content = strings.ReplaceAll(content, placeholder, value)
	}

	return content, nil
}

// ListPrompts returns all available prompt template names
func (l *Loader) ListPrompts() []string {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	return names
}

// ExtractionContext carries everything the extraction prompts interpolate.
type ExtractionContext struct {
	QuestionID   string
	QuestionText string
	AnswerType   string
	Options      string
	Conversation string
	Message      string
}

// ExtractionSystemPrompt returns the system prompt for answer extraction calls.
func (l *Loader) ExtractionSystemPrompt() (string, error) {
	return l.RenderPrompt("extract_system", nil)
}

// ExtractionPrompt returns the full primary extraction prompt.
func (l *Loader) ExtractionPrompt(ctx ExtractionContext) (string, error) {
	return l.RenderPrompt("extract_response", map[string]string{
		"question_id":   ctx.QuestionID,
		"question_text": ctx.QuestionText,
		"answer_type":   ctx.AnswerType,
		"options":       ctx.Options,
		"conversation":  ctx.Conversation,
		"message":       ctx.Message,
	})
}

// FallbackPrompt returns the trimmed-down extraction prompt used when the
// primary attempt failed or timed out.
func (l *Loader) FallbackPrompt(ctx ExtractionContext) (string, error) {
	return l.RenderPrompt("extract_fallback", map[string]string{
		"question_text": ctx.QuestionText,
		"answer_type":   ctx.AnswerType,
		"options":       ctx.Options,
		"message":       ctx.Message,
	})
}

// SynthesisSystemPrompt returns the system prompt for report synthesis calls.
func (l *Loader) SynthesisSystemPrompt() (string, error) {
	return l.RenderPrompt("synthesis_system", nil)
}

// DiagnosticPrompt returns the diagnostic impression prompt.
func (l *Loader) DiagnosticPrompt(moduleSummaries, symptomSummary string) (string, error) {
	return l.RenderPrompt("synthesis_diagnostic", map[string]string{
		"module_summaries": moduleSummaries,
		"symptom_summary":  symptomSummary,
	})
}

// TreatmentPrompt returns the recommendations prompt.
func (l *Loader) TreatmentPrompt(diagnosticSummary, moduleSummaries string) (string, error) {
	return l.RenderPrompt("synthesis_treatment", map[string]string{
		"diagnostic_summary": diagnosticSummary,
		"module_summaries":   moduleSummaries,
	})
}
