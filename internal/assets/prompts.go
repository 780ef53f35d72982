// Package assets holds everything the pipeline knows about analysis assets:
// the embedded prompt templates sent to the caption and tag providers, the
// S3-backed asset store, and the image helpers applied to asset bytes
// before they reach a provider.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// CaptionSystemPrompt instructs the caption model. It forbids identifying
// people and speculating beyond what is visible.
//
//go:embed prompts/caption-system.txt
var CaptionSystemPrompt string

// TagsSystemPrompt instructs the tag model to answer with a JSON object.
//
//go:embed prompts/tags-system.txt
var TagsSystemPrompt string

//go:embed prompts/caption-user.txt
var captionUserTemplate string

//go:embed prompts/tags-user.txt
var tagsUserTemplate string

var (
	captionPromptTmpl = template.Must(template.New("caption").Parse(captionUserTemplate))
	tagsPromptTmpl    = template.Must(template.New("tags").Parse(tagsUserTemplate))
)

// PromptData is injected into the user prompt templates.
type PromptData struct {
	Caption string
	Hint    string
}

// RenderCaptionPrompt renders the per-photo caption request.
func RenderCaptionPrompt(hint string) string {
	return renderTemplate(captionPromptTmpl, PromptData{Hint: hint})
}

// RenderTagsPrompt renders the per-photo tag request.
func RenderTagsPrompt(caption, hint string) string {
	return renderTemplate(tagsPromptTmpl, PromptData{Caption: caption, Hint: hint})
}

func renderTemplate(tmpl *template.Template, data PromptData) string {
	var buf bytes.Buffer
	// Execution errors are not expected with these templates; return whatever rendered.
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}
