package pipeline

import (
	"fmt"
	"strings"

	"github.com/ternarybob/dossier/internal/interfaces"
)

// Topic is one parallel research track
type Topic struct {
	Key   string // state key and progress stage suffix
	Title string // section heading in the compiled report
	Focus string // instruction for the model
}

// DefaultTopics are the research tracks run for every job
var DefaultTopics = []Topic{
	{
		Key:   "company",
		Title: "Company Overview",
		Focus: "Describe what the company does: products and services, business model, customers, leadership and history.",
	},
	{
		Key:   "financial",
		Title: "Financial Overview",
		Focus: "Summarise the company's funding, revenue indicators, ownership and any public financial information.",
	},
	{
		Key:   "industry",
		Title: "Industry Overview",
		Focus: "Analyse the company's market position, competitors, industry trends and regulatory environment.",
	},
	{
		Key:   "news",
		Title: "Recent News",
		Focus: "List notable recent developments: announcements, partnerships, launches, hires and press coverage.",
	},
}

const researcherSystemPrompt = `You are a business research analyst preparing one section of a company briefing.
Write concise, factual markdown. Use bullet points where they help. Do not invent figures;
say when information is not available. Do not add a top-level heading.`

const editorSystemPrompt = `You are an editor compiling a company research report from analyst briefings.
Produce a single well-structured markdown document. Start with a level-one heading naming the company,
then a short executive summary, then one level-two section per briefing. Remove duplication and keep
every factual claim from the briefings.`

// companyContext renders what is known about the company for inclusion in prompts
func companyContext(input interfaces.PipelineInput, site *SiteContent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", input.Company)
	if input.URL != "" {
		fmt.Fprintf(&b, "Website: %s\n", input.URL)
	}
	if input.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", input.Industry)
	}
	if input.HQLocation != "" {
		fmt.Fprintf(&b, "Headquarters: %s\n", input.HQLocation)
	}
	if site != nil {
		if site.Title != "" {
			fmt.Fprintf(&b, "Website title: %s\n", site.Title)
		}
		if site.Description != "" {
			fmt.Fprintf(&b, "Website description: %s\n", site.Description)
		}
		if site.Markdown != "" {
			fmt.Fprintf(&b, "\nWebsite content:\n%s\n", site.Markdown)
		}
	}
	return b.String()
}

// researchPrompt builds the prompt for one topic
func researchPrompt(topic Topic, input interfaces.PipelineInput, site *SiteContent) string {
	return fmt.Sprintf("Research topic: %s\n%s\nThe section will appear under the heading %q.%s## %s\n\n%s",
		topic.Title, topic.Focus, topic.Title,
		interfaces.PromptContextMarker,
		topic.Title, companyContext(input, site))
}

// editorPrompt builds the prompt that compiles briefings into the final report
func editorPrompt(input interfaces.PipelineInput, topics []Topic, briefings map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compile the briefings below into a research report on %s.", input.Company)
	b.WriteString(interfaces.PromptContextMarker)
	fmt.Fprintf(&b, "# %s Research Report\n", input.Company)
	for _, topic := range topics {
		text, ok := briefings[topic.Key]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", topic.Title, strings.TrimSpace(stripLeadingHeading(text, topic.Title)))
	}
	return b.String()
}

// stripLeadingHeading removes a first line that repeats the section heading
func stripLeadingHeading(text, title string) string {
	trimmed := strings.TrimSpace(text)
	first, rest, found := strings.Cut(trimmed, "\n")
	heading := strings.TrimSpace(strings.TrimLeft(first, "#"))
	if strings.HasPrefix(first, "#") && strings.EqualFold(heading, title) {
		if !found {
			return ""
		}
		return rest
	}
	return trimmed
}
