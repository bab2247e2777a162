package orchestration

import (
	"fmt"
	"strings"

	"github.com/linkforge/linkforge/internal/agent"
	"github.com/linkforge/linkforge/internal/llm"
)

// Agent names double as provenance tags on modifications.
const (
	AgentInternalLinks = "internal_links"
	AgentClientMention = "client_mention"
	AgentClientLink    = "client_link"
	AgentImages        = "images"
	AgentLinkRequests  = "link_requests"
	AgentURLSuggestion = "url_suggestion"
)

// Tool names the extractor recognises.
const (
	ToolInsertInternalLink     = "insert_internal_link"
	ToolAddClientMention       = "add_client_mention"
	ToolSetImageStrategy       = "set_image_strategy"
	ToolInsertImagePlaceholder = "insert_image_placeholder"
)

const internalLinksInstructions = `You are an internal linking specialist for guest-post articles.
You will receive an article published on a host site plus the host site's domain.

RULES:
1. Propose at most 3 internal links to plausible pages on the host site's own domain.
2. Each anchor must be an exact phrase copied verbatim from the article text.
3. Never link the client's brand or the target keyword; those are reserved.
4. If no natural internal link exists, make no tool calls at all.

For every link you propose, call the insert_internal_link tool once.`

const clientMentionInstructions = `You add unlinked brand mentions to guest-post articles.
You will receive an article, the client's name, and context about the client's product.

RULES:
1. Propose at most 2 natural, editorial mentions of the client by name.
2. Each mention is one full sentence to be inserted after an existing paragraph.
3. paragraph_anchor must be the exact final sentence of the paragraph the mention follows, copied verbatim.
4. Mentions must read as the author's voice, never as advertising copy.

For every mention, call the add_client_mention tool once.`

const clientLinkInstructions = `You place a single contextual client link inside a guest-post article.
You will receive the article, the client's name and URL, the preferred anchor text, and extracted content from the client's target page.

RULES:
1. Propose exactly one placement: a sentence containing one markdown link to the client URL.
2. placement_anchor must be the exact final sentence of the paragraph your sentence follows, copied verbatim from the article.
3. Prefer the preferred anchor text when it fits the sentence naturally; otherwise choose a natural variant.
4. The sentence must add information, not just carry the link.

RESPONSE FORMAT:
Respond ONLY with valid JSON:
{"placement_anchor": "...", "sentence": "...", "rationale": "..."}
Do not include any other text or explanation.`

const imagesInstructions = `You plan imagery for a guest-post article.

RULES:
1. Call set_image_strategy exactly once with a hero image concept and overall style.
2. Call insert_image_placeholder for up to 2 in-content images; anchor must be an exact sentence from the article, copied verbatim.
3. Descriptions must be concrete enough to brief a designer or stock search.`

const linkRequestsInstructions = `You draft outreach copy asking the host site's editor to add links.
You will receive the final article context, the host domain and the client details.

Write a short, polite message (under 120 words) the account manager can paste into an email, naming the article and the links being requested. Respond with the message text only.`

const urlSuggestionInstructions = `You suggest the permalink slug for a guest post about to be published.
You will receive the article title/topic, the host domain and the target keyword.

RULES:
1. The path must be lowercase, hyphen-separated, 3-6 words, keyword-bearing.
2. Suggest a full URL on the host domain.

RESPONSE FORMAT:
Respond ONLY with valid JSON: {"url": "...", "rationale": "..."}
Do not include any other text.`

func internalLinksAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentInternalLinks,
		Model:        model,
		Instructions: internalLinksInstructions,
		Tools: []llm.ToolDef{{
			Name:        ToolInsertInternalLink,
			Description: "Wrap an exact phrase from the article in a link to a page on the host domain",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"anchor":     map[string]interface{}{"type": "string", "description": "exact phrase from the article"},
					"target_url": map[string]interface{}{"type": "string"},
					"reason":     map[string]interface{}{"type": "string"},
				},
				"required": []string{"anchor", "target_url"},
			},
		}},
	}
}

func clientMentionAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentClientMention,
		Model:        model,
		Instructions: clientMentionInstructions,
		Tools: []llm.ToolDef{{
			Name:        ToolAddClientMention,
			Description: "Insert an unlinked client mention sentence after an existing paragraph",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"paragraph_anchor": map[string]interface{}{"type": "string", "description": "exact final sentence of the paragraph the mention follows"},
					"sentence":         map[string]interface{}{"type": "string"},
				},
				"required": []string{"paragraph_anchor", "sentence"},
			},
		}},
	}
}

func clientLinkAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentClientLink,
		Model:        model,
		Instructions: clientLinkInstructions,
	}
}

func imagesAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentImages,
		Model:        model,
		Instructions: imagesInstructions,
		Tools: []llm.ToolDef{
			{
				Name:        ToolSetImageStrategy,
				Description: "Set the overall image strategy for the article",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"hero_image": map[string]interface{}{"type": "string"},
						"style":      map[string]interface{}{"type": "string"},
					},
					"required": []string{"hero_image"},
				},
			},
			{
				Name:        ToolInsertImagePlaceholder,
				Description: "Mark a spot in the article for an in-content image",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"anchor":      map[string]interface{}{"type": "string", "description": "exact sentence from the article"},
						"description": map[string]interface{}{"type": "string"},
					},
					"required": []string{"anchor", "description"},
				},
			},
		},
	}
}

func linkRequestsAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentLinkRequests,
		Model:        model,
		Instructions: linkRequestsInstructions,
	}
}

func urlSuggestionAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentURLSuggestion,
		Model:        model,
		Instructions: urlSuggestionInstructions,
	}
}

// buildContext renders the shared task context block handed to phase agents.
func buildContext(in Input, relevant []string, clientPage string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CLIENT: %s\nCLIENT URL: %s\nHOST SITE: %s\n", in.ClientName, in.ClientURL, in.GuestPostSite)
	if in.AnchorText != "" {
		fmt.Fprintf(&sb, "PREFERRED ANCHOR TEXT: %s\n", in.AnchorText)
	}
	if in.TargetKeyword != "" {
		fmt.Fprintf(&sb, "TARGET KEYWORD: %s\n", in.TargetKeyword)
	}
	if len(relevant) > 0 {
		sb.WriteString("\nMOST RELEVANT PARAGRAPHS:\n")
		for _, p := range relevant {
			sb.WriteString("- " + p + "\n")
		}
	}
	if clientPage != "" {
		sb.WriteString("\nCLIENT TARGET PAGE CONTENT (extract):\n" + clientPage + "\n")
	}
	return sb.String()
}
