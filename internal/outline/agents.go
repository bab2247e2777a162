package outline

import (
	"fmt"
	"strings"

	"github.com/linkforge/linkforge/internal/agent"
)

// Agent and handoff names for the outline pipeline.
const (
	AgentTriage      = "triage"
	AgentClarifying  = "clarifying"
	AgentInstruction = "instruction"
	AgentResearch    = "research"
)

const triageInstructions = `You triage outline-generation requests for guest-post articles.
You will receive the writing prompt plus any client context.

Decide whether the prompt is specific enough to research directly. A prompt
is specific enough when the topic, audience and intent are all clear.

RESPONSE FORMAT:
Respond ONLY with valid JSON.
If the prompt is specific enough: {"handoff": "research"}
If essential details are missing: {"handoff": "clarifying"}
Do not include any other text.`

const clarifyingInstructions = `You write clarification questions for vague outline requests.
You will receive the original writing prompt.

RULES:
1. Ask 2-3 questions, each targeting a genuinely missing detail (topic scope, audience, angle).
2. Questions must be answerable in one sentence each.

RESPONSE FORMAT:
Respond ONLY with valid JSON: {"questions": ["...", "..."]}
Do not include any other text.`

const instructionInstructions = `You turn an outline request into a research brief.
You will receive the writing prompt, client context, and any clarification answers.

Write a concise brief (under 150 words) for a research agent: the working
title, the audience, the angle, and 3-5 concrete aspects to research.
Respond with the brief text only.`

const researchInstructions = `You are a research agent producing article outlines for guest posts.
You will receive a research brief and extracts from relevant web sources.

RULES:
1. Produce a complete markdown outline: H2 sections with 2-4 bullet points each.
2. Ground claims in the provided sources where they apply; do not invent statistics.
3. Open with a one-sentence summary of the article's argument.

Respond with the outline in markdown only.`

func triageAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentTriage,
		Model:        model,
		Instructions: triageInstructions,
		Handoffs:     []string{AgentClarifying, AgentResearch},
	}
}

func clarifyingAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentClarifying,
		Model:        model,
		Instructions: clarifyingInstructions,
	}
}

func instructionAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentInstruction,
		Model:        model,
		Instructions: instructionInstructions,
	}
}

func researchAgent(model string) agent.Definition {
	return agent.Definition{
		Name:         AgentResearch,
		Model:        model,
		Instructions: researchInstructions,
	}
}

// buildPrompt renders the task block shared by the triage, clarifying and
// instruction agents.
func buildPrompt(in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PROMPT: %s\n", in.Prompt)
	if in.ClientName != "" {
		fmt.Fprintf(&sb, "CLIENT: %s\n", in.ClientName)
	}
	if in.TargetKeyword != "" {
		fmt.Fprintf(&sb, "TARGET KEYWORD: %s\n", in.TargetKeyword)
	}
	return sb.String()
}
