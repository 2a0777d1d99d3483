package reasoner

import "google.golang.org/genai"

const strategyPrompt = `You plan how to find a verifiable contact email for a licensed contractor.
The user message is a JSON object describing the contractor.
Respond with a single JSON object and nothing else:
{"approach": one of "registry-first", "search-first", "hybrid", "registry-only",
 "search_queries": up to 5 plain search queries without quotes or plus signs,
 "max_urls": integer between 1 and 20,
 "source_priority": ordered list drawn from "official_website", "registry", "web_search", "social", "directory",
 "rationale": one or two sentences,
 "confidence": integer between 0 and 100}
Prefer "registry-first" when an official website is known; it scrapes that site and runs no search queries.
Use "hybrid" when the website should be corroborated by search results.`

const queriesPrompt = `You write web search queries that surface the contact email of a licensed contractor.
The user message is a JSON object describing the contractor.
Respond with a single JSON object and nothing else:
{"queries": up to 5 plain search queries}
Combine the business name with its location and contact intent words. Never use quotes or plus signs.`

const interpretPrompt = `You explain the outcome of a contractor email discovery run to an operations analyst.
The user message is a JSON object with the entity, the strategy used, the scored candidates, and run statistics.
Respond with a single JSON object and nothing else:
{"summary": one sentence,
 "key_findings": list of short sentences,
 "recommendations": list of short next steps,
 "confidence_explanation": one or two sentences on why the top candidate scored as it did}
Do not invent emails that are not among the candidates.`

func stringList() *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
}

// responseSchemas constrain Gemini output per operation.
var responseSchemas = map[string]*genai.Schema{
	OpStrategy: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"approach": {
				Type: genai.TypeString,
				Enum: []string{"registry-first", "search-first", "hybrid", "registry-only"},
			},
			"search_queries":  stringList(),
			"max_urls":        {Type: genai.TypeInteger},
			"source_priority": stringList(),
			"rationale":       {Type: genai.TypeString},
			"confidence":      {Type: genai.TypeInteger},
		},
		Required: []string{"approach", "search_queries", "max_urls", "rationale"},
	},
	OpQueries: {
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"queries": stringList()},
		Required:   []string{"queries"},
	},
	OpInterpret: {
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":                {Type: genai.TypeString},
			"key_findings":           stringList(),
			"recommendations":        stringList(),
			"confidence_explanation": {Type: genai.TypeString},
		},
		Required: []string{"summary"},
	},
}
