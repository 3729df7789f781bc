package catalog

import "github.com/randalmurphal/reportflow/pkg/reportflow/prompt"

// sharedPrefix is identical for every stage so providers can cache it.
const sharedPrefix = `You are a senior engineering analyst producing a structured innovation report.
Work from first principles. Quantify where possible. Name trade-offs explicitly.
Respond with a single JSON object and nothing else: no prose before or after it,
no markdown fences, no comments.`

var framingPrompt = prompt.Template{
	Name:   "an0",
	Prefix: sharedPrefix,
	System: `Stage: problem framing.
Restate the design challenge as a precise engineering problem. Identify the
domain, hard constraints, success metrics, and key parameters with units.
If the challenge is too ambiguous to analyse, set "needs_clarification" to true
and ask exactly one short question in "clarification_question".

Return: {"problem_statement": string, "title": string, "domain": string,
"constraints": [string], "success_metrics": [string],
"key_parameters": [{"name": string, "value": any, "unit": string}],
"needs_clarification": bool, "clarification_question": string}`,
	User: `Design challenge:
${user_input}
${clarification_block|}`,
}

var retrievalPrompt = prompt.Template{
	Name:   "an1",
	Prefix: sharedPrefix,
	System: `Stage: prior-art retrieval plan.
Propose search queries and the most relevant known prior art for this problem.
Note gaps where the literature is thin.

Return: {"search_queries": [string],
"prior_art": [{"title": string, "source": string, "summary": string, "relevance": number 0-1}],
"knowledge_gaps": [string]}`,
	User: `Problem framing:
${an0}`,
}

var evidencePrompt = prompt.Template{
	Name:   "an1_5",
	Prefix: sharedPrefix,
	System: `Stage: evidence augmentation.
Re-rank the prior art by relevance and extract the concrete claims that matter,
each with a confidence of HIGH, MEDIUM, or LOW.

Return: {"evidence": [{"claim": string, "source": string, "confidence": "HIGH"|"MEDIUM"|"LOW"}],
"summary": string}`,
	User: `Problem:
${an0.problem_statement}

Prior art:
${an1.prior_art|[]}`,
}

var analogyPrompt = prompt.Template{
	Name:   "an1_7",
	Prefix: sharedPrefix,
	System: `Stage: cross-domain analogies.
Find mechanisms from unrelated fields that solve a structurally similar problem
and say how each could transfer.

Return: {"analogies": [{"domain": string, "mechanism": string, "transfer_idea": string}]}`,
	User: `Problem:
${an0.problem_statement}

Domain: ${an0.domain|unspecified}`,
}

var innovationPrompt = prompt.Template{
	Name:   "an2",
	Prefix: sharedPrefix,
	System: `Stage: contradiction analysis.
State the technical contradictions (improving one parameter worsens another)
and the inventive principles (numbered 1-40) that resolve them.

Return: {"contradictions": [{"improving": string, "worsening": string, "description": string}],
"principles": [{"id": integer, "name": string, "application": string}]}`,
	User: `Problem framing:
${an0}

Evidence:
${an1_5.evidence|[]}

Analogies:
${an1_7.analogies|[]}`,
}

var conceptPrompt = prompt.Template{
	Name:   "an3",
	Prefix: sharedPrefix,
	System: `Stage: concept generation.
Generate three to six distinct solution concepts. Each must name its working
mechanism and the principles it applies.

Return: {"concepts": [{"id": string, "name": string, "description": string,
"mechanism": string, "principles": [string]}]}`,
	User: `Problem: ${an0.problem_statement}

Contradictions and principles:
${an2}`,
}

var evaluationPrompt = prompt.Template{
	Name:   "an4",
	Prefix: sharedPrefix,
	System: `Stage: concept evaluation.
Rate every concept STRONG, MODERATE, or WEAK, score it 0-100, estimate
feasibility 0-100, and list its main risks. Recommend one concept.

Return: {"evaluations": [{"concept_id": string, "rating": "STRONG"|"MODERATE"|"WEAK",
"score": integer, "feasibility": number, "risks": [string]}],
"recommended_concept_id": string}`,
	User: `Problem: ${an0.problem_statement}
Success metrics: ${an0.success_metrics|[]}

Concepts:
${an3.concepts}`,
}

var reportPrompt = prompt.Template{
	Name:   "an5",
	Prefix: sharedPrefix,
	System: `Stage: final report.
Write the report for an engineering audience. "report" is the full narrative in
markdown: problem, analysis, concepts, evaluation, recommendation.

Return: {"title": string, "headline": string, "executive_summary": string,
"report": string, "recommendations": [string], "next_steps": [string]}`,
	User: `Design challenge: ${user_input}

Framing:
${an0}

Concepts:
${an3.concepts}

Evaluation:
${an4}`,
}
