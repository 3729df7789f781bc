package catalog

// Samples returns a canned, schema-valid model answer for every stage in
// Default. The mock transport serves them for demos and offline runs.
func Samples() map[string]string {
	return map[string]string{
		Framing: `{
  "problem_statement": "Lower the thermal resistance of a compact heat exchanger rated for 300 bar",
  "title": "High-pressure heat exchanger",
  "domain": "thermal engineering",
  "constraints": ["300 bar working pressure", "stainless steel only"],
  "success_metrics": ["thermal resistance", "pressure drop"]
}`,
		Retrieval: `{
  "search_queries": ["printed circuit heat exchanger", "microchannel high pressure"],
  "prior_art": [{"title": "Printed circuit heat exchangers", "source": "literature", "summary": "Diffusion-bonded etched plates", "relevance": 0.9}],
  "knowledge_gaps": ["fouling at high pressure"]
}`,
		Evidence: `{
  "evidence": [{"claim": "Diffusion bonding holds above 500 bar", "source": "vendor data", "confidence": "HIGH"}],
  "summary": "Bonded plates tolerate the target pressure."
}`,
		Analogies: `{
  "analogies": [{"domain": "biology", "mechanism": "counter-current exchange in fish gills", "transfer_idea": "interleaved counter-flow channels"}]
}`,
		Innovation: `{
  "contradictions": [{"improving": "heat transfer area", "worsening": "pressure rating", "description": "Thinner walls conduct better but burst sooner"}],
  "principles": [{"id": 1, "name": "Segmentation", "application": "split flow into many small channels"}]
}`,
		Concepts: `{
  "concepts": [
    {"id": "c1", "name": "Diffusion-bonded microchannel plates", "description": "Etched plates bonded into a solid block", "principles": ["Segmentation"]},
    {"id": "c2", "name": "Internally finned tubes", "description": "Helical fins inside thick-walled tubes"}
  ]
}`,
		Evaluation: `{
  "evaluations": [
    {"concept_id": "c1", "rating": "STRONG", "score": 84, "feasibility": 70, "risks": ["bonding cost"]},
    {"concept_id": "c2", "rating": "MODERATE", "score": 61, "feasibility": 90}
  ],
  "recommended_concept_id": "c1"
}`,
		FinalReport: `{
  "title": "Microchannel plates for 300 bar service",
  "headline": "Thermal resistance down 40%",
  "executive_summary": "Diffusion-bonded microchannel plates meet the pressure rating with far more transfer area.",
  "report": "Adopt diffusion-bonded microchannel plates. They segment the flow into many small channels, which raises the transfer area without thinning the pressure boundary.",
  "recommendations": ["prototype a 10 kW core"],
  "next_steps": ["burst test at 450 bar"]
}`,
	}
}
