package engine

// StepSpec describes one step of a phase: its prompt template, the
// top-level fields the parsed result must contain, and generation options.
// Defaults fill context keys a predecessor step should have produced but
// left semantically empty, so a weak step does not abort the whole phase.
type StepSpec struct {
	Name        string
	Template    string
	Required    []string
	Defaults    map[string]interface{}
	Temperature float64
	MaxTokens   int
}

// PhaseSpec is one of the five fixed stages of the content pipeline.
type PhaseSpec struct {
	Number    int
	Name      string
	Think     StepSpec
	Execute   StepSpec
	Integrate StepSpec
}

// StepSpecFor returns the spec for a step name.
func (p PhaseSpec) StepSpecFor(step string) (StepSpec, bool) {
	switch step {
	case StepThink:
		return p.Think, true
	case StepExecute:
		return p.Execute, true
	case StepIntegrate:
		return p.Integrate, true
	}
	return StepSpec{}, false
}

const jsonOnly = "Respond with a single JSON object and nothing else."

// phases is the fixed pipeline plan. Each phase narrows the previous one's
// output: topic -> angle -> concept -> voiced draft -> polished post.
var phases = []PhaseSpec{
	{
		Number: 1,
		Name:   "topic_analysis",
		Think: StepSpec{
			Name: StepThink,
			Template: "You are planning research on the topic \"{topic}\" for a {platform} audience.\n" +
				"The desired tone is: {tone}.\n" +
				"Decide what aspects of the topic matter most for this audience and what questions to answer.\n" +
				jsonOnly + " Required field: \"plan\" (string describing the analysis plan). " +
				"Optional: \"questions\" (array of strings).",
			Required:    []string{"plan"},
			Temperature: 0.7,
			MaxTokens:   800,
		},
		Execute: StepSpec{
			Name: StepExecute,
			Template: "Analyze the topic \"{topic}\" for {platform} following this plan:\n{plan}\n" +
				"Surface the angles, tensions and audience hooks the topic offers.\n" +
				jsonOnly + " Required field: \"output\" (string with the analysis). " +
				"Optional: \"hooks\" (array of strings).",
			Required:    []string{"output"},
			Defaults:    map[string]interface{}{"plan": "identify the most engaging aspects of the topic for this audience"},
			Temperature: 0.7,
			MaxTokens:   1200,
		},
		Integrate: StepSpec{
			Name: StepIntegrate,
			Template: "Condense this topic analysis into the insights later stages will build on.\n" +
				"Plan:\n{plan}\nAnalysis:\n{output}\n" +
				jsonOnly + " Required field: \"summary\" (string). " +
				"Optional: \"audience_profile\" (object).",
			Required:    []string{"summary"},
			Defaults:    map[string]interface{}{"output": "no detailed analysis was produced"},
			Temperature: 0.4,
			MaxTokens:   800,
		},
	},
	{
		Number: 2,
		Name:   "angle_selection",
		Think: StepSpec{
			Name: StepThink,
			Template: "Topic: {topic}. Platform: {platform}. Tone: {tone}.\n" +
				"Earlier analysis:\n{summary}\n" +
				"Plan how to choose the single strongest angle for a high-engagement post.\n" +
				jsonOnly + " Required field: \"plan\" (string).",
			Required:    []string{"plan"},
			Temperature: 0.7,
			MaxTokens:   600,
		},
		Execute: StepSpec{
			Name: StepExecute,
			Template: "Following this plan:\n{plan}\n" +
				"Propose candidate angles for \"{topic}\" on {platform} and argue for the strongest one.\n" +
				jsonOnly + " Required field: \"output\" (string). " +
				"Optional: \"candidates\" (array of strings).",
			Required:    []string{"output"},
			Defaults:    map[string]interface{}{"plan": "compare several angles and pick the one with the widest reach"},
			Temperature: 0.8,
			MaxTokens:   1000,
		},
		Integrate: StepSpec{
			Name: StepIntegrate,
			Template: "Commit to one angle based on the evaluation below and state why it wins.\n" +
				"Plan:\n{plan}\nEvaluation:\n{output}\n" +
				jsonOnly + " Required field: \"summary\" (string). " +
				"Optional: \"angle\" (string naming the chosen angle).",
			Required:    []string{"summary"},
			Defaults:    map[string]interface{}{"output": "no candidate evaluation was produced"},
			Temperature: 0.4,
			MaxTokens:   600,
		},
	},
	{
		Number: 3,
		Name:   "concept_development",
		Think: StepSpec{
			Name: StepThink,
			Template: "Topic: {topic}. Platform: {platform}. Tone: {tone}.\n" +
				"Chosen direction so far:\n{summary}\n" +
				"Plan how to develop this into a concrete post concept with a structure.\n" +
				jsonOnly + " Required field: \"plan\" (string).",
			Required:    []string{"plan"},
			Temperature: 0.7,
			MaxTokens:   600,
		},
		Execute: StepSpec{
			Name: StepExecute,
			Template: "Following this plan:\n{plan}\n" +
				"Develop the post concept: opening hook, body beats, and close, suited to {platform}.\n" +
				jsonOnly + " Required field: \"output\" (string). " +
				"Optional: \"structure\" (array of strings).",
			Required:    []string{"output"},
			Defaults:    map[string]interface{}{"plan": "develop a hook, three supporting beats, and a closing call to action"},
			Temperature: 0.8,
			MaxTokens:   1200,
		},
		Integrate: StepSpec{
			Name: StepIntegrate,
			Template: "Lock in the post concept from the work below.\n" +
				"Plan:\n{plan}\nConcept draft:\n{output}\n" +
				jsonOnly + " Required field: \"summary\" (string describing the final concept).",
			Required:    []string{"summary"},
			Defaults:    map[string]interface{}{"output": "no concept draft was produced"},
			Temperature: 0.4,
			MaxTokens:   800,
		},
	},
	{
		Number: 4,
		Name:   "voice_rendering",
		Think: StepSpec{
			Name: StepThink,
			Template: "Topic: {topic}. Platform: {platform}. Tone: {tone}.\n" +
				"Concept to render:\n{summary}\n" +
				"Plan how to write this concept in the persona's voice, honoring the tone.\n" +
				jsonOnly + " Required field: \"plan\" (string).",
			Required:    []string{"plan"},
			Temperature: 0.7,
			MaxTokens:   600,
		},
		Execute: StepSpec{
			Name: StepExecute,
			Template: "Following this plan:\n{plan}\n" +
				"Write the full draft of the post in the persona's voice. Tone: {tone}. Platform: {platform}.\n" +
				jsonOnly + " Required field: \"output\" (string containing the draft).",
			Required:    []string{"output"},
			Defaults:    map[string]interface{}{"plan": "write the concept directly in the requested voice and tone"},
			Temperature: 0.9,
			MaxTokens:   1200,
		},
		Integrate: StepSpec{
			Name: StepIntegrate,
			Template: "Review the voiced draft against the plan and keep the strongest version.\n" +
				"Plan:\n{plan}\nDraft:\n{output}\n" +
				jsonOnly + " Required field: \"summary\" (string containing the kept draft and notes).",
			Required:    []string{"summary"},
			Defaults:    map[string]interface{}{"output": "no voiced draft was produced"},
			Temperature: 0.4,
			MaxTokens:   1000,
		},
	},
	{
		Number: 5,
		Name:   "final_polish",
		Think: StepSpec{
			Name: StepThink,
			Template: "Topic: {topic}. Platform: {platform}. Tone: {tone}.\n" +
				"Draft so far:\n{summary}\n" +
				"Plan the final polish: hooks, pacing, formatting and length constraints for {platform}.\n" +
				jsonOnly + " Required field: \"plan\" (string).",
			Required:    []string{"plan"},
			Temperature: 0.6,
			MaxTokens:   600,
		},
		Execute: StepSpec{
			Name: StepExecute,
			Template: "Following this plan:\n{plan}\n" +
				"Polish the draft into its final form for {platform}. Keep the {tone} tone.\n" +
				jsonOnly + " Required field: \"output\" (string containing the polished post).",
			Required:    []string{"output"},
			Defaults:    map[string]interface{}{"plan": "tighten the hook, fix pacing, and fit the platform's format"},
			Temperature: 0.7,
			MaxTokens:   1000,
		},
		Integrate: StepSpec{
			Name: StepIntegrate,
			Template: "Finalize the deliverable.\n" +
				"Plan:\n{plan}\nPolished draft:\n{output}\n" +
				jsonOnly + " Required fields: \"summary\" (string recap of the run) and " +
				"\"post_text\" (string, the exact text to publish).",
			Required:    []string{"summary", "post_text"},
			Defaults:    map[string]interface{}{"output": "no polished draft was produced"},
			Temperature: 0.3,
			MaxTokens:   1000,
		},
	},
}

// PhaseCount returns the number of phases in the pipeline.
func PhaseCount() int { return len(phases) }

// PhaseSpecFor returns the spec for a 1-based phase number.
func PhaseSpecFor(phase int) (PhaseSpec, bool) {
	if phase < 1 || phase > len(phases) {
		return PhaseSpec{}, false
	}
	return phases[phase-1], true
}
