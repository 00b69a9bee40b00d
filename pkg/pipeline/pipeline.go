package pipeline

// Registry is the ordered set of steps a run executes.
type Registry struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Steps       []StepDefinition `yaml:"steps"`
}

const promptPreamble = "CONTEXT: You are an AI assistant creating an orthographic character turnaround sheet for 3D modeling.\n"

const promptRules = `CRITICAL RULES:
1. **Style Consistency:** Maintain 100% stylistic consistency with the source image. This includes line art, color palette, shading style, and all character features.
2. **No Changes:** DO NOT add, remove, or alter any details of the character's design. The output must be the exact same character from a different angle.
3. **Background:** The background must be a solid, neutral color.`

// Step IDs of the built-in registry.
const (
	StepOpposite = 1
	StepFront    = 2
	StepBack     = 3
	StepThreeQtr = 4
	StepTopDown  = 5
	StepBottomUp = 6
)

// DefaultRegistry returns the built-in turnaround sheet.
func DefaultRegistry() *Registry {
	return &Registry{
		Name:        "turnaround",
		Description: "Orthographic character turnaround sheet",
		Steps:       DefaultSteps(),
	}
}

// DefaultSteps returns the six built-in view steps in canonical order.
func DefaultSteps() []StepDefinition {
	return []StepDefinition{
		{
			ID:    StepOpposite,
			Title: "Opposite View",
			Prompt: promptPreamble +
				"SOURCE IMAGE: The user has provided a profile (side) view of a character.\n" +
				"TASK: Generate the opposite profile view of the character, showing them looking in the reverse direction.\n" +
				promptRules,
		},
		{
			ID:    StepFront,
			Title: "Front View",
			Prompt: promptPreamble +
				"SOURCE IMAGE: The user has provided a single image of a character.\n" +
				"TASK: Generate a perfectly symmetrical, front-on orthographic view of the character, as if they are looking directly at the camera.\n" +
				promptRules,
		},
		{
			ID:    StepBack,
			Title: "Back View",
			Prompt: promptPreamble +
				"SOURCE IMAGE: The user has provided a single image of a character.\n" +
				"TASK: Generate a perfectly symmetrical, rear orthographic view of the character's head and shoulders from directly behind.\n" +
				promptRules,
		},
		{
			ID:    StepThreeQtr,
			Title: "3/4 View",
			Prompt: promptPreamble +
				"SOURCE IMAGE: The user has provided a single image of a character.\n" +
				"TASK: Generate a three-quarters (3/4) view. The character's head should be turned to face partially towards the viewer, midway between a front and side view.\n" +
				promptRules,
		},
		{
			ID:    StepTopDown,
			Title: "Top-Down View",
			Prompt: promptPreamble +
				"SOURCE IMAGE: The user has provided a single image of a character.\n" +
				"TASK: Generate an orthographic top-down view, looking directly down at the top of the character's head.\n" +
				promptRules,
		},
		{
			ID:    StepBottomUp,
			Title: "Bottom-Up View",
			Prompt: `CONTEXT: You are an AI assistant creating a character reference sheet for 3D modeling.
SOURCE IMAGE: The user has provided an image of a character.
TASK: Generate a "worm's-eye view" of the character. This is an orthographic bottom-up view, looking directly up from underneath the character's chin.
CRITICAL RULES:
1. **Upright Orientation:** The character MUST remain upright. DO NOT rotate or flip the character upside down. The perspective is from below, looking up at the character.
2. **Style Consistency:** Maintain 100% stylistic consistency with the source image. This includes line art, color palette, shading style, and all character features.
3. **No Changes:** DO NOT add, remove, or alter any details of the character's design. The output must be the exact same character from a different angle.
4. **Background:** The background must be a solid, neutral color.`,
		},
	}
}
