package extraction

import "fmt"

const extractionPrompt = `Turn the conversation below into structured thoughts for a personal knowledge base. Respond with JSON only.

Shape:
{
  "thoughts": [
    {
      "kind": "heuristic|lesson|decision|observation|principle|fact|preference|feeling|goal|prediction",
      "domain": "professional|personal|mixed",
      "claim": "one or two sentences that make sense without the conversation",
      "stance": "believe|tentative|question",
      "confidence": 0.0-1.0,
      "context": "when or where the claim applies (optional)",
      "evidence": ["points that support the claim"],
      "examples": ["concrete examples mentioned"],
      "actionables": ["next steps mentioned"],
      "tags": ["lowercase", "snake_case"]
    }
  ]
}

Atomicity:
- One claim per thought. Split combined ideas.
- Prefer several small thoughts over one broad summary.
- Unresolved problems become thoughts phrased "Open question: ..." with stance "question".

Kinds:
- heuristic: when X, do Y
- lesson: something learned from experience
- decision: a choice and its rationale
- observation: a noticed pattern
- principle: a firm rule
- fact: information, dates, data
- preference: a personal choice
- feeling: an emotional pattern
- goal: an aspiration
- prediction: a forecast

Fields:
- Claims must be specific and must not lean on "this" or "that" without context.
- confidence: 0.9+ verified, 0.7-0.9 strong belief, 0.5-0.7 tentative.
- Only fill evidence, examples and actionables with what was actually said.
- 3 to 7 tags per thought.
- domain is professional for work and tech, personal for life and health and money, mixed otherwise.

No markdown fences, no commentary.`

const categorizationPrompt = `Turn this quick note into a single thought. Respond with JSON only.

Shape:
{
  "kind": "fact|preference|feeling|goal|observation",
  "domain": "professional|personal|mixed",
  "claim": "the note rewritten as a standalone statement",
  "stance": "believe|tentative",
  "confidence": 0.7-1.0,
  "tags": ["tag_one", "tag_two"]
}

Kinds:
- fact: information, dates, numbers, people
- preference: a personal choice
- feeling: an emotional pattern
- goal: an aspiration
- observation: a noticed pattern

Keep the claim short but complete. 2 to 5 lowercase tags. No markdown fences, no commentary.`

func extractionSystemPrompt(target, min int) string {
	return fmt.Sprintf(`%s

This run:
- Aim for about %d thoughts.
- At least %d if the content supports it.
- Return fewer rather than inventing, but do not merge unrelated ideas.`, extractionPrompt, target, min)
}

func extractionUserPrompt(target, min int, transcript string) string {
	return fmt.Sprintf("Extract thoughts from this conversation. Aim for about %d atomic thoughts (at least %d if supported, never invented).\n\n%s", target, min, transcript)
}

func categorizationUserPrompt(note string) string {
	return "Categorize this note:\n\n" + note
}
