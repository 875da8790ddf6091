package moderation

import "fmt"

const customRuleSystemPrompt = "You are a content moderator. Analyze if content violates the given rule. " +
	"Be conservative - when in doubt, approve.\n\n" +
	"Respond ONLY with JSON:\n" +
	`{"decision": "approved|rejected", "reason": "brief explanation", "confidence": 0.85}`

const enhancedSystemPrompt = "You are a safety moderator. Reject harmful content: " +
	"NSFW, violence, hate speech, illegal activities, self-harm, spam.\n\n" +
	"JSON only:\n" +
	`{"decision": "approved|rejected", "reason": "brief explanation", "confidence": 0.95}`

func customRuleUserPrompt(rule, content string) string {
	return fmt.Sprintf("RULE: %s\n\nCONTENT: %s\n\nDoes content violate this rule? JSON only:", rule, content)
}

func enhancedUserPrompt(content string) string {
	return fmt.Sprintf("CONTENT: %s\n\nIs this harmful? JSON only:", content)
}
