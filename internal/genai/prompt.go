package genai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

const systemPrompt = `You are a friendly university admissions assistant chatting with a prospective student.
Rewrite the DRAFT reply so it sounds warm and natural, in at most three short sentences.
Keep the same question and meaning. Do not ask for any other information, do not invent programs, dates or prices.
If quick reply options are listed, the reply must still make sense with those options. Reply with the message text only.`

// buildUserPrompt renders the conversation context. Phone fields never reach the model.
func buildUserPrompt(pc PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation step: %s\n", pc.State)
	if pc.DisplayName != "" {
		fmt.Fprintf(&b, "Student name: %s\n", pc.DisplayName)
	}

	data := pc.UserData.Without(models.SensitiveDataKeys...).Without(models.DataKeyRetryCount)
	if len(data) > 0 {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		b.WriteString("Collected so far:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, data[models.DataKey(k)])
		}
	}

	if len(pc.Recent) > 0 {
		b.WriteString("Recent messages:\n")
		for _, m := range pc.Recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, redact(m.Text, pc.UserData))
		}
	}
	if len(pc.QuickReplies) > 0 {
		fmt.Fprintf(&b, "Quick reply options: %s\n", strings.Join(pc.QuickReplies, " | "))
	}
	fmt.Fprintf(&b, "DRAFT: %s", pc.Template)
	return b.String()
}

// redact masks collected phone values that appear verbatim in message text.
func redact(text string, data models.UserData) string {
	for _, k := range models.SensitiveDataKeys {
		if v := data[k]; v != "" {
			text = strings.ReplaceAll(text, v, "[phone]")
		}
	}
	return text
}
