package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"failed":    ":x:",
	"cancelled": ":no_entry_sign:",
}

var statusLabel = map[string]string{
	"completed": "Investigation Complete",
	"failed":    "Investigation Failed",
	"cancelled": "Investigation Cancelled",
}

func taskURL(taskID, dashboardURL string) string {
	return fmt.Sprintf("%s/investigations/%s", dashboardURL, taskID)
}

// BuildStartedMessage creates Block Kit blocks for an investigation
// start notification.
func BuildStartedMessage(taskID, title, dashboardURL string) []goslack.Block {
	url := taskURL(taskID, dashboardURL)
	text := fmt.Sprintf(":mag: *Investigation started*"+
		" — this may take a few minutes.\n<%s|View in Dashboard>", url)
	if title != "" {
		text = fmt.Sprintf(":mag: *Investigation started:* %s\n<%s|View in Dashboard>", title, url)
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildTerminalMessage creates Block Kit blocks for a terminal task
// notification.
func BuildTerminalMessage(input TaskCompletedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Investigation " + input.Status
	}

	headerText := fmt.Sprintf("%s *%s*", emoji, label)
	if input.Title != "" {
		headerText += "\n" + input.Title
	}

	var blocks []goslack.Block

	if input.Status == "completed" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		))
		content := input.Summary
		if content != "" && input.Remediation != "" {
			content += "\n\n*Remediation:*\n" + input.Remediation
		}
		if content != "" {
			blocks = append(blocks, goslack.NewSectionBlock(
				goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(content), false, false),
				nil, nil,
			))
		}
	} else {
		if input.ErrorMessage != "" {
			headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.ErrorMessage))
		}
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		))
	}

	url := taskURL(input.TaskID, dashboardURL)
	buttonText := "View Full Report"
	if input.Status != "completed" {
		buttonText = "View Details"
	}

	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

// truncateForSlack cuts oversized block text on a rune boundary.
func truncateForSlack(text string) string {
	runes := []rune(text)
	if len(runes) <= maxBlockTextLength {
		return text
	}
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated — view full report in dashboard)_"
}
