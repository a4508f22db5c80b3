package webhooks

import (
	"fmt"
	"sort"
	"strings"
)

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// FormatSlackMessage formats an event as a Slack message
func FormatSlackMessage(event *Event) SlackMessage {
	fields := []SlackField{
		{Title: "Event Type", Value: string(event.Type), Short: true},
		{Title: "Event ID", Value: event.ID, Short: true},
		{Title: "Timestamp", Value: event.Timestamp.Format("2006-01-02 15:04:05"), Short: true},
	}
	if event.CompanyID != 0 {
		fields = append(fields, SlackField{Title: "Company", Value: fmt.Sprintf("%d", event.CompanyID), Short: true})
	}

	// message is rendered as the attachment body; everything else as fields
	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		if k != "message" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, SlackField{Title: fieldTitle(k), Value: fmt.Sprint(event.Data[k]), Short: true})
	}

	var text string
	if message, ok := event.Data["message"].(string); ok {
		text = message
	}

	return SlackMessage{
		Text: getEventTitle(event),
		Attachments: []SlackAttachment{
			{
				Color:  getEventColor(event),
				Title:  getEventTitle(event),
				Text:   text,
				Fields: fields,
			},
		},
	}
}

// fieldTitle turns "overage_cost" into "Overage Cost".
func fieldTitle(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// getEventColor returns the Slack color for an event
func getEventColor(event *Event) string {
	switch event.Type {
	case EventAccountSuspended, EventJobFailed:
		return "danger"
	case EventInvoiceOverdue:
		return "warning"
	case EventUsageAlert:
		if level, _ := event.Data["level"].(string); level == "critical" || level == "exceeded" {
			return "danger"
		}
		return "warning"
	default:
		return "#439FE0"
	}
}

// getEventTitle returns a human-readable title for an event
func getEventTitle(event *Event) string {
	switch event.Type {
	case EventUsageAlert:
		metric, _ := event.Data["metric"].(string)
		level, _ := event.Data["level"].(string)
		if metric != "" && level != "" {
			return fmt.Sprintf("Usage Alert: %s %s", fieldTitle(metric), level)
		}
		return "Usage Alert"
	case EventAccountSuspended:
		return "Account Suspended"
	case EventInvoiceOverdue:
		return "Invoice Overdue"
	case EventJobFailed:
		if job, ok := event.Data["job"].(string); ok {
			return fmt.Sprintf("Billing Job Failed: %s", job)
		}
		return "Billing Job Failed"
	default:
		return string(event.Type)
	}
}
