package intent

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultTemplates returns the built-in calendar command templates.
func DefaultTemplates() []Template {
	return []Template{
		{
			Name:    "cancel-event",
			Command: "cancel_event",
			Pattern: `^(?:please\s+)?(?:cancel|delete|remove|drop)\s+(?:my\s+|the\s+)?(?P<title>.+?)(?:\s+(?P<when>(?:on|at|for|tomorrow|today|tonight|next|this)\b.*))?$`,
		},
		{
			Name:    "move-event",
			Command: "move_event",
			Pattern: `^(?:please\s+)?(?:move|reschedule|push|shift)\s+(?:my\s+|the\s+)?(?P<title>.+?)\s+to\s+(?P<when>.+)$`,
		},
		{
			Name:    "create-event",
			Command: "create_event",
			Pattern: `^(?:please\s+)?(?:book|schedule|add|create|set up|put in|plan)\s+(?:a\s+|an\s+|my\s+)?(?P<title>.+?)(?:\s+(?P<when>(?:on|at|for|tomorrow|today|tonight|next|this)\b.*))?$`,
		},
		{
			Name:    "next-event",
			Command: "next_event",
			Pattern: `^(?:what(?:'s| is)\s+)?(?:my\s+)?next\s+(?:meeting|event|appointment)$|^what(?:'s| is) next$`,
		},
		{
			Name:    "list-events",
			Command: "list_events",
			Pattern: `^(?:what(?:'s| is)\s+on\s+(?:my\s+)?(?:calendar|agenda|schedule)|what do i have|show\s+(?:me\s+)?(?:my\s+)?(?:calendar|agenda|schedule)|list\s+(?:my\s+)?(?:events|meetings|appointments))(?:\s+(?P<when>.+))?$`,
		},
	}
}

// ParseTemplatesYAML decodes a YAML list of templates. Unknown fields are
// rejected.
func ParseTemplatesYAML(data []byte) ([]Template, error) {
	var out []Template
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("intent: decode templates: %w", err)
	}
	return out, nil
}
