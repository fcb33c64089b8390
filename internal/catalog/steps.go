package catalog

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/mirajehossain/graphmigrate/internal/backfill"
	"github.com/mirajehossain/graphmigrate/internal/nodefile"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

// ShortNameLength is the width of market.short_name, sized for one SMS line.
const ShortNameLength = 14

// denullifiedFields are the customer text fields that become NOT NULL with
// an empty-string default.
var denullifiedFields = []string{"sex", "location", "notes"}

// DenullifyTextFields replaces NULL in the customer text fields with "".
var DenullifyTextFields = backfill.Func{
	StepName: "denullify_text_fields",
	Fn: func(ctx context.Context, v *backfill.View) error {
		for _, f := range denullifiedFields {
			fill := backfill.Fill{Entity: "customer", Field: f, Value: ""}
			if err := fill.Run(ctx, v); err != nil {
				return err
			}
		}
		return nil
	},
}

// PopulateShortName derives market.short_name from the market name for rows
// that have none yet.
var PopulateShortName = backfill.Func{
	StepName: "populate_short_name",
	Fn: func(ctx context.Context, v *backfill.View) error {
		return v.Each(ctx, "market", func(r backfill.Row) error {
			if s, ok := r.String("short_name"); ok && s != "" {
				return nil
			}
			name, _ := r.String("name")
			return v.Update(ctx, "market", r.PK(), map[string]any{"short_name": ShortName(name)})
		})
	},
}

// ShortName cuts name to ShortNameLength characters at a rune boundary.
func ShortName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= ShortNameLength {
		return name
	}
	return strings.TrimSpace(string([]rune(name)[:ShortNameLength]))
}

// TaskStatuses moves the legacy task statuses onto the current choice set.
// Anything unrecognised, NULL included, becomes "new".
var TaskStatuses = backfill.Map{
	StepName: "update_task_statuses",
	Entity:   "task",
	Field:    "status",
	Mapping: map[string]string{
		"open":        "new",
		"in_progress": "progressing",
		"complete":    "completed",
		"closed":      "completed",
	},
	Default: schema.Str("new"),
}

// Steps is every named step node files may reference.
func Steps() nodefile.Steps {
	return nodefile.Steps{
		DenullifyTextFields.Name(): DenullifyTextFields,
		PopulateShortName.Name():   PopulateShortName,
		TaskStatuses.Name():        TaskStatuses,
	}
}
