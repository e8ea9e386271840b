// Package taskgen expands budget line items into work tasks.
//
// Each item is expanded by the first tier that applies:
//  1. a service template (by template id, else by exact title) with sub-tasks
//  2. bullet lines ("-", "•", "*") in the item description
//  3. a single generic task mirroring the item
package taskgen

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"obraflow/internal/domain"
)

// taskNamespace seeds deterministic task ids.
var taskNamespace = uuid.MustParse("6f1c2a52-8c1e-4a53-9a47-0d3e8f5b7a10")

var bulletMarkers = []string{"-", "•", "*"}

type Options struct {
	BulletPoints           int
	BulletTimeLimitMinutes int
	GenericPoints          int
	GenericTimeLimit       int
}

func DefaultOptions() Options {
	return Options{
		BulletPoints:           1,
		BulletTimeLimitMinutes: 30,
		GenericPoints:          1,
		GenericTimeLimit:       60,
	}
}

// Catalog indexes service templates for lookup during generation.
type Catalog struct {
	byID    map[string]domain.ServiceTemplate
	byTitle map[string]domain.ServiceTemplate
}

// NewCatalog builds a catalog. When two templates share a title the first wins.
func NewCatalog(templates []domain.ServiceTemplate) Catalog {
	c := Catalog{
		byID:    make(map[string]domain.ServiceTemplate, len(templates)),
		byTitle: make(map[string]domain.ServiceTemplate, len(templates)),
	}
	for _, t := range templates {
		if t.ID != "" {
			c.byID[t.ID] = t
		}
		if _, ok := c.byTitle[t.Title]; !ok {
			c.byTitle[t.Title] = t
		}
	}
	return c
}

// Lookup resolves the template for an item: the stable template id first,
// then the exact title.
func (c Catalog) Lookup(item domain.LineItem) (domain.ServiceTemplate, bool) {
	if item.TemplateID != "" {
		if t, ok := c.byID[item.TemplateID]; ok {
			return t, true
		}
	}
	t, ok := c.byTitle[item.Title]
	return t, ok
}

// Generate is deterministic: identical items and catalog yield identical tasks,
// ids included.
func Generate(items []domain.LineItem, catalog Catalog, opts Options) []domain.WorkTask {
	var out []domain.WorkTask
	for _, item := range items {
		out = append(out, expand(item, catalog, opts)...)
	}
	for i := range out {
		out[i].Position = i
	}
	return out
}

func expand(item domain.LineItem, catalog Catalog, opts Options) []domain.WorkTask {
	if tpl, ok := catalog.Lookup(item); ok && len(tpl.SubTasks) > 0 {
		tasks := make([]domain.WorkTask, 0, len(tpl.SubTasks))
		for i, st := range tpl.SubTasks {
			tasks = append(tasks, newTask(item, i, st.Title, "", st.Points, st.TimeLimitMinutes))
		}
		return tasks
	}
	if lines := BulletLines(item.Description); len(lines) > 0 {
		tasks := make([]domain.WorkTask, 0, len(lines))
		for i, line := range lines {
			tasks = append(tasks, newTask(item, i, line, "", opts.BulletPoints, opts.BulletTimeLimitMinutes))
		}
		return tasks
	}
	return []domain.WorkTask{newTask(item, 0, item.Title, item.Description, opts.GenericPoints, opts.GenericTimeLimit)}
}

// BulletLines returns the description lines that start with a bullet marker,
// with the marker and surrounding space stripped. Lines left empty after
// stripping are skipped.
func BulletLines(description string) []string {
	var out []string
	for _, raw := range strings.Split(description, "\n") {
		line := strings.TrimSpace(raw)
		for _, m := range bulletMarkers {
			if strings.HasPrefix(line, m) {
				title := strings.TrimSpace(strings.TrimPrefix(line, m))
				if title != "" {
					out = append(out, title)
				}
				break
			}
		}
	}
	return out
}

func newTask(item domain.LineItem, ordinal int, title, description string, points, limit int) domain.WorkTask {
	return domain.WorkTask{
		ID:                uuid.NewSHA1(taskNamespace, []byte(item.ID+"|"+strconv.Itoa(ordinal))).String(),
		SourceLineItemID:  item.ID,
		Title:             title,
		Description:       description,
		Quantity:          item.Quantity,
		UnitRate:          item.UnitRate,
		TaxPercent:        item.TaxPercent,
		Points:            points,
		TimeLimitMinutes:  limit,
		AssignedWorkerIDs: []string{},
		Status:            domain.TaskPending,
	}
}
