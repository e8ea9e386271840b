package taskgen

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obraflow/internal/domain"
)

func lineItem(id, title, desc string) domain.LineItem {
	return domain.LineItem{
		ID:          id,
		Title:       title,
		Description: desc,
		Quantity:    decimal.NewFromInt(3),
		UnitRate:    decimal.NewFromInt(15),
		TaxPercent:  decimal.NewFromInt(21),
	}
}

func paintingTemplate() domain.ServiceTemplate {
	return domain.ServiceTemplate{
		ID:    "tpl-paint",
		Title: "Interior painting",
		SubTasks: []domain.SubTaskTemplate{
			{Title: "Protect floors", Points: 1, TimeLimitMinutes: 20},
			{Title: "First coat", Points: 3, TimeLimitMinutes: 120},
			{Title: "Second coat", Points: 3, TimeLimitMinutes: 90},
		},
	}
}

func TestGenerateFromTemplateByTitle(t *testing.T) {
	items := []domain.LineItem{lineItem("li-1", "Interior painting", "- ignored bullet")}
	tasks := Generate(items, NewCatalog([]domain.ServiceTemplate{paintingTemplate()}), DefaultOptions())

	require.Len(t, tasks, 3)
	assert.Equal(t, "Protect floors", tasks[0].Title)
	assert.Equal(t, "First coat", tasks[1].Title)
	assert.Equal(t, 3, tasks[1].Points)
	assert.Equal(t, 120, tasks[1].TimeLimitMinutes)
	for i, task := range tasks {
		assert.Equal(t, i, task.Position)
		assert.Equal(t, "li-1", task.SourceLineItemID)
		assert.Equal(t, domain.TaskPending, task.Status)
		assert.Empty(t, task.AssignedWorkerIDs)
		assert.True(t, task.Quantity.Equal(decimal.NewFromInt(3)))
		assert.True(t, task.UnitRate.Equal(decimal.NewFromInt(15)))
	}
}

func TestGenerateFromTemplateByIDBeatsTitle(t *testing.T) {
	item := lineItem("li-1", "Paint living room", "")
	item.TemplateID = "tpl-paint"
	tasks := Generate([]domain.LineItem{item}, NewCatalog([]domain.ServiceTemplate{paintingTemplate()}), DefaultOptions())
	require.Len(t, tasks, 3)
	assert.Equal(t, "Second coat", tasks[2].Title)
}

func TestGenerateTemplateWithoutSubTasksFallsThrough(t *testing.T) {
	tpl := domain.ServiceTemplate{ID: "tpl-empty", Title: "Cleanup"}
	items := []domain.LineItem{lineItem("li-1", "Cleanup", "• Sweep\n• Bag debris")}
	tasks := Generate(items, NewCatalog([]domain.ServiceTemplate{tpl}), DefaultOptions())
	require.Len(t, tasks, 2)
	assert.Equal(t, "Sweep", tasks[0].Title)
	assert.Equal(t, "Bag debris", tasks[1].Title)
	assert.Equal(t, 1, tasks[0].Points)
	assert.Equal(t, 30, tasks[0].TimeLimitMinutes)
}

func TestGenerateFromBullets(t *testing.T) {
	desc := "Scope:\n  - Sand doors\n* Fill cracks\nnot a bullet\n   •   Prime  \n-\n"
	tasks := Generate([]domain.LineItem{lineItem("li-1", "Doors", desc)}, NewCatalog(nil), DefaultOptions())
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"Sand doors", "Fill cracks", "Prime"}, []string{tasks[0].Title, tasks[1].Title, tasks[2].Title})
}

func TestGenerateGenericFallback(t *testing.T) {
	tasks := Generate([]domain.LineItem{lineItem("li-9", "Facade wash", "Pressure wash the front")}, NewCatalog(nil), DefaultOptions())
	require.Len(t, tasks, 1)
	assert.Equal(t, "Facade wash", tasks[0].Title)
	assert.Equal(t, "Pressure wash the front", tasks[0].Description)
	assert.Equal(t, 1, tasks[0].Points)
	assert.Equal(t, 60, tasks[0].TimeLimitMinutes)
}

func TestGeneratePreservesItemOrder(t *testing.T) {
	items := []domain.LineItem{
		lineItem("li-1", "Facade wash", ""),
		lineItem("li-2", "Interior painting", ""),
		lineItem("li-3", "Doors", "- Sand\n- Lacquer"),
	}
	tasks := Generate(items, NewCatalog([]domain.ServiceTemplate{paintingTemplate()}), DefaultOptions())
	var sources []string
	for _, task := range tasks {
		sources = append(sources, task.SourceLineItemID)
	}
	assert.Equal(t, []string{"li-1", "li-2", "li-2", "li-2", "li-3", "li-3"}, sources)
}

func TestGenerateIsDeterministic(t *testing.T) {
	items := []domain.LineItem{
		lineItem("li-1", "Interior painting", ""),
		lineItem("li-2", "Doors", "- Sand\n- Lacquer"),
		lineItem("li-3", "Facade wash", ""),
	}
	catalog := NewCatalog([]domain.ServiceTemplate{paintingTemplate()})
	first, err := json.Marshal(Generate(items, catalog, DefaultOptions()))
	require.NoError(t, err)
	second, err := json.Marshal(Generate(items, catalog, DefaultOptions()))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestGenerateUsesOptions(t *testing.T) {
	opts := Options{BulletPoints: 2, BulletTimeLimitMinutes: 45, GenericPoints: 5, GenericTimeLimit: 90}
	tasks := Generate([]domain.LineItem{
		lineItem("li-1", "Doors", "- Sand"),
		lineItem("li-2", "Wash", ""),
	}, NewCatalog(nil), opts)
	require.Len(t, tasks, 2)
	assert.Equal(t, 2, tasks[0].Points)
	assert.Equal(t, 45, tasks[0].TimeLimitMinutes)
	assert.Equal(t, 5, tasks[1].Points)
	assert.Equal(t, 90, tasks[1].TimeLimitMinutes)
}
