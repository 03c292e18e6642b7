package observe

import (
	"mabletask/agent/classify"
	"mabletask/agent/models"
	"mabletask/agent/utils"
)

// Forms reports form_start on the first focus inside a form and form_submit
// on submission.
type Forms struct {
	emit  Emitter
	known map[string]models.FormDescriptor
}

// NewForms creates the form lifecycle observer.
func NewForms(emit Emitter) *Forms {
	return &Forms{emit: emit, known: make(map[string]models.FormDescriptor)}
}

func (f *Forms) Name() string { return "forms" }

// Attach records the forms present on the page.
func (f *Forms) Attach(page *Page) {
	for _, form := range page.Forms {
		f.known[form.Key()] = form
	}
}

// Handle reacts to focus and submit events.
func (f *Forms) Handle(ev models.HostEvent) {
	if ev.Form == nil {
		return
	}
	switch ev.Kind {
	case models.KindFocus:
		form := f.resolve(*ev.Form)
		f.emit.Emit("form_start", models.SourceDOMObserver, formData(form), "form_start:"+form.Key())
	case models.KindSubmit:
		form := f.resolve(*ev.Form)
		f.emit.Emit("form_submit", models.SourceDOMObserver, formData(form), "form_submit:"+form.Key())
	}
}

// resolve fills in fields from the snapshot when the event carried none.
func (f *Forms) resolve(form models.FormDescriptor) models.FormDescriptor {
	if len(form.Fields) > 0 {
		return form
	}
	if known, ok := f.known[form.Key()]; ok {
		return known
	}
	return form
}

func formData(form models.FormDescriptor) map[string]any {
	return map[string]any{
		"form_id":     utils.Truncate(form.ID, 100),
		"form_name":   utils.Truncate(form.Name, 100),
		"form_action": utils.Truncate(form.Action, 300),
		"form_type":   classify.FormType(form.Fields),
		"field_count": visibleFields(form.Fields),
	}
}

func visibleFields(fields []models.FormField) int {
	n := 0
	for _, f := range fields {
		if f.Type != "hidden" && f.Type != "submit" {
			n++
		}
	}
	return n
}
