package tools

import "ctxpilot/internal/panel"

// ShowPanel makes sure the module's singleton panel of kind exists and is
// refetched. Modules whose panel renders their own state call it after
// every change.
func ShowPanel(host Host, module string, kind panel.Kind) (panel.ID, error) {
	for _, e := range host.Panels() {
		if e.Kind == kind && e.Module == module {
			if !e.Visible {
				if err := host.SetPanelVisible(e.ID, true); err != nil {
					return "", err
				}
			}
			return e.ID, host.RefreshPanel(e.ID)
		}
	}
	return host.OpenPanel(module, kind, "", nil)
}
