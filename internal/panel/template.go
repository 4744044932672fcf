package panel

// Template is a Factory assembled from plain values. Modules use it for
// kinds whose behaviour is fully described by a title and a fetch.
type Template struct {
	Type      Kind
	System    string
	Refresh   Strategy
	Priority  int
	TitleFunc func(source string, params map[string]string) string
	Fetch     func(e Element) FetchFunc
}

func (t *Template) Kind() Kind           { return t.Type }
func (t *Template) Subsystem() string    { return t.System }
func (t *Template) Strategy() Strategy   { return t.Refresh }
func (t *Template) DefaultPriority() int { return t.Priority }

func (t *Template) Title(source string, params map[string]string) string {
	if t.TitleFunc == nil {
		if source == "" {
			return string(t.Type)
		}
		return source
	}
	return t.TitleFunc(source, params)
}

func (t *Template) Prepare(e Element) FetchFunc { return t.Fetch(e) }
