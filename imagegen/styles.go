package imagegen

import "strings"

// StyleBook resolves style names to prompt fragments, with an alias layer
// so short or localized names map onto canonical styles.
type StyleBook struct {
	styles  map[string]string
	aliases map[string]string
}

// NewStyleBook builds a StyleBook from config maps. Nil maps are allowed.
func NewStyleBook(styles, aliases map[string]string) *StyleBook {
	sb := &StyleBook{
		styles:  make(map[string]string, len(styles)),
		aliases: make(map[string]string, len(aliases)),
	}
	for k, v := range styles {
		sb.styles[strings.ToLower(k)] = v
	}
	for k, v := range aliases {
		sb.aliases[strings.ToLower(k)] = strings.ToLower(v)
	}
	return sb
}

// Resolve returns the prompt fragment for a style name, following one
// level of aliasing. Unknown names resolve to the empty fragment.
func (sb *StyleBook) Resolve(name string) (fragment string, ok bool) {
	if sb == nil || name == "" {
		return "", false
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, isAlias := sb.aliases[key]; isAlias {
		key = canonical
	}
	fragment, ok = sb.styles[key]
	return fragment, ok
}

// Names returns the canonical style names.
func (sb *StyleBook) Names() []string {
	names := make([]string, 0, len(sb.styles))
	for name := range sb.styles {
		names = append(names, name)
	}
	return names
}
