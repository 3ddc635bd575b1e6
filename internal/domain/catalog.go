package domain

// LocalizedRoute is a storefront route, either named (Name + Params) or
// addressed by its full url path.
type LocalizedRoute struct {
	Name      string            `json:"name,omitempty"`
	Path      string            `json:"path,omitempty"`
	FullPath  string            `json:"full_path,omitempty"`
	Component string            `json:"component,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

func (r LocalizedRoute) Clone() LocalizedRoute {
	if r.Params != nil {
		params := make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			params[k] = v
		}
		r.Params = params
	}
	return r
}

type Category struct {
	URLPath string `json:"url_path"`
	Slug    string `json:"slug"`
}

type Product struct {
	SKU                  string       `json:"sku"`
	ParentSKU            string       `json:"parent_sku,omitempty"`
	URLPath              string       `json:"url_path,omitempty"`
	TypeID               string       `json:"type_id"`
	Slug                 string       `json:"slug"`
	Options              []ItemOption `json:"options,omitempty"`
	ConfigurableChildren []Product    `json:"configurable_children,omitempty"`
}
