package runtime

import (
	"fmt"

	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
)

// ExplainEndpointJSON describes the endpoint's component and options. Without
// includeAll only the options present on the uri are listed. Properties keep
// the component's declared order.
func ExplainEndpointJSON(ep Endpoint, includeAll bool) (string, error) {
	hb, ok := ep.(hasEndpointBase)
	if !ok || hb.base().component == nil {
		return "", fmt.Errorf("endpoint %s has no component schema", ep.URI())
	}
	base := hb.base()
	comp := base.component

	header := jsoncodec.NewOrderedObject().
		Set("kind", "component").
		Set("scheme", comp.scheme).
		Set("syntax", comp.syntax).
		Set("title", comp.title).
		Set("description", comp.description)

	props := jsoncodec.NewOrderedObject()
	for _, opt := range comp.options {
		value, set := optionValue(base.uri, opt)
		if !set && !includeAll {
			continue
		}
		entry := jsoncodec.NewOrderedObject().
			Set("kind", opt.Kind).
			Set("group", opt.Group).
			Set("type", opt.Type).
			Set("javaType", opt.JavaType).
			Set("deprecated", opt.Deprecated).
			Set("secret", opt.Secret)
		switch {
		case set && opt.Secret:
			entry.Set("value", "xxxxxx")
		case set:
			entry.Set("value", value)
		case opt.DefaultValue != nil:
			entry.Set("defaultValue", opt.DefaultValue)
		}
		entry.Set("description", opt.Description)
		props.Set(opt.Name, entry)
	}

	out := jsoncodec.NewOrderedObject().Set("component", header).Set("properties", props)
	b, err := jsoncodec.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// optionValue returns the configured value of opt. Path options read the
// uri path.
func optionValue(uri endpointURI, opt OptionSchema) (string, bool) {
	if opt.Kind == "path" {
		return uri.Path, uri.Path != ""
	}
	return uri.option(opt.Name)
}
