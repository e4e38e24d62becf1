package openapi

import (
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// mergeDocuments folds docs[1:] into docs[0]. Duplicate paths or component
// names are rejected; tags and servers are de-duplicated.
func mergeDocuments(docs []*openapi3.T) (*openapi3.T, error) {
	if len(docs) == 0 {
		return nil, errors.New("no openapi documents to merge")
	}

	base := docs[0]
	if base.Paths == nil {
		base.Paths = openapi3.NewPaths()
	}
	if base.Components == nil {
		components := openapi3.NewComponents()
		base.Components = &components
	}

	for _, doc := range docs[1:] {
		if doc.Paths != nil {
			for path, item := range doc.Paths.Map() {
				if base.Paths.Value(path) != nil {
					return nil, fmt.Errorf("duplicate path detected: %s", path)
				}
				base.Paths.Set(path, item)
			}
		}
		if err := mergeComponents(base.Components, doc.Components); err != nil {
			return nil, err
		}
		base.Tags = mergeUnique(base.Tags, doc.Tags, func(t *openapi3.Tag) string { return t.Name })
		base.Servers = mergeUnique(base.Servers, doc.Servers, func(s *openapi3.Server) string { return s.URL })
		base.Security = append(base.Security, doc.Security...)
	}

	return base, nil
}

func mergeComponents(dst, src *openapi3.Components) error {
	if src == nil {
		return nil
	}
	return errors.Join(
		mergeComponentMap(&dst.Schemas, src.Schemas, "schema"),
		mergeComponentMap(&dst.Parameters, src.Parameters, "parameter"),
		mergeComponentMap(&dst.Headers, src.Headers, "header"),
		mergeComponentMap(&dst.RequestBodies, src.RequestBodies, "request body"),
		mergeComponentMap(&dst.Responses, src.Responses, "response"),
		mergeComponentMap(&dst.Examples, src.Examples, "example"),
		mergeComponentMap(&dst.SecuritySchemes, src.SecuritySchemes, "security scheme"),
		mergeComponentMap(&dst.Links, src.Links, "link"),
		mergeComponentMap(&dst.Callbacks, src.Callbacks, "callback"),
	)
}

func mergeComponentMap[M ~map[string]V, V any](dst *M, src M, label string) error {
	if len(src) == 0 {
		return nil
	}
	if *dst == nil {
		*dst = make(M, len(src))
	}
	for key, value := range src {
		if _, exists := (*dst)[key]; exists {
			return fmt.Errorf("duplicate %s detected: %s", label, key)
		}
		(*dst)[key] = value
	}
	return nil
}

func mergeUnique[S ~[]*E, E any](dst, src S, key func(*E) string) S {
	seen := make(map[string]struct{}, len(dst))
	for _, item := range dst {
		if item != nil {
			seen[key(item)] = struct{}{}
		}
	}
	for _, item := range src {
		if item == nil {
			continue
		}
		if _, ok := seen[key(item)]; ok {
			continue
		}
		dst = append(dst, item)
		seen[key(item)] = struct{}{}
	}
	return dst
}
