// Package openapi documents problem+json responses in OpenAPI documents and
// serves a merged, annotated document.
package openapi

import (
	"errors"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/theroutercompany/problemdetails/pkg/problem"
)

const (
	problemSchemaName = "Problem"
	problemSchemaRef  = "#/components/schemas/" + problemSchemaName

	exampleTitle  = "User facing error message."
	exampleDetail = "Additional error context."
)

// Named pairs a problem kind with the component schema name it is published under.
type Named struct {
	Name string
	Kind problem.Kind
}

// Generator adds problem schemas and default error responses to a document.
type Generator struct {
	// Problems are published as component schemas next to the generic Problem schema.
	Problems []Named
	// DocumentationURITemplate and Strict shape the example bodies the same
	// way the exception handler renders real responses.
	DocumentationURITemplate string
	Strict                   bool
	// GenericDefaults adds 4XX and 5XX problem responses to every operation.
	GenericDefaults bool
}

// Annotate mutates doc in place.
func (g Generator) Annotate(doc *openapi3.T) error {
	if doc == nil {
		return errors.New("openapi document is nil")
	}
	if doc.Components == nil {
		components := openapi3.NewComponents()
		doc.Components = &components
	}
	if doc.Components.Schemas == nil {
		doc.Components.Schemas = make(openapi3.Schemas, len(g.Problems)+1)
	}

	doc.Components.Schemas[problemSchemaName] = problemSchema(problemSchemaName).NewRef()
	for _, named := range g.Problems {
		if named.Name == "" {
			continue
		}
		schema := problemSchema(named.Name)
		schema.Example = named.Kind.New("").Marshal(g.DocumentationURITemplate, g.Strict)
		doc.Components.Schemas[named.Name] = schema.NewRef()
	}

	if !g.GenericDefaults || doc.Paths == nil {
		return nil
	}

	clientError := problem.New(exampleTitle, http.StatusBadRequest, exampleDetail, problem.WithType("client-error-type"))
	serverError := problem.New(exampleTitle, http.StatusInternalServerError, exampleDetail, problem.WithType("server-error-type"))

	for _, item := range doc.Paths.Map() {
		if item == nil {
			continue
		}
		for _, op := range item.Operations() {
			if op.Responses == nil {
				op.Responses = openapi3.NewResponsesWithCapacity(2)
			}
			op.Responses.Set("4XX", g.problemResponse("Client Error", clientError))
			op.Responses.Set("5XX", g.problemResponse("Server Error", serverError))
		}
	}
	return nil
}

func (g Generator) problemResponse(description string, example *problem.Problem) *openapi3.ResponseRef {
	resp := openapi3.NewResponse().
		WithDescription(description).
		WithContent(openapi3.Content{
			problem.ContentType: &openapi3.MediaType{
				Schema:  openapi3.NewSchemaRef(problemSchemaRef, nil),
				Example: example.Marshal(g.DocumentationURITemplate, g.Strict),
			},
		})
	return &openapi3.ResponseRef{Value: resp}
}

func problemSchema(title string) *openapi3.Schema {
	typ := openapi3.NewStringSchema()
	typ.Title = "Problem type"

	name := openapi3.NewStringSchema()
	name.Title = "Problem title"

	status := openapi3.NewIntegerSchema()
	status.Title = "Status code"

	detail := &openapi3.Schema{
		Title: "Problem detail",
		AnyOf: openapi3.SchemaRefs{
			openapi3.NewStringSchema().NewRef(),
			{Value: &openapi3.Schema{Type: &openapi3.Types{"null"}}},
		},
	}

	schema := openapi3.NewObjectSchema()
	schema.Title = title
	schema.Properties = openapi3.Schemas{
		"type":   typ.NewRef(),
		"title":  name.NewRef(),
		"status": status.NewRef(),
		"detail": detail.NewRef(),
	}
	schema.Required = []string{"type", "title", "status"}
	return schema
}
