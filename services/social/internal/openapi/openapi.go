// Package openapi keeps the published API document honest: every route the
// server registers must be documented, nothing undocumented may be served,
// and the wire schemas must carry the same fields as the domain types.
package openapi

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/anaparv/anaparv-pep-project/pkg/domain"
)

// Doc is the subset of an OpenAPI 3 document the checks read.
type Doc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]Schema `yaml:"schemas"`
	} `yaml:"components"`
}

// Schema is a JSON schema object as written in components.schemas.
type Schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]Schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *Schema           `yaml:"items"`
}

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// Load reads and parses an OpenAPI document from disk.
func Load(path string) (Doc, error) {
	var doc Doc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Operations lists the documented "METHOD path" pairs, sorted.
func (d Doc) Operations() []string {
	out := make([]string, 0, len(d.Paths))
	for path, item := range d.Paths {
		for key := range item {
			if httpMethods[strings.ToLower(key)] {
				out = append(out, strings.ToUpper(key)+" "+path)
			}
		}
	}
	sort.Strings(out)
	return out
}

// RouteOperations lists the "METHOD path" pairs registered on a chi router, sorted.
func RouteOperations(routes chi.Routes) ([]string, error) {
	var out []string
	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if len(route) > 1 {
			route = strings.TrimSuffix(route, "/")
		}
		out = append(out, strings.ToUpper(method)+" "+route)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// CheckRoutes reports operations served but not documented, and the reverse.
func CheckRoutes(doc Doc, routes chi.Routes) error {
	served, err := RouteOperations(routes)
	if err != nil {
		return fmt.Errorf("walk routes: %w", err)
	}
	documented := makeSet(doc.Operations())
	registered := makeSet(served)

	var errs []error
	for _, op := range served {
		if !documented[op] {
			errs = append(errs, fmt.Errorf("route %s is not documented", op))
		}
	}
	for _, op := range doc.Operations() {
		if !registered[op] {
			errs = append(errs, fmt.Errorf("documented operation %s is not served", op))
		}
	}
	return errors.Join(errs...)
}

// CheckSchemas compares the documented wire schemas with the domain types.
func CheckSchemas(doc Doc) error {
	var errs []error
	for name, model := range map[string]any{
		"Account": domain.Account{},
		"Message": domain.Message{},
	} {
		s, ok := doc.Components.Schemas[name]
		if !ok {
			errs = append(errs, fmt.Errorf("schema %q missing", name))
			continue
		}
		if err := matchFields(name, s, jsonFields(model)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := validateErrorResponse(doc); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateErrorResponse(doc Doc) error {
	s, ok := doc.Components.Schemas["ErrorResponse"]
	if !ok {
		return errors.New(`schema "ErrorResponse" missing`)
	}
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["error"] {
		return errors.New(`ErrorResponse.required must include "error"`)
	}
	if prop, ok := s.Properties["error"]; !ok || prop.Type != "string" {
		return errors.New("ErrorResponse.error must be string")
	}
	return nil
}

func matchFields(name string, s Schema, fields map[string]string) error {
	if s.Type != "object" {
		return fmt.Errorf("%s must be object", name)
	}
	var errs []error
	for field, typ := range fields {
		prop, ok := s.Properties[field]
		if !ok {
			errs = append(errs, fmt.Errorf("%s.%s is not documented", name, field))
			continue
		}
		if prop.Type != typ {
			errs = append(errs, fmt.Errorf("%s.%s type %q, want %q", name, field, prop.Type, typ))
		}
	}
	for field := range s.Properties {
		if _, ok := fields[field]; !ok {
			errs = append(errs, fmt.Errorf("%s.%s is documented but never encoded", name, field))
		}
	}
	return errors.Join(errs...)
}

// jsonFields maps the JSON names of a struct's fields to their schema type.
func jsonFields(v any) map[string]string {
	t := reflect.TypeOf(v)
	out := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		out[name] = schemaType(f.Type.Kind())
	}
	return out
}

func schemaType(k reflect.Kind) string {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.String:
		return "string"
	default:
		return "object"
	}
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}
