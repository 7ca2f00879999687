package main

import (
	"fmt"
	"os"

	"github.com/anaparv/anaparv-pep-project/internal/metrics"
	"github.com/anaparv/anaparv-pep-project/pkg/store"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/app"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/openapi"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/server"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}

	doc, err := openapi.Load(os.Args[1])
	if err != nil {
		exitErr(err)
	}

	// Routes do not depend on the backend, so an in-memory app is enough to build them.
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Metrics: metrics.New()})
	if err != nil {
		exitErr(err)
	}
	srv := server.New(server.Config{App: a})

	if err := openapi.CheckRoutes(doc, srv.Routes()); err != nil {
		exitErr(err)
	}
	if err := openapi.CheckSchemas(doc); err != nil {
		exitErr(err)
	}

	fmt.Println("OpenAPI consistency check passed.")
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
