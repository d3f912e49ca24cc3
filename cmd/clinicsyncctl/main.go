package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pilab-dev/clinic-sync/cmd/clinicsyncctl/cmd"
	"github.com/pilab-dev/clinic-sync/tracing"
)

func main() {
	tp, err := tracing.InitTracerProvider(context.Background(), "clinicsyncctl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize TracerProvider: %v\n", err)
		os.Exit(1)
	}
	code := cmd.Execute()
	if err := tp.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down TracerProvider: %v\n", err)
	}
	os.Exit(code)
}
