package main

import (
	"log/slog"
	"net/http"

	"github.com/stupiduntilnot/personarelay/internal/app"
	"github.com/stupiduntilnot/personarelay/internal/server"
)

func newHandler(rt *app.Runtime, logger *slog.Logger) http.Handler {
	return server.New(server.Options{
		Relay:           rt.Relay,
		RestrictMethods: true,
		AllowMethods:    server.MethodsFunction,
		Logger:          logger,
	})
}
