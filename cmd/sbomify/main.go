package main

import (
	"github.com/sbomify/sbomify/internal/server"
	"go.uber.org/fx"
)

func main() {
	fx.New(server.Module).Run()
}
