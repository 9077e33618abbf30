package main

// General API documentation for swaggo. Run `swag init -g cmd/vramd/docs.go`
// to generate docs, and build with -tags=swagger to serve them.
//
// @title           vramd API
// @version         1.0
// @description     Model residency, weight downloads, accelerator telemetry and work-queue routing.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
