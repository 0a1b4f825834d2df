// Package migrations holds the SQLite schema for the entity snapshot store.
//
// Importing it for side effects points the database package at these files:
//
//	import _ "github.com/LukasTr1980/iobroker-influxdb3/migrations"
package migrations

import (
	"embed"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/database"
)

//go:embed *.up.sql
var schema embed.FS

func init() {
	database.MigrationsFS = schema
	database.MigrationsDir = "."
}
