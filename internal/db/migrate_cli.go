package db

import (
	"fmt"
	"io"
	"strconv"
)

// MigrateUsage describes the migrate subcommand.
const MigrateUsage = `Usage: laptimer migrate <action> [version]

Actions:
  up                apply all pending migrations
  down              roll back the most recent migration
  status            show the current version and dirty state
  version <n>       migrate up or down to version n
  force <n>         record version n without running migrations (recovery only)
`

// RunMigrateCommand runs a migrate subcommand against the database at dbPath
// and reports to w.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 || args[0] == "help" {
		fmt.Fprint(w, MigrateUsage)
		if len(args) < 1 {
			return fmt.Errorf("missing migrate action")
		}
		return nil
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	migrations := migrationsFS()

	versionArg := func() (int, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("usage: laptimer migrate %s <version_number>", args[0])
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid version number %q", args[1])
		}
		return v, nil
	}

	switch args[0] {
	case "up":
		err = database.MigrateUp(migrations)
	case "down":
		err = database.MigrateDown(migrations)
	case "version":
		var v int
		if v, err = versionArg(); err == nil {
			err = database.MigrateTo(migrations, uint(v))
		}
	case "force":
		var v int
		if v, err = versionArg(); err == nil {
			err = database.MigrateForce(migrations, v)
		}
	case "status":
	default:
		fmt.Fprint(w, MigrateUsage)
		return fmt.Errorf("unknown migrate action %q", args[0])
	}
	if err != nil {
		return err
	}

	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(w, "WARNING: a migration failed mid-execution; inspect the database and run: laptimer migrate force <version>")
	}
	return nil
}
