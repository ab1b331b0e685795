package cmd

import (
	"fmt"
	"io"

	"github.com/Azure/container-bootstrap/pkg/pipeline"
	"github.com/Azure/container-bootstrap/pkg/startup"
)

var stepHints = map[string][]string{
	startup.StepPrestartHook: {
		"prestart.sh is sourced with sh; bash-only syntax fails here",
		"Its stdout is sent to stderr so that exported variables can be captured",
	},
	startup.StepDatabase: {
		"Check DATABASE_URL or the PGHOST/PGPORT/PGUSER/PGPASSWORD variables",
		"Raise database.timeout or BOOTSTRAP_DB_TIMEOUT if the database starts slowly",
	},
	startup.StepMigrate: {
		"The migration output above shows which migration failed",
		"The server was not started; fix the migration and restart the container",
	},
	startup.StepCollectStatic: {
		"Check STATIC_ROOT in the application settings and that it is writable",
	},
	startup.StepCommand: {
		"The server command was not found on PATH inside the container",
		"Check the image's CMD and that the server package is installed",
	},
}

// printFailureHelp displays troubleshooting guidance for known step failures.
func printFailureHelp(w io.Writer, err error) {
	step, ok := pipeline.FailedStep(err)
	if !ok {
		return
	}
	hints, ok := stepHints[step]
	if !ok {
		return
	}
	fmt.Fprintf(w, "\n🔧 Troubleshooting the %s step:\n", step)
	for _, h := range hints {
		fmt.Fprintf(w, "   • %s\n", h)
	}
	fmt.Fprintln(w)
}
