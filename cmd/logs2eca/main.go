// Command logs2eca watches a single log file and runs a configured shell
// command whenever a new line matches the event pattern. Configuration is
// layered from a YAML file, LOGS2ECA_* environment variables, and command
// line flags, most specific last. The daemon reopens the log file on SIGHUP
// and shuts down cleanly on SIGINT or SIGTERM.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var RootCommand = &cobra.Command{
	Use:     "logs2eca",
	Version: version,
	Short:   "run a command when a log file line matches a pattern",
	Long: `logs2eca follows a log file the way "tail -f" does and executes a shell
command whenever a freshly appended line matches the configured event
pattern. It survives log rotation, waits out a quiescence period after
each command, and ignores its own log output.

A pattern wrapped in '/', '|' or '%' is compiled as a regular expression;
any other pattern matches literally, on whole words unless
--arbitrary-substring-match is given. Word boundaries are literal spaces.

Every flag can also be supplied through an environment variable
(LOGS2ECA_LOG_FILE, LOGS2ECA_EVENT_PATTERN, LOGS2ECA_COMMAND, LOGS2ECA_WAIT,
LOGS2ECA_ARBITRARY_MATCH, LOGS2ECA_LOG_LEVEL, LOGS2ECA_HEALTH_ADDR,
LOGS2ECA_HISTORY_DB, LOGS2ECA_CONFIG), which suits per-instance systemd
units. Flags take precedence over the environment, which takes precedence
over the YAML configuration file.

Send SIGHUP to make the daemon reopen the log file after a rotation.`,
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd)
	},
}

var (
	paramConfig     string
	paramLogFile    string
	paramPattern    string
	paramCommand    string
	paramWait       int
	paramArbitrary  bool
	paramLogLevel   string
	paramHealthAddr string
	paramHistoryDB  string
)

func init() {
	flags := RootCommand.Flags()
	flags.StringVar(&paramConfig, "config", "", "path to the YAML configuration file")
	flags.StringVarP(&paramLogFile, "logfile", "l", "", "path of the log file to watch")
	flags.StringVarP(&paramPattern, "pattern", "p", "", "event pattern; wrap in '/', '|' or '%' for a regular expression")
	flags.StringVarP(&paramCommand, "command", "c", "", "shell command to run when a line matches")
	flags.IntVarP(&paramWait, "wait", "w", 3, "seconds to wait after each command invocation")
	flags.BoolVarP(&paramArbitrary, "arbitrary-substring-match", "a", false, "match literal patterns anywhere in a line, not only on whole words")
	flags.StringVar(&paramLogLevel, "log-level", "info", "minimum log severity: debug, info, warn or error")
	flags.StringVar(&paramHealthAddr, "health-addr", "", "listen address for the local status HTTP server; empty disables it")
	flags.StringVar(&paramHistoryDB, "history-db", "", "path of the SQLite trigger history database; empty disables it")
}

func main() {
	if err := RootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
