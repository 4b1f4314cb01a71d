// Package commands implements the obrasync command line
package commands

import "github.com/urfave/cli/v2"

// All returns every top-level command
func All() []*cli.Command {
	return []*cli.Command{
		InitCommand(),
		MigrateCommand(),
		LoginCommand(),
		LogoutCommand(),
		AccountCommand(),
		EnqueueCommand(),
		QueueCommand(),
		StatusCommand(),
		PhotoCommand(),
		SyncCommand(),
		WatchCommand(),
		LogsCommand(),
		RecordsCommand(),
	}
}

// NeedsApp reports whether a command runs against an initialized application
func NeedsApp(name string) bool {
	switch name {
	case "", "init", "help", "h":
		return false
	}
	return true
}
