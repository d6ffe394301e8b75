package types

// Process exit codes of the command line tools
const (
	ExitNormal             int = 0
	ExitErrored            int = 1
	ExitVerificationFailed int = 2
)
