package types

// GlobalFlags holds the persistent command-line flags
type GlobalFlags struct {
	Profile      string
	DriveID      string
	OutputFormat OutputFormat
	Quiet        bool
	Verbose      bool
	Debug        bool
	Config       string
	LogFile      string
	JSON         bool
}
