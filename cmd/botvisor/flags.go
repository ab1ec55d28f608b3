package main

// AddFlags decouple cobra from the add logic for testing.
type AddFlags struct {
	Name    string
	Type    string
	Path    string
	Command string
}

type LogsFlags struct {
	Bytes int
}

type ListFlags struct {
	JSON bool
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

// LoginFlags select the credentials exchanged for a token.
type LoginFlags struct {
	ClientID     string
	ClientSecret string
}
