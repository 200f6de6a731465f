package types

// Version is the build version, overridden by -ldflags at release time
var Version = "dev"
