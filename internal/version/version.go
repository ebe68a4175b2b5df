package version

// Version is the huddle release, set at build time with:
//   go build -ldflags="-X 'github.com/BioHazard786/huddle/internal/version.Version=v0.1.0'"
var Version = "dev"
